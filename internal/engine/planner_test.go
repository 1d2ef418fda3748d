package engine

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const masterPlaylist = `#EXTM3U
#EXT-X-STREAM-INF:BANDWIDTH=800000
low.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=3000000
high.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=1500000
mid.m3u8
`

const mediaPlaylist = `#EXTM3U
#EXT-X-MEDIA-SEQUENCE:0
#EXTINF:10.0,
seg0.ts
#EXTINF:10.0,
seg1.ts
#EXT-X-ENDLIST
`

func TestPlanM3U8SelectsHighestBandwidthVariant(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/master.m3u8", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, masterPlaylist)
	})
	mux.HandleFunc("/high.m3u8", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, mediaPlaylist)
	})
	mux.HandleFunc("/low.m3u8", func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("low-bandwidth variant should never be fetched")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	segments, err := planM3U8(context.Background(), srv.Client(), nil, srv.URL+"/master.m3u8", t.TempDir())
	require.NoError(t, err)
	require.Len(t, segments, 2)
	assert.Equal(t, 0, segments[0].Index)
	assert.True(t, segments[0].HasRange() == false)
}

func TestPlanM3U8EmptyMasterFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "#EXTM3U\n")
	}))
	defer srv.Close()

	_, err := planM3U8(context.Background(), srv.Client(), nil, srv.URL+"/empty.m3u8", t.TempDir())
	require.Error(t, err)
}

func TestPlanM3U8DepthLimitExceeded(t *testing.T) {
	mux := http.NewServeMux()
	for i := 0; i < 10; i++ {
		i := i
		mux.HandleFunc(fmt.Sprintf("/level%d.m3u8", i), func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprintf(w, "#EXTM3U\n#EXT-X-STREAM-INF:BANDWIDTH=1000\nlevel%d.m3u8\n", i+1)
		})
	}
	srv := httptest.NewServer(mux)
	defer srv.Close()

	_, err := planM3U8(context.Background(), srv.Client(), nil, srv.URL+"/level0.m3u8", t.TempDir())
	require.Error(t, err)
}

func TestPlanRangedLargeFileChunksAt5MiB(t *testing.T) {
	const total = 12 * 1024 * 1024
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes 0-0/%d", total))
		w.WriteHeader(http.StatusPartialContent)
	}))
	defer srv.Close()

	segments, err := planRanged(context.Background(), srv.Client(), nil, srv.URL, t.TempDir(), MediaMP4)
	require.NoError(t, err)
	require.Len(t, segments, 3)
	assert.True(t, segments[0].HasRange())
	assert.Equal(t, int64(0), segments[0].RangeStart)
	assert.Equal(t, int64(rangedSegmentSize-1), segments[0].RangeEnd)
	assert.Equal(t, int64(total-1), segments[2].RangeEnd)
}

func TestPlanRangedSmallFileSingleSegment(t *testing.T) {
	const total = 1024
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes 0-0/%d", total))
		w.WriteHeader(http.StatusPartialContent)
	}))
	defer srv.Close()

	segments, err := planRanged(context.Background(), srv.Client(), nil, srv.URL, t.TempDir(), MediaMKV)
	require.NoError(t, err)
	require.Len(t, segments, 1)
	assert.Equal(t, int64(total), segments[0].ByteSize)
}

func TestPlanRangedNoRangeSupportSingleSegment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "2048")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	segments, err := planRanged(context.Background(), srv.Client(), nil, srv.URL, t.TempDir(), MediaMP4)
	require.NoError(t, err)
	require.Len(t, segments, 1)
	assert.False(t, segments[0].HasRange())
	assert.Equal(t, int64(2048), segments[0].ByteSize)
}

func TestDetectMediaType(t *testing.T) {
	assert.Equal(t, MediaMP4, DetectMediaType("https://example.com/video.MP4"))
	assert.Equal(t, MediaMKV, DetectMediaType("https://example.com/video.mkv?token=1"))
	assert.Equal(t, MediaM3U8, DetectMediaType("https://example.com/playlist.m3u8"))
}
