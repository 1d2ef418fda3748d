package engine

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/justchokingaround/segfetch/internal/engine/m3u8"
)

const (
	maxPlaylistDepth  = 5
	rangedSegmentSize = 5 * 1024 * 1024 // 5 MiB
)

// cacheDirFor computes the segment cache directory next to outputPath:
// "<outputPath parent>/<outputPath file-name>_segments_<downloadId>/".
func cacheDirFor(outputPath string, id DownloadID) string {
	dir := filepath.Dir(outputPath)
	if dir == "" {
		dir = "."
	}
	name := filepath.Base(outputPath)
	return filepath.Join(dir, fmt.Sprintf("%s_segments_%s", name, id))
}

func segmentExtension(mt MediaType) string {
	if mt == MediaM3U8 {
		return ".ts"
	}
	return ".part"
}

// plan produces the ordered SegmentInfo list for a download. It runs inline
// on the caller's goroutine before a task is launched, so an INITIALIZING
// failure is recorded as FAILED (and emitted on the progress stream) before
// DownloadWithID returns; DownloadWithID itself still returns nil.
func plan(ctx context.Context, client *http.Client, headers map[string]string, rawURL string, mt MediaType, cacheDir string) ([]SegmentInfo, error) {
	if mt == MediaM3U8 {
		return planM3U8(ctx, client, headers, rawURL, cacheDir)
	}
	return planRanged(ctx, client, headers, rawURL, cacheDir, mt)
}

// planM3U8 resolves master->media playlists recursively (depth limit 5) and
// emits one SegmentInfo per media segment. Grounded on the resolution shape
// of itsmenewbie03-greg/internal/downloader/hls/hls.go's parsePlaylist plus
// selectBestStream: ties in bandwidth are broken by insertion order, which
// greg's first-max-wins scan already does without modification.
func planM3U8(ctx context.Context, client *http.Client, headers map[string]string, rawURL string, cacheDir string) ([]SegmentInfo, error) {
	pl, err := resolvePlaylist(ctx, client, headers, rawURL, 0)
	if err != nil {
		return nil, err
	}

	segments := make([]SegmentInfo, 0, len(pl.Segments))
	for i, seg := range pl.Segments {
		index := pl.MediaSequence + i
		byteSize := int64(-1)
		if seg.ByteRange != nil {
			byteSize = seg.ByteRange.Length
		}
		segments = append(segments, SegmentInfo{
			Index:        index,
			URL:          seg.URI,
			RangeStart:   -1,
			RangeEnd:     -1,
			ByteSize:     byteSize,
			TempFilePath: filepath.Join(cacheDir, fmt.Sprintf("%d.ts", index)),
		})
	}
	return segments, nil
}

func resolvePlaylist(ctx context.Context, client *http.Client, headers map[string]string, rawURL string, depth int) (*m3u8.Playlist, error) {
	if depth >= maxPlaylistDepth {
		return nil, fmt.Errorf("%w: depth limit %d exceeded at %s", errNoMediaList, maxPlaylistDepth, rawURL)
	}

	text, err := fetchText(ctx, client, headers, rawURL)
	if err != nil {
		return nil, fmt.Errorf("fetch playlist %s: %w", rawURL, err)
	}

	pl, err := m3u8.Parse(text, rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse playlist %s: %w", rawURL, err)
	}

	if pl.IsMaster {
		if len(pl.Variants) == 0 {
			return nil, fmt.Errorf("%w: empty master playlist at %s", errNoMediaList, rawURL)
		}
		best := pl.Variants[0]
		for _, v := range pl.Variants[1:] {
			if v.Bandwidth > best.Bandwidth {
				best = v
			}
		}
		return resolvePlaylist(ctx, client, headers, best.URI, depth+1)
	}

	if len(pl.Segments) == 0 {
		return nil, fmt.Errorf("%w: unresolvable media playlist at %s", errNoMediaList, rawURL)
	}
	return pl, nil
}

func fetchText(ctx context.Context, client *http.Client, headers map[string]string, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// planRanged probes range support with Range: bytes=0-0 and produces either
// a single segment or a sequence of 5 MiB segments.
func planRanged(ctx context.Context, client *http.Client, headers map[string]string, rawURL string, cacheDir string, mt MediaType) ([]SegmentInfo, error) {
	total, rangeSupported, probeErr := probeRange(ctx, client, headers, rawURL)
	ext := segmentExtension(mt)

	single := func(size int64) []SegmentInfo {
		return []SegmentInfo{{
			Index:        0,
			URL:          rawURL,
			RangeStart:   -1,
			RangeEnd:     -1,
			ByteSize:     size,
			TempFilePath: filepath.Join(cacheDir, "0"+ext),
		}}
	}

	if probeErr != nil {
		return single(-1), nil
	}
	if !rangeSupported {
		return single(total), nil
	}
	if total <= rangedSegmentSize {
		return []SegmentInfo{{
			Index:        0,
			URL:          rawURL,
			RangeStart:   0,
			RangeEnd:     total - 1,
			ByteSize:     total,
			TempFilePath: filepath.Join(cacheDir, "0"+ext),
		}}, nil
	}

	var segments []SegmentInfo
	var start int64
	idx := 0
	for start < total {
		end := start + rangedSegmentSize - 1
		if end > total-1 {
			end = total - 1
		}
		segments = append(segments, SegmentInfo{
			Index:        idx,
			URL:          rawURL,
			RangeStart:   start,
			RangeEnd:     end,
			ByteSize:     end - start + 1,
			TempFilePath: filepath.Join(cacheDir, fmt.Sprintf("%d%s", idx, ext)),
		})
		start = end + 1
		idx++
	}
	return segments, nil
}

// probeRange issues a single Range: bytes=0-0 GET to determine whether the
// server honors byte ranges and what the total content length is.
func probeRange(ctx context.Context, client *http.Client, headers map[string]string, rawURL string) (total int64, rangeSupported bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, false, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Range", "bytes=0-0")

	resp, err := client.Do(req)
	if err != nil {
		return 0, false, err
	}
	defer func() { _, _ = io.Copy(io.Discard, resp.Body); _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusPartialContent:
		cr := resp.Header.Get("Content-Range")
		t, ok := parseContentRangeTotal(cr)
		if !ok {
			return 0, false, fmt.Errorf("malformed Content-Range header: %q", cr)
		}
		return t, true, nil
	case http.StatusOK:
		length := int64(-1)
		if cl := resp.Header.Get("Content-Length"); cl != "" {
			if n, err := strconv.ParseInt(cl, 10, 64); err == nil {
				length = n
			}
		}
		return length, false, nil
	default:
		return 0, false, fmt.Errorf("unexpected probe status %d", resp.StatusCode)
	}
}

// parseContentRangeTotal extracts <total> from "bytes 0-0/<total>".
func parseContentRangeTotal(headerVal string) (int64, bool) {
	idx := strings.LastIndex(headerVal, "/")
	if idx < 0 || idx == len(headerVal)-1 {
		return 0, false
	}
	totalStr := headerVal[idx+1:]
	if totalStr == "*" {
		return 0, false
	}
	n, err := strconv.ParseInt(totalStr, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
