package engine

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu     sync.Mutex
	states []DownloadState
}

func (r *recordingSink) RecordTerminal(s DownloadState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *recordingSink) last() (DownloadState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.states) == 0 {
		return DownloadState{}, false
	}
	return r.states[len(r.states)-1], true
}

func waitForStatus(t *testing.T, e *Engine, id DownloadID, want DownloadStatus) DownloadState {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if s, ok := e.GetState(id); ok && s.Status == want {
			return s
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for status %s", want)
	return DownloadState{}
}

func TestEngineDownloadRangedFileToCompletion(t *testing.T) {
	const payload = "0123456789"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes 0-0/%d", len(payload)))
		if r.Header.Get("Range") == "bytes=0-0" {
			w.Header().Set("Content-Length", "1")
			w.WriteHeader(http.StatusPartialContent)
			_, _ = w.Write([]byte(payload[:1]))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(payload))
	}))
	defer srv.Close()

	sink := &recordingSink{}
	e := New(srv.Client(), nil, sink)
	defer e.Close()

	outputPath := filepath.Join(t.TempDir(), "out.mp4")
	id, err := e.Download(context.Background(), srv.URL+"/video.mp4", outputPath, DefaultDownloadOptions())
	require.NoError(t, err)

	waitForStatus(t, e, id, StatusCompleted)
	content, err := os.ReadFile(outputPath)
	require.NoError(t, err)
	assert.Equal(t, payload, string(content))

	last, ok := sink.last()
	require.True(t, ok)
	assert.Equal(t, StatusCompleted, last.Status)
}

func TestEngineDownloadWithIDIsIdempotent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("x"))
	}))
	defer srv.Close()

	e := New(srv.Client(), nil, nil)
	defer e.Close()

	id := DownloadID("fixed-id")
	outputPath := filepath.Join(t.TempDir(), "out.mp4")
	require.NoError(t, e.DownloadWithID(context.Background(), id, srv.URL+"/video.mp4", outputPath, DefaultDownloadOptions()))
	require.NoError(t, e.DownloadWithID(context.Background(), id, srv.URL+"/other.mp4", outputPath, DefaultDownloadOptions()))

	waitForStatus(t, e, id, StatusCompleted)
	state, _ := e.GetState(id)
	assert.Equal(t, srv.URL+"/video.mp4", state.URL, "second call with the same id must be a no-op")
}

func TestEnginePauseThenResume(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Range") == "bytes=0-0" {
			w.Header().Set("Content-Range", "bytes 0-0/4")
			w.WriteHeader(http.StatusPartialContent)
			_, _ = w.Write([]byte("d"))
			return
		}
		<-block
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("data"))
	}))
	defer srv.Close()

	e := New(srv.Client(), nil, nil)
	defer e.Close()

	outputPath := filepath.Join(t.TempDir(), "out.mp4")
	id, err := e.Download(context.Background(), srv.URL+"/video.mp4", outputPath, DefaultDownloadOptions())
	require.NoError(t, err)

	waitForStatus(t, e, id, StatusDownloading)
	assert.True(t, e.Pause(id))
	waitForStatus(t, e, id, StatusPaused)
	close(block)

	assert.True(t, e.Resume(id))
	waitForStatus(t, e, id, StatusCompleted)
}

func TestEngineCancelStopsActiveDownload(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Range") == "bytes=0-0" {
			w.Header().Set("Content-Range", "bytes 0-0/4")
			w.WriteHeader(http.StatusPartialContent)
			_, _ = w.Write([]byte("d"))
			return
		}
		<-block
	}))
	defer srv.Close()

	e := New(srv.Client(), nil, nil)
	defer e.Close()

	outputPath := filepath.Join(t.TempDir(), "out.mp4")
	id, err := e.Download(context.Background(), srv.URL+"/video.mp4", outputPath, DefaultDownloadOptions())
	require.NoError(t, err)

	waitForStatus(t, e, id, StatusDownloading)
	assert.True(t, e.Cancel(id))
	waitForStatus(t, e, id, StatusCanceled)
	close(block)
}

func TestEngineDownloadFailsOnUnresolvableM3U8(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "#EXTM3U\n")
	}))
	defer srv.Close()

	e := New(srv.Client(), nil, nil)
	defer e.Close()

	outputPath := filepath.Join(t.TempDir(), "out.ts")
	id, err := e.Download(context.Background(), srv.URL+"/playlist.m3u8", outputPath, DefaultDownloadOptions())
	require.NoError(t, err)

	state := waitForStatus(t, e, id, StatusFailed)
	require.NotNil(t, state.Error)
	assert.Equal(t, ErrCodeNoMediaList, state.Error.Code)
}

func TestEngineOperationsFailAfterClose(t *testing.T) {
	e := New(http.DefaultClient, nil, nil)
	e.Close()

	_, err := e.Download(context.Background(), "http://example.com/x.mp4", "/tmp/x.mp4", DefaultDownloadOptions())
	assert.ErrorIs(t, err, ErrClosed)
}
