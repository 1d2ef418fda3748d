package engine

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
)

// streamBufferSize is the fixed buffer used for every segment download and
// merge copy, so neither a full segment nor the merged output is ever held
// in memory at once. Matches the 32 KiB buffer convention used by both
// GoAnime's and greg's downloaders.
const streamBufferSize = 32 * 1024

// segmentDoneFunc is invoked under the store's mutation point after a
// segment finishes downloading; it is how fetchAll reports progress back to
// the engine without taking a direct dependency on it.
type segmentDoneFunc func(index int, bytesWritten int64) error

// fetchAll downloads every not-yet-downloaded segment under a counting
// semaphore of size maxConcurrent. It is a bounded-concurrency fan-out, not
// a fixed worker pool: spare permits mean idle goroutines waiting on a work
// queue never exist.
//
// fetchAll derives its own cancellable context from ctx; the first segment
// to fail cancels it, so every other in-flight segment fetch is cooperatively
// cancelled instead of running to completion. fetchAll returns the first
// error a segment reported (a failing segment reports before the peers it
// cancels), or ctx.Err() if no segment reported one. When the caller's own
// context ends the run, the returned error is usually a segment's error
// wrapping that cancellation.
func fetchAll(ctx context.Context, client *http.Client, headers map[string]string, segments []SegmentInfo, maxConcurrent int, onDone segmentDoneFunc) error {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sem := make(chan struct{}, maxConcurrent)
	var wg sync.WaitGroup
	var errOnce sync.Once
	var firstErr error

	fail := func(err error) {
		errOnce.Do(func() { firstErr = err })
		cancel()
	}

	for _, seg := range segments {
		if seg.IsDownloaded {
			continue
		}
		seg := seg

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			if firstErr != nil {
				return firstErr
			}
			return ctx.Err()
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			written, err := fetchSegment(ctx, client, headers, seg)
			if err != nil {
				fail(err)
				return
			}
			if err := onDone(seg.Index, written); err != nil {
				fail(err)
			}
		}()
	}

	wg.Wait()
	if firstErr != nil {
		return firstErr
	}
	return ctx.Err()
}

// fetchSegment performs one segment's HTTP GET and streams the body to its
// temp file, honoring a byte range when the segment carries one. Grounded
// on native_downloader.go's per-part goroutine: construct a ranged request,
// stream to an on-disk file, track bytes written.
func fetchSegment(ctx context.Context, client *http.Client, headers map[string]string, seg SegmentInfo) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, seg.URL, nil)
	if err != nil {
		return 0, fmt.Errorf("build request for segment %d: %w", seg.Index, err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if seg.HasRange() {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", seg.RangeStart, seg.RangeEnd))
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("fetch segment %d: %w", seg.Index, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return 0, fmt.Errorf("segment %d: unexpected status %d", seg.Index, resp.StatusCode)
	}

	if err := os.MkdirAll(filepath.Dir(seg.TempFilePath), 0o755); err != nil {
		return 0, fmt.Errorf("segment %d: create parent dir: %w", seg.Index, err)
	}

	out, err := os.Create(seg.TempFilePath)
	if err != nil {
		return 0, fmt.Errorf("segment %d: create temp file: %w", seg.Index, err)
	}
	defer func() { _ = out.Close() }()

	buf := make([]byte, streamBufferSize)
	written, err := io.CopyBuffer(out, resp.Body, buf)
	if err != nil {
		return 0, fmt.Errorf("segment %d: stream body: %w", seg.Index, err)
	}
	return written, nil
}
