package engine

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
)

// merge concatenates every segment's temp file into outputPath in ascending
// index order, using a fixed-size streaming copy, then deletes each segment
// file and finally the cache directory. Merge does not check for
// cancellation mid-copy; once MERGING starts it runs to completion or
// failure.
func merge(segments []SegmentInfo, outputPath string, cacheDir string) error {
	ordered := make([]SegmentInfo, len(segments))
	copy(ordered, segments)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Index < ordered[j].Index })

	if dir := filepath.Dir(outputPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
	}

	out, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	defer func() { _ = out.Close() }()

	buf := make([]byte, streamBufferSize)
	for _, seg := range ordered {
		if err := appendSegment(out, seg.TempFilePath, buf); err != nil {
			return fmt.Errorf("merge segment %d: %w", seg.Index, err)
		}
	}

	for _, seg := range ordered {
		_ = os.Remove(seg.TempFilePath)
	}
	_ = os.Remove(cacheDir)

	return nil
}

func appendSegment(out *os.File, path string, buf []byte) error {
	in, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	_, err = io.CopyBuffer(out, in, buf)
	return err
}
