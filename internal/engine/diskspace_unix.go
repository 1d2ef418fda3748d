//go:build linux || darwin

package engine

import (
	"fmt"
	"syscall"
)

// checkFreeSpace verifies the filesystem holding dir has at least
// minBytes free. Adapted from the teacher's diskspace_linux.go
// checkDiskSpace, generalized from a fixed config-level minimum to the
// per-download DownloadOptions.MinFreeSpaceBytes.
func checkFreeSpace(dir string, minBytes int64) error {
	if minBytes <= 0 {
		return nil
	}
	var stat syscall.Statfs_t
	if err := syscall.Statfs(dir, &stat); err != nil {
		return fmt.Errorf("check free space: %w", err)
	}
	available := int64(stat.Bavail) * int64(stat.Bsize)
	if available < minBytes {
		return fmt.Errorf("insufficient disk space: need %d bytes, available %d bytes", minBytes, available)
	}
	return nil
}
