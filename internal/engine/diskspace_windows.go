//go:build windows

package engine

import (
	"fmt"
	"syscall"
	"unsafe"
)

// checkFreeSpace verifies the filesystem holding dir has at least minBytes
// free, via GetDiskFreeSpaceExW. Adapted from the teacher's
// diskspace_windows.go checkDiskSpace.
func checkFreeSpace(dir string, minBytes int64) error {
	if minBytes <= 0 {
		return nil
	}
	kernel32 := syscall.NewLazyDLL("kernel32.dll")
	getDiskFreeSpaceEx := kernel32.NewProc("GetDiskFreeSpaceExW")

	var freeBytes, totalBytes, availBytes uint64

	pathPtr, err := syscall.UTF16PtrFromString(dir)
	if err != nil {
		return fmt.Errorf("convert path: %w", err)
	}

	ret, _, callErr := getDiskFreeSpaceEx.Call(
		uintptr(unsafe.Pointer(pathPtr)),
		uintptr(unsafe.Pointer(&freeBytes)),
		uintptr(unsafe.Pointer(&totalBytes)),
		uintptr(unsafe.Pointer(&availBytes)),
	)
	if ret == 0 {
		return fmt.Errorf("check free space: %w", callErr)
	}
	if int64(freeBytes) < minBytes {
		return fmt.Errorf("insufficient disk space: need %d bytes, available %d bytes", minBytes, freeBytes)
	}
	return nil
}
