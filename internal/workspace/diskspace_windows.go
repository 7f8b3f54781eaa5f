//go:build windows

package workspace

import (
	"fmt"
	"syscall"
	"unsafe"
)

// checkDiskSpace checks that the workspace root has at least minFreeSpace bytes available (Windows)
func (m *Manager) checkDiskSpace() error {
	if m.minFreeSpace == 0 {
		return nil
	}

	kernel32 := syscall.NewLazyDLL("kernel32.dll")
	getDiskFreeSpaceEx := kernel32.NewProc("GetDiskFreeSpaceExW")

	var freeBytes uint64
	var totalBytes uint64
	var availBytes uint64

	pathPtr, err := syscall.UTF16PtrFromString(m.root)
	if err != nil {
		return fmt.Errorf("failed to convert path: %w", err)
	}

	ret, _, err := getDiskFreeSpaceEx.Call(
		uintptr(unsafe.Pointer(pathPtr)),
		uintptr(unsafe.Pointer(&freeBytes)),
		uintptr(unsafe.Pointer(&totalBytes)),
		uintptr(unsafe.Pointer(&availBytes)),
	)
	if ret == 0 {
		return fmt.Errorf("failed to check disk space: %w", err)
	}

	if availBytes < m.minFreeSpace {
		return fmt.Errorf("insufficient disk space: need %d bytes, available %d bytes", m.minFreeSpace, availBytes)
	}

	return nil
}
