//go:build unix

package workspace

import (
	"fmt"
	"syscall"
)

// checkDiskSpace checks that the workspace root has at least minFreeSpace bytes available
func (m *Manager) checkDiskSpace() error {
	if m.minFreeSpace == 0 {
		return nil
	}

	var stat syscall.Statfs_t
	if err := syscall.Statfs(m.root, &stat); err != nil {
		return fmt.Errorf("failed to get disk stats: %w", err)
	}

	// Available space in bytes
	available := uint64(stat.Bavail) * uint64(stat.Bsize)
	if available < m.minFreeSpace {
		return fmt.Errorf("insufficient disk space: need %d bytes, available %d bytes", m.minFreeSpace, available)
	}

	return nil
}
