//go:build !unix && !windows

package workspace

// checkDiskSpace is a no-op on platforms without a free space query
func (m *Manager) checkDiskSpace() error {
	return nil
}
