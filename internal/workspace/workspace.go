// Package workspace allocates and removes the per-job scratch directories
// that segment downloads and merges run in.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// WorkspaceError is returned when a job directory cannot be created,
// cleared or removed.
type WorkspaceError struct {
	Op   string
	Path string
	Err  error
}

func (e *WorkspaceError) Error() string {
	return fmt.Sprintf("workspace %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *WorkspaceError) Unwrap() error {
	return e.Err
}

// Manager owns a root directory and hands out one subdirectory per job.
type Manager struct {
	root         string
	minFreeSpace uint64 // bytes, 0 disables the check
	logger       *slog.Logger
}

// NewManager creates the root directory if needed.
func NewManager(root string, minFreeSpaceMB int, logger *slog.Logger) (*Manager, error) {
	if root == "" {
		return nil, fmt.Errorf("workspace root cannot be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace root: %w", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("failed to create workspace root: %w", err)
	}

	var minFree uint64
	if minFreeSpaceMB > 0 {
		minFree = uint64(minFreeSpaceMB) * 1024 * 1024
	}

	return &Manager{
		root:         abs,
		minFreeSpace: minFree,
		logger:       logger.With("component", "workspace"),
	}, nil
}

// Root returns the absolute root directory.
func (m *Manager) Root() string {
	return m.root
}

// Acquire creates a fresh, empty directory for jobID. A leftover directory
// from an earlier run with the same id is cleared first.
func (m *Manager) Acquire(jobID string) (string, error) {
	if err := validateJobID(jobID); err != nil {
		return "", &WorkspaceError{Op: "acquire", Path: jobID, Err: err}
	}

	if err := m.checkDiskSpace(); err != nil {
		return "", &WorkspaceError{Op: "acquire", Path: m.root, Err: err}
	}

	path := filepath.Join(m.root, jobID)

	if _, err := os.Lstat(path); err == nil {
		m.logger.Warn("clearing stale workspace", "path", path)
		if err := os.RemoveAll(path); err != nil {
			return "", &WorkspaceError{Op: "clear", Path: path, Err: err}
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", &WorkspaceError{Op: "stat", Path: path, Err: err}
	}

	if err := os.Mkdir(path, 0700); err != nil {
		return "", &WorkspaceError{Op: "create", Path: path, Err: err}
	}

	m.logger.Debug("workspace acquired", "job_id", jobID, "path", path)
	return path, nil
}

// Release removes the directory and everything below it. Releasing a
// directory that is already gone succeeds.
func (m *Manager) Release(path string) error {
	if !m.owns(path) {
		return &WorkspaceError{Op: "release", Path: path, Err: fmt.Errorf("path is outside %s", m.root)}
	}
	if err := os.RemoveAll(path); err != nil {
		return &WorkspaceError{Op: "release", Path: path, Err: err}
	}
	m.logger.Debug("workspace released", "path", path)
	return nil
}

// With acquires a workspace for jobID, runs fn inside it and releases it
// on every exit path. A release failure is logged and never replaces the
// error returned by fn.
func (m *Manager) With(ctx context.Context, jobID string, fn func(ctx context.Context, dir string) error) (err error) {
	dir, err := m.Acquire(jobID)
	if err != nil {
		return err
	}

	defer func() {
		if relErr := m.Release(dir); relErr != nil {
			m.logger.Error("failed to release workspace", "job_id", jobID, "error", relErr)
		}
	}()

	return fn(ctx, dir)
}

// owns reports whether path is a direct child of the root.
func (m *Manager) owns(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	return filepath.Dir(abs) == m.root && abs != m.root
}

func validateJobID(jobID string) error {
	switch {
	case jobID == "":
		return errors.New("job id cannot be empty")
	case jobID == "." || jobID == "..":
		return fmt.Errorf("invalid job id %q", jobID)
	case strings.ContainsAny(jobID, `/\`):
		return fmt.Errorf("job id %q contains a path separator", jobID)
	}
	return nil
}
