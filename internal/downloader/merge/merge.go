// Package merge concatenates downloaded segments and remuxes them into the
// target container.
package merge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/justchokingaround/hlsgrab/internal/downloader/hls"
)

// ConcatFileName is the intermediate transport stream written next to the
// output before remuxing.
const ConcatFileName = "concat.ts"

// MergeError is returned for any failed merge step. Merges are not retried.
type MergeError struct {
	Stage string // concat, remux, verify
	Err   error
}

func (e *MergeError) Error() string {
	return fmt.Sprintf("merge failed during %s: %v", e.Stage, e.Err)
}

func (e *MergeError) Unwrap() error {
	return e.Err
}

// Artifact is the final media file handed back to the caller.
type Artifact struct {
	Path       string `json:"path"`
	Size       int64  `json:"size"`
	Segments   int    `json:"segments"`
	InputBytes int64  `json:"input_bytes"`
}

// Remuxer repackages a transport stream into another container.
type Remuxer interface {
	Remux(ctx context.Context, input, output string) error
}

// RemuxFunc adapts a function to the Remuxer interface.
type RemuxFunc func(ctx context.Context, input, output string) error

// Remux calls f(ctx, input, output).
func (f RemuxFunc) Remux(ctx context.Context, input, output string) error {
	return f(ctx, input, output)
}

// Config holds merge settings
type Config struct {
	// Timeout is the fixed part of the remux deadline.
	Timeout time.Duration
	// TimeoutPerMB is added for every MiB of concatenated input.
	TimeoutPerMB time.Duration
	// MinOutputRatio rejects outputs smaller than this fraction of the input.
	MinOutputRatio float64
}

// DefaultConfig returns the default merge settings
func DefaultConfig() Config {
	return Config{
		Timeout:        60 * time.Second,
		TimeoutPerMB:   time.Second,
		MinOutputRatio: 0.5,
	}
}

// Merger turns an ordered list of segment files into one artifact
type Merger struct {
	remuxer Remuxer
	cfg     Config
	logger  *slog.Logger
}

// NewMerger creates a merger
func NewMerger(remuxer Remuxer, cfg Config, logger *slog.Logger) *Merger {
	defaults := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.TimeoutPerMB < 0 {
		cfg.TimeoutPerMB = 0
	}
	if cfg.MinOutputRatio <= 0 || cfg.MinOutputRatio > 1 {
		cfg.MinOutputRatio = defaults.MinOutputRatio
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Merger{
		remuxer: remuxer,
		cfg:     cfg,
		logger:  logger.With("component", "merger"),
	}
}

// Timeout returns the remux deadline for inputBytes of concatenated data.
func (m *Merger) Timeout(inputBytes int64) time.Duration {
	mib := (inputBytes + (1<<20 - 1)) >> 20
	return m.cfg.Timeout + time.Duration(mib)*m.cfg.TimeoutPerMB
}

// Merge concatenates segments in the given order into a transport stream
// beside outputPath and remuxes it to outputPath. On success the
// intermediate stream and all segment files are removed, leaving only the
// artifact. On failure the partial output is removed.
func (m *Merger) Merge(ctx context.Context, segments []hls.RetrievedSegment, outputPath string) (*Artifact, error) {
	if len(segments) == 0 {
		return nil, &MergeError{Stage: "concat", Err: errors.New("no segments to merge")}
	}
	for i := 1; i < len(segments); i++ {
		if segments[i].Index <= segments[i-1].Index {
			return nil, &MergeError{Stage: "concat", Err: fmt.Errorf("segments out of order at position %d", i)}
		}
	}

	concatPath := filepath.Join(filepath.Dir(outputPath), ConcatFileName)
	defer func() {
		if err := os.Remove(concatPath); err != nil && !os.IsNotExist(err) {
			m.logger.Warn("failed to remove intermediate stream", "path", concatPath, "error", err)
		}
	}()

	inputBytes, err := concat(segments, concatPath)
	if err != nil {
		return nil, &MergeError{Stage: "concat", Err: err}
	}

	timeout := m.Timeout(inputBytes)
	m.logger.Debug("remuxing",
		"input", concatPath,
		"output", outputPath,
		"size", humanize.IBytes(uint64(inputBytes)),
		"timeout", timeout)

	remuxCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := m.remuxer.Remux(remuxCtx, concatPath, outputPath); err != nil {
		removeQuietly(outputPath)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(remuxCtx.Err(), context.DeadlineExceeded) {
			return nil, &MergeError{Stage: "remux", Err: fmt.Errorf("timed out after %s: %w", timeout, err)}
		}
		return nil, &MergeError{Stage: "remux", Err: err}
	}

	info, err := os.Stat(outputPath)
	if err != nil {
		return nil, &MergeError{Stage: "verify", Err: fmt.Errorf("output missing: %w", err)}
	}
	if info.IsDir() {
		return nil, &MergeError{Stage: "verify", Err: fmt.Errorf("output %s is a directory", outputPath)}
	}

	minSize := int64(float64(inputBytes) * m.cfg.MinOutputRatio)
	if info.Size() < minSize {
		removeQuietly(outputPath)
		return nil, &MergeError{Stage: "verify", Err: fmt.Errorf(
			"output is %s, below %s (%.0f%% of %s input)",
			humanize.IBytes(uint64(info.Size())),
			humanize.IBytes(uint64(minSize)),
			m.cfg.MinOutputRatio*100,
			humanize.IBytes(uint64(inputBytes)))}
	}

	for _, seg := range segments {
		if err := os.Remove(seg.Path); err != nil && !os.IsNotExist(err) {
			m.logger.Warn("failed to remove segment", "path", seg.Path, "error", err)
		}
	}

	m.logger.Info("merge complete",
		"output", outputPath,
		"segments", len(segments),
		"size", humanize.IBytes(uint64(info.Size())))

	return &Artifact{
		Path:       outputPath,
		Size:       info.Size(),
		Segments:   len(segments),
		InputBytes: inputBytes,
	}, nil
}

// concat appends every segment file to dest in order and returns the number
// of bytes written.
func concat(segments []hls.RetrievedSegment, dest string) (int64, error) {
	out, err := os.Create(dest)
	if err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", dest, err)
	}

	var total int64
	for _, seg := range segments {
		n, err := appendFile(out, seg.Path)
		total += n
		if err != nil {
			_ = out.Close()
			return total, fmt.Errorf("segment %d: %w", seg.Index, err)
		}
	}

	if err := out.Close(); err != nil {
		return total, fmt.Errorf("failed to write %s: %w", dest, err)
	}
	return total, nil
}

func appendFile(w io.Writer, path string) (int64, error) {
	in, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer func() { _ = in.Close() }()
	return io.Copy(w, in)
}

func removeQuietly(path string) {
	_ = os.Remove(path)
}
