package merge

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// FFmpegRemuxer remuxes with an ffmpeg binary, copying streams as-is
type FFmpegRemuxer struct {
	Binary    string
	Container string // mp4, mkv, mov or ts
	Logger    *slog.Logger
}

// NewFFmpegRemuxer creates a remuxer. An empty binary means "ffmpeg" from PATH.
func NewFFmpegRemuxer(binary, container string, logger *slog.Logger) *FFmpegRemuxer {
	if binary == "" {
		binary = "ffmpeg"
	}
	if container == "" {
		container = "mp4"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FFmpegRemuxer{Binary: binary, Container: container, Logger: logger}
}

// Extension returns the file extension for the configured container.
func (r *FFmpegRemuxer) Extension() string {
	return ContainerExtension(r.Container)
}

// Args builds the ffmpeg argument list.
func (r *FFmpegRemuxer) Args(input, output string) []string {
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-y",
		"-i", input,
		"-c", "copy",
	}

	switch strings.ToLower(r.Container) {
	case "mp4", "mov":
		args = append(args,
			"-bsf:a", "aac_adtstoasc", // ADTS to ASC for AAC in ISO BMFF
			"-movflags", "+faststart",
		)
	}

	return append(args, "-f", ffmpegFormat(r.Container), output)
}

// Remux runs ffmpeg and waits for it. The process is killed when ctx ends.
func (r *FFmpegRemuxer) Remux(ctx context.Context, input, output string) error {
	args := r.Args(input, output)

	r.Logger.Debug("invoking ffmpeg", "binary", r.Binary, "args", strings.Join(args, " "))

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, r.Binary, args...)
	cmd.Stderr = &stderr
	// Stop waiting on inherited pipes once the process is gone.
	cmd.WaitDelay = 2 * time.Second

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("ffmpeg killed: %w", ctxErr)
		}
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > 500 {
			msg = msg[len(msg)-500:]
		}
		if msg != "" {
			return fmt.Errorf("ffmpeg failed: %w: %s", err, msg)
		}
		return fmt.Errorf("ffmpeg failed: %w", err)
	}

	return nil
}

// ContainerExtension maps a container name to its file extension.
func ContainerExtension(container string) string {
	switch strings.ToLower(container) {
	case "mkv", "matroska":
		return ".mkv"
	case "mov":
		return ".mov"
	case "ts", "mpegts":
		return ".ts"
	default:
		return ".mp4"
	}
}

func ffmpegFormat(container string) string {
	switch strings.ToLower(container) {
	case "mkv", "matroska":
		return "matroska"
	case "mov":
		return "mov"
	case "ts", "mpegts":
		return "mpegts"
	default:
		return "mp4"
	}
}
