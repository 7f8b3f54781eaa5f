// Package notify contains Notifier implementations for the command line.
package notify

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/justchokingaround/hlsgrab/internal/downloader"
	"github.com/justchokingaround/hlsgrab/internal/downloader/merge"
)

// Log writes job events to a structured logger
type Log struct {
	logger *slog.Logger
}

// NewLog creates a logging notifier
func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger.With("component", "notify")}
}

func (l *Log) Progress(ev downloader.ProgressEvent) {
	l.logger.Debug("progress",
		"job_id", ev.JobID,
		"phase", ev.Phase,
		"completed", ev.Completed,
		"total", ev.Total,
		"bytes", ev.Bytes)
}

func (l *Log) StatusChanged(job downloader.Job) {
	l.logger.Info("status changed", "job_id", job.ID, "name", job.Name, "status", job.Status)
}

func (l *Log) Completed(job downloader.Job, artifact *merge.Artifact) {
	l.logger.Info("download completed",
		"job_id", job.ID,
		"path", artifact.Path,
		"size", artifact.Size,
		"segments", artifact.Segments)
}

func (l *Log) Failed(job downloader.Job, err error) {
	l.logger.Error("download failed", "job_id", job.ID, "name", job.Name, "status", job.Status, "error", err)
}

var (
	barStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#be95ff"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#42be65")).Bold(true)
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#ff5252")).Bold(true)
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#767676"))
)

const barWidth = 30

// Console draws a single-line progress bar and prints a summary when the
// job ends. Redraws only happen when the percentage changes.
type Console struct {
	mu   sync.Mutex
	w    io.Writer
	last map[string]int
	open bool // a progress line is waiting for its newline
}

// NewConsole creates a console notifier writing to w
func NewConsole(w io.Writer) *Console {
	return &Console{w: w, last: make(map[string]int)}
}

func (c *Console) Progress(ev downloader.ProgressEvent) {
	if ev.Phase != downloader.PhaseDownload {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	pct := ev.Percent()
	if prev, ok := c.last[ev.JobID]; ok && prev == pct {
		return
	}
	c.last[ev.JobID] = pct

	fmt.Fprintf(c.w, "\r%s %3d%% %s",
		barStyle.Render(Bar(pct, barWidth)),
		pct,
		mutedStyle.Render(fmt.Sprintf("%d/%d segments, %s", ev.Completed, ev.Total, humanize.Bytes(uint64(ev.Bytes)))))
	c.open = true
}

func (c *Console) StatusChanged(job downloader.Job) {
	if job.Status != downloader.StatusMerging {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.endLine()
	fmt.Fprintln(c.w, mutedStyle.Render("merging segments..."))
}

func (c *Console) Completed(job downloader.Job, artifact *merge.Artifact) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.endLine()
	delete(c.last, job.ID)
	fmt.Fprintf(c.w, "%s %s (%s)\n", okStyle.Render("✓"), artifact.Path, humanize.Bytes(uint64(artifact.Size)))
}

func (c *Console) Failed(job downloader.Job, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.endLine()
	delete(c.last, job.ID)
	label := "failed"
	if job.Status == downloader.StatusCancelled {
		label = "cancelled"
	}
	fmt.Fprintf(c.w, "%s %s %s: %v\n", errStyle.Render("✗"), job.Name, label, err)
}

func (c *Console) endLine() {
	if c.open {
		fmt.Fprintln(c.w)
		c.open = false
	}
}

// Bar renders a text progress bar of the given width
func Bar(percent, width int) string {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	filled := percent * width / 100
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}
