package downloader

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/justchokingaround/hlsgrab/internal/downloader/hls"
	"github.com/justchokingaround/hlsgrab/internal/downloader/merge"
	"github.com/justchokingaround/hlsgrab/internal/workspace"
)

// ManifestResolver turns a manifest URL into a parsed media playlist
type ManifestResolver interface {
	Resolve(ctx context.Context, manifestURL string, headers map[string]string) (*hls.Manifest, error)
}

// Reassembler joins retrieved segments into one media file
type Reassembler interface {
	Merge(ctx context.Context, segments []hls.RetrievedSegment, outputPath string) (*merge.Artifact, error)
}

// PipelineConfig holds where and how artifacts are written
type PipelineConfig struct {
	OutputDir        string
	FilenameTemplate string
	// Extension of the merged container, including the dot
	Extension string
}

// Pipeline processes one job from manifest URL to artifact
type Pipeline struct {
	workspaces   *workspace.Manager
	resolver     ManifestResolver
	orchestrator *Orchestrator
	merger       Reassembler
	cfg          PipelineConfig
	auth         AuthProvider
	notifier     Notifier
	logger       *slog.Logger
	now          func() time.Time
}

// NewPipeline wires the job stages together
func NewPipeline(
	workspaces *workspace.Manager,
	resolver ManifestResolver,
	orchestrator *Orchestrator,
	merger Reassembler,
	cfg PipelineConfig,
	notifier Notifier,
	logger *slog.Logger,
) *Pipeline {
	if cfg.FilenameTemplate == "" {
		cfg.FilenameTemplate = "{name}"
	}
	if cfg.Extension == "" {
		cfg.Extension = ".mp4"
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pipeline{
		workspaces:   workspaces,
		resolver:     resolver,
		orchestrator: orchestrator,
		merger:       merger,
		cfg:          cfg,
		logger:       logger,
		now:          time.Now,
	}
	p.SetNotifier(notifier)
	return p
}

// SetAuthProvider sets the provider used for initial headers and refreshes
func (p *Pipeline) SetAuthProvider(a AuthProvider) {
	p.auth = a
	p.orchestrator.SetAuthProvider(a)
}

// SetNotifier replaces the notifier of the pipeline and its orchestrator
func (p *Pipeline) SetNotifier(n Notifier) {
	if n == nil {
		n = NopNotifier{}
	}
	p.notifier = n
	p.orchestrator.notifier = n
}

// SetClock replaces the time source
func (p *Pipeline) SetClock(now func() time.Time) {
	p.now = now
	p.orchestrator.SetClock(now)
}

// GenerateVideoID derives a stable short name from a manifest URL
func GenerateVideoID(manifestURL string) string {
	sum := md5.Sum([]byte(manifestURL))
	return hex.EncodeToString(sum[:])[:12]
}

// Process runs job to completion. The workspace is released on every exit
// path; on success the artifact lives in the output directory and belongs
// to the caller.
func (p *Pipeline) Process(ctx context.Context, job *Job) (*merge.Artifact, error) {
	if job.ManifestURL == "" {
		return nil, fmt.Errorf("manifest URL is empty")
	}
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.Name == "" {
		job.Name = job.StreamID
		if job.Name == "" {
			job.Name = GenerateVideoID(job.ManifestURL)
		}
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = p.now()
	}
	started := p.now()
	job.StartedAt = &started
	job.Error = ""

	logger := p.logger.With("job_id", job.ID, "name", job.Name)
	logger.Info("processing job", "url", job.ManifestURL)

	headers, err := p.initialHeaders(ctx, job.StreamID, job.Headers)
	if err != nil {
		return nil, p.fail(ctx, job, err, logger)
	}
	job.requestHeaders = headers

	var artifact *merge.Artifact
	err = p.workspaces.With(ctx, job.ID, func(ctx context.Context, dir string) error {
		job.WorkspacePath = dir

		p.setStatus(job, StatusResolving)
		p.phase(job, PhaseResolve)
		manifest, err := p.resolve(ctx, job, logger)
		if err != nil {
			return err
		}
		job.Manifest = manifest
		job.SegmentsTotal = len(manifest.Segments)

		p.setStatus(job, StatusDownloading)
		segments, err := p.orchestrator.Run(ctx, job)
		if err != nil {
			return err
		}

		p.setStatus(job, StatusMerging)
		p.phase(job, PhaseMerge)
		merged, err := p.merger.Merge(ctx, segments, filepath.Join(dir, "output"+p.cfg.Extension))
		if err != nil {
			return err
		}

		dest, err := p.outputPath(job)
		if err != nil {
			return err
		}
		if err := moveFile(merged.Path, dest); err != nil {
			_ = os.Remove(dest)
			return fmt.Errorf("failed to move artifact: %w", err)
		}
		merged.Path = dest
		artifact = merged
		return nil
	})
	job.WorkspacePath = ""
	job.Retrieved = nil
	job.requestHeaders = nil
	if err != nil {
		return nil, p.fail(ctx, job, err, logger)
	}

	completed := p.now()
	job.Status = StatusCompleted
	job.Progress = 100
	job.OutputPath = artifact.Path
	job.OutputSize = artifact.Size
	job.CompletedAt = &completed
	p.statusChanged(job)
	p.phase(job, PhaseDone)
	p.notifier.Completed(*job, artifact)

	logger.Info("job completed",
		"output", artifact.Path,
		"size", artifact.Size,
		"duration", completed.Sub(started).Round(time.Millisecond))
	return artifact, nil
}

// initialHeaders overlays explicit headers on the provider's
func (p *Pipeline) initialHeaders(ctx context.Context, streamID string, explicit map[string]string) (map[string]string, error) {
	if p.auth == nil {
		return explicit, nil
	}
	base, err := p.auth.Headers(ctx, streamID)
	if err != nil {
		return nil, fmt.Errorf("failed to get auth headers: %w", err)
	}
	return mergeHeaders(base, explicit), nil
}

// resolve fetches the manifest, refreshing credentials once on an
// authorization failure.
func (p *Pipeline) resolve(ctx context.Context, job *Job, logger *slog.Logger) (*hls.Manifest, error) {
	manifest, err := p.resolver.Resolve(ctx, job.ManifestURL, job.requestHeaders)
	if err == nil || p.auth == nil || !hls.IsAuthExpired(err) {
		return manifest, err
	}

	logger.Info("manifest rejected, refreshing credentials")
	fresh, refreshErr := p.auth.Refresh(ctx, job.StreamID)
	if refreshErr != nil {
		logger.Warn("credential refresh failed", "error", refreshErr)
		return nil, err
	}
	job.requestHeaders = mergeHeaders(fresh, job.Headers)
	return p.resolver.Resolve(ctx, job.ManifestURL, job.requestHeaders)
}

// outputPath reserves the artifact's destination; the caller replaces the
// empty placeholder file.
func (p *Pipeline) outputPath(job *Job) (string, error) {
	dest := job.OutputPath
	if dest == "" {
		name, err := ParseTemplate(p.cfg.FilenameTemplate, *job, p.now())
		if err != nil {
			return "", fmt.Errorf("failed to parse filename template: %w", err)
		}
		dest = filepath.Join(p.cfg.OutputDir, name+p.cfg.Extension)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	return ReserveUniqueFilename(dest)
}

func (p *Pipeline) fail(ctx context.Context, job *Job, err error, logger *slog.Logger) error {
	now := p.now()
	job.CompletedAt = &now
	job.Error = err.Error()
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		job.Status = StatusCancelled
		logger.Info("job cancelled")
	} else {
		job.Status = StatusFailed
		logger.Error("job failed", "error", err)
	}
	p.statusChanged(job)
	p.phase(job, PhaseFailed)
	p.notifier.Failed(*job, err)
	return err
}

func (p *Pipeline) setStatus(job *Job, status JobStatus) {
	job.Status = status
	p.statusChanged(job)
}

func (p *Pipeline) statusChanged(job *Job) {
	if sn, ok := p.notifier.(StatusNotifier); ok {
		sn.StatusChanged(*job)
	}
}

func (p *Pipeline) phase(job *Job, phase Phase) {
	ev := ProgressEvent{
		JobID: job.ID,
		Total: job.SegmentsTotal,
		Bytes: job.BytesDownloaded,
		Phase: phase,
		At:    p.now(),
	}
	switch phase {
	case PhaseMerge, PhaseDone:
		ev.Completed = ev.Total
	case PhaseFailed:
		ev.Completed = job.SegmentsDone
	}
	p.notifier.Progress(ev)
}

func mergeHeaders(base, overlay map[string]string) map[string]string {
	merged := make(map[string]string, len(base)+len(overlay))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range overlay {
		merged[k] = v
	}
	return merged
}

// moveFile renames src over dst, copying when they are on different devices
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return err
	}
	return os.Remove(src)
}
