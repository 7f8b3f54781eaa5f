package downloader

import (
	"context"
	"fmt"
	"time"

	"github.com/justchokingaround/hlsgrab/internal/downloader/hls"
	"github.com/justchokingaround/hlsgrab/internal/downloader/merge"
)

// Downloader defines the interface for the job queue
type Downloader interface {
	// Queue management
	AddToQueue(ctx context.Context, job Job) (Job, error)
	RemoveFromQueue(ctx context.Context, id string) error
	GetQueue(ctx context.Context) ([]Job, error)
	ClearQueue(ctx context.Context) error

	// Job control
	Start(ctx context.Context) error
	Stop() error
	Cancel(ctx context.Context, id string) error
	Retry(ctx context.Context, id string) error

	// Progress monitoring
	OnProgressUpdate(callback func(job Job))
	OnDownloadComplete(callback func(job Job))
	OnDownloadError(callback func(job Job, err error))

	// Settings
	SetConcurrency(workers int)
}

// Job is one manifest download, from resolution to the final artifact.
// A job owns its workspace directory exclusively.
type Job struct {
	ID              string                 `json:"id"`
	StreamID        string                 `json:"stream_id,omitempty"`
	Name            string                 `json:"name,omitempty"`
	ManifestURL     string                 `json:"manifest_url"`
	Headers         map[string]string      `json:"headers,omitempty"`
	WorkspacePath   string                 `json:"workspace_path,omitempty"`
	Manifest        *hls.Manifest          `json:"-"`
	Retrieved       []hls.RetrievedSegment `json:"-"`
	Status          JobStatus              `json:"status"`
	Progress        float64                `json:"progress"` // 0.0 - 100.0
	SegmentsDone    int                    `json:"segments_done"`
	SegmentsTotal   int                    `json:"segments_total"`
	BytesDownloaded int64                  `json:"bytes_downloaded"`
	OutputPath      string                 `json:"output_path,omitempty"`
	OutputSize      int64                  `json:"output_size,omitempty"`
	Error           string                 `json:"error,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
	StartedAt       *time.Time             `json:"started_at,omitempty"`
	CompletedAt     *time.Time             `json:"completed_at,omitempty"`

	// requestHeaders are the explicit headers merged with the auth
	// provider's for the current run. Never persisted.
	requestHeaders map[string]string
}

// JobStatus represents the status of a job
type JobStatus string

const (
	StatusQueued      JobStatus = "queued"
	StatusResolving   JobStatus = "resolving"
	StatusDownloading JobStatus = "downloading"
	StatusMerging     JobStatus = "merging"
	StatusCompleted   JobStatus = "completed"
	StatusFailed      JobStatus = "failed"
	StatusCancelled   JobStatus = "cancelled"
)

// String returns the string representation of JobStatus
func (s JobStatus) String() string {
	return string(s)
}

// IsActive returns true if a worker is processing the job
func (s JobStatus) IsActive() bool {
	return s == StatusResolving || s == StatusDownloading || s == StatusMerging
}

// IsComplete returns true if the job is in a terminal state
func (s JobStatus) IsComplete() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Phase names the stage a ProgressEvent belongs to
type Phase string

const (
	PhaseResolve  Phase = "resolve"
	PhaseDownload Phase = "download"
	PhaseMerge    Phase = "merge"
	PhaseDone     Phase = "done"
	PhaseFailed   Phase = "failed"
)

// ProgressEvent is a read-only snapshot of a job's progress.
type ProgressEvent struct {
	JobID     string    `json:"job_id"`
	Completed int       `json:"completed"`
	Total     int       `json:"total"`
	Bytes     int64     `json:"bytes"`
	Phase     Phase     `json:"phase"`
	At        time.Time `json:"at"`
}

// Percent returns completion as an integer percentage
func (e ProgressEvent) Percent() int {
	if e.Total <= 0 {
		return 0
	}
	return e.Completed * 100 / e.Total
}

// Notifier receives progress and terminal events. Delivery is
// at-least-once; implementations must not block for long.
type Notifier interface {
	Progress(ev ProgressEvent)
	Completed(job Job, artifact *merge.Artifact)
	Failed(job Job, err error)
}

// StatusNotifier is implemented by notifiers that also track status changes.
type StatusNotifier interface {
	StatusChanged(job Job)
}

// AuthProvider supplies request headers for a stream and refreshes them
// when the server rejects the current ones.
type AuthProvider interface {
	Headers(ctx context.Context, streamID string) (map[string]string, error)
	Refresh(ctx context.Context, streamID string) (map[string]string, error)
}

// DownloadFailed is the single terminal error of a failed segment run.
// Cause is normally a *hls.SegmentFetchError.
type DownloadFailed struct {
	Index int
	Cause error
}

func (e *DownloadFailed) Error() string {
	return fmt.Sprintf("download failed at segment %d: %v", e.Index, e.Cause)
}

func (e *DownloadFailed) Unwrap() error {
	return e.Cause
}

// NopNotifier discards every event
type NopNotifier struct{}

func (NopNotifier) Progress(ProgressEvent) {}

func (NopNotifier) Completed(Job, *merge.Artifact) {}

func (NopNotifier) Failed(Job, error) {}

// MultiNotifier fans events out to several notifiers in order
type MultiNotifier []Notifier

func (m MultiNotifier) Progress(ev ProgressEvent) {
	for _, n := range m {
		n.Progress(ev)
	}
}

func (m MultiNotifier) Completed(job Job, artifact *merge.Artifact) {
	for _, n := range m {
		n.Completed(job, artifact)
	}
}

func (m MultiNotifier) Failed(job Job, err error) {
	for _, n := range m {
		n.Failed(job, err)
	}
}

func (m MultiNotifier) StatusChanged(job Job) {
	for _, n := range m {
		if sn, ok := n.(StatusNotifier); ok {
			sn.StatusChanged(job)
		}
	}
}
