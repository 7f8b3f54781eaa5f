package downloader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/justchokingaround/hlsgrab/internal/downloader/hls"
)

// SegmentFetcher materializes one segment on disk
type SegmentFetcher interface {
	Fetch(ctx context.Context, req hls.FetchRequest) (hls.RetrievedSegment, error)
}

// SegmentFileName returns the workspace file name for a segment
func SegmentFileName(index uint) string {
	return fmt.Sprintf("segment_%05d.ts", index)
}

// Orchestrator drives the fetches for every segment of a job and hands the
// results back in manifest order.
type Orchestrator struct {
	fetcher     SegmentFetcher
	concurrency int
	notifier    Notifier
	auth        AuthProvider
	logger      *slog.Logger
	now         func() time.Time
}

// NewOrchestrator creates an orchestrator. concurrency 1 fetches
// sequentially; values below 1 are treated as 1.
func NewOrchestrator(fetcher SegmentFetcher, concurrency int, notifier Notifier, logger *slog.Logger) *Orchestrator {
	if concurrency < 1 {
		concurrency = 1
	}
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		fetcher:     fetcher,
		concurrency: concurrency,
		notifier:    notifier,
		logger:      logger,
		now:         time.Now,
	}
}

// SetAuthProvider enables credential refresh for segments rejected with
// an authorization error.
func (o *Orchestrator) SetAuthProvider(p AuthProvider) {
	o.auth = p
}

// SetClock replaces the time source used for event timestamps
func (o *Orchestrator) SetClock(now func() time.Time) {
	o.now = now
}

// Concurrency returns the size of the fetch pool
func (o *Orchestrator) Concurrency() int {
	return o.concurrency
}

// credentials is the header set shared by all fetches of one job. A refresh
// triggered by several segments at once reaches the provider only once.
type credentials struct {
	mu       sync.RWMutex
	headers  map[string]string
	group    singleflight.Group
	provider AuthProvider
	streamID string
}

func (c *credentials) current() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.headers
}

func (c *credentials) refresh(ctx context.Context) (map[string]string, error) {
	v, err, _ := c.group.Do("refresh", func() (interface{}, error) {
		fresh, err := c.provider.Refresh(ctx, c.streamID)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.headers = fresh
		c.mu.Unlock()
		return fresh, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(map[string]string), nil
}

// progress is the ordered result buffer of one run
type progress struct {
	mu        sync.Mutex
	results   []hls.RetrievedSegment
	completed int
	bytes     int64
	lastPct   int
}

// Run fetches every segment of job.Manifest into job.WorkspacePath. On
// success the segments are returned in manifest order. On failure every
// segment file of the job is deleted and a *DownloadFailed is returned;
// cancellation of ctx returns ctx.Err() after the same cleanup.
func (o *Orchestrator) Run(ctx context.Context, job *Job) ([]hls.RetrievedSegment, error) {
	if job.Manifest == nil || len(job.Manifest.Segments) == 0 {
		return nil, hls.ErrEmptyManifest
	}
	if job.WorkspacePath == "" {
		return nil, fmt.Errorf("job %s has no workspace", job.ID)
	}

	segments := job.Manifest.Segments
	total := len(segments)
	logger := o.logger.With("job_id", job.ID, "segments", total, "concurrency", o.concurrency)

	headers := job.requestHeaders
	if headers == nil {
		headers = job.Headers
	}
	creds := &credentials{headers: headers, provider: o.auth, streamID: job.StreamID}
	var reauth hls.ReauthFunc
	if o.auth != nil {
		reauth = creds.refresh
	}

	state := &progress{results: make([]hls.RetrievedSegment, total)}
	o.emit(job.ID, 0, total, 0)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)

	for i, seg := range segments {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			// A slot can free up after another fetch already failed
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := o.fetcher.Fetch(gctx, hls.FetchRequest{
				Segment:  seg,
				BaseURI:  job.Manifest.BaseURI,
				DestPath: filepath.Join(job.WorkspacePath, SegmentFileName(seg.SequenceIndex)),
				Headers:  creds.current(),
				Reauth:   reauth,
			})
			if err != nil {
				return err
			}
			o.record(job.ID, state, i, res)
			return nil
		})
	}

	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	if err == nil {
		for i, res := range state.results {
			if res.Path == "" {
				err = &hls.SegmentFetchError{
					Index: int(segments[i].SequenceIndex),
					Cause: fmt.Errorf("retrieved %d of %d segments", state.completed, total),
				}
				break
			}
		}
	}

	if err != nil {
		o.cleanup(job.WorkspacePath, segments, logger)
		if ctxErr := ctx.Err(); ctxErr != nil {
			logger.Info("download cancelled", "completed", state.completed)
			return nil, ctxErr
		}

		failed := &DownloadFailed{Index: -1, Cause: err}
		var sfe *hls.SegmentFetchError
		if errors.As(err, &sfe) {
			failed.Index = sfe.Index
		}
		logger.Error("download failed", "segment", failed.Index, "error", err)
		return nil, failed
	}

	job.Retrieved = state.results
	job.SegmentsDone = state.completed
	job.SegmentsTotal = total
	job.BytesDownloaded = state.bytes

	logger.Info("all segments downloaded", "bytes", state.bytes)
	return state.results, nil
}

// record stores a finished segment and emits progress when the integer
// percentage advanced. Emission happens under the buffer lock so events
// reach the notifier in order.
func (o *Orchestrator) record(jobID string, state *progress, pos int, res hls.RetrievedSegment) {
	state.mu.Lock()
	defer state.mu.Unlock()

	state.results[pos] = res
	state.completed++
	state.bytes += res.Size

	total := len(state.results)
	pct := state.completed * 100 / total
	if pct > state.lastPct {
		state.lastPct = pct
		o.emit(jobID, state.completed, total, state.bytes)
	}
}

func (o *Orchestrator) emit(jobID string, completed, total int, bytes int64) {
	o.notifier.Progress(ProgressEvent{
		JobID:     jobID,
		Completed: completed,
		Total:     total,
		Bytes:     bytes,
		Phase:     PhaseDownload,
		At:        o.now(),
	})
}

// cleanup removes every segment file the job may have produced
func (o *Orchestrator) cleanup(dir string, segments []hls.Segment, logger *slog.Logger) {
	for _, seg := range segments {
		path := filepath.Join(dir, SegmentFileName(seg.SequenceIndex))
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			logger.Warn("failed to remove segment file", "path", path, "error", err)
		}
	}
}
