package downloader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sahilm/fuzzy"
	"gorm.io/gorm"

	"github.com/justchokingaround/hlsgrab/internal/config"
	"github.com/justchokingaround/hlsgrab/internal/database"
	"github.com/justchokingaround/hlsgrab/internal/downloader/merge"
)

// defaultLeaseTTL is how long a running job stays owned by a manager that
// stopped renewing it.
const defaultLeaseTTL = 30 * time.Second

// errJobReleased means the job row is no longer ours to write: it was
// cancelled, removed or taken over by another manager.
var errJobReleased = errors.New("job released")

// JobProcessor runs a single job to completion
type JobProcessor interface {
	Process(ctx context.Context, job *Job) (*merge.Artifact, error)
}

// Manager implements the Downloader interface on top of a persisted queue
type Manager struct {
	mu sync.RWMutex

	// Worker pool
	workers  []*worker
	active   map[string]*activeJob // job ID -> running job
	wake     chan struct{}
	workerWg sync.WaitGroup

	// State
	running bool
	ctx     context.Context
	cancel  context.CancelFunc

	// Callbacks
	onProgress func(Job)
	onComplete func(Job)
	onError    func(Job, error)

	config    *config.DownloadsConfig
	logger    *slog.Logger
	db        *gorm.DB
	processor JobProcessor
	now       func() time.Time

	// Every manager sharing the database has its own owner id. Running
	// jobs carry it with a lease renewed by the heartbeat.
	owner    string
	leaseTTL time.Duration
}

// activeJob tracks an in-progress job
type activeJob struct {
	job      Job // snapshot for progress reporting
	workerID int
	cancel   context.CancelFunc
}

// NewManager creates a queue manager. When processor is a *Pipeline the
// manager registers itself as an additional notifier so progress and
// status changes are persisted.
func NewManager(db *gorm.DB, cfg *config.DownloadsConfig, processor JobProcessor, logger *slog.Logger) (*Manager, error) {
	if db == nil {
		return nil, fmt.Errorf("database cannot be nil")
	}
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if processor == nil {
		return nil, fmt.Errorf("processor cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	m := &Manager{
		active:    make(map[string]*activeJob),
		wake:      make(chan struct{}, 1),
		config:    cfg,
		logger:    logger,
		db:        db,
		processor: processor,
		now:       time.Now,
		owner:     uuid.New().String(),
		leaseTTL:  defaultLeaseTTL,
	}

	if p, ok := processor.(*Pipeline); ok {
		p.SetNotifier(MultiNotifier{p.notifier, m})
	}

	return m, nil
}

// Start resets jobs whose owner stopped renewing its lease and starts the
// worker pool.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("manager already running")
	}

	if err := m.recoverInterrupted(); err != nil {
		return fmt.Errorf("failed to load queue from database: %w", err)
	}

	m.ctx, m.cancel = context.WithCancel(ctx)
	m.running = true
	m.startWorkerPool()
	m.signal()

	m.workerWg.Add(1)
	go func(ctx context.Context) {
		defer m.workerWg.Done()
		m.heartbeat(ctx)
	}(m.ctx)

	return nil
}

// Stop cancels running jobs and waits for the workers to exit. Interrupted
// jobs go back to the queue.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	m.cancel()
	m.mu.Unlock()

	m.workerWg.Wait()
	return nil
}

// Drain starts the pool if needed, waits until no job is queued or running
// and stops it again.
func (m *Manager) Drain(ctx context.Context) error {
	m.mu.RLock()
	running := m.running
	m.mu.RUnlock()
	if !running {
		if err := m.Start(ctx); err != nil {
			return err
		}
	}
	defer m.Stop()

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		if !m.HasActiveJobs() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// AddToQueue validates and persists a new job
func (m *Manager) AddToQueue(ctx context.Context, job Job) (Job, error) {
	u, err := url.Parse(strings.TrimSpace(job.ManifestURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return Job{}, fmt.Errorf("invalid manifest URL: %q", job.ManifestURL)
	}
	job.ManifestURL = u.String()

	m.mu.Lock()
	defer m.mu.Unlock()

	// A URL that failed or was cancelled may be queued again
	var existing database.Job
	err = m.db.WithContext(ctx).Where("manifest_url = ?", job.ManifestURL).First(&existing).Error
	if err == nil {
		status := JobStatus(existing.Status)
		if status != StatusFailed && status != StatusCancelled {
			return Job{}, fmt.Errorf("manifest already in queue or downloaded (status: %s)", existing.Status)
		}
		if err := m.db.WithContext(ctx).Delete(&existing).Error; err != nil {
			return Job{}, fmt.Errorf("failed to replace job %s: %w", existing.ID, err)
		}
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return Job{}, fmt.Errorf("failed to check queue: %w", err)
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
		job.CreatedAt = m.now()
	}
	job.Status = StatusQueued
	job.Progress = 0
	job.Error = ""

	record := jobToRecord(job)
	if err := m.db.WithContext(ctx).Create(&record).Error; err != nil {
		m.logger.Error("failed to create job in db", "error", err, "job_id", job.ID)
		return Job{}, fmt.Errorf("failed to save job: %w", err)
	}
	m.logger.Info("job queued", "job_id", job.ID, "name", job.Name)

	if m.running {
		m.signal()
	}
	return job, nil
}

// RemoveFromQueue cancels the job if running and deletes it
func (m *Manager) RemoveFromQueue(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if aj, exists := m.active[id]; exists {
		aj.cancel()
		delete(m.active, id)
	}

	res := m.db.WithContext(ctx).Delete(&database.Job{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("failed to delete job: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("job not found: %s", id)
	}
	return nil
}

// GetQueue returns all jobs, oldest first
func (m *Manager) GetQueue(ctx context.Context) ([]Job, error) {
	var records []database.Job
	if err := m.db.WithContext(ctx).Order("created_at ASC").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to get queue from database: %w", err)
	}

	jobs := make([]Job, 0, len(records))
	for _, r := range records {
		jobs = append(jobs, m.withLiveProgress(recordToJob(r)))
	}
	return jobs, nil
}

// GetJob returns one job by ID
func (m *Manager) GetJob(ctx context.Context, id string) (Job, error) {
	var record database.Job
	if err := m.db.WithContext(ctx).First(&record, "id = ?", id).Error; err != nil {
		return Job{}, fmt.Errorf("job not found: %w", err)
	}
	return m.withLiveProgress(recordToJob(record)), nil
}

type jobSource []Job

func (s jobSource) String(i int) string { return s[i].Name + " " + s[i].ManifestURL }

func (s jobSource) Len() int { return len(s) }

// Search fuzzy-matches jobs by name and manifest URL, best match first
func (m *Manager) Search(ctx context.Context, query string) ([]Job, error) {
	jobs, err := m.GetQueue(ctx)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(query) == "" {
		return jobs, nil
	}

	matches := fuzzy.FindFrom(query, jobSource(jobs))
	found := make([]Job, 0, len(matches))
	for _, match := range matches {
		found = append(found, jobs[match.Index])
	}
	return found, nil
}

// HasActiveJobs returns true if any job is queued or running
func (m *Manager) HasActiveJobs() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.active) > 0 {
		return true
	}

	var count int64
	m.db.Model(&database.Job{}).
		Where("status IN ?", []string{
			string(StatusQueued),
			string(StatusResolving),
			string(StatusDownloading),
			string(StatusMerging),
		}).
		Count(&count)

	return count > 0
}

// ClearQueue deletes every job that is not running
func (m *Manager) ClearQueue(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var records []database.Job
	if err := m.db.WithContext(ctx).Find(&records).Error; err != nil {
		return fmt.Errorf("failed to get jobs: %w", err)
	}

	for _, r := range records {
		if _, isActive := m.active[r.ID]; isActive {
			continue
		}
		status := JobStatus(r.Status)
		if status == StatusQueued || status.IsComplete() {
			if err := m.db.WithContext(ctx).Delete(&r).Error; err != nil {
				return fmt.Errorf("failed to delete job %s: %w", r.ID, err)
			}
		}
	}

	return nil
}

// Cancel cancels a queued or running job. A job running in another
// process stops at that manager's next heartbeat.
func (m *Manager) Cancel(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var record database.Job
	if err := m.db.WithContext(ctx).First(&record, "id = ?", id).Error; err != nil {
		return fmt.Errorf("job not found: %w", err)
	}

	res := m.db.WithContext(ctx).Model(&database.Job{}).
		Where("id = ? AND status NOT IN ?", id, finishedStatuses()).
		Update("status", string(StatusCancelled))
	if res.Error != nil {
		return fmt.Errorf("failed to update job: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		if err := m.db.WithContext(ctx).First(&record, "id = ?", id).Error; err != nil {
			return fmt.Errorf("job not found: %w", err)
		}
		return fmt.Errorf("job already finished (status: %s)", record.Status)
	}

	// The row is cancelled before the job stops so its final write is refused
	if aj, exists := m.active[id]; exists {
		aj.cancel()
	}
	return nil
}

// Retry re-queues a failed or cancelled job
func (m *Manager) Retry(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var record database.Job
	if err := m.db.WithContext(ctx).First(&record, "id = ?", id).Error; err != nil {
		return fmt.Errorf("job not found: %w", err)
	}

	if record.Status != string(StatusFailed) && record.Status != string(StatusCancelled) {
		return fmt.Errorf("can only retry failed or cancelled jobs")
	}

	record.Status = string(StatusQueued)
	record.Progress = 0
	record.SegmentsDone = 0
	record.BytesDownloaded = 0
	record.Error = ""
	record.StartedAt = nil
	record.CompletedAt = nil
	if err := m.db.WithContext(ctx).Save(&record).Error; err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}

	if m.running {
		m.signal()
	}
	return nil
}

// OnProgressUpdate sets the progress update callback
func (m *Manager) OnProgressUpdate(callback func(job Job)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onProgress = callback
}

// OnDownloadComplete sets the download complete callback
func (m *Manager) OnDownloadComplete(callback func(job Job)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onComplete = callback
}

// OnDownloadError sets the download error callback
func (m *Manager) OnDownloadError(callback func(job Job, err error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onError = callback
}

// SetConcurrency sets the number of concurrent jobs. A running pool grows
// at once; surplus workers exit after their current job.
func (m *Manager) SetConcurrency(workers int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if workers < 1 {
		workers = 1
	}
	if workers > 10 {
		workers = 10
	}
	m.config.Workers = workers

	if m.running {
		m.growWorkerPool()
		m.signal()
	}
}

// Progress implements Notifier
func (m *Manager) Progress(ev ProgressEvent) {
	m.mu.Lock()
	aj, ok := m.active[ev.JobID]
	if !ok {
		m.mu.Unlock()
		return
	}
	if ev.Phase == PhaseDownload {
		aj.job.SegmentsDone = ev.Completed
		aj.job.SegmentsTotal = ev.Total
		aj.job.BytesDownloaded = ev.Bytes
		aj.job.Progress = float64(ev.Percent())
	}
	snapshot := aj.job
	m.mu.Unlock()

	err := m.db.Model(&database.Job{}).Where("id = ? AND owner = ?", ev.JobID, m.owner).Updates(map[string]interface{}{
		"progress":         snapshot.Progress,
		"segments_done":    snapshot.SegmentsDone,
		"segments_total":   snapshot.SegmentsTotal,
		"bytes_downloaded": snapshot.BytesDownloaded,
	}).Error
	if err != nil {
		m.logger.Warn("failed to persist progress", "job_id", ev.JobID, "error", err)
	}
	m.triggerProgressCallback(snapshot)
}

// StatusChanged implements StatusNotifier
func (m *Manager) StatusChanged(job Job) {
	m.mu.Lock()
	if aj, ok := m.active[job.ID]; ok {
		progress := aj.job.Progress
		aj.job = job
		if job.Status != StatusCompleted {
			aj.job.Progress = progress
		}
	}
	m.mu.Unlock()

	_ = m.updateJobInDB(job)
	m.triggerProgressCallback(job)
}

// Completed implements Notifier. A job cancelled while it finished keeps
// its cancelled status and reports no completion.
func (m *Manager) Completed(job Job, _ *merge.Artifact) {
	var count int64
	err := m.db.Model(&database.Job{}).
		Where("id = ? AND owner = ? AND status = ?", job.ID, m.owner, string(StatusCompleted)).
		Count(&count).Error
	if err == nil && count == 0 {
		return
	}
	m.triggerCompleteCallback(job)
}

// Failed implements Notifier
func (m *Manager) Failed(job Job, err error) {
	m.triggerErrorCallback(job, err)
}

// startWorkerPool starts the worker goroutines
func (m *Manager) startWorkerPool() {
	m.workers = nil
	m.growWorkerPool()
}

// poolSize returns the configured number of workers
func (m *Manager) poolSize() int {
	if m.config.Workers < 1 {
		return 2
	}
	return m.config.Workers
}

// growWorkerPool starts a worker for every empty slot below the pool
// size. Caller holds m.mu.
func (m *Manager) growWorkerPool() {
	ctx := m.ctx
	for i := 0; i < m.poolSize(); i++ {
		if i == len(m.workers) {
			m.workers = append(m.workers, nil)
		}
		if m.workers[i] != nil {
			continue
		}

		w := newWorker(i, m)
		m.workers[i] = w

		m.workerWg.Add(1)
		go func() {
			defer m.workerWg.Done()
			w.run(ctx)

			m.mu.Lock()
			m.workers[w.id] = nil
			m.mu.Unlock()
		}()
	}
}

// retired reports whether a worker lies above the current pool size
func (m *Manager) retired(id int) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return id >= m.poolSize()
}

// signal wakes one idle worker
func (m *Manager) signal() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// claimNext marks the oldest queued job as resolving and registers it as
// active. Returns nil when the queue is empty or the pool is saturated.
func (m *Manager) claimNext(ctx context.Context, workerID int) (*Job, context.Context, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running || len(m.active) >= m.poolSize() {
		return nil, nil, nil
	}

	// Another manager may claim the same row first; move on to the next one
	var record database.Job
	for attempt := 0; ; attempt++ {
		err := m.db.Where("status = ?", string(StatusQueued)).Order("created_at ASC").First(&record).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, nil
		}
		if err != nil {
			return nil, nil, fmt.Errorf("failed to claim job: %w", err)
		}

		now := m.now()
		res := m.db.Model(&database.Job{}).
			Where("id = ? AND status = ?", record.ID, string(StatusQueued)).
			Updates(map[string]interface{}{
				"status":     string(StatusResolving),
				"started_at": now,
				"owner":      m.owner,
				"lease_at":   now,
			})
		if res.Error != nil {
			return nil, nil, fmt.Errorf("failed to claim job: %w", res.Error)
		}
		if res.RowsAffected == 1 {
			record.Status = string(StatusResolving)
			record.StartedAt = &now
			break
		}
		if attempt == 4 {
			return nil, nil, nil
		}
		record = database.Job{}
	}

	job := recordToJob(record)
	jobCtx, cancel := context.WithCancel(ctx)
	m.active[job.ID] = &activeJob{job: job, workerID: workerID, cancel: cancel}
	return &job, jobCtx, nil
}

// release unregisters a finished job
func (m *Manager) release(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if aj, ok := m.active[id]; ok {
		aj.cancel()
		delete(m.active, id)
	}
}

// recoverInterrupted resets running jobs whose lease expired. Jobs another
// live manager keeps renewing are left alone.
func (m *Manager) recoverInterrupted() error {
	var records []database.Job
	expired := m.now().Add(-m.leaseTTL)
	err := m.db.Where("status IN ?", runningStatuses()).
		Where("owner IS NULL OR owner = '' OR lease_at IS NULL OR lease_at < ?", expired).
		Find(&records).Error
	if err != nil {
		return fmt.Errorf("failed to load jobs: %w", err)
	}

	for _, r := range records {
		if m.config.AutoResume {
			r.Status = string(StatusQueued)
			r.Progress = 0
			r.SegmentsDone = 0
			r.BytesDownloaded = 0
		} else {
			r.Status = string(StatusFailed)
			r.Error = "interrupted"
		}
		// Skip the row if its owner renewed the lease in the meantime
		res := m.db.Model(&database.Job{}).
			Where("id = ? AND COALESCE(owner, '') = ? AND status IN ?", r.ID, r.Owner, runningStatuses()).
			Where("lease_at IS NULL OR lease_at < ?", expired).
			Select("status", "progress", "segments_done", "bytes_downloaded", "error").
			Updates(&r)
		if res.Error != nil {
			return fmt.Errorf("failed to reset job %s: %w", r.ID, res.Error)
		}
		if res.RowsAffected == 1 {
			m.logger.Info("recovered interrupted job", "job_id", r.ID, "previous_owner", r.Owner, "status", r.Status)
		}
	}

	return nil
}

// heartbeat renews the lease on this manager's running jobs until ctx is
// done. A job cancelled, removed or taken over elsewhere is stopped here.
func (m *Manager) heartbeat(ctx context.Context) {
	interval := m.leaseTTL / 10
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.renewLeases(ctx)
		}
	}
}

func (m *Manager) renewLeases(ctx context.Context) {
	m.mu.RLock()
	ids := make([]string, 0, len(m.active))
	for id := range m.active {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	if len(ids) == 0 {
		return
	}

	err := m.db.WithContext(ctx).Model(&database.Job{}).
		Where("id IN ? AND owner = ? AND status IN ?", ids, m.owner, runningStatuses()).
		Update("lease_at", m.now()).Error
	if err != nil {
		m.logger.Warn("failed to renew job leases", "error", err)
		return
	}

	var records []database.Job
	if err := m.db.WithContext(ctx).Select("id", "status", "owner").Where("id IN ?", ids).Find(&records).Error; err != nil {
		m.logger.Warn("failed to check running jobs", "error", err)
		return
	}
	owned := make(map[string]bool, len(records))
	for _, r := range records {
		owned[r.ID] = r.Owner == m.owner && JobStatus(r.Status) != StatusCancelled
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		if owned[id] {
			continue
		}
		if aj, ok := m.active[id]; ok {
			m.logger.Info("job stopped by another process", "job_id", id)
			aj.cancel()
		}
	}
}

func runningStatuses() []string {
	return []string{
		string(StatusResolving),
		string(StatusDownloading),
		string(StatusMerging),
	}
}

func finishedStatuses() []string {
	return []string{
		string(StatusCompleted),
		string(StatusFailed),
		string(StatusCancelled),
	}
}

// withLiveProgress overlays in-memory progress on a stored job
func (m *Manager) withLiveProgress(job Job) Job {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if aj, ok := m.active[job.ID]; ok {
		job.Progress = aj.job.Progress
		job.SegmentsDone = aj.job.SegmentsDone
		job.SegmentsTotal = aj.job.SegmentsTotal
		job.BytesDownloaded = aj.job.BytesDownloaded
	}
	return job
}

// updateJobInDB saves the full job record of a job this manager owns. A
// cancelled job stays cancelled.
func (m *Manager) updateJobInDB(job Job) error {
	// Update only: a job removed while running must not come back
	record := jobToRecord(job)
	query := m.db.Model(&database.Job{}).Where("id = ? AND owner = ?", job.ID, m.owner)
	if job.Status != StatusCancelled {
		query = query.Where("status <> ?", string(StatusCancelled))
	}
	res := query.Select("*").Omit("id", "created_at", "owner", "lease_at").Updates(&record)
	if res.Error != nil {
		m.logger.Error("failed to update job in db", "error", res.Error, "job_id", job.ID)
		return res.Error
	}
	if res.RowsAffected == 0 {
		m.logger.Info("job no longer owned, update dropped", "job_id", job.ID, "status", job.Status)
		return errJobReleased
	}
	m.logger.Debug("updated job in db", "job_id", job.ID, "status", job.Status, "progress", job.Progress)
	return nil
}

// jobToRecord converts a Job to database.Job
func jobToRecord(job Job) database.Job {
	return database.Job{
		ID:              job.ID,
		StreamID:        job.StreamID,
		Name:            job.Name,
		ManifestURL:     job.ManifestURL,
		Headers:         database.EncodeHeaders(job.Headers),
		Status:          string(job.Status),
		Progress:        job.Progress,
		SegmentsDone:    job.SegmentsDone,
		SegmentsTotal:   job.SegmentsTotal,
		BytesDownloaded: job.BytesDownloaded,
		OutputPath:      job.OutputPath,
		OutputSize:      job.OutputSize,
		Error:           job.Error,
		CreatedAt:       job.CreatedAt,
		StartedAt:       job.StartedAt,
		CompletedAt:     job.CompletedAt,
	}
}

// recordToJob converts a database.Job to Job
func recordToJob(r database.Job) Job {
	return Job{
		ID:              r.ID,
		StreamID:        r.StreamID,
		Name:            r.Name,
		ManifestURL:     r.ManifestURL,
		Headers:         r.HeaderMap(),
		Status:          JobStatus(r.Status),
		Progress:        r.Progress,
		SegmentsDone:    r.SegmentsDone,
		SegmentsTotal:   r.SegmentsTotal,
		BytesDownloaded: r.BytesDownloaded,
		OutputPath:      r.OutputPath,
		OutputSize:      r.OutputSize,
		Error:           r.Error,
		CreatedAt:       r.CreatedAt,
		StartedAt:       r.StartedAt,
		CompletedAt:     r.CompletedAt,
	}
}

// triggerProgressCallback safely triggers the progress callback
func (m *Manager) triggerProgressCallback(job Job) {
	m.mu.RLock()
	callback := m.onProgress
	m.mu.RUnlock()

	if callback != nil {
		go callback(job)
	}
}

// triggerCompleteCallback safely triggers the complete callback
func (m *Manager) triggerCompleteCallback(job Job) {
	m.mu.RLock()
	callback := m.onComplete
	m.mu.RUnlock()

	if callback != nil {
		go callback(job)
	}
}

// triggerErrorCallback safely triggers the error callback
func (m *Manager) triggerErrorCallback(job Job, err error) {
	m.mu.RLock()
	callback := m.onError
	m.mu.RUnlock()

	if callback != nil {
		go callback(job, err)
	}
}
