package hls

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/time/rate"

	grabhttp "github.com/justchokingaround/hlsgrab/internal/http"
)

// MPEGTSPacketSize is the smallest payload that can hold any media data.
const MPEGTSPacketSize = 188

// FetcherConfig controls retries and validation for segment downloads
type FetcherConfig struct {
	RetryLimit      int           // attempts per segment, including the first
	BackoffBase     time.Duration // delay before the second attempt
	BackoffMax      time.Duration // cap for the exponential delay
	MinSegmentBytes int64
	// RequestsPerSecond throttles segment requests across every fetch
	// sharing this Fetcher. 0 disables throttling.
	RequestsPerSecond float64
}

// DefaultFetcherConfig returns the settings used when nothing is configured
func DefaultFetcherConfig() FetcherConfig {
	return FetcherConfig{
		RetryLimit:      4,
		BackoffBase:     500 * time.Millisecond,
		BackoffMax:      8 * time.Second,
		MinSegmentBytes: MPEGTSPacketSize,
	}
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// ReauthFunc returns a fresh header set after an authorization failure.
type ReauthFunc func(ctx context.Context) (map[string]string, error)

// FetchRequest describes one segment to materialize on disk
type FetchRequest struct {
	Segment  Segment
	BaseURI  string
	DestPath string
	Headers  map[string]string
	// Reauth is consulted before retrying an attempt rejected with
	// AuthExpiredError. Optional.
	Reauth ReauthFunc
}

// RetrievedSegment is a verified segment file.
type RetrievedSegment struct {
	Index uint   `json:"index"`
	Path  string `json:"path"`
	Size  int64  `json:"size"`
}

// Fetcher downloads single segments with bounded retries
type Fetcher struct {
	client  *grabhttp.Client
	cfg     FetcherConfig
	limiter *rate.Limiter
	sleep   SleepFunc
	logger  *slog.Logger
}

// NewFetcher creates a fetcher. Zero values in cfg fall back to defaults.
func NewFetcher(client *grabhttp.Client, cfg FetcherConfig, logger *slog.Logger) *Fetcher {
	defaults := DefaultFetcherConfig()
	if cfg.RetryLimit <= 0 {
		cfg.RetryLimit = defaults.RetryLimit
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = defaults.BackoffBase
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = defaults.BackoffMax
	}
	if cfg.BackoffMax < cfg.BackoffBase {
		cfg.BackoffMax = cfg.BackoffBase
	}
	if cfg.MinSegmentBytes <= 0 {
		cfg.MinSegmentBytes = defaults.MinSegmentBytes
	}
	if logger == nil {
		logger = slog.Default()
	}

	f := &Fetcher{
		client: client,
		cfg:    cfg,
		sleep:  sleepContext,
		logger: logger.With("component", "fetcher"),
	}
	if cfg.RequestsPerSecond > 0 {
		burst := int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		f.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return f
}

// SetSleep replaces the backoff sleep. Used by tests to observe delays.
func (f *Fetcher) SetSleep(fn SleepFunc) {
	if fn != nil {
		f.sleep = fn
	}
}

// Config returns the effective configuration
func (f *Fetcher) Config() FetcherConfig {
	return f.cfg
}

// Backoff returns the delay before retry number attempt (1-based):
// base * 2^(attempt-1), capped at max.
func Backoff(base, max time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max || d <= 0 {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

// Fetch downloads req.Segment into req.DestPath. Failed attempts never leave
// a file behind. Once the retry budget is spent the last error is returned
// inside a *SegmentFetchError.
func (f *Fetcher) Fetch(ctx context.Context, req FetchRequest) (RetrievedSegment, error) {
	index := int(req.Segment.SequenceIndex)

	segmentURL, err := ResolveURI(req.BaseURI, req.Segment.URI)
	if err != nil {
		return RetrievedSegment{}, &SegmentFetchError{Index: index, Cause: err}
	}

	headers := req.Headers
	var lastErr error
	attempts := 0

	for attempt := 1; attempt <= f.cfg.RetryLimit; attempt++ {
		if err := ctx.Err(); err != nil {
			return RetrievedSegment{}, err
		}

		if attempt > 1 {
			if IsAuthExpired(lastErr) && req.Reauth != nil {
				fresh, err := req.Reauth(ctx)
				if err != nil {
					f.logger.Warn("credential refresh failed, retrying with previous headers",
						"segment", index, "error", err)
				} else {
					headers = fresh
				}
			}

			delay := Backoff(f.cfg.BackoffBase, f.cfg.BackoffMax, attempt-1)
			if err := f.sleep(ctx, delay); err != nil {
				return RetrievedSegment{}, err
			}
		}

		attempts++
		size, err := f.attempt(ctx, segmentURL, req.DestPath, headers)
		if err == nil {
			if attempt > 1 {
				f.logger.Info("segment recovered after retry", "segment", index, "attempt", attempt)
			}
			return RetrievedSegment{Index: req.Segment.SequenceIndex, Path: req.DestPath, Size: size}, nil
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return RetrievedSegment{}, ctxErr
		}

		lastErr = err
		if !IsRetryable(err) {
			break
		}

		f.logger.Warn("segment attempt failed",
			"segment", index,
			"attempt", attempt,
			"max_attempts", f.cfg.RetryLimit,
			"error", err)
	}

	return RetrievedSegment{}, &SegmentFetchError{Index: index, Attempts: attempts, Cause: lastErr}
}

// attempt performs one download and validation. The body is written to
// dest+".part" and renamed into place once it passes validation, so dest
// only ever holds a complete segment.
func (f *Fetcher) attempt(ctx context.Context, segmentURL, dest string, headers map[string]string) (size int64, err error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return 0, err
		}
	}

	partial := dest + ".part"
	file, err := os.Create(partial)
	if err != nil {
		return 0, fmt.Errorf("failed to create segment file: %w", err)
	}

	defer func() {
		if err != nil {
			_ = os.Remove(partial)
		}
	}()

	n, dlErr := f.client.Download(ctx, segmentURL, headers, file)
	closeErr := file.Close()

	if dlErr != nil {
		return 0, classify(segmentURL, dlErr)
	}
	if closeErr != nil {
		return 0, fmt.Errorf("failed to write segment file: %w", closeErr)
	}
	if n < f.cfg.MinSegmentBytes {
		return 0, &IntegrityError{URL: segmentURL, Size: n, Min: f.cfg.MinSegmentBytes}
	}
	if err := os.Rename(partial, dest); err != nil {
		return 0, fmt.Errorf("failed to store segment file: %w", err)
	}

	return n, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
