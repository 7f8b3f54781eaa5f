package hls

import (
	"errors"
	"fmt"
)

// ErrEmptyManifest is returned when a playlist parses to zero segments.
// It is never retried.
var ErrEmptyManifest = errors.New("playlist has no segments to download")

// ErrEncrypted is returned for media playlists whose segments need a key.
var ErrEncrypted = errors.New("encrypted playlists are not supported")

// TransientNetworkError covers transport failures and non-auth error statuses.
type TransientNetworkError struct {
	URL        string
	StatusCode int // 0 when no response was received
	Err        error
}

func (e *TransientNetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transient network error: HTTP %d for %s", e.StatusCode, e.URL)
	}
	return fmt.Sprintf("transient network error for %s: %v", e.URL, e.Err)
}

func (e *TransientNetworkError) Unwrap() error {
	return e.Err
}

// AuthExpiredError is returned for 401/403 responses. The caller is expected
// to refresh credentials before trying again.
type AuthExpiredError struct {
	URL        string
	StatusCode int
}

func (e *AuthExpiredError) Error() string {
	return fmt.Sprintf("authorization rejected: HTTP %d for %s", e.StatusCode, e.URL)
}

// IntegrityError marks a segment whose payload failed validation.
type IntegrityError struct {
	URL  string
	Size int64
	Min  int64
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("segment %s is %d bytes, below the %d byte minimum", e.URL, e.Size, e.Min)
}

// SegmentFetchError is the terminal failure for one segment once its retry
// budget is spent.
type SegmentFetchError struct {
	Index    int
	Attempts int
	Cause    error
}

func (e *SegmentFetchError) Error() string {
	if e.Attempts > 0 {
		return fmt.Sprintf("segment %d failed after %d attempts: %v", e.Index, e.Attempts, e.Cause)
	}
	return fmt.Sprintf("segment %d: %v", e.Index, e.Cause)
}

func (e *SegmentFetchError) Unwrap() error {
	return e.Cause
}

// IsAuthExpired reports whether err carries an authorization failure.
func IsAuthExpired(err error) bool {
	var authErr *AuthExpiredError
	return errors.As(err, &authErr)
}

// IsRetryable reports whether a fetch attempt that failed with err may be
// tried again.
func IsRetryable(err error) bool {
	var (
		netErr       *TransientNetworkError
		authErr      *AuthExpiredError
		integrityErr *IntegrityError
	)
	return errors.As(err, &netErr) || errors.As(err, &authErr) || errors.As(err, &integrityErr)
}
