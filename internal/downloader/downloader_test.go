package downloader

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/justchokingaround/hlsgrab/internal/downloader/hls"
	"github.com/justchokingaround/hlsgrab/internal/downloader/merge"
)

func TestJobStatusString(t *testing.T) {
	tests := []struct {
		status JobStatus
		want   string
	}{
		{StatusQueued, "queued"},
		{StatusResolving, "resolving"},
		{StatusDownloading, "downloading"},
		{StatusMerging, "merging"},
		{StatusCompleted, "completed"},
		{StatusFailed, "failed"},
		{StatusCancelled, "cancelled"},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.status.String())
		})
	}
}

func TestJobStatusIsActive(t *testing.T) {
	tests := []struct {
		status   JobStatus
		expected bool
	}{
		{StatusQueued, false},
		{StatusResolving, true},
		{StatusDownloading, true},
		{StatusMerging, true},
		{StatusCompleted, false},
		{StatusFailed, false},
		{StatusCancelled, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.status.IsActive())
		})
	}
}

func TestJobStatusIsComplete(t *testing.T) {
	tests := []struct {
		status   JobStatus
		expected bool
	}{
		{StatusQueued, false},
		{StatusResolving, false},
		{StatusDownloading, false},
		{StatusMerging, false},
		{StatusCompleted, true},
		{StatusFailed, true},
		{StatusCancelled, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.status.IsComplete())
		})
	}
}

func TestProgressEventPercent(t *testing.T) {
	assert.Equal(t, 0, ProgressEvent{}.Percent())
	assert.Equal(t, 33, ProgressEvent{Completed: 1, Total: 3}.Percent())
	assert.Equal(t, 100, ProgressEvent{Completed: 7, Total: 7}.Percent())
}

func TestDownloadFailedUnwraps(t *testing.T) {
	cause := &hls.SegmentFetchError{Index: 4, Attempts: 3, Cause: errors.New("reset")}
	err := error(&DownloadFailed{Index: 4, Cause: cause})

	var sfe *hls.SegmentFetchError
	assert.True(t, errors.As(err, &sfe))
	assert.Equal(t, 4, sfe.Index)
	assert.Contains(t, err.Error(), "segment 4")
}

func TestMultiNotifierFansOut(t *testing.T) {
	a, b := &recordingNotifier{}, &recordingNotifier{}
	multi := MultiNotifier{a, NopNotifier{}, b}

	multi.Progress(ProgressEvent{JobID: "j", Phase: PhaseDownload})
	multi.StatusChanged(Job{Status: StatusMerging})
	multi.Completed(Job{ID: "j"}, &merge.Artifact{Path: "/x"})
	multi.Failed(Job{ID: "j"}, errors.New("x"))

	for _, n := range []*recordingNotifier{a, b} {
		assert.Len(t, n.events, 1)
		assert.Equal(t, []JobStatus{StatusMerging}, n.statuses)
		assert.Len(t, n.completed, 1)
		assert.Len(t, n.failed, 1)
	}
}
