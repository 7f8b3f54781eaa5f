package downloader

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justchokingaround/hlsgrab/internal/downloader/hls"
	"github.com/justchokingaround/hlsgrab/internal/downloader/merge"
	grabhttp "github.com/justchokingaround/hlsgrab/internal/http"
	"github.com/justchokingaround/hlsgrab/internal/workspace"
)

type pipelineFixture struct {
	pipeline  *Pipeline
	notifier  *recordingNotifier
	sleeps    *sleepRecorder
	workspace string
	output    string
}

func newPipelineFixture(t *testing.T, retryLimit, concurrency int) *pipelineFixture {
	t.Helper()

	client := grabhttp.NewClient(grabhttp.DefaultClientConfig())
	fetcher := hls.NewFetcher(client, hls.FetcherConfig{
		RetryLimit:      retryLimit,
		BackoffBase:     100 * time.Millisecond,
		BackoffMax:      time.Second,
		MinSegmentBytes: hls.MPEGTSPacketSize,
	}, nil)
	sleeps := &sleepRecorder{}
	fetcher.SetSleep(sleeps.sleep)

	root := filepath.Join(t.TempDir(), "work")
	ws, err := workspace.NewManager(root, 0, nil)
	require.NoError(t, err)

	output := filepath.Join(t.TempDir(), "out")
	notifier := &recordingNotifier{}
	p := NewPipeline(
		ws,
		hls.NewResolver(client, nil),
		NewOrchestrator(fetcher, concurrency, nil, nil),
		merge.NewMerger(copyRemuxer, merge.DefaultConfig(), nil),
		PipelineConfig{OutputDir: output, FilenameTemplate: "{name}", Extension: ".mp4"},
		notifier,
		nil,
	)

	return &pipelineFixture{
		pipeline:  p,
		notifier:  notifier,
		sleeps:    sleeps,
		workspace: root,
		output:    output,
	}
}

// bytesUnder sums the sizes of all regular files below dir
func bytesUnder(t *testing.T, dir string) int64 {
	t.Helper()
	var total int64
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.Mode().IsRegular() {
			total += info.Size()
		}
		return nil
	})
	require.NoError(t, err)
	return total
}

func TestProcessRecoversFromFlakySegment(t *testing.T) {
	const mb = 1 << 20
	server := newHLSServer(t, 3, mb)
	server.failures[2] = 2

	f := newPipelineFixture(t, 3, 1)
	job := &Job{ManifestURL: server.ManifestURL(), StreamID: "show-e01"}

	artifact, err := f.pipeline.Process(context.Background(), job)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, artifact.Size, int64(mb*3/2))
	assert.Equal(t, 3, artifact.Segments)
	assert.Equal(t, 2, f.sleeps.count())
	assert.Equal(t, int32(3), server.hits[2].Load())

	assert.Equal(t, filepath.Join(f.output, "show-e01.mp4"), artifact.Path)
	assert.FileExists(t, artifact.Path)
	assert.Empty(t, dirEntries(t, f.workspace))

	assert.Equal(t, StatusCompleted, job.Status)
	assert.Equal(t, artifact.Path, job.OutputPath)
	assert.Equal(t, float64(100), job.Progress)
	assert.NotNil(t, job.CompletedAt)
	require.Len(t, f.notifier.completed, 1)
	assert.Empty(t, f.notifier.failed)

	assert.Equal(t, []JobStatus{StatusResolving, StatusDownloading, StatusMerging, StatusCompleted}, f.notifier.statuses)
	done := f.notifier.phaseEvents(PhaseDone)
	require.Len(t, done, 1)
	assert.Equal(t, 3, done[0].Completed)
}

func TestProcessFailsWhenSegmentExhaustsRetries(t *testing.T) {
	server := newHLSServer(t, 3, 1<<20)
	server.failures[2] = 100

	f := newPipelineFixture(t, 3, 1)
	job := &Job{ManifestURL: server.ManifestURL()}

	artifact, err := f.pipeline.Process(context.Background(), job)
	require.Error(t, err)
	assert.Nil(t, artifact)

	var sfe *hls.SegmentFetchError
	require.ErrorAs(t, err, &sfe)
	assert.Equal(t, 2, sfe.Index)
	assert.Equal(t, 3, sfe.Attempts)

	var failed *DownloadFailed
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, 2, failed.Index)

	assert.Equal(t, int32(3), server.hits[2].Load())
	assert.Empty(t, dirEntries(t, f.workspace))
	assert.Zero(t, bytesUnder(t, f.workspace))
	assert.Zero(t, bytesUnder(t, f.output))

	assert.Equal(t, StatusFailed, job.Status)
	assert.NotEmpty(t, job.Error)
	require.Len(t, f.notifier.failed, 1)
	assert.Len(t, f.notifier.phaseEvents(PhaseFailed), 1)
}

func TestProcessConcurrentSegments(t *testing.T) {
	server := newHLSServer(t, 12, 4096)
	f := newPipelineFixture(t, 3, 4)

	artifact, err := f.pipeline.Process(context.Background(), &Job{ManifestURL: server.ManifestURL(), Name: "clip"})
	require.NoError(t, err)

	data, err := os.ReadFile(artifact.Path)
	require.NoError(t, err)
	require.Len(t, data, 12*4096)
	for i := 0; i < 12; i++ {
		assert.Equal(t, byte('a'+i), data[i*4096], "segment %d out of order", i)
	}
}

func TestProcessEmptyManifest(t *testing.T) {
	var segmentRequests int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/index.m3u8" {
			segmentRequests++
		}
		_, _ = w.Write([]byte("#EXTM3U\n#EXT-X-TARGETDURATION:6\n#EXT-X-ENDLIST\n"))
	}))
	defer server.Close()

	f := newPipelineFixture(t, 3, 2)
	job := &Job{ManifestURL: server.URL + "/index.m3u8"}

	_, err := f.pipeline.Process(context.Background(), job)
	require.ErrorIs(t, err, hls.ErrEmptyManifest)
	assert.Zero(t, segmentRequests)
	assert.Zero(t, f.sleeps.count())
	assert.Equal(t, StatusFailed, job.Status)
	assert.Empty(t, dirEntries(t, f.workspace))
}

// tokenAuth accepts requests carrying the current token
type tokenAuth struct {
	token     string
	refreshes int
}

func (a *tokenAuth) Headers(ctx context.Context, streamID string) (map[string]string, error) {
	return map[string]string{"Authorization": "Bearer stale"}, nil
}

func (a *tokenAuth) Refresh(ctx context.Context, streamID string) (map[string]string, error) {
	a.refreshes++
	return map[string]string{"Authorization": "Bearer " + a.token}, nil
}

func TestProcessRefreshesCredentialsForManifest(t *testing.T) {
	segments := newHLSServer(t, 2, 512)
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer good" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		assert.Equal(t, "yes", r.Header.Get("X-Explicit"))
		segments.Config.Handler.ServeHTTP(w, r)
	}))
	defer proxy.Close()

	auth := &tokenAuth{token: "good"}
	f := newPipelineFixture(t, 3, 2)
	f.pipeline.SetAuthProvider(auth)

	job := &Job{
		ManifestURL: proxy.URL + "/stream/index.m3u8",
		Headers:     map[string]string{"X-Explicit": "yes"},
	}
	artifact, err := f.pipeline.Process(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, int64(1024), artifact.Size)
	assert.Equal(t, 1, auth.refreshes)
	// Provider credentials are not written back to the job
	assert.Equal(t, map[string]string{"X-Explicit": "yes"}, job.Headers)
}

func TestProcessAuthFailureWithoutProvider(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	f := newPipelineFixture(t, 3, 1)
	_, err := f.pipeline.Process(context.Background(), &Job{ManifestURL: server.URL + "/index.m3u8"})

	var authErr *hls.AuthExpiredError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, http.StatusUnauthorized, authErr.StatusCode)
}

func TestProcessCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/index.m3u8" {
			_, _ = w.Write([]byte("#EXTM3U\n#EXT-X-TARGETDURATION:6\n#EXTINF:6,\na.ts\n#EXTINF:6,\nb.ts\n#EXT-X-ENDLIST\n"))
			return
		}
		cancel()
		<-r.Context().Done()
	}))
	defer server.Close()

	f := newPipelineFixture(t, 3, 1)
	job := &Job{ManifestURL: server.URL + "/index.m3u8"}

	_, err := f.pipeline.Process(ctx, job)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StatusCancelled, job.Status)
	assert.Empty(t, dirEntries(t, f.workspace))
}

func TestProcessMergeFailureLeavesNothing(t *testing.T) {
	server := newHLSServer(t, 2, 1024)
	f := newPipelineFixture(t, 3, 1)
	f.pipeline.merger = merge.NewMerger(merge.RemuxFunc(func(ctx context.Context, input, output string) error {
		return os.WriteFile(output, []byte("tiny"), 0644)
	}), merge.DefaultConfig(), nil)

	_, err := f.pipeline.Process(context.Background(), &Job{ManifestURL: server.ManifestURL()})

	var mergeErr *merge.MergeError
	require.ErrorAs(t, err, &mergeErr)
	assert.Empty(t, dirEntries(t, f.workspace))
	assert.Zero(t, bytesUnder(t, f.output))
}

func TestProcessNamesAndPaths(t *testing.T) {
	server := newHLSServer(t, 1, 512)

	t.Run("default name from url", func(t *testing.T) {
		f := newPipelineFixture(t, 3, 1)
		job := &Job{ManifestURL: server.ManifestURL()}
		artifact, err := f.pipeline.Process(context.Background(), job)
		require.NoError(t, err)

		name := GenerateVideoID(server.ManifestURL())
		assert.Len(t, name, 12)
		assert.Equal(t, name, job.Name)
		assert.Equal(t, filepath.Join(f.output, name+".mp4"), artifact.Path)
		assert.NotEmpty(t, job.ID)
	})

	t.Run("duplicate names get a suffix", func(t *testing.T) {
		f := newPipelineFixture(t, 3, 1)
		first, err := f.pipeline.Process(context.Background(), &Job{ManifestURL: server.ManifestURL(), Name: "same"})
		require.NoError(t, err)
		second, err := f.pipeline.Process(context.Background(), &Job{ManifestURL: server.ManifestURL(), Name: "same"})
		require.NoError(t, err)

		assert.Equal(t, filepath.Join(f.output, "same.mp4"), first.Path)
		assert.Equal(t, filepath.Join(f.output, "same (1).mp4"), second.Path)
	})

	t.Run("explicit output path", func(t *testing.T) {
		f := newPipelineFixture(t, 3, 1)
		dest := filepath.Join(t.TempDir(), "nested", "movie.mp4")
		artifact, err := f.pipeline.Process(context.Background(), &Job{ManifestURL: server.ManifestURL(), OutputPath: dest})
		require.NoError(t, err)
		assert.Equal(t, dest, artifact.Path)
		assert.FileExists(t, dest)
	})

	t.Run("empty url", func(t *testing.T) {
		f := newPipelineFixture(t, 3, 1)
		_, err := f.pipeline.Process(context.Background(), &Job{})
		require.Error(t, err)
	})
}

func TestMoveFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a")
	dst := filepath.Join(dir, "b")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0644))

	require.NoError(t, moveFile(src, dst))
	assert.NoFileExists(t, src)
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	assert.True(t, errors.Is(moveFile(src, dst), os.ErrNotExist))
}
