package downloader

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/justchokingaround/hlsgrab/internal/downloader/merge"
)

// recordingNotifier keeps every event it receives
type recordingNotifier struct {
	mu        sync.Mutex
	events    []ProgressEvent
	statuses  []JobStatus
	completed []Job
	failed    []error
}

func (n *recordingNotifier) Progress(ev ProgressEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
}

func (n *recordingNotifier) Completed(job Job, _ *merge.Artifact) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.completed = append(n.completed, job)
}

func (n *recordingNotifier) Failed(_ Job, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failed = append(n.failed, err)
}

func (n *recordingNotifier) StatusChanged(job Job) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.statuses = append(n.statuses, job.Status)
}

func (n *recordingNotifier) phaseEvents(phase Phase) []ProgressEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []ProgressEvent
	for _, ev := range n.events {
		if ev.Phase == phase {
			out = append(out, ev)
		}
	}
	return out
}

// sleepRecorder captures backoff delays without waiting
type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *sleepRecorder) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.delays)
}

// copyRemuxer stands in for ffmpeg by copying the concatenated stream
var copyRemuxer = merge.RemuxFunc(func(ctx context.Context, input, output string) error {
	in, err := os.Open(input)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(output)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
})

// hlsServer serves /stream/index.m3u8 listing count segments of size bytes.
// Segment i answers the first failures[i] requests with status.
type hlsServer struct {
	*httptest.Server
	count    int
	size     int
	failures map[int]int32
	status   int
	hits     []atomic.Int32
	manifest atomic.Int32
}

func newHLSServer(t *testing.T, count, size int) *hlsServer {
	t.Helper()
	s := &hlsServer{
		count:    count,
		size:     size,
		failures: map[int]int32{},
		status:   http.StatusServiceUnavailable,
		hits:     make([]atomic.Int32, count),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

func (s *hlsServer) ManifestURL() string {
	return s.URL + "/stream/index.m3u8?token=abc"
}

func (s *hlsServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/stream/index.m3u8" {
		s.manifest.Add(1)
		var b strings.Builder
		b.WriteString("#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-TARGETDURATION:6\n#EXT-X-MEDIA-SEQUENCE:0\n")
		for i := 0; i < s.count; i++ {
			fmt.Fprintf(&b, "#EXTINF:6.0,\nseg-%d.ts\n", i)
		}
		b.WriteString("#EXT-X-ENDLIST\n")
		_, _ = w.Write([]byte(b.String()))
		return
	}

	var index int
	if _, err := fmt.Sscanf(r.URL.Path, "/stream/seg-%d.ts", &index); err != nil || index < 0 || index >= s.count {
		http.NotFound(w, r)
		return
	}
	if s.hits[index].Add(1) <= s.failures[index] {
		w.WriteHeader(s.status)
		return
	}
	payload := make([]byte, s.size)
	for i := range payload {
		payload[i] = byte('a' + index)
	}
	_, _ = w.Write(payload)
}

func (s *hlsServer) segmentHits() int32 {
	var total int32
	for i := range s.hits {
		total += s.hits[i].Load()
	}
	return total
}
