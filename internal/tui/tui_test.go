package tui

import (
	"context"
	"errors"
	"sync"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justchokingaround/hlsgrab/internal/downloader"
	"github.com/justchokingaround/hlsgrab/internal/downloader/merge"
)

func TestTruncateWithWidth(t *testing.T) {
	assert.Equal(t, "short", TruncateWithWidth("short", 10))
	assert.Equal(t, "a long...", TruncateWithWidth("a long title", 9))
	assert.Equal(t, "日本...", TruncateWithWidth("日本語のタイトル", 8))
	assert.Equal(t, "..", TruncateWithWidth("abcdef", 2))
}

func TestCell(t *testing.T) {
	assert.Equal(t, "abc   ", Cell("abc", 6))
	assert.Equal(t, "abc...", Cell("abcdefgh", 6))
	assert.Equal(t, "日本  ", Cell("日本", 6))
}

func TestProgramNotifierForwardsEvents(t *testing.T) {
	var msgs []tea.Msg
	n := &ProgramNotifier{send: func(msg tea.Msg) { msgs = append(msgs, msg) }}

	n.Progress(downloader.ProgressEvent{JobID: "a", Completed: 1, Total: 2})
	n.StatusChanged(downloader.Job{ID: "a", Status: downloader.StatusMerging})
	n.Completed(downloader.Job{}, &merge.Artifact{})
	n.Failed(downloader.Job{}, errors.New("x"))

	require.Len(t, msgs, 2)
	assert.Equal(t, 1, msgs[0].(ProgressMsg).Completed)
	assert.Equal(t, downloader.StatusMerging, msgs[1].(StatusMsg).Status)
}

func TestFetchModelLifecycle(t *testing.T) {
	cancelled := false
	var model tea.Model = NewFetchModel("clip", func() { cancelled = true })

	model, _ = model.Update(StatusMsg{Name: "Episode 1", Status: downloader.StatusDownloading})
	model, _ = model.Update(ProgressMsg{JobID: "a", Completed: 1, Total: 4, Bytes: 4096, Phase: downloader.PhaseDownload})
	view := model.View()
	assert.Contains(t, view, "Episode 1")
	assert.Contains(t, view, " 25%")
	assert.Contains(t, view, "1/4 segments")

	model, _ = model.Update(StatusMsg{Status: downloader.StatusMerging})
	assert.Contains(t, model.View(), "merging")

	model, cmd := model.Update(DoneMsg{Artifact: &merge.Artifact{Path: "/out/ep1.mp4", Size: 2048}})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
	assert.Contains(t, model.View(), "/out/ep1.mp4")
	assert.False(t, cancelled)

	artifact, err := model.(FetchModel).Result()
	require.NoError(t, err)
	assert.Equal(t, "/out/ep1.mp4", artifact.Path)
}

func TestFetchModelQuitCancels(t *testing.T) {
	cancelled := 0
	var model tea.Model = NewFetchModel("clip", func() { cancelled++ })

	model, cmd := model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	assert.Nil(t, cmd)
	assert.Contains(t, model.View(), "cancelling...")
	model, _ = model.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	assert.Equal(t, 1, cancelled)

	model, _ = model.Update(DoneMsg{Err: context.Canceled})
	assert.Contains(t, model.View(), "context canceled")
	_, err := model.(FetchModel).Result()
	assert.ErrorIs(t, err, context.Canceled)
}

type fakeQueue struct {
	mu      sync.Mutex
	jobs    []downloader.Job
	actions []string
}

func (q *fakeQueue) GetQueue(ctx context.Context) ([]downloader.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]downloader.Job(nil), q.jobs...), nil
}

func (q *fakeQueue) record(action, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.actions = append(q.actions, action+":"+id)
	return nil
}

func (q *fakeQueue) Cancel(ctx context.Context, id string) error { return q.record("cancel", id) }

func (q *fakeQueue) Retry(ctx context.Context, id string) error { return q.record("retry", id) }

func (q *fakeQueue) RemoveFromQueue(ctx context.Context, id string) error {
	return q.record("remove", id)
}

func key(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestQueueModelActions(t *testing.T) {
	source := &fakeQueue{jobs: []downloader.Job{
		{ID: "1", Name: "first", Status: downloader.StatusDownloading, Progress: 50, SegmentsDone: 5, SegmentsTotal: 10},
		{ID: "2", Name: "second", Status: downloader.StatusFailed, Error: "download failed at segment 3"},
	}}

	var model tea.Model = NewQueueModel(source, false)
	model, cmd := model.Update(model.Init()())
	require.NotNil(t, cmd)

	view := model.View()
	assert.Contains(t, view, "2 jobs")
	assert.Contains(t, view, "first")
	assert.Contains(t, view, " 50%")
	assert.Contains(t, view, "5/10")
	assert.Contains(t, view, "download failed at segment 3")

	model, cmd = model.Update(key("c"))
	require.NotNil(t, cmd)
	model, _ = model.Update(cmd())

	model, _ = model.Update(key("j"))
	model, _ = model.Update(key("j"))
	model, cmd = model.Update(key("r"))
	model, _ = model.Update(cmd())
	_, cmd = model.Update(key("x"))
	cmd()

	assert.Equal(t, []string{"cancel:1", "retry:2", "remove:2"}, source.actions)
}

func TestQueueModelExitsWhenIdle(t *testing.T) {
	source := &fakeQueue{jobs: []downloader.Job{{ID: "1", Name: "a", Status: downloader.StatusQueued}}}
	var model tea.Model = NewQueueModel(source, true)

	model, cmd := model.Update(model.Init()())
	require.NotNil(t, cmd)

	source.jobs[0].Status = downloader.StatusCompleted
	_, cmd = model.Update(queueTickMsg{})
	_, cmd = model.Update(cmd())
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestQueueModelEmpty(t *testing.T) {
	var model tea.Model = NewQueueModel(&fakeQueue{}, false)
	model, _ = model.Update(model.Init()())
	assert.Contains(t, model.View(), "queue is empty")
}
