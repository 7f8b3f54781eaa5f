package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"

	"github.com/justchokingaround/hlsgrab/internal/downloader"
	"github.com/justchokingaround/hlsgrab/internal/tui/styles"
)

// QueueSource is the part of the queue manager the view drives
type QueueSource interface {
	GetQueue(ctx context.Context) ([]downloader.Job, error)
	Cancel(ctx context.Context, id string) error
	Retry(ctx context.Context, id string) error
	RemoveFromQueue(ctx context.Context, id string) error
}

const refreshInterval = 300 * time.Millisecond

type queueTickMsg struct{}

type queueRefreshMsg struct {
	jobs []downloader.Job
	err  error
}

type queueActionMsg struct {
	err error
}

// QueueModel lists queued jobs with live progress
type QueueModel struct {
	source       QueueSource
	jobs         []downloader.Job
	cursor       int
	bar          progress.Model
	width        int
	err          error
	exitWhenIdle bool
	loaded       bool
}

// NewQueueModel creates the view. With exitWhenIdle the program quits once
// no job is queued or running.
func NewQueueModel(source QueueSource, exitWhenIdle bool) QueueModel {
	return QueueModel{
		source: source,
		bar: progress.New(
			progress.WithDefaultGradient(),
			progress.WithWidth(20),
			progress.WithoutPercentage(),
		),
		width:        100,
		exitWhenIdle: exitWhenIdle,
	}
}

func (m QueueModel) Init() tea.Cmd {
	return m.refresh()
}

func (m QueueModel) refresh() tea.Cmd {
	return func() tea.Msg {
		jobs, err := m.source.GetQueue(context.Background())
		return queueRefreshMsg{jobs: jobs, err: err}
	}
}

func (m QueueModel) tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(time.Time) tea.Msg { return queueTickMsg{} })
}

func (m QueueModel) action(fn func(ctx context.Context, id string) error) tea.Cmd {
	if m.cursor >= len(m.jobs) {
		return nil
	}
	id := m.jobs[m.cursor].ID
	return func() tea.Msg {
		return queueActionMsg{err: fn(context.Background(), id)}
	}
}

func (m QueueModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		switch {
		case msg.Width > 120:
			m.bar.Width = 40
		case msg.Width > 80:
			m.bar.Width = 30
		default:
			m.bar.Width = 20
		}
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			return m, tea.Quit
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			}
		case "down", "j":
			if m.cursor < len(m.jobs)-1 {
				m.cursor++
			}
		case "c":
			return m, m.action(m.source.Cancel)
		case "r":
			return m, m.action(m.source.Retry)
		case "x":
			return m, m.action(m.source.RemoveFromQueue)
		}
		return m, nil

	case queueTickMsg:
		return m, m.refresh()

	case queueRefreshMsg:
		m.loaded = true
		if msg.err != nil {
			m.err = msg.err
			return m, m.tick()
		}
		m.jobs = msg.jobs
		if m.cursor >= len(m.jobs) {
			m.cursor = max(len(m.jobs)-1, 0)
		}
		if m.exitWhenIdle && idle(m.jobs) {
			return m, tea.Quit
		}
		return m, m.tick()

	case queueActionMsg:
		m.err = msg.err
		return m, m.refresh()
	}

	return m, nil
}

func idle(jobs []downloader.Job) bool {
	for _, job := range jobs {
		if job.Status == downloader.StatusQueued || job.Status.IsActive() {
			return false
		}
	}
	return true
}

func (m QueueModel) View() string {
	var b strings.Builder

	b.WriteString(styles.TitleStyle.Render("Queue"))
	b.WriteString(styles.MetadataStyle.Render(fmt.Sprintf("  %d jobs", len(m.jobs))))
	b.WriteString("\n\n")

	if m.loaded && len(m.jobs) == 0 {
		b.WriteString(styles.HelpStyle.Render("queue is empty"))
		b.WriteString("\n")
	}

	nameWidth := max(m.width-m.bar.Width-40, 16)
	for i, job := range m.jobs {
		line := fmt.Sprintf("%s %s %s %3d%%  %s",
			styles.StatusIcon(job.Status),
			Cell(job.Name, nameWidth),
			m.bar.ViewAs(job.Progress/100),
			int(job.Progress),
			styles.FormatStatusBadge(job.Status))
		if meta := jobMeta(job); meta != "" {
			line += " " + styles.MetadataStyle.Render(meta)
		}

		if i == m.cursor {
			b.WriteString(styles.SelectedItemStyle.Render(line))
		} else {
			b.WriteString(styles.NormalItemStyle.Render(line))
		}
		b.WriteString("\n")
	}

	if m.err != nil {
		b.WriteString("\n" + styles.ErrorStyle.Render(m.err.Error()) + "\n")
	}

	b.WriteString("\n" + styles.HelpStyle.Render("j/k: move  c: cancel  r: retry  x: remove  q: quit") + "\n")
	return b.String()
}

func jobMeta(job downloader.Job) string {
	switch {
	case job.Status == downloader.StatusFailed && job.Error != "":
		return TruncateWithWidth(job.Error, 40)
	case job.Status == downloader.StatusCompleted && job.CompletedAt != nil:
		return humanize.Bytes(uint64(job.OutputSize)) + ", " + humanize.Time(*job.CompletedAt)
	case job.SegmentsTotal > 0:
		return fmt.Sprintf("%d/%d, %s", job.SegmentsDone, job.SegmentsTotal, humanize.Bytes(uint64(job.BytesDownloaded)))
	}
	return ""
}
