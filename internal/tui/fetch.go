// Package tui renders interactive progress views for downloads.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"

	"github.com/justchokingaround/hlsgrab/internal/downloader"
	"github.com/justchokingaround/hlsgrab/internal/downloader/merge"
	"github.com/justchokingaround/hlsgrab/internal/tui/styles"
)

// ProgressMsg carries a progress event into the program
type ProgressMsg downloader.ProgressEvent

// StatusMsg reports a job status change
type StatusMsg downloader.Job

// DoneMsg ends a single-job view
type DoneMsg struct {
	Artifact *merge.Artifact
	Err      error
}

// ProgramNotifier forwards pipeline events to a running program
type ProgramNotifier struct {
	send func(tea.Msg)
}

// NewProgramNotifier creates a notifier that sends to p
func NewProgramNotifier(p *tea.Program) *ProgramNotifier {
	return &ProgramNotifier{send: p.Send}
}

func (n *ProgramNotifier) Progress(ev downloader.ProgressEvent) { n.send(ProgressMsg(ev)) }

func (n *ProgramNotifier) StatusChanged(job downloader.Job) { n.send(StatusMsg(job)) }

// Completed and Failed are reported through DoneMsg by RunFetch.
func (n *ProgramNotifier) Completed(downloader.Job, *merge.Artifact) {}

func (n *ProgramNotifier) Failed(downloader.Job, error) {}

// FetchModel shows the progress of one job
type FetchModel struct {
	name       string
	status     downloader.JobStatus
	event      downloader.ProgressEvent
	bar        progress.Model
	spinner    spinner.Model
	cancel     context.CancelFunc
	cancelling bool
	done       bool
	artifact   *merge.Artifact
	err        error
}

// NewFetchModel creates the view. cancel is called when the user quits
// before the job ends.
func NewFetchModel(name string, cancel context.CancelFunc) FetchModel {
	return FetchModel{
		name:   name,
		status: downloader.StatusQueued,
		bar: progress.New(
			progress.WithDefaultGradient(),
			progress.WithWidth(40),
			progress.WithoutPercentage(),
		),
		spinner: spinner.New(spinner.WithSpinner(spinner.Dot)),
		cancel:  cancel,
	}
}

func (m FetchModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m FetchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			if m.done {
				return m, tea.Quit
			}
			if !m.cancelling && m.cancel != nil {
				m.cancel()
			}
			m.cancelling = true
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.bar.Width = min(max(msg.Width-30, 10), 60)
		return m, nil

	case ProgressMsg:
		m.event = downloader.ProgressEvent(msg)
		return m, nil

	case StatusMsg:
		m.status = msg.Status
		if msg.Name != "" {
			m.name = msg.Name
		}
		return m, nil

	case DoneMsg:
		m.done = true
		m.artifact = msg.Artifact
		m.err = msg.Err
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m FetchModel) View() string {
	var b strings.Builder

	b.WriteString(styles.TitleStyle.Render("hlsgrab"))
	b.WriteString(" ")
	b.WriteString(styles.SubtitleStyle.Render(TruncateWithWidth(m.name, 60)))
	b.WriteString("\n\n")

	switch {
	case m.done && m.err != nil:
		b.WriteString(styles.ErrorStyle.Render("✗ " + m.err.Error()))
	case m.done:
		b.WriteString(styles.StatusIcon(downloader.StatusCompleted) + " ")
		b.WriteString(styles.PathStyle.Render(m.artifact.Path))
		b.WriteString(styles.MetadataStyle.Render(" (" + humanize.Bytes(uint64(m.artifact.Size)) + ")"))
	case m.status == downloader.StatusDownloading:
		b.WriteString(m.bar.ViewAs(float64(m.event.Percent()) / 100))
		b.WriteString(fmt.Sprintf(" %3d%%\n", m.event.Percent()))
		b.WriteString(styles.MetadataStyle.Render(fmt.Sprintf("%d/%d segments, %s",
			m.event.Completed, m.event.Total, humanize.Bytes(uint64(m.event.Bytes)))))
	default:
		b.WriteString(m.spinner.View() + " " + styles.FormatStatusBadge(m.status))
	}

	b.WriteString("\n\n")
	switch {
	case m.done:
	case m.cancelling:
		b.WriteString(styles.HelpStyle.Render("cancelling..."))
	default:
		b.WriteString(styles.HelpStyle.Render("q: cancel"))
	}
	b.WriteString("\n")

	return b.String()
}

// Result returns the outcome once the job has ended
func (m FetchModel) Result() (*merge.Artifact, error) {
	return m.artifact, m.err
}

// RunFetch runs fn while showing its progress. fn must report through the
// notifier it receives.
func RunFetch(ctx context.Context, name string, fn func(ctx context.Context, n *ProgramNotifier) (*merge.Artifact, error)) (*merge.Artifact, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(NewFetchModel(name, cancel))
	notifier := NewProgramNotifier(p)

	go func() {
		artifact, err := fn(ctx, notifier)
		p.Send(DoneMsg{Artifact: artifact, Err: err})
	}()

	final, err := p.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to run progress view: %w", err)
	}
	return final.(FetchModel).Result()
}
