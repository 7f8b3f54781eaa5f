package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/justchokingaround/hlsgrab/internal/database"
	"github.com/justchokingaround/hlsgrab/internal/downloader"
	"github.com/justchokingaround/hlsgrab/internal/notify"
	"github.com/justchokingaround/hlsgrab/internal/tui"
)

// queueRunner holds the manager of the current process
type queueRunner struct {
	manager *downloader.Manager
}

func newQueueManager(notifier downloader.Notifier) (*downloader.Manager, error) {
	pipeline, err := newPipeline(cfg, database.GetDB(), notifier, logger)
	if err != nil {
		return nil, err
	}
	return downloader.NewManager(database.GetDB(), &cfg.Downloads, pipeline, logger)
}

// resolveID accepts a full job ID or a unique prefix of one
func resolveID(ctx context.Context, m *downloader.Manager, prefix string) (string, error) {
	jobs, err := m.GetQueue(ctx)
	if err != nil {
		return "", err
	}
	var matches []string
	for _, job := range jobs {
		if job.ID == prefix {
			return job.ID, nil
		}
		if strings.HasPrefix(job.ID, prefix) {
			matches = append(matches, job.ID)
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("no job matches %q", prefix)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("%q matches %d jobs", prefix, len(matches))
	}
}

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Manage the download queue",
}

var queueAddCmd = &cobra.Command{
	Use:   "add <manifest-url>...",
	Short: "Add streams to the queue",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		streamID, _ := cmd.Flags().GetString("stream")
		rawHeaders, _ := cmd.Flags().GetStringArray("header")
		if name != "" && len(args) > 1 {
			return fmt.Errorf("--name can only be used with a single URL")
		}

		headers, err := parseHeaders(rawHeaders)
		if err != nil {
			return err
		}

		m, err := newQueueManager(notify.NewLog(logger))
		if err != nil {
			return err
		}

		var failed int
		for _, u := range args {
			job, err := m.AddToQueue(cmd.Context(), downloader.Job{
				ManifestURL: u,
				Name:        name,
				StreamID:    streamID,
				Headers:     headers,
			})
			if err != nil {
				failed++
				fmt.Fprintf(os.Stderr, "✗ %s: %v\n", u, err)
				continue
			}
			fmt.Printf("queued %s %s\n", shortID(job.ID), job.Name)
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d URLs were not queued", failed, len(args))
		}
		return nil
	},
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued, running and finished jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		m, err := newQueueManager(notify.NewLog(logger))
		if err != nil {
			return err
		}
		jobs, err := m.GetQueue(cmd.Context())
		if err != nil {
			return err
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(jobs)
		}
		printJobs(os.Stdout, jobs)
		return nil
	},
}

var queueFindCmd = &cobra.Command{
	Use:   "find <query>",
	Short: "Fuzzy search jobs by name and URL",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := newQueueManager(notify.NewLog(logger))
		if err != nil {
			return err
		}
		jobs, err := m.Search(cmd.Context(), strings.Join(args, " "))
		if err != nil {
			return err
		}
		printJobs(os.Stdout, jobs)
		return nil
	},
}

var queueRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Process the queue until it is empty",
	RunE: func(cmd *cobra.Command, args []string) error {
		useTUI, _ := cmd.Flags().GetBool("tui")
		workers, _ := cmd.Flags().GetInt("workers")

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		var n downloader.Notifier = notify.NewLog(logger)
		if !useTUI {
			n = downloader.MultiNotifier{n, notify.NewConsole(os.Stderr)}
		}
		m, err := newQueueManager(n)
		if err != nil {
			return err
		}
		if workers > 0 {
			m.SetConcurrency(workers)
		}

		running.Store(&queueRunner{manager: m})
		defer running.Store(nil)

		if !useTUI {
			return m.Drain(ctx)
		}

		if err := m.Start(ctx); err != nil {
			return err
		}
		defer m.Stop()

		p := tea.NewProgram(tui.NewQueueModel(m, true), tea.WithContext(ctx))
		if _, err := p.Run(); err != nil && ctx.Err() == nil {
			return fmt.Errorf("failed to run queue view: %w", err)
		}
		return nil
	},
}

// idCommand builds a command that applies fn to one job
func idCommand(use, short, done string, fn func(m *downloader.Manager, ctx context.Context, id string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <job-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := newQueueManager(notify.NewLog(logger))
			if err != nil {
				return err
			}
			id, err := resolveID(cmd.Context(), m, args[0])
			if err != nil {
				return err
			}
			if err := fn(m, cmd.Context(), id); err != nil {
				return err
			}
			fmt.Printf("%s %s\n", done, shortID(id))
			return nil
		},
	}
}

var queueClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every job that is not running",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := newQueueManager(notify.NewLog(logger))
		if err != nil {
			return err
		}
		return m.ClearQueue(cmd.Context())
	},
}

func init() {
	queueAddCmd.Flags().StringP("name", "n", "", "name used in the output filename")
	queueAddCmd.Flags().String("stream", "", "stream identifier passed to the auth provider")
	queueAddCmd.Flags().StringArrayP("header", "H", nil, `extra request header, "Key: Value" (repeatable)`)

	queueListCmd.Flags().Bool("json", false, "print jobs as JSON")

	queueRunCmd.Flags().Bool("tui", false, "show an interactive queue view")
	queueRunCmd.Flags().IntP("workers", "w", 0, "number of concurrent jobs (default: downloads.workers)")

	queueCmd.AddCommand(queueAddCmd)
	queueCmd.AddCommand(queueListCmd)
	queueCmd.AddCommand(queueFindCmd)
	queueCmd.AddCommand(queueRunCmd)
	queueCmd.AddCommand(queueClearCmd)
	queueCmd.AddCommand(idCommand("retry", "Requeue a failed or cancelled job", "requeued",
		(*downloader.Manager).Retry))
	queueCmd.AddCommand(idCommand("cancel", "Cancel a queued or running job", "cancelled",
		(*downloader.Manager).Cancel))
	queueCmd.AddCommand(idCommand("remove", "Remove a job from the queue", "removed",
		(*downloader.Manager).RemoveFromQueue))
}
