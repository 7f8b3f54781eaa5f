package main

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"gorm.io/gorm"

	"github.com/justchokingaround/hlsgrab/internal/auth"
	"github.com/justchokingaround/hlsgrab/internal/config"
	"github.com/justchokingaround/hlsgrab/internal/downloader"
	"github.com/justchokingaround/hlsgrab/internal/downloader/hls"
	"github.com/justchokingaround/hlsgrab/internal/downloader/merge"
	grabhttp "github.com/justchokingaround/hlsgrab/internal/http"
	"github.com/justchokingaround/hlsgrab/internal/tui"
	"github.com/justchokingaround/hlsgrab/internal/workspace"
)

// newPipeline wires the download stages from configuration
func newPipeline(cfg *config.Config, db *gorm.DB, notifier downloader.Notifier, logger *slog.Logger) (*downloader.Pipeline, error) {
	clientCfg := grabhttp.DefaultClientConfig()
	if cfg.Downloads.SegmentTimeout > 0 {
		clientCfg.Timeout = cfg.Downloads.SegmentTimeout
	}
	if cfg.Downloads.UserAgent != "" {
		clientCfg.UserAgent = cfg.Downloads.UserAgent
	}
	clientCfg.Debug = debugMode
	clientCfg.Logger = logger
	client := grabhttp.NewClient(clientCfg)

	fetcher := hls.NewFetcher(client, hls.FetcherConfig{
		RetryLimit:        cfg.Downloads.RetryLimit,
		BackoffBase:       cfg.Downloads.BackoffBase,
		BackoffMax:        cfg.Downloads.BackoffMax,
		MinSegmentBytes:   cfg.Downloads.MinSegmentBytes,
		RequestsPerSecond: cfg.Downloads.RequestsPerSecond,
	}, logger)

	remuxer := merge.NewFFmpegRemuxer(cfg.Merge.FFmpegPath, cfg.Merge.Container, logger)
	merger := merge.NewMerger(remuxer, merge.Config{
		Timeout:      cfg.Merge.Timeout,
		TimeoutPerMB: cfg.Merge.TimeoutPerMB,
	}, logger)

	workspaces, err := workspace.NewManager(cfg.Workspace.Root, cfg.Workspace.MinFreeSpaceMB, logger)
	if err != nil {
		return nil, err
	}

	provider, err := auth.New(&cfg.Auth, db, logger)
	if err != nil {
		return nil, err
	}

	pipeline := downloader.NewPipeline(
		workspaces,
		hls.NewResolver(client, logger),
		downloader.NewOrchestrator(fetcher, cfg.Downloads.Concurrency, notifier, logger),
		merger,
		downloader.PipelineConfig{
			OutputDir:        cfg.Downloads.OutputDir,
			FilenameTemplate: cfg.Downloads.FilenameTemplate,
			Extension:        remuxer.Extension(),
		},
		notifier,
		logger,
	)
	pipeline.SetAuthProvider(provider)
	return pipeline, nil
}

// parseHeaders turns repeated "Key: Value" flags into a header map
func parseHeaders(values []string) (map[string]string, error) {
	if len(values) == 0 {
		return nil, nil
	}
	headers := make(map[string]string, len(values))
	for _, v := range values {
		key, value, ok := strings.Cut(v, ":")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid header %q, expected \"Key: Value\"", v)
		}
		headers[http.CanonicalHeaderKey(key)] = strings.TrimSpace(value)
	}
	return headers, nil
}

// printJobs writes jobs as a fixed-width table
func printJobs(w io.Writer, jobs []downloader.Job) {
	if len(jobs) == 0 {
		fmt.Fprintln(w, "queue is empty")
		return
	}

	fmt.Fprintf(w, "%s  %s  %s  %s  %s\n",
		tui.Cell("ID", 8), tui.Cell("NAME", 32), tui.Cell("STATUS", 11), tui.Cell("PROGRESS", 8), "DETAIL")
	for _, job := range jobs {
		detail := job.ManifestURL
		switch {
		case job.Status == downloader.StatusFailed && job.Error != "":
			detail = job.Error
		case job.OutputPath != "":
			detail = job.OutputPath
		}
		fmt.Fprintf(w, "%s  %s  %s  %s  %s\n",
			tui.Cell(shortID(job.ID), 8),
			tui.Cell(job.Name, 32),
			tui.Cell(string(job.Status), 11),
			tui.Cell(fmt.Sprintf("%3.0f%%", job.Progress), 8),
			tui.TruncateWithWidth(detail, 60))
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
