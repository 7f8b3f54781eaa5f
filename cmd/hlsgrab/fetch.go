package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/justchokingaround/hlsgrab/internal/clipboard"
	"github.com/justchokingaround/hlsgrab/internal/database"
	"github.com/justchokingaround/hlsgrab/internal/downloader"
	"github.com/justchokingaround/hlsgrab/internal/downloader/merge"
	"github.com/justchokingaround/hlsgrab/internal/notify"
	"github.com/justchokingaround/hlsgrab/internal/tui"
)

// fetchCmd downloads one stream in the foreground
var fetchCmd = &cobra.Command{
	Use:   "fetch [manifest-url]",
	Short: "Download a stream now",
	Long: `Download the HLS stream at manifest-url into a single media file.

With --clipboard the URL is read from the clipboard when omitted, and the
path of the finished file is copied back.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		useTUI, _ := cmd.Flags().GetBool("tui")
		useClipboard, _ := cmd.Flags().GetBool("clipboard")
		asJSON, _ := cmd.Flags().GetBool("json")
		name, _ := cmd.Flags().GetString("name")
		streamID, _ := cmd.Flags().GetString("stream")
		output, _ := cmd.Flags().GetString("output")
		rawHeaders, _ := cmd.Flags().GetStringArray("header")

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		clip := clipboard.NewService(clipboard.Commands{
			Read:  cfg.Clipboard.ReadCommand,
			Write: cfg.Clipboard.WriteCommand,
		}, logger)

		var manifestURL string
		switch {
		case len(args) == 1:
			manifestURL = args[0]
		case useClipboard:
			text, err := clip.Read(ctx)
			if err != nil {
				return fmt.Errorf("failed to read clipboard: %w", err)
			}
			manifestURL = text
		default:
			return fmt.Errorf("a manifest URL is required (or use --clipboard)")
		}

		headers, err := parseHeaders(rawHeaders)
		if err != nil {
			return err
		}

		job := &downloader.Job{
			ManifestURL: manifestURL,
			Name:        name,
			StreamID:    streamID,
			Headers:     headers,
			OutputPath:  output,
		}

		logNotifier := notify.NewLog(logger)
		pipeline, err := newPipeline(cfg, database.GetDB(), logNotifier, logger)
		if err != nil {
			return err
		}

		var artifact *merge.Artifact
		if useTUI {
			artifact, err = tui.RunFetch(ctx, displayName(job), func(ctx context.Context, n *tui.ProgramNotifier) (*merge.Artifact, error) {
				pipeline.SetNotifier(downloader.MultiNotifier{logNotifier, n})
				return pipeline.Process(ctx, job)
			})
		} else {
			var n downloader.Notifier = logNotifier
			if !asJSON {
				n = downloader.MultiNotifier{logNotifier, notify.NewConsole(os.Stderr)}
			}
			pipeline.SetNotifier(n)
			artifact, err = pipeline.Process(ctx, job)
		}
		if err != nil {
			return err
		}

		if useClipboard {
			if err := clip.Write(ctx, artifact.Path); err != nil {
				logger.Warn("failed to copy path to clipboard", "error", err)
			}
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(artifact)
		}
		if useTUI {
			fmt.Println(artifact.Path)
		}
		return nil
	},
}

func displayName(job *downloader.Job) string {
	switch {
	case job.Name != "":
		return job.Name
	case job.StreamID != "":
		return job.StreamID
	}
	return job.ManifestURL
}

func init() {
	fetchCmd.Flags().StringP("name", "n", "", "name used in the output filename")
	fetchCmd.Flags().String("stream", "", "stream identifier passed to the auth provider")
	fetchCmd.Flags().StringP("output", "o", "", "output file path (default: output_dir and filename_template)")
	fetchCmd.Flags().StringArrayP("header", "H", nil, `extra request header, "Key: Value" (repeatable)`)
	fetchCmd.Flags().Bool("tui", false, "show an interactive progress view")
	fetchCmd.Flags().Bool("clipboard", false, "read the URL from and copy the result to the clipboard")
	fetchCmd.Flags().Bool("json", false, "print the artifact as JSON")
	fetchCmd.MarkFlagsMutuallyExclusive("tui", "json")
}
