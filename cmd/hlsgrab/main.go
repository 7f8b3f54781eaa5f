package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/justchokingaround/hlsgrab/internal/config"
	"github.com/justchokingaround/hlsgrab/internal/database"
	"github.com/justchokingaround/hlsgrab/internal/downloader/tools"
)

var (
	// Version information (set via ldflags during build)
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// Global flags
	cfgFile   string
	logLevel  string
	noColor   bool
	debugMode bool

	// Global config and logger
	cfg    *config.Config
	logger *slog.Logger

	// running is the queue manager of `queue run`, for config reloads
	running atomic.Pointer[queueRunner]
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "hlsgrab",
	Short: "Download HLS streams into single media files",
	Long: `hlsgrab resolves an HLS playlist, downloads its segments concurrently with
retries, and remuxes them into one file with ffmpeg.

Streams can be fetched directly or added to a persistent queue that is
processed by a pool of workers.`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for commands that work without one
		switch {
		case cmd.Name() == "init" && cmd.Parent().Name() == "config",
			cmd.Name() == "path" && cmd.Parent().Name() == "config",
			cmd.Name() == "version":
			return nil
		}

		if err := config.InitializeDirs(); err != nil {
			return fmt.Errorf("failed to initialize directories: %w", err)
		}

		var v *viper.Viper
		var err error
		cfg, v, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		if debugMode && logLevel == "" {
			cfg.Logging.Level = "debug"
		}
		if logLevel != "" {
			cfg.Logging.Level = logLevel
		}
		if noColor {
			cfg.Logging.Color = false
		}

		logger, err = config.InitLogger(&cfg.Logging)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		if err := database.Init(&cfg.Database); err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}

		// Setup hot reload. Only the worker count applies to a running queue;
		// other settings take effect on the next command.
		if v.ConfigFileUsed() != "" {
			v.OnConfigChange(func(e fsnotify.Event) {
				logger.Info("config file changed", "name", e.Name)
				reloaded, err := config.Reload(v)
				if err != nil {
					logger.Error("failed to reload config", "error", err)
					return
				}
				if r := running.Load(); r != nil {
					r.manager.SetConcurrency(reloaded.Downloads.Workers)
					logger.Info("queue workers updated", "workers", reloaded.Downloads.Workers)
				}
			})
			v.WatchConfig()
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if err := database.Close(); err != nil && logger != nil {
			logger.Error("failed to close database", "error", err)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/hlsgrab/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "enable debug mode (verbose HTTP logging)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(doctorCmd)
	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(queueCmd)
}

// versionCmd displays version information
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Display version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("hlsgrab version %s\n", version)
		fmt.Printf("Commit: %s\n", commit)
		fmt.Printf("Built: %s\n", date)
	},
}

// configCmd handles configuration operations
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate default configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := defaultConfigPath()

		if _, err := os.Stat(configPath); err == nil {
			return fmt.Errorf("configuration file already exists: %s", configPath)
		}
		if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
		if err := config.SaveDefaultConfig(configPath); err != nil {
			return fmt.Errorf("failed to save default configuration: %w", err)
		}

		fmt.Printf("Default configuration generated successfully at: %s\n", configPath)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Display the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		shown := *cfg
		if shown.Auth.ClientSecret != "" {
			shown.Auth.ClientSecret = "********"
		}
		data, err := yaml.Marshal(&shown)
		if err != nil {
			return fmt.Errorf("failed to marshal config: %w", err)
		}
		fmt.Print(string(data))
		return nil
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Display configuration file path",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(defaultConfigPath())
	},
}

func defaultConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return filepath.Join(config.GetConfigDir(), "config.yaml")
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configPathCmd)
}

// doctorCmd checks the external tools and directories a download needs
var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check ffmpeg and the configured directories",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()

		ok := true
		info, err := tools.DetectFFmpeg(ctx, cfg.Merge.FFmpegPath)
		if err != nil {
			ok = false
			fmt.Printf("✗ ffmpeg: %v\n", err)
		} else {
			fmt.Printf("✓ ffmpeg %s (%s)\n", info.Version, info.Binary)
		}

		for _, dir := range []struct{ label, path string }{
			{"output", cfg.Downloads.OutputDir},
			{"workspace", cfg.Workspace.Root},
		} {
			if err := checkWritable(dir.path); err != nil {
				ok = false
				fmt.Printf("✗ %s directory: %v\n", dir.label, err)
			} else {
				fmt.Printf("✓ %s directory %s\n", dir.label, dir.path)
			}
		}

		fmt.Printf("✓ database %s\n", cfg.Database.Path)

		if !ok {
			return fmt.Errorf("some checks failed")
		}
		return nil
	},
}

func checkWritable(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".hlsgrab-check-*")
	if err != nil {
		return err
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}
