package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// AppName is used for directory names and the env prefix
const AppName = "hlsgrab"

// Config represents the entire application configuration
type Config struct {
	Downloads DownloadsConfig `mapstructure:"downloads" yaml:"downloads"`
	Merge     MergeConfig     `mapstructure:"merge" yaml:"merge"`
	Workspace WorkspaceConfig `mapstructure:"workspace" yaml:"workspace"`
	Auth      AuthConfig      `mapstructure:"auth" yaml:"auth"`
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
	Database  DatabaseConfig  `mapstructure:"database" yaml:"database"`
	Clipboard ClipboardConfig `mapstructure:"clipboard" yaml:"clipboard"`
}

// DownloadsConfig controls segment fetching and the job queue
type DownloadsConfig struct {
	RetryLimit        int           `mapstructure:"retry_limit" yaml:"retry_limit"`
	BackoffBase       time.Duration `mapstructure:"backoff_base" yaml:"backoff_base"`
	BackoffMax        time.Duration `mapstructure:"backoff_max" yaml:"backoff_max"`
	MinSegmentBytes   int64         `mapstructure:"min_segment_bytes" yaml:"min_segment_bytes"`
	Concurrency       int           `mapstructure:"concurrency" yaml:"concurrency"` // 1 = sequential
	RequestsPerSecond float64       `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	SegmentTimeout    time.Duration `mapstructure:"segment_timeout" yaml:"segment_timeout"`
	Workers           int           `mapstructure:"workers" yaml:"workers"` // concurrent jobs in queue mode
	AutoResume        bool          `mapstructure:"auto_resume" yaml:"auto_resume"`
	OutputDir         string        `mapstructure:"output_dir" yaml:"output_dir"`
	FilenameTemplate  string        `mapstructure:"filename_template" yaml:"filename_template"`
	UserAgent         string        `mapstructure:"user_agent" yaml:"user_agent"`
}

// MergeConfig controls the remux step
type MergeConfig struct {
	FFmpegPath   string        `mapstructure:"ffmpeg_path" yaml:"ffmpeg_path"`
	Timeout      time.Duration `mapstructure:"timeout" yaml:"timeout"`
	TimeoutPerMB time.Duration `mapstructure:"timeout_per_mb" yaml:"timeout_per_mb"`
	Container    string        `mapstructure:"container" yaml:"container"`
}

// WorkspaceConfig controls per-job scratch directories
type WorkspaceConfig struct {
	Root           string `mapstructure:"root" yaml:"root"`
	MinFreeSpaceMB int    `mapstructure:"min_free_space_mb" yaml:"min_free_space_mb"`
}

// AuthConfig selects how request headers are produced
type AuthConfig struct {
	Type         string            `mapstructure:"type" yaml:"type"` // static, oauth2
	Headers      map[string]string `mapstructure:"headers" yaml:"headers"`
	TokenURL     string            `mapstructure:"token_url" yaml:"token_url"`
	ClientID     string            `mapstructure:"client_id" yaml:"client_id"`
	ClientSecret string            `mapstructure:"client_secret" yaml:"client_secret"`
	Scopes       []string          `mapstructure:"scopes" yaml:"scopes"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	Format     string `mapstructure:"format" yaml:"format"`
	File       string `mapstructure:"file" yaml:"file"`
	MaxSize    int    `mapstructure:"max_size" yaml:"max_size"` // megabytes
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge     int    `mapstructure:"max_age" yaml:"max_age"` // days
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
	Color      bool   `mapstructure:"color" yaml:"color"`
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path           string `mapstructure:"path" yaml:"path"`
	MaxConnections int    `mapstructure:"max_connections" yaml:"max_connections"`
	WALMode        bool   `mapstructure:"wal_mode" yaml:"wal_mode"`
}

// ClipboardConfig overrides the clipboard tools. Empty uses the native clipboard.
type ClipboardConfig struct {
	ReadCommand  string `mapstructure:"read_command" yaml:"read_command"`
	WriteCommand string `mapstructure:"write_command" yaml:"write_command"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Downloads: DownloadsConfig{
			RetryLimit:       4,
			BackoffBase:      500 * time.Millisecond,
			BackoffMax:       8 * time.Second,
			MinSegmentBytes:  188,
			Concurrency:      4,
			SegmentTimeout:   60 * time.Second,
			Workers:          2,
			AutoResume:       true,
			OutputDir:        filepath.Join(getHomeDir(), "Videos", AppName),
			FilenameTemplate: "{name}",
			UserAgent:        "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		},
		Merge: MergeConfig{
			FFmpegPath:   "ffmpeg",
			Timeout:      60 * time.Second,
			TimeoutPerMB: time.Second,
			Container:    "mp4",
		},
		Workspace: WorkspaceConfig{
			Root: filepath.Join(os.TempDir(), AppName),
		},
		Auth: AuthConfig{
			Type:    "static",
			Headers: map[string]string{},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     28,
			Compress:   true,
			Color:      true,
		},
		Database: DatabaseConfig{
			Path:           filepath.Join(GetDataDir(), AppName+".db"),
			MaxConnections: 4,
			WALMode:        true,
		},
	}
}

// setDefaults registers every key of Default() with v so env overrides work
// for keys absent from the file.
func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("downloads.retry_limit", d.Downloads.RetryLimit)
	v.SetDefault("downloads.backoff_base", d.Downloads.BackoffBase)
	v.SetDefault("downloads.backoff_max", d.Downloads.BackoffMax)
	v.SetDefault("downloads.min_segment_bytes", d.Downloads.MinSegmentBytes)
	v.SetDefault("downloads.concurrency", d.Downloads.Concurrency)
	v.SetDefault("downloads.requests_per_second", d.Downloads.RequestsPerSecond)
	v.SetDefault("downloads.segment_timeout", d.Downloads.SegmentTimeout)
	v.SetDefault("downloads.workers", d.Downloads.Workers)
	v.SetDefault("downloads.auto_resume", d.Downloads.AutoResume)
	v.SetDefault("downloads.output_dir", d.Downloads.OutputDir)
	v.SetDefault("downloads.filename_template", d.Downloads.FilenameTemplate)
	v.SetDefault("downloads.user_agent", d.Downloads.UserAgent)

	v.SetDefault("merge.ffmpeg_path", d.Merge.FFmpegPath)
	v.SetDefault("merge.timeout", d.Merge.Timeout)
	v.SetDefault("merge.timeout_per_mb", d.Merge.TimeoutPerMB)
	v.SetDefault("merge.container", d.Merge.Container)

	v.SetDefault("workspace.root", d.Workspace.Root)
	v.SetDefault("workspace.min_free_space_mb", d.Workspace.MinFreeSpaceMB)

	v.SetDefault("auth.type", d.Auth.Type)
	v.SetDefault("auth.headers", d.Auth.Headers)
	v.SetDefault("auth.token_url", "")
	v.SetDefault("auth.client_id", "")
	v.SetDefault("auth.client_secret", "")
	v.SetDefault("auth.scopes", []string{})

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.file", d.Logging.File)
	v.SetDefault("logging.max_size", d.Logging.MaxSize)
	v.SetDefault("logging.max_backups", d.Logging.MaxBackups)
	v.SetDefault("logging.max_age", d.Logging.MaxAge)
	v.SetDefault("logging.compress", d.Logging.Compress)
	v.SetDefault("logging.color", d.Logging.Color)

	v.SetDefault("database.path", d.Database.Path)
	v.SetDefault("database.max_connections", d.Database.MaxConnections)
	v.SetDefault("database.wal_mode", d.Database.WALMode)

	v.SetDefault("clipboard.read_command", "")
	v.SetDefault("clipboard.write_command", "")
}

// Load reads configuration from configPath, or from the default location
// when configPath is empty. A missing default file is not an error.
// Environment variables prefixed with HLSGRAB_ override file values
// (downloads.retry_limit -> HLSGRAB_DOWNLOADS_RETRY_LIMIT).
func Load(configPath string) (*Config, *viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigType("yaml")
	v.SetEnvPrefix(strings.ToUpper(AppName))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(GetConfigDir())
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, nil, err
	}

	return cfg, v, nil
}

// Reload decodes v again after a file change
func Reload(v *viper.Viper) (*Config, error) {
	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Downloads.OutputDir = ExpandPath(cfg.Downloads.OutputDir)
	cfg.Workspace.Root = ExpandPath(cfg.Workspace.Root)
	cfg.Database.Path = ExpandPath(cfg.Database.Path)
	cfg.Logging.File = ExpandPath(cfg.Logging.File)
	cfg.Merge.FFmpegPath = ExpandPath(cfg.Merge.FFmpegPath)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	d := c.Downloads
	if d.RetryLimit < 1 || d.RetryLimit > 20 {
		return fmt.Errorf("downloads.retry_limit must be between 1 and 20")
	}
	if d.BackoffBase < 0 {
		return fmt.Errorf("downloads.backoff_base must not be negative")
	}
	if d.BackoffMax < d.BackoffBase {
		return fmt.Errorf("downloads.backoff_max must be at least downloads.backoff_base")
	}
	if d.MinSegmentBytes < 1 {
		return fmt.Errorf("downloads.min_segment_bytes must be positive")
	}
	if d.Concurrency < 1 || d.Concurrency > 32 {
		return fmt.Errorf("downloads.concurrency must be between 1 and 32")
	}
	if d.RequestsPerSecond < 0 {
		return fmt.Errorf("downloads.requests_per_second must not be negative")
	}
	if d.Workers < 1 || d.Workers > 10 {
		return fmt.Errorf("downloads.workers must be between 1 and 10")
	}
	if d.OutputDir == "" {
		return fmt.Errorf("downloads.output_dir is required")
	}
	if err := ValidateTemplate(d.FilenameTemplate); err != nil {
		return fmt.Errorf("invalid downloads.filename_template: %w", err)
	}

	if c.Merge.Timeout <= 0 {
		return fmt.Errorf("merge.timeout must be positive")
	}
	if c.Merge.TimeoutPerMB < 0 {
		return fmt.Errorf("merge.timeout_per_mb must not be negative")
	}
	switch strings.ToLower(c.Merge.Container) {
	case "mp4", "mkv", "mov", "ts":
	default:
		return fmt.Errorf("invalid merge.container: %s", c.Merge.Container)
	}

	if c.Workspace.Root == "" {
		return fmt.Errorf("workspace.root is required")
	}
	if c.Workspace.MinFreeSpaceMB < 0 {
		return fmt.Errorf("workspace.min_free_space_mb must not be negative")
	}

	switch strings.ToLower(c.Auth.Type) {
	case "", "static":
	case "oauth2":
		if c.Auth.TokenURL == "" || c.Auth.ClientID == "" {
			return fmt.Errorf("auth.token_url and auth.client_id are required for oauth2")
		}
	default:
		return fmt.Errorf("invalid auth.type: %s", c.Auth.Type)
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid logging.level: %s", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("invalid logging.format: %s", c.Logging.Format)
	}

	return nil
}

// SaveDefaultConfig writes the built-in configuration as YAML
func SaveDefaultConfig(path string) error {
	data, err := yaml.Marshal(Default())
	if err != nil {
		return fmt.Errorf("failed to marshal default config: %w", err)
	}

	header := "# hlsgrab configuration\n# Every key can be overridden with HLSGRAB_<SECTION>_<KEY> environment variables.\n\n"
	if err := os.WriteFile(path, append([]byte(header), data...), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// InitializeDirs creates the config, data and state directories
func InitializeDirs() error {
	for _, dir := range []string{GetConfigDir(), GetDataDir(), filepath.Join(getStateDir(), AppName)} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

// GetConfigDir returns $XDG_CONFIG_HOME/hlsgrab
func GetConfigDir() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, AppName)
	}
	if runtime.GOOS == "windows" {
		if dir, err := os.UserConfigDir(); err == nil {
			return filepath.Join(dir, AppName)
		}
	}
	return filepath.Join(getHomeDir(), ".config", AppName)
}

// GetDataDir returns $XDG_DATA_HOME/hlsgrab
func GetDataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, AppName)
	}
	return filepath.Join(getHomeDir(), ".local", "share", AppName)
}

// getStateDir returns $XDG_STATE_HOME without the app name
func getStateDir() string {
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return dir
	}
	return filepath.Join(getHomeDir(), ".local", "state")
}

func getHomeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}

// ExpandPath expands a leading ~ and environment variables
func ExpandPath(path string) string {
	if path == "" {
		return path
	}
	path = os.ExpandEnv(path)
	if path == "~" {
		return getHomeDir()
	}
	if strings.HasPrefix(path, "~/") || strings.HasPrefix(path, `~\`) {
		return filepath.Join(getHomeDir(), path[2:])
	}
	return path
}
