package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, v, err := Load("")
	require.NoError(t, err)
	require.NotNil(t, v)

	assert.Equal(t, 4, cfg.Downloads.RetryLimit)
	assert.Equal(t, 500*time.Millisecond, cfg.Downloads.BackoffBase)
	assert.Equal(t, 8*time.Second, cfg.Downloads.BackoffMax)
	assert.Equal(t, int64(188), cfg.Downloads.MinSegmentBytes)
	assert.Equal(t, 4, cfg.Downloads.Concurrency)
	assert.Equal(t, "{name}", cfg.Downloads.FilenameTemplate)
	assert.Equal(t, time.Minute, cfg.Merge.Timeout)
	assert.Equal(t, time.Second, cfg.Merge.TimeoutPerMB)
	assert.Equal(t, "mp4", cfg.Merge.Container)
	assert.Equal(t, "static", cfg.Auth.Type)
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
downloads:
  retry_limit: 3
  backoff_base: 250ms
  backoff_max: 2s
  concurrency: 1
  output_dir: /tmp/out
merge:
  timeout: 90s
  container: mkv
auth:
  headers:
    Referer: https://example.com/
`)

	cfg, _, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Downloads.RetryLimit)
	assert.Equal(t, 250*time.Millisecond, cfg.Downloads.BackoffBase)
	assert.Equal(t, 2*time.Second, cfg.Downloads.BackoffMax)
	assert.Equal(t, 1, cfg.Downloads.Concurrency)
	assert.Equal(t, "/tmp/out", cfg.Downloads.OutputDir)
	assert.Equal(t, 90*time.Second, cfg.Merge.Timeout)
	assert.Equal(t, "mkv", cfg.Merge.Container)
	assert.Equal(t, "https://example.com/", cfg.Auth.Headers["referer"])
	// Untouched keys keep their defaults.
	assert.Equal(t, int64(188), cfg.Downloads.MinSegmentBytes)
}

func TestLoadEnvOverride(t *testing.T) {
	path := writeConfig(t, "downloads:\n  retry_limit: 3\n")
	t.Setenv("HLSGRAB_DOWNLOADS_RETRY_LIMIT", "5")
	t.Setenv("HLSGRAB_MERGE_CONTAINER", "ts")

	cfg, _, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Downloads.RetryLimit)
	assert.Equal(t, "ts", cfg.Merge.Container)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, _, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"retry limit", "downloads:\n  retry_limit: 0\n", "retry_limit"},
		{"backoff order", "downloads:\n  backoff_base: 5s\n  backoff_max: 1s\n", "backoff_max"},
		{"concurrency", "downloads:\n  concurrency: 0\n", "concurrency"},
		{"container", "merge:\n  container: avi\n", "merge.container"},
		{"auth type", "auth:\n  type: kerberos\n", "auth.type"},
		{"oauth2 incomplete", "auth:\n  type: oauth2\n", "token_url"},
		{"log level", "logging:\n  level: loud\n", "logging.level"},
		{"template variable", "downloads:\n  filename_template: \"{title}\"\n", "filename_template"},
		{"template braces", "downloads:\n  filename_template: \"{name\"\n", "unbalanced braces"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestSaveDefaultConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, SaveDefaultConfig(path))

	cfg, _, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Default().Downloads.BackoffMax, cfg.Downloads.BackoffMax)
	assert.Equal(t, Default().Merge.TimeoutPerMB, cfg.Merge.TimeoutPerMB)
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	t.Setenv("HLSGRAB_TEST_DIR", "/srv/media")

	assert.Equal(t, "", ExpandPath(""))
	assert.Equal(t, home, ExpandPath("~"))
	assert.Equal(t, filepath.Join(home, "Videos"), ExpandPath("~/Videos"))
	assert.Equal(t, "/srv/media/out", ExpandPath("$HLSGRAB_TEST_DIR/out"))
	assert.Equal(t, "/abs/path", ExpandPath("/abs/path"))
}

func TestDirsFollowXDG(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/cfg")
	t.Setenv("XDG_DATA_HOME", "/data")

	assert.Equal(t, filepath.Join("/cfg", AppName), GetConfigDir())
	assert.Equal(t, filepath.Join("/data", AppName), GetDataDir())
}

func TestNewHandlerColorsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler(&buf, "text", slog.LevelDebug, true)).With("job", "abc")

	logger.Warn("segment attempt failed", "segment", 2)

	out := buf.String()
	assert.Contains(t, out, "\033[33mlevel=WARN\033[0m")
	assert.Contains(t, out, "job=abc")
	assert.Contains(t, out, "segment=2")
}

func TestNewHandlerJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler(&buf, "json", slog.LevelInfo, true))

	logger.Debug("hidden")
	logger.Info("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)
	assert.NotContains(t, buf.String(), "\033[")
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLogLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, parseLogLevel("warning"))
	assert.Equal(t, slog.LevelError, parseLogLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLogLevel("nonsense"))
}

func TestInitLoggerWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "hlsgrab.log")
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	logger, err := InitLogger(&LoggingConfig{Level: "info", Format: "text", File: path, MaxSize: 1})
	require.NoError(t, err)
	logger.Info("hello")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "msg=hello")
}

func TestValidateTemplate(t *testing.T) {
	assert.NoError(t, ValidateTemplate("{name} - {segments:04d} [{date}]"))
	assert.Error(t, ValidateTemplate(""))
	assert.Error(t, ValidateTemplate("{name"))
	assert.ErrorContains(t, ValidateTemplate("{title}"), "invalid template variable")
}
