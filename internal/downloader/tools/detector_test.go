package tools

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVersion(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   string
	}{
		{"release", "ffmpeg version 6.1.1 Copyright (c) 2000-2023 the FFmpeg developers\nbuilt with gcc", "6.1.1"},
		{"git build", "ffmpeg version N-112345-g1234567 Copyright", "N-112345-g1234567"},
		{"ffprobe", "ffprobe version 7.0-static https://johnvansickle.com", "7.0-static"},
		{"generic", "some tool 1.2.3", "1.2.3"},
		{"unparseable short", "hello", "hello"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseVersion(tt.output))
		})
	}
}

func TestToolTypeString(t *testing.T) {
	assert.Equal(t, "ffmpeg", ToolFFmpeg.String())
	assert.Equal(t, "ffprobe", ToolFFprobe.String())
	assert.Equal(t, "unknown", ToolType(42).String())
}

func TestDetectFFmpegMissing(t *testing.T) {
	info, err := DetectFFmpeg(context.Background(), filepath.Join(t.TempDir(), "no-such-ffmpeg"))
	require.Error(t, err)
	assert.False(t, info.Available)
	assert.Contains(t, err.Error(), "merge.ffmpeg_path")
}

func TestDetectFakeFFmpeg(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not executable on windows")
	}
	bin := filepath.Join(t.TempDir(), "ffmpeg")
	script := "#!/bin/sh\necho 'ffmpeg version 6.0 Copyright (c) 2000-2023'\n"
	require.NoError(t, os.WriteFile(bin, []byte(script), 0755))

	info, err := DetectFFmpeg(context.Background(), bin)
	require.NoError(t, err)
	assert.True(t, info.Available)
	assert.Equal(t, bin, info.Binary)
	assert.Equal(t, "6.0", info.Version)

	require.NoError(t, ValidateTool(context.Background(), bin))
}
