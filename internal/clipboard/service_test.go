package clipboard

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		input string
		want  []string
	}{
		{"pbpaste", []string{"pbpaste"}},
		{"xclip -selection clipboard -o", []string{"xclip", "-selection", "clipboard", "-o"}},
		{`sh -c "cat > 'out file'"`, []string{"sh", "-c", "cat > 'out file'"}},
		{"  spaced   out  ", []string{"spaced", "out"}},
		{"", nil},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, parseCommand(tt.input))
		})
	}
}

func TestCustomCommands(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses sh")
	}

	file := filepath.Join(t.TempDir(), "clip.txt")
	svc := NewService(Commands{
		Read:  "cat " + file,
		Write: `sh -c "cat > ` + file + `"`,
	}, nil)

	require.NoError(t, svc.Write(context.Background(), "/videos/clip.mp4"))
	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Equal(t, "/videos/clip.mp4", string(data))

	require.NoError(t, os.WriteFile(file, []byte("  https://cdn.example.com/index.m3u8\n"), 0644))
	text, err := svc.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/index.m3u8", text)
}

func TestCustomCommandFailure(t *testing.T) {
	svc := NewService(Commands{Read: "definitely-not-a-clipboard-tool", Write: "definitely-not-a-clipboard-tool"}, nil)

	_, err := svc.Read(context.Background())
	assert.ErrorContains(t, err, "failed to execute clipboard command")
	assert.Error(t, svc.Write(context.Background(), "x"))
}
