package merge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justchokingaround/hlsgrab/internal/downloader/hls"
)

// writeSegments creates one file per payload in dir and returns them in order
func writeSegments(t *testing.T, dir string, payloads ...[]byte) []hls.RetrievedSegment {
	t.Helper()
	segments := make([]hls.RetrievedSegment, 0, len(payloads))
	for i, p := range payloads {
		path := filepath.Join(dir, fmt.Sprintf("segment_%05d.ts", i))
		require.NoError(t, os.WriteFile(path, p, 0644))
		segments = append(segments, hls.RetrievedSegment{Index: uint(i), Path: path, Size: int64(len(p))})
	}
	return segments
}

// copyRemuxer copies the input verbatim, like a lossless remux would roughly do
var copyRemuxer = RemuxFunc(func(ctx context.Context, input, output string) error {
	in, err := os.Open(input)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(output)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
})

func TestMergeConcatenatesInOrder(t *testing.T) {
	dir := t.TempDir()
	segments := writeSegments(t, dir,
		bytes.Repeat([]byte("A"), 1000),
		bytes.Repeat([]byte("B"), 1000),
		bytes.Repeat([]byte("C"), 1000),
	)
	output := filepath.Join(dir, "output.mp4")

	artifact, err := NewMerger(copyRemuxer, DefaultConfig(), nil).Merge(context.Background(), segments, output)
	require.NoError(t, err)

	assert.Equal(t, output, artifact.Path)
	assert.Equal(t, int64(3000), artifact.InputBytes)
	assert.Equal(t, int64(3000), artifact.Size)
	assert.Equal(t, 3, artifact.Segments)

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	want := append(append(bytes.Repeat([]byte("A"), 1000), bytes.Repeat([]byte("B"), 1000)...), bytes.Repeat([]byte("C"), 1000)...)
	assert.Equal(t, want, data)

	// Only the artifact survives.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "output.mp4", entries[0].Name())
}

func TestMergeRejectsTruncatedOutput(t *testing.T) {
	dir := t.TempDir()
	segments := writeSegments(t, dir, make([]byte, 4096), make([]byte, 4096))
	output := filepath.Join(dir, "output.mp4")

	truncating := RemuxFunc(func(ctx context.Context, input, output string) error {
		return os.WriteFile(output, make([]byte, 100), 0644)
	})

	_, err := NewMerger(truncating, DefaultConfig(), nil).Merge(context.Background(), segments, output)

	var mergeErr *MergeError
	require.ErrorAs(t, err, &mergeErr)
	assert.Equal(t, "verify", mergeErr.Stage)
	assert.NoFileExists(t, output)
	assert.NoFileExists(t, filepath.Join(dir, ConcatFileName))
}

func TestMergeAcceptsHalfSizeOutput(t *testing.T) {
	dir := t.TempDir()
	segments := writeSegments(t, dir, make([]byte, 1000), make([]byte, 1000))
	output := filepath.Join(dir, "output.mp4")

	half := RemuxFunc(func(ctx context.Context, input, output string) error {
		return os.WriteFile(output, make([]byte, 1000), 0644)
	})

	artifact, err := NewMerger(half, DefaultConfig(), nil).Merge(context.Background(), segments, output)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), artifact.Size)
}

func TestMergeRemuxFailure(t *testing.T) {
	dir := t.TempDir()
	segments := writeSegments(t, dir, make([]byte, 1000))
	output := filepath.Join(dir, "output.mp4")
	boom := errors.New("invalid data found when processing input")

	failing := RemuxFunc(func(ctx context.Context, input, output string) error {
		_ = os.WriteFile(output, []byte("partial"), 0644)
		return boom
	})

	_, err := NewMerger(failing, DefaultConfig(), nil).Merge(context.Background(), segments, output)

	var mergeErr *MergeError
	require.ErrorAs(t, err, &mergeErr)
	assert.Equal(t, "remux", mergeErr.Stage)
	assert.ErrorIs(t, err, boom)
	assert.NoFileExists(t, output)
	// Segments stay for the workspace to clean up.
	assert.FileExists(t, segments[0].Path)
}

func TestMergeMissingOutput(t *testing.T) {
	dir := t.TempDir()
	segments := writeSegments(t, dir, make([]byte, 1000))

	noop := RemuxFunc(func(ctx context.Context, input, output string) error { return nil })

	_, err := NewMerger(noop, DefaultConfig(), nil).Merge(context.Background(), segments, filepath.Join(dir, "output.mp4"))

	var mergeErr *MergeError
	require.ErrorAs(t, err, &mergeErr)
	assert.Equal(t, "verify", mergeErr.Stage)
}

func TestMergeTimeout(t *testing.T) {
	dir := t.TempDir()
	segments := writeSegments(t, dir, make([]byte, 1000))

	hanging := RemuxFunc(func(ctx context.Context, input, output string) error {
		<-ctx.Done()
		return ctx.Err()
	})

	m := NewMerger(hanging, Config{Timeout: 50 * time.Millisecond}, nil)
	start := time.Now()
	_, err := m.Merge(context.Background(), segments, filepath.Join(dir, "output.mp4"))

	var mergeErr *MergeError
	require.ErrorAs(t, err, &mergeErr)
	assert.Equal(t, "remux", mergeErr.Stage)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestMergeCallerCancellation(t *testing.T) {
	dir := t.TempDir()
	segments := writeSegments(t, dir, make([]byte, 1000))

	ctx, cancel := context.WithCancel(context.Background())
	cancelling := RemuxFunc(func(rctx context.Context, input, output string) error {
		cancel()
		<-rctx.Done()
		return rctx.Err()
	})

	_, err := NewMerger(cancelling, DefaultConfig(), nil).Merge(ctx, segments, filepath.Join(dir, "output.mp4"))
	require.ErrorIs(t, err, context.Canceled)

	var mergeErr *MergeError
	assert.False(t, errors.As(err, &mergeErr))
}

func TestMergeRejectsBadInput(t *testing.T) {
	dir := t.TempDir()
	m := NewMerger(copyRemuxer, DefaultConfig(), nil)

	t.Run("empty", func(t *testing.T) {
		_, err := m.Merge(context.Background(), nil, filepath.Join(dir, "out.mp4"))
		var mergeErr *MergeError
		require.ErrorAs(t, err, &mergeErr)
		assert.Equal(t, "concat", mergeErr.Stage)
	})

	t.Run("out of order", func(t *testing.T) {
		segments := writeSegments(t, dir, make([]byte, 10), make([]byte, 10))
		segments[0], segments[1] = segments[1], segments[0]
		_, err := m.Merge(context.Background(), segments, filepath.Join(dir, "out.mp4"))
		var mergeErr *MergeError
		require.ErrorAs(t, err, &mergeErr)
	})

	t.Run("missing segment file", func(t *testing.T) {
		segments := []hls.RetrievedSegment{{Index: 0, Path: filepath.Join(dir, "nope.ts")}}
		_, err := m.Merge(context.Background(), segments, filepath.Join(dir, "out.mp4"))
		var mergeErr *MergeError
		require.ErrorAs(t, err, &mergeErr)
		assert.Equal(t, "concat", mergeErr.Stage)
	})
}

func TestMergerTimeoutScalesWithInput(t *testing.T) {
	m := NewMerger(copyRemuxer, Config{Timeout: time.Minute, TimeoutPerMB: time.Second}, nil)

	assert.Equal(t, time.Minute, m.Timeout(0))
	assert.Equal(t, time.Minute+time.Second, m.Timeout(1))
	assert.Equal(t, time.Minute+3*time.Second, m.Timeout(3<<20))
	assert.Equal(t, time.Minute+4*time.Second, m.Timeout(3<<20+1))
}

func TestFFmpegRemuxerArgs(t *testing.T) {
	mp4 := NewFFmpegRemuxer("", "", nil)
	assert.Equal(t, "ffmpeg", mp4.Binary)
	assert.Equal(t, ".mp4", mp4.Extension())
	assert.Equal(t, []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-i", "in.ts", "-c", "copy",
		"-bsf:a", "aac_adtstoasc", "-movflags", "+faststart",
		"-f", "mp4", "out.mp4",
	}, mp4.Args("in.ts", "out.mp4"))

	mkv := NewFFmpegRemuxer("/usr/bin/ffmpeg", "mkv", nil)
	args := mkv.Args("in.ts", "out.mkv")
	assert.NotContains(t, args, "aac_adtstoasc")
	assert.Contains(t, args, "matroska")
	assert.Equal(t, ".mkv", mkv.Extension())

	assert.Equal(t, ".ts", ContainerExtension("mpegts"))
	assert.Equal(t, ".mov", ContainerExtension("MOV"))
}

// fakeFFmpeg writes an executable shell script standing in for ffmpeg
func fakeFFmpeg(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not executable on windows")
	}
	path := filepath.Join(t.TempDir(), "ffmpeg")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0755))
	return path
}

func TestFFmpegRemuxerRunsBinary(t *testing.T) {
	bin := fakeFFmpeg(t, `in=""
prev=""
for a in "$@"; do
  if [ "$prev" = "-i" ]; then in="$a"; fi
  prev="$a"
  out="$a"
done
cat "$in" > "$out"`)

	dir := t.TempDir()
	segments := writeSegments(t, dir, bytes.Repeat([]byte{0x47}, 2048), bytes.Repeat([]byte{0x47}, 2048))
	output := filepath.Join(dir, "output.mp4")

	artifact, err := NewMerger(NewFFmpegRemuxer(bin, "mp4", nil), DefaultConfig(), nil).
		Merge(context.Background(), segments, output)
	require.NoError(t, err)
	assert.Equal(t, int64(4096), artifact.Size)
}

func TestFFmpegRemuxerReportsStderr(t *testing.T) {
	bin := fakeFFmpeg(t, `echo "moov atom not found" >&2
exit 1`)

	err := NewFFmpegRemuxer(bin, "mp4", nil).Remux(context.Background(), "in.ts", filepath.Join(t.TempDir(), "out.mp4"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "moov atom not found")
}

func TestFFmpegRemuxerKilledOnTimeout(t *testing.T) {
	bin := fakeFFmpeg(t, "exec sleep 30")

	dir := t.TempDir()
	segments := writeSegments(t, dir, make([]byte, 1000))

	m := NewMerger(NewFFmpegRemuxer(bin, "mp4", nil), Config{Timeout: 200 * time.Millisecond}, nil)
	start := time.Now()
	_, err := m.Merge(context.Background(), segments, filepath.Join(dir, "output.mp4"))

	var mergeErr *MergeError
	require.ErrorAs(t, err, &mergeErr)
	assert.Equal(t, "remux", mergeErr.Stage)
	assert.Less(t, time.Since(start), 10*time.Second)
}
