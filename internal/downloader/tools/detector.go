// Package tools detects the external binaries the downloader shells out to
package tools

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"
)

// ToolType represents the type of external tool
type ToolType int

const (
	// ToolFFmpeg is used to remux concatenated segments
	ToolFFmpeg ToolType = iota
	// ToolFFprobe is reported by doctor when present
	ToolFFprobe
)

// String returns the string representation of ToolType
func (t ToolType) String() string {
	switch t {
	case ToolFFmpeg:
		return "ffmpeg"
	case ToolFFprobe:
		return "ffprobe"
	default:
		return "unknown"
	}
}

// ToolInfo contains information about an external tool
type ToolInfo struct {
	Type      ToolType // Type of tool
	Binary    string   // Full path to binary
	Version   string   // Version string
	Available bool     // Whether tool is available on system
}

var (
	versionPattern = regexp.MustCompile(`version\s+([^\s,]+)`)
	genericPattern = regexp.MustCompile(`(\d+\.\d+(?:\.\d+)?)`)
)

// Detect looks up a tool. name may be a bare command or a path; an empty
// name falls back to the tool's default command.
func Detect(ctx context.Context, t ToolType, name string) *ToolInfo {
	info := &ToolInfo{Type: t}
	if name == "" {
		name = t.String()
	}

	path, err := FindTool(name)
	if err != nil {
		return info
	}

	info.Binary = path
	info.Available = true
	info.Version, _ = GetVersion(ctx, path)
	return info
}

// DetectFFmpeg returns ffmpeg's info or an error when it cannot be found
func DetectFFmpeg(ctx context.Context, name string) (*ToolInfo, error) {
	info := Detect(ctx, ToolFFmpeg, name)
	if !info.Available {
		if name == "" {
			name = "ffmpeg"
		}
		return info, fmt.Errorf("%s not found in PATH; install ffmpeg or set merge.ffmpeg_path", name)
	}
	return info, nil
}

// FindTool searches for a tool in the system PATH
// Returns the full path to the binary or an error if not found
func FindTool(name string) (string, error) {
	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("%s not found in PATH: %w", name, err)
	}
	return path, nil
}

// GetVersion attempts to get the version of a tool
// Returns the version string or empty string if unable to determine
func GetVersion(ctx context.Context, toolPath string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	// ffmpeg and ffprobe only understand the single-dash form
	output, err := exec.CommandContext(ctx, toolPath, "-version").Output()
	if err != nil {
		return "", fmt.Errorf("failed to get version for %s: %w", toolPath, err)
	}

	version := parseVersion(string(output))
	if version == "" {
		return "", fmt.Errorf("failed to parse version from output: %s", output)
	}

	return version, nil
}

// parseVersion extracts version string from tool output
func parseVersion(output string) string {
	output = strings.TrimSpace(output)
	lines := strings.Split(output, "\n")
	if len(lines) == 0 {
		return ""
	}

	firstLine := lines[0]

	// "ffmpeg version 6.0" or "ffmpeg version N-112345-g1234567"
	if matches := versionPattern.FindStringSubmatch(firstLine); len(matches) > 1 {
		return matches[1]
	}

	if matches := genericPattern.FindStringSubmatch(firstLine); len(matches) > 1 {
		return matches[1]
	}

	// Return first line if we can't parse a specific version
	if len(firstLine) > 0 && len(firstLine) < 100 {
		return firstLine
	}

	return ""
}

// ValidateTool checks if a tool is available and functional
func ValidateTool(ctx context.Context, toolPath string) error {
	if _, err := exec.LookPath(toolPath); err != nil {
		return fmt.Errorf("tool not found or not executable: %s: %w", toolPath, err)
	}

	if _, err := GetVersion(ctx, toolPath); err != nil {
		return fmt.Errorf("tool exists but failed to run: %s: %w", toolPath, err)
	}

	return nil
}
