// Package clipboard reads stream URLs from and writes artifact paths to the
// system clipboard.
package clipboard

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"github.com/atotto/clipboard"
)

// Service provides clipboard operations across different platforms
type Service interface {
	// Read reads content from the system clipboard
	Read(ctx context.Context) (string, error)

	// Write copies text to the system clipboard
	Write(ctx context.Context, text string) error
}

// Commands overrides the clipboard tools. Each value is a command line,
// quoted arguments are kept together.
type Commands struct {
	Read  string
	Write string
}

type clipboardService struct {
	commands Commands
	logger   *slog.Logger
}

// NewService creates a new clipboard service. Configured commands are tried
// first; otherwise the native clipboard is used with OS tools as fallback.
func NewService(commands Commands, logger *slog.Logger) Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &clipboardService{
		commands: commands,
		logger:   logger.With("component", "clipboard"),
	}
}

func (s *clipboardService) Read(ctx context.Context) (string, error) {
	if s.commands.Read != "" {
		return s.readWith(ctx, parseCommand(s.commands.Read))
	}

	text, err := clipboard.ReadAll()
	if err == nil {
		return strings.TrimSpace(text), nil
	}
	s.logger.Debug("native clipboard read failed", "error", err)

	parts, err := defaultReadCommand()
	if err != nil {
		return "", err
	}
	return s.readWith(ctx, parts)
}

func (s *clipboardService) readWith(ctx context.Context, parts []string) (string, error) {
	if len(parts) == 0 {
		return "", fmt.Errorf("invalid clipboard command: %q", s.commands.Read)
	}
	output, err := exec.CommandContext(ctx, parts[0], parts[1:]...).Output()
	if err != nil {
		return "", fmt.Errorf("failed to execute clipboard command: %w", err)
	}
	return strings.TrimSpace(string(output)), nil
}

func (s *clipboardService) Write(ctx context.Context, text string) error {
	if s.commands.Write != "" {
		return s.writeWith(ctx, parseCommand(s.commands.Write), text)
	}

	err := clipboard.WriteAll(text)
	if err == nil {
		s.logger.Debug("copied to clipboard", "text_length", len(text))
		return nil
	}
	s.logger.Warn("failed to copy to clipboard using primary method", "error", err)

	parts, err := s.defaultWriteCommand()
	if err != nil {
		return err
	}
	return s.writeWith(ctx, parts, text)
}

func (s *clipboardService) writeWith(ctx context.Context, parts []string, text string) error {
	if len(parts) == 0 {
		return fmt.Errorf("invalid clipboard command: %q", s.commands.Write)
	}
	cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)
	cmd.Stdin = strings.NewReader(text)
	if err := cmd.Run(); err != nil {
		s.logger.Error("failed to copy to clipboard", "error", err, "command", parts[0])
		return fmt.Errorf("failed to execute clipboard command: %w", err)
	}
	s.logger.Debug("copied to clipboard", "command", parts[0], "text_length", len(text))
	return nil
}

func defaultReadCommand() ([]string, error) {
	switch runtime.GOOS {
	case "darwin":
		return []string{"pbpaste"}, nil
	case "linux":
		// Try xclip first, then xsel, then wl-paste (Wayland)
		switch {
		case commandExists("xclip"):
			return []string{"xclip", "-selection", "clipboard", "-o"}, nil
		case commandExists("xsel"):
			return []string{"xsel", "--clipboard", "--output"}, nil
		case commandExists("wl-paste"):
			return []string{"wl-paste", "--no-newline"}, nil
		}
		return nil, fmt.Errorf("no clipboard tool found (install xclip, xsel, or wl-clipboard)")
	case "windows":
		return []string{"powershell.exe", "-command", "Get-Clipboard"}, nil
	default:
		return nil, fmt.Errorf("clipboard reading not supported on %s", runtime.GOOS)
	}
}

func (s *clipboardService) defaultWriteCommand() ([]string, error) {
	switch runtime.GOOS {
	case "windows":
		return []string{"clip.exe"}, nil
	case "darwin":
		return []string{"pbcopy"}, nil
	case "linux":
		switch {
		case isWSL():
			return []string{"clip.exe"}, nil
		case commandExists("wl-copy"):
			return []string{"wl-copy"}, nil
		case commandExists("xclip"):
			return []string{"xclip", "-selection", "clipboard"}, nil
		case commandExists("xsel"):
			return []string{"xsel", "--clipboard", "--input"}, nil
		}
		return nil, fmt.Errorf("no clipboard tool found (install xclip, xsel, or wl-clipboard)")
	default:
		return nil, fmt.Errorf("clipboard writing not supported on %s", runtime.GOOS)
	}
}

// parseCommand parses a command string into executable parts, respecting quotes
func parseCommand(command string) []string {
	var parts []string
	var current strings.Builder
	var inQuotes bool
	var quoteChar rune

	for _, char := range command {
		switch {
		case char == '\'' || char == '"':
			if !inQuotes {
				inQuotes = true
				quoteChar = char
			} else if char == quoteChar {
				inQuotes = false
			} else {
				current.WriteRune(char)
			}
		case char == ' ' && !inQuotes:
			if current.Len() > 0 {
				parts = append(parts, current.String())
				current.Reset()
			}
		default:
			current.WriteRune(char)
		}
	}

	if current.Len() > 0 {
		parts = append(parts, current.String())
	}

	return parts
}

// isWSL checks if the application is running in Windows Subsystem for Linux
func isWSL() bool {
	version, err := os.ReadFile("/proc/version")
	if err != nil {
		return false
	}
	v := strings.ToLower(string(version))
	return strings.Contains(v, "microsoft") || strings.Contains(v, "wsl")
}

func commandExists(cmd string) bool {
	_, err := exec.LookPath(cmd)
	return err == nil
}
