package styles

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/justchokingaround/hlsgrab/internal/downloader"
)

// Oxocarbon color scheme - IBM Carbon inspired
// Following base16 oxocarbon-dark palette
var (
	OxocarbonBase01 = lipgloss.Color("#393939") // Borders, secondary UI
	OxocarbonBase03 = lipgloss.Color("#767676") // Disabled/muted elements
	OxocarbonBase04 = lipgloss.Color("#dde1e6") // Secondary foreground
	OxocarbonBase05 = lipgloss.Color("#f2f4f8") // Primary foreground
	OxocarbonWhite  = lipgloss.Color("#ffffff")

	OxocarbonBlue   = lipgloss.Color("#78a9ff")
	OxocarbonPink   = lipgloss.Color("#ee5396")
	OxocarbonRed    = lipgloss.Color("#ff5252")
	OxocarbonCyan   = lipgloss.Color("#33b1ff")
	OxocarbonGreen  = lipgloss.Color("#42be65")
	OxocarbonPurple = lipgloss.Color("#be95ff") // main accent
	OxocarbonMauve  = lipgloss.Color("#d1aaff")
)

var (
	// App general style with a subtle border
	AppStyle = lipgloss.NewStyle().
			Padding(1, 2).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(OxocarbonBase01)

	TitleStyle = lipgloss.NewStyle().
			Foreground(OxocarbonWhite).
			Background(OxocarbonPurple).
			Padding(0, 1).
			Bold(true)

	SubtitleStyle = lipgloss.NewStyle().
			Foreground(OxocarbonMauve).
			Bold(true)

	HelpStyle = lipgloss.NewStyle().
			Foreground(OxocarbonBase03).
			Italic(true)

	NormalItemStyle = lipgloss.NewStyle().
			PaddingLeft(2).
			Foreground(OxocarbonBase05)

	SelectedItemStyle = lipgloss.NewStyle().
				PaddingLeft(2).
				Foreground(OxocarbonPurple).
				Bold(true)

	MetadataStyle = lipgloss.NewStyle().
			Foreground(OxocarbonBase04)

	PathStyle = lipgloss.NewStyle().
			Foreground(OxocarbonCyan).
			Italic(true)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(OxocarbonRed).
			Bold(true)

	StatusBadgeStyle = lipgloss.NewStyle().
				Padding(0, 1).
				Bold(true)
)

// GetStatusColor returns the color for a job status
func GetStatusColor(status downloader.JobStatus) lipgloss.Color {
	switch status {
	case downloader.StatusResolving, downloader.StatusDownloading:
		return OxocarbonGreen
	case downloader.StatusMerging:
		return OxocarbonCyan
	case downloader.StatusCompleted:
		return OxocarbonBlue
	case downloader.StatusFailed:
		return OxocarbonRed
	case downloader.StatusCancelled:
		return OxocarbonPink
	case downloader.StatusQueued:
		return OxocarbonPurple
	default:
		return lipgloss.Color("#A0AEC0")
	}
}

// FormatStatusBadge creates a colored status badge
func FormatStatusBadge(status downloader.JobStatus) string {
	return StatusBadgeStyle.Foreground(GetStatusColor(status)).Render(string(status))
}

// StatusIcon returns an icon for a job status
func StatusIcon(status downloader.JobStatus) string {
	switch status {
	case downloader.StatusQueued:
		return "⏳"
	case downloader.StatusResolving, downloader.StatusDownloading:
		return "▶"
	case downloader.StatusMerging:
		return "⚙"
	case downloader.StatusCompleted:
		return "✓"
	case downloader.StatusFailed:
		return "✗"
	case downloader.StatusCancelled:
		return "⦸"
	default:
		return "?"
	}
}
