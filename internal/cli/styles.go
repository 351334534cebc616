package cli

import "github.com/charmbracelet/lipgloss"

// Color palette
var (
	Primary = lipgloss.Color("#22d3ee")
	Success = lipgloss.Color("#10B981")
	Warning = lipgloss.Color("#F59E0B")
	Error   = lipgloss.Color("#EF4444")
	Muted   = lipgloss.Color("#6B7280")
)

var (
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(Primary)

	BannerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(Primary).
			Padding(0, 1)

	LiveStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(Success).
			Padding(0, 1)

	EndedStyle = lipgloss.NewStyle().
			Foreground(Muted).
			Padding(0, 1)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(Error).
			Bold(true)

	WarningStyle = lipgloss.NewStyle().
			Foreground(Warning)

	MutedStyle = lipgloss.NewStyle().
			Foreground(Muted)

	BoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(Primary).
			Padding(0, 1)
)

const (
	IconCall    = "📞"
	IconLive    = "🟢"
	IconEnded   = "🔚"
	IconError   = "❌"
	IconWarning = "⚠️"
	IconPeer    = "👤"
	IconReady   = "✅"
)
