package output

import "github.com/charmbracelet/lipgloss"

// Colors are ANSI 256 codes so output degrades cleanly on basic terminals.
var (
	colorSuccess = lipgloss.Color("42")
	colorFailure = lipgloss.Color("196")
	colorWarn    = lipgloss.Color("214")
	colorActive  = lipgloss.Color("39")
	colorMuted   = lipgloss.Color("240")
)

var (
	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.DoubleBorder()).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().Bold(true)

	labelStyle = lipgloss.NewStyle().
			Foreground(colorMuted).
			Width(12)

	successStyle = lipgloss.NewStyle().Foreground(colorSuccess).Bold(true)
	failureStyle = lipgloss.NewStyle().Foreground(colorFailure).Bold(true)
	warnStyle    = lipgloss.NewStyle().Foreground(colorWarn)
	activeStyle  = lipgloss.NewStyle().Foreground(colorActive)
	mutedStyle   = lipgloss.NewStyle().Foreground(colorMuted)
)
