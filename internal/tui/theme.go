package tui

import "github.com/charmbracelet/lipgloss"

var (
	colorBase     = lipgloss.Color("#1e1e2e")
	colorMantle   = lipgloss.Color("#181825")
	colorSurface1 = lipgloss.Color("#45475a")
	colorText     = lipgloss.Color("#cdd6f4")
	colorSubtext  = lipgloss.Color("#a6adc8")
	colorLavender = lipgloss.Color("#b4befe")
	colorSapphire = lipgloss.Color("#74c7ec")
	colorGreen    = lipgloss.Color("#a6e3a1")
	colorPeach    = lipgloss.Color("#fab387")
	colorRed      = lipgloss.Color("#f38ba8")

	appStyle = lipgloss.NewStyle().
			Background(colorBase).
			Foreground(colorText).
			Padding(1, 2)

	paneStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(colorSurface1).
			Background(colorMantle).
			Foreground(colorText).
			Padding(0, 1)

	recordingPaneStyle = paneStyle.BorderForeground(colorRed)

	titleStyle    = lipgloss.NewStyle().Foreground(colorSapphire).Bold(true)
	mutedStyle    = lipgloss.NewStyle().Foreground(colorSubtext)
	hotStyle      = lipgloss.NewStyle().Foreground(colorPeach).Bold(true)
	okStyle       = lipgloss.NewStyle().Foreground(colorGreen)
	errorStyle    = lipgloss.NewStyle().Foreground(colorRed)
	selectedStyle = lipgloss.NewStyle().Foreground(colorLavender).Bold(true)
	interimStyle  = lipgloss.NewStyle().Foreground(colorSubtext).Italic(true)
)
