package prompt

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/schemaguard/schemaguard/internal/risk"
)

var (
	titleStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("99")).BorderStyle(lipgloss.DoubleBorder()).BorderBottom(true).Padding(0, 1)
	highlightStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	warnStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	successStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("82"))
)

// LevelStyle returns the color used for a risk level.
func LevelStyle(l risk.Level) lipgloss.Style {
	switch l {
	case risk.High:
		return errStyle.Bold(true)
	case risk.Medium:
		return warnStyle
	default:
		return successStyle
	}
}

// RenderLevel renders a risk level in its color.
func RenderLevel(l risk.Level) string {
	return LevelStyle(l).Render(l.String())
}
