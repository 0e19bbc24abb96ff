package cmd

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/nextlevelbuilder/goscan/pkg/scanpair"
)

var (
	screenBox = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("9")).
			Padding(1, 2).
			Width(56)
	screenTitle   = lipgloss.NewStyle().Bold(true)
	screenMuted   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	screenAction  = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Underline(true)
	statusSuccess = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
)

// renderErrorScreen draws the terminal error screen for a failed session.
func renderErrorScreen(s scanpair.ErrorScreen) string {
	body := lipgloss.JoinVertical(lipgloss.Left,
		screenTitle.Render(s.Icon+"  "+s.Title),
		"",
		screenMuted.Render(s.Explanation),
		"",
		screenAction.Render("→ "+s.Action),
	)
	return screenBox.Render(body)
}
