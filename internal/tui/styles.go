package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/mpataki/maestro/internal/settings"
)

type Styles struct {
	Title    lipgloss.Style
	Selected lipgloss.Style
	Dim      lipgloss.Style
	Label    lipgloss.Style
	Help     lipgloss.Style
	Running  lipgloss.Style
	Complete lipgloss.Style
	Failed   lipgloss.Style
	Stopping lipgloss.Style
	Match    lipgloss.Style
	Overlay  lipgloss.Style
}

func NewStyles(theme string) Styles {
	accent, fg, dim, selBg := "205", "229", "243", "57"
	if theme == settings.ThemeLight {
		accent, fg, dim, selBg = "162", "235", "245", "153"
	}

	return Styles{
		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color(accent)),
		Selected: lipgloss.NewStyle().
			Foreground(lipgloss.Color(fg)).
			Background(lipgloss.Color(selBg)),
		Dim:      lipgloss.NewStyle().Foreground(lipgloss.Color(dim)),
		Label:    lipgloss.NewStyle().Foreground(lipgloss.Color(dim)),
		Help:     lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		Running:  lipgloss.NewStyle().Foreground(lipgloss.Color("220")),
		Complete: lipgloss.NewStyle().Foreground(lipgloss.Color("46")),
		Failed:   lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		Stopping: lipgloss.NewStyle().Foreground(lipgloss.Color("208")),
		Match:    lipgloss.NewStyle().Underline(true),
		Overlay: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color(accent)).
			Padding(0, 1),
	}
}
