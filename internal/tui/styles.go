package tui

import "github.com/charmbracelet/lipgloss"

// Dracula theme colors.
const (
	draculaForeground = "#F8F8F2"
	draculaCyan       = "#8BE9FD"
	draculaGreen      = "#50FA7B"
	draculaOrange     = "#FFB86C"
	draculaPurple     = "#BD93F9"
	draculaRed        = "#FF5555"
	draculaComment    = "#6272A4"
)

const (
	tileWidth   = 26
	gridColumns = 2
)

type styles struct {
	header, tile, name, value, loading, meta, warn, help lipgloss.Style
}

func newStyles() styles {
	return styles{
		header: lipgloss.NewStyle().
			Foreground(lipgloss.Color(draculaGreen)).
			Bold(true).
			Padding(0, 1).
			MarginBottom(1),
		tile: lipgloss.NewStyle().
			Width(tileWidth).
			Padding(0, 1).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color(draculaPurple)),
		name: lipgloss.NewStyle().
			Foreground(lipgloss.Color(draculaCyan)),
		value: lipgloss.NewStyle().
			Foreground(lipgloss.Color(draculaForeground)).
			Bold(true),
		loading: lipgloss.NewStyle().
			Foreground(lipgloss.Color(draculaComment)),
		meta: lipgloss.NewStyle().
			Foreground(lipgloss.Color(draculaComment)),
		warn: lipgloss.NewStyle().
			Foreground(lipgloss.Color(draculaOrange)),
		help: lipgloss.NewStyle().
			Foreground(lipgloss.Color(draculaComment)).
			MarginTop(1),
	}
}

// errorStyle marks a tile that has never loaded but keeps failing.
func errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(lipgloss.Color(draculaRed))
}
