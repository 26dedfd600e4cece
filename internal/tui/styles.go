package tui

import (
	"github.com/charmbracelet/lipgloss"
)

// Styles for the watch dashboard, defined with lipgloss.
var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.AdaptiveColor{Light: "#000000", Dark: "#FFFFFF"}).
			Background(lipgloss.AdaptiveColor{Light: "#D0D0D0", Dark: "#303030"}).
			Padding(0, 2)

	tableHeaderStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.AdaptiveColor{Light: "#5A5A5A", Dark: "#AAAAAA"})

	healthyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#007000", Dark: "#00D787"})

	unhealthyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#B00000", Dark: "#FF5F5F"})

	pendingStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#8A8A00", Dark: "#FFD700"})

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#808080", Dark: "#6C6C6C"})

	logStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#444444", Dark: "#9E9E9E"})

	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#5A5A5A", Dark: "#808080"}).
			MarginTop(1)
)
