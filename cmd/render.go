package cmd

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"fhirstack/internal/orchestrator"
)

var (
	tableHeaderStyle = lipgloss.NewStyle().Bold(true)

	healthyCellStyle = lipgloss.NewStyle().
				Foreground(lipgloss.AdaptiveColor{Light: "#007000", Dark: "#00D787"})

	unhealthyCellStyle = lipgloss.NewStyle().
				Foreground(lipgloss.AdaptiveColor{Light: "#B00000", Dark: "#FF5F5F"})

	dimCellStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#808080", Dark: "#6C6C6C"})
)

// renderStatusTable formats per-service statuses as an aligned table.
func renderStatusTable(statuses []orchestrator.ServiceStatus) string {
	nameWidth := runewidth.StringWidth("SERVICE")
	stateWidth := runewidth.StringWidth("STATE")
	for _, st := range statuses {
		if w := runewidth.StringWidth(st.Name); w > nameWidth {
			nameWidth = w
		}
		if w := runewidth.StringWidth(st.State); w > stateWidth {
			stateWidth = w
		}
	}

	var b strings.Builder
	b.WriteString(tableHeaderStyle.Render(fmt.Sprintf("%s  %s  %s",
		runewidth.FillRight("SERVICE", nameWidth),
		runewidth.FillRight("STATE", stateWidth),
		"HEALTH")) + "\n")

	for _, st := range statuses {
		healthStyle := dimCellStyle
		switch st.Health {
		case "Healthy":
			healthStyle = healthyCellStyle
		case "Unhealthy":
			healthStyle = unhealthyCellStyle
		}
		line := fmt.Sprintf("%s  %s  %s",
			runewidth.FillRight(st.Name, nameWidth),
			runewidth.FillRight(st.State, stateWidth),
			healthStyle.Render(st.Health))
		if st.Err != nil {
			line += "  " + dimCellStyle.Render(st.Err.Error())
		}
		b.WriteString(line + "\n")
	}
	return b.String()
}
