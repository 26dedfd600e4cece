// Package tui implements the live dashboard shown by `fhirstack up --watch`.
// It renders one row per managed service, updated from the orchestrator's
// state change events, plus a small rolling log pane.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"fhirstack/internal/orchestrator"
	"fhirstack/pkg/logging"
)

const maxLogLines = 8

// row is the dashboard's view of one service.
type row struct {
	name   string
	state  string
	health string
	err    error
}

// Model is the bubbletea model for the watch dashboard.
type Model struct {
	stackName string
	rows      []row
	index     map[string]int
	spinner   spinner.Model
	logLines  []string
	width     int

	events <-chan orchestrator.StateChangedEvent
	logs   <-chan logging.LogEntry

	// onQuit asks the CLI to begin teardown; the program itself exits when
	// the event/log sources dry up or the user confirms.
	onQuit func()
	done   bool
}

// NewModel builds the dashboard model. serviceNames fixes the row order to
// the startup order so the display matches the orchestration.
func NewModel(stackName string, serviceNames []string, events <-chan orchestrator.StateChangedEvent, logs <-chan logging.LogEntry, onQuit func()) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot

	rows := make([]row, len(serviceNames))
	index := make(map[string]int, len(serviceNames))
	for i, name := range serviceNames {
		rows[i] = row{name: name, state: "Pending", health: "Unknown"}
		index[name] = i
	}

	return Model{
		stackName: stackName,
		rows:      rows,
		index:     index,
		spinner:   sp,
		events:    events,
		logs:      logs,
		onQuit:    onQuit,
		width:     80,
	}
}

type stateEventMsg orchestrator.StateChangedEvent

type logEntryMsg logging.LogEntry

type sourceClosedMsg struct{}

func (m Model) waitForEvent() tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-m.events
		if !ok {
			return sourceClosedMsg{}
		}
		return stateEventMsg(ev)
	}
}

func (m Model) waitForLog() tea.Cmd {
	return func() tea.Msg {
		entry, ok := <-m.logs
		if !ok {
			return sourceClosedMsg{}
		}
		return logEntryMsg(entry)
	}
}

// Init starts the spinner and the channel pumps.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.waitForEvent(), m.waitForLog())
}

// Update handles key presses, orchestrator events and log entries.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			if !m.done {
				m.done = true
				m.appendLog("Shutting down, stopping services...")
				if m.onQuit != nil {
					m.onQuit()
				}
			}
			return m, nil
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case stateEventMsg:
		if i, ok := m.index[msg.Name]; ok {
			if msg.NewState != "" {
				m.rows[i].state = msg.NewState
			}
			if msg.Health != "" {
				m.rows[i].health = msg.Health
			}
			m.rows[i].err = msg.Err
		}
		return m, m.waitForEvent()

	case logEntryMsg:
		entry := logging.LogEntry(msg)
		line := fmt.Sprintf("%s [%s] %s", entry.Timestamp.Format("15:04:05"), entry.Subsystem, entry.Message)
		if entry.Err != nil {
			line += ": " + entry.Err.Error()
		}
		m.appendLog(line)
		return m, m.waitForLog()

	case sourceClosedMsg:
		// The orchestrator has shut down; leave the final frame behind.
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m *Model) appendLog(line string) {
	m.logLines = append(m.logLines, line)
	if len(m.logLines) > maxLogLines {
		m.logLines = m.logLines[len(m.logLines)-maxLogLines:]
	}
}

// View renders the service table and log pane.
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(headerStyle.Render(m.stackName+" service topology") + "\n\n")

	nameWidth := 12
	for _, r := range m.rows {
		if w := runewidth.StringWidth(r.name); w > nameWidth {
			nameWidth = w
		}
	}

	header := fmt.Sprintf("  %s %s %s",
		runewidth.FillRight("SERVICE", nameWidth+2),
		runewidth.FillRight("STATE", 12),
		"HEALTH")
	b.WriteString(tableHeaderStyle.Render(header) + "\n")

	for _, r := range m.rows {
		marker := " "
		if r.state == "Starting" || (r.state == "Running" && r.health != "Healthy") {
			marker = m.spinner.View()
		}
		line := fmt.Sprintf("%s %s %s %s",
			marker,
			runewidth.FillRight(runewidth.Truncate(r.name, nameWidth+1, "…"), nameWidth+2),
			runewidth.FillRight(r.state, 12),
			styleForHealth(r.health).Render(r.health))
		if r.err != nil {
			line += " " + unhealthyStyle.Render(runewidth.Truncate(r.err.Error(), m.width-nameWidth-30, "…"))
		}
		b.WriteString(line + "\n")
	}

	if len(m.logLines) > 0 {
		b.WriteString("\n")
		for _, line := range m.logLines {
			maxWidth := m.width - 2
			if maxWidth > 0 && runewidth.StringWidth(line) > maxWidth {
				line = runewidth.Truncate(line, maxWidth, "…")
			}
			b.WriteString(logStyle.Render(line) + "\n")
		}
	}

	b.WriteString(footerStyle.Render("q: stop all services and quit"))
	return lipgloss.NewStyle().Margin(0, 1).Render(b.String())
}

func styleForHealth(health string) lipgloss.Style {
	switch health {
	case "Healthy":
		return healthyStyle
	case "Unhealthy":
		return unhealthyStyle
	case "Unknown":
		return pendingStyle
	default:
		return dimStyle
	}
}
