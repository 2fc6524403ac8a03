package watch

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/mntdata/internal/events"
)

func renderEventStream(eventLog []events.Event, theme Theme, width int) string {
	innerWidth := width - 4

	if len(eventLog) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("EVENT STREAM"),
			theme.Dim.Render("  Waiting for events..."),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}

	var lines []string
	for i, e := range eventLog {
		if i >= 10 {
			break
		}
		lines = append(lines, formatEvent(e, theme))
	}

	eventsText := lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n"))
	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("EVENT STREAM"),
		eventsText,
	)

	return theme.Border.Width(innerWidth).Render(content)
}

func formatEvent(e events.Event, theme Theme) string {
	ts := theme.Dim.Render(e.At.Format("15:04:05"))

	var typeStyle lipgloss.Style
	switch e.Type {
	case events.ExecutionCompleted, events.OutputsRegistered:
		typeStyle = theme.StatusOK
	case events.ExecutionFailed:
		typeStyle = theme.StatusFailed
	case events.ExecutionStarted:
		typeStyle = theme.StatusRunning
	case events.ExecutionPrepared:
		typeStyle = theme.Highlight
	default:
		typeStyle = theme.Dim
	}

	typeName := typeStyle.Render(fmt.Sprintf("%-20s", e.Type))
	return fmt.Sprintf("%s %s %s", ts, typeName, extractEventDesc(e))
}

func extractEventDesc(e events.Event) string {
	var data events.Execution
	if err := json.Unmarshal(e.Data, &data); err != nil {
		raw := string(e.Data)
		if len(raw) > 60 {
			raw = raw[:60] + "..."
		}
		return raw
	}

	var parts []string
	if data.SessionID != "" {
		parts = append(parts, fmt.Sprintf("[%s]", truncate(data.SessionID, 12)))
	}

	switch e.Type {
	case events.ExecutionPrepared:
		parts = append(parts, fmt.Sprintf("%d linked", data.Prepared))
		if data.Failed > 0 {
			parts = append(parts, fmt.Sprintf("%d failed", data.Failed))
		}
		if data.Skipped > 0 {
			parts = append(parts, fmt.Sprintf("%d skipped", data.Skipped))
		}
	case events.OutputsRegistered:
		parts = append(parts, fmt.Sprintf("%d output(s)", data.Outputs))
	case events.ExecutionCompleted:
		parts = append(parts, fmt.Sprintf("%dms", data.DurationMS))
	case events.ExecutionFailed:
		parts = append(parts, data.Stage, truncate(data.Error, 50))
	}
	return strings.Join(parts, " ")
}
