package watch

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/mntdata/internal/events"
)

const (
	statusRunning = "running"
	statusDone    = "done"
	statusFailed  = "failed"
)

// SessionState aggregates the executions seen for one session.
type SessionState struct {
	ID           string
	Status       string
	Runs         int
	Failures     int
	Outputs      int
	Prepared     int
	LinkFailures int
	LastStage    string
	LastError    string
	LastDuration time.Duration
	LastSeen     time.Time
}

// updateSessionState folds one event into sessions. Events without a
// session id (stateless runs) are tracked under "-".
func updateSessionState(sessions map[string]*SessionState, e events.Event) {
	var data events.Execution
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return
	}

	id := data.SessionID
	if id == "" {
		id = "-"
	}
	s, ok := sessions[id]
	if !ok {
		s = &SessionState{ID: id}
		sessions[id] = s
	}
	s.LastSeen = e.At

	switch e.Type {
	case events.ExecutionStarted:
		s.Runs++
		s.Status = statusRunning
		s.LastError = ""
	case events.ExecutionPrepared:
		s.Prepared = data.Prepared
		s.LinkFailures = data.Failed
	case events.OutputsRegistered:
		s.Outputs += data.Outputs
	case events.ExecutionCompleted:
		s.Status = statusDone
		s.LastDuration = time.Duration(data.DurationMS) * time.Millisecond
	case events.ExecutionFailed:
		s.Status = statusFailed
		s.Failures++
		s.LastStage = data.Stage
		s.LastError = data.Error
		s.LastDuration = time.Duration(data.DurationMS) * time.Millisecond
	}
}

// sortedSessions returns sessions most recently active first.
func sortedSessions(sessions map[string]*SessionState) []*SessionState {
	out := make([]*SessionState, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastSeen.Equal(out[j].LastSeen) {
			return out[i].LastSeen.After(out[j].LastSeen)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func sessionColumns(width int) []table.Column {
	idWidth := width - 4 - 10 - 6 - 6 - 9 - 10 - 14
	if idWidth < 10 {
		idWidth = 10
	}
	return []table.Column{
		{Title: "SESSION", Width: idWidth},
		{Title: "STATUS", Width: 10},
		{Title: "RUNS", Width: 6},
		{Title: "FAIL", Width: 6},
		{Title: "OUTPUTS", Width: 9},
		{Title: "FILES", Width: 10},
		{Title: "LAST", Width: 14},
	}
}

func sessionRows(list []*SessionState) []table.Row {
	rows := make([]table.Row, 0, len(list))
	for _, s := range list {
		files := fmt.Sprintf("%d", s.Prepared)
		if s.LinkFailures > 0 {
			files = fmt.Sprintf("%d (%d!)", s.Prepared, s.LinkFailures)
		}
		last := "-"
		if s.LastDuration > 0 {
			last = s.LastDuration.Round(time.Millisecond).String()
		}
		rows = append(rows, table.Row{
			s.ID,
			s.Status,
			fmt.Sprintf("%d", s.Runs),
			fmt.Sprintf("%d", s.Failures),
			fmt.Sprintf("%d", s.Outputs),
			files,
			last,
		})
	}
	return rows
}

func newSessionTable(theme Theme) table.Model {
	t := table.New(table.WithFocused(true), table.WithHeight(8))
	styles := table.DefaultStyles()
	styles.Header = theme.Header.BorderStyle(lipgloss.NormalBorder()).BorderBottom(true)
	styles.Selected = theme.Selected
	t.SetStyles(styles)
	return t
}

func renderSessions(t table.Model, selected *SessionState, theme Theme, width int) string {
	innerWidth := width - 4

	if len(t.Rows()) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("SESSIONS"),
			theme.Dim.Render("  No executions yet"),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}

	parts := []string{theme.Title.Render("SESSIONS"), t.View()}
	if selected != nil {
		line := fmt.Sprintf(" %s %s", selected.ID, selected.Status)
		if selected.LastError != "" {
			line = fmt.Sprintf(" %s failed at %s: %s", selected.ID, selected.LastStage, truncate(selected.LastError, innerWidth-20))
		}
		parts = append(parts, theme.statusStyle(selected.Status).Render(line))
	}
	return theme.Border.Width(innerWidth).Render(lipgloss.JoinVertical(lipgloss.Left, parts...))
}

func truncate(s string, n int) string {
	if n < 4 {
		n = 4
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
