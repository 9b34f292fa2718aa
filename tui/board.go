// ABOUTME: Renders the weekly session board, the orphan list and the status footer
// ABOUTME: The table holds one row per session in Monday-first order
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"

	"github.com/harperreed/coachcal/db"
	"github.com/harperreed/coachcal/models"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("170")).
			MarginBottom(1)

	tabActiveStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("170")).
			Background(lipgloss.Color("235")).
			Padding(0, 2)

	tabInactiveStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("240")).
				Padding(0, 2)

	idleStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	syncingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))

	messageStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			Italic(true)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			MarginTop(1)
)

func newTable(height int) table.Model {
	return table.New(
		table.WithColumns([]table.Column{
			{Title: "Day", Width: 10},
			{Title: "Time", Width: 6},
			{Title: "Min", Width: 4},
			{Title: "Routine", Width: 24},
			{Title: "From", Width: 10},
			{Title: "Rule", Width: 32},
			{Title: "Event", Width: 14},
		}),
		table.WithFocused(true),
		table.WithHeight(tableHeight(height)),
	)
}

func tableHeight(height int) int {
	if h := height - 10; h > 3 {
		return h
	}
	return 3
}

func (m Model) visible() []models.ScheduledSession {
	if m.viewMode == ViewOrphans {
		return m.orphans
	}
	return m.sessions
}

func (m Model) rows() []table.Row {
	var rows []table.Row
	for _, s := range m.visible() {
		routine := s.RoutineID.String()[:8]
		if r, ok := m.routines[s.RoutineID]; ok {
			routine = r.Name
		}
		rule := ""
		if s.RecurrenceRule != nil {
			rule = strings.TrimPrefix(*s.RecurrenceRule, "RRULE:")
		}
		event := "orphan"
		if !s.IsOrphan() {
			event = *s.ExternalEventID
		}
		rows = append(rows, table.Row{
			s.Weekday().String(),
			s.ScheduledTime,
			fmt.Sprint(s.DurationMinutes),
			routine,
			s.ScheduledDate.Format("2006-01-02"),
			rule,
			event,
		})
	}
	return rows
}

func (m Model) View() string {
	var s strings.Builder

	s.WriteString(titleStyle.Render("COACHCAL"))
	s.WriteString("\n\n")
	s.WriteString(m.renderTabs())
	s.WriteString("\n\n")

	if len(m.visible()) == 0 {
		if m.viewMode == ViewOrphans {
			s.WriteString(messageStyle.Render("No orphaned sessions."))
		} else {
			s.WriteString(messageStyle.Render("No sessions scheduled yet."))
		}
	} else {
		s.WriteString(m.table.View())
	}
	s.WriteString("\n\n")
	s.WriteString(m.renderStatus())
	s.WriteString("\n")
	s.WriteString(helpStyle.Render("tab: switch view • r: refresh • s: re-sync week • q: quit"))
	return s.String()
}

func (m Model) renderTabs() string {
	tabs := []string{"Week", fmt.Sprintf("Orphans (%d)", len(m.orphans))}
	var rendered []string
	for i, tab := range tabs {
		if ViewMode(i) == m.viewMode {
			rendered = append(rendered, tabActiveStyle.Render(tab))
		} else {
			rendered = append(rendered, tabInactiveStyle.Render(tab))
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, rendered...)
}

func (m Model) renderStatus() string {
	var s strings.Builder
	switch {
	case m.err != nil:
		s.WriteString(errorStyle.Render("✗ " + m.err.Error()))
	case m.syncing || (m.state != nil && m.state.Status == db.SyncStatusSyncing):
		s.WriteString(syncingStyle.Render("⟳ Syncing..."))
	case m.state == nil:
		s.WriteString(messageStyle.Render("Not synced yet"))
	case m.state.Status == db.SyncStatusError:
		s.WriteString(errorStyle.Render("✗ Last sync had problems"))
		if m.state.ErrorMessage != nil {
			s.WriteString(errorStyle.Render(": " + *m.state.ErrorMessage))
		}
	default:
		s.WriteString(idleStyle.Render("✓ Idle"))
	}
	if m.state != nil && m.state.LastSyncTime != nil {
		s.WriteString(messageStyle.Render(" • Last synced " + m.state.LastSyncTime.Local().Format("Jan 2 15:04")))
	}
	if m.message != "" {
		s.WriteString("\n")
		s.WriteString(messageStyle.Render(m.message))
	}
	return s.String()
}
