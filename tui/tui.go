// ABOUTME: Terminal user interface using the bubbletea framework
// ABOUTME: Shows the weekly session board and re-syncs the current assignment on demand
package tui

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"

	"github.com/harperreed/coachcal/db"
	"github.com/harperreed/coachcal/models"
	"github.com/harperreed/coachcal/sync"
)

// ViewMode represents the current TUI view
type ViewMode int

const (
	ViewWeek ViewMode = iota
	ViewOrphans
)

// Sessions lists stored sessions without touching the calendar.
type Sessions interface {
	ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]models.ScheduledSession, error)
	ListOrphans(ctx context.Context, ownerID uuid.UUID) ([]models.ScheduledSession, error)
}

// Routines lists the routines sessions refer to.
type Routines interface {
	List(ctx context.Context) ([]models.Routine, error)
}

// Status reads the last recorded sync run.
type Status interface {
	GetSyncState(ctx context.Context, service string) (*db.SyncState, error)
}

// Syncer runs a weekly sync.
type Syncer interface {
	SyncWeeklyAssignment(ctx context.Context, assignment models.WeeklyAssignment, sc sync.SyncContext) (*models.SyncReport, error)
}

// SyncerSource yields the syncer on demand; it may require signing in.
type SyncerSource func(ctx context.Context) (Syncer, error)

// Deps is everything the board reads from.
type Deps struct {
	Sessions Sessions
	Routines Routines
	Status   Status
	Syncer   SyncerSource
	Defaults sync.SyncContext
}

// Model is the main bubbletea model
type Model struct {
	deps     Deps
	viewMode ViewMode

	sessions []models.ScheduledSession
	orphans  []models.ScheduledSession
	routines map[uuid.UUID]models.Routine
	state    *db.SyncState
	table    table.Model

	syncing bool
	message string
	err     error

	width  int
	height int
}

// loadedMsg carries a fresh read of local state.
type loadedMsg struct {
	sessions []models.ScheduledSession
	orphans  []models.ScheduledSession
	routines map[uuid.UUID]models.Routine
	state    *db.SyncState
	err      error
}

// SyncCompleteMsg is sent when a re-sync finishes.
type SyncCompleteMsg struct {
	Report *models.SyncReport
	Error  error
}

// NewModel creates a new TUI model
func NewModel(deps Deps) Model {
	m := Model{
		deps:     deps,
		viewMode: ViewWeek,
		routines: map[uuid.UUID]models.Routine{},
		width:    100,
		height:   24,
	}
	m.table = newTable(m.height)
	return m
}

func (m Model) Init() tea.Cmd {
	return m.refresh()
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyPress(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.table.SetHeight(tableHeight(m.height))
		return m, nil
	case loadedMsg:
		m.err = msg.err
		if msg.err == nil {
			m.sessions = msg.sessions
			m.orphans = msg.orphans
			m.routines = msg.routines
			m.state = msg.state
		}
		m.table.SetRows(m.rows())
		return m, nil
	case SyncCompleteMsg:
		m.syncing = false
		switch {
		case msg.Report != nil:
			m.message = msg.Report.Summary()
		case msg.Error != nil:
			m.message = "Sync failed: " + msg.Error.Error()
		}
		return m, m.refresh()
	}
	return m, nil
}

func (m Model) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "tab":
		if m.viewMode == ViewWeek {
			m.viewMode = ViewOrphans
		} else {
			m.viewMode = ViewWeek
		}
		m.table.SetRows(m.rows())
		m.table.SetCursor(0)
		return m, nil
	case "r":
		m.message = "Refreshing..."
		return m, m.refresh()
	case "s":
		if m.syncing {
			return m, nil
		}
		assignment := m.Assignment()
		if len(assignment) == 0 {
			m.message = "Nothing to sync; run 'coachcal schedule sync' first"
			return m, nil
		}
		m.syncing = true
		m.message = "Syncing..."
		return m, m.resync(assignment)
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

// Assignment rebuilds the weekly assignment from confirmed sessions.
func (m Model) Assignment() models.WeeklyAssignment {
	a := models.WeeklyAssignment{}
	for _, s := range m.sessions {
		if s.Origin != models.OriginCalendarSync || s.IsOrphan() {
			continue
		}
		if _, ok := a[s.Weekday()]; !ok {
			a[s.Weekday()] = s.RoutineID
		}
	}
	return a
}

func (m Model) refresh() tea.Cmd {
	deps := m.deps
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		owner := deps.Defaults.OwnerID
		sessions, err := deps.Sessions.ListByOwner(ctx, owner)
		if err != nil {
			return loadedMsg{err: err}
		}
		orphans, err := deps.Sessions.ListOrphans(ctx, owner)
		if err != nil {
			return loadedMsg{err: err}
		}
		routines := map[uuid.UUID]models.Routine{}
		if deps.Routines != nil {
			list, err := deps.Routines.List(ctx)
			if err != nil {
				return loadedMsg{err: err}
			}
			for _, r := range list {
				routines[r.ID] = r
			}
		}
		var state *db.SyncState
		if deps.Status != nil {
			if state, err = deps.Status.GetSyncState(ctx, db.CalendarService(owner.String())); err != nil {
				return loadedMsg{err: err}
			}
		}
		return loadedMsg{sessions: sessions, orphans: orphans, routines: routines, state: state}
	}
}

func (m Model) resync(assignment models.WeeklyAssignment) tea.Cmd {
	deps := m.deps
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		syncer, err := deps.Syncer(ctx)
		if err != nil {
			return SyncCompleteMsg{Error: err}
		}
		report, err := syncer.SyncWeeklyAssignment(ctx, assignment, deps.Defaults)
		return SyncCompleteMsg{Report: report, Error: err}
	}
}

// Run starts the full-screen program.
func Run(deps Deps) error {
	_, err := tea.NewProgram(NewModel(deps), tea.WithAltScreen()).Run()
	return err
}
