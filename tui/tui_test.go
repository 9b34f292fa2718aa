// ABOUTME: Tests for the weekly board model
// ABOUTME: Drives Update with loaded and sync messages and checks the rendered view
package tui

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harperreed/coachcal/db"
	"github.com/harperreed/coachcal/models"
	"github.com/harperreed/coachcal/sync"
)

type stubSyncer struct {
	got    models.WeeklyAssignment
	report *models.SyncReport
	err    error
}

func (s *stubSyncer) SyncWeeklyAssignment(_ context.Context, a models.WeeklyAssignment, _ sync.SyncContext) (*models.SyncReport, error) {
	s.got = a
	return s.report, s.err
}

type board struct {
	deps   Deps
	syncer *stubSyncer
	runs   *db.SyncRepository
	owner  uuid.UUID
	lower  uuid.UUID
	upper  uuid.UUID
}

func newBoard(t *testing.T) *board {
	t.Helper()
	database, err := db.OpenDatabase(filepath.Join(t.TempDir(), "tui.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	ctx := context.Background()
	routines := db.NewRoutineRepository(database)
	sessions := db.NewSessionRepository(database)
	lower := &models.Routine{Name: "Lower Body"}
	upper := &models.Routine{Name: "Upper Body"}
	require.NoError(t, routines.Create(ctx, lower))
	require.NoError(t, routines.Create(ctx, upper))

	b := &board{
		syncer: &stubSyncer{},
		runs:   db.NewSyncRepository(database),
		owner:  uuid.New(),
		lower:  lower.ID,
		upper:  upper.ID,
	}
	b.deps = Deps{
		Sessions: sessions,
		Routines: routines,
		Status:   b.runs,
		Syncer:   func(context.Context) (Syncer, error) { return b.syncer, nil },
		Defaults: sync.SyncContext{OwnerID: b.owner},
	}

	event := "evt1"
	rule := "RRULE:FREQ=WEEKLY;BYDAY=MO;COUNT=12"
	require.NoError(t, sessions.Create(ctx, &models.ScheduledSession{
		OwnerID:         b.owner,
		RoutineID:       lower.ID,
		ScheduledDate:   time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC),
		ScheduledTime:   "08:00",
		DurationMinutes: 60,
		RecurrenceRule:  &rule,
		ExternalEventID: &event,
		TimeZone:        "UTC",
	}))
	require.NoError(t, sessions.Create(ctx, &models.ScheduledSession{
		OwnerID:         b.owner,
		RoutineID:       upper.ID,
		ScheduledDate:   time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC),
		ScheduledTime:   "08:00",
		DurationMinutes: 60,
		TimeZone:        "UTC",
	}))
	return b
}

func loaded(t *testing.T, m Model) Model {
	t.Helper()
	msg := m.Init()()
	next, _ := m.Update(msg)
	return next.(Model)
}

func key(s string) tea.KeyMsg {
	if s == "tab" {
		return tea.KeyMsg{Type: tea.KeyTab}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestBoardShowsSessions(t *testing.T) {
	b := newBoard(t)
	m := loaded(t, NewModel(b.deps))

	out := m.View()
	assert.Contains(t, out, "COACHCAL")
	assert.Contains(t, out, "Monday")
	assert.Contains(t, out, "Lower Body")
	assert.Contains(t, out, "FREQ=WEEKLY;BYDAY=MO;COUNT=12")
	assert.Contains(t, out, "Orphans (1)")
	assert.Contains(t, out, "Not synced yet")
	assert.Less(t, strings.Index(out, "Monday"), strings.Index(out, "Wednesday"))
}

func TestBoardOrphanTab(t *testing.T) {
	b := newBoard(t)
	m := loaded(t, NewModel(b.deps))

	next, _ := m.Update(key("tab"))
	m = next.(Model)
	assert.Equal(t, ViewOrphans, m.viewMode)
	out := m.View()
	assert.Contains(t, out, "Wednesday")
	assert.Contains(t, out, "orphan")
	assert.NotContains(t, out, "Monday")

	next, _ = m.Update(key("tab"))
	assert.Equal(t, ViewWeek, next.(Model).viewMode)
}

func TestAssignmentSkipsOrphans(t *testing.T) {
	b := newBoard(t)
	m := loaded(t, NewModel(b.deps))

	a := m.Assignment()
	assert.Equal(t, models.WeeklyAssignment{time.Monday: b.lower}, a)
}

func TestResyncKey(t *testing.T) {
	b := newBoard(t)
	b.syncer.report = &models.SyncReport{CreatedCount: 1}
	m := loaded(t, NewModel(b.deps))

	next, cmd := m.Update(key("s"))
	m = next.(Model)
	require.NotNil(t, cmd)
	assert.True(t, m.syncing)
	assert.Contains(t, m.View(), "Syncing...")

	next, refresh := m.Update(cmd())
	m = next.(Model)
	assert.False(t, m.syncing)
	assert.Equal(t, "1 session created", m.message)
	assert.NotNil(t, refresh)
	assert.Equal(t, models.WeeklyAssignment{time.Monday: b.lower}, b.syncer.got)
}

func TestResyncFailure(t *testing.T) {
	b := newBoard(t)
	b.deps.Syncer = func(context.Context) (Syncer, error) { return nil, errors.New("not signed in") }
	m := loaded(t, NewModel(b.deps))

	_, cmd := m.Update(key("s"))
	next, _ := m.Update(cmd())
	assert.Equal(t, "Sync failed: not signed in", next.(Model).message)
}

func TestResyncWithNothingAssigned(t *testing.T) {
	b := newBoard(t)
	b.deps.Defaults.OwnerID = uuid.New()
	m := loaded(t, NewModel(b.deps))

	next, cmd := m.Update(key("s"))
	assert.Nil(t, cmd)
	assert.Contains(t, next.(Model).message, "Nothing to sync")
	assert.Contains(t, next.(Model).View(), "No sessions scheduled yet.")
}

func TestStatusFooterShowsLastError(t *testing.T) {
	b := newBoard(t)
	msg := "Wednesday (calendar unavailable)"
	require.NoError(t, b.runs.CompleteSync(context.Background(), db.CalendarService(b.owner.String()), "run1", &msg))

	m := loaded(t, NewModel(b.deps))
	out := m.View()
	assert.Contains(t, out, "Last sync had problems")
	assert.Contains(t, out, msg)
	assert.Contains(t, out, "Last synced")
}
