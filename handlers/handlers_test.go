// ABOUTME: Tests for the MCP tool handlers
// ABOUTME: Uses a recording scheduler and a real SQLite routine store
package handlers

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harperreed/coachcal/apperr"
	"github.com/harperreed/coachcal/db"
	"github.com/harperreed/coachcal/models"
	"github.com/harperreed/coachcal/sync"
)

type recordingScheduler struct {
	assignment models.WeeklyAssignment
	sc         sync.SyncContext
	report     *models.SyncReport
	syncErr    error
	change     sync.SessionChange
	removed    uuid.UUID
	sessions   []models.ScheduledSession
	start, end time.Time
	calendarID string
	available  *sync.Availability
	reconcile  *sync.ReconcileReport
	apply      bool
}

func (r *recordingScheduler) SyncWeeklyAssignment(_ context.Context, a models.WeeklyAssignment, sc sync.SyncContext) (*models.SyncReport, error) {
	r.assignment, r.sc = a, sc
	return r.report, r.syncErr
}

func (r *recordingScheduler) UpdateSession(_ context.Context, id uuid.UUID, c sync.SessionChange) (*models.ScheduledSession, error) {
	r.change = c
	s := models.ScheduledSession{ID: id, ScheduledDate: time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC), ScheduledTime: "09:30", DurationMinutes: 45}
	return &s, nil
}

func (r *recordingScheduler) RemoveSession(_ context.Context, id uuid.UUID) error {
	r.removed = id
	return nil
}

func (r *recordingScheduler) ListSessions(context.Context, uuid.UUID) ([]models.ScheduledSession, error) {
	return r.sessions, nil
}

func (r *recordingScheduler) Orphans(context.Context, uuid.UUID) ([]models.ScheduledSession, error) {
	var out []models.ScheduledSession
	for _, s := range r.sessions {
		if s.IsOrphan() {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *recordingScheduler) Reconcile(_ context.Context, _ uuid.UUID, calendarID string, apply bool) (*sync.ReconcileReport, error) {
	r.calendarID, r.apply = calendarID, apply
	return r.reconcile, nil
}

func (r *recordingScheduler) CheckAvailability(_ context.Context, calendarID string, start, end time.Time) (*sync.Availability, error) {
	r.calendarID, r.start, r.end = calendarID, start, end
	return r.available, nil
}

type fixture struct {
	sched    *recordingScheduler
	routines *db.RoutineRepository
	sessions *SessionHandlers
	loc      *time.Location
	owner    uuid.UUID
	lower    *models.Routine
}

func setup(t *testing.T) *fixture {
	t.Helper()
	database, err := db.OpenDatabase(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	routines := db.NewRoutineRepository(database)
	lower := &models.Routine{Name: "Lower Body", ProgramName: "Strength Block"}
	require.NoError(t, routines.Create(context.Background(), lower))

	f := &fixture{sched: &recordingScheduler{}, routines: routines, loc: loc, owner: uuid.New(), lower: lower}
	defaults := sync.SyncContext{
		OwnerID:         f.owner,
		AttendeeEmail:   "client@example.com",
		TimeOfDay:       "08:00",
		DurationMinutes: 60,
		Occurrences:     12,
		Location:        loc,
		CalendarID:      "primary",
	}
	source := func(context.Context) (Scheduler, error) { return f.sched, nil }
	f.sessions = NewSessionHandlers(source, routines, defaults)
	return f
}

func strPtr(s string) *string { return &s }

func TestSyncWeeklyAssignmentResolvesRoutines(t *testing.T) {
	f := setup(t)
	f.sched.report = &models.SyncReport{
		RunID:        "run1",
		CreatedCount: 1,
		Sessions: []models.ScheduledSession{{
			ID:              uuid.New(),
			ScheduledDate:   time.Date(2024, 1, 8, 0, 0, 0, 0, f.loc),
			ScheduledTime:   "07:15",
			DurationMinutes: 60,
			ExternalEventID: strPtr("evt1"),
		}},
	}

	_, out, err := f.sessions.SyncWeeklyAssignment(context.Background(), nil, SyncWeeklyAssignmentInput{
		Assignments: map[string]string{"mon": "lower body", "Wednesday": f.lower.ID.String()},
		Time:        "07:15",
		StartDate:   "2024-01-02",
	})
	require.NoError(t, err)

	assert.Equal(t, f.lower.ID, f.sched.assignment[time.Monday])
	assert.Equal(t, f.lower.ID, f.sched.assignment[time.Wednesday])
	assert.Equal(t, "07:15", f.sched.sc.TimeOfDay)
	assert.Equal(t, 60, f.sched.sc.DurationMinutes)
	assert.Equal(t, f.owner, f.sched.sc.OwnerID)
	assert.True(t, f.sched.sc.StartDate.Equal(time.Date(2024, 1, 2, 0, 0, 0, 0, f.loc)))

	assert.Equal(t, "success", out.Outcome)
	assert.Equal(t, "1 session created", out.Summary)
	require.Len(t, out.Sessions, 1)
	assert.Equal(t, "Monday", out.Sessions[0].Weekday)
	assert.Equal(t, "2024-01-08", out.Sessions[0].FirstDate)
}

func TestSyncWeeklyAssignmentReportsPartialRun(t *testing.T) {
	f := setup(t)
	f.sched.report = &models.SyncReport{
		CreatedCount: 1,
		Failures:     []models.DayFailure{{Weekday: time.Wednesday, Reason: "calendar unavailable", Kind: "transient"}},
	}
	f.sched.syncErr = apperr.New(apperr.KindPartialSync, "sync", "partial")

	_, out, err := f.sessions.SyncWeeklyAssignment(context.Background(), nil, SyncWeeklyAssignmentInput{
		Assignments: map[string]string{"mon": "Lower Body"},
	})
	require.NoError(t, err)
	assert.Equal(t, "partial", out.Outcome)
	require.Len(t, out.Failures, 1)
	assert.Equal(t, "Wednesday", out.Failures[0].Weekday)
	assert.Contains(t, out.Summary, "Wednesday (calendar unavailable)")
}

func TestSyncWeeklyAssignmentRejectsBadInput(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		input SyncWeeklyAssignmentInput
	}{
		{"empty", SyncWeeklyAssignmentInput{}},
		{"bad weekday", SyncWeeklyAssignmentInput{Assignments: map[string]string{"funday": "Lower Body"}}},
		{"duplicate weekday", SyncWeeklyAssignmentInput{Assignments: map[string]string{"mon": "Lower Body", "monday": "Lower Body"}}},
		{"unknown routine", SyncWeeklyAssignmentInput{Assignments: map[string]string{"mon": "Yoga"}}},
		{"bad start", SyncWeeklyAssignmentInput{Assignments: map[string]string{"mon": "Lower Body"}, StartDate: "Jan 2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := f.sessions.SyncWeeklyAssignment(ctx, nil, tt.input)
			assert.Error(t, err)
		})
	}
	assert.Nil(t, f.sched.assignment)
}

func TestSyncWeeklyAssignmentSurfacesValidationError(t *testing.T) {
	f := setup(t)
	f.sched.syncErr = apperr.Validation("sync", "attendee email is invalid")

	_, _, err := f.sessions.SyncWeeklyAssignment(context.Background(), nil, SyncWeeklyAssignmentInput{
		Assignments:   map[string]string{"mon": "Lower Body"},
		AttendeeEmail: "nope",
	})
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestSyncWeeklyAssignmentValidatesBeforeSignIn(t *testing.T) {
	f := setup(t)
	var asked int
	source := func(context.Context) (Scheduler, error) {
		asked++
		return f.sched, nil
	}
	h := NewSessionHandlers(source, f.routines, sync.SyncContext{
		OwnerID:         f.owner,
		TimeOfDay:       "08:00",
		DurationMinutes: 60,
		Occurrences:     12,
		Location:        f.loc,
	})
	ctx := context.Background()

	tests := []struct {
		name  string
		input SyncWeeklyAssignmentInput
	}{
		{"missing email", SyncWeeklyAssignmentInput{Assignments: map[string]string{"mon": "Lower Body"}}},
		{"bad email", SyncWeeklyAssignmentInput{Assignments: map[string]string{"mon": "Lower Body"}, AttendeeEmail: "nope"}},
		{"bad time", SyncWeeklyAssignmentInput{Assignments: map[string]string{"mon": "Lower Body"}, AttendeeEmail: "client@example.com", Time: "25:99"}},
		{"negative weeks", SyncWeeklyAssignmentInput{Assignments: map[string]string{"mon": "Lower Body"}, AttendeeEmail: "client@example.com", Weeks: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := h.SyncWeeklyAssignment(ctx, nil, tt.input)
			assert.True(t, apperr.Is(err, apperr.KindValidation), "got %v", err)
		})
	}
	assert.Zero(t, asked, "no sign-in attempt for invalid input")
	assert.Nil(t, f.sched.assignment)
}

func TestOrchestratorServesTools(t *testing.T) {
	var sched Scheduler = sync.NewOrchestrator(nil, nil, nil)
	source := SchedulerSource(func(context.Context) (sync.Scheduler, error) { return sched, nil })

	got, err := source(context.Background())
	require.NoError(t, err)
	assert.Same(t, sched, got)
}

func TestSchedulerUnavailable(t *testing.T) {
	f := setup(t)
	notSignedIn := apperr.New(apperr.KindAuth, "auth", "not signed in")
	h := NewSessionHandlers(func(context.Context) (Scheduler, error) { return nil, notSignedIn }, f.routines, sync.SyncContext{})

	_, _, err := h.ListSessions(context.Background(), nil, ListSessionsInput{})
	assert.True(t, errors.Is(err, notSignedIn))
}

func TestListSessionsAndOrphans(t *testing.T) {
	f := setup(t)
	f.sched.sessions = []models.ScheduledSession{
		{ID: uuid.New(), ScheduledDate: time.Date(2024, 1, 8, 0, 0, 0, 0, f.loc), ExternalEventID: strPtr("evt1")},
		{ID: uuid.New(), ScheduledDate: time.Date(2024, 1, 10, 0, 0, 0, 0, f.loc)},
	}

	_, all, err := f.sessions.ListSessions(context.Background(), nil, ListSessionsInput{})
	require.NoError(t, err)
	assert.Len(t, all.Sessions, 2)

	_, orphans, err := f.sessions.ListOrphans(context.Background(), nil, ListSessionsInput{})
	require.NoError(t, err)
	require.Len(t, orphans.Sessions, 1)
	assert.True(t, orphans.Sessions[0].Orphan)
	assert.Equal(t, "Wednesday", orphans.Sessions[0].Weekday)
}

func TestUpdateSessionBuildsChange(t *testing.T) {
	f := setup(t)
	id := uuid.New()

	_, out, err := f.sessions.UpdateSession(context.Background(), nil, UpdateSessionInput{
		ID:      id.String(),
		Time:    "09:30",
		Routine: "Lower Body",
	})
	require.NoError(t, err)
	require.NotNil(t, f.sched.change.TimeOfDay)
	assert.Equal(t, "09:30", *f.sched.change.TimeOfDay)
	assert.Nil(t, f.sched.change.DurationMinutes)
	require.NotNil(t, f.sched.change.RoutineID)
	assert.Equal(t, f.lower.ID, *f.sched.change.RoutineID)
	assert.Equal(t, id.String(), out.ID)

	_, _, err = f.sessions.UpdateSession(context.Background(), nil, UpdateSessionInput{ID: "nope"})
	assert.Error(t, err)
}

func TestRemoveSession(t *testing.T) {
	f := setup(t)
	id := uuid.New()

	_, out, err := f.sessions.RemoveSession(context.Background(), nil, RemoveSessionInput{ID: id.String()})
	require.NoError(t, err)
	assert.Equal(t, id, f.sched.removed)
	assert.Equal(t, id.String(), out.Removed)
}

func TestCheckAvailability(t *testing.T) {
	f := setup(t)
	f.sched.available = &sync.Availability{
		Available: false,
		Conflicts: []sync.Event{{
			ID:      "busy1",
			Summary: "Dentist",
			Start:   time.Date(2024, 1, 8, 8, 30, 0, 0, f.loc),
			End:     time.Date(2024, 1, 8, 9, 30, 0, 0, f.loc),
		}},
	}

	_, out, err := f.sessions.CheckAvailability(context.Background(), nil, CheckAvailabilityInput{Start: "2024-01-08T08:00"})
	require.NoError(t, err)

	assert.True(t, f.sched.start.Equal(time.Date(2024, 1, 8, 8, 0, 0, 0, f.loc)))
	assert.Equal(t, time.Hour, f.sched.end.Sub(f.sched.start))
	assert.Equal(t, "primary", f.sched.calendarID)
	assert.False(t, out.Available)
	require.Len(t, out.Conflicts, 1)
	assert.Equal(t, "2024-01-08T08:30:00-05:00", out.Conflicts[0].Start)

	_, _, err = f.sessions.CheckAvailability(context.Background(), nil, CheckAvailabilityInput{Start: "2024-01-08T13:00:00Z", DurationMinutes: 30, CalendarID: "team"})
	require.NoError(t, err)
	assert.Equal(t, "team", f.sched.calendarID)
	assert.Equal(t, 30*time.Minute, f.sched.end.Sub(f.sched.start))

	_, _, err = f.sessions.CheckAvailability(context.Background(), nil, CheckAvailabilityInput{})
	assert.Error(t, err)
	_, _, err = f.sessions.CheckAvailability(context.Background(), nil, CheckAvailabilityInput{Start: "tomorrow"})
	assert.Error(t, err)
}

func TestReconcileOutput(t *testing.T) {
	f := setup(t)
	f.sched.reconcile = &sync.ReconcileReport{
		Matched: 2,
		RemoteOnly: []sync.RemoteSeries{{
			Event: sync.Event{ID: "stray", Summary: "Upper Body", Start: time.Date(2024, 1, 9, 8, 0, 0, 0, f.loc), End: time.Date(2024, 1, 9, 9, 0, 0, 0, f.loc)},
			Known: true,
		}},
	}

	_, out, err := f.sessions.Reconcile(context.Background(), nil, ReconcileInput{Apply: true})
	require.NoError(t, err)
	assert.True(t, f.sched.apply)
	assert.Equal(t, "primary", f.sched.calendarID)
	assert.False(t, out.Clean)
	assert.Equal(t, 2, out.Matched)
	require.Len(t, out.RemoteOnly, 1)
	assert.True(t, out.RemoteOnly[0].Known)
}

func TestRoutineHandlers(t *testing.T) {
	f := setup(t)
	h := NewRoutineHandlers(f.routines)
	ctx := context.Background()

	_, _, err := h.AddRoutine(ctx, nil, AddRoutineInput{})
	assert.Error(t, err)

	_, added, err := h.AddRoutine(ctx, nil, AddRoutineInput{Name: "Upper Body", ProgramName: "Strength Block"})
	require.NoError(t, err)
	assert.NotEmpty(t, added.ID)

	_, list, err := h.ListRoutines(ctx, nil, ListRoutinesInput{})
	require.NoError(t, err)
	require.Len(t, list.Routines, 2)
	assert.Equal(t, "Lower Body", list.Routines[0].Name)
	assert.Equal(t, "Upper Body", list.Routines[1].Name)
}
