// ABOUTME: Session MCP tool handlers
// ABOUTME: Implements sync_weekly_assignment, list_sessions, update_session, remove_session, list_orphans, reconcile and check_availability
package handlers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/harperreed/coachcal/models"
	"github.com/harperreed/coachcal/recurrence"
	"github.com/harperreed/coachcal/sync"
)

type SessionHandlers struct {
	scheduler SchedulerSource
	routines  Routines
	defaults  sync.SyncContext
}

// NewSessionHandlers serves the session tools. defaults supplies the owner,
// zone and any field a caller leaves empty.
func NewSessionHandlers(scheduler SchedulerSource, routines Routines, defaults sync.SyncContext) *SessionHandlers {
	return &SessionHandlers{scheduler: scheduler, routines: routines, defaults: defaults}
}

type SyncWeeklyAssignmentInput struct {
	Assignments     map[string]string `json:"assignments" jsonschema:"Weekday to routine name or ID, e.g. {\"monday\": \"Lower Body\"} (required)"`
	AttendeeEmail   string            `json:"attendee_email,omitempty" jsonschema:"Email invited to every session"`
	Time            string            `json:"time,omitempty" jsonschema:"Start time HH:MM in the configured time zone"`
	DurationMinutes int               `json:"duration_minutes,omitempty" jsonschema:"Session length in minutes"`
	Weeks           int               `json:"weeks,omitempty" jsonschema:"Number of weekly occurrences"`
	StartDate       string            `json:"start_date,omitempty" jsonschema:"Schedule from this date (YYYY-MM-DD, default today)"`
	CalendarID      string            `json:"calendar_id,omitempty" jsonschema:"Calendar ID (default primary)"`
}

type FailureOutput struct {
	Weekday string `json:"weekday"`
	Reason  string `json:"reason"`
	Kind    string `json:"kind"`
}

type SyncOutput struct {
	RunID    string          `json:"run_id"`
	Outcome  string          `json:"outcome"`
	Summary  string          `json:"summary"`
	Created  int             `json:"created"`
	Sessions []SessionOutput `json:"sessions"`
	Failures []FailureOutput `json:"failures,omitempty"`
	Orphans  []SessionOutput `json:"orphans,omitempty"`
}

// SyncWeeklyAssignment runs a weekly sync. A run with failed days is
// reported in the output rather than as a tool error.
func (h *SessionHandlers) SyncWeeklyAssignment(ctx context.Context, _ *mcp.CallToolRequest, input SyncWeeklyAssignmentInput) (*mcp.CallToolResult, SyncOutput, error) {
	if len(input.Assignments) == 0 {
		return nil, SyncOutput{}, fmt.Errorf("assignments is required")
	}

	assignment := models.WeeklyAssignment{}
	for dayStr, ref := range input.Assignments {
		day, err := recurrence.ParseWeekday(dayStr)
		if err != nil {
			return nil, SyncOutput{}, err
		}
		if _, dup := assignment[day]; dup {
			return nil, SyncOutput{}, fmt.Errorf("%s is assigned twice", day)
		}
		routine, err := resolveRoutine(ctx, h.routines, strings.TrimSpace(ref))
		if err != nil {
			return nil, SyncOutput{}, err
		}
		assignment[day] = routine.ID
	}

	sc, err := h.syncContext(input)
	if err != nil {
		return nil, SyncOutput{}, err
	}
	if sc, err = sc.Normalize(); err != nil {
		return nil, SyncOutput{}, err
	}
	scheduler, err := h.scheduler(ctx)
	if err != nil {
		return nil, SyncOutput{}, err
	}

	report, err := scheduler.SyncWeeklyAssignment(ctx, assignment, sc)
	if report == nil {
		return nil, SyncOutput{}, err
	}
	return nil, reportToOutput(report), nil
}

func (h *SessionHandlers) syncContext(input SyncWeeklyAssignmentInput) (sync.SyncContext, error) {
	sc := h.defaults
	if input.AttendeeEmail != "" {
		sc.AttendeeEmail = input.AttendeeEmail
	}
	if input.Time != "" {
		sc.TimeOfDay = input.Time
	}
	if input.DurationMinutes != 0 {
		sc.DurationMinutes = input.DurationMinutes
	}
	if input.Weeks != 0 {
		sc.Occurrences = input.Weeks
	}
	if input.CalendarID != "" {
		sc.CalendarID = input.CalendarID
	}
	if input.StartDate != "" {
		if sc.Location == nil {
			return sc, fmt.Errorf("no time zone configured")
		}
		d, err := time.ParseInLocation("2006-01-02", input.StartDate, sc.Location)
		if err != nil {
			return sc, fmt.Errorf("invalid start_date: %w", err)
		}
		sc.StartDate = d
	}
	return sc, nil
}

func reportToOutput(r *models.SyncReport) SyncOutput {
	out := SyncOutput{
		RunID:    r.RunID,
		Outcome:  string(r.Outcome()),
		Summary:  r.Summary(),
		Created:  r.CreatedCount,
		Sessions: sessionsToOutput(r.Sessions),
	}
	for _, f := range r.Failures {
		out.Failures = append(out.Failures, FailureOutput{Weekday: f.Weekday.String(), Reason: f.Reason, Kind: f.Kind})
	}
	if len(r.Orphans) > 0 {
		out.Orphans = sessionsToOutput(r.Orphans)
	}
	return out
}

type ListSessionsInput struct{}

type ListSessionsOutput struct {
	Sessions []SessionOutput `json:"sessions"`
}

func (h *SessionHandlers) ListSessions(ctx context.Context, _ *mcp.CallToolRequest, _ ListSessionsInput) (*mcp.CallToolResult, ListSessionsOutput, error) {
	scheduler, err := h.scheduler(ctx)
	if err != nil {
		return nil, ListSessionsOutput{}, err
	}
	sessions, err := scheduler.ListSessions(ctx, h.defaults.OwnerID)
	if err != nil {
		return nil, ListSessionsOutput{}, fmt.Errorf("failed to list sessions: %w", err)
	}
	return nil, ListSessionsOutput{Sessions: sessionsToOutput(sessions)}, nil
}

func (h *SessionHandlers) ListOrphans(ctx context.Context, _ *mcp.CallToolRequest, _ ListSessionsInput) (*mcp.CallToolResult, ListSessionsOutput, error) {
	scheduler, err := h.scheduler(ctx)
	if err != nil {
		return nil, ListSessionsOutput{}, err
	}
	orphans, err := scheduler.Orphans(ctx, h.defaults.OwnerID)
	if err != nil {
		return nil, ListSessionsOutput{}, fmt.Errorf("failed to list orphans: %w", err)
	}
	return nil, ListSessionsOutput{Sessions: sessionsToOutput(orphans)}, nil
}

type UpdateSessionInput struct {
	ID              string `json:"id" jsonschema:"Session ID (required)"`
	Time            string `json:"time,omitempty" jsonschema:"New start time HH:MM"`
	DurationMinutes int    `json:"duration_minutes,omitempty" jsonschema:"New length in minutes"`
	Routine         string `json:"routine,omitempty" jsonschema:"New routine name or ID"`
}

func (h *SessionHandlers) UpdateSession(ctx context.Context, _ *mcp.CallToolRequest, input UpdateSessionInput) (*mcp.CallToolResult, SessionOutput, error) {
	id, err := uuid.Parse(input.ID)
	if err != nil {
		return nil, SessionOutput{}, fmt.Errorf("invalid id: %w", err)
	}

	var change sync.SessionChange
	if input.Time != "" {
		change.TimeOfDay = &input.Time
	}
	if input.DurationMinutes != 0 {
		change.DurationMinutes = &input.DurationMinutes
	}
	if input.Routine != "" {
		r, err := resolveRoutine(ctx, h.routines, input.Routine)
		if err != nil {
			return nil, SessionOutput{}, err
		}
		change.RoutineID = &r.ID
	}

	scheduler, err := h.scheduler(ctx)
	if err != nil {
		return nil, SessionOutput{}, err
	}
	s, err := scheduler.UpdateSession(ctx, id, change)
	if err != nil {
		return nil, SessionOutput{}, err
	}
	return nil, sessionToOutput(s), nil
}

type RemoveSessionInput struct {
	ID string `json:"id" jsonschema:"Session ID (required)"`
}

type RemoveSessionOutput struct {
	Removed string `json:"removed"`
}

func (h *SessionHandlers) RemoveSession(ctx context.Context, _ *mcp.CallToolRequest, input RemoveSessionInput) (*mcp.CallToolResult, RemoveSessionOutput, error) {
	id, err := uuid.Parse(input.ID)
	if err != nil {
		return nil, RemoveSessionOutput{}, fmt.Errorf("invalid id: %w", err)
	}
	scheduler, err := h.scheduler(ctx)
	if err != nil {
		return nil, RemoveSessionOutput{}, err
	}
	if err := scheduler.RemoveSession(ctx, id); err != nil {
		return nil, RemoveSessionOutput{}, err
	}
	return nil, RemoveSessionOutput{Removed: id.String()}, nil
}

type ReconcileInput struct {
	Apply      bool   `json:"apply,omitempty" jsonschema:"Clear event ids whose series no longer exists"`
	CalendarID string `json:"calendar_id,omitempty" jsonschema:"Calendar ID (default primary)"`
}

type EventOutput struct {
	ID      string `json:"id"`
	Summary string `json:"summary"`
	Start   string `json:"start"`
	End     string `json:"end"`
	Known   bool   `json:"known,omitempty"`
}

type DriftOutput struct {
	SessionID string `json:"session_id"`
	EventID   string `json:"event_id"`
	Start     string `json:"start"`
	Expected  string `json:"expected"`
}

type ReconcileOutput struct {
	Clean         bool            `json:"clean"`
	Matched       int             `json:"matched"`
	Cleared       int             `json:"cleared"`
	LocalOrphans  []SessionOutput `json:"local_orphans,omitempty"`
	MissingRemote []SessionOutput `json:"missing_remote,omitempty"`
	RemoteOnly    []EventOutput   `json:"remote_only,omitempty"`
	Drifted       []DriftOutput   `json:"drifted,omitempty"`
}

func (h *SessionHandlers) Reconcile(ctx context.Context, _ *mcp.CallToolRequest, input ReconcileInput) (*mcp.CallToolResult, ReconcileOutput, error) {
	calendarID := input.CalendarID
	if calendarID == "" {
		calendarID = h.defaults.CalendarID
	}
	scheduler, err := h.scheduler(ctx)
	if err != nil {
		return nil, ReconcileOutput{}, err
	}
	report, err := scheduler.Reconcile(ctx, h.defaults.OwnerID, calendarID, input.Apply)
	if err != nil {
		return nil, ReconcileOutput{}, err
	}

	out := ReconcileOutput{Clean: report.Clean(), Matched: report.Matched, Cleared: report.Cleared}
	if len(report.LocalOrphans) > 0 {
		out.LocalOrphans = sessionsToOutput(report.LocalOrphans)
	}
	if len(report.MissingRemote) > 0 {
		out.MissingRemote = sessionsToOutput(report.MissingRemote)
	}
	for _, rs := range report.RemoteOnly {
		ev := eventToOutput(rs.Event)
		ev.Known = rs.Known
		out.RemoteOnly = append(out.RemoteOnly, ev)
	}
	for _, d := range report.Drifted {
		out.Drifted = append(out.Drifted, DriftOutput{
			SessionID: d.Session.ID.String(),
			EventID:   d.Event.ID,
			Start:     d.Event.Start.Format(time.RFC3339),
			Expected:  d.Expected.Format(time.RFC3339),
		})
	}
	return nil, out, nil
}

func eventToOutput(ev sync.Event) EventOutput {
	return EventOutput{
		ID:      ev.ID,
		Summary: ev.Summary,
		Start:   ev.Start.Format(time.RFC3339),
		End:     ev.End.Format(time.RFC3339),
	}
}

type CheckAvailabilityInput struct {
	Start           string `json:"start" jsonschema:"Slot start, RFC3339 or YYYY-MM-DDTHH:MM in the configured time zone (required)"`
	DurationMinutes int    `json:"duration_minutes,omitempty" jsonschema:"Slot length in minutes"`
	CalendarID      string `json:"calendar_id,omitempty" jsonschema:"Calendar ID (default primary)"`
}

type AvailabilityOutput struct {
	Start     string        `json:"start"`
	End       string        `json:"end"`
	Available bool          `json:"available"`
	Conflicts []EventOutput `json:"conflicts,omitempty"`
}

func (h *SessionHandlers) CheckAvailability(ctx context.Context, _ *mcp.CallToolRequest, input CheckAvailabilityInput) (*mcp.CallToolResult, AvailabilityOutput, error) {
	start, err := h.parseStart(input.Start)
	if err != nil {
		return nil, AvailabilityOutput{}, err
	}
	minutes := input.DurationMinutes
	if minutes == 0 {
		minutes = h.defaults.DurationMinutes
	}
	if minutes <= 0 {
		return nil, AvailabilityOutput{}, fmt.Errorf("duration_minutes must be positive")
	}
	calendarID := input.CalendarID
	if calendarID == "" {
		calendarID = h.defaults.CalendarID
	}

	scheduler, err := h.scheduler(ctx)
	if err != nil {
		return nil, AvailabilityOutput{}, err
	}
	avail, err := scheduler.CheckAvailability(ctx, calendarID, start, start.Add(time.Duration(minutes)*time.Minute))
	if err != nil {
		return nil, AvailabilityOutput{}, err
	}
	out := AvailabilityOutput{
		Start:     avail.Start.Format(time.RFC3339),
		End:       avail.End.Format(time.RFC3339),
		Available: avail.Available,
	}
	for _, ev := range avail.Conflicts {
		out.Conflicts = append(out.Conflicts, eventToOutput(ev))
	}
	return nil, out, nil
}

func (h *SessionHandlers) parseStart(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("start is required")
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	loc := h.defaults.Location
	if loc == nil {
		loc = time.UTC
	}
	t, err := time.ParseInLocation("2006-01-02T15:04", s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid start %q: use RFC3339 or YYYY-MM-DDTHH:MM", s)
	}
	return t, nil
}
