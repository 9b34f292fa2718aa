// ABOUTME: Weekly assignment sync: one recurring calendar series per assigned weekday
// ABOUTME: Days fail independently and the run is reported as an itemised SyncReport
package sync

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/harperreed/coachcal/apperr"
	"github.com/harperreed/coachcal/db"
	"github.com/harperreed/coachcal/logging"
	"github.com/harperreed/coachcal/models"
	"github.com/harperreed/coachcal/recurrence"
)

// DefaultCalendarID is used when a caller names no calendar.
const DefaultCalendarID = "primary"

// Gateway is the remote calendar as seen by the orchestrator.
type Gateway interface {
	CreateEvent(ctx context.Context, calendarID string, p *EventPayload) (*Event, error)
	UpdateEvent(ctx context.Context, calendarID, eventID string, p *EventPayload) (*Event, error)
	DeleteEvent(ctx context.Context, calendarID, eventID string) error
	ListSeries(ctx context.Context, calendarID, ownerID string) ([]Event, error)
	HasConflict(ctx context.Context, calendarID string, start, end time.Time) (bool, []Event, error)
}

// SessionStore persists scheduled sessions.
type SessionStore interface {
	Create(ctx context.Context, s *models.ScheduledSession) error
	Get(ctx context.Context, id uuid.UUID) (*models.ScheduledSession, error)
	Update(ctx context.Context, s *models.ScheduledSession) error
	SetExternalEventID(ctx context.Context, id uuid.UUID, externalID *string) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]models.ScheduledSession, error)
	ListByWeekday(ctx context.Context, ownerID uuid.UUID, day time.Weekday) ([]models.ScheduledSession, error)
	ListOrphans(ctx context.Context, ownerID uuid.UUID) ([]models.ScheduledSession, error)
}

// RoutineSource looks up routine metadata for event descriptions.
type RoutineSource interface {
	GetRoutine(ctx context.Context, id uuid.UUID) (*models.Routine, error)
}

// RunLog records sync runs and the events they created.
type RunLog interface {
	UpdateSyncStatus(ctx context.Context, service, status string, errorMsg *string) error
	CompleteSync(ctx context.Context, service, runID string, errorMsg *string) error
	RecordCreatedEvent(ctx context.Context, runID, externalID string, session *models.ScheduledSession) error
	CheckSyncLogExists(ctx context.Context, sourceService, sourceID string) (bool, error)
}

// SyncContext carries everything a weekly sync needs besides the assignment.
type SyncContext struct {
	OwnerID         uuid.UUID
	AttendeeEmail   string
	TimeOfDay       string
	DurationMinutes int
	Occurrences     int
	// StartDate is the reference date for first occurrences. Zero means today.
	StartDate  time.Time
	Location   *time.Location
	CalendarID string
}

// Scheduler is the engine surface used by commands, the MCP tools and the
// board. *Orchestrator is the only production implementation.
type Scheduler interface {
	SyncWeeklyAssignment(ctx context.Context, assignment models.WeeklyAssignment, sc SyncContext) (*models.SyncReport, error)
	UpdateSession(ctx context.Context, id uuid.UUID, change SessionChange) (*models.ScheduledSession, error)
	RemoveSession(ctx context.Context, id uuid.UUID) error
	ListSessions(ctx context.Context, ownerID uuid.UUID) ([]models.ScheduledSession, error)
	Orphans(ctx context.Context, ownerID uuid.UUID) ([]models.ScheduledSession, error)
	Reconcile(ctx context.Context, ownerID uuid.UUID, calendarID string, apply bool) (*ReconcileReport, error)
	CheckAvailability(ctx context.Context, calendarID string, start, end time.Time) (*Availability, error)
}

var _ Scheduler = (*Orchestrator)(nil)

// Orchestrator drives the calendar and the local session store together.
type Orchestrator struct {
	gateway   Gateway
	sessions  SessionStore
	routines  RoutineSource
	runs      RunLog
	reminders []Reminder
	logger    *log.Logger
	now       func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithRunLog records run status and created events.
func WithRunLog(r RunLog) Option { return func(o *Orchestrator) { o.runs = r } }

func WithLogger(l *log.Logger) Option { return func(o *Orchestrator) { o.logger = l } }

func WithClock(now func() time.Time) Option { return func(o *Orchestrator) { o.now = now } }

// WithReminders overrides DefaultReminders on every event.
func WithReminders(r []Reminder) Option { return func(o *Orchestrator) { o.reminders = r } }

// NewOrchestrator wires the orchestrator's collaborators.
func NewOrchestrator(gateway Gateway, sessions SessionStore, routines RoutineSource, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		gateway:  gateway,
		sessions: sessions,
		routines: routines,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = logging.OrDefault(o.logger)
	return o
}

// SyncWeeklyAssignment creates one recurring series per assigned weekday.
// Input problems are rejected before any I/O. After that every day is
// attempted, Monday first, and failures are itemised in the report. A
// report that is not a full success is returned together with a
// PartialSync error.
func (o *Orchestrator) SyncWeeklyAssignment(ctx context.Context, assignment models.WeeklyAssignment, sc SyncContext) (*models.SyncReport, error) {
	const op = "sync.weekly"

	if len(assignment) == 0 {
		return nil, apperr.Validation(op, "assignment has no days")
	}
	for day, routineID := range assignment {
		if day < time.Sunday || day > time.Saturday {
			return nil, apperr.Validation(op, "invalid weekday %d", int(day))
		}
		if routineID == uuid.Nil {
			return nil, apperr.Validation(op, "%s has no routine", day)
		}
	}
	sc, err := o.prepare(op, sc)
	if err != nil {
		return nil, err
	}

	report := &models.SyncReport{
		RunID:     ulid.Make().String(),
		OwnerID:   sc.OwnerID,
		StartedAt: o.now(),
	}
	logger := o.logger.With("run", report.RunID, "owner", sc.OwnerID)
	logger.Info("syncing weekly assignment", "days", len(assignment), "occurrences", sc.Occurrences, "tz", sc.Location)

	service := db.CalendarService(sc.OwnerID.String())
	if o.runs != nil {
		if err := o.runs.UpdateSyncStatus(ctx, service, db.SyncStatusSyncing, nil); err != nil {
			logger.Warn("failed to update sync status", "err", err)
		}
	}

	for _, day := range assignment.Days() {
		o.syncDay(ctx, logger, report, sc, day, assignment[day])
	}
	report.FinishedAt = o.now()

	outcome := report.Outcome()
	if o.runs != nil {
		var msg *string
		if outcome != models.OutcomeSuccess {
			summary := report.Summary()
			msg = &summary
		}
		if err := o.runs.CompleteSync(ctx, service, report.RunID, msg); err != nil {
			logger.Warn("failed to record sync completion", "err", err)
		}
	}
	logger.Info("weekly sync finished", "outcome", outcome, "created", report.CreatedCount, "failed", len(report.Failures))

	if outcome != models.OutcomeSuccess {
		return report, apperr.New(apperr.KindPartialSync, op, report.Summary())
	}
	return report, nil
}

// Normalize checks sc without touching the network or the store and
// returns it with the attendee address canonicalised and the calendar
// defaulted. A zero StartDate is left for the orchestrator's clock.
func (sc SyncContext) Normalize() (SyncContext, error) {
	return sc.normalize("sync.context")
}

func (sc SyncContext) normalize(op string) (SyncContext, error) {
	if sc.OwnerID == uuid.Nil {
		return sc, apperr.Validation(op, "owner id is required")
	}

	email := strings.TrimSpace(sc.AttendeeEmail)
	if email == "" {
		return sc, apperr.Validation(op, "attendee email is required to send calendar invitations")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil {
		return sc, apperr.Validation(op, "invalid attendee email %q", email)
	}
	sc.AttendeeEmail = addr.Address

	if sc.Location == nil || sc.Location.String() == "Local" {
		return sc, apperr.Validation(op, "an explicit IANA time zone is required")
	}
	if _, _, err := recurrence.ParseTimeOfDay(sc.TimeOfDay); err != nil {
		return sc, apperr.Validation(op, "%v", err)
	}
	if sc.DurationMinutes <= 0 {
		return sc, apperr.Validation(op, "duration must be positive, got %d minutes", sc.DurationMinutes)
	}
	if sc.Occurrences < 1 {
		return sc, apperr.Validation(op, "occurrence count must be at least 1, got %d", sc.Occurrences)
	}
	if sc.CalendarID == "" {
		sc.CalendarID = DefaultCalendarID
	}
	return sc, nil
}

// prepare validates sc and fills defaults.
func (o *Orchestrator) prepare(op string, sc SyncContext) (SyncContext, error) {
	sc, err := sc.normalize(op)
	if err != nil {
		return sc, err
	}

	ref := sc.StartDate
	if ref.IsZero() {
		ref = o.now().In(sc.Location)
	}
	y, m, d := ref.Date()
	sc.StartDate = time.Date(y, m, d, 0, 0, 0, 0, sc.Location)
	return sc, nil
}

// syncDay creates (or recreates) the series for one weekday and records
// the result on report.
func (o *Orchestrator) syncDay(ctx context.Context, logger *log.Logger, report *models.SyncReport, sc SyncContext, day time.Weekday, routineID uuid.UUID) {
	const op = "sync.day"
	logger = logger.With("weekday", day)

	fail := func(err error) {
		kind := apperr.Classify(err)
		report.Failures = append(report.Failures, models.DayFailure{
			Weekday: day,
			Reason:  err.Error(),
			Kind:    kind.String(),
			Err:     err,
		})
		logger.Warn("weekday failed", "kind", kind, "err", err)
	}

	routine, err := o.routines.GetRoutine(ctx, routineID)
	if errors.Is(err, db.ErrRoutineNotFound) {
		fail(apperr.Validation(op, "routine %s not found", routineID))
		return
	}
	if err != nil {
		fail(fmt.Errorf("failed to load routine: %w", err))
		return
	}

	plan, err := recurrence.Plan(day, sc.StartDate, sc.Occurrences)
	if err != nil {
		fail(apperr.Wrap(apperr.KindValidation, op, err, "invalid recurrence"))
		return
	}
	window, err := recurrence.BuildEventWindow(plan.FirstOccurrence, sc.TimeOfDay, sc.DurationMinutes, sc.Location)
	if err != nil {
		fail(apperr.Wrap(apperr.KindValidation, op, err, "invalid event window"))
		return
	}

	existing, err := o.ownedOnDay(ctx, sc.OwnerID, day)
	if err != nil {
		fail(err)
		return
	}
	for _, s := range existing {
		if s.IsOrphan() {
			report.Orphans = append(report.Orphans, s)
			fail(apperr.New(apperr.KindOrphan, op, fmt.Sprintf("session %s has no confirmed calendar event; reconcile it before re-syncing", s.ID)))
			return
		}
	}

	session := &models.ScheduledSession{
		ID:      uuid.New(),
		OwnerID: sc.OwnerID,
		Origin:  models.OriginCalendarSync,
	}
	var replacing bool
	if len(existing) > 0 {
		if orphaned, err := o.retire(ctx, logger, existing); err != nil {
			report.Orphans = append(report.Orphans, orphaned...)
			fail(err)
			return
		}
		replacing = true
		kept := existing[0]
		kept.ExternalEventID = nil
		session = &kept
	}

	payload := o.buildPayload(routine, window, plan, sc.AttendeeEmail, sc.OwnerID, session.ID)
	ev, err := o.gateway.CreateEvent(ctx, sc.CalendarID, payload)
	if err != nil {
		if replacing {
			report.Orphans = append(report.Orphans, *session)
		}
		fail(err)
		return
	}

	hour, minute, _ := recurrence.ParseTimeOfDay(sc.TimeOfDay)
	rule := plan.Rule
	email := sc.AttendeeEmail
	externalID := ev.ID
	session.RoutineID = routineID
	session.ScheduledDate = plan.FirstOccurrence
	session.ScheduledTime = fmt.Sprintf("%02d:%02d", hour, minute)
	session.DurationMinutes = sc.DurationMinutes
	session.RecurrenceRule = &rule
	session.ExternalEventID = &externalID
	session.AttendeeEmail = &email
	session.CalendarID = sc.CalendarID
	session.TimeZone = window.TimeZone

	if replacing {
		err = o.sessions.Update(ctx, session)
	} else {
		err = o.sessions.Create(ctx, session)
	}
	if err != nil {
		if derr := o.gateway.DeleteEvent(ctx, sc.CalendarID, externalID); derr != nil && !apperr.Is(derr, apperr.KindNotFound) {
			logger.Error("failed to roll back calendar event", "event", externalID, "err", derr)
			err = errors.Join(err, derr)
		}
		if replacing {
			session.ExternalEventID = nil
			report.Orphans = append(report.Orphans, *session)
		}
		fail(fmt.Errorf("failed to save session: %w", err))
		return
	}

	if o.runs != nil {
		if err := o.runs.RecordCreatedEvent(ctx, report.RunID, externalID, session); err != nil {
			logger.Warn("failed to record created event", "event", externalID, "err", err)
		}
	}
	report.CreatedCount++
	report.Sessions = append(report.Sessions, *session)
	logger.Info("weekday synced", "event", externalID, "first", plan.FirstOccurrence.Format(db.DateLayout))
}

// ownedOnDay returns the sync-created sessions on day.
func (o *Orchestrator) ownedOnDay(ctx context.Context, ownerID uuid.UUID, day time.Weekday) ([]models.ScheduledSession, error) {
	all, err := o.sessions.ListByWeekday(ctx, ownerID, day)
	if err != nil {
		return nil, fmt.Errorf("failed to load existing sessions: %w", err)
	}
	var owned []models.ScheduledSession
	for _, s := range all {
		if s.Origin == models.OriginCalendarSync {
			owned = append(owned, s)
		}
	}
	return owned, nil
}

// retire deletes the remote series behind existing sessions before a
// recreate. The first session is kept with its external id cleared; any
// duplicates are removed locally. A delete that fails for any reason other
// than not-found stops the recreate so no second series is created. On
// failure the sessions already left without an event are returned.
func (o *Orchestrator) retire(ctx context.Context, logger *log.Logger, existing []models.ScheduledSession) ([]models.ScheduledSession, error) {
	var orphaned []models.ScheduledSession
	for i, s := range existing {
		err := o.gateway.DeleteEvent(ctx, s.CalendarID, *s.ExternalEventID)
		switch {
		case err == nil:
			logger.Info("deleted previous series", "event", *s.ExternalEventID)
		case apperr.Is(err, apperr.KindNotFound):
			logger.Info("previous series already gone", "event", *s.ExternalEventID)
		default:
			return orphaned, fmt.Errorf("failed to delete previous series: %w", err)
		}

		if i > 0 {
			if err := o.sessions.Delete(ctx, s.ID); err != nil {
				return orphaned, fmt.Errorf("failed to remove duplicate session %s: %w", s.ID, err)
			}
			continue
		}
		if err := o.sessions.SetExternalEventID(ctx, s.ID, nil); err != nil {
			return orphaned, fmt.Errorf("failed to update session %s after deleting its series: %w", s.ID, err)
		}
		s.ExternalEventID = nil
		orphaned = append(orphaned, s)
	}
	return nil, nil
}

func (o *Orchestrator) buildPayload(routine *models.Routine, window recurrence.Window, plan recurrence.Series, email string, ownerID, sessionID uuid.UUID) *EventPayload {
	summary := routine.Name
	if routine.ProgramName != "" {
		summary = routine.ProgramName + ": " + routine.Name
	}

	var desc []string
	if routine.Description != "" {
		desc = append(desc, routine.Description)
	}
	if routine.ProgramName != "" {
		desc = append(desc, "Program: "+routine.ProgramName)
	}
	desc = append(desc, fmt.Sprintf("Every %s for %d weeks.", plan.FirstOccurrence.Weekday(), plan.Count))

	return &EventPayload{
		Summary:     summary,
		Description: strings.Join(desc, "\n"),
		Start:       window.Start,
		End:         window.End,
		TimeZone:    window.TimeZone,
		Recurrence:  []string{plan.Rule},
		Attendees:   []string{email},
		Reminders:   o.reminders,
		OwnerID:     ownerID.String(),
		SessionID:   sessionID.String(),
	}
}
