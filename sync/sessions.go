// ABOUTME: Maintenance of synced sessions: edit, remove, list and availability checks
// ABOUTME: Orphaned sessions are refused here and left for reconciliation
package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/harperreed/coachcal/apperr"
	"github.com/harperreed/coachcal/db"
	"github.com/harperreed/coachcal/models"
	"github.com/harperreed/coachcal/recurrence"
)

// SessionChange lists the fields to change on a session. Nil fields keep
// their current value.
type SessionChange struct {
	TimeOfDay       *string
	DurationMinutes *int
	RoutineID       *uuid.UUID
}

func (c SessionChange) empty() bool {
	return c.TimeOfDay == nil && c.DurationMinutes == nil && c.RoutineID == nil
}

// UpdateSession applies change to the remote series and then to the row.
// The first occurrence date and the occurrence count are kept.
func (o *Orchestrator) UpdateSession(ctx context.Context, id uuid.UUID, change SessionChange) (*models.ScheduledSession, error) {
	const op = "sync.update"

	if change.empty() {
		return nil, apperr.Validation(op, "nothing to change")
	}
	if change.TimeOfDay != nil {
		if _, _, err := recurrence.ParseTimeOfDay(*change.TimeOfDay); err != nil {
			return nil, apperr.Validation(op, "%v", err)
		}
	}
	if change.DurationMinutes != nil && *change.DurationMinutes <= 0 {
		return nil, apperr.Validation(op, "duration must be positive, got %d minutes", *change.DurationMinutes)
	}

	current, err := o.ownedSession(ctx, op, id)
	if err != nil {
		return nil, err
	}
	if current.IsOrphan() {
		return nil, apperr.New(apperr.KindOrphan, op, fmt.Sprintf("session %s has no confirmed calendar event; reconcile it first", id))
	}
	if current.RecurrenceRule == nil {
		return nil, apperr.Validation(op, "session %s has no recurrence rule", id)
	}
	rule, err := recurrence.ParseRule(*current.RecurrenceRule)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, op, err, "stored recurrence rule is invalid")
	}
	loc, err := time.LoadLocation(current.TimeZone)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, op, err, "stored time zone is invalid")
	}

	updated := *current
	if change.TimeOfDay != nil {
		hour, minute, _ := recurrence.ParseTimeOfDay(*change.TimeOfDay)
		updated.ScheduledTime = fmt.Sprintf("%02d:%02d", hour, minute)
	}
	if change.DurationMinutes != nil {
		updated.DurationMinutes = *change.DurationMinutes
	}
	if change.RoutineID != nil {
		updated.RoutineID = *change.RoutineID
	}

	routine, err := o.routines.GetRoutine(ctx, updated.RoutineID)
	if errors.Is(err, db.ErrRoutineNotFound) {
		return nil, apperr.Validation(op, "routine %s not found", updated.RoutineID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load routine: %w", err)
	}

	window, err := recurrence.BuildEventWindow(updated.ScheduledDate, updated.ScheduledTime, updated.DurationMinutes, loc)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, op, err, "invalid event window")
	}
	plan := recurrence.Series{FirstOccurrence: updated.ScheduledDate, Rule: rule.String(), Count: rule.Count}

	var email string
	if updated.AttendeeEmail != nil {
		email = *updated.AttendeeEmail
	}
	payload := o.buildPayload(routine, window, plan, email, updated.OwnerID, updated.ID)
	if email == "" {
		payload.Attendees = nil
	}

	if _, err := o.gateway.UpdateEvent(ctx, updated.CalendarID, *updated.ExternalEventID, payload); err != nil {
		return nil, err
	}
	if err := o.sessions.Update(ctx, &updated); err != nil {
		return nil, fmt.Errorf("calendar updated but failed to save session: %w", err)
	}
	o.logger.Info("updated session", "session", id, "event", *updated.ExternalEventID)
	return &updated, nil
}

// RemoveSession deletes the remote series (tolerating not-found) and then
// the local row. The row is kept if the remote delete fails.
func (o *Orchestrator) RemoveSession(ctx context.Context, id uuid.UUID) error {
	const op = "sync.remove"

	s, err := o.ownedSession(ctx, op, id)
	if err != nil {
		return err
	}
	if !s.IsOrphan() {
		err := o.gateway.DeleteEvent(ctx, s.CalendarID, *s.ExternalEventID)
		if err != nil && !apperr.Is(err, apperr.KindNotFound) {
			return err
		}
	}
	if err := o.sessions.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	o.logger.Info("removed session", "session", id)
	return nil
}

// ListSessions returns an owner's sessions, Monday first.
func (o *Orchestrator) ListSessions(ctx context.Context, ownerID uuid.UUID) ([]models.ScheduledSession, error) {
	return o.sessions.ListByOwner(ctx, ownerID)
}

// Orphans returns sessions awaiting manual reconciliation.
func (o *Orchestrator) Orphans(ctx context.Context, ownerID uuid.UUID) ([]models.ScheduledSession, error) {
	return o.sessions.ListOrphans(ctx, ownerID)
}

// Availability is the answer to a slot query.
type Availability struct {
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Available bool      `json:"available"`
	Conflicts []Event   `json:"conflicts,omitempty"`
}

// CheckAvailability reports whether [start, end) is free on calendarID.
func (o *Orchestrator) CheckAvailability(ctx context.Context, calendarID string, start, end time.Time) (*Availability, error) {
	const op = "sync.availability"
	if !end.After(start) {
		return nil, apperr.Validation(op, "end must be after start")
	}
	if calendarID == "" {
		calendarID = DefaultCalendarID
	}

	busy, conflicts, err := o.gateway.HasConflict(ctx, calendarID, start, end)
	if err != nil {
		return nil, err
	}
	return &Availability{Start: start, End: end, Available: !busy, Conflicts: conflicts}, nil
}

func (o *Orchestrator) ownedSession(ctx context.Context, op string, id uuid.UUID) (*models.ScheduledSession, error) {
	s, err := o.sessions.Get(ctx, id)
	if errors.Is(err, db.ErrSessionNotFound) {
		return nil, apperr.Wrap(apperr.KindNotFound, op, err, id.String())
	}
	if err != nil {
		return nil, err
	}
	if s.Origin != models.OriginCalendarSync {
		return nil, apperr.Wrap(apperr.KindValidation, op, db.ErrNotOwned, id.String())
	}
	return s, nil
}
