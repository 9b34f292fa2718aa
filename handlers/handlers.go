// ABOUTME: Shared plumbing for the MCP tool handlers
// ABOUTME: Declares the engine and routine interfaces the tools are served from
package handlers

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/harperreed/coachcal/models"
	"github.com/harperreed/coachcal/sync"
)

// Scheduler is the sync engine the tools call.
type Scheduler = sync.Scheduler

// SchedulerSource yields the engine on demand, so the server can start
// before the user has signed in.
type SchedulerSource func(ctx context.Context) (Scheduler, error)

// Routines looks up and stores routines.
type Routines interface {
	Create(ctx context.Context, r *models.Routine) error
	GetRoutine(ctx context.Context, id uuid.UUID) (*models.Routine, error)
	FindByName(ctx context.Context, name string) (*models.Routine, error)
	List(ctx context.Context) ([]models.Routine, error)
}

func resolveRoutine(ctx context.Context, routines Routines, ref string) (*models.Routine, error) {
	if id, err := uuid.Parse(ref); err == nil {
		return routines.GetRoutine(ctx, id)
	}
	r, err := routines.FindByName(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("routine %q: %w", ref, err)
	}
	return r, nil
}

// SessionOutput is a session as returned by the tools.
type SessionOutput struct {
	ID              string  `json:"id"`
	Weekday         string  `json:"weekday"`
	RoutineID       string  `json:"routine_id"`
	FirstDate       string  `json:"first_date"`
	Time            string  `json:"time"`
	DurationMinutes int     `json:"duration_minutes"`
	RecurrenceRule  string  `json:"recurrence_rule,omitempty"`
	ExternalEventID *string `json:"external_event_id,omitempty"`
	AttendeeEmail   *string `json:"attendee_email,omitempty"`
	CalendarID      string  `json:"calendar_id"`
	TimeZone        string  `json:"time_zone"`
	Orphan          bool    `json:"orphan"`
}

func sessionToOutput(s *models.ScheduledSession) SessionOutput {
	out := SessionOutput{
		ID:              s.ID.String(),
		Weekday:         s.Weekday().String(),
		RoutineID:       s.RoutineID.String(),
		FirstDate:       s.ScheduledDate.Format("2006-01-02"),
		Time:            s.ScheduledTime,
		DurationMinutes: s.DurationMinutes,
		ExternalEventID: s.ExternalEventID,
		AttendeeEmail:   s.AttendeeEmail,
		CalendarID:      s.CalendarID,
		TimeZone:        s.TimeZone,
		Orphan:          s.IsOrphan(),
	}
	if s.RecurrenceRule != nil {
		out.RecurrenceRule = *s.RecurrenceRule
	}
	return out
}

func sessionsToOutput(sessions []models.ScheduledSession) []SessionOutput {
	out := make([]SessionOutput, len(sessions))
	for i := range sessions {
		out[i] = sessionToOutput(&sessions[i])
	}
	return out
}
