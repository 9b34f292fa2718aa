// ABOUTME: Data models for coaching calendar sync
// ABOUTME: Defines Credential, Routine, ScheduledSession, WeeklyAssignment and SyncReport
package models

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TokenExpiryBuffer is subtracted from a token's expiry before it is
// treated as expired.
const TokenExpiryBuffer = 5 * time.Minute

// OriginCalendarSync marks session rows written by the sync engine.
const OriginCalendarSync = "calendar_sync"

// Credential is an OAuth access token and its expiry. A nil Expiry means
// the token is assumed valid until a call fails.
type Credential struct {
	AccessToken string     `json:"access_token"`
	Expiry      *time.Time `json:"expiry,omitempty"`
}

// Usable reports whether the credential can be used at now, leaving buffer
// before the expiry.
func (c *Credential) Usable(now time.Time, buffer time.Duration) bool {
	if c == nil || c.AccessToken == "" {
		return false
	}
	if c.Expiry == nil {
		return true
	}
	return now.Before(c.Expiry.Add(-buffer))
}

type Routine struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	ProgramName string    `json:"program_name,omitempty"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ScheduledSession is the local record of one recurring training series.
type ScheduledSession struct {
	ID              uuid.UUID `json:"id"`
	OwnerID         uuid.UUID `json:"owner_id"`
	RoutineID       uuid.UUID `json:"routine_id"`
	ScheduledDate   time.Time `json:"scheduled_date"`
	ScheduledTime   string    `json:"scheduled_time"`
	DurationMinutes int       `json:"duration_minutes"`
	RecurrenceRule  *string   `json:"recurrence_rule,omitempty"`
	ExternalEventID *string   `json:"external_event_id,omitempty"`
	AttendeeEmail   *string   `json:"attendee_email,omitempty"`
	CalendarID      string    `json:"calendar_id"`
	TimeZone        string    `json:"time_zone"`
	Origin          string    `json:"origin"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Weekday is the day of week of the first occurrence.
func (s *ScheduledSession) Weekday() time.Weekday {
	return s.ScheduledDate.Weekday()
}

// IsOrphan reports whether the session has no confirmed external event.
func (s *ScheduledSession) IsOrphan() bool {
	return s.ExternalEventID == nil || *s.ExternalEventID == ""
}

// WeeklyAssignment maps a weekday to the routine trained on it.
type WeeklyAssignment map[time.Weekday]uuid.UUID

// Days returns the assigned weekdays in Monday-first order.
func (a WeeklyAssignment) Days() []time.Weekday {
	days := make([]time.Weekday, 0, len(a))
	for d := range a {
		days = append(days, d)
	}
	sort.Slice(days, func(i, j int) bool {
		return mondayIndex(days[i]) < mondayIndex(days[j])
	})
	return days
}

func mondayIndex(d time.Weekday) int {
	return (int(d) + 6) % 7
}

// SyncOutcome summarises a sync run.
type SyncOutcome string

const (
	OutcomeSuccess SyncOutcome = "success"
	OutcomePartial SyncOutcome = "partial"
	OutcomeFailed  SyncOutcome = "failed"
)

// DayFailure records why one weekday did not sync.
type DayFailure struct {
	Weekday time.Weekday `json:"weekday"`
	Reason  string       `json:"reason"`
	Kind    string       `json:"kind"`
	Err     error        `json:"-"`
}

// SyncReport is the itemised result of one weekly sync.
type SyncReport struct {
	RunID        string             `json:"run_id"`
	OwnerID      uuid.UUID          `json:"owner_id"`
	CreatedCount int                `json:"created_count"`
	Sessions     []ScheduledSession `json:"sessions"`
	Failures     []DayFailure       `json:"failures"`
	Orphans      []ScheduledSession `json:"orphans,omitempty"`
	StartedAt    time.Time          `json:"started_at"`
	FinishedAt   time.Time          `json:"finished_at"`
}

// Outcome is success when every day synced, failed when none did and
// partial otherwise.
func (r *SyncReport) Outcome() SyncOutcome {
	switch {
	case len(r.Failures) == 0:
		return OutcomeSuccess
	case r.CreatedCount == 0:
		return OutcomeFailed
	default:
		return OutcomePartial
	}
}

// Summary renders the single status line shown to the user.
func (r *SyncReport) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d session%s created", r.CreatedCount, plural(r.CreatedCount))
	if len(r.Failures) > 0 {
		parts := make([]string, 0, len(r.Failures))
		for _, f := range r.Failures {
			parts = append(parts, fmt.Sprintf("%s (%s)", f.Weekday, f.Reason))
		}
		fmt.Fprintf(&b, "; %d failed: %s", len(r.Failures), strings.Join(parts, ", "))
	}
	if len(r.Orphans) > 0 {
		fmt.Fprintf(&b, "; %d orphan record%s need manual reconciliation", len(r.Orphans), plural(len(r.Orphans)))
	}
	return b.String()
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
