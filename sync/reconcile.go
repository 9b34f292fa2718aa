// ABOUTME: Compares local session rows with the tagged recurring series on the calendar
// ABOUTME: Reports orphans, missing and unknown series and drift; never creates remote events
package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/harperreed/coachcal/apperr"
	"github.com/harperreed/coachcal/db"
	"github.com/harperreed/coachcal/models"
	"github.com/harperreed/coachcal/recurrence"
)

// RemoteSeries is a tagged series with no local row. Known is set when the
// sync log shows we created it.
type RemoteSeries struct {
	Event Event `json:"event"`
	Known bool  `json:"known"`
}

// Drift is a session whose remote start no longer matches the row.
type Drift struct {
	Session  models.ScheduledSession `json:"session"`
	Event    Event                   `json:"event"`
	Expected time.Time               `json:"expected"`
}

// ReconcileReport is the result of one reconciliation pass.
type ReconcileReport struct {
	OwnerID       uuid.UUID                 `json:"owner_id"`
	CalendarID    string                    `json:"calendar_id"`
	Matched       int                       `json:"matched"`
	LocalOrphans  []models.ScheduledSession `json:"local_orphans,omitempty"`
	MissingRemote []models.ScheduledSession `json:"missing_remote,omitempty"`
	RemoteOnly    []RemoteSeries            `json:"remote_only,omitempty"`
	Drifted       []Drift                   `json:"drifted,omitempty"`
	Cleared       int                       `json:"cleared"`
}

// Clean reports whether local and remote agree.
func (r *ReconcileReport) Clean() bool {
	return len(r.LocalOrphans) == 0 && len(r.MissingRemote) == 0 && len(r.RemoteOnly) == 0 && len(r.Drifted) == 0
}

// Reconcile compares ownerID's rows on calendarID with the remote series.
// With apply, rows whose series is gone have their external id cleared so
// they surface as orphans.
func (o *Orchestrator) Reconcile(ctx context.Context, ownerID uuid.UUID, calendarID string, apply bool) (*ReconcileReport, error) {
	const op = "sync.reconcile"
	if ownerID == uuid.Nil {
		return nil, apperr.Validation(op, "owner id is required")
	}
	if calendarID == "" {
		calendarID = DefaultCalendarID
	}

	remote, err := o.gateway.ListSeries(ctx, calendarID, ownerID.String())
	if err != nil {
		return nil, err
	}
	local, err := o.sessions.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load sessions: %w", err)
	}

	byID := make(map[string]Event, len(remote))
	for _, ev := range remote {
		byID[ev.ID] = ev
	}

	report := &ReconcileReport{OwnerID: ownerID, CalendarID: calendarID}
	referenced := map[string]bool{}
	for _, s := range local {
		if s.Origin != models.OriginCalendarSync || s.CalendarID != calendarID {
			continue
		}
		if s.IsOrphan() {
			report.LocalOrphans = append(report.LocalOrphans, s)
			continue
		}

		eventID := *s.ExternalEventID
		referenced[eventID] = true
		ev, ok := byID[eventID]
		if !ok {
			report.MissingRemote = append(report.MissingRemote, s)
			if apply {
				if err := o.sessions.SetExternalEventID(ctx, s.ID, nil); err != nil {
					return report, fmt.Errorf("failed to clear external id on %s: %w", s.ID, err)
				}
				report.Cleared++
			}
			continue
		}

		if expected, ok := expectedStart(s); ok && !expected.Equal(ev.Start) {
			report.Drifted = append(report.Drifted, Drift{Session: s, Event: ev, Expected: expected})
			continue
		}
		report.Matched++
	}

	for _, ev := range remote {
		if referenced[ev.ID] {
			continue
		}
		series := RemoteSeries{Event: ev}
		if o.runs != nil {
			known, err := o.runs.CheckSyncLogExists(ctx, db.SourceGoogleCalendar, ev.ID)
			if err != nil {
				return report, err
			}
			series.Known = known
		}
		report.RemoteOnly = append(report.RemoteOnly, series)
	}

	o.logger.Info("reconciled sessions",
		"owner", ownerID,
		"matched", report.Matched,
		"orphans", len(report.LocalOrphans),
		"missing", len(report.MissingRemote),
		"remote_only", len(report.RemoteOnly),
		"drifted", len(report.Drifted),
		"cleared", report.Cleared,
	)
	return report, nil
}

func expectedStart(s models.ScheduledSession) (time.Time, bool) {
	loc, err := time.LoadLocation(s.TimeZone)
	if err != nil {
		return time.Time{}, false
	}
	w, err := recurrence.BuildEventWindow(s.ScheduledDate, s.ScheduledTime, s.DurationMinutes, loc)
	if err != nil {
		return time.Time{}, false
	}
	return w.Start, true
}
