// ABOUTME: Typed Google Calendar operations used by the sync orchestrator
// ABOUTME: Every call checks the session first and runs through the retry executor
package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"google.golang.org/api/calendar/v3"

	"github.com/harperreed/coachcal/apperr"
	"github.com/harperreed/coachcal/logging"
	"github.com/harperreed/coachcal/retry"
)

const (
	// PropOwner and PropSession are private extended properties stamped on
	// every series so reconciliation can find what we created.
	PropOwner   = "coachcal_owner"
	PropSession = "coachcal_session"

	StatusCancelled     = "cancelled"
	TransparencyFree    = "transparent"
	sendUpdates         = "all"
	maxResults          = 250 // Google Calendar API max per page
	defaultReminderMins = 30
)

// Session reports whether calendar calls may be attempted. Invalidate is
// called when the API rejects the session's credential.
type Session interface {
	IsAuthenticated() bool
	Invalidate(cause error)
}

// Reminder is one reminder override on an event.
type Reminder struct {
	Method  string `json:"method"`
	Minutes int64  `json:"minutes"`
}

// DefaultReminders are applied when a sync context names none.
var DefaultReminders = []Reminder{
	{Method: "popup", Minutes: defaultReminderMins},
	{Method: "email", Minutes: 24 * 60},
}

// EventPayload is what we send for a recurring training series.
type EventPayload struct {
	Summary     string
	Description string
	Start       time.Time
	End         time.Time
	TimeZone    string
	Recurrence  []string
	Attendees   []string
	Reminders   []Reminder
	OwnerID     string
	SessionID   string
}

// Event is the subset of a remote event the sync engine reads back.
type Event struct {
	ID               string
	Summary          string
	Status           string
	Start            time.Time
	End              time.Time
	TimeZone         string
	AllDay           bool
	Transparent      bool
	Recurrence       []string
	RecurringEventID string
	OwnerID          string
	SessionID        string
	HTMLLink         string
}

// Busy reports whether the event blocks time.
func (e Event) Busy() bool {
	return e.Status != StatusCancelled && !e.Transparent
}

// Overlaps reports whether the event intersects [start, end).
func (e Event) Overlaps(start, end time.Time) bool {
	return e.Start.Before(end) && e.End.After(start)
}

// CalendarGateway wraps the Calendar Events API.
type CalendarGateway struct {
	svc     *calendar.Service
	session Session
	retry   *retry.Executor
	logger  *log.Logger
}

// NewCalendarGateway returns a gateway. A nil executor gets the default policy.
func NewCalendarGateway(svc *calendar.Service, session Session, exec *retry.Executor, logger *log.Logger) *CalendarGateway {
	logger = logging.OrDefault(logger)
	if exec == nil {
		exec = retry.New(logger)
	}
	return &CalendarGateway{svc: svc, session: session, retry: exec, logger: logger}
}

func (g *CalendarGateway) requireAuth(op string) error {
	if g.session == nil || !g.session.IsAuthenticated() {
		return apperr.New(apperr.KindAuth, op, "not signed in to calendar")
	}
	return nil
}

// rejected invalidates the session when err is an auth failure and
// returns err unchanged.
func (g *CalendarGateway) rejected(err error) error {
	if err != nil && g.session != nil && apperr.Is(err, apperr.KindAuth) {
		g.session.Invalidate(err)
	}
	return err
}

// CreateEvent inserts a new event and invites its attendees.
func (g *CalendarGateway) CreateEvent(ctx context.Context, calendarID string, p *EventPayload) (*Event, error) {
	const op = "calendar.create"
	if err := g.requireAuth(op); err != nil {
		return nil, err
	}
	ev, err := p.toAPI()
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, op, err, "invalid event payload")
	}

	created, err := retry.Call(ctx, g.retry, op, func(ctx context.Context) (*calendar.Event, error) {
		return g.svc.Events.Insert(calendarID, ev).SendUpdates(sendUpdates).Context(ctx).Do()
	})
	if err != nil {
		return nil, g.rejected(err)
	}
	g.logger.Info("created calendar event", "calendar", calendarID, "event", created.Id, "summary", created.Summary)
	return fromAPI(created), nil
}

// UpdateEvent replaces an existing event with p.
func (g *CalendarGateway) UpdateEvent(ctx context.Context, calendarID, eventID string, p *EventPayload) (*Event, error) {
	const op = "calendar.update"
	if err := g.requireAuth(op); err != nil {
		return nil, err
	}
	if eventID == "" {
		return nil, apperr.Validation(op, "event id is required")
	}
	ev, err := p.toAPI()
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, op, err, "invalid event payload")
	}

	updated, err := retry.Call(ctx, g.retry, op, func(ctx context.Context) (*calendar.Event, error) {
		return g.svc.Events.Update(calendarID, eventID, ev).SendUpdates(sendUpdates).Context(ctx).Do()
	})
	if err != nil {
		return nil, g.rejected(err)
	}
	g.logger.Info("updated calendar event", "calendar", calendarID, "event", updated.Id)
	return fromAPI(updated), nil
}

// DeleteEvent removes an event. A missing event is reported as NotFound so
// callers can decide whether to tolerate it.
func (g *CalendarGateway) DeleteEvent(ctx context.Context, calendarID, eventID string) error {
	const op = "calendar.delete"
	if err := g.requireAuth(op); err != nil {
		return err
	}
	if eventID == "" {
		return apperr.Validation(op, "event id is required")
	}

	err := g.retry.Execute(ctx, op, func(ctx context.Context) error {
		return g.svc.Events.Delete(calendarID, eventID).SendUpdates(sendUpdates).Context(ctx).Do()
	})
	if err != nil {
		return g.rejected(err)
	}
	g.logger.Info("deleted calendar event", "calendar", calendarID, "event", eventID)
	return nil
}

// ListEvents returns single (expanded) events intersecting [start, end).
func (g *CalendarGateway) ListEvents(ctx context.Context, calendarID string, start, end time.Time) ([]Event, error) {
	const op = "calendar.list"
	if err := g.requireAuth(op); err != nil {
		return nil, err
	}
	if !end.After(start) {
		return nil, apperr.Validation(op, "end %s must be after start %s", end.Format(time.RFC3339), start.Format(time.RFC3339))
	}

	events, err := retry.Call(ctx, g.retry, op, func(ctx context.Context) ([]Event, error) {
		var events []Event
		call := g.svc.Events.List(calendarID).
			MaxResults(maxResults).
			SingleEvents(true).
			OrderBy("startTime").
			TimeMin(start.Format(time.RFC3339)).
			TimeMax(end.Format(time.RFC3339))
		err := call.Pages(ctx, func(page *calendar.Events) error {
			for _, item := range page.Items {
				events = append(events, *fromAPI(item))
			}
			return nil
		})
		return events, err
	})
	return events, g.rejected(err)
}

// ListSeries returns the recurring series tagged with ownerID.
func (g *CalendarGateway) ListSeries(ctx context.Context, calendarID, ownerID string) ([]Event, error) {
	const op = "calendar.series"
	if err := g.requireAuth(op); err != nil {
		return nil, err
	}

	events, err := retry.Call(ctx, g.retry, op, func(ctx context.Context) ([]Event, error) {
		var events []Event
		call := g.svc.Events.List(calendarID).
			MaxResults(maxResults).
			SingleEvents(false).
			PrivateExtendedProperty(PropOwner + "=" + ownerID)
		err := call.Pages(ctx, func(page *calendar.Events) error {
			for _, item := range page.Items {
				if item.Status == StatusCancelled {
					continue
				}
				events = append(events, *fromAPI(item))
			}
			return nil
		})
		return events, err
	})
	return events, g.rejected(err)
}

// HasConflict reports whether any busy event overlaps [start, end) and
// returns the overlapping events.
func (g *CalendarGateway) HasConflict(ctx context.Context, calendarID string, start, end time.Time) (bool, []Event, error) {
	events, err := g.ListEvents(ctx, calendarID, start, end)
	if err != nil {
		return false, nil, err
	}
	conflicts := Conflicts(events, start, end)
	return len(conflicts) > 0, conflicts, nil
}

// Conflicts filters events down to the busy ones overlapping [start, end).
func Conflicts(events []Event, start, end time.Time) []Event {
	var out []Event
	for _, ev := range events {
		if ev.Busy() && ev.Overlaps(start, end) {
			out = append(out, ev)
		}
	}
	return out
}

func (p *EventPayload) toAPI() (*calendar.Event, error) {
	if p == nil {
		return nil, fmt.Errorf("payload is nil")
	}
	if p.TimeZone == "" {
		return nil, fmt.Errorf("time zone is required")
	}
	if !p.End.After(p.Start) {
		return nil, fmt.Errorf("end must be after start")
	}

	ev := &calendar.Event{
		Summary:     p.Summary,
		Description: p.Description,
		Start:       &calendar.EventDateTime{DateTime: p.Start.Format(time.RFC3339), TimeZone: p.TimeZone},
		End:         &calendar.EventDateTime{DateTime: p.End.Format(time.RFC3339), TimeZone: p.TimeZone},
		Recurrence:  p.Recurrence,
	}
	for _, email := range p.Attendees {
		ev.Attendees = append(ev.Attendees, &calendar.EventAttendee{Email: email})
	}

	reminders := p.Reminders
	if reminders == nil {
		reminders = DefaultReminders
	}
	ev.Reminders = &calendar.EventReminders{UseDefault: false, ForceSendFields: []string{"UseDefault"}}
	for _, r := range reminders {
		ev.Reminders.Overrides = append(ev.Reminders.Overrides, &calendar.EventReminder{Method: r.Method, Minutes: r.Minutes})
	}

	private := map[string]string{}
	if p.OwnerID != "" {
		private[PropOwner] = p.OwnerID
	}
	if p.SessionID != "" {
		private[PropSession] = p.SessionID
	}
	if len(private) > 0 {
		ev.ExtendedProperties = &calendar.EventExtendedProperties{Private: private}
	}
	return ev, nil
}

func fromAPI(item *calendar.Event) *Event {
	ev := &Event{
		ID:               item.Id,
		Summary:          item.Summary,
		Status:           item.Status,
		Transparent:      item.Transparency == TransparencyFree,
		Recurrence:       item.Recurrence,
		RecurringEventID: item.RecurringEventId,
		HTMLLink:         item.HtmlLink,
	}
	if item.Start != nil {
		ev.TimeZone = item.Start.TimeZone
		ev.Start, ev.AllDay = parseEventTime(item.Start)
	}
	if item.End != nil {
		ev.End, _ = parseEventTime(item.End)
	}
	if item.ExtendedProperties != nil {
		ev.OwnerID = item.ExtendedProperties.Private[PropOwner]
		ev.SessionID = item.ExtendedProperties.Private[PropSession]
	}
	return ev
}

// parseEventTime reads a timed or all-day boundary. All-day dates are
// placed at midnight in the event's zone, or UTC when it has none.
func parseEventTime(dt *calendar.EventDateTime) (time.Time, bool) {
	if dt.DateTime != "" {
		t, err := time.Parse(time.RFC3339, dt.DateTime)
		if err != nil {
			return time.Time{}, false
		}
		if loc, lerr := time.LoadLocation(dt.TimeZone); lerr == nil && dt.TimeZone != "" {
			t = t.In(loc)
		}
		return t, false
	}
	if dt.Date != "" {
		loc := time.UTC
		if dt.TimeZone != "" {
			if l, err := time.LoadLocation(dt.TimeZone); err == nil {
				loc = l
			}
		}
		t, err := time.ParseInLocation("2006-01-02", dt.Date, loc)
		if err != nil {
			return time.Time{}, true
		}
		return t, true
	}
	return time.Time{}, false
}
