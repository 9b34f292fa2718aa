// ABOUTME: Tests for the calendar gateway against an httptest Calendar API stand-in
// ABOUTME: Covers payload shape, auth short-circuit, retries, not-found mapping and conflicts
package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/harperreed/coachcal/apperr"
	"github.com/harperreed/coachcal/logging"
	"github.com/harperreed/coachcal/retry"
)

type testSession struct {
	authed      bool
	invalidated []error
}

func (s *testSession) IsAuthenticated() bool { return s.authed }

func (s *testSession) Invalidate(cause error) {
	s.authed = false
	s.invalidated = append(s.invalidated, cause)
}

func newTestGateway(t *testing.T, handler http.Handler, authed bool) *CalendarGateway {
	t.Helper()
	return newSessionGateway(t, handler, &testSession{authed: authed})
}

func newSessionGateway(t *testing.T, handler http.Handler, session Session) *CalendarGateway {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	svc, err := NewCalendarService(context.Background(),
		oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "ya29.test"}),
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
	)
	require.NoError(t, err)

	exec := retry.New(logging.Discard())
	exec.BaseDelay = time.Millisecond
	return NewCalendarGateway(svc, session, exec, logging.Discard())
}

func samplePayload(t *testing.T) *EventPayload {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	start := time.Date(2024, 1, 8, 8, 0, 0, 0, loc)
	return &EventPayload{
		Summary:    "Strength Block: Lower Body",
		Start:      start,
		End:        start.Add(time.Hour),
		TimeZone:   "America/New_York",
		Recurrence: []string{"RRULE:FREQ=WEEKLY;BYDAY=MO;COUNT=12"},
		Attendees:  []string{"client@example.com"},
		OwnerID:    "owner-1",
		SessionID:  "session-1",
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestCreateEventPayload(t *testing.T) {
	var raw string
	var got calendar.Event
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/calendars/primary/events", r.URL.Path)
		assert.Equal(t, "all", r.URL.Query().Get("sendUpdates"))
		body, _ := io.ReadAll(r.Body)
		raw = string(body)
		_ = json.Unmarshal(body, &got)

		got.Id = "evt-1"
		writeJSON(w, got)
	})
	gw := newTestGateway(t, handler, true)

	ev, err := gw.CreateEvent(context.Background(), "primary", samplePayload(t))
	require.NoError(t, err)
	assert.Equal(t, "evt-1", ev.ID)

	assert.Equal(t, "America/New_York", got.Start.TimeZone)
	assert.Equal(t, "America/New_York", got.End.TimeZone)
	assert.Equal(t, "2024-01-08T08:00:00-05:00", got.Start.DateTime)
	assert.Equal(t, "2024-01-08T09:00:00-05:00", got.End.DateTime)
	assert.Equal(t, []string{"RRULE:FREQ=WEEKLY;BYDAY=MO;COUNT=12"}, got.Recurrence)
	require.Len(t, got.Attendees, 1)
	assert.Equal(t, "client@example.com", got.Attendees[0].Email)
	require.NotNil(t, got.Reminders)
	assert.Len(t, got.Reminders.Overrides, len(DefaultReminders))
	assert.Contains(t, raw, `"useDefault":false`)
	assert.Equal(t, "owner-1", got.ExtendedProperties.Private[PropOwner])
	assert.Equal(t, "session-1", got.ExtendedProperties.Private[PropSession])

	assert.Equal(t, "owner-1", ev.OwnerID)
	assert.Equal(t, 8, ev.Start.Hour())
}

func TestGatewayRequiresAuthentication(t *testing.T) {
	var hits int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	})
	gw := newTestGateway(t, handler, false)
	ctx := context.Background()
	now := time.Now()

	_, err := gw.CreateEvent(ctx, "primary", samplePayload(t))
	assert.Equal(t, apperr.KindAuth, apperr.Classify(err))
	_, err = gw.UpdateEvent(ctx, "primary", "evt-1", samplePayload(t))
	assert.Equal(t, apperr.KindAuth, apperr.Classify(err))
	err = gw.DeleteEvent(ctx, "primary", "evt-1")
	assert.Equal(t, apperr.KindAuth, apperr.Classify(err))
	_, err = gw.ListEvents(ctx, "primary", now, now.Add(time.Hour))
	assert.Equal(t, apperr.KindAuth, apperr.Classify(err))
	_, err = gw.ListSeries(ctx, "primary", "owner-1")
	assert.Equal(t, apperr.KindAuth, apperr.Classify(err))

	assert.Zero(t, atomic.LoadInt32(&hits), "no request may be sent without a session")
}

func TestRejectedTokenInvalidatesSession(t *testing.T) {
	var hits int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = fmt.Fprint(w, `{"error":{"code":401,"message":"Invalid Credentials"}}`)
	})
	session := &testSession{authed: true}
	gw := newSessionGateway(t, handler, session)

	_, err := gw.CreateEvent(context.Background(), "primary", samplePayload(t))
	require.Error(t, err)
	assert.Equal(t, apperr.KindAuth, apperr.Classify(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits), "auth failures are not retried")
	require.Len(t, session.invalidated, 1)
	assert.False(t, session.IsAuthenticated())

	_, err = gw.ListSeries(context.Background(), "primary", "owner-1")
	assert.Equal(t, apperr.KindAuth, apperr.Classify(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits), "no request once the session is gone")
}

func TestListEventsRejectedTokenInvalidatesSession(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = fmt.Fprint(w, `{"error":{"code":401,"message":"Invalid Credentials"}}`)
	})
	session := &testSession{authed: true}
	gw := newSessionGateway(t, handler, session)
	now := time.Now()

	_, err := gw.ListEvents(context.Background(), "primary", now, now.Add(time.Hour))
	assert.Equal(t, apperr.KindAuth, apperr.Classify(err))
	assert.Len(t, session.invalidated, 1)
}

func TestClientErrorKeepsSession(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = fmt.Fprint(w, `{"error":{"code":400,"message":"invalid recurrence"}}`)
	})
	session := &testSession{authed: true}
	gw := newSessionGateway(t, handler, session)

	_, err := gw.CreateEvent(context.Background(), "primary", samplePayload(t))
	require.Error(t, err)
	assert.Empty(t, session.invalidated)
	assert.True(t, session.IsAuthenticated())
}

func TestCreateEventRetriesTransientFailures(t *testing.T) {
	var hits int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = fmt.Fprint(w, `{"error":{"code":503,"message":"backend error"}}`)
			return
		}
		writeJSON(w, calendar.Event{Id: "evt-1"})
	})
	gw := newTestGateway(t, handler, true)

	ev, err := gw.CreateEvent(context.Background(), "primary", samplePayload(t))
	require.NoError(t, err)
	assert.Equal(t, "evt-1", ev.ID)
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
}

func TestCreateEventDoesNotRetryClientErrors(t *testing.T) {
	var hits int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = fmt.Fprint(w, `{"error":{"code":400,"message":"invalid recurrence"}}`)
	})
	gw := newTestGateway(t, handler, true)

	_, err := gw.CreateEvent(context.Background(), "primary", samplePayload(t))
	require.Error(t, err)
	assert.Equal(t, apperr.KindClient, apperr.Classify(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestCreateEventRejectsPayloadWithoutTimeZone(t *testing.T) {
	gw := newTestGateway(t, http.NotFoundHandler(), true)
	p := samplePayload(t)
	p.TimeZone = ""

	_, err := gw.CreateEvent(context.Background(), "primary", p)
	assert.Equal(t, apperr.KindValidation, apperr.Classify(err))
}

func TestDeleteEventNotFound(t *testing.T) {
	for _, code := range []int{http.StatusNotFound, http.StatusGone} {
		t.Run(http.StatusText(code), func(t *testing.T) {
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodDelete, r.Method)
				assert.Equal(t, "/calendars/primary/events/evt-1", r.URL.Path)
				w.WriteHeader(code)
				_, _ = fmt.Fprintf(w, `{"error":{"code":%d,"message":"gone"}}`, code)
			})
			gw := newTestGateway(t, handler, true)

			err := gw.DeleteEvent(context.Background(), "primary", "evt-1")
			assert.True(t, apperr.Is(err, apperr.KindNotFound))
		})
	}
}

func TestUpdateEvent(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/calendars/primary/events/evt-1", r.URL.Path)
		var ev calendar.Event
		_ = json.NewDecoder(r.Body).Decode(&ev)
		ev.Id = "evt-1"
		writeJSON(w, ev)
	})
	gw := newTestGateway(t, handler, true)

	ev, err := gw.UpdateEvent(context.Background(), "primary", "evt-1", samplePayload(t))
	require.NoError(t, err)
	assert.Equal(t, "evt-1", ev.ID)

	_, err = gw.UpdateEvent(context.Background(), "primary", "", samplePayload(t))
	assert.Equal(t, apperr.KindValidation, apperr.Classify(err))
}

func TestListEventsFollowsPages(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "true", q.Get("singleEvents"))
		assert.NotEmpty(t, q.Get("timeMin"))
		assert.NotEmpty(t, q.Get("timeMax"))

		if q.Get("pageToken") == "" {
			writeJSON(w, calendar.Events{
				Items:         []*calendar.Event{{Id: "a", Start: &calendar.EventDateTime{DateTime: "2024-01-08T08:00:00Z"}, End: &calendar.EventDateTime{DateTime: "2024-01-08T09:00:00Z"}}},
				NextPageToken: "page-2",
			})
			return
		}
		writeJSON(w, calendar.Events{
			Items: []*calendar.Event{{Id: "b", Start: &calendar.EventDateTime{Date: "2024-01-09"}, End: &calendar.EventDateTime{Date: "2024-01-10"}}},
		})
	})
	gw := newTestGateway(t, handler, true)

	start := time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC)
	events, err := gw.ListEvents(context.Background(), "primary", start, start.AddDate(0, 0, 7))
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "a", events[0].ID)
	assert.False(t, events[0].AllDay)
	assert.Equal(t, "b", events[1].ID)
	assert.True(t, events[1].AllDay)
	assert.Equal(t, 24*time.Hour, events[1].End.Sub(events[1].Start))

	_, err = gw.ListEvents(context.Background(), "primary", start, start)
	assert.Equal(t, apperr.KindValidation, apperr.Classify(err))
}

func TestListSeriesFiltersByOwner(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "false", q.Get("singleEvents"))
		assert.Equal(t, PropOwner+"=owner-1", q.Get("privateExtendedProperty"))
		writeJSON(w, calendar.Events{Items: []*calendar.Event{
			{Id: "live", ExtendedProperties: &calendar.EventExtendedProperties{Private: map[string]string{PropOwner: "owner-1", PropSession: "s-1"}}},
			{Id: "dead", Status: StatusCancelled},
		}})
	})
	gw := newTestGateway(t, handler, true)

	series, err := gw.ListSeries(context.Background(), "primary", "owner-1")
	require.NoError(t, err)
	require.Len(t, series, 1)
	assert.Equal(t, "live", series[0].ID)
	assert.Equal(t, "s-1", series[0].SessionID)
}

func TestHasConflict(t *testing.T) {
	at := func(h int) string { return fmt.Sprintf("2024-01-08T%02d:00:00Z", h) }
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, calendar.Events{Items: []*calendar.Event{
			{Id: "cancelled", Status: StatusCancelled, Start: &calendar.EventDateTime{DateTime: at(8)}, End: &calendar.EventDateTime{DateTime: at(9)}},
			{Id: "free", Transparency: TransparencyFree, Start: &calendar.EventDateTime{DateTime: at(8)}, End: &calendar.EventDateTime{DateTime: at(9)}},
			{Id: "before", Start: &calendar.EventDateTime{DateTime: at(7)}, End: &calendar.EventDateTime{DateTime: at(8)}},
			{Id: "busy", Start: &calendar.EventDateTime{DateTime: at(8)}, End: &calendar.EventDateTime{DateTime: at(10)}},
		}})
	})
	gw := newTestGateway(t, handler, true)

	start := time.Date(2024, 1, 8, 8, 0, 0, 0, time.UTC)
	busy, conflicts, err := gw.HasConflict(context.Background(), "primary", start, start.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, busy)
	require.Len(t, conflicts, 1)
	assert.Equal(t, "busy", conflicts[0].ID)
}

func TestConflictsTouchingBoundariesDoNotOverlap(t *testing.T) {
	start := time.Date(2024, 1, 8, 8, 0, 0, 0, time.UTC)
	events := []Event{
		{ID: "ends-at-start", Start: start.Add(-time.Hour), End: start},
		{ID: "starts-at-end", Start: start.Add(time.Hour), End: start.Add(2 * time.Hour)},
	}
	assert.Empty(t, Conflicts(events, start, start.Add(time.Hour)))
}

func TestNewCalendarServiceNilTokenSource(t *testing.T) {
	svc, err := NewCalendarService(context.Background(), nil)
	assert.Error(t, err)
	assert.Nil(t, svc)
	assert.True(t, strings.Contains(err.Error(), "token source"))
}
