// ABOUTME: Repository for scheduled session records mirrored onto the external calendar
// ABOUTME: Only rows created by calendar sync may be deleted through this repository

package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/harperreed/coachcal/models"
)

var (
	ErrSessionNotFound = errors.New("scheduled session not found")
	ErrInvalidSession  = errors.New("invalid scheduled session")
	ErrNotOwned        = errors.New("scheduled session was not created by calendar sync")
)

// DateLayout is how scheduled_date is stored.
const DateLayout = "2006-01-02"

const sessionColumns = `id, owner_id, routine_id, scheduled_date, scheduled_time, duration_minutes,
	recurrence_rule, external_event_id, attendee_email, calendar_id, time_zone, origin, created_at, updated_at`

// SessionRepository provides CRUD for scheduled_sessions.
type SessionRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSessionRepository creates a new session repository.
func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db, now: time.Now}
}

func validateSession(s *models.ScheduledSession) error {
	switch {
	case s == nil:
		return ErrInvalidSession
	case s.OwnerID == uuid.Nil:
		return fmt.Errorf("%w: owner id is required", ErrInvalidSession)
	case s.RoutineID == uuid.Nil:
		return fmt.Errorf("%w: routine id is required", ErrInvalidSession)
	case s.ScheduledDate.IsZero():
		return fmt.Errorf("%w: scheduled date is required", ErrInvalidSession)
	case s.ScheduledTime == "":
		return fmt.Errorf("%w: scheduled time is required", ErrInvalidSession)
	case s.DurationMinutes <= 0:
		return fmt.Errorf("%w: duration must be positive", ErrInvalidSession)
	case s.TimeZone == "":
		return fmt.Errorf("%w: time zone is required", ErrInvalidSession)
	}
	return nil
}

// Create inserts a session. ID, origin and calendar default when unset.
func (r *SessionRepository) Create(ctx context.Context, s *models.ScheduledSession) error {
	if err := validateSession(s); err != nil {
		return err
	}
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.Origin == "" {
		s.Origin = models.OriginCalendarSync
	}
	if s.CalendarID == "" {
		s.CalendarID = "primary"
	}

	now := r.now().UTC()
	s.CreatedAt = now
	s.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO scheduled_sessions (`+sessionColumns+`, weekday)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		s.ID.String(),
		s.OwnerID.String(),
		s.RoutineID.String(),
		s.ScheduledDate.Format(DateLayout),
		s.ScheduledTime,
		s.DurationMinutes,
		nullStringPtr(s.RecurrenceRule),
		nullStringPtr(s.ExternalEventID),
		nullStringPtr(s.AttendeeEmail),
		s.CalendarID,
		s.TimeZone,
		s.Origin,
		s.CreatedAt,
		s.UpdatedAt,
		int(s.Weekday()),
	)
	if err != nil {
		return fmt.Errorf("failed to create scheduled session: %w", err)
	}
	return nil
}

// Get retrieves a session by ID.
func (r *SessionRepository) Get(ctx context.Context, id uuid.UUID) (*models.ScheduledSession, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM scheduled_sessions WHERE id = ?`, id.String())
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get scheduled session: %w", err)
	}
	return s, nil
}

// Update rewrites every mutable column of a session.
func (r *SessionRepository) Update(ctx context.Context, s *models.ScheduledSession) error {
	if err := validateSession(s); err != nil {
		return err
	}
	s.UpdatedAt = r.now().UTC()

	res, err := r.db.ExecContext(ctx, `
		UPDATE scheduled_sessions SET
			routine_id = ?, weekday = ?, scheduled_date = ?, scheduled_time = ?, duration_minutes = ?,
			recurrence_rule = ?, external_event_id = ?, attendee_email = ?, calendar_id = ?,
			time_zone = ?, updated_at = ?
		WHERE id = ?
	`,
		s.RoutineID.String(),
		int(s.Weekday()),
		s.ScheduledDate.Format(DateLayout),
		s.ScheduledTime,
		s.DurationMinutes,
		nullStringPtr(s.RecurrenceRule),
		nullStringPtr(s.ExternalEventID),
		nullStringPtr(s.AttendeeEmail),
		s.CalendarID,
		s.TimeZone,
		s.UpdatedAt,
		s.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update scheduled session: %w", err)
	}
	return requireOneRow(res, ErrSessionNotFound)
}

// SetExternalEventID sets (or with nil clears) the external id of a session.
func (r *SessionRepository) SetExternalEventID(ctx context.Context, id uuid.UUID, externalID *string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE scheduled_sessions SET external_event_id = ?, updated_at = ? WHERE id = ?
	`, nullStringPtr(externalID), r.now().UTC(), id.String())
	if err != nil {
		return fmt.Errorf("failed to set external event id: %w", err)
	}
	return requireOneRow(res, ErrSessionNotFound)
}

// Delete removes a session created by calendar sync. Rows of any other
// origin are left alone and ErrNotOwned is returned.
func (r *SessionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM scheduled_sessions WHERE id = ? AND origin = ?
	`, id.String(), models.OriginCalendarSync)
	if err != nil {
		return fmt.Errorf("failed to delete scheduled session: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check deleted rows: %w", err)
	}
	if n == 1 {
		return nil
	}

	if _, err := r.Get(ctx, id); err != nil {
		return err
	}
	return ErrNotOwned
}

// ListByOwner returns an owner's sessions, Monday first, then by time.
func (r *SessionRepository) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]models.ScheduledSession, error) {
	return r.query(ctx, `
		SELECT `+sessionColumns+` FROM scheduled_sessions
		WHERE owner_id = ?
		ORDER BY (weekday + 6) % 7, scheduled_time, created_at
	`, ownerID.String())
}

// ListByWeekday returns an owner's sessions falling on day, oldest first.
func (r *SessionRepository) ListByWeekday(ctx context.Context, ownerID uuid.UUID, day time.Weekday) ([]models.ScheduledSession, error) {
	return r.query(ctx, `
		SELECT `+sessionColumns+` FROM scheduled_sessions
		WHERE owner_id = ? AND weekday = ?
		ORDER BY created_at
	`, ownerID.String(), int(day))
}

// ListOrphans returns sync-created sessions with no confirmed external event.
func (r *SessionRepository) ListOrphans(ctx context.Context, ownerID uuid.UUID) ([]models.ScheduledSession, error) {
	return r.query(ctx, `
		SELECT `+sessionColumns+` FROM scheduled_sessions
		WHERE owner_id = ? AND origin = ? AND (external_event_id IS NULL OR external_event_id = '')
		ORDER BY (weekday + 6) % 7, created_at
	`, ownerID.String(), models.OriginCalendarSync)
}

// FindByExternalID returns the session linked to an external event.
func (r *SessionRepository) FindByExternalID(ctx context.Context, externalID string) (*models.ScheduledSession, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM scheduled_sessions WHERE external_event_id = ?`, externalID)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find scheduled session: %w", err)
	}
	return s, nil
}

func (r *SessionRepository) query(ctx context.Context, q string, args ...any) ([]models.ScheduledSession, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query scheduled sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []models.ScheduledSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan scheduled session: %w", err)
		}
		sessions = append(sessions, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating scheduled sessions: %w", err)
	}
	return sessions, nil
}

func scanSession(row interface{ Scan(...any) error }) (*models.ScheduledSession, error) {
	var s models.ScheduledSession
	var id, ownerID, routineID, date string
	var rule, externalID, email sql.NullString

	err := row.Scan(
		&id,
		&ownerID,
		&routineID,
		&date,
		&s.ScheduledTime,
		&s.DurationMinutes,
		&rule,
		&externalID,
		&email,
		&s.CalendarID,
		&s.TimeZone,
		&s.Origin,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if s.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("invalid session id %q: %w", id, err)
	}
	if s.OwnerID, err = uuid.Parse(ownerID); err != nil {
		return nil, fmt.Errorf("invalid owner id %q: %w", ownerID, err)
	}
	if s.RoutineID, err = uuid.Parse(routineID); err != nil {
		return nil, fmt.Errorf("invalid routine id %q: %w", routineID, err)
	}

	loc, err := time.LoadLocation(s.TimeZone)
	if err != nil {
		loc = time.UTC
	}
	if s.ScheduledDate, err = time.ParseInLocation(DateLayout, date, loc); err != nil {
		return nil, fmt.Errorf("invalid scheduled date %q: %w", date, err)
	}

	s.RecurrenceRule = stringPtr(rule)
	s.ExternalEventID = stringPtr(externalID)
	s.AttendeeEmail = stringPtr(email)
	return &s, nil
}

func requireOneRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}
