// ABOUTME: Database operations for sync_state and sync_log tables
// ABOUTME: Tracks per-owner calendar sync runs and which external events this app created
package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/harperreed/coachcal/models"
)

// Sync status values stored in sync_state.status.
const (
	SyncStatusIdle    = "idle"
	SyncStatusSyncing = "syncing"
	SyncStatusError   = "error"
)

// SourceGoogleCalendar is the sync_log source for calendar events.
const SourceGoogleCalendar = "google_calendar"

// EntityScheduledSession is the sync_log entity type for session rows.
const EntityScheduledSession = "scheduled_session"

// CalendarService is the sync_state key for one owner's calendar.
func CalendarService(ownerID string) string {
	return "calendar:" + ownerID
}

// SyncState represents the sync state for a service.
type SyncState struct {
	Service       string
	LastSyncTime  *time.Time
	LastSyncToken *string
	Status        string
	ErrorMessage  *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// SyncRepository reads and writes sync bookkeeping.
type SyncRepository struct {
	db *sql.DB
}

// NewSyncRepository creates a new sync repository.
func NewSyncRepository(db *sql.DB) *SyncRepository {
	return &SyncRepository{db: db}
}

const syncStateColumns = `service, last_sync_time, last_sync_token, status, error_message, created_at, updated_at`

func scanSyncState(row interface{ Scan(...any) error }) (*SyncState, error) {
	var state SyncState
	var lastSyncTime sql.NullTime
	var lastSyncToken sql.NullString
	var status sql.NullString
	var errorMessage sql.NullString

	if err := row.Scan(
		&state.Service,
		&lastSyncTime,
		&lastSyncToken,
		&status,
		&errorMessage,
		&state.CreatedAt,
		&state.UpdatedAt,
	); err != nil {
		return nil, err
	}

	state.Status = status.String
	if lastSyncTime.Valid {
		state.LastSyncTime = &lastSyncTime.Time
	}
	if lastSyncToken.Valid {
		state.LastSyncToken = &lastSyncToken.String
	}
	if errorMessage.Valid {
		state.ErrorMessage = &errorMessage.String
	}
	return &state, nil
}

// GetSyncState retrieves the sync state for a service, or nil if none exists.
func (r *SyncRepository) GetSyncState(ctx context.Context, service string) (*SyncState, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+syncStateColumns+` FROM sync_state WHERE service = ?`, service)

	state, err := scanSyncState(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sync state: %w", err)
	}
	return state, nil
}

// UpdateSyncStatus updates the sync status for a service.
func (r *SyncRepository) UpdateSyncStatus(ctx context.Context, service, status string, errorMsg *string) error {
	var errorMsgVal sql.NullString
	if errorMsg != nil {
		errorMsgVal = sql.NullString{String: *errorMsg, Valid: true}
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sync_state (service, status, error_message, created_at, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT(service) DO UPDATE SET
			status = excluded.status,
			error_message = excluded.error_message,
			updated_at = CURRENT_TIMESTAMP
	`, service, status, errorMsgVal)
	if err != nil {
		return fmt.Errorf("failed to update sync status: %w", err)
	}
	return nil
}

// CompleteSync records a finished run: the run id becomes the sync token,
// last_sync_time is stamped, and status is idle (or error with errorMsg).
func (r *SyncRepository) CompleteSync(ctx context.Context, service, runID string, errorMsg *string) error {
	status := SyncStatusIdle
	var errorMsgVal sql.NullString
	if errorMsg != nil {
		status = SyncStatusError
		errorMsgVal = sql.NullString{String: *errorMsg, Valid: true}
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sync_state (service, last_sync_time, last_sync_token, status, error_message, created_at, updated_at)
		VALUES (?, CURRENT_TIMESTAMP, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT(service) DO UPDATE SET
			last_sync_time = CURRENT_TIMESTAMP,
			last_sync_token = excluded.last_sync_token,
			status = excluded.status,
			error_message = excluded.error_message,
			updated_at = CURRENT_TIMESTAMP
	`, service, runID, status, errorMsgVal)
	if err != nil {
		return fmt.Errorf("failed to complete sync: %w", err)
	}
	return nil
}

// GetAllSyncStates retrieves the sync state for all services.
func (r *SyncRepository) GetAllSyncStates(ctx context.Context) ([]SyncState, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+syncStateColumns+` FROM sync_state ORDER BY service`)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync states: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var states []SyncState
	for rows.Next() {
		state, err := scanSyncState(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync state: %w", err)
		}
		states = append(states, *state)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sync states: %w", err)
	}
	return states, nil
}

// SyncLogEntry links an external id to the local entity created for it.
type SyncLogEntry struct {
	ID            string
	SourceService string
	SourceID      string
	EntityType    string
	EntityID      string
	ImportedAt    time.Time
	Metadata      string
}

// CheckSyncLogExists checks if an external id has been recorded.
func (r *SyncRepository) CheckSyncLogExists(ctx context.Context, sourceService, sourceID string) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM sync_log
		WHERE source_service = ? AND source_id = ?
	`, sourceService, sourceID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check sync log: %w", err)
	}
	return count > 0, nil
}

// CreateSyncLog records an external id. Recording the same external id
// twice replaces the earlier entry.
func (r *SyncRepository) CreateSyncLog(ctx context.Context, e *SyncLogEntry) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sync_log (id, source_service, source_id, entity_type, entity_id, imported_at, metadata)
		VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP, ?)
		ON CONFLICT(source_service, source_id) DO UPDATE SET
			entity_type = excluded.entity_type,
			entity_id = excluded.entity_id,
			imported_at = CURRENT_TIMESTAMP,
			metadata = excluded.metadata
	`, e.ID, e.SourceService, e.SourceID, e.EntityType, e.EntityID, e.Metadata)
	if err != nil {
		return fmt.Errorf("failed to create sync log: %w", err)
	}
	return nil
}

// GetSyncLog returns the entry for an external id, or nil.
func (r *SyncRepository) GetSyncLog(ctx context.Context, sourceService, sourceID string) (*SyncLogEntry, error) {
	var e SyncLogEntry
	var metadata sql.NullString
	err := r.db.QueryRowContext(ctx, `
		SELECT id, source_service, source_id, entity_type, entity_id, imported_at, metadata
		FROM sync_log
		WHERE source_service = ? AND source_id = ?
	`, sourceService, sourceID).Scan(&e.ID, &e.SourceService, &e.SourceID, &e.EntityType, &e.EntityID, &e.ImportedAt, &metadata)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sync log: %w", err)
	}
	e.Metadata = metadata.String
	return &e, nil
}

// RecordCreatedEvent logs that externalID was created for session.
func (r *SyncRepository) RecordCreatedEvent(ctx context.Context, runID, externalID string, session *models.ScheduledSession) error {
	meta, err := json.Marshal(map[string]string{
		"run_id":   runID,
		"owner_id": session.OwnerID.String(),
		"weekday":  session.Weekday().String(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode sync log metadata: %w", err)
	}

	return r.CreateSyncLog(ctx, &SyncLogEntry{
		ID:            runID + ":" + session.ID.String(),
		SourceService: SourceGoogleCalendar,
		SourceID:      externalID,
		EntityType:    EntityScheduledSession,
		EntityID:      session.ID.String(),
		Metadata:      string(meta),
	})
}
