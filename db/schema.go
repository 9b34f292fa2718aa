// ABOUTME: Database schema definitions and migrations
// ABOUTME: Handles SQLite table creation for routines, scheduled sessions and sync bookkeeping
package db

import (
	"database/sql"
)

const schema = `
CREATE TABLE IF NOT EXISTS routines (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	program_name TEXT,
	description TEXT,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_routines_name ON routines(name);

CREATE TABLE IF NOT EXISTS scheduled_sessions (
	id TEXT PRIMARY KEY,
	owner_id TEXT NOT NULL,
	routine_id TEXT NOT NULL,
	weekday INTEGER NOT NULL CHECK(weekday BETWEEN 0 AND 6),
	scheduled_date TEXT NOT NULL,
	scheduled_time TEXT NOT NULL,
	duration_minutes INTEGER NOT NULL CHECK(duration_minutes > 0),
	recurrence_rule TEXT,
	external_event_id TEXT,
	attendee_email TEXT,
	calendar_id TEXT NOT NULL DEFAULT 'primary',
	time_zone TEXT NOT NULL,
	origin TEXT NOT NULL DEFAULT 'calendar_sync',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	FOREIGN KEY (routine_id) REFERENCES routines(id)
);

CREATE INDEX IF NOT EXISTS idx_sessions_owner ON scheduled_sessions(owner_id);
CREATE INDEX IF NOT EXISTS idx_sessions_owner_weekday ON scheduled_sessions(owner_id, weekday);
CREATE INDEX IF NOT EXISTS idx_sessions_external ON scheduled_sessions(external_event_id);

CREATE TABLE IF NOT EXISTS sync_state (
	service TEXT PRIMARY KEY,
	last_sync_time DATETIME,
	last_sync_token TEXT,
	status TEXT CHECK(status IN ('idle', 'syncing', 'error')),
	error_message TEXT,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS sync_log (
	id TEXT PRIMARY KEY,
	source_service TEXT NOT NULL,
	source_id TEXT NOT NULL,
	entity_type TEXT NOT NULL,
	entity_id TEXT NOT NULL,
	imported_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	metadata TEXT,
	UNIQUE(source_service, source_id)
);

CREATE INDEX IF NOT EXISTS idx_sync_log_source ON sync_log(source_service, source_id);
CREATE INDEX IF NOT EXISTS idx_sync_log_entity ON sync_log(entity_type, entity_id);
`

func InitSchema(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}
