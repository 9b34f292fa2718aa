// ABOUTME: Repository for training routines referenced by scheduled sessions
// ABOUTME: Read-mostly lookup used to build calendar event titles and descriptions

package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/harperreed/coachcal/models"
)

var (
	ErrRoutineNotFound = errors.New("routine not found")
	ErrInvalidRoutine  = errors.New("invalid routine")
)

// RoutineRepository provides access to the routines table.
type RoutineRepository struct {
	db *sql.DB
}

// NewRoutineRepository creates a new routine repository.
func NewRoutineRepository(db *sql.DB) *RoutineRepository {
	return &RoutineRepository{db: db}
}

// Create inserts a routine, assigning an ID if unset.
func (r *RoutineRepository) Create(ctx context.Context, routine *models.Routine) error {
	if routine == nil || strings.TrimSpace(routine.Name) == "" {
		return ErrInvalidRoutine
	}
	if routine.ID == uuid.Nil {
		routine.ID = uuid.New()
	}

	now := time.Now().UTC()
	routine.CreatedAt = now
	routine.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO routines (id, name, program_name, description, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, routine.ID.String(), routine.Name, nullString(routine.ProgramName), nullString(routine.Description), routine.CreatedAt, routine.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create routine: %w", err)
	}
	return nil
}

// GetRoutine retrieves a routine by ID.
func (r *RoutineRepository) GetRoutine(ctx context.Context, id uuid.UUID) (*models.Routine, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, program_name, description, created_at, updated_at
		FROM routines WHERE id = ?
	`, id.String())

	routine, err := scanRoutine(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRoutineNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get routine: %w", err)
	}
	return routine, nil
}

// FindByName returns the routine with the given name (case-insensitive).
func (r *RoutineRepository) FindByName(ctx context.Context, name string) (*models.Routine, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, program_name, description, created_at, updated_at
		FROM routines WHERE LOWER(name) = LOWER(?)
		ORDER BY created_at LIMIT 1
	`, strings.TrimSpace(name))

	routine, err := scanRoutine(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRoutineNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find routine: %w", err)
	}
	return routine, nil
}

// List returns all routines ordered by name.
func (r *RoutineRepository) List(ctx context.Context) ([]models.Routine, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, program_name, description, created_at, updated_at
		FROM routines ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list routines: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var routines []models.Routine
	for rows.Next() {
		routine, err := scanRoutine(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan routine: %w", err)
		}
		routines = append(routines, *routine)
	}
	return routines, rows.Err()
}

func scanRoutine(row interface{ Scan(...any) error }) (*models.Routine, error) {
	var routine models.Routine
	var id string
	var program, description sql.NullString

	if err := row.Scan(&id, &routine.Name, &program, &description, &routine.CreatedAt, &routine.UpdatedAt); err != nil {
		return nil, err
	}

	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid routine id %q: %w", id, err)
	}
	routine.ID = parsed
	routine.ProgramName = program.String
	routine.Description = description.String
	return &routine, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullStringPtr(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
