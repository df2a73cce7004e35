package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/scholar-track/pulse-api/internal/models"
)

// SessionRepository stores finalize markers for (class, date) scopes. A
// session row only exists once someone finalizes; its absence means Open.
type SessionRepository struct {
	db *sqlx.DB
}

// NewSessionRepository constructs the repository.
func NewSessionRepository(db *sqlx.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// IsFinalized reports whether a finalize marker exists for the scope.
func (r *SessionRepository) IsFinalized(ctx context.Context, classID string, date time.Time) (bool, error) {
	const query = `SELECT finalized FROM attendance_sessions WHERE class_id = $1 AND date = $2 LIMIT 1`
	var finalized bool
	if err := r.db.GetContext(ctx, &finalized, query, classID, date); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check session finalized: %w", err)
	}
	return finalized, nil
}

// Find returns the session marker for the scope when one exists.
func (r *SessionRepository) Find(ctx context.Context, classID string, date time.Time) (*models.AttendanceSession, error) {
	const query = `SELECT id, class_id, date, finalized, finalized_by, finalized_at, created_at
FROM attendance_sessions WHERE class_id = $1 AND date = $2 LIMIT 1`
	var session models.AttendanceSession
	if err := r.db.GetContext(ctx, &session, query, classID, date); err != nil {
		return nil, err
	}
	return &session, nil
}

// Finalize records the one-way transition for (class_id, date) and
// reports whether this call created the marker. The unique constraint
// plus COALESCE makes repeat calls idempotent: the original actor and
// timestamp are never overwritten. xmax = 0 distinguishes a fresh insert
// from a conflict update so concurrent finalizes agree on a single
// winner.
func (r *SessionRepository) Finalize(ctx context.Context, classID string, date time.Time, actorID string) (*models.AttendanceSession, bool, error) {
	now := time.Now().UTC()
	const query = `INSERT INTO attendance_sessions (id, class_id, date, finalized, finalized_by, finalized_at, created_at)
VALUES ($1, $2, $3, TRUE, $4, $5, $5)
ON CONFLICT (class_id, date) DO UPDATE SET
    finalized = TRUE,
    finalized_by = COALESCE(attendance_sessions.finalized_by, EXCLUDED.finalized_by),
    finalized_at = COALESCE(attendance_sessions.finalized_at, EXCLUDED.finalized_at)
RETURNING id, class_id, date, finalized, finalized_by, finalized_at, created_at, (xmax = 0) AS inserted`
	var row struct {
		models.AttendanceSession
		Inserted bool `db:"inserted"`
	}
	if err := r.db.GetContext(ctx, &row, query, uuid.NewString(), classID, date, actorID, now); err != nil {
		return nil, false, fmt.Errorf("finalize session: %w", err)
	}
	return &row.AttendanceSession, row.Inserted, nil
}
