package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

func TestSessionRepositoryIsFinalizedMissingMarker(t *testing.T) {
	db, mock, cleanup := newAttendanceRepoMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	date := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT finalized FROM attendance_sessions WHERE class_id = $1 AND date = $2 LIMIT 1")).
		WithArgs("class-1", date).
		WillReturnError(sql.ErrNoRows)

	finalized, err := repo.IsFinalized(context.Background(), "class-1", date)
	require.NoError(t, err)
	require.False(t, finalized)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepositoryIsFinalized(t *testing.T) {
	db, mock, cleanup := newAttendanceRepoMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	date := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT finalized FROM attendance_sessions").
		WithArgs("class-1", date).
		WillReturnRows(sqlmock.NewRows([]string{"finalized"}).AddRow(true))

	finalized, err := repo.IsFinalized(context.Background(), "class-1", date)
	require.NoError(t, err)
	require.True(t, finalized)
	require.NoError(t, mock.ExpectationsWereMet())
}

func sessionColumns() []string {
	return []string{"id", "class_id", "date", "finalized", "finalized_by", "finalized_at", "created_at", "inserted"}
}

func TestSessionRepositoryFinalize(t *testing.T) {
	db, mock, cleanup := newAttendanceRepoMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	date := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	finalizedAt := time.Now().UTC()
	rows := sqlmock.NewRows(sessionColumns()).
		AddRow("sess-1", "class-1", date, true, "teacher-1", finalizedAt, finalizedAt, true)
	mock.ExpectQuery("INSERT INTO attendance_sessions").WillReturnRows(rows)

	session, applied, err := repo.Finalize(context.Background(), "class-1", date, "teacher-1")
	require.NoError(t, err)
	require.True(t, applied)
	require.True(t, session.Finalized)
	require.NotNil(t, session.FinalizedBy)
	require.Equal(t, "teacher-1", *session.FinalizedBy)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepositoryFinalizeRepeatReturnsExistingMarker(t *testing.T) {
	db, mock, cleanup := newAttendanceRepoMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	// Conflict path: the row already existed, so inserted reports false
	// and the original actor and timestamp come back untouched.
	date := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	finalizedAt := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows(sessionColumns()).
		AddRow("sess-1", "class-1", date, true, "teacher-1", finalizedAt, finalizedAt, false)
	mock.ExpectQuery("INSERT INTO attendance_sessions").WillReturnRows(rows)

	session, applied, err := repo.Finalize(context.Background(), "class-1", date, "teacher-2")
	require.NoError(t, err)
	require.False(t, applied)
	require.Equal(t, "teacher-1", *session.FinalizedBy)
	require.Equal(t, finalizedAt, *session.FinalizedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}
