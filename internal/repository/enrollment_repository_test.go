package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/scholar-track/pulse-api/internal/models"
)

func newEnrollmentRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestEnrollmentRepositoryGetRoster(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	date := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"student_id"}).
		AddRow("stu-1").
		AddRow("stu-2")
	mock.ExpectQuery(regexp.QuoteMeta("SELECT DISTINCT student_id FROM enrollments")).
		WithArgs("class-1", date, models.EnrollmentStatusActive).
		WillReturnRows(rows)

	roster, err := repo.GetRoster(context.Background(), "class-1", date)
	require.NoError(t, err)
	require.Len(t, roster, 2)
	require.True(t, roster.Contains("stu-1"))
	require.False(t, roster.Contains("stu-3"))
	require.NoError(t, mock.ExpectationsWereMet())
}
