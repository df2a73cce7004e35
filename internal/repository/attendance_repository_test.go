package repository

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/require"

	"github.com/scholar-track/pulse-api/internal/models"
)

func newAttendanceRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func attendanceRecordColumns() []string {
	return []string{"id", "student_id", "class_id", "date", "status", "explicit_status", "has_photo", "photo_ref", "notes", "marked_by", "created_at", "updated_at"}
}

func TestAttendanceRepositoryUpsert(t *testing.T) {
	db, mock, cleanup := newAttendanceRepoMock(t)
	defer cleanup()
	repo := NewAttendanceRepository(db)

	date := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	now := time.Now().UTC()
	rows := sqlmock.NewRows(attendanceRecordColumns()).
		AddRow("rec-1", "stu-1", "class-1", date, models.AttendanceStatusPresent, nil, true, "photos/class-1/2026-03-02/stu-1.jpg", nil, "teacher-1", now, now)
	mock.ExpectQuery("INSERT INTO attendance_records").WillReturnRows(rows)

	photoRef := "photos/class-1/2026-03-02/stu-1.jpg"
	stored, err := repo.Upsert(context.Background(), &models.AttendanceRecord{
		StudentID: "stu-1",
		ClassID:   "class-1",
		Date:      date,
		Status:    models.AttendanceStatusPresent,
		HasPhoto:  true,
		PhotoRef:  &photoRef,
		MarkedBy:  "teacher-1",
	})
	require.NoError(t, err)
	require.Equal(t, "rec-1", stored.ID)
	require.Equal(t, models.AttendanceStatusPresent, stored.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAttendanceRepositoryUpsertKeepsCreatedAtAndBumpsUpdatedAt(t *testing.T) {
	db, mock, cleanup := newAttendanceRepoMock(t)
	defer cleanup()
	repo := NewAttendanceRepository(db)

	// Resubmitting an existing record must keep the original created_at
	// and send a fresh updated_at; only the latter is EXCLUDED into the
	// conflict update.
	date := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	createdAt := time.Date(2026, 3, 2, 7, 30, 0, 0, time.UTC)
	staleUpdatedAt := time.Date(2026, 3, 2, 7, 45, 0, 0, time.UTC)
	rows := sqlmock.NewRows(attendanceRecordColumns()).
		AddRow("rec-1", "stu-1", "class-1", date, models.AttendanceStatusLate, models.AttendanceStatusLate, false, nil, nil, "teacher-1", createdAt, time.Now().UTC())
	mock.ExpectQuery("INSERT INTO attendance_records").
		WithArgs("rec-1", "stu-1", "class-1", date, models.AttendanceStatusLate, models.AttendanceStatusLate,
			false, nil, nil, "teacher-1", createdAt, sqlmock.AnyArg()).
		WillReturnRows(rows)

	explicit := models.AttendanceStatusLate
	record := &models.AttendanceRecord{
		ID:             "rec-1",
		StudentID:      "stu-1",
		ClassID:        "class-1",
		Date:           date,
		Status:         models.AttendanceStatusLate,
		ExplicitStatus: &explicit,
		MarkedBy:       "teacher-1",
		CreatedAt:      createdAt,
		UpdatedAt:      staleUpdatedAt,
	}
	stored, err := repo.Upsert(context.Background(), record)
	require.NoError(t, err)
	require.True(t, record.CreatedAt.Equal(createdAt))
	require.True(t, record.UpdatedAt.After(staleUpdatedAt))
	require.True(t, stored.CreatedAt.Equal(createdAt))
	require.True(t, stored.UpdatedAt.After(staleUpdatedAt))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAttendanceRepositoryUpsertConflict(t *testing.T) {
	db, mock, cleanup := newAttendanceRepoMock(t)
	defer cleanup()
	repo := NewAttendanceRepository(db)

	mock.ExpectQuery("INSERT INTO attendance_records").WillReturnError(&pq.Error{Code: "23505"})

	_, err := repo.Upsert(context.Background(), &models.AttendanceRecord{
		StudentID: "stu-1",
		ClassID:   "class-1",
		Date:      time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		Status:    models.AttendanceStatusPresent,
		MarkedBy:  "teacher-1",
	})
	require.ErrorIs(t, err, ErrUpsertConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAttendanceRepositoryUpsertSerializationFailure(t *testing.T) {
	db, mock, cleanup := newAttendanceRepoMock(t)
	defer cleanup()
	repo := NewAttendanceRepository(db)

	mock.ExpectQuery("INSERT INTO attendance_records").WillReturnError(&pq.Error{Code: "40001"})

	_, err := repo.Upsert(context.Background(), &models.AttendanceRecord{
		StudentID: "stu-1",
		ClassID:   "class-1",
		Date:      time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		Status:    models.AttendanceStatusAbsent,
		MarkedBy:  "teacher-1",
	})
	require.ErrorIs(t, err, ErrUpsertConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAttendanceRepositoryClassDay(t *testing.T) {
	db, mock, cleanup := newAttendanceRepoMock(t)
	defer cleanup()
	repo := NewAttendanceRepository(db)

	date := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	now := time.Now().UTC()
	columns := append(attendanceRecordColumns(), "student_name", "class_name")
	rows := sqlmock.NewRows(columns).
		AddRow("rec-1", "stu-1", "class-1", date, models.AttendanceStatusLate, models.AttendanceStatusLate, false, nil, nil, "teacher-1", now, now, "Alice", "7A")
	mock.ExpectQuery("SELECT ar.id, ar.student_id").WithArgs("class-1", date).WillReturnRows(rows)

	records, err := repo.ClassDay(context.Background(), "class-1", date)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "Alice", records[0].StudentName)
	require.NoError(t, mock.ExpectationsWereMet())
}
