package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/scholar-track/pulse-api/internal/models"
)

// ErrUpsertConflict signals a write race the store could not resolve via
// the upsert path; callers may retry.
var ErrUpsertConflict = fmt.Errorf("attendance upsert conflict")

// AttendanceRepository handles persistence for attendance records. The
// attendance_records table carries a UNIQUE (student_id, class_id, date)
// constraint; all writes go through a single INSERT .. ON CONFLICT
// statement so concurrent submissions for the same key serialize on the
// constraint and last write wins.
type AttendanceRepository struct {
	db *sqlx.DB
}

// NewAttendanceRepository constructs the repository.
func NewAttendanceRepository(db *sqlx.DB) *AttendanceRepository {
	return &AttendanceRepository{db: db}
}

// Upsert inserts or overwrites the record for (student_id, class_id, date).
func (r *AttendanceRepository) Upsert(ctx context.Context, record *models.AttendanceRecord) (*models.AttendanceRecord, error) {
	now := time.Now().UTC()
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now
	query := `INSERT INTO attendance_records (id, student_id, class_id, date, status, explicit_status, has_photo, photo_ref, notes, marked_by, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (student_id, class_id, date)
DO UPDATE SET status = EXCLUDED.status, explicit_status = EXCLUDED.explicit_status, has_photo = EXCLUDED.has_photo,
    photo_ref = EXCLUDED.photo_ref, notes = EXCLUDED.notes, marked_by = EXCLUDED.marked_by, updated_at = EXCLUDED.updated_at
RETURNING id, student_id, class_id, date, status, explicit_status, has_photo, photo_ref, notes, marked_by, created_at, updated_at`
	var stored models.AttendanceRecord
	if err := r.db.GetContext(ctx, &stored, query,
		record.ID, record.StudentID, record.ClassID, record.Date, record.Status, record.ExplicitStatus,
		record.HasPhoto, record.PhotoRef, record.Notes, record.MarkedBy, record.CreatedAt, record.UpdatedAt); err != nil {
		if pqErr, ok := err.(*pq.Error); ok && (pqErr.Code == "23505" || pqErr.Code == "40001") {
			return nil, ErrUpsertConflict
		}
		return nil, fmt.Errorf("upsert attendance record: %w", err)
	}
	return &stored, nil
}

// Find returns the record for one (student_id, class_id, date) key.
func (r *AttendanceRepository) Find(ctx context.Context, studentID, classID string, date time.Time) (*models.AttendanceRecord, error) {
	const query = `SELECT id, student_id, class_id, date, status, explicit_status, has_photo, photo_ref, notes, marked_by, created_at, updated_at
FROM attendance_records WHERE student_id = $1 AND class_id = $2 AND date = $3`
	var record models.AttendanceRecord
	if err := r.db.GetContext(ctx, &record, query, studentID, classID, date); err != nil {
		return nil, err
	}
	return &record, nil
}

// List returns attendance rows matching the provided filter.
func (r *AttendanceRepository) List(ctx context.Context, filter models.AttendanceRecordFilter) ([]models.AttendanceRecordDetail, int, error) {
	base := `FROM attendance_records ar
JOIN students s ON s.id = ar.student_id
LEFT JOIN classes c ON c.id = ar.class_id`
	where := []string{"1=1"}
	args := []interface{}{}
	if filter.ClassID != "" {
		where = append(where, fmt.Sprintf("ar.class_id = $%d", len(args)+1))
		args = append(args, filter.ClassID)
	}
	if filter.StudentID != "" {
		where = append(where, fmt.Sprintf("ar.student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.Status != nil && filter.Status.Valid() {
		where = append(where, fmt.Sprintf("ar.status = $%d", len(args)+1))
		args = append(args, *filter.Status)
	}
	if filter.DateFrom != nil {
		where = append(where, fmt.Sprintf("ar.date >= $%d", len(args)+1))
		args = append(args, *filter.DateFrom)
	}
	if filter.DateTo != nil {
		where = append(where, fmt.Sprintf("ar.date <= $%d", len(args)+1))
		args = append(args, *filter.DateTo)
	}
	whereClause := strings.Join(where, " AND ")

	allowedSort := map[string]string{
		"date":       "ar.date",
		"status":     "ar.status",
		"created_at": "ar.created_at",
	}
	sortBy := filter.SortBy
	if sortBy == "" {
		sortBy = "date"
	}
	sortColumn, ok := allowedSort[sortBy]
	if !ok {
		sortColumn = "ar.date"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 200 {
		size = 50
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT ar.id, ar.student_id, ar.class_id, ar.date, ar.status, ar.explicit_status, ar.has_photo, ar.photo_ref, ar.notes, ar.marked_by, ar.created_at, ar.updated_at,
        s.full_name AS student_name, c.name AS class_name
        %s WHERE %s
        ORDER BY %s %s
        LIMIT %d OFFSET %d`, base, whereClause, sortColumn, order, size, offset)

	var rows []models.AttendanceRecordDetail
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list attendance records: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s WHERE %s", base, whereClause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count attendance records: %w", err)
	}
	return rows, total, nil
}

// ClassDay returns every record stored for a class on one date.
func (r *AttendanceRepository) ClassDay(ctx context.Context, classID string, date time.Time) ([]models.AttendanceRecordDetail, error) {
	const query = `SELECT ar.id, ar.student_id, ar.class_id, ar.date, ar.status, ar.explicit_status, ar.has_photo, ar.photo_ref, ar.notes, ar.marked_by, ar.created_at, ar.updated_at,
        s.full_name AS student_name, c.name AS class_name
FROM attendance_records ar
JOIN students s ON s.id = ar.student_id
LEFT JOIN classes c ON c.id = ar.class_id
WHERE ar.class_id = $1 AND ar.date = $2
ORDER BY s.full_name ASC`
	var rows []models.AttendanceRecordDetail
	if err := r.db.SelectContext(ctx, &rows, query, classID, date); err != nil {
		return nil, fmt.Errorf("class day attendance: %w", err)
	}
	return rows, nil
}
