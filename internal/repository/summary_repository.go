package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/scholar-track/pulse-api/internal/models"
)

// SummaryRepository exposes the roster-scoped aggregate read. The query
// reduces to one row per distinct student before returning: the roster CTE
// collapses duplicate enrollments with DISTINCT ON, counts are grouped by
// student, and the latest photo is picked with a ROW_NUMBER window. A
// student with two enrollments and thirty attendance rows still yields a
// single output row. Counts and photos join the roster on both student
// and class, so a student concurrently enrolled elsewhere never leaks
// that class's attendance into this scope's totals.
type SummaryRepository struct {
	db *sqlx.DB
}

// NewSummaryRepository builds the repository.
func NewSummaryRepository(db *sqlx.DB) *SummaryRepository {
	return &SummaryRepository{db: db}
}

// Aggregate returns per-student attendance aggregates for the scope.
// Students with an enrollment in scope but no attendance in the window are
// included with zero counts.
func (r *SummaryRepository) Aggregate(ctx context.Context, scope models.SummaryScope) ([]models.StudentAttendanceSummary, error) {
	if scope.ClassID == "" && scope.TeacherID == "" {
		return nil, fmt.Errorf("summary scope requires a class or teacher")
	}

	rosterWhere := []string{"e.status = $1"}
	args := []interface{}{models.EnrollmentStatusActive}
	if scope.ClassID != "" {
		rosterWhere = append(rosterWhere, fmt.Sprintf("e.class_id = $%d", len(args)+1))
		args = append(args, scope.ClassID)
	}
	if scope.TeacherID != "" {
		rosterWhere = append(rosterWhere, fmt.Sprintf("e.class_id IN (SELECT id FROM classes WHERE homeroom_teacher_id = $%d)", len(args)+1))
		args = append(args, scope.TeacherID)
	}
	fromIdx := len(args) + 1
	toIdx := len(args) + 2
	args = append(args, scope.DateFrom, scope.DateTo)

	outerWhere := "1=1"
	if scope.Search != "" {
		outerWhere = fmt.Sprintf("(LOWER(s.full_name) LIKE $%d OR LOWER(s.student_number) LIKE $%d)", len(args)+1, len(args)+1)
		args = append(args, "%"+strings.ToLower(scope.Search)+"%")
	}

	query := fmt.Sprintf(`WITH roster AS (
    SELECT DISTINCT ON (e.student_id) e.student_id, e.class_id
    FROM enrollments e
    WHERE %s
    ORDER BY e.student_id, e.joined_at DESC
),
counts AS (
    SELECT ar.student_id,
        SUM(CASE WHEN ar.status = 'PRESENT' THEN 1 ELSE 0 END) AS present_count,
        SUM(CASE WHEN ar.status = 'LATE' THEN 1 ELSE 0 END) AS late_count,
        SUM(CASE WHEN ar.status = 'ABSENT' THEN 1 ELSE 0 END) AS absent_count,
        SUM(CASE WHEN ar.status = 'EXCUSED' THEN 1 ELSE 0 END) AS excused_count,
        COUNT(*) AS total_sessions
    FROM attendance_records ar
    JOIN roster r ON r.student_id = ar.student_id AND ar.class_id = r.class_id
    WHERE ar.date >= $%d AND ar.date <= $%d
    GROUP BY ar.student_id
),
photos AS (
    SELECT student_id, photo_ref FROM (
        SELECT ar.student_id, ar.photo_ref,
            ROW_NUMBER() OVER (PARTITION BY ar.student_id ORDER BY ar.date DESC, ar.created_at DESC) AS rn
        FROM attendance_records ar
        JOIN roster r ON r.student_id = ar.student_id AND ar.class_id = r.class_id
        WHERE ar.date >= $%d AND ar.date <= $%d AND ar.photo_ref IS NOT NULL
    ) ranked WHERE rn = 1
)
SELECT s.id AS student_id, s.full_name AS student_name, s.student_number,
    r.class_id, c.name AS class_name,
    COALESCE(cnt.present_count, 0) AS present_count,
    COALESCE(cnt.late_count, 0) AS late_count,
    COALESCE(cnt.absent_count, 0) AS absent_count,
    COALESCE(cnt.excused_count, 0) AS excused_count,
    COALESCE(cnt.total_sessions, 0) AS total_sessions,
    p.photo_ref AS latest_photo
FROM roster r
JOIN students s ON s.id = r.student_id
LEFT JOIN classes c ON c.id = r.class_id
LEFT JOIN counts cnt ON cnt.student_id = r.student_id
LEFT JOIN photos p ON p.student_id = r.student_id
WHERE %s
ORDER BY s.full_name ASC`,
		strings.Join(rosterWhere, " AND "), fromIdx, toIdx, fromIdx, toIdx, outerWhere)

	var rows []models.StudentAttendanceSummary
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("attendance summary aggregate: %w", err)
	}
	return rows, nil
}
