package models

import (
	"math"
	"time"
)

// AttendanceStatus represents the status for attendance records.
type AttendanceStatus string

const (
	AttendanceStatusPresent AttendanceStatus = "PRESENT"
	AttendanceStatusAbsent  AttendanceStatus = "ABSENT"
	AttendanceStatusLate    AttendanceStatus = "LATE"
	AttendanceStatusExcused AttendanceStatus = "EXCUSED"
)

// Valid returns true when the status is a supported value.
func (s AttendanceStatus) Valid() bool {
	switch s {
	case AttendanceStatusPresent, AttendanceStatusAbsent, AttendanceStatusLate, AttendanceStatusExcused:
		return true
	default:
		return false
	}
}

// DeriveStatus maps a capture input to its canonical status. An explicit
// status always wins; otherwise a non-empty photo infers PRESENT and the
// absence of one infers ABSENT. Photo presence is evidence, not a
// precondition: an explicit PRESENT with no photo is accepted.
func DeriveStatus(explicit *AttendanceStatus, hasPhoto bool) AttendanceStatus {
	if explicit != nil {
		return *explicit
	}
	if hasPhoto {
		return AttendanceStatusPresent
	}
	return AttendanceStatusAbsent
}

// AttendanceRecord is the persisted attendance row. Exactly one record
// exists per (student_id, class_id, date); the store enforces this with a
// unique constraint and upsert writes.
type AttendanceRecord struct {
	ID             string            `db:"id" json:"id"`
	StudentID      string            `db:"student_id" json:"student_id"`
	ClassID        string            `db:"class_id" json:"class_id"`
	Date           time.Time         `db:"date" json:"date"`
	Status         AttendanceStatus  `db:"status" json:"status"`
	ExplicitStatus *AttendanceStatus `db:"explicit_status" json:"explicit_status,omitempty"`
	HasPhoto       bool              `db:"has_photo" json:"has_photo"`
	PhotoRef       *string           `db:"photo_ref" json:"photo_ref,omitempty"`
	Notes          *string           `db:"notes" json:"notes,omitempty"`
	MarkedBy       string            `db:"marked_by" json:"marked_by"`
	CreatedAt      time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time         `db:"updated_at" json:"updated_at"`
}

// AttendanceRecordDetail extends the record with student metadata.
type AttendanceRecordDetail struct {
	AttendanceRecord
	StudentName string  `db:"student_name" json:"student_name"`
	ClassName   *string `db:"class_name" json:"class_name,omitempty"`
}

// AttendanceRecordFilter defines query filters for listing records.
type AttendanceRecordFilter struct {
	ClassID   string
	StudentID string
	Status    *AttendanceStatus
	DateFrom  *time.Time
	DateTo    *time.Time
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// CaptureEvent is one student's attendance input for a submission batch.
// Status, photo and notes are all optional; DeriveStatus resolves the
// effective status.
type CaptureEvent struct {
	StudentID string
	Photo     []byte
	Status    *AttendanceStatus
	Notes     *string
}

// Submission outcomes per student.
const (
	SubmitOutcomeApplied  = "applied"
	SubmitOutcomeRejected = "rejected"
)

// SubmitOutcome reports what happened to a single capture event within a
// batch. A rejected outcome carries the reason (e.g. session closed).
type SubmitOutcome struct {
	StudentID string           `json:"student_id"`
	Outcome   string           `json:"outcome"`
	Status    AttendanceStatus `json:"status,omitempty"`
	Reason    string           `json:"reason,omitempty"`
}

// AttendanceSession marks a (class, date) scope. Open is the absence of a
// finalized marker; the transition to finalized is one-way.
type AttendanceSession struct {
	ID          string     `db:"id" json:"id"`
	ClassID     string     `db:"class_id" json:"class_id"`
	Date        time.Time  `db:"date" json:"date"`
	Finalized   bool       `db:"finalized" json:"finalized"`
	FinalizedBy *string    `db:"finalized_by" json:"finalized_by,omitempty"`
	FinalizedAt *time.Time `db:"finalized_at" json:"finalized_at,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
}

// EditPolicy controls when a non-finalized session stops accepting writes.
type EditPolicy string

const (
	// EditPolicySameDay treats past dates as implicitly closed even
	// without a finalize marker.
	EditPolicySameDay EditPolicy = "same_day"
	// EditPolicyUntilFinalized keeps sessions editable until an explicit
	// finalize action.
	EditPolicyUntilFinalized EditPolicy = "until_finalized"
)

// Valid returns true when the policy is a supported value.
func (p EditPolicy) Valid() bool {
	return p == EditPolicySameDay || p == EditPolicyUntilFinalized
}

// Attendance rate buckets for the roster-scoped summary.
const (
	AttendanceBucketNoData  = "No Data"
	AttendanceBucketGood    = "Good"
	AttendanceBucketAverage = "Average"
	AttendanceBucketPoor    = "Poor"
)

// AttendanceRate computes round((present+late)*100/total, 2), returning 0
// when there are no sessions in the window.
func AttendanceRate(present, late, total int) float64 {
	if total <= 0 {
		return 0
	}
	rate := float64(present+late) * 100 / float64(total)
	return math.Round(rate*100) / 100
}

// AttendanceBucket maps a rate to its display bucket.
func AttendanceBucket(rate float64, total int) string {
	switch {
	case total <= 0:
		return AttendanceBucketNoData
	case rate >= 75:
		return AttendanceBucketGood
	case rate >= 50:
		return AttendanceBucketAverage
	default:
		return AttendanceBucketPoor
	}
}

// StudentAttendanceSummary is one aggregated row per distinct student for
// the roster-scoped read. Cardinality equals the number of distinct
// students in scope regardless of enrollment or attendance fan-out.
type StudentAttendanceSummary struct {
	StudentID     string  `db:"student_id" json:"student_id"`
	StudentName   string  `db:"student_name" json:"student_name"`
	StudentNumber string  `db:"student_number" json:"student_number"`
	ClassID       *string `db:"class_id" json:"class_id,omitempty"`
	ClassName     *string `db:"class_name" json:"class_name,omitempty"`
	PresentCount  int     `db:"present_count" json:"present_count"`
	LateCount     int     `db:"late_count" json:"late_count"`
	AbsentCount   int     `db:"absent_count" json:"absent_count"`
	ExcusedCount  int     `db:"excused_count" json:"excused_count"`
	TotalSessions int     `db:"total_sessions" json:"total_sessions"`
	Rate          float64 `json:"attendance_rate"`
	Bucket        string  `json:"status"`
	LatestPhoto   *string `db:"latest_photo" json:"latest_photo,omitempty"`
}

// SummaryScope selects the roster for the aggregate read: either a class
// or every class a teacher is responsible for.
type SummaryScope struct {
	ClassID   string
	TeacherID string
	DateFrom  time.Time
	DateTo    time.Time
	Search    string
}
