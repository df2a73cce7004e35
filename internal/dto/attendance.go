package dto

import "github.com/scholar-track/pulse-api/internal/models"

// CaptureEventRequest is one student's entry in a submission batch. Photo
// carries the base64-encoded capture when the client attached one; an
// explicit status overrides photo-presence inference.
type CaptureEventRequest struct {
	StudentID string  `json:"student_id" validate:"required"`
	Photo     *string `json:"photo,omitempty"`
	Status    *string `json:"status,omitempty" validate:"omitempty,attendance_status"`
	Notes     *string `json:"notes,omitempty"`
}

// SubmitBatchRequest submits attendance for one class and date.
type SubmitBatchRequest struct {
	ClassID string                `json:"class_id" validate:"required"`
	Date    string                `json:"date" validate:"required"`
	Events  []CaptureEventRequest `json:"events" validate:"required,min=1,dive"`
}

// SubmitBatchResponse returns the complete per-student outcome list.
type SubmitBatchResponse struct {
	ClassID  string                 `json:"class_id"`
	Date     string                 `json:"date"`
	Applied  int                    `json:"applied"`
	Rejected int                    `json:"rejected"`
	Outcomes []models.SubmitOutcome `json:"outcomes"`
}

// FinalizeSessionRequest closes a (class, date) scope to further edits.
type FinalizeSessionRequest struct {
	ClassID string `json:"class_id" validate:"required"`
	Date    string `json:"date" validate:"required"`
}

// SessionStatusResponse reports the lifecycle state of a session.
type SessionStatusResponse struct {
	ClassID     string  `json:"class_id"`
	Date        string  `json:"date"`
	Finalized   bool    `json:"finalized"`
	Editable    bool    `json:"editable"`
	FinalizedBy *string `json:"finalized_by,omitempty"`
	FinalizedAt *string `json:"finalized_at,omitempty"`
}

// AttendanceSummaryRequest scopes the roster-wide aggregate read.
type AttendanceSummaryRequest struct {
	ClassID   string `json:"class_id"`
	TeacherID string `json:"teacher_id"`
	DateFrom  string `json:"date_from"`
	DateTo    string `json:"date_to"`
	Search    string `json:"search"`
}

// AttendanceSummaryResponse returns one row per distinct student in scope.
type AttendanceSummaryResponse struct {
	DateFrom string                            `json:"date_from"`
	DateTo   string                            `json:"date_to"`
	Students []models.StudentAttendanceSummary `json:"students"`
}
