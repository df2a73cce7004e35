package service

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/scholar-track/pulse-api/internal/dto"
	"github.com/scholar-track/pulse-api/internal/models"
	"github.com/scholar-track/pulse-api/internal/repository"
	appErrors "github.com/scholar-track/pulse-api/pkg/errors"
)

// Clock supplies the current time. Injected so editability decisions are
// testable without touching the wall clock.
type Clock func() time.Time

// summaryCachePattern covers every cached summary payload; any applied
// write or finalize invalidates the lot.
const summaryCachePattern = "attendance:summary:*"

const dateLayout = "2006-01-02"

type attendanceStore interface {
	Upsert(ctx context.Context, record *models.AttendanceRecord) (*models.AttendanceRecord, error)
	Find(ctx context.Context, studentID, classID string, date time.Time) (*models.AttendanceRecord, error)
	List(ctx context.Context, filter models.AttendanceRecordFilter) ([]models.AttendanceRecordDetail, int, error)
	ClassDay(ctx context.Context, classID string, date time.Time) ([]models.AttendanceRecordDetail, error)
}

type sessionStore interface {
	IsFinalized(ctx context.Context, classID string, date time.Time) (bool, error)
	Find(ctx context.Context, classID string, date time.Time) (*models.AttendanceSession, error)
	Finalize(ctx context.Context, classID string, date time.Time, actorID string) (*models.AttendanceSession, bool, error)
}

type rosterProvider interface {
	GetRoster(ctx context.Context, classID string, date time.Time) (models.Roster, error)
}

type photoStore interface {
	Save(filename string, data []byte) (string, error)
}

type attendanceAuditLogger interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// AttendanceService owns the capture workflow: batch submission with
// per-student outcomes, the one-way finalize transition, and the
// editability rules tying them together.
type AttendanceService struct {
	records   attendanceStore
	sessions  sessionStore
	roster    rosterProvider
	photos    photoStore
	audits    attendanceAuditLogger
	cache     *CacheService
	metrics   *MetricsService
	policy    models.EditPolicy
	clock     Clock
	validator *validator.Validate
	logger    *zap.Logger
}

// NewAttendanceService constructs the service. A nil clock falls back to
// time.Now and an unknown policy falls back to same-day editing.
func NewAttendanceService(
	records attendanceStore,
	sessions sessionStore,
	roster rosterProvider,
	photos photoStore,
	audits attendanceAuditLogger,
	cache *CacheService,
	metrics *MetricsService,
	policy models.EditPolicy,
	clock Clock,
	validate *validator.Validate,
	logger *zap.Logger,
) *AttendanceService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = time.Now
	}
	if !policy.Valid() {
		policy = models.EditPolicySameDay
	}
	svc := &AttendanceService{
		records:   records,
		sessions:  sessions,
		roster:    roster,
		photos:    photos,
		audits:    audits,
		cache:     cache,
		metrics:   metrics,
		policy:    policy,
		clock:     clock,
		validator: validate,
		logger:    logger,
	}
	svc.validator.RegisterValidation("attendance_status", func(fl validator.FieldLevel) bool {
		return models.AttendanceStatus(strings.ToUpper(fl.Field().String())).Valid()
	})
	return svc
}

// Editable reports whether the (class, date) scope accepts writes right
// now. It is a pure function of the finalize marker, the edit policy and
// the injected clock; no record state is consulted.
func (s *AttendanceService) Editable(date time.Time, finalized bool) bool {
	if finalized {
		return false
	}
	if s.policy == models.EditPolicyUntilFinalized {
		return true
	}
	return sameDay(date, s.clock().UTC())
}

func sameDay(a, b time.Time) bool {
	return a.UTC().Format(dateLayout) == b.UTC().Format(dateLayout)
}

// SubmitBatch applies a batch of capture events against one class and
// date. Structural problems (bad payload, duplicate students, students
// outside the roster) reject the whole batch before any write; once
// writing starts every event gets its own applied/rejected outcome and
// earlier outcomes are never rolled back.
func (s *AttendanceService) SubmitBatch(ctx context.Context, req dto.SubmitBatchRequest, actorID string) (*dto.SubmitBatchResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
	}
	date, err := time.Parse(dateLayout, req.Date)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid date format, expected YYYY-MM-DD")
	}

	events, err := decodeEvents(req.Events)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(events))
	for _, event := range events {
		if _, dup := seen[event.StudentID]; dup {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("student %s appears more than once in batch", event.StudentID))
		}
		seen[event.StudentID] = struct{}{}
	}

	roster, err := s.roster.GetRoster(ctx, req.ClassID, date)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class roster")
	}
	for _, event := range events {
		if !roster.Contains(event.StudentID) {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("student %s is not enrolled in class %s", event.StudentID, req.ClassID))
		}
	}

	finalized, err := s.sessions.IsFinalized(ctx, req.ClassID, date)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check session state")
	}

	resp := &dto.SubmitBatchResponse{
		ClassID:  req.ClassID,
		Date:     req.Date,
		Outcomes: make([]models.SubmitOutcome, 0, len(events)),
	}

	if !s.Editable(date, finalized) {
		reason := "attendance date is no longer editable"
		if finalized {
			reason = appErrors.ErrSessionClosed.Message
		}
		for _, event := range events {
			resp.Outcomes = append(resp.Outcomes, models.SubmitOutcome{
				StudentID: event.StudentID,
				Outcome:   models.SubmitOutcomeRejected,
				Reason:    reason,
			})
			s.metrics.RecordSubmissionOutcome(models.SubmitOutcomeRejected)
		}
		resp.Rejected = len(events)
		return resp, nil
	}

	for _, event := range events {
		outcome := s.applyEvent(ctx, req.ClassID, date, event, actorID)
		resp.Outcomes = append(resp.Outcomes, outcome)
		if outcome.Outcome == models.SubmitOutcomeApplied {
			resp.Applied++
		} else {
			resp.Rejected++
		}
		s.metrics.RecordSubmissionOutcome(outcome.Outcome)
	}

	if resp.Applied > 0 {
		if err := s.cache.Invalidate(ctx, summaryCachePattern); err != nil {
			s.logger.Warn("summary cache invalidation failed", zap.Error(err))
		}
	}
	return resp, nil
}

func (s *AttendanceService) applyEvent(ctx context.Context, classID string, date time.Time, event models.CaptureEvent, actorID string) models.SubmitOutcome {
	hasPhoto := len(event.Photo) > 0
	status := models.DeriveStatus(event.Status, hasPhoto)

	var photoRef *string
	if hasPhoto && s.photos != nil {
		name := fmt.Sprintf("photos/%s/%s/%s.jpg", classID, date.Format(dateLayout), event.StudentID)
		saved, err := s.photos.Save(name, event.Photo)
		if err != nil {
			s.logger.Warn("photo save failed",
				zap.String("student_id", event.StudentID),
				zap.String("class_id", classID),
				zap.Error(err))
			return models.SubmitOutcome{
				StudentID: event.StudentID,
				Outcome:   models.SubmitOutcomeRejected,
				Reason:    "photo could not be stored",
			}
		}
		photoRef = &saved
	}

	record := &models.AttendanceRecord{
		StudentID:      event.StudentID,
		ClassID:        classID,
		Date:           date,
		Status:         status,
		ExplicitStatus: event.Status,
		HasPhoto:       hasPhoto,
		PhotoRef:       photoRef,
		Notes:          event.Notes,
		MarkedBy:       actorID,
	}

	stored, err := s.records.Upsert(ctx, record)
	if err == repository.ErrUpsertConflict {
		// One retry: the constraint serialized a concurrent write for the
		// same key; replaying the upsert makes this submission win.
		stored, err = s.records.Upsert(ctx, record)
	}
	if err != nil {
		s.logger.Error("attendance upsert failed",
			zap.String("student_id", event.StudentID),
			zap.String("class_id", classID),
			zap.Error(err))
		return models.SubmitOutcome{
			StudentID: event.StudentID,
			Outcome:   models.SubmitOutcomeRejected,
			Reason:    "write conflict, retry the submission",
		}
	}
	return models.SubmitOutcome{
		StudentID: event.StudentID,
		Outcome:   models.SubmitOutcomeApplied,
		Status:    stored.Status,
	}
}

func decodeEvents(in []dto.CaptureEventRequest) ([]models.CaptureEvent, error) {
	events := make([]models.CaptureEvent, len(in))
	for i, raw := range in {
		event := models.CaptureEvent{StudentID: raw.StudentID, Notes: raw.Notes}
		if raw.Status != nil && *raw.Status != "" {
			status := models.AttendanceStatus(strings.ToUpper(*raw.Status))
			if !status.Valid() {
				return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown attendance status %q", *raw.Status))
			}
			event.Status = &status
		}
		if raw.Photo != nil && *raw.Photo != "" {
			data, err := base64.StdEncoding.DecodeString(*raw.Photo)
			if err != nil {
				return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("photo for student %s is not valid base64", raw.StudentID))
			}
			event.Photo = data
		}
		events[i] = event
	}
	return events, nil
}

// Finalize closes the (class, date) scope. The transition is one-way and
// idempotent: finalizing an already finalized session returns the
// original marker unchanged.
func (s *AttendanceService) Finalize(ctx context.Context, req dto.FinalizeSessionRequest, actorID, ip, userAgent string) (*dto.SessionStatusResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
	}
	date, err := time.Parse(dateLayout, req.Date)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid date format, expected YYYY-MM-DD")
	}

	// The store decides atomically whether this call created the marker,
	// so concurrent finalizes agree on one winner for metrics and audit.
	session, applied, err := s.sessions.Finalize(ctx, req.ClassID, date, actorID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to finalize session")
	}

	if applied {
		s.metrics.RecordSessionFinalized()
		s.recordFinalizeAudit(ctx, session, actorID, ip, userAgent)
		if err := s.cache.Invalidate(ctx, summaryCachePattern); err != nil {
			s.logger.Warn("summary cache invalidation failed", zap.Error(err))
		}
		s.logger.Info("attendance session finalized",
			zap.String("class_id", session.ClassID),
			zap.String("date", session.Date.Format(dateLayout)),
			zap.String("actor_id", actorID))
	}

	return s.sessionResponse(session), nil
}

func (s *AttendanceService) recordFinalizeAudit(ctx context.Context, session *models.AttendanceSession, actorID, ip, userAgent string) {
	if s.audits == nil {
		return
	}
	payload, _ := json.Marshal(map[string]string{
		"class_id": session.ClassID,
		"date":     session.Date.Format(dateLayout),
	})
	entry := &models.AuditLog{
		UserID:     &actorID,
		Action:     models.AuditActionSessionFinalize,
		Resource:   "attendance_sessions",
		ResourceID: &session.ID,
		NewValues:  payload,
		IPAddress:  ip,
		UserAgent:  userAgent,
	}
	if err := s.audits.CreateAuditLog(ctx, entry); err != nil {
		s.logger.Warn("audit log write failed", zap.Error(err))
	}
}

// SessionStatus reports lifecycle state for one (class, date) scope.
// Missing marker rows read as an open session.
func (s *AttendanceService) SessionStatus(ctx context.Context, classID, dateStr string) (*dto.SessionStatusResponse, error) {
	if classID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "class id required")
	}
	date, err := time.Parse(dateLayout, dateStr)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid date format, expected YYYY-MM-DD")
	}

	session, err := s.sessions.Find(ctx, classID, date)
	if err != nil {
		if err == sql.ErrNoRows {
			return &dto.SessionStatusResponse{
				ClassID:  classID,
				Date:     dateStr,
				Editable: s.Editable(date, false),
			}, nil
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session state")
	}
	return s.sessionResponse(session), nil
}

func (s *AttendanceService) sessionResponse(session *models.AttendanceSession) *dto.SessionStatusResponse {
	resp := &dto.SessionStatusResponse{
		ClassID:     session.ClassID,
		Date:        session.Date.Format(dateLayout),
		Finalized:   session.Finalized,
		Editable:    s.Editable(session.Date, session.Finalized),
		FinalizedBy: session.FinalizedBy,
	}
	if session.FinalizedAt != nil {
		at := session.FinalizedAt.UTC().Format(time.RFC3339)
		resp.FinalizedAt = &at
	}
	return resp
}

// AttendanceListRequest filters the record listing.
type AttendanceListRequest struct {
	ClassID   string  `json:"class_id"`
	StudentID string  `json:"student_id"`
	Status    *string `json:"status" validate:"omitempty,attendance_status"`
	DateFrom  *time.Time
	DateTo    *time.Time
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// ListRecords returns paginated attendance records.
func (s *AttendanceService) ListRecords(ctx context.Context, req AttendanceListRequest) ([]models.AttendanceRecordDetail, *models.Pagination, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid filter")
	}
	var status *models.AttendanceStatus
	if req.Status != nil {
		st := models.AttendanceStatus(strings.ToUpper(*req.Status))
		status = &st
	}
	page := req.Page
	if page < 1 {
		page = 1
	}
	size := req.PageSize
	if size <= 0 {
		size = 50
	}
	filter := models.AttendanceRecordFilter{
		ClassID:   req.ClassID,
		StudentID: req.StudentID,
		Status:    status,
		DateFrom:  req.DateFrom,
		DateTo:    req.DateTo,
		Page:      page,
		PageSize:  size,
		SortBy:    req.SortBy,
		SortOrder: req.SortOrder,
	}
	rows, total, err := s.records.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list attendance records")
	}
	pagination := &models.Pagination{Page: page, PageSize: size, TotalCount: total}
	return rows, pagination, nil
}

// ClassDay returns every stored record for a class on one date together
// with the session state, the view a teacher reviews before finalizing.
func (s *AttendanceService) ClassDay(ctx context.Context, classID, dateStr string) ([]models.AttendanceRecordDetail, *dto.SessionStatusResponse, error) {
	status, err := s.SessionStatus(ctx, classID, dateStr)
	if err != nil {
		return nil, nil, err
	}
	date, _ := time.Parse(dateLayout, dateStr)
	rows, err := s.records.ClassDay(ctx, classID, date)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class day attendance")
	}
	return rows, status, nil
}
