package service

import (
	"context"
	"database/sql"
	"encoding/base64"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/scholar-track/pulse-api/internal/dto"
	"github.com/scholar-track/pulse-api/internal/models"
	"github.com/scholar-track/pulse-api/internal/repository"
	appErrors "github.com/scholar-track/pulse-api/pkg/errors"
)

type stubAttendanceStore struct {
	records      map[string]models.AttendanceRecord
	upsertErrs   []error
	upsertCalls  int
	lastUpserted *models.AttendanceRecord
}

func (m *stubAttendanceStore) Upsert(ctx context.Context, record *models.AttendanceRecord) (*models.AttendanceRecord, error) {
	m.upsertCalls++
	if len(m.upsertErrs) > 0 {
		err := m.upsertErrs[0]
		m.upsertErrs = m.upsertErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	if m.records == nil {
		m.records = make(map[string]models.AttendanceRecord)
	}
	stored := *record
	if stored.ID == "" {
		stored.ID = "rec-" + record.StudentID
	}
	m.records[record.StudentID] = stored
	m.lastUpserted = &stored
	return &stored, nil
}

func (m *stubAttendanceStore) Find(ctx context.Context, studentID, classID string, date time.Time) (*models.AttendanceRecord, error) {
	if r, ok := m.records[studentID]; ok {
		return &r, nil
	}
	return nil, sql.ErrNoRows
}

func (m *stubAttendanceStore) List(ctx context.Context, filter models.AttendanceRecordFilter) ([]models.AttendanceRecordDetail, int, error) {
	return nil, 0, nil
}

func (m *stubAttendanceStore) ClassDay(ctx context.Context, classID string, date time.Time) ([]models.AttendanceRecordDetail, error) {
	return nil, nil
}

type stubSessionStore struct {
	finalized     map[string]bool
	finalizeCalls int
	session       *models.AttendanceSession
}

func sessionKey(classID string, date time.Time) string {
	return classID + "|" + date.Format("2006-01-02")
}

func (m *stubSessionStore) IsFinalized(ctx context.Context, classID string, date time.Time) (bool, error) {
	return m.finalized[sessionKey(classID, date)], nil
}

func (m *stubSessionStore) Find(ctx context.Context, classID string, date time.Time) (*models.AttendanceSession, error) {
	if m.session != nil {
		return m.session, nil
	}
	return nil, sql.ErrNoRows
}

func (m *stubSessionStore) Finalize(ctx context.Context, classID string, date time.Time, actorID string) (*models.AttendanceSession, bool, error) {
	m.finalizeCalls++
	if m.finalized == nil {
		m.finalized = make(map[string]bool)
	}
	key := sessionKey(classID, date)
	applied := !m.finalized[key]
	if applied {
		at := time.Now().UTC()
		m.session = &models.AttendanceSession{
			ID:          "sess-1",
			ClassID:     classID,
			Date:        date,
			Finalized:   true,
			FinalizedBy: &actorID,
			FinalizedAt: &at,
		}
	}
	m.finalized[key] = true
	return m.session, applied, nil
}

type stubRoster struct {
	roster models.Roster
	err    error
}

func (m *stubRoster) GetRoster(ctx context.Context, classID string, date time.Time) (models.Roster, error) {
	return m.roster, m.err
}

type stubPhotoStore struct {
	saved map[string][]byte
	err   error
}

func (m *stubPhotoStore) Save(filename string, data []byte) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	if m.saved == nil {
		m.saved = make(map[string][]byte)
	}
	m.saved[filename] = data
	return filename, nil
}

type stubAuditLogger struct {
	entries []models.AuditLog
}

func (m *stubAuditLogger) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	m.entries = append(m.entries, *log)
	return nil
}

func strPtr(s string) *string { return &s }

func fixedClock(t time.Time) Clock {
	return func() time.Time { return t }
}

func newAttendanceFixture(policy models.EditPolicy, now time.Time) (*AttendanceService, *stubAttendanceStore, *stubSessionStore, *stubRoster, *stubPhotoStore, *stubAuditLogger) {
	records := &stubAttendanceStore{}
	sessions := &stubSessionStore{finalized: make(map[string]bool)}
	roster := &stubRoster{roster: models.Roster{"stu-1": {}, "stu-2": {}, "stu-3": {}}}
	photos := &stubPhotoStore{}
	audits := &stubAuditLogger{}
	svc := NewAttendanceService(records, sessions, roster, photos, audits, nil, nil, policy, fixedClock(now), validator.New(), zap.NewNop())
	return svc, records, sessions, roster, photos, audits
}

func TestSubmitBatchPhotoInfersPresent(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	svc, records, _, _, photos, _ := newAttendanceFixture(models.EditPolicySameDay, now)

	photo := base64.StdEncoding.EncodeToString([]byte("jpeg-bytes"))
	resp, err := svc.SubmitBatch(context.Background(), dto.SubmitBatchRequest{
		ClassID: "class-1",
		Date:    "2026-03-02",
		Events: []dto.CaptureEventRequest{
			{StudentID: "stu-1", Photo: &photo},
		},
	}, "teacher-1")
	require.NoError(t, err)
	require.Len(t, resp.Outcomes, 1)
	assert.Equal(t, 1, resp.Applied)
	assert.Equal(t, models.SubmitOutcomeApplied, resp.Outcomes[0].Outcome)
	assert.Equal(t, models.AttendanceStatusPresent, resp.Outcomes[0].Status)
	assert.Len(t, photos.saved, 1)

	stored := records.records["stu-1"]
	assert.True(t, stored.HasPhoto)
	require.NotNil(t, stored.PhotoRef)
	assert.Nil(t, stored.ExplicitStatus)
	assert.Equal(t, "teacher-1", stored.MarkedBy)
}

func TestSubmitBatchExplicitStatusWins(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	svc, records, _, _, _, _ := newAttendanceFixture(models.EditPolicySameDay, now)

	photo := base64.StdEncoding.EncodeToString([]byte("jpeg-bytes"))
	resp, err := svc.SubmitBatch(context.Background(), dto.SubmitBatchRequest{
		ClassID: "class-1",
		Date:    "2026-03-02",
		Events: []dto.CaptureEventRequest{
			{StudentID: "stu-1", Photo: &photo, Status: strPtr("late")},
			{StudentID: "stu-2"},
		},
	}, "teacher-1")
	require.NoError(t, err)
	assert.Equal(t, 2, resp.Applied)
	assert.Equal(t, models.AttendanceStatusLate, records.records["stu-1"].Status)
	// No photo and no explicit status reads as absent.
	assert.Equal(t, models.AttendanceStatusAbsent, records.records["stu-2"].Status)
}

func TestSubmitBatchDuplicateStudentRejectsWholeBatch(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	svc, records, _, _, _, _ := newAttendanceFixture(models.EditPolicySameDay, now)

	_, err := svc.SubmitBatch(context.Background(), dto.SubmitBatchRequest{
		ClassID: "class-1",
		Date:    "2026-03-02",
		Events: []dto.CaptureEventRequest{
			{StudentID: "stu-1", Status: strPtr("PRESENT")},
			{StudentID: "stu-1", Status: strPtr("ABSENT")},
		},
	}, "teacher-1")
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
	assert.Equal(t, 0, records.upsertCalls)
}

func TestSubmitBatchNonRosterStudentRejectsWholeBatch(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	svc, records, _, _, _, _ := newAttendanceFixture(models.EditPolicySameDay, now)

	_, err := svc.SubmitBatch(context.Background(), dto.SubmitBatchRequest{
		ClassID: "class-1",
		Date:    "2026-03-02",
		Events: []dto.CaptureEventRequest{
			{StudentID: "stu-1", Status: strPtr("PRESENT")},
			{StudentID: "intruder", Status: strPtr("PRESENT")},
		},
	}, "teacher-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
	assert.Equal(t, 0, records.upsertCalls)
}

func TestSubmitBatchInvalidPhotoRejectsWholeBatch(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	svc, records, _, _, _, _ := newAttendanceFixture(models.EditPolicySameDay, now)

	_, err := svc.SubmitBatch(context.Background(), dto.SubmitBatchRequest{
		ClassID: "class-1",
		Date:    "2026-03-02",
		Events: []dto.CaptureEventRequest{
			{StudentID: "stu-1", Photo: strPtr("not//valid==base64!!")},
		},
	}, "teacher-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
	assert.Equal(t, 0, records.upsertCalls)
}

func TestSubmitBatchFinalizedSessionRejectsPerStudent(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	date := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	svc, records, sessions, _, _, _ := newAttendanceFixture(models.EditPolicySameDay, now)
	sessions.finalized[sessionKey("class-1", date)] = true

	resp, err := svc.SubmitBatch(context.Background(), dto.SubmitBatchRequest{
		ClassID: "class-1",
		Date:    "2026-03-02",
		Events: []dto.CaptureEventRequest{
			{StudentID: "stu-1", Status: strPtr("PRESENT")},
			{StudentID: "stu-2", Status: strPtr("LATE")},
		},
	}, "teacher-1")
	// Closed sessions are a business outcome, not a request error.
	require.NoError(t, err)
	assert.Equal(t, 0, resp.Applied)
	assert.Equal(t, 2, resp.Rejected)
	for _, outcome := range resp.Outcomes {
		assert.Equal(t, models.SubmitOutcomeRejected, outcome.Outcome)
		assert.Equal(t, appErrors.ErrSessionClosed.Message, outcome.Reason)
	}
	assert.Equal(t, 0, records.upsertCalls)
}

func TestSubmitBatchPastDateRejectedUnderSameDayPolicy(t *testing.T) {
	now := time.Date(2026, 3, 5, 9, 0, 0, 0, time.UTC)
	svc, records, _, _, _, _ := newAttendanceFixture(models.EditPolicySameDay, now)

	resp, err := svc.SubmitBatch(context.Background(), dto.SubmitBatchRequest{
		ClassID: "class-1",
		Date:    "2026-03-02",
		Events:  []dto.CaptureEventRequest{{StudentID: "stu-1", Status: strPtr("PRESENT")}},
	}, "teacher-1")
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Rejected)
	assert.Equal(t, 0, records.upsertCalls)
}

func TestSubmitBatchPastDateAllowedUntilFinalized(t *testing.T) {
	now := time.Date(2026, 3, 5, 9, 0, 0, 0, time.UTC)
	svc, records, _, _, _, _ := newAttendanceFixture(models.EditPolicyUntilFinalized, now)

	resp, err := svc.SubmitBatch(context.Background(), dto.SubmitBatchRequest{
		ClassID: "class-1",
		Date:    "2026-03-02",
		Events:  []dto.CaptureEventRequest{{StudentID: "stu-1", Status: strPtr("PRESENT")}},
	}, "teacher-1")
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Applied)
	assert.Equal(t, 1, records.upsertCalls)
}

func TestSubmitBatchRetriesUpsertConflictOnce(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	svc, records, _, _, _, _ := newAttendanceFixture(models.EditPolicySameDay, now)
	records.upsertErrs = []error{repository.ErrUpsertConflict}

	resp, err := svc.SubmitBatch(context.Background(), dto.SubmitBatchRequest{
		ClassID: "class-1",
		Date:    "2026-03-02",
		Events:  []dto.CaptureEventRequest{{StudentID: "stu-1", Status: strPtr("PRESENT")}},
	}, "teacher-1")
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Applied)
	assert.Equal(t, 2, records.upsertCalls)
}

func TestSubmitBatchPersistentConflictRejectsStudentOnly(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	svc, records, _, _, _, _ := newAttendanceFixture(models.EditPolicySameDay, now)
	records.upsertErrs = []error{repository.ErrUpsertConflict, repository.ErrUpsertConflict}

	resp, err := svc.SubmitBatch(context.Background(), dto.SubmitBatchRequest{
		ClassID: "class-1",
		Date:    "2026-03-02",
		Events: []dto.CaptureEventRequest{
			{StudentID: "stu-1", Status: strPtr("PRESENT")},
			{StudentID: "stu-2", Status: strPtr("PRESENT")},
		},
	}, "teacher-1")
	require.NoError(t, err)
	// stu-1 burned both injected conflicts; stu-2 still lands.
	assert.Equal(t, 1, resp.Applied)
	assert.Equal(t, 1, resp.Rejected)
	assert.Equal(t, models.SubmitOutcomeRejected, resp.Outcomes[0].Outcome)
	assert.Equal(t, models.SubmitOutcomeApplied, resp.Outcomes[1].Outcome)
}

func TestFinalizeIsIdempotent(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	svc, _, sessions, _, _, audits := newAttendanceFixture(models.EditPolicySameDay, now)

	req := dto.FinalizeSessionRequest{ClassID: "class-1", Date: "2026-03-02"}
	first, err := svc.Finalize(context.Background(), req, "teacher-1", "10.0.0.1", "test-agent")
	require.NoError(t, err)
	assert.True(t, first.Finalized)
	assert.False(t, first.Editable)
	require.NotNil(t, first.FinalizedBy)
	assert.Equal(t, "teacher-1", *first.FinalizedBy)

	second, err := svc.Finalize(context.Background(), req, "teacher-2", "10.0.0.2", "test-agent")
	require.NoError(t, err)
	assert.True(t, second.Finalized)
	// The original actor sticks; repeat finalize does not re-audit.
	assert.Equal(t, "teacher-1", *second.FinalizedBy)
	assert.Len(t, audits.entries, 1)
	assert.Equal(t, models.AuditActionSessionFinalize, audits.entries[0].Action)
	assert.Equal(t, 2, sessions.finalizeCalls)
}

func TestFinalizeDuplicateCountsMetricsOnce(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	records := &stubAttendanceStore{}
	sessions := &stubSessionStore{finalized: make(map[string]bool)}
	roster := &stubRoster{roster: models.Roster{"stu-1": {}}}
	audits := &stubAuditLogger{}
	metrics := NewMetricsService()
	svc := NewAttendanceService(records, sessions, roster, &stubPhotoStore{}, audits, nil, metrics,
		models.EditPolicySameDay, fixedClock(now), validator.New(), zap.NewNop())

	// The store, not a prior read, decides who won; a losing duplicate
	// must not double the finalize counter or the audit trail.
	req := dto.FinalizeSessionRequest{ClassID: "class-1", Date: "2026-03-02"}
	_, err := svc.Finalize(context.Background(), req, "teacher-1", "10.0.0.1", "test-agent")
	require.NoError(t, err)
	_, err = svc.Finalize(context.Background(), req, "teacher-2", "10.0.0.2", "test-agent")
	require.NoError(t, err)

	assert.Equal(t, uint64(1), metrics.Snapshot().SessionsFinalized)
	assert.Len(t, audits.entries, 1)
}

func TestSessionStatusMissingMarkerReadsOpen(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	svc, _, _, _, _, _ := newAttendanceFixture(models.EditPolicySameDay, now)

	status, err := svc.SessionStatus(context.Background(), "class-1", "2026-03-02")
	require.NoError(t, err)
	assert.False(t, status.Finalized)
	assert.True(t, status.Editable)

	// Same missing marker on a past date is closed under same-day policy.
	status, err = svc.SessionStatus(context.Background(), "class-1", "2026-02-27")
	require.NoError(t, err)
	assert.False(t, status.Finalized)
	assert.False(t, status.Editable)
}

func TestSubmitBatchUnknownStatusRejected(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	svc, _, _, _, _, _ := newAttendanceFixture(models.EditPolicySameDay, now)

	_, err := svc.SubmitBatch(context.Background(), dto.SubmitBatchRequest{
		ClassID: "class-1",
		Date:    "2026-03-02",
		Events:  []dto.CaptureEventRequest{{StudentID: "stu-1", Status: strPtr("NAPPING")}},
	}, "teacher-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}
