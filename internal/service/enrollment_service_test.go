package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/scholar-track/pulse-api/internal/models"
	appErrors "github.com/scholar-track/pulse-api/pkg/errors"
)

type mockEnrollmentRepo struct {
	enrollments map[string]models.Enrollment
	active      map[string]bool
}

func activeKey(studentID, classID string) string { return studentID + "|" + classID }

func (m *mockEnrollmentRepo) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	return nil, 0, nil
}

func (m *mockEnrollmentRepo) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	if e, ok := m.enrollments[id]; ok {
		return &e, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockEnrollmentRepo) FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	if e, ok := m.enrollments[id]; ok {
		return &models.EnrollmentDetail{Enrollment: e}, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockEnrollmentRepo) ExistsActive(ctx context.Context, studentID, classID, excludeID string) (bool, error) {
	return m.active[activeKey(studentID, classID)], nil
}

func (m *mockEnrollmentRepo) Create(ctx context.Context, enrollment *models.Enrollment) error {
	if m.enrollments == nil {
		m.enrollments = make(map[string]models.Enrollment)
	}
	if m.active == nil {
		m.active = make(map[string]bool)
	}
	if enrollment.ID == "" {
		enrollment.ID = "enr-1"
	}
	m.enrollments[enrollment.ID] = *enrollment
	m.active[activeKey(enrollment.StudentID, enrollment.ClassID)] = true
	return nil
}

func (m *mockEnrollmentRepo) UpdateClass(ctx context.Context, id, classID string) error {
	e := m.enrollments[id]
	delete(m.active, activeKey(e.StudentID, e.ClassID))
	e.ClassID = classID
	m.enrollments[id] = e
	m.active[activeKey(e.StudentID, classID)] = true
	return nil
}

func (m *mockEnrollmentRepo) UpdateStatus(ctx context.Context, id string, status models.EnrollmentStatus, leftAt *time.Time) error {
	e := m.enrollments[id]
	e.Status = status
	e.LeftAt = leftAt
	m.enrollments[id] = e
	return nil
}

type mockStudentReader struct {
	students map[string]models.StudentDetail
}

func (m *mockStudentReader) FindByID(ctx context.Context, id string) (*models.StudentDetail, error) {
	if s, ok := m.students[id]; ok {
		return &s, nil
	}
	return nil, sql.ErrNoRows
}

type mockClassReader struct {
	classes map[string]models.Class
}

func (m *mockClassReader) FindByID(ctx context.Context, id string) (*models.Class, error) {
	if c, ok := m.classes[id]; ok {
		return &c, nil
	}
	return nil, sql.ErrNoRows
}

func newEnrollmentFixture() (*EnrollmentService, *mockEnrollmentRepo) {
	repo := &mockEnrollmentRepo{active: make(map[string]bool)}
	students := &mockStudentReader{students: map[string]models.StudentDetail{
		"stu-1": {Student: models.Student{ID: "stu-1", FullName: "Alice", Active: true}},
		"stu-2": {Student: models.Student{ID: "stu-2", FullName: "Bob", Active: false}},
	}}
	classes := &mockClassReader{classes: map[string]models.Class{
		"c1": {ID: "c1", Name: "7A"},
		"c2": {ID: "c2", Name: "7B"},
	}}
	return NewEnrollmentService(repo, students, classes, validator.New(), zap.NewNop()), repo
}

func TestEnrollmentServiceEnroll(t *testing.T) {
	svc, repo := newEnrollmentFixture()

	detail, err := svc.Enroll(context.Background(), EnrollStudentRequest{StudentID: "stu-1", ClassID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusActive, detail.Status)
	assert.True(t, repo.active[activeKey("stu-1", "c1")])
}

func TestEnrollmentServiceEnrollInactiveStudent(t *testing.T) {
	svc, _ := newEnrollmentFixture()

	_, err := svc.Enroll(context.Background(), EnrollStudentRequest{StudentID: "stu-2", ClassID: "c1"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErrors.FromError(err).Code)
}

func TestEnrollmentServiceEnrollDuplicate(t *testing.T) {
	svc, repo := newEnrollmentFixture()
	repo.active[activeKey("stu-1", "c1")] = true

	_, err := svc.Enroll(context.Background(), EnrollStudentRequest{StudentID: "stu-1", ClassID: "c1"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestEnrollmentServiceTransfer(t *testing.T) {
	svc, repo := newEnrollmentFixture()
	repo.enrollments = map[string]models.Enrollment{
		"enr-1": {ID: "enr-1", StudentID: "stu-1", ClassID: "c1", Status: models.EnrollmentStatusActive},
	}

	detail, err := svc.Transfer(context.Background(), "enr-1", TransferEnrollmentRequest{TargetClassID: "c2"})
	require.NoError(t, err)
	assert.Equal(t, "c2", detail.ClassID)
}

func TestEnrollmentServiceTransferSameClass(t *testing.T) {
	svc, repo := newEnrollmentFixture()
	repo.enrollments = map[string]models.Enrollment{
		"enr-1": {ID: "enr-1", StudentID: "stu-1", ClassID: "c1", Status: models.EnrollmentStatusActive},
	}

	_, err := svc.Transfer(context.Background(), "enr-1", TransferEnrollmentRequest{TargetClassID: "c1"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErrors.FromError(err).Code)
}

func TestEnrollmentServiceUnenroll(t *testing.T) {
	svc, repo := newEnrollmentFixture()
	repo.enrollments = map[string]models.Enrollment{
		"enr-1": {ID: "enr-1", StudentID: "stu-1", ClassID: "c1", Status: models.EnrollmentStatusActive},
	}

	detail, err := svc.Unenroll(context.Background(), "enr-1")
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusLeft, detail.Status)
	require.NotNil(t, detail.LeftAt)
}
