package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/scholar-track/pulse-api/internal/models"
	appErrors "github.com/scholar-track/pulse-api/pkg/errors"
)

type mockTeacherRepo struct {
	teachers   map[string]models.Teacher
	emails     map[string]string
	staffCodes map[string]string
}

func (m *mockTeacherRepo) List(ctx context.Context, filter models.TeacherFilter) ([]models.Teacher, int, error) {
	out := make([]models.Teacher, 0, len(m.teachers))
	for _, t := range m.teachers {
		out = append(out, t)
	}
	return out, len(out), nil
}

func (m *mockTeacherRepo) FindByID(ctx context.Context, id string) (*models.Teacher, error) {
	if t, ok := m.teachers[id]; ok {
		return &t, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockTeacherRepo) ExistsByEmail(ctx context.Context, email, excludeID string) (bool, error) {
	if id, ok := m.emails[email]; ok {
		if excludeID == "" || id != excludeID {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockTeacherRepo) ExistsByStaffCode(ctx context.Context, staffCode, excludeID string) (bool, error) {
	if id, ok := m.staffCodes[staffCode]; ok {
		if excludeID == "" || id != excludeID {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockTeacherRepo) Create(ctx context.Context, teacher *models.Teacher) error {
	if m.teachers == nil {
		m.teachers = make(map[string]models.Teacher)
	}
	if teacher.ID == "" {
		teacher.ID = "generated"
	}
	m.teachers[teacher.ID] = *teacher
	return nil
}

func (m *mockTeacherRepo) Update(ctx context.Context, teacher *models.Teacher) error {
	m.teachers[teacher.ID] = *teacher
	return nil
}

func (m *mockTeacherRepo) Deactivate(ctx context.Context, id string) error {
	t := m.teachers[id]
	t.Active = false
	m.teachers[id] = t
	return nil
}

func TestTeacherServiceCreate(t *testing.T) {
	repo := &mockTeacherRepo{emails: make(map[string]string), staffCodes: make(map[string]string)}
	svc := NewTeacherService(repo, validator.New(), zap.NewNop())

	code := " T-42 "
	teacher, err := svc.Create(context.Background(), CreateTeacherRequest{
		Email:     "jordan@school.test",
		FullName:  "Jordan Reyes",
		StaffCode: &code,
	})
	require.NoError(t, err)
	assert.True(t, teacher.Active)
	require.NotNil(t, teacher.StaffCode)
	assert.Equal(t, "T-42", *teacher.StaffCode)
}

func TestTeacherServiceCreateDuplicateEmail(t *testing.T) {
	repo := &mockTeacherRepo{emails: map[string]string{"jordan@school.test": "other"}}
	svc := NewTeacherService(repo, validator.New(), zap.NewNop())

	_, err := svc.Create(context.Background(), CreateTeacherRequest{
		Email:    "jordan@school.test",
		FullName: "Jordan Reyes",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestTeacherServiceCreateDuplicateStaffCode(t *testing.T) {
	repo := &mockTeacherRepo{
		emails:     make(map[string]string),
		staffCodes: map[string]string{"T-42": "other"},
	}
	svc := NewTeacherService(repo, validator.New(), zap.NewNop())

	code := "T-42"
	_, err := svc.Create(context.Background(), CreateTeacherRequest{
		Email:     "jordan@school.test",
		FullName:  "Jordan Reyes",
		StaffCode: &code,
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestTeacherServiceUpdateTogglesActive(t *testing.T) {
	repo := &mockTeacherRepo{
		teachers: map[string]models.Teacher{
			"t1": {ID: "t1", Email: "jordan@school.test", FullName: "Jordan Reyes", Active: true},
		},
		emails: map[string]string{"jordan@school.test": "t1"},
	}
	svc := NewTeacherService(repo, validator.New(), zap.NewNop())

	inactive := false
	teacher, err := svc.Update(context.Background(), "t1", UpdateTeacherRequest{
		Email:    "jordan@school.test",
		FullName: "Jordan Reyes",
		Active:   &inactive,
	})
	require.NoError(t, err)
	assert.False(t, teacher.Active)
}

func TestTeacherServiceDeactivateNotFound(t *testing.T) {
	svc := NewTeacherService(&mockTeacherRepo{}, validator.New(), zap.NewNop())

	err := svc.Deactivate(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}
