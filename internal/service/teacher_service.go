package service

import (
	"context"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/scholar-track/pulse-api/internal/models"
	appErrors "github.com/scholar-track/pulse-api/pkg/errors"
)

type teacherRepository interface {
	List(ctx context.Context, filter models.TeacherFilter) ([]models.Teacher, int, error)
	FindByID(ctx context.Context, id string) (*models.Teacher, error)
	ExistsByEmail(ctx context.Context, email, excludeID string) (bool, error)
	ExistsByStaffCode(ctx context.Context, staffCode, excludeID string) (bool, error)
	Create(ctx context.Context, teacher *models.Teacher) error
	Update(ctx context.Context, teacher *models.Teacher) error
	Deactivate(ctx context.Context, id string) error
}

// CreateTeacherRequest represents payload for creating teachers.
type CreateTeacherRequest struct {
	Email      string  `json:"email" validate:"required,email"`
	FullName   string  `json:"full_name" validate:"required"`
	StaffCode  *string `json:"staff_code" validate:"omitempty,max=50"`
	Phone      *string `json:"phone" validate:"omitempty,max=50"`
	Department *string `json:"department" validate:"omitempty,max=500"`
}

// UpdateTeacherRequest represents payload for updating teachers.
type UpdateTeacherRequest struct {
	Email      string  `json:"email" validate:"required,email"`
	FullName   string  `json:"full_name" validate:"required"`
	StaffCode  *string `json:"staff_code" validate:"omitempty,max=50"`
	Phone      *string `json:"phone" validate:"omitempty,max=50"`
	Department *string `json:"department" validate:"omitempty,max=500"`
	Active     *bool   `json:"active"`
}

// TeacherService orchestrates teacher operations.
type TeacherService struct {
	repo      teacherRepository
	validator *validator.Validate
	logger    *zap.Logger
}

// NewTeacherService constructs a TeacherService.
func NewTeacherService(repo teacherRepository, validate *validator.Validate, logger *zap.Logger) *TeacherService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TeacherService{repo: repo, validator: validate, logger: logger}
}

// List returns teachers plus pagination data.
func (s *TeacherService) List(ctx context.Context, filter models.TeacherFilter) ([]models.Teacher, *models.Pagination, error) {
	teachers, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, internalErr(err, "failed to list teachers")
	}
	return teachers, pageWindow(filter.Page, filter.PageSize, total), nil
}

// Get returns a teacher by id.
func (s *TeacherService) Get(ctx context.Context, id string) (*models.Teacher, error) {
	teacher, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, loadErr(err, "teacher not found", "failed to load teacher")
	}
	return teacher, nil
}

// ensureUniqueFields guards the email and staff code uniqueness rules
// shared by Create and Update. A blank staff code is not reserved.
func (s *TeacherService) ensureUniqueFields(ctx context.Context, email string, staffCode *string, excludeID string) error {
	taken, err := s.repo.ExistsByEmail(ctx, email, excludeID)
	if err != nil {
		return internalErr(err, "failed to check email uniqueness")
	}
	if taken {
		return appErrors.Clone(appErrors.ErrConflict, "email already used")
	}

	code := normalizeOptional(staffCode)
	if code == nil {
		return nil
	}
	taken, err = s.repo.ExistsByStaffCode(ctx, *code, excludeID)
	if err != nil {
		return internalErr(err, "failed to check staff code uniqueness")
	}
	if taken {
		return appErrors.Clone(appErrors.ErrConflict, "staff code already used")
	}
	return nil
}

// Create registers a new teacher record.
func (s *TeacherService) Create(ctx context.Context, req CreateTeacherRequest) (*models.Teacher, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, invalidPayload(err)
	}
	if err := s.ensureUniqueFields(ctx, req.Email, req.StaffCode, ""); err != nil {
		return nil, err
	}

	teacher := &models.Teacher{
		Email:      strings.TrimSpace(req.Email),
		FullName:   strings.TrimSpace(req.FullName),
		StaffCode:  normalizeOptional(req.StaffCode),
		Phone:      normalizeOptional(req.Phone),
		Department: normalizeOptional(req.Department),
		Active:     true,
	}
	if err := s.repo.Create(ctx, teacher); err != nil {
		return nil, internalErr(err, "failed to create teacher")
	}
	s.logger.Info("teacher created", zap.String("teacher_id", teacher.ID))
	return teacher, nil
}

// Update modifies an existing teacher.
func (s *TeacherService) Update(ctx context.Context, id string, req UpdateTeacherRequest) (*models.Teacher, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, invalidPayload(err)
	}
	teacher, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, loadErr(err, "teacher not found", "failed to load teacher")
	}
	if err := s.ensureUniqueFields(ctx, req.Email, req.StaffCode, id); err != nil {
		return nil, err
	}

	teacher.Email = strings.TrimSpace(req.Email)
	teacher.FullName = strings.TrimSpace(req.FullName)
	teacher.StaffCode = normalizeOptional(req.StaffCode)
	teacher.Phone = normalizeOptional(req.Phone)
	teacher.Department = normalizeOptional(req.Department)
	if req.Active != nil {
		teacher.Active = *req.Active
	}
	if err := s.repo.Update(ctx, teacher); err != nil {
		return nil, internalErr(err, "failed to update teacher")
	}
	return teacher, nil
}

// Deactivate marks a teacher inactive.
func (s *TeacherService) Deactivate(ctx context.Context, id string) error {
	if _, err := s.repo.FindByID(ctx, id); err != nil {
		return loadErr(err, "teacher not found", "failed to load teacher")
	}
	if err := s.repo.Deactivate(ctx, id); err != nil {
		return internalErr(err, "failed to deactivate teacher")
	}
	s.logger.Info("teacher deactivated", zap.String("teacher_id", id))
	return nil
}

// normalizeOptional trims an optional string and collapses blanks to nil.
func normalizeOptional(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
