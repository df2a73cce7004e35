package service

import (
	"context"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/scholar-track/pulse-api/internal/models"
	appErrors "github.com/scholar-track/pulse-api/pkg/errors"
)

type classRepository interface {
	List(ctx context.Context, filter models.ClassFilter) ([]models.Class, int, error)
	FindByID(ctx context.Context, id string) (*models.Class, error)
	FindDetailByID(ctx context.Context, id string) (*models.ClassDetail, error)
	ExistsByName(ctx context.Context, name string, excludeID string) (bool, error)
	Create(ctx context.Context, class *models.Class) error
	Update(ctx context.Context, class *models.Class) error
	Delete(ctx context.Context, id string) error
	CountEnrollments(ctx context.Context, classID string) (int, error)
}

// CreateClassRequest captures creation payload.
type CreateClassRequest struct {
	Name              string  `json:"name" validate:"required"`
	Section           string  `json:"section" validate:"required"`
	HomeroomTeacherID *string `json:"homeroom_teacher_id"`
}

// UpdateClassRequest modifies class fields.
type UpdateClassRequest struct {
	Name              string  `json:"name" validate:"required"`
	Section           string  `json:"section" validate:"required"`
	HomeroomTeacherID *string `json:"homeroom_teacher_id"`
}

// ClassService coordinates class operations.
type ClassService struct {
	repo      classRepository
	validator *validator.Validate
	logger    *zap.Logger
}

// NewClassService constructs ClassService.
func NewClassService(repo classRepository, validate *validator.Validate, logger *zap.Logger) *ClassService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ClassService{repo: repo, validator: validate, logger: logger}
}

// List returns classes with pagination metadata.
func (s *ClassService) List(ctx context.Context, filter models.ClassFilter) ([]models.Class, *models.Pagination, error) {
	classes, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, internalErr(err, "failed to list classes")
	}
	return classes, pageWindow(filter.Page, filter.PageSize, total), nil
}

// Get returns detailed class information.
func (s *ClassService) Get(ctx context.Context, id string) (*models.ClassDetail, error) {
	detail, err := s.repo.FindDetailByID(ctx, id)
	if err != nil {
		return nil, loadErr(err, "class not found", "failed to load class")
	}
	return detail, nil
}

// ensureNameFree keeps class names unique, ignoring excludeID.
func (s *ClassService) ensureNameFree(ctx context.Context, name, excludeID string) error {
	taken, err := s.repo.ExistsByName(ctx, name, excludeID)
	if err != nil {
		return internalErr(err, "failed to check class name")
	}
	if taken {
		return appErrors.Clone(appErrors.ErrConflict, "class name already exists")
	}
	return nil
}

// Create adds a new class.
func (s *ClassService) Create(ctx context.Context, req CreateClassRequest) (*models.Class, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, invalidPayload(err)
	}
	if err := s.ensureNameFree(ctx, req.Name, ""); err != nil {
		return nil, err
	}

	class := &models.Class{
		Name:              req.Name,
		Section:           req.Section,
		HomeroomTeacherID: req.HomeroomTeacherID,
	}
	if err := s.repo.Create(ctx, class); err != nil {
		return nil, internalErr(err, "failed to create class")
	}
	s.logger.Info("class created", zap.String("class_id", class.ID), zap.String("name", class.Name))
	return class, nil
}

// Update modifies a class record.
func (s *ClassService) Update(ctx context.Context, id string, req UpdateClassRequest) (*models.Class, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, invalidPayload(err)
	}
	class, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, loadErr(err, "class not found", "failed to load class")
	}
	if err := s.ensureNameFree(ctx, req.Name, id); err != nil {
		return nil, err
	}

	class.Name = req.Name
	class.Section = req.Section
	class.HomeroomTeacherID = req.HomeroomTeacherID
	if err := s.repo.Update(ctx, class); err != nil {
		return nil, internalErr(err, "failed to update class")
	}
	return class, nil
}

// Delete removes a class. Classes with active enrollments cannot be
// removed; students must be transferred or unenrolled first.
func (s *ClassService) Delete(ctx context.Context, id string) error {
	if _, err := s.repo.FindByID(ctx, id); err != nil {
		return loadErr(err, "class not found", "failed to load class")
	}

	count, err := s.repo.CountEnrollments(ctx, id)
	if err != nil {
		return internalErr(err, "failed to check class enrollments")
	}
	if count > 0 {
		return appErrors.Clone(appErrors.ErrPreconditionFailed, "class has active enrollments")
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return internalErr(err, "failed to delete class")
	}
	s.logger.Info("class deleted", zap.String("class_id", id))
	return nil
}
