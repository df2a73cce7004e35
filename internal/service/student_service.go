package service

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/scholar-track/pulse-api/internal/models"
	appErrors "github.com/scholar-track/pulse-api/pkg/errors"
)

type studentRepository interface {
	List(ctx context.Context, filter models.StudentFilter) ([]models.StudentDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.StudentDetail, error)
	ExistsByNumber(ctx context.Context, studentNumber string, excludeID string) (bool, error)
	Create(ctx context.Context, student *models.Student) error
	Update(ctx context.Context, student *models.Student) error
	Deactivate(ctx context.Context, id string) error
}

// CreateStudentRequest holds payload for creating students.
type CreateStudentRequest struct {
	StudentNumber string    `json:"student_number" validate:"required"`
	FullName      string    `json:"full_name" validate:"required"`
	Gender        string    `json:"gender" validate:"required"`
	BirthDate     time.Time `json:"birth_date" validate:"required"`
	Address       string    `json:"address"`
	Phone         string    `json:"phone"`
}

// UpdateStudentRequest holds payload for updating students.
type UpdateStudentRequest struct {
	StudentNumber string    `json:"student_number" validate:"required"`
	FullName      string    `json:"full_name" validate:"required"`
	Gender        string    `json:"gender" validate:"required"`
	BirthDate     time.Time `json:"birth_date" validate:"required"`
	Address       string    `json:"address"`
	Phone         string    `json:"phone"`
	Active        bool      `json:"active"`
}

// StudentService handles student use-cases.
type StudentService struct {
	repo      studentRepository
	validator *validator.Validate
	logger    *zap.Logger
}

// NewStudentService constructs the student service.
func NewStudentService(repo studentRepository, validate *validator.Validate, logger *zap.Logger) *StudentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StudentService{repo: repo, validator: validate, logger: logger}
}

// List returns students and pagination metadata.
func (s *StudentService) List(ctx context.Context, filter models.StudentFilter) ([]models.StudentDetail, *models.Pagination, error) {
	students, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, internalErr(err, "failed to list students")
	}
	return students, pageWindow(filter.Page, filter.PageSize, total), nil
}

// Get returns detailed student information.
func (s *StudentService) Get(ctx context.Context, id string) (*models.StudentDetail, error) {
	student, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, loadErr(err, "student not found", "failed to load student")
	}
	return student, nil
}

// ensureNumberFree rejects duplicate student numbers, ignoring excludeID.
func (s *StudentService) ensureNumberFree(ctx context.Context, number, excludeID string) error {
	taken, err := s.repo.ExistsByNumber(ctx, number, excludeID)
	if err != nil {
		return internalErr(err, "failed to validate student number")
	}
	if taken {
		return appErrors.Clone(appErrors.ErrConflict, "student number already used")
	}
	return nil
}

// Create registers a new student. New students always start active.
func (s *StudentService) Create(ctx context.Context, req CreateStudentRequest) (*models.Student, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, invalidPayload(err)
	}
	if err := s.ensureNumberFree(ctx, req.StudentNumber, ""); err != nil {
		return nil, err
	}
	student := &models.Student{
		StudentNumber: req.StudentNumber,
		FullName:      req.FullName,
		Gender:        req.Gender,
		BirthDate:     req.BirthDate,
		Address:       req.Address,
		Phone:         req.Phone,
		Active:        true,
	}
	if err := s.repo.Create(ctx, student); err != nil {
		return nil, internalErr(err, "failed to create student")
	}
	s.logger.Info("student created", zap.String("student_id", student.ID))
	return student, nil
}

// Update modifies an existing student record.
func (s *StudentService) Update(ctx context.Context, id string, req UpdateStudentRequest) (*models.Student, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, invalidPayload(err)
	}
	detail, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, loadErr(err, "student not found", "failed to load student")
	}
	if err := s.ensureNumberFree(ctx, req.StudentNumber, id); err != nil {
		return nil, err
	}

	student := detail.Student
	student.StudentNumber = req.StudentNumber
	student.FullName = req.FullName
	student.Gender = req.Gender
	student.BirthDate = req.BirthDate
	student.Address = req.Address
	student.Phone = req.Phone
	student.Active = req.Active
	if err := s.repo.Update(ctx, &student); err != nil {
		return nil, internalErr(err, "failed to update student")
	}
	return &student, nil
}

// Deactivate marks student inactive. Enrollment and attendance history
// stays in place.
func (s *StudentService) Deactivate(ctx context.Context, id string) error {
	if _, err := s.repo.FindByID(ctx, id); err != nil {
		return loadErr(err, "student not found", "failed to load student")
	}
	if err := s.repo.Deactivate(ctx, id); err != nil {
		return internalErr(err, "failed to deactivate student")
	}
	s.logger.Info("student deactivated", zap.String("student_id", id))
	return nil
}
