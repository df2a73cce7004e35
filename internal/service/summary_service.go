package service

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/scholar-track/pulse-api/internal/dto"
	"github.com/scholar-track/pulse-api/internal/models"
	appErrors "github.com/scholar-track/pulse-api/pkg/errors"
)

type summaryAggregator interface {
	Aggregate(ctx context.Context, scope models.SummaryScope) ([]models.StudentAttendanceSummary, error)
}

// SummaryService serves the roster-scoped attendance aggregate. Results
// are cached in Redis under the summary key space and invalidated by the
// attendance service on any applied write or finalize.
type SummaryService struct {
	repo      summaryAggregator
	cache     *CacheService
	cacheTTL  time.Duration
	clock     Clock
	validator *validator.Validate
	logger    *zap.Logger
}

// NewSummaryService constructs the service. The clock anchors the default
// date window; nil falls back to the wall clock.
func NewSummaryService(repo summaryAggregator, cache *CacheService, cacheTTL time.Duration, clock Clock, validate *validator.Validate, logger *zap.Logger) *SummaryService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = time.Now
	}
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	return &SummaryService{repo: repo, cache: cache, cacheTTL: cacheTTL, clock: clock, validator: validate, logger: logger}
}

// Summary computes one aggregated row per distinct student in scope. A
// date window defaults to the last 30 days when the request leaves it
// open-ended.
func (s *SummaryService) Summary(ctx context.Context, req dto.AttendanceSummaryRequest) (*dto.AttendanceSummaryResponse, error) {
	if req.ClassID == "" && req.TeacherID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "summary requires class_id or teacher_id")
	}

	dateTo := s.clock().UTC()
	if req.DateTo != "" {
		parsed, err := time.Parse(dateLayout, req.DateTo)
		if err != nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, "invalid date_to, expected YYYY-MM-DD")
		}
		dateTo = parsed
	}
	dateFrom := dateTo.AddDate(0, 0, -30)
	if req.DateFrom != "" {
		parsed, err := time.Parse(dateLayout, req.DateFrom)
		if err != nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, "invalid date_from, expected YYYY-MM-DD")
		}
		dateFrom = parsed
	}
	if dateFrom.After(dateTo) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "date_from must not be after date_to")
	}

	scope := models.SummaryScope{
		ClassID:   req.ClassID,
		TeacherID: req.TeacherID,
		DateFrom:  dateFrom,
		DateTo:    dateTo,
		Search:    req.Search,
	}

	cacheKey := summaryCacheKey(scope)
	var cached dto.AttendanceSummaryResponse
	if hit, err := s.cache.Get(ctx, cacheKey, &cached); err == nil && hit {
		return &cached, nil
	}

	rows, err := s.repo.Aggregate(ctx, scope)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to aggregate attendance")
	}
	for i := range rows {
		rows[i].Rate = models.AttendanceRate(rows[i].PresentCount, rows[i].LateCount, rows[i].TotalSessions)
		rows[i].Bucket = models.AttendanceBucket(rows[i].Rate, rows[i].TotalSessions)
	}

	resp := &dto.AttendanceSummaryResponse{
		DateFrom: dateFrom.Format(dateLayout),
		DateTo:   dateTo.Format(dateLayout),
		Students: rows,
	}
	if err := s.cache.Set(ctx, cacheKey, resp, s.cacheTTL); err != nil {
		s.logger.Warn("summary cache write failed", zap.String("key", cacheKey), zap.Error(err))
	}
	return resp, nil
}

func summaryCacheKey(scope models.SummaryScope) string {
	return fmt.Sprintf("attendance:summary:%s:%s:%s:%s:%s",
		scope.ClassID, scope.TeacherID,
		scope.DateFrom.Format(dateLayout), scope.DateTo.Format(dateLayout),
		scope.Search)
}
