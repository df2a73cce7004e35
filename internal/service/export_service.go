package service

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/scholar-track/pulse-api/internal/models"
	appErrors "github.com/scholar-track/pulse-api/pkg/errors"
	"github.com/scholar-track/pulse-api/pkg/export"
	"github.com/scholar-track/pulse-api/pkg/jobs"
	"github.com/scholar-track/pulse-api/pkg/storage"
)

// ExportFormat enumerates supported export renderings.
type ExportFormat string

const (
	ExportFormatCSV ExportFormat = "csv"
	ExportFormatPDF ExportFormat = "pdf"
)

// ExportJobStatus tracks asynchronous export progress.
type ExportJobStatus string

const (
	ExportJobPending   ExportJobStatus = "pending"
	ExportJobRunning   ExportJobStatus = "running"
	ExportJobCompleted ExportJobStatus = "completed"
	ExportJobFailed    ExportJobStatus = "failed"
)

// ExportRequest scopes an attendance export.
type ExportRequest struct {
	ClassID   string       `json:"class_id"`
	TeacherID string       `json:"teacher_id"`
	DateFrom  string       `json:"date_from"`
	DateTo    string       `json:"date_to"`
	Format    ExportFormat `json:"format" validate:"required"`
}

// ExportJob is the tracked state of one export request. Jobs live in
// memory for the lifetime of the process; the rendered files themselves
// are persisted and cleaned up on a TTL.
type ExportJob struct {
	ID          string          `json:"id"`
	Status      ExportJobStatus `json:"status"`
	Format      ExportFormat    `json:"format"`
	Scope       models.SummaryScope
	FilePath    string     `json:"-"`
	DownloadURL string     `json:"download_url,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

type fileStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
	Delete(filename string) error
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

// ExportConfig tunes export behaviour.
type ExportConfig struct {
	APIPrefix  string
	ResultTTL  time.Duration
	Workers    int
	MaxRetries int
}

// ExportService renders attendance summary exports in the background and
// hands out signed download links.
type ExportService struct {
	summaries summaryAggregator
	storage   fileStorage
	csv       csvRenderer
	pdf       pdfRenderer
	signer    *storage.SignedURLSigner
	queue     *jobs.Queue
	logger    *zap.Logger
	cfg       ExportConfig

	mu       sync.RWMutex
	registry map[string]*ExportJob
}

// NewExportService constructs an ExportService. Call Start before
// enqueuing work and Stop on shutdown.
func NewExportService(summaries summaryAggregator, store fileStorage, signer *storage.SignedURLSigner, cfg ExportConfig, logger *zap.Logger, csv csvRenderer, pdf pdfRenderer) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	svc := &ExportService{
		summaries: summaries,
		storage:   store,
		csv:       csv,
		pdf:       pdf,
		signer:    signer,
		logger:    logger,
		cfg:       cfg,
		registry:  make(map[string]*ExportJob),
	}
	svc.queue = jobs.NewQueue("attendance-exports", svc.process, jobs.QueueConfig{
		Workers:    cfg.Workers,
		MaxRetries: cfg.MaxRetries,
		Logger:     logger,
	})
	return svc
}

// Start launches the export workers.
func (s *ExportService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains the export workers.
func (s *ExportService) Stop() {
	s.queue.Stop()
}

// Enqueue registers a new export job and schedules it for rendering.
func (s *ExportService) Enqueue(req ExportRequest) (*ExportJob, error) {
	if req.ClassID == "" && req.TeacherID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "export requires class_id or teacher_id")
	}
	if req.Format != ExportFormatCSV && req.Format != ExportFormatPDF {
		return nil, appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf")
	}

	dateTo := time.Now().UTC()
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

	job := &ExportJob{
		ID:     uuid.NewString(),
		Status: ExportJobPending,
		Format: req.Format,
		Scope: models.SummaryScope{
			ClassID:   req.ClassID,
			TeacherID: req.TeacherID,
			DateFrom:  dateFrom,
			DateTo:    dateTo,
		},
		CreatedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	s.registry[job.ID] = job
	s.mu.Unlock()

	if err := s.queue.Enqueue(jobs.Job{ID: job.ID, Type: "attendance_export", Payload: job.ID}); err != nil {
		s.setFailed(job.ID, err)
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to schedule export")
	}
	return s.snapshot(job.ID), nil
}

// Job returns the current state of an export job.
func (s *ExportService) Job(id string) (*ExportJob, error) {
	snap := s.snapshot(id)
	if snap == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "export job not found")
	}
	return snap, nil
}

func (s *ExportService) snapshot(id string) *ExportJob {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.registry[id]
	if !ok {
		return nil
	}
	copied := *job
	return &copied
}

func (s *ExportService) setFailed(id string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.registry[id]; ok {
		job.Status = ExportJobFailed
		job.Error = err.Error()
	}
}

func (s *ExportService) process(ctx context.Context, job jobs.Job) error {
	id, _ := job.Payload.(string)
	s.mu.Lock()
	tracked, ok := s.registry[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("unknown export job %s", id)
	}
	tracked.Status = ExportJobRunning
	scope := tracked.Scope
	format := tracked.Format
	s.mu.Unlock()

	rows, err := s.summaries.Aggregate(ctx, scope)
	if err != nil {
		s.setFailed(id, err)
		return err
	}
	for i := range rows {
		rows[i].Rate = models.AttendanceRate(rows[i].PresentCount, rows[i].LateCount, rows[i].TotalSessions)
		rows[i].Bucket = models.AttendanceBucket(rows[i].Rate, rows[i].TotalSessions)
	}

	dataset := buildAttendanceDataset(rows)
	title := fmt.Sprintf("Attendance Summary %s to %s", scope.DateFrom.Format(dateLayout), scope.DateTo.Format(dateLayout))

	var payload []byte
	switch format {
	case ExportFormatCSV:
		payload, err = s.csv.Render(dataset)
	case ExportFormatPDF:
		payload, err = s.pdf.Render(dataset, title)
	default:
		err = fmt.Errorf("unsupported format %s", format)
	}
	if err != nil {
		s.setFailed(id, err)
		return err
	}

	filename := fmt.Sprintf("attendance_%s_%s.%s", sanitizeFilename(scopeLabel(scope)), time.Now().UTC().Format("20060102_150405"), format)
	relPath, err := s.storage.Save(filename, payload)
	if err != nil {
		s.setFailed(id, err)
		return err
	}

	token, expiresAt, err := s.signer.Generate(id, relPath)
	if err != nil {
		s.setFailed(id, err)
		return err
	}

	prefix := strings.TrimRight(s.cfg.APIPrefix, "/")
	if prefix == "" {
		prefix = "/api/v1"
	}
	url := fmt.Sprintf("%s/exports/download/%s", prefix, token)
	completed := time.Now().UTC()

	s.mu.Lock()
	if job, ok := s.registry[id]; ok {
		job.Status = ExportJobCompleted
		job.FilePath = relPath
		job.DownloadURL = url
		job.ExpiresAt = &expiresAt
		job.CompletedAt = &completed
	}
	s.mu.Unlock()

	s.logger.Info("attendance export completed",
		zap.String("job_id", id),
		zap.String("file", relPath),
		zap.String("format", string(format)))
	return nil
}

// ParseToken validates download token metadata.
func (s *ExportService) ParseToken(token string, allowExpired bool) (jobID, relPath string, expiresAt time.Time, err error) {
	return s.signer.Parse(token, allowExpired)
}

// Open returns a handle to the stored file.
func (s *ExportService) Open(relPath string) (*os.File, error) {
	return s.storage.Open(relPath)
}

// Delete removes a stored export file.
func (s *ExportService) Delete(relPath string) error {
	return s.storage.Delete(relPath)
}

// Cleanup removes files older than ttl (defaults to configured ResultTTL when ttl <= 0).
func (s *ExportService) Cleanup(ttl time.Duration) ([]string, error) {
	if ttl <= 0 {
		ttl = s.cfg.ResultTTL
	}
	return s.storage.CleanupOlderThan(ttl)
}

func buildAttendanceDataset(rows []models.StudentAttendanceSummary) export.Dataset {
	headers := []string{"Student Number", "Student Name", "Class", "Present", "Late", "Absent", "Excused", "Sessions", "Rate (%)", "Status"}
	dataRows := make([]map[string]string, 0, len(rows))
	for _, row := range rows {
		className := ""
		if row.ClassName != nil {
			className = *row.ClassName
		}
		dataRows = append(dataRows, map[string]string{
			"Student Number": row.StudentNumber,
			"Student Name":   row.StudentName,
			"Class":          className,
			"Present":        fmt.Sprintf("%d", row.PresentCount),
			"Late":           fmt.Sprintf("%d", row.LateCount),
			"Absent":         fmt.Sprintf("%d", row.AbsentCount),
			"Excused":        fmt.Sprintf("%d", row.ExcusedCount),
			"Sessions":       fmt.Sprintf("%d", row.TotalSessions),
			"Rate (%)":       fmt.Sprintf("%.2f", row.Rate),
			"Status":         row.Bucket,
		})
	}
	return export.Dataset{Headers: headers, Rows: dataRows}
}

func scopeLabel(scope models.SummaryScope) string {
	if scope.ClassID != "" {
		return scope.ClassID
	}
	return scope.TeacherID
}

func sanitizeFilename(raw string) string {
	if raw == "" {
		return "na"
	}
	replacer := strings.NewReplacer(" ", "_", "/", "-", "\\", "-", ":", "-", "..", ".", "__", "_")
	result := replacer.Replace(raw)
	if len(result) > 100 {
		return result[:100]
	}
	return result
}
