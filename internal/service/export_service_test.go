package service

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/scholar-track/pulse-api/internal/models"
	appErrors "github.com/scholar-track/pulse-api/pkg/errors"
	"github.com/scholar-track/pulse-api/pkg/storage"
)

type stubExportStorage struct {
	files map[string][]byte
}

func (m *stubExportStorage) Save(filename string, data []byte) (string, error) {
	if m.files == nil {
		m.files = make(map[string][]byte)
	}
	m.files[filename] = data
	return filename, nil
}

func (m *stubExportStorage) Open(filename string) (*os.File, error) {
	return nil, os.ErrNotExist
}

func (m *stubExportStorage) Delete(filename string) error {
	delete(m.files, filename)
	return nil
}

func (m *stubExportStorage) CleanupOlderThan(ttl time.Duration) ([]string, error) {
	return nil, nil
}

func newExportFixture(rows []models.StudentAttendanceSummary) (*ExportService, *stubExportStorage) {
	store := &stubExportStorage{}
	signer := storage.NewSignedURLSigner("test-secret", time.Hour)
	svc := NewExportService(&stubSummaryRepo{rows: rows}, store, signer, ExportConfig{
		APIPrefix: "/api/v1",
		Workers:   1,
	}, zap.NewNop(), nil, nil)
	return svc, store
}

func TestExportEnqueueRequiresScope(t *testing.T) {
	svc, _ := newExportFixture(nil)

	_, err := svc.Enqueue(ExportRequest{Format: ExportFormatCSV})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestExportEnqueueRejectsUnknownFormat(t *testing.T) {
	svc, _ := newExportFixture(nil)

	_, err := svc.Enqueue(ExportRequest{ClassID: "class-1", Format: "xlsx"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestExportProcessRendersCSV(t *testing.T) {
	className := "7A"
	svc, store := newExportFixture([]models.StudentAttendanceSummary{
		{StudentID: "stu-1", StudentName: "Alice", StudentNumber: "S-001", ClassName: &className, PresentCount: 9, TotalSessions: 10},
	})
	svc.Start(context.Background())
	defer svc.Stop()

	job, err := svc.Enqueue(ExportRequest{
		ClassID:  "class-1",
		DateFrom: "2026-03-01",
		DateTo:   "2026-03-31",
		Format:   ExportFormatCSV,
	})
	require.NoError(t, err)
	assert.Equal(t, ExportJobPending, job.Status)

	require.Eventually(t, func() bool {
		current, err := svc.Job(job.ID)
		return err == nil && current.Status == ExportJobCompleted
	}, 2*time.Second, 10*time.Millisecond)

	current, err := svc.Job(job.ID)
	require.NoError(t, err)
	assert.Contains(t, current.DownloadURL, "/api/v1/exports/download/")
	require.NotNil(t, current.ExpiresAt)

	require.Len(t, store.files, 1)
	for name, data := range store.files {
		assert.True(t, strings.HasSuffix(name, ".csv"))
		content := string(data)
		assert.Contains(t, content, "Student Number")
		assert.Contains(t, content, "Alice")
		// Rate is computed from present+late over sessions.
		assert.Contains(t, content, "90.00")
	}
}

func TestExportProcessMarksFailureOnAggregateError(t *testing.T) {
	store := &stubExportStorage{}
	signer := storage.NewSignedURLSigner("test-secret", time.Hour)
	repo := &stubSummaryRepo{err: assert.AnError}
	svc := NewExportService(repo, store, signer, ExportConfig{Workers: 1}, zap.NewNop(), nil, nil)
	svc.Start(context.Background())
	defer svc.Stop()

	job, err := svc.Enqueue(ExportRequest{ClassID: "class-1", Format: ExportFormatPDF})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		current, err := svc.Job(job.ID)
		return err == nil && current.Status == ExportJobFailed
	}, 2*time.Second, 10*time.Millisecond)

	current, err := svc.Job(job.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, current.Error)
}

func TestExportJobUnknownID(t *testing.T) {
	svc, _ := newExportFixture(nil)

	_, err := svc.Job("missing")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestBuildAttendanceDataset(t *testing.T) {
	className := "7A"
	dataset := buildAttendanceDataset([]models.StudentAttendanceSummary{
		{StudentNumber: "S-001", StudentName: "Alice", ClassName: &className, PresentCount: 5, LateCount: 1, AbsentCount: 2, TotalSessions: 8, Rate: 75, Bucket: models.AttendanceBucketGood},
	})
	require.Len(t, dataset.Rows, 1)
	assert.Equal(t, "Alice", dataset.Rows[0]["Student Name"])
	assert.Equal(t, "75.00", dataset.Rows[0]["Rate (%)"])
	assert.Equal(t, models.AttendanceBucketGood, dataset.Rows[0]["Status"])
	assert.Equal(t, "7A", dataset.Rows[0]["Class"])
}
