package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/scholar-track/pulse-api/internal/dto"
	"github.com/scholar-track/pulse-api/internal/service"
	"github.com/scholar-track/pulse-api/pkg/response"
)

// SummaryHandler serves the roster-scoped attendance aggregate.
type SummaryHandler struct {
	summaries *service.SummaryService
}

// NewSummaryHandler constructs SummaryHandler.
func NewSummaryHandler(summaries *service.SummaryService) *SummaryHandler {
	return &SummaryHandler{summaries: summaries}
}

// Summary godoc
// @Summary Per-student attendance aggregate for a class or teacher scope
// @Tags Attendance
// @Produce json
// @Param classId query string false "Class scope"
// @Param teacherId query string false "Teacher scope (homeroom classes)"
// @Param dateFrom query string false "Window start (YYYY-MM-DD)"
// @Param dateTo query string false "Window end (YYYY-MM-DD)"
// @Param search query string false "Search by name or student number"
// @Success 200 {object} response.Envelope
// @Router /attendance/summary [get]
func (h *SummaryHandler) Summary(c *gin.Context) {
	start := time.Now()
	req := dto.AttendanceSummaryRequest{
		ClassID:   c.Query("classId"),
		TeacherID: c.Query("teacherId"),
		DateFrom:  c.Query("dateFrom"),
		DateTo:    c.Query("dateTo"),
		Search:    strings.TrimSpace(c.Query("search")),
	}
	summary, err := h.summaries.Summary(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	meta := map[string]interface{}{
		"processing_time_ms": time.Since(start).Milliseconds(),
	}
	response.JSON(c, http.StatusOK, summary, nil, meta)
}
