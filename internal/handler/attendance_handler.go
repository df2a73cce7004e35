package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/scholar-track/pulse-api/internal/dto"
	"github.com/scholar-track/pulse-api/internal/service"
	appErrors "github.com/scholar-track/pulse-api/pkg/errors"
	"github.com/scholar-track/pulse-api/pkg/response"
)

// AttendanceHandler exposes the capture workflow endpoints.
type AttendanceHandler struct {
	attendance *service.AttendanceService
}

// NewAttendanceHandler constructs AttendanceHandler.
func NewAttendanceHandler(attendance *service.AttendanceService) *AttendanceHandler {
	return &AttendanceHandler{attendance: attendance}
}

// Submit godoc
// @Summary Submit an attendance batch for a class and date
// @Tags Attendance
// @Accept json
// @Produce json
// @Param payload body dto.SubmitBatchRequest true "Capture events"
// @Success 200 {object} response.Envelope
// @Router /attendance/submit [post]
func (h *AttendanceHandler) Submit(c *gin.Context) {
	var req dto.SubmitBatchRequest
	if !bindJSON(c, &req, "invalid payload") {
		return
	}
	actorID := ""
	if claims := claimsFromContext(c); claims != nil {
		actorID = claims.UserID
	}
	result, err := h.attendance.SubmitBatch(c.Request.Context(), req, actorID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Finalize godoc
// @Summary Finalize an attendance session
// @Tags Attendance
// @Accept json
// @Produce json
// @Param payload body dto.FinalizeSessionRequest true "Session scope"
// @Success 200 {object} response.Envelope
// @Router /attendance/finalize [post]
func (h *AttendanceHandler) Finalize(c *gin.Context) {
	var req dto.FinalizeSessionRequest
	if !bindJSON(c, &req, "invalid payload") {
		return
	}
	actorID := ""
	if claims := claimsFromContext(c); claims != nil {
		actorID = claims.UserID
	}
	session, err := h.attendance.Finalize(c.Request.Context(), req, actorID, c.ClientIP(), c.Request.UserAgent())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, session, nil)
}

// SessionStatus godoc
// @Summary Session lifecycle state for a class and date
// @Tags Attendance
// @Produce json
// @Param classId query string true "Class ID"
// @Param date query string true "Date (YYYY-MM-DD)"
// @Success 200 {object} response.Envelope
// @Router /attendance/session [get]
func (h *AttendanceHandler) SessionStatus(c *gin.Context) {
	status, err := h.attendance.SessionStatus(c.Request.Context(), c.Query("classId"), c.Query("date"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, status, nil)
}

// List godoc
// @Summary List attendance records
// @Tags Attendance
// @Produce json
// @Param classId query string false "Filter by class"
// @Param studentId query string false "Filter by student"
// @Param status query string false "Filter by status"
// @Param dateFrom query string false "Window start (YYYY-MM-DD)"
// @Param dateTo query string false "Window end (YYYY-MM-DD)"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /attendance [get]
func (h *AttendanceHandler) List(c *gin.Context) {
	req := service.AttendanceListRequest{
		ClassID:   c.Query("classId"),
		StudentID: c.Query("studentId"),
		Page:      parseQueryInt(c, "page", 1),
		PageSize:  parseQueryInt(c, "limit", 50),
		SortBy:    c.Query("sort"),
		SortOrder: c.Query("order"),
	}
	if status := c.Query("status"); status != "" {
		req.Status = &status
	}
	from, err := parseDateParam(c.Query("dateFrom"))
	if err != nil {
		response.Error(c, err)
		return
	}
	to, err := parseDateParam(c.Query("dateTo"))
	if err != nil {
		response.Error(c, err)
		return
	}
	req.DateFrom = from
	req.DateTo = to

	records, pagination, err := h.attendance.ListRecords(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, records, pagination)
}

// ClassDay godoc
// @Summary Stored records plus session state for one class day
// @Tags Attendance
// @Produce json
// @Param classId path string true "Class ID"
// @Param date query string true "Date (YYYY-MM-DD)"
// @Success 200 {object} response.Envelope
// @Router /attendance/class/{classId} [get]
func (h *AttendanceHandler) ClassDay(c *gin.Context) {
	records, session, err := h.attendance.ClassDay(c.Request.Context(), c.Param("classId"), c.Query("date"))
	if err != nil {
		response.Error(c, err)
		return
	}
	meta := map[string]interface{}{"session": session}
	response.JSON(c, http.StatusOK, records, nil, meta)
}

func parseDateParam(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	parsed, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid date, expected YYYY-MM-DD")
	}
	return &parsed, nil
}

func parseQueryInt(c *gin.Context, key string, def int) int {
	raw := c.Query(key)
	if raw == "" {
		return def
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return val
}
