package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"aidesk/internal/chat"
	apperrors "aidesk/internal/errors"
	"aidesk/internal/erp"
	"aidesk/internal/logging"
	"aidesk/internal/protocol"
	"aidesk/internal/server/app"
	"aidesk/internal/server/ports"

	"github.com/gin-gonic/gin"
)

const defaultMaxRunBodySize = 1 << 20 // 1 MiB

// TaskCoordinator is the task API the handlers drive.
type TaskCoordinator interface {
	Run(ctx context.Context, req protocol.StartRequest) (*ports.Task, error)
	Status(ctx context.Context, taskID string) (*ports.Task, error)
	Cancel(ctx context.Context, taskID string) (protocol.CancelResponse, error)
}

// ReportService produces reports synchronously and exposes the project
// context they are built from.
type ReportService interface {
	Generate(ctx context.Context, req protocol.StartRequest) (*protocol.ReportResult, error)
	ProjectContext(ctx context.Context, projectID string) (*erp.ProjectContext, error)
}

// HealthChecker reports component health.
type HealthChecker interface {
	CheckAll(ctx context.Context) []ports.ComponentHealth
}

// APIHandler handles the orchestration REST endpoints
type APIHandler struct {
	coordinator    TaskCoordinator
	health         HealthChecker
	reports        ReportService
	answerer       chat.Answerer
	logger         logging.Logger
	maxRunBodySize int64
	startedAt      time.Time
}

// APIHandlerOption customizes an APIHandler
type APIHandlerOption func(*APIHandler)

// WithMaxRunBodySize caps the size of POST /orchestrate/run bodies
func WithMaxRunBodySize(limit int64) APIHandlerOption {
	return func(h *APIHandler) {
		if limit > 0 {
			h.maxRunBodySize = limit
		}
	}
}

// WithReportService enables the synchronous /ai endpoints. answerer may be
// nil, which disables POST /ai/recommend_chatbotai.
func WithReportService(reports ReportService, answerer chat.Answerer) APIHandlerOption {
	return func(h *APIHandler) {
		h.reports = reports
		h.answerer = answerer
	}
}

// NewAPIHandler creates a new API handler
func NewAPIHandler(coordinator TaskCoordinator, health HealthChecker, opts ...APIHandlerOption) *APIHandler {
	h := &APIHandler{
		coordinator:    coordinator,
		health:         health,
		logger:         logging.NewComponentLogger("APIHandler"),
		maxRunBodySize: defaultMaxRunBodySize,
		startedAt:      time.Now(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HandleRun handles POST /orchestrate/run
func (h *APIHandler) HandleRun(c *gin.Context) {
	body := http.MaxBytesReader(c.Writer, c.Request.Body, h.maxRunBodySize)
	defer body.Close()

	var req protocol.StartRequest
	if !h.decodeBody(c, body, &req) {
		return
	}

	task, err := h.coordinator.Run(c.Request.Context(), req)
	if err != nil {
		h.writeAppError(c, "Failed to start task", err)
		return
	}

	h.writeJSON(c, http.StatusOK, protocol.StartResponse{TaskID: task.ID, State: task.State})
}

// HandleStatus handles GET /orchestrate/status/:id
func (h *APIHandler) HandleStatus(c *gin.Context) {
	taskID := strings.TrimSpace(c.Param("id"))
	task, err := h.coordinator.Status(c.Request.Context(), taskID)
	if err != nil {
		h.writeAppError(c, "Task not found", err)
		return
	}

	resp := protocol.StatusResponse{TaskID: task.ID, State: task.State}
	switch task.State {
	case protocol.TaskStateCompleted:
		if task.Result != nil {
			raw, err := json.Marshal(task.Result)
			if err != nil {
				h.writeJSONError(c, http.StatusInternalServerError, "Failed to encode result", err)
				return
			}
			resp.Result = raw
		}
	case protocol.TaskStateFailed:
		resp.Error = task.Error
	}
	h.writeJSON(c, http.StatusOK, resp)
}

// HandleCancel handles POST /orchestrate/cancel/:id
func (h *APIHandler) HandleCancel(c *gin.Context) {
	taskID := strings.TrimSpace(c.Param("id"))
	resp, err := h.coordinator.Cancel(c.Request.Context(), taskID)
	if err != nil {
		h.writeAppError(c, "Task not found", err)
		return
	}
	h.writeJSON(c, http.StatusOK, resp)
}

// HandleHealth handles GET /health
func (h *APIHandler) HandleHealth(c *gin.Context) {
	components := []ports.ComponentHealth{}
	if h.health != nil {
		components = h.health.CheckAll(c.Request.Context())
	}

	status := "ok"
	for _, component := range components {
		if component.Status == ports.HealthStatusNotReady {
			status = "degraded"
			break
		}
	}
	h.writeJSON(c, http.StatusOK, gin.H{
		"status":     status,
		"uptime":     time.Since(h.startedAt).Round(time.Second).String(),
		"components": components,
	})
}

// writeAppError maps coordinator errors to HTTP statuses.
func (h *APIHandler) writeAppError(c *gin.Context, message string, err error) {
	switch {
	case errors.Is(err, app.ErrNotFound):
		h.writeJSONError(c, http.StatusNotFound, message, err)
	case errors.Is(err, app.ErrValidation):
		h.writeJSONError(c, http.StatusUnprocessableEntity, "Invalid request", err)
	case errors.Is(err, app.ErrConflict):
		h.writeJSONError(c, http.StatusConflict, "Previous cancellation still in progress", err)
	case apperrors.OperationOf(err) != "":
		h.writeJSONError(c, http.StatusBadGateway, "Upstream service failed", err)
	case errors.Is(err, app.ErrUnavailable):
		h.writeJSONError(c, http.StatusServiceUnavailable, "Service unavailable", err)
	default:
		h.writeJSONError(c, http.StatusInternalServerError, "Internal error", err)
	}
}
