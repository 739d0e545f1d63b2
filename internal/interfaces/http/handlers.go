package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/garyjia/bonus-orchestrator/internal/application/service"
	"github.com/garyjia/bonus-orchestrator/internal/application/workflow"
	"github.com/garyjia/bonus-orchestrator/internal/domain/entity"
)

// Handlers contains all HTTP request handlers
type Handlers struct {
	bonuses   service.BonusService
	workflows workflow.Client
	logger    *zap.Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(bonuses service.BonusService, workflows workflow.Client, logger *zap.Logger) *Handlers {
	return &Handlers{
		bonuses:   bonuses,
		workflows: workflows,
		logger:    logger,
	}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// InstanceResponse identifies a started or running workflow instance
type InstanceResponse struct {
	InstanceID string `json:"instance_id"`
	Status     string `json:"status"`
}

const statusProcessing = "PROCESSING"

// errorStatus maps application errors to a status code and a client message
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrInvalidApplicant):
		return http.StatusBadRequest, "invalid applicant id"
	case errors.Is(err, service.ErrActivationInProgress),
		errors.Is(err, service.ErrFamilyAlreadyLeased),
		errors.Is(err, workflow.ErrAlreadyRunning),
		errors.Is(err, workflow.ErrNotRunning):
		return http.StatusConflict, err.Error()
	case errors.Is(err, service.ErrNotEligible):
		return http.StatusForbidden, err.Error()
	case errors.Is(err, service.ErrEligibilityExpired):
		return http.StatusGone, err.Error()
	case errors.Is(err, service.ErrEligibilityNotFound),
		errors.Is(err, service.ErrBonusNotFound),
		errors.Is(err, workflow.ErrInstanceNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, service.ErrBonusCodeExhausted):
		return http.StatusServiceUnavailable, err.Error()
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func (h *Handlers) fail(c *gin.Context, op string, err error) {
	status, msg := errorStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(op+" failed",
			zap.String("request_id", c.GetString(requestIDKey)),
			zap.Error(err))
		_ = c.Error(err)
	}
	c.JSON(status, Response{Success: false, Error: msg})
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, Response{
		Success: true,
		Data: HealthResponse{
			Status:    "healthy",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		},
	})
}

// StartEligibilityCheck handles POST /api/v1/eligibility/:applicant
func (h *Handlers) StartEligibilityCheck(c *gin.Context) {
	instanceID, err := h.bonuses.StartEligibilityCheck(c.Request.Context(), c.Param("applicant"))
	if errors.Is(err, service.ErrCheckInProgress) {
		c.JSON(http.StatusAccepted, Response{
			Success: true,
			Data:    InstanceResponse{InstanceID: instanceID, Status: statusProcessing},
		})
		return
	}
	if err != nil {
		h.fail(c, "Start eligibility check", err)
		return
	}

	c.JSON(http.StatusCreated, Response{
		Success: true,
		Data:    InstanceResponse{InstanceID: instanceID, Status: string(entity.RuntimePending)},
	})
}

// GetEligibilityCheck handles GET /api/v1/eligibility/:applicant
func (h *Handlers) GetEligibilityCheck(c *gin.Context) {
	view, err := h.bonuses.GetEligibilityCheck(c.Request.Context(), c.Param("applicant"))
	if err != nil {
		h.fail(c, "Get eligibility check", err)
		return
	}

	if view.Processing {
		c.JSON(http.StatusAccepted, Response{
			Success: true,
			Data:    InstanceResponse{InstanceID: view.InstanceID, Status: statusProcessing},
		})
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: view.Check})
}

// StartBonusActivation handles POST /api/v1/bonus/:applicant
func (h *Handlers) StartBonusActivation(c *gin.Context) {
	activation, err := h.bonuses.StartBonusActivation(c.Request.Context(), c.Param("applicant"))
	if err != nil {
		h.fail(c, "Start bonus activation", err)
		return
	}

	c.Header("Location", "/api/v1/bonus/"+activation.ApplicantID+"/"+activation.ID)
	c.JSON(http.StatusCreated, Response{Success: true, Data: activation})
}

// ListBonuses handles GET /api/v1/bonus/:applicant
func (h *Handlers) ListBonuses(c *gin.Context) {
	activations, err := h.bonuses.ListBonuses(c.Request.Context(), c.Param("applicant"))
	if err != nil {
		h.fail(c, "List bonuses", err)
		return
	}
	if activations == nil {
		activations = []*entity.BonusActivation{}
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: activations})
}

// GetBonus handles GET /api/v1/bonus/:applicant/:bonus
func (h *Handlers) GetBonus(c *gin.Context) {
	activation, err := h.bonuses.GetBonusActivation(c.Request.Context(), c.Param("applicant"), c.Param("bonus"))
	if err != nil {
		h.fail(c, "Get bonus", err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: activation})
}

// GetWorkflowStatus handles GET /api/v1/workflows/:instance
func (h *Handlers) GetWorkflowStatus(c *gin.Context) {
	status, err := h.workflows.GetStatus(c.Request.Context(), c.Param("instance"))
	if err != nil {
		h.fail(c, "Get workflow status", err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: status})
}

// TerminateWorkflow handles DELETE /api/v1/workflows/:instance?reason=...
func (h *Handlers) TerminateWorkflow(c *gin.Context) {
	instanceID := c.Param("instance")
	reason := c.Query("reason")

	if err := h.workflows.Terminate(c.Request.Context(), instanceID, reason); err != nil {
		h.fail(c, "Terminate workflow", err)
		return
	}

	h.logger.Warn("Workflow terminated via API",
		zap.String("instance_id", instanceID),
		zap.String("reason", reason),
		zap.String("request_id", c.GetString(requestIDKey)))
	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    InstanceResponse{InstanceID: instanceID, Status: string(entity.RuntimeTerminated)},
	})
}
