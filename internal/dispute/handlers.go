package dispute

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/workstreet/jobledger/internal/auth"
	"github.com/workstreet/jobledger/internal/job"
)

// Handler provides HTTP endpoints for dispute operations.
type Handler struct {
	service *Service
	runner  *Runner
}

// NewHandler creates a new dispute handler.
func NewHandler(service *Service, runner *Runner) *Handler {
	return &Handler{service: service, runner: runner}
}

// RegisterProtectedRoutes sets up auth-required dispute routes.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/disputes", h.FileDispute)
	r.GET("/disputes/:id", h.GetDispute)
	r.GET("/disputes/:id/actions", h.ListActions)
}

// RegisterAdminRoutes sets up admin-only dispute routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/disputes/:id/actions", h.AppendAction)
	r.POST("/disputes/:id/enforcement/execute", h.ExecuteEnforcement)
	r.POST("/disputes/:id/close", h.CloseDispute)
	r.POST("/disputes/sla-monitor", h.RunSLAMonitor)
}

// FileDispute handles POST /v1/disputes
func (h *Handler) FileDispute(c *gin.Context) {
	var req FileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	actor, ok := auth.ActorFrom(c)
	if !ok || actor.UserID != req.FiledBy {
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "unauthorized",
			"message": "Authenticated user must be the filing party",
		})
		return
	}

	dc, err := h.service.File(c.Request.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, job.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Job not found",
			})
		case errors.Is(err, job.ErrUnauthorized):
			c.JSON(http.StatusForbidden, gin.H{
				"error":   "unauthorized",
				"message": "Filing party is not on this job",
			})
		default:
			c.JSON(http.StatusConflict, gin.H{
				"error":   "dispute_failed",
				"message": err.Error(),
			})
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{"dispute": dc})
}

// GetDispute handles GET /v1/disputes/:id
func (h *Handler) GetDispute(c *gin.Context) {
	dc, err := h.service.GetCase(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondCaseError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"dispute": dc})
}

// ListActions handles GET /v1/disputes/:id/actions
func (h *Handler) ListActions(c *gin.Context) {
	actions, err := h.service.ListActions(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondCaseError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"actions": actions, "count": len(actions)})
}

// AppendAction handles POST /v1/disputes/:id/actions
func (h *Handler) AppendAction(c *gin.Context) {
	var req AppendActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	a, err := h.service.AppendEnforcement(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		switch {
		case errors.Is(err, ErrCaseNotFound):
			respondCaseError(c, err)
		case errors.Is(err, ErrCaseClosed):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "case_closed",
				"message": "Cannot append actions to a closed case",
			})
		case errors.Is(err, ErrDuplicateMarker):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "duplicate_marker",
				"message": "An action with this marker already exists",
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": err.Error(),
			})
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{"action": a})
}

// ExecuteEnforcement handles POST /v1/disputes/:id/enforcement/execute
//
// Partial failure is a normal outcome: the response is always 200 with
// the executed/failed envelope when the case exists.
func (h *Handler) ExecuteEnforcement(c *gin.Context) {
	actorID := "system"
	if actor, ok := auth.ActorFrom(c); ok {
		actorID = actor.UserID
	}

	report, err := h.runner.ExecutePendingActions(c.Request.Context(), c.Param("id"), actorID)
	if err != nil {
		respondCaseError(c, err)
		return
	}

	c.JSON(http.StatusOK, report)
}

// CloseDispute handles POST /v1/disputes/:id/close
func (h *Handler) CloseDispute(c *gin.Context) {
	dc, err := h.service.Close(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrActionsPending) {
			c.JSON(http.StatusConflict, gin.H{
				"error":   "actions_pending",
				"message": err.Error(),
			})
			return
		}
		respondCaseError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"dispute": dc})
}

// RunSLAMonitor handles POST /v1/disputes/sla-monitor?take=N
func (h *Handler) RunSLAMonitor(c *gin.Context) {
	take := 0
	if t := c.Query("take"); t != "" {
		if parsed, err := strconv.Atoi(t); err == nil {
			take = parsed
		}
	}

	report, err := h.service.RunSLAMonitor(c.Request.Context(), take)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, report)
}

func respondCaseError(c *gin.Context, err error) {
	if errors.Is(err, ErrCaseNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Dispute case not found",
		})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{
		"error":   "internal_error",
		"message": err.Error(),
	})
}
