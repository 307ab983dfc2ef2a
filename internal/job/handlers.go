package job

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/workstreet/jobledger/internal/auth"
	"github.com/workstreet/jobledger/internal/lifecycle"
	"github.com/workstreet/jobledger/internal/pagination"
	"github.com/workstreet/jobledger/internal/validation"
)

// Handler provides HTTP endpoints for job operations.
type Handler struct {
	service *Service
}

// NewHandler creates a new job handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up public (read-only) job routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/jobs/:id", h.GetJob)
	r.GET("/users/:userId/jobs", h.ListJobs)
}

// RegisterProtectedRoutes sets up auth-required job routes.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/jobs", h.CreateJob)
	r.POST("/jobs/:id/accept", h.AcceptJob)
	r.POST("/jobs/:id/complete", h.MarkCompleted)
	r.POST("/jobs/:id/approve/customer", h.ApproveCustomer)
	r.POST("/jobs/:id/approve/router", h.ApproveRouter)
	r.POST("/jobs/:id/close", h.CloseJob)
}

// CreateJob handles POST /v1/jobs
func (h *Handler) CreateJob(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if errs := validation.Validate(
		validation.Required("title", req.Title),
		validation.ValidAmountMinor("amountMinor", req.AmountMinor),
		validation.ValidCurrency("currency", req.Currency),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	// The authenticated user posts on their own behalf.
	actor, ok := auth.ActorFrom(c)
	if !ok || actor.UserID != req.PosterID {
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "unauthorized",
			"message": "Authenticated user must be the poster",
		})
		return
	}

	j, err := h.service.Create(c.Request.Context(), req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "job_create_failed",
			"message": "Failed to create job",
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"job": j})
}

// AcceptJob handles POST /v1/jobs/:id/accept
func (h *Handler) AcceptJob(c *gin.Context) {
	var req AcceptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	actor, ok := auth.ActorFrom(c)
	if !ok || actor.UserID != req.ContractorID {
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "unauthorized",
			"message": "Authenticated user must be the accepting contractor",
		})
		return
	}

	j, err := h.service.Accept(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		respondMutationError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"job": j})
}

// MarkCompleted handles POST /v1/jobs/:id/complete
func (h *Handler) MarkCompleted(c *gin.Context) {
	h.approval(c, h.service.MarkContractorCompleted)
}

// ApproveCustomer handles POST /v1/jobs/:id/approve/customer
func (h *Handler) ApproveCustomer(c *gin.Context) {
	h.approval(c, h.service.ApproveByCustomer)
}

// ApproveRouter handles POST /v1/jobs/:id/approve/router
func (h *Handler) ApproveRouter(c *gin.Context) {
	h.approval(c, h.service.ApproveByRouter)
}

// CloseJob handles POST /v1/jobs/:id/close
func (h *Handler) CloseJob(c *gin.Context) {
	h.approval(c, h.service.Close)
}

func (h *Handler) approval(c *gin.Context, op func(ctx context.Context, id, actorID string) (*Job, error)) {
	actor, ok := auth.ActorFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "unauthorized",
			"message": "Authentication required",
		})
		return
	}

	j, err := op(c.Request.Context(), c.Param("id"), actor.UserID)
	if err != nil {
		respondMutationError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"job": j, "readyForRelease": j.ReadyForRelease()})
}

// GetJob handles GET /v1/jobs/:id
func (h *Handler) GetJob(c *gin.Context) {
	j, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Job not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"job": j, "readyForRelease": j.ReadyForRelease()})
}

// ListJobs handles GET /v1/users/:userId/jobs
func (h *Handler) ListJobs(c *gin.Context) {
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
			if limit > 200 {
				limit = 200
			}
		}
	}

	jobs, nextCursor, err := h.service.ListByActor(c.Request.Context(), c.Param("userId"), limit, c.Query("cursor"))
	if err != nil {
		if errors.Is(err, pagination.ErrInvalidCursor) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_cursor",
				"message": "Cursor is malformed",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"jobs":       jobs,
		"count":      len(jobs),
		"nextCursor": nextCursor,
		"hasMore":    nextCursor != "",
	})
}

func respondMutationError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Job not found",
		})
	case errors.Is(err, ErrUnauthorized):
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "unauthorized",
			"message": "Actor not authorized for this job operation",
		})
	case errors.Is(err, lifecycle.ErrIllegalTransition):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "illegal_transition",
			"message": err.Error(),
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
	}
}
