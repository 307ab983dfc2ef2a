package payout

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/workstreet/jobledger/internal/auth"
	"github.com/workstreet/jobledger/internal/job"
	"github.com/workstreet/jobledger/internal/lifecycle"
)

// Handler provides HTTP endpoints for fund releases.
type Handler struct {
	releaser *Releaser
}

// NewHandler creates a new payout handler.
func NewHandler(releaser *Releaser) *Handler {
	return &Handler{releaser: releaser}
}

// RegisterProtectedRoutes sets up auth-required payout routes.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/jobs/:id/release-funds", h.ReleaseFunds)
	r.GET("/jobs/:id/payout", h.GetJobPayout)
	r.GET("/payouts/:id", h.GetPayout)
}

// RegisterAdminRoutes sets up admin-only payout routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/payouts/:id/cancel", h.CancelPayout)
}

// ReleaseFunds handles POST /v1/jobs/:id/release-funds
func (h *Handler) ReleaseFunds(c *gin.Context) {
	actor, ok := auth.ActorFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "unauthorized",
			"message": "Authentication required",
		})
		return
	}

	rel, err := h.releaser.ReleaseFunds(c.Request.Context(), c.Param("id"), actor.UserID)
	if err != nil {
		respondReleaseError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"release": rel})
}

// GetJobPayout handles GET /v1/jobs/:id/payout
func (h *Handler) GetJobPayout(c *gin.Context) {
	req, err := h.releaser.GetByJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrRequestNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "No payout request for this job",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"payoutRequest": req})
}

// GetPayout handles GET /v1/payouts/:id
func (h *Handler) GetPayout(c *gin.Context) {
	req, err := h.releaser.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrRequestNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Payout request not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"payoutRequest": req})
}

// CancelPayout handles POST /v1/payouts/:id/cancel
func (h *Handler) CancelPayout(c *gin.Context) {
	req, err := h.releaser.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		switch {
		case errors.Is(err, ErrRequestNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Payout request not found",
			})
		case errors.Is(err, lifecycle.ErrIllegalTransition):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "illegal_transition",
				"message": "Payout request is already settled",
			})
		case errors.Is(err, ErrBusy):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "busy",
				"message": "Job financial record is busy, try again",
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": err.Error(),
			})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"payoutRequest": req})
}

func respondReleaseError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, job.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Job not found",
		})
	case errors.Is(err, ErrNotReady):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "not_ready",
			"message": "Job is missing completion approvals",
		})
	case errors.Is(err, lifecycle.ErrIllegalTransition):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "illegal_transition",
			"message": err.Error(),
		})
	case errors.Is(err, ErrBusy):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "busy",
			"message": "A release for this job is already in flight",
		})
	case errors.Is(err, ErrProvider):
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "provider_error",
			"message": "Payment provider call failed; no state was changed",
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
	}
}
