package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"exportd/internal/callback"
	"exportd/internal/job"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// WorkerCallback handles POST /api/v1/jobs/:job_id/callback
// Ingress for progress/complete/error signals from the compute worker.
// Deliveries may repeat; replays are acknowledged without effect.
func (h *JobHandler) WorkerCallback(c *gin.Context) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return
	}

	var payload callback.Payload
	if err := c.ShouldBindJSON(&payload); err != nil {
		h.logger.Error("Invalid callback body",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid callback body",
		})
		return
	}

	err := h.ingress.Handle(c.Request.Context(), jobID, &payload)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{
			"status": "accepted",
		})
	case errors.Is(err, job.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
		})
	case errors.Is(err, job.ErrJobNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Job not found",
		})
	default:
		h.logger.Error("Failed to apply worker callback",
			slog.String("job_id", jobID),
			slog.String("kind", payload.Kind),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to apply callback",
		})
	}
}
