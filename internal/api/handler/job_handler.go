package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"exportd/internal/api/dto"
	"exportd/internal/job"
	"exportd/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// CreateJob handles POST /api/v1/jobs
// Creates a pending export job and dispatches it to the compute worker
func (h *JobHandler) CreateJob(c *gin.Context) {
	var req dto.CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid create job request", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	now := time.Now().UTC()
	rec := &job.Record{
		ID:         uuid.New().String(),
		ProjectRef: req.ProjectRef,
		Type:       req.JobType,
		Status:     job.StatusPending,
		InputRef:   req.InputRef,
		Params:     string(req.Params),
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	actor, err := h.registry.GetOrCreate(c.Request.Context(), rec)
	if err != nil {
		h.logger.Error("Failed to create job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to create job",
		})
		return
	}

	// Fire the job at the worker. On failure the pending record stays put and
	// the client retries the creation.
	workerRef, err := h.dispatcher.Dispatch(c.Request.Context(), actor.Snapshot())
	if err != nil {
		h.logger.Error("Failed to dispatch job",
			slog.String("job_id", rec.ID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusBadGateway, gin.H{
			"error": "Failed to dispatch job to worker",
		})
		return
	}

	if err := actor.ApplyDispatched(c.Request.Context(), workerRef); err != nil {
		h.logger.Error("Failed to record worker ref",
			slog.String("job_id", rec.ID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to record dispatch",
		})
		return
	}

	c.JSON(http.StatusCreated, dto.CreateJobResponse{
		JobID:            rec.ID,
		Status:           job.StatusPending,
		SubscribeAddress: fmt.Sprintf("%s/api/v1/jobs/%s/subscribe", h.publicBaseURL, rec.ID),
	})
}

// GetJob handles GET /api/v1/jobs/:job_id
// Returns the current snapshot of a job
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return
	}

	actor, err := h.registry.Get(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Job not found",
			})
			return
		}
		h.logger.Error("Failed to get job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get job",
		})
		return
	}

	c.JSON(http.StatusOK, actor.Snapshot())
}

// ListJobs handles GET /api/v1/jobs
// Lists jobs with optional filtering and keyset pagination
func (h *JobHandler) ListJobs(c *gin.Context) {
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = 20
	}
	if req.PageSize > 100 {
		req.PageSize = 100
	}

	cursor, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	filter := storage.JobFilter{
		ProjectRef: req.ProjectRef,
		JobType:    req.JobType,
		Status:     req.Status,
		PageSize:   req.PageSize,
		Cursor:     cursor,
	}

	jobs, err := h.lister.ListJobs(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list jobs", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list jobs",
		})
		return
	}

	hasMore := len(jobs) > req.PageSize
	if hasMore {
		jobs = jobs[:req.PageSize]
	}

	var nextCursor string
	if hasMore {
		last := jobs[len(jobs)-1]
		nextCursor, err = EncodeJobCursor(&storage.JobCursor{
			CreatedAt: last.CreatedAt,
			JobID:     last.ID,
		})
		if err != nil {
			h.logger.Error("Failed to encode next cursor", slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to encode next cursor",
			})
			return
		}
	}

	c.JSON(http.StatusOK, dto.ListJobsResponse{
		Jobs:       jobs,
		NextCursor: nextCursor,
	})
}

// DeleteJob handles DELETE /api/v1/jobs/:job_id
// Removes a job record; rejected with 409 while the job is processing
func (h *JobHandler) DeleteJob(c *gin.Context) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return
	}

	rec, err := h.registry.Delete(c.Request.Context(), jobID)
	if err != nil {
		switch {
		case errors.Is(err, job.ErrJobNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Job not found",
			})
		case errors.Is(err, job.ErrConflict):
			c.JSON(http.StatusConflict, gin.H{
				"error": "Job is processing and cannot be deleted",
			})
		default:
			h.logger.Error("Failed to delete job",
				slog.String("job_id", jobID),
				slog.String("error", err.Error()),
			)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to delete job",
			})
		}
		return
	}

	h.cleanupObjects(c, rec)
	c.Status(http.StatusNoContent)
}

// cleanupObjects asks the object storage collaborator to remove the media
// referenced by a deleted job. Best effort: failures are logged, the delete
// itself already succeeded.
func (h *JobHandler) cleanupObjects(c *gin.Context, rec *job.Record) {
	if h.cleaner == nil {
		return
	}
	for _, ref := range []string{rec.InputRef, rec.OutputRef} {
		if ref == "" {
			continue
		}
		if err := h.cleaner.Remove(c.Request.Context(), ref); err != nil {
			h.logger.Warn("Failed to clean up storage object",
				slog.String("job_id", rec.ID),
				slog.String("ref", ref),
				slog.String("error", err.Error()),
			)
		}
	}
}
