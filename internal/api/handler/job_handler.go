package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cuongbtq/voice-journal/internal/api/dto"
	"github.com/cuongbtq/voice-journal/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	msgMissingFields   = "Missing required fields"
	msgQueued          = "Transcription job has been queued and will be processed shortly"
	msgInternalDetails = "An error occurred while processing the transcription request"
)

// Transcribe handles POST /transcribe-audio
// Enqueues a job, kicks off processing in the background and answers 202 straight away
func (h *TranscriptionHandler) Transcribe(c *gin.Context) {
	uid := userID(c)

	var req dto.TranscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.AudioURL) == "" {
		h.logger.Warn("Missing audioUrl in request", slog.String("user_id", uid))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: msgMissingFields})
		return
	}

	jobID, err := h.queue.Enqueue(c.Request.Context(), req.AudioURL, uid)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidArgument) {
			c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: msgMissingFields})
			return
		}
		h.logger.Error("Failed to enqueue transcription job",
			slog.String("user_id", uid),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{
			Error:   err.Error(),
			Details: msgInternalDetails,
		})
		return
	}

	h.trigger.Trigger(c.Request.Context(), jobID)

	c.JSON(http.StatusAccepted, dto.TranscribeAcceptedResponse{
		Status:  domain.StatusQueued.String(),
		JobID:   jobID,
		Message: msgQueued,
	})
}

// GetJob handles GET /transcribe-audio/jobs/:job_id
func (h *TranscriptionHandler) GetJob(c *gin.Context) {
	jobID := c.Param("job_id")

	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "job_id must be a valid UUID"})
		return
	}

	job, err := h.queue.Job(c.Request.Context(), jobID, userID(c))
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "Job not found"})
			return
		}
		h.logger.Error("Failed to get job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "Failed to get job"})
		return
	}

	c.JSON(http.StatusOK, dto.JobStatusResponse{
		JobID:     job.ID,
		Status:    job.Status.String(),
		Attempts:  job.Attempts,
		Result:    job.Result,
		LastError: job.LastError,
		CreatedAt: job.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt: job.UpdatedAt.UTC().Format(time.RFC3339),
	})
}
