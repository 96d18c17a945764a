package router

import (
	"context"
	"net/http"
	"time"

	"github.com/cuongbtq/voice-journal/internal/api/handler"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(MetricsMiddleware())
	r.Use(CORSMiddleware())

	service := deps.ServiceName
	if service == "" {
		service = "transcription-api-service"
	}

	r.GET("/health", func(c *gin.Context) {
		if deps.HealthCheck != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
			defer cancel()
			if err := deps.HealthCheck(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"status":  "unhealthy",
					"service": service,
					"error":   err.Error(),
				})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": service,
		})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	h := handler.NewTranscriptionHandler(deps)

	authed := r.Group("/", AuthMiddleware(deps.Verifier, deps.Logger))
	{
		// POST /transcribe-audio - Enqueue a transcription job
		authed.POST("/transcribe-audio", h.Transcribe)

		// GET /transcribe-audio/jobs/:job_id - Job status for its owner
		authed.GET("/transcribe-audio/jobs/:job_id", h.GetJob)

		// POST /audio-files - Upload an audio recording
		authed.POST("/audio-files", h.UploadAudio)
	}

	return r
}
