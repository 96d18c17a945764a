package handler

import (
	"context"
	"log/slog"

	"github.com/cuongbtq/voice-journal/internal/dispatch"
	"github.com/cuongbtq/voice-journal/internal/domain"
	"github.com/gin-gonic/gin"
)

// UserIDKey is the gin context key holding the authenticated user id
const UserIDKey = "user_id"

// DefaultMaxUploadBytes caps audio uploads when no limit is configured
const DefaultMaxUploadBytes int64 = 25 << 20

// JobQueue is the part of the transcription queue the HTTP edge uses
type JobQueue interface {
	Enqueue(ctx context.Context, audioKey, userID string) (string, error)
	Job(ctx context.Context, jobID, userID string) (*domain.Job, error)
}

// BlobWriter stores uploaded audio
type BlobWriter interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
}

// Authenticator verifies a bearer token and returns the user id
type Authenticator interface {
	Verify(ctx context.Context, token string) (string, error)
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger         *slog.Logger
	Queue          JobQueue
	Trigger        dispatch.Trigger
	Blobs          BlobWriter
	Verifier       Authenticator
	HealthCheck    func(ctx context.Context) error
	MaxUploadBytes int64
	ServiceName    string
}

// TranscriptionHandler handles transcription HTTP requests
type TranscriptionHandler struct {
	logger         *slog.Logger
	queue          JobQueue
	trigger        dispatch.Trigger
	blobs          BlobWriter
	maxUploadBytes int64
}

// NewTranscriptionHandler creates a new TranscriptionHandler instance
func NewTranscriptionHandler(deps *Dependencies) *TranscriptionHandler {
	trigger := deps.Trigger
	if trigger == nil {
		trigger = dispatch.Chain(nil)
	}
	maxUpload := deps.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = DefaultMaxUploadBytes
	}
	return &TranscriptionHandler{
		logger:         deps.Logger,
		queue:          deps.Queue,
		trigger:        trigger,
		blobs:          deps.Blobs,
		maxUploadBytes: maxUpload,
	}
}

// userID returns the authenticated user set by the auth middleware
func userID(c *gin.Context) string {
	return c.GetString(UserIDKey)
}
