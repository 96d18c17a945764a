package handler

import (
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/cuongbtq/voice-journal/internal/api/dto"
	"github.com/cuongbtq/voice-journal/internal/blobstore"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// UploadAudio handles POST /audio-files
// Stores a multipart "file" under a fresh key and returns the key as audioUrl
func (h *TranscriptionHandler) UploadAudio(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)

	fh, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, dto.ErrorResponse{Error: "File too large"})
			return
		}
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: msgMissingFields})
		return
	}

	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "Unable to read uploaded file"})
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "Unable to read uploaded file"})
		return
	}
	if len(data) == 0 {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "Uploaded file is empty"})
		return
	}

	key := uuid.NewString() + uploadExtension(fh.Filename, fh.Header.Get("Content-Type"))
	contentType := blobstore.MimeType(key)

	if err := h.blobs.Put(c.Request.Context(), key, data, contentType); err != nil {
		h.logger.Error("Failed to store uploaded audio",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "Failed to store audio file"})
		return
	}

	h.logger.Info("Audio file uploaded",
		slog.String("user_id", userID(c)),
		slog.String("key", key),
		slog.Int("size", len(data)),
	)

	c.JSON(http.StatusCreated, dto.UploadResponse{AudioURL: key})
}

// uploadExtension picks the stored extension from the sanitized client
// filename, falling back to the part's content type and then to .webm
func uploadExtension(filename, contentType string) string {
	if ext := strings.ToLower(path.Ext(blobstore.SanitizeFileName(filename))); len(ext) > 1 {
		return ext
	}
	if mt, _, err := mime.ParseMediaType(contentType); err == nil {
		return blobstore.ExtensionFor(mt)
	}
	return blobstore.ExtensionFor(blobstore.DefaultMimeType)
}
