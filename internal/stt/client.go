// Package stt is a client for OpenAI-compatible speech-to-text endpoints.
package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/cuongbtq/voice-journal/internal/blobstore"
)

// ErrEmptyAudio is returned when there is nothing to transcribe
var ErrEmptyAudio = errors.New("empty audio")

// Config holds speech-to-text client configuration
type Config struct {
	BaseURL  string
	APIKey   string
	Model    string
	Language string
	Timeout  time.Duration
}

// Client calls POST {BaseURL}/audio/transcriptions
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
	language   string
	logger     *slog.Logger
}

// ServiceError is a non-2xx response from the transcription service
type ServiceError struct {
	StatusCode int
	Message    string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("transcription service returned %d: %s", e.StatusCode, e.Message)
}

// NewClient creates a new speech-to-text client
func NewClient(cfg Config, logger *slog.Logger) *Client {
	model := cfg.Model
	if model == "" {
		model = "whisper-1"
	}
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		model:      model,
		language:   cfg.Language,
		logger:     logger.With(slog.String("component", "stt_client")),
	}
}

type transcriptionResponse struct {
	Text  string `json:"text"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Transcribe uploads audio as multipart form data and returns the transcript
func (c *Client) Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	if len(audio) == 0 {
		return "", ErrEmptyAudio
	}

	body, contentType, err := c.buildForm(audio, mimeType)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/audio/transcriptions", body)
	if err != nil {
		return "", fmt.Errorf("failed to build transcription request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("transcription request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read transcription response: %w", err)
	}

	var parsed transcriptionResponse
	decodeErr := json.Unmarshal(raw, &parsed)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := strings.TrimSpace(string(raw))
		if decodeErr == nil && parsed.Error != nil && parsed.Error.Message != "" {
			msg = parsed.Error.Message
		}
		return "", &ServiceError{StatusCode: resp.StatusCode, Message: msg}
	}
	if decodeErr != nil {
		return "", fmt.Errorf("failed to decode transcription response: %w", decodeErr)
	}

	c.logger.Debug("Audio transcribed",
		slog.Int("audio_bytes", len(audio)),
		slog.String("mime_type", mimeType),
		slog.Int("text_length", len(parsed.Text)),
		slog.Duration("latency", time.Since(start)),
	)

	return parsed.Text, nil
}

func (c *Client) buildForm(audio []byte, mimeType string) (*bytes.Buffer, string, error) {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="audio%s"`, blobstore.ExtensionFor(mimeType)))
	header.Set("Content-Type", mimeType)
	part, err := w.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create file part: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return nil, "", fmt.Errorf("failed to write audio part: %w", err)
	}

	if err := w.WriteField("model", c.model); err != nil {
		return nil, "", fmt.Errorf("failed to write model field: %w", err)
	}
	if c.language != "" {
		if err := w.WriteField("language", c.language); err != nil {
			return nil, "", fmt.Errorf("failed to write language field: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to finalize form: %w", err)
	}

	return buf, w.FormDataContentType(), nil
}
