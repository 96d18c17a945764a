// Package blobstore fetches and stores audio blobs by key.
package blobstore

import (
	"context"
	"errors"
	"path"
	"regexp"
	"strings"
)

// ErrNotFound is returned when no object exists for a key
var ErrNotFound = errors.New("blob not found")

// DefaultMimeType is used for webm and any unrecognised extension
const DefaultMimeType = "audio/webm"

// Store is the blob storage contract used by the queue and the upload handler
type Store interface {
	FetchBytes(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte, contentType string) error
}

var mimeTypes = map[string]string{
	"mp3":  "audio/mpeg",
	"wav":  "audio/wav",
	"ogg":  "audio/ogg",
	"webm": "audio/webm",
}

// MimeType infers the audio mime type from the key's file extension
func MimeType(key string) string {
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(key)), ".")
	if mt, ok := mimeTypes[ext]; ok {
		return mt
	}
	return DefaultMimeType
}

// ExtensionFor returns the canonical file extension (with dot) for a mime type
func ExtensionFor(mimeType string) string {
	for ext, mt := range mimeTypes {
		if mt == mimeType && ext != "webm" {
			return "." + ext
		}
	}
	return ".webm"
}

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9.-]`)

// SanitizeFileName replaces every character outside [a-zA-Z0-9.-] with '_'
func SanitizeFileName(name string) string {
	return unsafeChars.ReplaceAllString(name, "_")
}
