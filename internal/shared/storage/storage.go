// Package storage keeps uploaded claim files in object storage.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// ErrNotFound is returned when an object does not exist.
var ErrNotFound = errors.New("object not found")

// FileStorage stores attachment bytes under opaque keys.
type FileStorage interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	// URL returns a link the browser can fetch the object from, or "" when
	// the object is only reachable through the API.
	URL(ctx context.Context, key string) (string, error)
}

var unsafeName = regexp.MustCompile(`[^\p{L}\p{M}\p{N}._\- ]+`)

// SafeName strips directories and unusual characters from an uploaded file name.
func SafeName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = unsafeName.ReplaceAllString(name, "_")
	name = strings.Trim(name, " .")
	if name == "" {
		name = "file"
	}
	if r := []rune(name); len(r) > 120 {
		ext := []rune(filepath.Ext(name))
		name = string(r[:120-len(ext)]) + string(ext)
	}
	return name
}

// ObjectKey builds the storage key of an attachment.
func ObjectKey(claimID, kind, fileName string) string {
	return fmt.Sprintf("claims/%s/%s/%s_%s", claimID, strings.ToLower(kind), uuid.New().String()[:8], SafeName(fileName))
}

// ContentType guesses a MIME type from the file extension when the client sent none.
func ContentType(fileName, declared string) string {
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".pdf":
		return "application/pdf"
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "application/octet-stream"
}
