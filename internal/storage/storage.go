package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MaxImageSize is enforced before anything reaches the store.
const MaxImageSize int64 = 10 * 1024 * 1024

var (
	ErrFileTooLarge    = errors.New("file size exceeds limit")
	ErrUnsupportedType = errors.New("unsupported file type")
	ErrEmptyFile       = errors.New("no file provided")
)

// BlobStore stores objects under a path and returns a publicly resolvable URL.
type BlobStore interface {
	Upload(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error)
	Delete(ctx context.Context, key string) error
}

// ValidateImage checks size and type of an image attachment.
func ValidateImage(size int64, contentType string) error {
	if size <= 0 {
		return ErrEmptyFile
	}
	if size > MaxImageSize {
		return fmt.Errorf("%w: image size exceeds 10MB limit", ErrFileTooLarge)
	}
	if !strings.HasPrefix(strings.ToLower(contentType), "image/") {
		return fmt.Errorf("%w: %s", ErrUnsupportedType, contentType)
	}
	return nil
}

// ImageKey builds the object path for an image posted by userID in sessionID.
func ImageKey(userID, sessionID, filename string, now time.Time) string {
	ext := strings.TrimPrefix(path.Ext(filename), ".")
	if ext == "" {
		ext = "bin"
	}
	return fmt.Sprintf("%s/%s/images/%d-%s.%s", userID, sessionID, now.UnixMilli(), uuid.NewString()[:8], ext)
}
