// Package attachment validates the file references carried by messages.
// File bytes live in an external object store; this package only checks
// the metadata a client declares and, when a store is configured, that the
// referenced object exists and matches it.
package attachment

import (
	"context"
	"errors"
	"strings"

	"github.com/vivamoms/consult/internal/platform/apperror"
)

// MaxFileSize is the largest attachment accepted (10 MiB).
const MaxFileSize = 10 * 1024 * 1024

var AllowedContentTypes = map[string]bool{
	"image/jpeg":      true,
	"image/png":       true,
	"application/pdf": true,
	"audio/mpeg":      true,
	"audio/wav":       true,
}

var ErrObjectNotFound = errors.New("object not found")

// Metadata is what a message records about its attachment.
type Metadata struct {
	StorageID string `json:"storage_id"`
	FileName  string `json:"file_name"`
	FileSize  int64  `json:"file_size"`
	MimeType  string `json:"mime_type"`
}

// Object is what the store reports about a stored file.
type Object struct {
	Size        int64
	ContentType string
}

type Store interface {
	Stat(ctx context.Context, storageID string) (*Object, error)
}

// Validate checks declared metadata. mediaPrefix, when set, restricts the
// MIME family, e.g. "image/" for image messages.
func Validate(m Metadata, mediaPrefix string) error {
	if strings.TrimSpace(m.StorageID) == "" {
		return apperror.Validation("attachment storage_id is required")
	}
	if strings.TrimSpace(m.FileName) == "" {
		return apperror.Validation("attachment file_name is required")
	}
	if m.FileSize <= 0 || m.FileSize > MaxFileSize {
		return apperror.Validation("attachment size must be between 1 and %d bytes", MaxFileSize)
	}
	if !AllowedContentTypes[m.MimeType] {
		return apperror.Validation("attachment type %q is not allowed", m.MimeType)
	}
	if mediaPrefix != "" && !strings.HasPrefix(m.MimeType, mediaPrefix) {
		return apperror.Validation("attachment type %q does not match %s message", m.MimeType, strings.TrimSuffix(mediaPrefix, "/"))
	}
	return nil
}

// Verifier validates metadata and, with a store, the object behind it.
type Verifier struct {
	store Store
}

// NewVerifier returns a Verifier. A nil store skips the existence check.
func NewVerifier(store Store) *Verifier {
	return &Verifier{store: store}
}

func (v *Verifier) Check(ctx context.Context, m Metadata, mediaPrefix string) error {
	if err := Validate(m, mediaPrefix); err != nil {
		return err
	}
	if v == nil || v.store == nil {
		return nil
	}
	obj, err := v.store.Stat(ctx, m.StorageID)
	if errors.Is(err, ErrObjectNotFound) {
		return apperror.Validation("attachment %s has not been uploaded", m.StorageID)
	}
	if err != nil {
		return apperror.Wrap(apperror.KindInternal, err, "stat attachment")
	}
	if obj.Size != m.FileSize {
		return apperror.Validation("attachment size %d does not match stored size %d", m.FileSize, obj.Size)
	}
	if obj.ContentType != "" && obj.ContentType != m.MimeType {
		return apperror.Validation("attachment type %q does not match stored type %q", m.MimeType, obj.ContentType)
	}
	return nil
}
