// Package storage is the object-storage collaborator for patient files.
//
// Objects are addressed by a slash-separated key built with ObjectPath and
// are returned to callers as an Object carrying the public URL, the opaque id
// used for deletion, and the category folder the object was filed under.
// Size policy and ownership checks belong to the caller.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"

	"github.com/tbourn/clinic-booking/internal/config"
)

// Categories.
const (
	CategoryImage    = "image"
	CategoryVideo    = "video"
	CategoryDocument = "document"
)

// ErrObjectNotFound is returned by Delete when id is unknown to the store.
var ErrObjectNotFound = errors.New("object not found")

// Object describes an uploaded object.
type Object struct {
	URL      string `json:"url"`
	ID       string `json:"id"`
	Category string `json:"category"`
}

// ObjectStore uploads and deletes patient objects.
type ObjectStore interface {
	Upload(ctx context.Context, body io.Reader, size int64, key, category, contentType string) (Object, error)
	Delete(ctx context.Context, id, category string) error
}

// CategoryFor maps a MIME type to image, video or document.
func CategoryFor(contentType string) string {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	switch {
	case strings.HasPrefix(ct, "image/"):
		return CategoryImage
	case strings.HasPrefix(ct, "video/"):
		return CategoryVideo
	default:
		return CategoryDocument
	}
}

// Folder is the plural folder name objects of category are filed under.
func Folder(category string) string {
	switch category {
	case CategoryImage:
		return "images"
	case CategoryVideo:
		return "videos"
	default:
		return "documents"
	}
}

// ObjectPath builds the key for a patient upload:
//
//	<prefix>/patients/<patient>/<owner>/<folder>/<uuid>-<filename>
//
// owner is an appointment id, or "pending_slot_<id>" for uploads made before
// the appointment exists.
func ObjectPath(prefix, patientID, owner, category, filename string) string {
	name := sanitizeName(filename)
	return path.Join(prefix, "patients", patientID, owner, Folder(category), uuid.NewString()+"-"+name)
}

// PendingOwner names the folder of files uploaded for slotID before booking.
func PendingOwner(slotID uint) string {
	return fmt.Sprintf("pending_slot_%d", slotID)
}

func sanitizeName(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 || name == "." || name == "/" {
		return "file"
	}
	return b.String()
}

// New builds the store selected by cfg.Backend.
func New(ctx context.Context, cfg config.StorageConfig) (ObjectStore, error) {
	switch cfg.Backend {
	case "s3":
		return NewS3Store(ctx, cfg)
	case "", "memory":
		return NewMemoryStore(cfg.PublicBaseURL), nil
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.Backend)
	}
}
