// Package services – FileService
//
// FileService stores patient uploads in the object store and their metadata
// in the database. A file belongs either to an existing appointment or to a
// slot the patient is about to book; the latter is re-linked to the
// appointment when the booking commits.
//
// Size policy: images and documents up to MaxImageBytes, videos up to
// MaxVideoBytes. Oversized uploads are rejected before any byte reaches the
// store.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tbourn/clinic-booking/internal/domain"
	"github.com/tbourn/clinic-booking/internal/repo"
	"github.com/tbourn/clinic-booking/internal/storage"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Default size limits.
const (
	DefaultMaxImageBytes int64 = 9 << 20
	DefaultMaxVideoBytes int64 = 90 << 20
)

// Upload describes one incoming file. Exactly one of AppointmentID and SlotID
// must be set.
type Upload struct {
	PatientID     string
	AppointmentID string
	SlotID        uint
	Title         string
	Filename      string
	ContentType   string
	Size          int64
	Body          io.Reader
}

// FileService manages patient files.
type FileService struct {
	DB     *gorm.DB
	Store  storage.ObjectStore
	Prefix string

	MaxImageBytes int64
	MaxVideoBytes int64
}

// NewFileService constructs a FileService with the default size limits.
func NewFileService(db *gorm.DB, store storage.ObjectStore, prefix string) *FileService {
	return &FileService{
		DB:            db,
		Store:         store,
		Prefix:        prefix,
		MaxImageBytes: DefaultMaxImageBytes,
		MaxVideoBytes: DefaultMaxVideoBytes,
	}
}

// Limit returns the size limit applied to category.
func (s *FileService) Limit(category string) int64 {
	if category == storage.CategoryVideo {
		return s.MaxVideoBytes
	}
	return s.MaxImageBytes
}

// Upload validates u, stores the object and records its metadata.
//
// Errors:
//   - ErrInvalidFile for a missing body or owner, or both owners at once.
//   - ErrFileTooLarge when the size exceeds the category limit.
//   - ErrAppointmentNotFound / ErrSlotNotFound for an unknown owner.
//   - ErrStorage when the object store fails.
func (s *FileService) Upload(ctx context.Context, u Upload) (*domain.PatientFile, error) {
	category := storage.CategoryFor(u.ContentType)
	ctx, span := otel.Tracer("services/FileService").Start(ctx, "Upload",
		trace.WithAttributes(
			attribute.String("patient.id", u.PatientID),
			attribute.String("file.category", category),
			attribute.Int64("file.size", u.Size),
		))
	defer span.End()

	if u.Body == nil || u.Size <= 0 || (u.AppointmentID == "") == (u.SlotID == 0) {
		return nil, ErrInvalidFile
	}
	if u.Size > s.Limit(category) {
		return nil, ErrFileTooLarge
	}

	f := &domain.PatientFile{
		ID:        uuid.NewString(),
		PatientID: u.PatientID,
		FileType:  category,
		SizeBytes: u.Size,
	}
	var owner string
	if u.AppointmentID != "" {
		if _, err := repo.GetPatientAppointment(ctx, s.DB, u.AppointmentID, u.PatientID); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return nil, ErrAppointmentNotFound
			}
			return nil, err
		}
		owner = u.AppointmentID
		f.AppointmentID = &u.AppointmentID
	} else {
		if _, err := repo.GetSlot(ctx, s.DB, u.SlotID); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return nil, ErrSlotNotFound
			}
			return nil, err
		}
		owner = storage.PendingOwner(u.SlotID)
		slotID := u.SlotID
		f.PendingSlotID = &slotID
	}

	f.Title = strings.TrimSpace(u.Title)
	if f.Title == "" {
		f.Title = u.Filename
	}
	if f.Title == "" {
		f.Title = "Untitled"
	}
	meta, err := json.Marshal(map[string]string{
		"content_type": u.ContentType,
		"filename":     u.Filename,
	})
	if err != nil {
		return nil, err
	}
	f.Metadata = datatypes.JSON(meta)

	key := storage.ObjectPath(s.Prefix, u.PatientID, owner, category, u.Filename)
	obj, err := s.Store.Upload(ctx, io.LimitReader(u.Body, u.Size), u.Size, key, category, u.ContentType)
	if err != nil {
		logFrom(ctx).Error().Err(err).Str("key", key).Msg("object upload failed")
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	f.FileURL, f.PublicID = obj.URL, obj.ID

	if err := repo.CreateFile(ctx, s.DB, f); err != nil {
		if derr := s.Store.Delete(ctx, obj.ID, category); derr != nil {
			logFrom(ctx).Error().Err(derr).Str("object_id", obj.ID).Msg("orphaned object after failed insert")
		}
		return nil, err
	}
	logFrom(ctx).Info().Str("file_id", f.ID).Str("owner", owner).Int64("size", u.Size).Msg("file uploaded")
	return f, nil
}

// List returns the files of patientID, newest first.
func (s *FileService) List(ctx context.Context, patientID string) ([]domain.PatientFile, error) {
	return repo.ListPatientFiles(ctx, s.DB, patientID)
}

// ListForAppointment returns the files attached to an appointment, for staff
// preparing the session.
func (s *FileService) ListForAppointment(ctx context.Context, appointmentID string) ([]domain.PatientFile, error) {
	if _, err := repo.GetAppointment(ctx, s.DB, appointmentID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}
	return repo.ListAppointmentFiles(ctx, s.DB, appointmentID)
}

// Delete removes the object and then the metadata of a file owned by
// patientID. An object already missing from the store is not an error.
func (s *FileService) Delete(ctx context.Context, patientID, id string) error {
	ctx, span := otel.Tracer("services/FileService").Start(ctx, "Delete",
		trace.WithAttributes(attribute.String("file.id", id)))
	defer span.End()

	f, err := repo.GetPatientFile(ctx, s.DB, id, patientID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrFileNotFound
		}
		return err
	}
	if err := s.Store.Delete(ctx, f.PublicID, f.FileType); err != nil && !errors.Is(err, storage.ErrObjectNotFound) {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if err := repo.DeleteFile(ctx, s.DB, f.ID); err != nil && !errors.Is(err, repo.ErrNotFound) {
		return err
	}
	return nil
}
