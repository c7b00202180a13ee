package services

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/tbourn/clinic-booking/internal/domain"
	"github.com/tbourn/clinic-booking/internal/storage"
)

type failingStore struct{ err error }

func (f failingStore) Upload(context.Context, io.Reader, int64, string, string, string) (storage.Object, error) {
	return storage.Object{}, f.err
}

func (f failingStore) Delete(context.Context, string, string) error { return f.err }

func upload(patientID, contentType, body string) Upload {
	return Upload{
		PatientID:   patientID,
		Title:       "scan",
		Filename:    "scan result.png",
		ContentType: contentType,
		Size:        int64(len(body)),
		Body:        strings.NewReader(body),
	}
}

func TestFileUpload_AppointmentOwner(t *testing.T) {
	db := newTestDB(t)
	store := storage.NewMemoryStore("")
	svc := NewFileService(db, store, "clinic")
	ctx := context.Background()
	p := mustPatient(t, db)
	a := mustAppointment(t, db, p, mustSlot(t, db, testToday, "10:00", 1, 1), domain.StatusConfirmed, nil)

	u := upload(p.ID, "image/png", "png-bytes")
	u.AppointmentID = a.ID
	f, err := svc.Upload(ctx, u)
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if f.FileType != domain.FileImage || f.SizeBytes != 9 || f.AppointmentID == nil || *f.AppointmentID != a.ID || f.PendingSlotID != nil {
		t.Fatalf("unexpected file: %+v", f)
	}
	if !strings.HasPrefix(f.PublicID, "clinic/patients/"+p.ID+"/"+a.ID+"/images/") || !strings.HasSuffix(f.PublicID, "-scan_result.png") {
		t.Fatalf("unexpected key %q", f.PublicID)
	}
	if data, ok := store.Get(f.PublicID); !ok || string(data) != "png-bytes" {
		t.Fatalf("stored object = (%q, %v)", data, ok)
	}
	if !bytes.Contains(f.Metadata, []byte(`"content_type":"image/png"`)) {
		t.Fatalf("metadata = %s", f.Metadata)
	}

	files, err := svc.ListForAppointment(ctx, a.ID)
	if err != nil || len(files) != 1 {
		t.Fatalf("ListForAppointment = (%d, %v)", len(files), err)
	}
	if _, err := svc.ListForAppointment(ctx, "missing"); !errors.Is(err, ErrAppointmentNotFound) {
		t.Fatalf("unknown appointment: want ErrAppointmentNotFound, got %v", err)
	}
}

func TestFileUpload_PendingSlotOwner(t *testing.T) {
	db := newTestDB(t)
	svc := NewFileService(db, storage.NewMemoryStore(""), "")
	p := mustPatient(t, db)
	s := mustSlot(t, db, testToday, "10:00", 1, 0)

	u := upload(p.ID, "application/pdf", "%PDF-1.4")
	u.SlotID = s.ID
	f, err := svc.Upload(context.Background(), u)
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if f.PendingSlotID == nil || *f.PendingSlotID != s.ID || f.FileType != domain.FileDocument {
		t.Fatalf("unexpected file: %+v", f)
	}
	if !strings.Contains(f.PublicID, "/pending_slot_") || !strings.Contains(f.PublicID, "/documents/") {
		t.Fatalf("unexpected key %q", f.PublicID)
	}
}

func TestFileUpload_Rejections(t *testing.T) {
	db := newTestDB(t)
	store := storage.NewMemoryStore("")
	svc := NewFileService(db, store, "")
	svc.MaxImageBytes, svc.MaxVideoBytes = 8, 16
	p := mustPatient(t, db)
	s := mustSlot(t, db, testToday, "10:00", 1, 0)
	foreign := mustAppointment(t, db, mustPatient(t, db), s, domain.StatusConfirmed, nil)

	withSlot := func(u Upload) Upload { u.SlotID = s.ID; return u }
	cases := []struct {
		name string
		u    Upload
		want error
	}{
		{"no owner", upload(p.ID, "image/png", "abc"), ErrInvalidFile},
		{"both owners", func() Upload { u := withSlot(upload(p.ID, "image/png", "abc")); u.AppointmentID = foreign.ID; return u }(), ErrInvalidFile},
		{"empty", withSlot(upload(p.ID, "image/png", "")), ErrInvalidFile},
		{"image too large", withSlot(upload(p.ID, "image/png", "123456789")), ErrFileTooLarge},
		{"document too large", withSlot(upload(p.ID, "application/pdf", "123456789")), ErrFileTooLarge},
		{"video too large", withSlot(upload(p.ID, "video/mp4", strings.Repeat("v", 17))), ErrFileTooLarge},
		{"foreign appointment", func() Upload { u := upload(p.ID, "image/png", "abc"); u.AppointmentID = foreign.ID; return u }(), ErrAppointmentNotFound},
		{"unknown slot", func() Upload { u := upload(p.ID, "image/png", "abc"); u.SlotID = 999; return u }(), ErrSlotNotFound},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if _, err := svc.Upload(context.Background(), c.u); !errors.Is(err, c.want) {
				t.Fatalf("want %v, got %v", c.want, err)
			}
		})
	}
	if store.Len() != 0 {
		t.Fatalf("rejected uploads reached the store: %d objects", store.Len())
	}

	// A 16-byte video fits the video limit although it exceeds the image one.
	if _, err := svc.Upload(context.Background(), withSlot(upload(p.ID, "video/mp4", strings.Repeat("v", 16)))); err != nil {
		t.Fatalf("video within limit: %v", err)
	}
}

func TestFileUpload_StoreFailure(t *testing.T) {
	db := newTestDB(t)
	svc := NewFileService(db, failingStore{err: errors.New("bucket unavailable")}, "")
	p := mustPatient(t, db)
	u := upload(p.ID, "image/png", "abc")
	u.SlotID = mustSlot(t, db, testToday, "10:00", 1, 0).ID

	if _, err := svc.Upload(context.Background(), u); !errors.Is(err, ErrStorage) {
		t.Fatalf("want ErrStorage, got %v", err)
	}
	files, _ := svc.List(context.Background(), p.ID)
	if len(files) != 0 {
		t.Fatalf("metadata recorded for failed upload: %+v", files)
	}
}

func TestFileDelete(t *testing.T) {
	db := newTestDB(t)
	store := storage.NewMemoryStore("")
	svc := NewFileService(db, store, "")
	ctx := context.Background()
	p := mustPatient(t, db)
	u := upload(p.ID, "image/png", "abc")
	u.SlotID = mustSlot(t, db, testToday, "10:00", 1, 0).ID
	f, err := svc.Upload(ctx, u)
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}

	if err := svc.Delete(ctx, mustPatient(t, db).ID, f.ID); !errors.Is(err, ErrFileNotFound) {
		t.Fatalf("foreign delete: want ErrFileNotFound, got %v", err)
	}
	if err := svc.Delete(ctx, p.ID, f.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if store.Len() != 0 {
		t.Fatalf("object not removed")
	}
	if err := svc.Delete(ctx, p.ID, f.ID); !errors.Is(err, ErrFileNotFound) {
		t.Fatalf("delete twice: want ErrFileNotFound, got %v", err)
	}
}

func TestFileDelete_ObjectAlreadyGone(t *testing.T) {
	db := newTestDB(t)
	store := storage.NewMemoryStore("")
	svc := NewFileService(db, store, "")
	ctx := context.Background()
	p := mustPatient(t, db)
	u := upload(p.ID, "image/png", "abc")
	u.SlotID = mustSlot(t, db, testToday, "10:00", 1, 0).ID
	f, _ := svc.Upload(ctx, u)

	if err := store.Delete(ctx, f.PublicID, f.FileType); err != nil {
		t.Fatalf("store delete: %v", err)
	}
	if err := svc.Delete(ctx, p.ID, f.ID); err != nil {
		t.Fatalf("Delete with missing object: %v", err)
	}
	files, _ := svc.List(ctx, p.ID)
	if len(files) != 0 {
		t.Fatalf("metadata not removed")
	}
}
