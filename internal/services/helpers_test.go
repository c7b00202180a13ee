package services

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/clinic-booking/internal/domain"
	"github.com/tbourn/clinic-booking/internal/repo"
)

const (
	testToday    = "2030-05-10"
	testTomorrow = "2030-05-11"
)

// newTestDB returns an isolated in-memory database with the full schema.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:svc_%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

// newFileTestDB opens a file-backed database so concurrent transactions
// contend on real SQLite locks.
func newFileTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := repo.OpenSQLite(filepath.Join(t.TempDir(), "clinic.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	db = db.Session(&gorm.Session{Logger: logger.Default.LogMode(logger.Silent)})
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

// testClock pins "today" to testToday.
func testClock() Clock {
	return Clock{
		Loc: time.UTC,
		Now: func() time.Time { return time.Date(2030, 5, 10, 9, 30, 0, 0, time.UTC) },
	}
}

func mustPatient(t *testing.T, db *gorm.DB) *domain.Patient {
	t.Helper()
	p := &domain.Patient{
		ID:       uuid.NewString(),
		FullName: "Test Patient",
		Email:    "patient@example.com",
		Phone:    uuid.NewString()[:12],
		Gender:   "F",
		Country:  "India",
	}
	if err := repo.CreatePatient(context.Background(), db, p); err != nil {
		t.Fatalf("create patient: %v", err)
	}
	return p
}

func mustSlot(t *testing.T, db *gorm.DB, date, tm string, capacity, booked int) *domain.DailySlot {
	t.Helper()
	s := &domain.DailySlot{Date: date, Time: tm, Capacity: capacity, BookedCount: booked, IsActive: true}
	if err := db.Create(s).Error; err != nil {
		t.Fatalf("create slot %s %s: %v", date, tm, err)
	}
	return s
}

// mustAppointment inserts an appointment without touching booked_count.
func mustAppointment(t *testing.T, db *gorm.DB, p *domain.Patient, s *domain.DailySlot, status string, mutate func(*domain.Appointment)) *domain.Appointment {
	t.Helper()
	a := &domain.Appointment{
		ID:            uuid.NewString(),
		PatientID:     p.ID,
		SlotID:        s.ID,
		Status:        status,
		PaymentStatus: domain.PaymentPending,
		BookingSource: domain.SourceDoctor,
	}
	if mutate != nil {
		mutate(a)
	}
	if err := repo.CreateAppointment(context.Background(), db, a); err != nil {
		t.Fatalf("create appointment: %v", err)
	}
	return a
}

func bookedCount(t *testing.T, db *gorm.DB, slotID uint) int {
	t.Helper()
	s, err := repo.GetSlot(context.Background(), db, slotID)
	if err != nil {
		t.Fatalf("GetSlot: %v", err)
	}
	return s.BookedCount
}

func countAppointments(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var n int64
	if err := db.Model(&domain.Appointment{}).Count(&n).Error; err != nil {
		t.Fatalf("count appointments: %v", err)
	}
	return n
}
