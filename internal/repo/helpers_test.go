package repo

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/clinic-booking/internal/domain"
)

// newRepoDB returns an isolated in-memory database with the full schema.
func newRepoDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:repo_%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

// newFileDB opens a file-backed database through OpenSQLite so tests exercise
// real WAL locking between pooled connections.
func newFileDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "clinic.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	db = db.Session(&gorm.Session{Logger: logger.Default.LogMode(logger.Silent)})
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func mustPatient(t *testing.T, db *gorm.DB) *domain.Patient {
	t.Helper()
	p := &domain.Patient{
		ID:       uuid.NewString(),
		FullName: "Test Patient",
		Email:    "p@example.com",
		Phone:    uuid.NewString()[:12],
		Gender:   "O",
		Country:  "India",
	}
	if err := CreatePatient(context.Background(), db, p); err != nil {
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
