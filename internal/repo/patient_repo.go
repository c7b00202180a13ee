// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Patient
// model.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/clinic-booking/internal/domain"
)

// CreatePatient inserts p. A phone number that is already registered yields
// ErrDuplicate.
func CreatePatient(ctx context.Context, db *gorm.DB, p *domain.Patient) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	if err := db.WithContext(ctx).Create(p).Error; err != nil {
		if IsDuplicate(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// GetPatient fetches a patient by id, or ErrNotFound.
func GetPatient(ctx context.Context, db *gorm.DB, id string) (*domain.Patient, error) {
	var p domain.Patient
	if err := db.WithContext(ctx).Where("id = ?", id).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// LockPatient takes a row lock on patient id for the rest of tx, or returns
// ErrNotFound. Bookings that apply a per-patient rule lock the patient before
// the slot so two requests from one patient run one after the other.
func LockPatient(ctx context.Context, tx *gorm.DB, id string) (*domain.Patient, error) {
	if isSQLite(tx) {
		res := tx.WithContext(ctx).Exec("UPDATE patients SET id = id WHERE id = ?", id)
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 0 {
			return nil, ErrNotFound
		}
	}
	q := tx.WithContext(ctx)
	if !isSQLite(tx) {
		q = q.Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate})
	}
	var p domain.Patient
	if err := q.Where("id = ?", id).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// CountPatients returns the number of registered patients.
func CountPatients(ctx context.Context, db *gorm.DB) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.Patient{}).Count(&n).Error
	return n, err
}

// ListPatientsPage returns patients, newest first.
func ListPatientsPage(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.Patient, error) {
	var out []domain.Patient
	err := db.WithContext(ctx).
		Order("created_at desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}
