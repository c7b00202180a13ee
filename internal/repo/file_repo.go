// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for PatientFile
// metadata. The objects themselves live in the object store.
package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/tbourn/clinic-booking/internal/domain"
)

// CreateFile inserts file metadata.
func CreateFile(ctx context.Context, db *gorm.DB, f *domain.PatientFile) error {
	return db.WithContext(ctx).Create(f).Error
}

// GetPatientFile fetches a file owned by patientID, or ErrNotFound.
func GetPatientFile(ctx context.Context, db *gorm.DB, id, patientID string) (*domain.PatientFile, error) {
	var f domain.PatientFile
	err := db.WithContext(ctx).
		Where("id = ? AND patient_id = ?", id, patientID).
		First(&f).Error
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// ListPatientFiles returns a patient's files, newest first.
func ListPatientFiles(ctx context.Context, db *gorm.DB, patientID string) ([]domain.PatientFile, error) {
	var out []domain.PatientFile
	err := db.WithContext(ctx).
		Where("patient_id = ?", patientID).
		Order("uploaded_at desc").
		Find(&out).Error
	return out, err
}

// ListAppointmentFiles returns the files attached to an appointment.
func ListAppointmentFiles(ctx context.Context, db *gorm.DB, appointmentID string) ([]domain.PatientFile, error) {
	var out []domain.PatientFile
	err := db.WithContext(ctx).
		Where("appointment_id = ?", appointmentID).
		Order("uploaded_at desc").
		Find(&out).Error
	return out, err
}

// AttachPendingFiles links the files a patient uploaded for slotID before
// booking to the new appointment and returns how many were moved.
func AttachPendingFiles(ctx context.Context, db *gorm.DB, patientID string, slotID uint, appointmentID string) (int64, error) {
	res := db.WithContext(ctx).
		Model(&domain.PatientFile{}).
		Where("patient_id = ? AND pending_slot_id = ? AND appointment_id IS NULL", patientID, slotID).
		Updates(map[string]any{
			"appointment_id":  appointmentID,
			"pending_slot_id": nil,
		})
	return res.RowsAffected, res.Error
}

// DeleteFile removes file metadata, or returns ErrNotFound.
func DeleteFile(ctx context.Context, db *gorm.DB, id string) error {
	res := db.WithContext(ctx).Where("id = ?", id).Delete(&domain.PatientFile{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
