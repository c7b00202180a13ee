// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Appointment
// model.
//
// Status and payment transitions are written as guarded updates: each one
// names the states it may start from in its WHERE clause and reports whether
// a row actually moved. Callers treat "false" as a lost race or an illegal
// transition, never as success.
package repo

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/tbourn/clinic-booking/internal/domain"
)

// AppointmentFilter narrows staff listings. Empty fields are ignored.
type AppointmentFilter struct {
	Date      string
	Status    string
	PatientID string
}

// CreateAppointment inserts a. Run it inside the booking transaction.
func CreateAppointment(ctx context.Context, tx *gorm.DB, a *domain.Appointment) error {
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	return tx.WithContext(ctx).Create(a).Error
}

// GetAppointment fetches an appointment with its slot, or ErrNotFound.
func GetAppointment(ctx context.Context, db *gorm.DB, id string) (*domain.Appointment, error) {
	var a domain.Appointment
	err := db.WithContext(ctx).
		Preload("Slot").
		Where("id = ?", id).
		First(&a).Error
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// GetPatientAppointment fetches an appointment owned by patientID. A foreign
// appointment is reported as ErrNotFound.
func GetPatientAppointment(ctx context.Context, db *gorm.DB, id, patientID string) (*domain.Appointment, error) {
	var a domain.Appointment
	err := db.WithContext(ctx).
		Preload("Slot").
		Where("id = ? AND patient_id = ?", id, patientID).
		First(&a).Error
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// GetAppointmentByOrderID resolves a gateway order id to its appointment.
func GetAppointmentByOrderID(ctx context.Context, db *gorm.DB, orderID string) (*domain.Appointment, error) {
	var a domain.Appointment
	err := db.WithContext(ctx).
		Preload("Slot").
		Where("payment_order_id = ?", orderID).
		First(&a).Error
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// PatientHasAppointment reports whether the patient has ever held an
// appointment, in any status.
func PatientHasAppointment(ctx context.Context, db *gorm.DB, patientID string) (bool, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.Appointment{}).
		Where("patient_id = ?", patientID).
		Limit(1).
		Count(&n).Error
	return n > 0, err
}

// ListPatientAppointments returns every appointment of patientID with its
// slot, in chronological slot order.
func ListPatientAppointments(ctx context.Context, db *gorm.DB, patientID string) ([]domain.Appointment, error) {
	var out []domain.Appointment
	err := db.WithContext(ctx).
		Joins("JOIN daily_slots ON daily_slots.id = appointments.slot_id").
		Preload("Slot").
		Where("appointments.patient_id = ?", patientID).
		Order("daily_slots.slot_date asc, daily_slots.slot_time asc").
		Find(&out).Error
	return out, err
}

func filteredAppointments(ctx context.Context, db *gorm.DB, f AppointmentFilter) *gorm.DB {
	q := db.WithContext(ctx).
		Model(&domain.Appointment{}).
		Joins("JOIN daily_slots ON daily_slots.id = appointments.slot_id")
	if f.Date != "" {
		q = q.Where("daily_slots.slot_date = ?", f.Date)
	}
	if f.Status != "" {
		q = q.Where("appointments.status = ?", f.Status)
	}
	if f.PatientID != "" {
		q = q.Where("appointments.patient_id = ?", f.PatientID)
	}
	return q
}

// CountAppointments returns how many appointments match f.
func CountAppointments(ctx context.Context, db *gorm.DB, f AppointmentFilter) (int64, error) {
	var total int64
	err := filteredAppointments(ctx, db, f).Count(&total).Error
	return total, err
}

// ListAppointmentsPage returns a page of appointments matching f, with slot
// and patient loaded, ordered by slot date and time.
func ListAppointmentsPage(ctx context.Context, db *gorm.DB, f AppointmentFilter, offset, limit int) ([]domain.Appointment, error) {
	var out []domain.Appointment
	err := filteredAppointments(ctx, db, f).
		Preload("Slot").
		Preload("Patient").
		Order("daily_slots.slot_date asc, daily_slots.slot_time asc, appointments.created_at asc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// DeleteAppointment removes the row. It returns ErrNotFound when nothing was
// deleted.
func DeleteAppointment(ctx context.Context, tx *gorm.DB, id string) error {
	res := tx.WithContext(ctx).Where("id = ?", id).Delete(&domain.Appointment{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func guardedUpdate(ctx context.Context, db *gorm.DB, where string, args []any, set map[string]any) (bool, error) {
	set["updated_at"] = time.Now().UTC()
	res := db.WithContext(ctx).
		Model(&domain.Appointment{}).
		Where(where, args...).
		Updates(set)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// TransitionStatus moves appointment id to status to, provided its current
// status is one of from.
func TransitionStatus(ctx context.Context, db *gorm.DB, id string, from []string, to string) (bool, error) {
	return guardedUpdate(ctx, db,
		"id = ? AND status IN ?", []any{id, from},
		map[string]any{"status": to})
}

// CompleteAppointment moves a CONFIRMED appointment to COMPLETED, recording
// whether it is free and its fee (null for free sessions).
func CompleteAppointment(ctx context.Context, db *gorm.DB, id string, isFree bool, fee decimal.NullDecimal) (bool, error) {
	return guardedUpdate(ctx, db,
		"id = ? AND status = ? AND payment_status <> ?", []any{id, domain.StatusConfirmed, domain.PaymentPaid},
		map[string]any{
			"status":  domain.StatusCompleted,
			"is_free": isFree,
			"fee":     fee,
		})
}

// UpdateFee sets a concrete fee and clears is_free. Any outstanding gateway
// order was opened for the old amount, so its id is dropped and a callback
// for it no longer matches. Paid appointments are left untouched.
func UpdateFee(ctx context.Context, db *gorm.DB, id string, fee decimal.Decimal) (bool, error) {
	return guardedUpdate(ctx, db,
		"id = ? AND payment_status <> ?", []any{id, domain.PaymentPaid},
		map[string]any{
			"fee":              decimal.NewNullDecimal(fee),
			"is_free":          false,
			"payment_order_id": nil,
		})
}

// RecordOrder stores the gateway order id for a new payment attempt and
// resets a FAILED attempt back to PENDING.
func RecordOrder(ctx context.Context, db *gorm.DB, id, orderID string) (bool, error) {
	return guardedUpdate(ctx, db,
		"id = ? AND payment_status <> ?", []any{id, domain.PaymentPaid},
		map[string]any{
			"payment_order_id": orderID,
			"payment_status":   domain.PaymentPending,
		})
}

// MarkPaid sets PAID with the optional gateway references. It reports false
// when the appointment was already PAID.
func MarkPaid(ctx context.Context, db *gorm.DB, id string, paymentID, signature *string) (bool, error) {
	set := map[string]any{"payment_status": domain.PaymentPaid}
	if paymentID != nil {
		set["payment_id"] = *paymentID
	}
	if signature != nil {
		set["payment_signature"] = *signature
	}
	return guardedUpdate(ctx, db,
		"id = ? AND payment_status <> ?", []any{id, domain.PaymentPaid},
		set)
}

// MarkFailed moves the PENDING payment of orderID to FAILED.
func MarkFailed(ctx context.Context, db *gorm.DB, orderID string) (bool, error) {
	return guardedUpdate(ctx, db,
		"payment_order_id = ? AND payment_status = ?", []any{orderID, domain.PaymentPending},
		map[string]any{"payment_status": domain.PaymentFailed})
}

// SlotLoad is the number of live appointments on one slot.
type SlotLoad struct {
	SlotID uint
	Live   int64
}

// CountLiveBySlot returns the non-cancelled appointment count per slot for
// date, or for every date when date is empty. Slots without appointments are
// absent from the result.
func CountLiveBySlot(ctx context.Context, db *gorm.DB, date string) ([]SlotLoad, error) {
	q := db.WithContext(ctx).
		Model(&domain.Appointment{}).
		Select("appointments.slot_id AS slot_id, COUNT(*) AS live").
		Where("appointments.status <> ?", domain.StatusCancelled)
	if date != "" {
		q = q.Joins("JOIN daily_slots ON daily_slots.id = appointments.slot_id").
			Where("daily_slots.slot_date = ?", date)
	}
	var out []SlotLoad
	err := q.Group("appointments.slot_id").Scan(&out).Error
	return out, err
}

// CountLiveForSlot returns the number of non-cancelled appointments on one
// slot. Run it under LockSlot to get a value consistent with booked_count.
func CountLiveForSlot(ctx context.Context, db *gorm.DB, slotID uint) (int64, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.Appointment{}).
		Where("slot_id = ? AND status <> ?", slotID, domain.StatusCancelled).
		Count(&n).Error
	return n, err
}
