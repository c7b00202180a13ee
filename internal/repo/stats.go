// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate/statistics queries used
// for conditional responses (ETag generation) in the HTTP layer.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/clinic-booking/internal/domain"
)

// SlotsStats returns the number of slots on date and the greatest UpdatedAt
// among them. Any booking, cancellation or reconciliation touches updated_at,
// so the pair changes whenever availability does.
//
// Return values:
//   - count:        total slots for date
//   - maxUpdatedAt: pointer to the greatest UpdatedAt, or nil if no rows
//   - err:          database error, if any
func SlotsStats(ctx context.Context, db *gorm.DB, date string) (count int64, maxUpdatedAt *time.Time, err error) {
	scope := func() *gorm.DB {
		return db.WithContext(ctx).Model(&domain.DailySlot{}).Where("slot_date = ?", date)
	}

	if err = scope().Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Get latest updated_at (avoid MAX() -> TEXT in SQLite)
	var row struct {
		UpdatedAt time.Time
	}
	if err = scope().Select("updated_at").Order("updated_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.UpdatedAt, nil
}

// AppointmentsStats is the appointment-listing counterpart of SlotsStats,
// scoped by the same filter the listing uses.
func AppointmentsStats(ctx context.Context, db *gorm.DB, f AppointmentFilter) (count int64, maxUpdatedAt *time.Time, err error) {
	if err = filteredAppointments(ctx, db, f).Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	var row struct {
		UpdatedAt time.Time
	}
	err = filteredAppointments(ctx, db, f).
		Select("appointments.updated_at AS updated_at").
		Order("appointments.updated_at DESC").
		Limit(1).
		Scan(&row).Error
	if err != nil {
		return 0, nil, err
	}
	return count, &row.UpdatedAt, nil
}
