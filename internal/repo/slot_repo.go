// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for slot templates
// and materialized daily slots.
//
// DailySlot rows are the single source of capacity truth. The functions that
// mutate booked_count (IncrementBooked, DecrementBooked) are intended to run
// inside a transaction that has first called LockSlot on the same row.
//
// Functions:
//
//   - CreateTemplates(ctx, db, times) -> (created int64, error)
//     Get-or-create templates for the given "HH:MM" times.
//
//   - InsertMissingSlots(ctx, db, date, times, capacity) -> (int64, error)
//     Materializes one slot per time for date; existing rows are untouched.
//
//   - LockSlot(ctx, tx, id) -> *domain.DailySlot, error
//     Takes the row lock (FOR UPDATE on Postgres, the database write lock on
//     SQLite) and returns the current row.
//
//   - NextAvailable / PreviousAvailable / AvailableAt
//     Read-only availability queries used by the suggestion engine.
package repo

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/clinic-booking/internal/domain"
)

// CreateTemplates inserts an active template for each time that does not yet
// have one and returns how many rows were created.
func CreateTemplates(ctx context.Context, db *gorm.DB, times []string) (int64, error) {
	if len(times) == 0 {
		return 0, nil
	}
	now := time.Now().UTC()
	rows := make([]domain.SlotTemplate, 0, len(times))
	for _, t := range times {
		rows = append(rows, domain.SlotTemplate{Time: t, IsActive: true, CreatedAt: now})
	}
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "slot_time"}}, DoNothing: true}).
		Create(&rows)
	return res.RowsAffected, res.Error
}

// ListTemplates returns templates ordered by time. When activeOnly is set,
// inactive templates are skipped.
func ListTemplates(ctx context.Context, db *gorm.DB, activeOnly bool) ([]domain.SlotTemplate, error) {
	var out []domain.SlotTemplate
	q := db.WithContext(ctx).Order("slot_time asc")
	if activeOnly {
		q = q.Where("is_active = ?", true)
	}
	err := q.Find(&out).Error
	return out, err
}

// SetTemplateActive toggles a template. It returns ErrNotFound when no row
// matches id.
func SetTemplateActive(ctx context.Context, db *gorm.DB, id uint, active bool) (*domain.SlotTemplate, error) {
	res := db.WithContext(ctx).
		Model(&domain.SlotTemplate{}).
		Where("id = ?", id).
		Update("is_active", active)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	var t domain.SlotTemplate
	if err := db.WithContext(ctx).First(&t, id).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

// InsertMissingSlots creates a slot with the given capacity for every time on
// date that has none. Concurrent callers are safe: the (date, time) unique
// index turns a lost race into a no-op.
func InsertMissingSlots(ctx context.Context, db *gorm.DB, date string, times []string, capacity int) (int64, error) {
	if len(times) == 0 {
		return 0, nil
	}
	now := time.Now().UTC()
	rows := make([]domain.DailySlot, 0, len(times))
	for _, t := range times {
		rows = append(rows, domain.DailySlot{
			Date:      date,
			Time:      t,
			Capacity:  capacity,
			IsActive:  true,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "slot_date"}, {Name: "slot_time"}},
			DoNothing: true,
		}).
		Create(&rows)
	return res.RowsAffected, res.Error
}

// ListSlotsByDate returns every slot of date ordered by time.
func ListSlotsByDate(ctx context.Context, db *gorm.DB, date string) ([]domain.DailySlot, error) {
	var out []domain.DailySlot
	err := db.WithContext(ctx).
		Where("slot_date = ?", date).
		Order("slot_time asc").
		Find(&out).Error
	return out, err
}

// CountSlotsForDate returns how many slots exist for date.
func CountSlotsForDate(ctx context.Context, db *gorm.DB, date string) (int64, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.DailySlot{}).
		Where("slot_date = ?", date).
		Count(&n).Error
	return n, err
}

// GetSlot fetches a slot by id, or ErrNotFound.
func GetSlot(ctx context.Context, db *gorm.DB, id uint) (*domain.DailySlot, error) {
	var s domain.DailySlot
	if err := db.WithContext(ctx).First(&s, id).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// SetLockTimeout bounds how long the current transaction waits for row locks.
// It is a no-op on SQLite, where busy_timeout and the context deadline
// already bound the wait.
func SetLockTimeout(ctx context.Context, tx *gorm.DB, d time.Duration) error {
	if isSQLite(tx) || d <= 0 {
		return nil
	}
	return tx.WithContext(ctx).Exec(fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", d.Milliseconds())).Error
}

// LockSlot acquires the exclusive lock on slot id for the rest of tx and
// returns the row as seen under that lock.
//
// On SQLite the first statement of the transaction must be a write so the
// connection takes the database write lock up front (a read-then-write
// upgrade under WAL fails with SQLITE_BUSY_SNAPSHOT instead of waiting). The
// self-assignment below does exactly that without changing the row.
func LockSlot(ctx context.Context, tx *gorm.DB, id uint) (*domain.DailySlot, error) {
	if isSQLite(tx) {
		res := tx.WithContext(ctx).Exec("UPDATE daily_slots SET booked_count = booked_count WHERE id = ?", id)
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
	var s domain.DailySlot
	if err := q.First(&s, id).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// IncrementBooked takes one seat on slot id. It reports false when the slot
// is inactive or already at capacity, in which case nothing was written.
func IncrementBooked(ctx context.Context, tx *gorm.DB, id uint) (bool, error) {
	res := tx.WithContext(ctx).
		Model(&domain.DailySlot{}).
		Where("id = ? AND is_active = ? AND booked_count < capacity", id, true).
		Updates(map[string]any{
			"booked_count": gorm.Expr("booked_count + 1"),
			"updated_at":   time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// DecrementBooked releases one seat on slot id, never going below zero.
func DecrementBooked(ctx context.Context, tx *gorm.DB, id uint) error {
	res := tx.WithContext(ctx).
		Model(&domain.DailySlot{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"booked_count": gorm.Expr("CASE WHEN booked_count > 0 THEN booked_count - 1 ELSE 0 END"),
			"updated_at":   time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetBookedCount overwrites booked_count, clamped to [0, capacity].
func SetBookedCount(ctx context.Context, db *gorm.DB, id uint, n int64) error {
	if n < 0 {
		n = 0
	}
	return db.WithContext(ctx).
		Model(&domain.DailySlot{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"booked_count": gorm.Expr("CASE WHEN ? > capacity THEN capacity ELSE ? END", n, n),
			"updated_at":   time.Now().UTC(),
		}).Error
}

// SetSlotActive toggles a single slot. Staff use it to close a slot for a day.
func SetSlotActive(ctx context.Context, db *gorm.DB, id uint, active bool) error {
	res := db.WithContext(ctx).
		Model(&domain.DailySlot{}).
		Where("id = ?", id).
		Updates(map[string]any{"is_active": active, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func availableOn(ctx context.Context, db *gorm.DB, date string) *gorm.DB {
	return db.WithContext(ctx).
		Where("slot_date = ? AND is_active = ? AND booked_count < capacity", date, true)
}

// NextAvailable returns the earliest bookable slot on date strictly after
// tm, or ErrNotFound.
func NextAvailable(ctx context.Context, db *gorm.DB, date, tm string) (*domain.DailySlot, error) {
	var s domain.DailySlot
	err := availableOn(ctx, db, date).
		Where("slot_time > ?", tm).
		Order("slot_time asc").
		Take(&s).Error
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// PreviousAvailable returns the latest bookable slot on date strictly before
// tm, or ErrNotFound.
func PreviousAvailable(ctx context.Context, db *gorm.DB, date, tm string) (*domain.DailySlot, error) {
	var s domain.DailySlot
	err := availableOn(ctx, db, date).
		Where("slot_time < ?", tm).
		Order("slot_time desc").
		Take(&s).Error
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// AvailableAt returns the slot at exactly (date, tm) if it is bookable, or
// ErrNotFound.
func AvailableAt(ctx context.Context, db *gorm.DB, date, tm string) (*domain.DailySlot, error) {
	var s domain.DailySlot
	err := availableOn(ctx, db, date).
		Where("slot_time = ?", tm).
		Take(&s).Error
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// ListSlots returns the slots of date, or of every date when date is empty,
// ordered by date and time.
func ListSlots(ctx context.Context, db *gorm.DB, date string) ([]domain.DailySlot, error) {
	q := db.WithContext(ctx).Order("slot_date asc, slot_time asc")
	if date != "" {
		q = q.Where("slot_date = ?", date)
	}
	var out []domain.DailySlot
	err := q.Find(&out).Error
	return out, err
}
