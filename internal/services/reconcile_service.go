// Package services – ReconcileService
//
// booked_count is a denormalized counter maintained in the same transaction
// as every appointment insert, cancel and delete. ReconcileService is the
// safety net: it recounts the live (non-cancelled) appointments of each slot
// and rewrites booked_count where the two disagree, clamped to
// [0, capacity]. It runs from cron, the CLI and a staff endpoint.
package services

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tbourn/clinic-booking/internal/observability"
	"github.com/tbourn/clinic-booking/internal/repo"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ReconcileReport summarizes one reconciliation run.
type ReconcileReport struct {
	Date      string `json:"date,omitempty"`
	Checked   int    `json:"checked"`
	Corrected int    `json:"corrected"`
	// Overbooked counts slots with more live appointments than capacity.
	Overbooked int `json:"overbooked"`
}

// ReconcileService corrects booked_count drift.
type ReconcileService struct {
	DB          *gorm.DB
	LockTimeout time.Duration
}

// NewReconcileService constructs a ReconcileService.
func NewReconcileService(db *gorm.DB, lockTimeout time.Duration) *ReconcileService {
	return &ReconcileService{DB: db, LockTimeout: lockTimeout}
}

// Run reconciles the slots of date, or every slot when date is empty.
//
// A first pass compares counters without locks. Each mismatching slot is
// then recounted and rewritten under its row lock, so a booking that commits
// between the two passes is never undone.
func (s *ReconcileService) Run(ctx context.Context, date string) (ReconcileReport, error) {
	ctx, span := otel.Tracer("services/ReconcileService").Start(ctx, "Run",
		trace.WithAttributes(attribute.String("slot.date", date)))
	defer span.End()

	rep := ReconcileReport{Date: date}
	if date != "" {
		if _, err := parseDate(date); err != nil {
			return rep, err
		}
	}

	slots, err := repo.ListSlots(ctx, s.DB, date)
	if err != nil {
		return rep, err
	}
	loads, err := repo.CountLiveBySlot(ctx, s.DB, date)
	if err != nil {
		return rep, err
	}
	live := make(map[uint]int64, len(loads))
	for _, l := range loads {
		live[l.SlotID] = l.Live
	}

	for _, sl := range slots {
		rep.Checked++
		if clampCount(live[sl.ID], sl.Capacity) == int64(sl.BookedCount) {
			if live[sl.ID] > int64(sl.Capacity) {
				rep.Overbooked++
			}
			continue
		}
		changed, over, err := s.fix(ctx, sl.ID)
		if err != nil {
			return rep, err
		}
		if changed {
			rep.Corrected++
		}
		if over {
			rep.Overbooked++
		}
	}

	observability.ObserveReconcileCorrections(rep.Corrected)
	span.SetAttributes(
		attribute.Int("reconcile.checked", rep.Checked),
		attribute.Int("reconcile.corrected", rep.Corrected),
	)
	level := zerolog.InfoLevel
	if rep.Corrected > 0 || rep.Overbooked > 0 {
		level = zerolog.WarnLevel
	}
	logFrom(ctx).WithLevel(level).
		Str("date", date).
		Int("checked", rep.Checked).
		Int("corrected", rep.Corrected).
		Int("overbooked", rep.Overbooked).
		Msg("booked_count reconciled")
	return rep, nil
}

// fix recounts slotID under its lock and rewrites booked_count if needed.
func (s *ReconcileService) fix(ctx context.Context, slotID uint) (changed, overbooked bool, err error) {
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repo.SetLockTimeout(ctx, tx, s.LockTimeout); err != nil {
			return err
		}
		sl, err := repo.LockSlot(ctx, tx, slotID)
		if err != nil {
			return err
		}
		n, err := repo.CountLiveForSlot(ctx, tx, slotID)
		if err != nil {
			return err
		}
		overbooked = n > int64(sl.Capacity)
		want := clampCount(n, sl.Capacity)
		if want == int64(sl.BookedCount) {
			return nil
		}
		if err := repo.SetBookedCount(ctx, tx, slotID, want); err != nil {
			return err
		}
		changed = true
		logFrom(ctx).Warn().
			Uint("slot_id", slotID).
			Int("from", sl.BookedCount).
			Int64("to", want).
			Int64("live", n).
			Msg("booked_count corrected")
		return nil
	})
	return changed, overbooked, err
}

func clampCount(n int64, capacity int) int64 {
	if n < 0 {
		return 0
	}
	if n > int64(capacity) {
		return int64(capacity)
	}
	return n
}
