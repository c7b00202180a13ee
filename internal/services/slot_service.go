// Package services – SlotService
//
// This file implements SlotService, which owns the clinic's recurring
// schedule (slot templates) and the lazy expansion of that schedule into
// concrete, date-bound DailySlot rows.
//
// Materialization is idempotent. Concurrent callers for the same date race
// on the (date, time) unique index and the loser's insert becomes a no-op,
// so every caller observes the same logical set of slots.
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/clinic-booking/internal/domain"
	"github.com/tbourn/clinic-booking/internal/repo"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// SlotView is a DailySlot as shown to callers, with fullness precomputed.
type SlotView struct {
	domain.DailySlot
	IsFull bool `json:"is_full"`
}

// SlotService manages slot templates and materialized daily slots.
type SlotService struct {
	DB    *gorm.DB
	Clock Clock

	// Capacity is assigned to newly materialized slots.
	Capacity int
}

// NewSlotService constructs a SlotService with capacity 1 per slot.
func NewSlotService(db *gorm.DB, clock Clock) *SlotService {
	return &SlotService{DB: db, Clock: clock, Capacity: 1}
}

// InitTemplates get-or-creates an active template "HH:00" for every hour in
// [startHour, endHour] and returns how many were newly created.
//
// Errors:
//   - ErrInvalidHourRange when an hour is outside 0..23 or start > end.
func (s *SlotService) InitTemplates(ctx context.Context, startHour, endHour int) (int, error) {
	ctx, span := otel.Tracer("services/SlotService").Start(ctx, "InitTemplates",
		trace.WithAttributes(
			attribute.Int("start_hour", startHour),
			attribute.Int("end_hour", endHour),
		),
	)
	defer span.End()

	if startHour < 0 || endHour > 23 || startHour > endHour {
		return 0, ErrInvalidHourRange
	}
	times := make([]string, 0, endHour-startHour+1)
	for h := startHour; h <= endHour; h++ {
		times = append(times, fmt.Sprintf("%02d:00", h))
	}
	n, err := repo.CreateTemplates(ctx, s.DB, times)
	if err != nil {
		return 0, err
	}
	logFrom(ctx).Info().Int64("created", n).Int("start_hour", startHour).Int("end_hour", endHour).Msg("slot templates initialized")
	return int(n), nil
}

// ListTemplates returns every template ordered by time.
func (s *SlotService) ListTemplates(ctx context.Context) ([]domain.SlotTemplate, error) {
	return repo.ListTemplates(ctx, s.DB, false)
}

// SetTemplateActive toggles a template. Slots already materialized from it
// are not touched.
func (s *SlotService) SetTemplateActive(ctx context.Context, id uint, active bool) (*domain.SlotTemplate, error) {
	t, err := repo.SetTemplateActive(ctx, s.DB, id, active)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrTemplateNotFound
	}
	return t, err
}

// Materialize ensures a slot exists on date for every active template and
// returns all slots of date ordered by time. Existing rows are never
// modified.
func (s *SlotService) Materialize(ctx context.Context, date string) ([]domain.DailySlot, error) {
	ctx, span := otel.Tracer("services/SlotService").Start(ctx, "Materialize",
		trace.WithAttributes(attribute.String("slot.date", date)),
	)
	defer span.End()

	if _, err := parseDate(date); err != nil {
		return nil, err
	}
	if _, err := s.materialize(ctx, date); err != nil {
		return nil, err
	}
	return repo.ListSlotsByDate(ctx, s.DB, date)
}

func (s *SlotService) materialize(ctx context.Context, date string) (int64, error) {
	templates, err := repo.ListTemplates(ctx, s.DB, true)
	if err != nil {
		return 0, err
	}
	times := make([]string, 0, len(templates))
	for _, t := range templates {
		times = append(times, t.Time)
	}
	capacity := s.Capacity
	if capacity < 1 {
		capacity = 1
	}
	n, err := repo.InsertMissingSlots(ctx, s.DB, date, times, capacity)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		logFrom(ctx).Debug().Str("date", date).Int64("created", n).Msg("slots materialized")
	}
	return n, nil
}

// ListSlots materializes date and returns its slots with IsFull set.
// Patients (staff == false) may not list days before today.
func (s *SlotService) ListSlots(ctx context.Context, date string, staff bool) ([]SlotView, error) {
	if _, err := parseDate(date); err != nil {
		return nil, err
	}
	if !staff && date < s.Clock.Today() {
		return nil, ErrPastDate
	}
	slots, err := s.Materialize(ctx, date)
	if err != nil {
		return nil, err
	}
	out := make([]SlotView, 0, len(slots))
	for _, sl := range slots {
		out = append(out, SlotView{DailySlot: sl, IsFull: sl.IsFull()})
	}
	return out, nil
}

// Stats returns the slot count and latest update of date, for ETags.
func (s *SlotService) Stats(ctx context.Context, date string) (int64, *time.Time, error) {
	return repo.SlotsStats(ctx, s.DB, date)
}

// SetSlotActive opens or closes a single materialized slot.
func (s *SlotService) SetSlotActive(ctx context.Context, id uint, active bool) (*domain.DailySlot, error) {
	if err := repo.SetSlotActive(ctx, s.DB, id, active); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}
	return repo.GetSlot(ctx, s.DB, id)
}

// MaterializeAhead materializes today and the following days and returns
// the number of slots created.
func (s *SlotService) MaterializeAhead(ctx context.Context, days int) (int64, error) {
	today := s.Clock.Today()
	var total int64
	for i := 0; i <= days; i++ {
		date, err := addDays(today, i)
		if err != nil {
			return total, err
		}
		n, err := s.materialize(ctx, date)
		if err != nil {
			return total, fmt.Errorf("materialize %s: %w", date, err)
		}
		total += n
	}
	return total, nil
}
