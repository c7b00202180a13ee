// Package services – SuggestionService
//
// SuggestionService proposes alternatives when a booking hits a full slot.
// Candidates are checked in a fixed priority order and each label appears at
// most once:
//
//  1. "Next Available Today":     earliest bookable slot later the same day.
//  2. "Previous Available Today": latest bookable slot earlier the same day.
//  3. "Same Time Tomorrow":       the same time on the next day, which is
//     materialized first when that day has no slots yet.
//
// Apart from that lazy materialization the service only reads.
package services

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/tbourn/clinic-booking/internal/domain"
	"github.com/tbourn/clinic-booking/internal/repo"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Suggestion labels.
const (
	LabelNextToday     = "Next Available Today"
	LabelPreviousToday = "Previous Available Today"
	LabelSameTomorrow  = "Same Time Tomorrow"
)

// SuggestionService computes alternatives for a full slot.
type SuggestionService struct {
	DB    *gorm.DB
	Slots *SlotService
}

// NewSuggestionService wires a SuggestionService to the slot materializer.
func NewSuggestionService(db *gorm.DB, slots *SlotService) *SuggestionService {
	return &SuggestionService{DB: db, Slots: slots}
}

// Suggest returns up to three alternatives to the slot at (date, tm). Missing
// candidates are omitted, so the result may be empty but never nil.
func (s *SuggestionService) Suggest(ctx context.Context, date, tm string) ([]Suggestion, error) {
	ctx, span := otel.Tracer("services/SuggestionService").Start(ctx, "Suggest",
		trace.WithAttributes(
			attribute.String("slot.date", date),
			attribute.String("slot.time", tm),
		),
	)
	defer span.End()

	tomorrow, err := addDays(date, 1)
	if err != nil {
		return nil, err
	}

	out := make([]Suggestion, 0, 3)
	add := func(label string, sl *domain.DailySlot, err error) error {
		switch {
		case err == nil:
			out = append(out, Suggestion{Label: label, Slot: *sl})
			return nil
		case errors.Is(err, repo.ErrNotFound):
			return nil
		default:
			return err
		}
	}

	next, err := repo.NextAvailable(ctx, s.DB, date, tm)
	if err := add(LabelNextToday, next, err); err != nil {
		return nil, err
	}
	prev, err := repo.PreviousAvailable(ctx, s.DB, date, tm)
	if err := add(LabelPreviousToday, prev, err); err != nil {
		return nil, err
	}

	n, err := repo.CountSlotsForDate(ctx, s.DB, tomorrow)
	if err != nil {
		return nil, err
	}
	if n == 0 && s.Slots != nil {
		if _, err := s.Slots.Materialize(ctx, tomorrow); err != nil {
			return nil, err
		}
	}
	same, err := repo.AvailableAt(ctx, s.DB, tomorrow, tm)
	if err := add(LabelSameTomorrow, same, err); err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.Int("suggestions", len(out)))
	return out, nil
}
