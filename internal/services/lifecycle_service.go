// Package services – LifecycleService
//
// LifecycleService drives appointment status transitions and the fee
// sub-state, independently of booking:
//
//	PENDING -> CONFIRMED -> COMPLETED
//	PENDING | CONFIRMED -> CANCELLED   (see BookingService.Cancel)
//
// Fees are assigned by staff after booking. A fee may change any number of
// times until the appointment is PAID and is frozen from then on.
package services

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/tbourn/clinic-booking/internal/domain"
	"github.com/tbourn/clinic-booking/internal/events"
	"github.com/tbourn/clinic-booking/internal/observability"
	"github.com/tbourn/clinic-booking/internal/repo"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Completion is how staff close a session: either free of charge or with a
// concrete positive fee.
type Completion struct {
	IsFree bool
	Fee    *decimal.Decimal
}

// LifecycleService applies staff-driven status and fee changes.
type LifecycleService struct {
	DB     *gorm.DB
	Events events.Publisher
}

// NewLifecycleService wires a LifecycleService. A nil publisher discards
// events.
func NewLifecycleService(db *gorm.DB, pub events.Publisher) *LifecycleService {
	if pub == nil {
		pub = events.Nop{}
	}
	return &LifecycleService{DB: db, Events: pub}
}

// Confirm moves a PENDING appointment to CONFIRMED.
func (s *LifecycleService) Confirm(ctx context.Context, id string) (*domain.Appointment, error) {
	ctx, span := otel.Tracer("services/LifecycleService").Start(ctx, "Confirm",
		trace.WithAttributes(attribute.String("appointment.id", id)))
	defer span.End()

	ok, err := repo.TransitionStatus(ctx, s.DB, id, []string{domain.StatusPending}, domain.StatusConfirmed)
	if err != nil {
		return nil, err
	}
	return s.afterGuard(ctx, id, ok, ErrInvalidTransition)
}

// Complete moves a CONFIRMED appointment to COMPLETED.
//
// Semantics and validation:
//   - Exactly one of c.IsFree and c.Fee must be supplied.
//   - A fee must be > 0; it is stored rounded to two decimals and the
//     payment stays PENDING.
//   - A free session stores a null fee.
//
// Errors:
//   - ErrInvalidFee for a missing, non-positive or contradictory fee.
//   - ErrAppointmentNotFound, ErrInvalidTransition.
func (s *LifecycleService) Complete(ctx context.Context, id string, c Completion) (*domain.Appointment, error) {
	ctx, span := otel.Tracer("services/LifecycleService").Start(ctx, "Complete",
		trace.WithAttributes(
			attribute.String("appointment.id", id),
			attribute.Bool("is_free", c.IsFree),
		))
	defer span.End()

	fee := decimal.NullDecimal{}
	switch {
	case c.IsFree && c.Fee != nil:
		return nil, ErrInvalidFee
	case !c.IsFree:
		if c.Fee == nil || !c.Fee.IsPositive() {
			return nil, ErrInvalidFee
		}
		fee = decimal.NewNullDecimal(c.Fee.Round(2))
	}

	ok, err := repo.CompleteAppointment(ctx, s.DB, id, c.IsFree, fee)
	if err != nil {
		return nil, err
	}
	a, err := s.afterGuard(ctx, id, ok, ErrInvalidTransition)
	if err != nil {
		return nil, err
	}
	publishAppointment(ctx, s.Events, events.AppointmentCompleted, a)
	return a, nil
}

// SetFee assigns or changes the fee. Setting a fee clears is_free.
//
// Errors:
//   - ErrInvalidFee when fee <= 0.
//   - ErrFeeFrozen when the appointment is already PAID.
//   - ErrAppointmentNotFound.
func (s *LifecycleService) SetFee(ctx context.Context, id string, fee decimal.Decimal) (*domain.Appointment, error) {
	ctx, span := otel.Tracer("services/LifecycleService").Start(ctx, "SetFee",
		trace.WithAttributes(
			attribute.String("appointment.id", id),
			attribute.String("fee", fee.String()),
		))
	defer span.End()

	if !fee.IsPositive() {
		return nil, ErrInvalidFee
	}
	ok, err := repo.UpdateFee(ctx, s.DB, id, fee.Round(2))
	if err != nil {
		return nil, err
	}
	// The only row a fee update can skip is a PAID one.
	return s.afterGuard(ctx, id, ok, ErrFeeFrozen)
}

// MarkPaid records a payment taken outside the gateway (cash, card at the
// desk). It requires the same eligibility as online payment and is a no-op
// for an appointment that is already PAID.
func (s *LifecycleService) MarkPaid(ctx context.Context, id string) (*domain.Appointment, error) {
	ctx, span := otel.Tracer("services/LifecycleService").Start(ctx, "MarkPaid",
		trace.WithAttributes(attribute.String("appointment.id", id)))
	defer span.End()

	a, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.PaymentStatus == domain.PaymentPaid {
		return a, nil
	}
	if err := checkPayable(a); err != nil {
		return nil, err
	}
	ok, err := repo.MarkPaid(ctx, s.DB, id, nil, nil)
	if err != nil {
		return nil, err
	}
	if a, err = s.get(ctx, id); err != nil {
		return nil, err
	}
	if ok {
		observability.ObservePayment(observability.PaymentManual)
		publishAppointment(ctx, s.Events, events.AppointmentPaid, a)
		logFrom(ctx).Info().Str("appointment_id", id).Msg("payment recorded manually")
	}
	return a, nil
}

// afterGuard reloads the appointment after a guarded update. When the update
// matched no row it tells "missing" apart from "not allowed" (failErr).
func (s *LifecycleService) afterGuard(ctx context.Context, id string, ok bool, failErr error) (*domain.Appointment, error) {
	a, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, failErr
	}
	return a, nil
}

func (s *LifecycleService) get(ctx context.Context, id string) (*domain.Appointment, error) {
	a, err := repo.GetAppointment(ctx, s.DB, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrAppointmentNotFound
	}
	return a, err
}

// checkPayable reports why a is not payment-eligible, or nil if it is.
// Eligible means COMPLETED, not free, with a fee, and not yet PAID.
func checkPayable(a *domain.Appointment) error {
	switch {
	case a.PaymentStatus == domain.PaymentPaid:
		return ErrAlreadyPaid
	case a.Status != domain.StatusCompleted:
		return ErrNotCompleted
	case a.IsFree:
		return ErrFreeSession
	case !a.Fee.Valid:
		return ErrFeeNotSet
	}
	return nil
}

// PaymentEligible reports whether the patient may pay for a through the
// gateway.
func PaymentEligible(a *domain.Appointment) bool { return checkPayable(a) == nil }
