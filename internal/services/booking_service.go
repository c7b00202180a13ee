// Package services – BookingService
//
// BookingService is the concurrency-safe core of the clinic: it allocates a
// patient to a materialized DailySlot while keeping booked_count within
// capacity, and releases the seat again on deletion or cancellation.
//
// Booking algorithm (one transaction per attempt):
//
//  1. Lock the slot row (FOR UPDATE on Postgres, the database write lock on
//     SQLite), bounded by LockTimeout.
//  2. Re-read the slot under the lock. Inactive slots are rejected; full
//     slots abort the transaction with a capacity conflict.
//  3. Apply the guarded increment (booked_count < capacity) and insert the
//     appointment, status CONFIRMED and payment PENDING.
//  4. Commit. Pending files are linked and the booked event is published
//     afterwards, outside the lock.
//
// A capacity conflict is returned as *SlotFullError carrying the suggestion
// engine's alternatives. A lock wait that expires surfaces as ErrSlotBusy.
package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/tbourn/clinic-booking/internal/domain"
	"github.com/tbourn/clinic-booking/internal/events"
	"github.com/tbourn/clinic-booking/internal/observability"
	"github.com/tbourn/clinic-booking/internal/repo"
	"github.com/tbourn/clinic-booking/internal/utils"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// errSlotFull aborts the booking transaction; it never leaves the service.
var errSlotFull = errors.New("slot full")

// StaffBooking is a booking made by staff on a patient's behalf.
type StaffBooking struct {
	PatientID string
	SlotID    uint
	Symptoms  string
	// Fee is an optional initial fee. It must be positive and cannot be
	// combined with IsFree.
	Fee    *decimal.Decimal
	IsFree bool
}

// BookingService creates and removes appointments against slot capacity.
type BookingService struct {
	DB          *gorm.DB
	Clock       Clock
	Suggestions *SuggestionService
	Events      events.Publisher

	// LockTimeout bounds the wait for the slot lock. Zero means no bound
	// beyond the caller's context.
	LockTimeout time.Duration
}

// NewBookingService wires a BookingService. A nil publisher discards events.
func NewBookingService(db *gorm.DB, clock Clock, sg *SuggestionService, pub events.Publisher, lockTimeout time.Duration) *BookingService {
	if pub == nil {
		pub = events.Nop{}
	}
	return &BookingService{DB: db, Clock: clock, Suggestions: sg, Events: pub, LockTimeout: lockTimeout}
}

// BookAsPatient books slotID for a self-registered patient.
//
// Semantics and validation:
//   - The patient must exist and must never have held an appointment in any
//     status; follow-up visits are booked by staff.
//   - The slot must exist, be active and not lie before today.
//   - booking_source is PATIENT, fee is null.
//
// Errors:
//   - ErrPatientNotFound, ErrSlotNotFound, ErrSlotInactive, ErrPastDate
//   - ErrAlreadyBooked for a returning patient
//   - *SlotFullError when the slot is at capacity
//   - ErrSlotBusy when the slot lock could not be acquired in time
func (s *BookingService) BookAsPatient(ctx context.Context, patientID string, slotID uint, symptoms string) (*domain.Appointment, error) {
	return s.book(ctx, bookRequest{
		patientID:   patientID,
		slotID:      slotID,
		symptoms:    symptoms,
		source:      domain.SourcePatient,
		enforceOnce: true,
	})
}

// BookAsStaff books on behalf of a patient. There is no per-patient limit
// and staff may book days in the past (walk-ins recorded late). An initial
// fee or the free flag may be supplied, but not both.
func (s *BookingService) BookAsStaff(ctx context.Context, b StaffBooking) (*domain.Appointment, error) {
	fee := decimal.NullDecimal{}
	if b.Fee != nil {
		if b.IsFree || !b.Fee.IsPositive() {
			return nil, ErrInvalidFee
		}
		fee = decimal.NewNullDecimal(b.Fee.Round(2))
	}
	return s.book(ctx, bookRequest{
		patientID: b.PatientID,
		slotID:    b.SlotID,
		symptoms:  b.Symptoms,
		source:    domain.SourceDoctor,
		fee:       fee,
		isFree:    b.IsFree,
	})
}

type bookRequest struct {
	patientID   string
	slotID      uint
	symptoms    string
	source      string
	fee         decimal.NullDecimal
	isFree      bool
	enforceOnce bool
}

func (s *BookingService) book(ctx context.Context, r bookRequest) (*domain.Appointment, error) {
	ctx, span := otel.Tracer("services/BookingService").Start(ctx, "Book",
		trace.WithAttributes(
			attribute.String("patient.id", r.patientID),
			attribute.Int("slot.id", int(r.slotID)),
			attribute.String("booking.source", r.source),
		),
	)
	defer span.End()

	if _, err := repo.GetPatient(ctx, s.DB, r.patientID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			observability.ObserveBooking(r.source, observability.OutcomeRejected)
			return nil, ErrPatientNotFound
		}
		observability.ObserveBooking(r.source, observability.OutcomeError)
		return nil, err
	}

	txCtx := ctx
	if s.LockTimeout > 0 {
		var cancel context.CancelFunc
		txCtx, cancel = context.WithTimeout(ctx, s.LockTimeout)
		defer cancel()
	}

	var (
		appt *domain.Appointment
		slot *domain.DailySlot
	)
	err := s.DB.WithContext(txCtx).Transaction(func(tx *gorm.DB) error {
		if err := repo.SetLockTimeout(txCtx, tx, s.LockTimeout); err != nil {
			return err
		}
		// Patient before slot: concurrent self-bookings for different slots
		// would otherwise both pass the one-appointment check.
		if r.enforceOnce {
			if _, err := repo.LockPatient(txCtx, tx, r.patientID); err != nil {
				if errors.Is(err, repo.ErrNotFound) {
					return ErrPatientNotFound
				}
				return err
			}
		}
		locked, err := repo.LockSlot(txCtx, tx, r.slotID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return ErrSlotNotFound
			}
			return err
		}
		slot = locked

		if !slot.IsActive {
			return ErrSlotInactive
		}
		if r.source == domain.SourcePatient && slot.Date < s.Clock.Today() {
			return ErrPastDate
		}
		if r.enforceOnce {
			has, err := repo.PatientHasAppointment(txCtx, tx, r.patientID)
			if err != nil {
				return err
			}
			if has {
				return ErrAlreadyBooked
			}
		}
		if slot.IsFull() {
			return errSlotFull
		}

		ok, err := repo.IncrementBooked(txCtx, tx, slot.ID)
		if err != nil {
			return err
		}
		if !ok {
			return errSlotFull
		}

		a := &domain.Appointment{
			ID:            uuid.NewString(),
			PatientID:     r.patientID,
			SlotID:        slot.ID,
			Status:        domain.StatusConfirmed,
			PaymentStatus: domain.PaymentPending,
			BookingSource: r.source,
			Symptoms:      r.symptoms,
			Fee:           r.fee,
			IsFree:        r.isFree,
		}
		if err := repo.CreateAppointment(txCtx, tx, a); err != nil {
			return err
		}
		slot.BookedCount++
		a.Slot = slot
		appt = a
		return nil
	})

	switch {
	case err == nil:
	case errors.Is(err, errSlotFull):
		observability.ObserveBooking(r.source, observability.OutcomeFull)
		return nil, s.slotFull(ctx, slot)
	case errors.Is(err, ErrSlotNotFound), errors.Is(err, ErrSlotInactive),
		errors.Is(err, ErrPastDate), errors.Is(err, ErrAlreadyBooked),
		errors.Is(err, ErrPatientNotFound):
		observability.ObserveBooking(r.source, observability.OutcomeRejected)
		return nil, err
	case repo.IsLockTimeout(err), errors.Is(txCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		observability.ObserveBooking(r.source, observability.OutcomeBusy)
		logFrom(ctx).Warn().Uint("slot_id", r.slotID).Err(err).Msg("slot lock wait expired")
		return nil, ErrSlotBusy
	default:
		observability.ObserveBooking(r.source, observability.OutcomeError)
		span.RecordError(err)
		span.SetStatus(codes.Error, "booking failed")
		return nil, err
	}

	observability.ObserveBooking(r.source, observability.OutcomeBooked)
	span.SetAttributes(attribute.String("appointment.id", appt.ID))

	if n, err := repo.AttachPendingFiles(ctx, s.DB, appt.PatientID, appt.SlotID, appt.ID); err != nil {
		logFrom(ctx).Error().Err(err).Str("appointment_id", appt.ID).Msg("attach pending files")
	} else if n > 0 {
		logFrom(ctx).Info().Int64("files", n).Str("appointment_id", appt.ID).Msg("pending files linked")
	}
	s.publish(ctx, events.AppointmentBooked, appt)
	logFrom(ctx).Info().
		Str("appointment_id", appt.ID).
		Uint("slot_id", appt.SlotID).
		Str("source", appt.BookingSource).
		Msg("appointment booked")
	return appt, nil
}

// slotFull builds the capacity conflict with alternatives. A failing
// suggestion lookup still reports the conflict, just without alternatives.
func (s *BookingService) slotFull(ctx context.Context, slot *domain.DailySlot) error {
	e := &SlotFullError{SlotID: slot.ID, Date: slot.Date, Time: slot.Time, Suggestions: []Suggestion{}}
	if s.Suggestions == nil {
		return e
	}
	sg, err := s.Suggestions.Suggest(ctx, slot.Date, slot.Time)
	if err != nil {
		logFrom(ctx).Error().Err(err).Uint("slot_id", slot.ID).Msg("suggest alternatives")
		return e
	}
	e.Suggestions = sg
	return e
}

// Delete removes an appointment and releases its seat in one transaction.
// booked_count never drops below zero. Cancelled appointments no longer hold
// a seat, so deleting them leaves the slot untouched.
func (s *BookingService) Delete(ctx context.Context, id string) error {
	ctx, span := otel.Tracer("services/BookingService").Start(ctx, "Delete",
		trace.WithAttributes(attribute.String("appointment.id", id)),
	)
	defer span.End()

	var deleted *domain.Appointment
	err := s.withSeatLock(ctx, id, func(tx *gorm.DB, a *domain.Appointment) error {
		if err := repo.DeleteAppointment(ctx, tx, a.ID); err != nil {
			return err
		}
		if a.HoldsSeat() {
			if err := repo.DecrementBooked(ctx, tx, a.SlotID); err != nil {
				return err
			}
		}
		deleted = a
		return nil
	})
	if err != nil {
		return err
	}
	s.publish(ctx, events.AppointmentDeleted, deleted)
	logFrom(ctx).Info().Str("appointment_id", id).Uint("slot_id", deleted.SlotID).Msg("appointment deleted")
	return nil
}

// Cancel moves a PENDING or CONFIRMED appointment to CANCELLED and releases
// its seat. The row is kept for history.
func (s *BookingService) Cancel(ctx context.Context, id string) (*domain.Appointment, error) {
	ctx, span := otel.Tracer("services/BookingService").Start(ctx, "Cancel",
		trace.WithAttributes(attribute.String("appointment.id", id)),
	)
	defer span.End()

	var out *domain.Appointment
	err := s.withSeatLock(ctx, id, func(tx *gorm.DB, a *domain.Appointment) error {
		ok, err := repo.TransitionStatus(ctx, tx, a.ID,
			[]string{domain.StatusPending, domain.StatusConfirmed}, domain.StatusCancelled)
		if err != nil {
			return err
		}
		if !ok {
			return ErrInvalidTransition
		}
		if err := repo.DecrementBooked(ctx, tx, a.SlotID); err != nil {
			return err
		}
		out, err = repo.GetAppointment(ctx, tx, a.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.AppointmentCancelled, out)
	return out, nil
}

// withSeatLock runs fn in a transaction holding the lock of the
// appointment's slot. The appointment is looked up before the transaction so
// the lock is the first statement, then re-read under the lock.
func (s *BookingService) withSeatLock(ctx context.Context, id string, fn func(tx *gorm.DB, a *domain.Appointment) error) error {
	a, err := repo.GetAppointment(ctx, s.DB, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrAppointmentNotFound
		}
		return err
	}
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repo.SetLockTimeout(ctx, tx, s.LockTimeout); err != nil {
			return err
		}
		if _, err := repo.LockSlot(ctx, tx, a.SlotID); err != nil {
			return err
		}
		cur, err := repo.GetAppointment(ctx, tx, id)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return ErrAppointmentNotFound
			}
			return err
		}
		return fn(tx, cur)
	})
	if repo.IsLockTimeout(err) {
		return ErrSlotBusy
	}
	return err
}

// ListPage returns a page of appointments for staff views.
func (s *BookingService) ListPage(ctx context.Context, f repo.AppointmentFilter, page, pageSize int) ([]domain.Appointment, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := utils.Offset(page, pageSize)

	total, err := repo.CountAppointments(ctx, s.DB, f)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Appointment{}, 0, nil
	}
	items, err := repo.ListAppointmentsPage(ctx, s.DB, f, offset, pageSize)
	return items, total, err
}

// Stats returns count and latest update of the filtered listing, for ETags.
func (s *BookingService) Stats(ctx context.Context, f repo.AppointmentFilter) (int64, *time.Time, error) {
	return repo.AppointmentsStats(ctx, s.DB, f)
}

// Get returns an appointment with its slot.
func (s *BookingService) Get(ctx context.Context, id string) (*domain.Appointment, error) {
	a, err := repo.GetAppointment(ctx, s.DB, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrAppointmentNotFound
	}
	return a, err
}

func (s *BookingService) publish(ctx context.Context, typ string, a *domain.Appointment) {
	publishAppointment(ctx, s.Events, typ, a)
}

// publishAppointment sends a lifecycle event. Failures are logged only.
func publishAppointment(ctx context.Context, pub events.Publisher, typ string, a *domain.Appointment) {
	if pub == nil || a == nil {
		return
	}
	e := events.Event{
		Type:          typ,
		AppointmentID: a.ID,
		PatientID:     a.PatientID,
		SlotID:        a.SlotID,
		Source:        a.BookingSource,
		OccurredAt:    time.Now().UTC(),
	}
	if a.Slot != nil {
		e.Date, e.Time = a.Slot.Date, a.Slot.Time
	}
	if err := pub.Publish(ctx, e); err != nil {
		logFrom(ctx).Warn().Err(err).Str("event", typ).Str("appointment_id", a.ID).Msg("publish event")
	}
}
