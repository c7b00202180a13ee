// Package services – PaymentService
//
// PaymentService connects payment-eligible appointments to the external
// payment gateway:
//
//   - InitiatePayment creates a gateway order for the appointment's fee and
//     records the order id. Gateway calls never run inside a transaction and
//     a failed order creation leaves the appointment untouched.
//   - VerifyPayment checks the gateway callback signature and marks the
//     appointment PAID. Repeated callbacks for a PAID order are no-ops.
//   - RecordFailure marks a PENDING payment FAILED. A FAILED appointment is
//     eligible again and a new order resets it to PENDING.
//   - Receipt renders a PDF receipt for a PAID appointment.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/tbourn/clinic-booking/internal/domain"
	"github.com/tbourn/clinic-booking/internal/events"
	"github.com/tbourn/clinic-booking/internal/observability"
	"github.com/tbourn/clinic-booking/internal/payment"
	"github.com/tbourn/clinic-booking/internal/receipt"
	"github.com/tbourn/clinic-booking/internal/repo"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var hundred = decimal.NewFromInt(100)

// PaymentOrder is what the client checkout needs to collect a payment.
type PaymentOrder struct {
	AppointmentID string `json:"appointment_id"`
	OrderID       string `json:"order_id"`
	AmountMinor   int64  `json:"amount"`
	Currency      string `json:"currency"`
	KeyID         string `json:"key_id"`
}

// PaymentService runs the online payment flow.
type PaymentService struct {
	DB         *gorm.DB
	Gateway    payment.Gateway
	Events     events.Publisher
	Currency   string
	ClinicName string
}

// NewPaymentService wires a PaymentService charging in currency (INR when
// empty).
func NewPaymentService(db *gorm.DB, gw payment.Gateway, pub events.Publisher, currency string) *PaymentService {
	if pub == nil {
		pub = events.Nop{}
	}
	if currency == "" {
		currency = "INR"
	}
	return &PaymentService{DB: db, Gateway: gw, Events: pub, Currency: currency}
}

// ToMinor converts a fee to integer minor units (paise for INR).
func ToMinor(fee decimal.Decimal) int64 {
	return fee.Mul(hundred).Round(0).IntPart()
}

// InitiatePayment creates a gateway order for an appointment owned by
// patientID.
//
// Errors:
//   - ErrAppointmentNotFound when the appointment is missing or foreign.
//   - ErrAlreadyPaid, ErrNotCompleted, ErrFreeSession, ErrFeeNotSet.
//   - ErrGateway when the order could not be created or recorded.
func (s *PaymentService) InitiatePayment(ctx context.Context, patientID, appointmentID string) (*PaymentOrder, error) {
	ctx, span := otel.Tracer("services/PaymentService").Start(ctx, "InitiatePayment",
		trace.WithAttributes(
			attribute.String("appointment.id", appointmentID),
			attribute.String("patient.id", patientID),
		))
	defer span.End()

	a, err := repo.GetPatientAppointment(ctx, s.DB, appointmentID, patientID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}
	if err := checkPayable(a); err != nil {
		return nil, err
	}

	amount := ToMinor(a.Fee.Decimal)
	orderID, err := s.Gateway.CreateOrder(ctx, amount, s.Currency, a.ID)
	if err != nil {
		observability.ObservePayment(observability.PaymentGateway)
		span.RecordError(err)
		span.SetStatus(codes.Error, "create order")
		logFrom(ctx).Error().Err(err).Str("appointment_id", a.ID).Msg("payment order creation failed")
		return nil, fmt.Errorf("%w: %v", ErrGateway, err)
	}

	ok, err := repo.RecordOrder(ctx, s.DB, a.ID, orderID)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Paid in the meantime, e.g. by a staff override.
		return nil, ErrAlreadyPaid
	}

	observability.ObservePayment(observability.PaymentInitiated)
	logFrom(ctx).Info().Str("appointment_id", a.ID).Str("order_id", orderID).Int64("amount", amount).Msg("payment order created")
	return &PaymentOrder{
		AppointmentID: a.ID,
		OrderID:       orderID,
		AmountMinor:   amount,
		Currency:      s.Currency,
		KeyID:         s.Gateway.KeyID(),
	}, nil
}

// RecordedOrder rebuilds the checkout details of orderID, the order last
// created for appointmentID. Retried initiations replay it instead of opening
// a second order. ErrAppointmentNotFound is returned when the appointment has
// moved on to another order.
func (s *PaymentService) RecordedOrder(ctx context.Context, patientID, appointmentID, orderID string) (*PaymentOrder, error) {
	a, err := repo.GetPatientAppointment(ctx, s.DB, appointmentID, patientID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}
	if a.PaymentOrderID == nil || *a.PaymentOrderID != orderID || !a.Fee.Valid {
		return nil, ErrAppointmentNotFound
	}
	if a.PaymentStatus == domain.PaymentPaid {
		return nil, ErrAlreadyPaid
	}
	return &PaymentOrder{
		AppointmentID: a.ID,
		OrderID:       orderID,
		AmountMinor:   ToMinor(a.Fee.Decimal),
		Currency:      s.Currency,
		KeyID:         s.Gateway.KeyID(),
	}, nil
}

// VerifyPayment handles the gateway success callback for orderID.
//
// Errors:
//   - ErrAppointmentNotFound when no appointment recorded orderID.
//   - ErrInvalidSignature when the signature does not verify; nothing is
//     written in that case.
func (s *PaymentService) VerifyPayment(ctx context.Context, orderID, paymentID, signature string) (*domain.Appointment, error) {
	ctx, span := otel.Tracer("services/PaymentService").Start(ctx, "VerifyPayment",
		trace.WithAttributes(attribute.String("order.id", orderID)))
	defer span.End()

	a, err := s.byOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if a.PaymentStatus == domain.PaymentPaid {
		return a, nil
	}
	if !s.Gateway.VerifySignature(orderID, paymentID, signature) {
		observability.ObservePayment(observability.PaymentInvalid)
		logFrom(ctx).Warn().Str("order_id", orderID).Str("appointment_id", a.ID).Msg("payment signature rejected")
		return nil, ErrInvalidSignature
	}

	ok, err := repo.MarkPaid(ctx, s.DB, a.ID, &paymentID, &signature)
	if err != nil {
		return nil, err
	}
	if a, err = s.byOrder(ctx, orderID); err != nil {
		return nil, err
	}
	if ok {
		observability.ObservePayment(observability.PaymentVerified)
		publishAppointment(ctx, s.Events, events.AppointmentPaid, a)
		logFrom(ctx).Info().Str("order_id", orderID).Str("appointment_id", a.ID).Msg("payment verified")
	}
	return a, nil
}

// RecordFailure marks the PENDING payment of orderID as FAILED. It is a
// no-op for an order that is already PAID or FAILED.
func (s *PaymentService) RecordFailure(ctx context.Context, orderID, reason string) (*domain.Appointment, error) {
	ctx, span := otel.Tracer("services/PaymentService").Start(ctx, "RecordFailure",
		trace.WithAttributes(attribute.String("order.id", orderID)))
	defer span.End()

	if _, err := s.byOrder(ctx, orderID); err != nil {
		return nil, err
	}
	ok, err := repo.MarkFailed(ctx, s.DB, orderID)
	if err != nil {
		return nil, err
	}
	if ok {
		observability.ObservePayment(observability.PaymentFailed)
		logFrom(ctx).Warn().Str("order_id", orderID).Str("reason", reason).Msg("payment failed")
	}
	return s.byOrder(ctx, orderID)
}

// Receipt renders the PDF receipt of a PAID appointment owned by patientID.
func (s *PaymentService) Receipt(ctx context.Context, patientID, appointmentID string) ([]byte, error) {
	ctx, span := otel.Tracer("services/PaymentService").Start(ctx, "Receipt",
		trace.WithAttributes(attribute.String("appointment.id", appointmentID)))
	defer span.End()

	a, err := repo.GetPatientAppointment(ctx, s.DB, appointmentID, patientID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}
	if a.PaymentStatus != domain.PaymentPaid || !a.Fee.Valid {
		return nil, ErrNotPaid
	}
	p, err := repo.GetPatient(ctx, s.DB, a.PatientID)
	if err != nil {
		return nil, err
	}

	d := receipt.Data{
		ClinicName:    s.ClinicName,
		ReceiptNo:     receiptNo(a.ID),
		AppointmentID: a.ID,
		PatientName:   p.FullName,
		PatientPhone:  p.Phone,
		Fee:           a.Fee.Decimal,
		Currency:      s.Currency,
		IssuedAt:      a.UpdatedAt,
	}
	if a.Slot != nil {
		d.Date, d.Time = a.Slot.Date, a.Slot.Time
	}
	if a.PaymentOrderID != nil {
		d.OrderID = *a.PaymentOrderID
	} else {
		d.OrderID = "manual"
	}
	if a.PaymentID != nil {
		d.PaymentID = *a.PaymentID
	}
	return receipt.Render(d)
}

func receiptNo(id string) string {
	if len(id) > 8 {
		id = id[:8]
	}
	return "RCPT-" + strings.ToUpper(id)
}

func (s *PaymentService) byOrder(ctx context.Context, orderID string) (*domain.Appointment, error) {
	a, err := repo.GetAppointmentByOrderID(ctx, s.DB, orderID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrAppointmentNotFound
	}
	return a, err
}
