// Package services defines the business logic for slot templates, slot
// materialization, booking, the fee and payment lifecycle, suggestions,
// patient files and reviews.
//
// This file centralizes service-level error values so that they can be
// returned by service methods and checked by callers. Translation into
// user-facing messages or HTTP status codes is performed at the handler
// layer.
package services

import (
	"errors"
	"fmt"

	"github.com/tbourn/clinic-booking/internal/domain"
)

// Lookup errors.
var (
	// ErrSlotNotFound indicates that the requested slot does not exist.
	ErrSlotNotFound = errors.New("slot not found")

	// ErrAppointmentNotFound indicates that the appointment does not exist or
	// is not accessible to the caller.
	ErrAppointmentNotFound = errors.New("appointment not found")

	// ErrPatientNotFound is returned when the caller has no patient profile.
	ErrPatientNotFound = errors.New("patient not found")

	ErrTemplateNotFound = errors.New("slot template not found")
	ErrReviewNotFound   = errors.New("review not found")
	ErrFileNotFound     = errors.New("file not found")
)

// Input validation errors.
var (
	// ErrInvalidHourRange is returned by InitTemplates when the hours fall
	// outside 0..23 or start is after end.
	ErrInvalidHourRange = errors.New("hours must be within 0..23 and start <= end")

	// ErrInvalidDate is returned for dates not in YYYY-MM-DD form.
	ErrInvalidDate = errors.New("date must be YYYY-MM-DD")

	// ErrPastDate is returned when a patient lists or books a day before today.
	ErrPastDate = errors.New("date is in the past")

	// ErrInvalidFee is returned when a fee is not strictly positive, or when a
	// completion supplies both or neither of a fee and the free flag.
	ErrInvalidFee = errors.New("fee must be a positive amount, or the session must be marked free")

	ErrInvalidPatient = errors.New("invalid patient details")
	ErrInvalidReview  = errors.New("rating must be between 1 and 5")
	ErrInvalidFile    = errors.New("invalid file")
)

// Booking errors.
var (
	// ErrAlreadyBooked rejects a patient who already has an appointment. Follow
	// up visits are booked by staff.
	ErrAlreadyBooked = errors.New("patient already has an appointment")

	// ErrSlotInactive is returned when the target slot has been closed.
	ErrSlotInactive = errors.New("slot is not available for booking")

	// ErrSlotBusy is returned when the slot lock could not be acquired within
	// the configured wait. The request is safe to retry.
	ErrSlotBusy = errors.New("slot is busy, please retry")
)

// Lifecycle and payment errors.
var (
	ErrInvalidTransition = errors.New("appointment cannot move to the requested status")

	ErrNotCompleted = errors.New("payment requires a completed session")
	ErrFeeNotSet    = errors.New("fee not set")
	ErrFreeSession  = errors.New("session is free of charge")
	ErrAlreadyPaid  = errors.New("appointment already paid")

	// ErrFeeFrozen is returned when changing the fee of a PAID appointment.
	ErrFeeFrozen = errors.New("fee cannot be changed after payment")

	// ErrInvalidSignature is returned when the gateway signature does not
	// match the recorded order.
	ErrInvalidSignature = errors.New("payment signature verification failed")

	// ErrGateway wraps failures of the payment gateway.
	ErrGateway = errors.New("payment gateway unavailable")

	// ErrNotPaid is returned when a receipt is requested before payment.
	ErrNotPaid = errors.New("appointment is not paid")
)

// Patient, review and file errors.
var (
	ErrDuplicatePhone = errors.New("phone number already registered")
	ErrRegistered     = errors.New("profile already exists")
	ErrReviewExists   = errors.New("review already submitted")
	ErrFileTooLarge   = errors.New("file exceeds the size limit")
	ErrStorage        = errors.New("file storage unavailable")
)

// Suggestion is one alternative offered when a slot is full.
type Suggestion struct {
	Label string           `json:"label"`
	Slot  domain.DailySlot `json:"slot"`
}

// SlotFullError reports a capacity conflict together with the alternatives
// the suggestion engine found. Match it with errors.As.
type SlotFullError struct {
	SlotID      uint
	Date        string
	Time        string
	Suggestions []Suggestion
}

func (e *SlotFullError) Error() string {
	return fmt.Sprintf("slot %s %s is full", e.Date, e.Time)
}
