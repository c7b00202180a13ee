package handlers

// Error codes are lowercase snake_case and stable; clients branch on them.
// Generic codes mirror HTTP semantics, domain codes name the rule that
// rejected the request.

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/clinic-booking/internal/services"
)

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeUnauthorized     = "unauthorized"
	ErrCodeForbidden        = "forbidden"
	ErrCodeNotFound         = "not_found"
	ErrCodeConflict         = "conflict"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodeInternal         = "internal_error"

	// Booking
	ErrCodeSlotFull      = "slot_full"
	ErrCodeAlreadyBooked = "already_booked"
	ErrCodeSlotInactive  = "slot_inactive"
	ErrCodeSlotBusy      = "slot_busy"
	ErrCodePastDate      = "past_date"
	ErrCodeTransition    = "invalid_transition"

	// Fees and payments
	ErrCodeInvalidFee       = "invalid_fee"
	ErrCodeFeeFrozen        = "fee_frozen"
	ErrCodeNotCompleted     = "not_completed"
	ErrCodeFeeNotSet        = "fee_not_set"
	ErrCodeFreeSession      = "free_session"
	ErrCodeAlreadyPaid      = "already_paid"
	ErrCodeNotPaid          = "not_paid"
	ErrCodeInvalidSignature = "invalid_signature"
	ErrCodeGateway          = "gateway_error"

	// Patients, files, reviews
	ErrCodeNotRegistered  = "not_registered"
	ErrCodeDuplicatePhone = "duplicate_phone"
	ErrCodeFileTooLarge   = "file_too_large"
	ErrCodeStorage        = "storage_error"
)

// slotBusyRetryAfter is the Retry-After hint, in seconds, for ErrSlotBusy.
const slotBusyRetryAfter = 1

type errMapping struct {
	err    error
	status int
	code   string
}

// userMessages holds the wording patients see for policy rejections. Other
// errors are reported with their sentinel text.
var userMessages = map[error]string{
	services.ErrAlreadyBooked:  "You already have a history with us. Please contact the clinic for follow-up appointments.",
	services.ErrDuplicatePhone: "Phone number already registered.",
	services.ErrNotCompleted:   "Payment is only available for completed sessions.",
	services.ErrFeeNotSet:      "Fee has not been calculated yet.",
	services.ErrFreeSession:    "This session is free of charge.",
	services.ErrAlreadyPaid:    "This appointment is already paid.",
}

func (m errMapping) message() string {
	if msg, ok := userMessages[m.err]; ok {
		return msg
	}
	return m.err.Error()
}

// errTable maps service sentinels to HTTP. Order matters only for errors
// that wrap one another; none currently do.
var errTable = []errMapping{
	{services.ErrSlotNotFound, http.StatusNotFound, ErrCodeNotFound},
	{services.ErrAppointmentNotFound, http.StatusNotFound, ErrCodeNotFound},
	{services.ErrPatientNotFound, http.StatusNotFound, ErrCodeNotRegistered},
	{services.ErrTemplateNotFound, http.StatusNotFound, ErrCodeNotFound},
	{services.ErrReviewNotFound, http.StatusNotFound, ErrCodeNotFound},
	{services.ErrFileNotFound, http.StatusNotFound, ErrCodeNotFound},

	{services.ErrInvalidHourRange, http.StatusBadRequest, ErrCodeBadRequest},
	{services.ErrInvalidDate, http.StatusBadRequest, ErrCodeBadRequest},
	{services.ErrInvalidPatient, http.StatusBadRequest, ErrCodeBadRequest},
	{services.ErrInvalidReview, http.StatusBadRequest, ErrCodeBadRequest},
	{services.ErrInvalidFile, http.StatusBadRequest, ErrCodeBadRequest},
	{services.ErrInvalidFee, http.StatusBadRequest, ErrCodeInvalidFee},
	{services.ErrPastDate, http.StatusUnprocessableEntity, ErrCodePastDate},

	{services.ErrAlreadyBooked, http.StatusConflict, ErrCodeAlreadyBooked},
	{services.ErrSlotInactive, http.StatusConflict, ErrCodeSlotInactive},
	{services.ErrInvalidTransition, http.StatusConflict, ErrCodeTransition},
	{services.ErrRegistered, http.StatusConflict, ErrCodeConflict},
	{services.ErrDuplicatePhone, http.StatusConflict, ErrCodeDuplicatePhone},
	{services.ErrReviewExists, http.StatusConflict, ErrCodeConflict},

	{services.ErrNotCompleted, http.StatusUnprocessableEntity, ErrCodeNotCompleted},
	{services.ErrFeeNotSet, http.StatusUnprocessableEntity, ErrCodeFeeNotSet},
	{services.ErrFreeSession, http.StatusUnprocessableEntity, ErrCodeFreeSession},
	{services.ErrAlreadyPaid, http.StatusUnprocessableEntity, ErrCodeAlreadyPaid},
	{services.ErrFeeFrozen, http.StatusUnprocessableEntity, ErrCodeFeeFrozen},
	{services.ErrNotPaid, http.StatusUnprocessableEntity, ErrCodeNotPaid},
	{services.ErrInvalidSignature, http.StatusBadRequest, ErrCodeInvalidSignature},

	{services.ErrFileTooLarge, http.StatusRequestEntityTooLarge, ErrCodeFileTooLarge},
	{services.ErrGateway, http.StatusBadGateway, ErrCodeGateway},
	{services.ErrStorage, http.StatusBadGateway, ErrCodeStorage},
}

// failService translates a service error into the matching response.
// Capacity conflicts carry the suggestions; lock timeouts advertise a retry.
// Anything unrecognised is a logged 500 that hides the cause.
func failService(c *gin.Context, err error) {
	var full *services.SlotFullError
	if errors.As(err, &full) {
		sugg := full.Suggestions
		if sugg == nil {
			sugg = []services.Suggestion{}
		}
		c.AbortWithStatusJSON(http.StatusConflict, SlotFullResponse{
			ErrorResponse: errorBody(c, ErrCodeSlotFull, full.Error()),
			Suggestions:   sugg,
		})
		return
	}
	if errors.Is(err, services.ErrSlotBusy) {
		c.Header("Retry-After", strconv.Itoa(slotBusyRetryAfter))
		fail(c, http.StatusServiceUnavailable, ErrCodeSlotBusy, services.ErrSlotBusy.Error())
		return
	}
	for _, m := range errTable {
		if errors.Is(err, m.err) {
			fail(c, m.status, m.code, m.message())
			return
		}
	}
	_ = c.Error(err)
	fail(c, http.StatusInternalServerError, ErrCodeInternal, "internal server error")
}
