package handlers

// Booking and appointment endpoints:
//   - POST   /bookings                              (patient; Idempotency-Key)
//   - POST   /staff/bookings
//   - GET    /staff/appointments                    (filter + pagination, ETag)
//   - GET    /staff/appointments/{id}
//   - DELETE /staff/appointments/{id}
//   - POST   /staff/appointments/{id}/confirm|complete|cancel|mark-paid
//   - PUT    /staff/appointments/{id}/fee
//
// A capacity conflict answers 409 slot_full with up to three alternative
// slots; a lock that could not be taken in time answers 503 with Retry-After.

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tbourn/clinic-booking/internal/domain"
	"github.com/tbourn/clinic-booking/internal/http/middleware"
	"github.com/tbourn/clinic-booking/internal/repo"
	"github.com/tbourn/clinic-booking/internal/services"
)

// BookRequest is the patient booking payload.
type BookRequest struct {
	SlotID   uint   `json:"slot_id"  binding:"required" example:"42"`
	Symptoms string `json:"symptoms" binding:"max=2000" example:"Lower back pain for two weeks"`
}

// StaffBookRequest books on a patient's behalf. Fee and is_free are
// mutually exclusive.
type StaffBookRequest struct {
	PatientID string           `json:"patient_id" binding:"required" example:"8c2e1b7a-3f41-4c55-9d0e-2a7b6c1d9e30"`
	SlotID    uint             `json:"slot_id"    binding:"required" example:"42"`
	Symptoms  string           `json:"symptoms"   binding:"max=2000"`
	Fee       *decimal.Decimal `json:"fee,omitempty" swaggertype:"string" example:"500.00"`
	IsFree    bool             `json:"is_free"`
}

// CompleteRequest closes a session: either is_free or a positive fee.
type CompleteRequest struct {
	IsFree bool             `json:"is_free"`
	Fee    *decimal.Decimal `json:"fee,omitempty" swaggertype:"string" example:"150.00"`
}

// SetFeeRequest assigns or changes the fee.
type SetFeeRequest struct {
	Fee *decimal.Decimal `json:"fee" binding:"required" swaggertype:"string" example:"150.00"`
}

// ListAppointmentsResponse is a page of appointments.
type ListAppointmentsResponse struct {
	Appointments []domain.Appointment `json:"appointments"`
	Pagination   Pagination           `json:"pagination"`
}

var appointmentStatuses = map[string]bool{
	domain.StatusPending:   true,
	domain.StatusConfirmed: true,
	domain.StatusCompleted: true,
	domain.StatusCancelled: true,
}

func appointmentID(c *gin.Context) (string, bool) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "appointment id must be a UUID")
		return "", false
	}
	return id, true
}

// Book godoc
// @ID          book
// @Summary     Book a slot
// @Description Books the caller into a slot. Each patient may book once; later appointments are made by staff.
// @Description Supports Idempotency-Key: a retried request returns the appointment created by the first attempt.
// @Tags        Bookings
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       Idempotency-Key  header  string                 false "Key for safe retries"
// @Param       body             body    handlers.BookRequest   true  "Booking"
// @Success     201  {object}  domain.Appointment
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     404  {object}  handlers.ErrorResponse "Slot or patient not found"
// @Failure     409  {object}  handlers.SlotFullResponse "slot_full (with suggestions), already_booked or slot_inactive"
// @Failure     422  {object}  handlers.ErrorResponse "Past date"
// @Failure     503  {object}  handlers.ErrorResponse "slot_busy, retry later"
// @Router      /bookings [post]
func (h *Handlers) Book(c *gin.Context) {
	var req BookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "slot_id required")
		return
	}
	ctx := c.Request.Context()
	if h.replay(c, http.StatusCreated, func(id string) (any, error) { return h.bookings.Get(ctx, id) }) {
		return
	}

	a, err := h.bookings.BookAsPatient(ctx, middleware.UserID(c), req.SlotID, strings.TrimSpace(req.Symptoms))
	if err != nil {
		failService(c, err)
		return
	}
	h.remember(c, a.ID, http.StatusCreated)
	ok(c, http.StatusCreated, a)
}

// StaffBook godoc
// @ID          staffBook
// @Summary     Book a slot for a patient (staff)
// @Description No per-patient limit. An initial fee (> 0) or is_free may be set.
// @Tags        Staff
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       body  body  handlers.StaffBookRequest  true  "Booking"
// @Success     201  {object}  domain.Appointment
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     404  {object}  handlers.ErrorResponse
// @Failure     409  {object}  handlers.SlotFullResponse
// @Failure     503  {object}  handlers.ErrorResponse
// @Router      /staff/bookings [post]
func (h *Handlers) StaffBook(c *gin.Context) {
	var req StaffBookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "patient_id and slot_id required")
		return
	}
	a, err := h.bookings.BookAsStaff(c.Request.Context(), services.StaffBooking{
		PatientID: strings.TrimSpace(req.PatientID),
		SlotID:    req.SlotID,
		Symptoms:  strings.TrimSpace(req.Symptoms),
		Fee:       req.Fee,
		IsFree:    req.IsFree,
	})
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusCreated, a)
}

// ListAppointments godoc
// @ID          listAppointments
// @Summary     List appointments (staff)
// @Tags        Staff
// @Produce     json
// @Security    BearerAuth
// @Param       date       query  string  false "Slot day (YYYY-MM-DD)"
// @Param       status     query  string  false "PENDING, CONFIRMED, COMPLETED or CANCELLED"
// @Param       page       query  int     false "Page number"     minimum(1) default(1)
// @Param       page_size  query  int     false "Items per page"  minimum(1) maximum(100) default(20)
// @Success     200  {object}  handlers.ListAppointmentsResponse
// @Success     304  {string}  string "Not Modified"
// @Failure     400  {object}  handlers.ErrorResponse
// @Router      /staff/appointments [get]
func (h *Handlers) ListAppointments(c *gin.Context) {
	ctx := c.Request.Context()
	f := repo.AppointmentFilter{
		Date:   strings.TrimSpace(c.Query("date")),
		Status: strings.ToUpper(strings.TrimSpace(c.Query("status"))),
	}
	if f.Status != "" && !appointmentStatuses[f.Status] {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unknown status")
		return
	}
	page, pageSize := clampPagination(c)

	if count, maxTS, err := h.bookings.Stats(ctx, f); err == nil {
		if notModified(c, "appointments", f.Date+"|"+f.Status, count, maxTS) {
			return
		}
	}

	items, total, err := h.bookings.ListPage(ctx, f, page, pageSize)
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, ListAppointmentsResponse{
		Appointments: items,
		Pagination:   newPagination(page, pageSize, total),
	})
}

// GetAppointment godoc
// @ID          getAppointment
// @Summary     Get one appointment (staff)
// @Tags        Staff
// @Produce     json
// @Security    BearerAuth
// @Param       id  path  string  true  "Appointment ID"  format(uuid)
// @Success     200  {object}  domain.Appointment
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /staff/appointments/{id} [get]
func (h *Handlers) GetAppointment(c *gin.Context) {
	h.withAppointment(c, http.StatusOK, h.bookings.Get)
}

// DeleteAppointment godoc
// @ID          deleteAppointment
// @Summary     Delete an appointment (staff)
// @Description Removes the appointment and frees its seat in one transaction.
// @Tags        Staff
// @Security    BearerAuth
// @Param       id  path  string  true  "Appointment ID"  format(uuid)
// @Success     204  {string}  string "No Content"
// @Failure     404  {object}  handlers.ErrorResponse
// @Failure     503  {object}  handlers.ErrorResponse
// @Router      /staff/appointments/{id} [delete]
func (h *Handlers) DeleteAppointment(c *gin.Context) {
	id, okID := appointmentID(c)
	if !okID {
		return
	}
	if err := h.bookings.Delete(c.Request.Context(), id); err != nil {
		failService(c, err)
		return
	}
	noContent(c)
}

// ConfirmAppointment godoc
// @ID          confirmAppointment
// @Summary     Confirm a pending appointment (staff)
// @Tags        Staff
// @Produce     json
// @Security    BearerAuth
// @Param       id  path  string  true  "Appointment ID"  format(uuid)
// @Success     200  {object}  domain.Appointment
// @Failure     404  {object}  handlers.ErrorResponse
// @Failure     409  {object}  handlers.ErrorResponse "invalid_transition"
// @Router      /staff/appointments/{id}/confirm [post]
func (h *Handlers) ConfirmAppointment(c *gin.Context) {
	h.withAppointment(c, http.StatusOK, h.lifecycle.Confirm)
}

// CancelAppointment godoc
// @ID          cancelAppointment
// @Summary     Cancel an appointment (staff)
// @Description Keeps the record and releases its seat.
// @Tags        Staff
// @Produce     json
// @Security    BearerAuth
// @Param       id  path  string  true  "Appointment ID"  format(uuid)
// @Success     200  {object}  domain.Appointment
// @Failure     404  {object}  handlers.ErrorResponse
// @Failure     409  {object}  handlers.ErrorResponse "invalid_transition"
// @Router      /staff/appointments/{id}/cancel [post]
func (h *Handlers) CancelAppointment(c *gin.Context) {
	h.withAppointment(c, http.StatusOK, h.bookings.Cancel)
}

// MarkPaid godoc
// @ID          markPaid
// @Summary     Record an offline payment (staff)
// @Tags        Staff
// @Produce     json
// @Security    BearerAuth
// @Param       id  path  string  true  "Appointment ID"  format(uuid)
// @Success     200  {object}  domain.Appointment
// @Failure     404  {object}  handlers.ErrorResponse
// @Failure     422  {object}  handlers.ErrorResponse "not_completed, fee_not_set or free_session"
// @Router      /staff/appointments/{id}/mark-paid [post]
func (h *Handlers) MarkPaid(c *gin.Context) {
	h.withAppointment(c, http.StatusOK, h.lifecycle.MarkPaid)
}

// CompleteAppointment godoc
// @ID          completeAppointment
// @Summary     Complete a session (staff)
// @Description Either is_free or a positive fee must be supplied.
// @Tags        Staff
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       id    path  string                    true  "Appointment ID"  format(uuid)
// @Param       body  body  handlers.CompleteRequest  true  "Completion"
// @Success     200  {object}  domain.Appointment
// @Failure     400  {object}  handlers.ErrorResponse "invalid_fee"
// @Failure     404  {object}  handlers.ErrorResponse
// @Failure     409  {object}  handlers.ErrorResponse "invalid_transition"
// @Router      /staff/appointments/{id}/complete [post]
func (h *Handlers) CompleteAppointment(c *gin.Context) {
	var req CompleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	h.withAppointment(c, http.StatusOK, func(ctx context.Context, id string) (*domain.Appointment, error) {
		return h.lifecycle.Complete(ctx, id, services.Completion{IsFree: req.IsFree, Fee: req.Fee})
	})
}

// SetFee godoc
// @ID          setFee
// @Summary     Set the fee of an appointment (staff)
// @Description Allowed until the appointment is paid. Clears is_free.
// @Tags        Staff
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       id    path  string                  true  "Appointment ID"  format(uuid)
// @Param       body  body  handlers.SetFeeRequest  true  "Fee"
// @Success     200  {object}  domain.Appointment
// @Failure     400  {object}  handlers.ErrorResponse "invalid_fee"
// @Failure     404  {object}  handlers.ErrorResponse
// @Failure     422  {object}  handlers.ErrorResponse "fee_frozen"
// @Router      /staff/appointments/{id}/fee [put]
func (h *Handlers) SetFee(c *gin.Context) {
	var req SetFeeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "fee required")
		return
	}
	h.withAppointment(c, http.StatusOK, func(ctx context.Context, id string) (*domain.Appointment, error) {
		return h.lifecycle.SetFee(ctx, id, *req.Fee)
	})
}

// withAppointment validates the id path parameter, runs fn and writes the
// resulting appointment.
func (h *Handlers) withAppointment(c *gin.Context, status int, fn func(ctx context.Context, id string) (*domain.Appointment, error)) {
	id, okID := appointmentID(c)
	if !okID {
		return
	}
	a, err := fn(c.Request.Context(), id)
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, status, a)
}
