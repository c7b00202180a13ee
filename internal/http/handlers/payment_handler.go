package handlers

// Payment endpoints:
//   - POST /appointments/{id}/payment   (initiate; Idempotency-Key)
//   - GET  /appointments/{id}/receipt   (PDF, paid only)
//   - POST /payments/verify             (checkout success callback)
//   - POST /payments/failure            (checkout failure callback)
//
// The callbacks accept JSON or form posts using the gateway's field names.

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/clinic-booking/internal/http/middleware"
)

// VerifyPaymentRequest is the checkout success payload.
type VerifyPaymentRequest struct {
	OrderID   string `json:"razorpay_order_id"   form:"razorpay_order_id"   binding:"required" example:"order_NxYz123"`
	PaymentID string `json:"razorpay_payment_id" form:"razorpay_payment_id" binding:"required" example:"pay_NxYz456"`
	Signature string `json:"razorpay_signature"  form:"razorpay_signature"  binding:"required"`
}

// PaymentFailureRequest is the checkout failure payload.
type PaymentFailureRequest struct {
	OrderID string `json:"razorpay_order_id" form:"razorpay_order_id" binding:"required" example:"order_NxYz123"`
	Reason  string `json:"reason"            form:"reason"            binding:"max=500"  example:"card declined"`
}

// InitiatePayment godoc
// @ID          initiatePayment
// @Summary     Create a payment order
// @Description Opens a gateway order for a completed, unpaid session with a fee. A retry with the same Idempotency-Key returns the same order.
// @Tags        Payments
// @Produce     json
// @Security    BearerAuth
// @Param       Idempotency-Key  header  string  false "Key for safe retries"
// @Param       id               path    string  true  "Appointment ID"  format(uuid)
// @Success     200  {object}  services.PaymentOrder
// @Failure     404  {object}  handlers.ErrorResponse
// @Failure     422  {object}  handlers.ErrorResponse "not_completed, fee_not_set, free_session or already_paid"
// @Failure     502  {object}  handlers.ErrorResponse "gateway_error"
// @Router      /appointments/{id}/payment [post]
func (h *Handlers) InitiatePayment(c *gin.Context) {
	id, okID := appointmentID(c)
	if !okID {
		return
	}
	ctx := c.Request.Context()
	uid := middleware.UserID(c)
	if h.replay(c, http.StatusOK, func(orderID string) (any, error) {
		return h.payments.RecordedOrder(ctx, uid, id, orderID)
	}) {
		return
	}

	order, err := h.payments.InitiatePayment(ctx, uid, id)
	if err != nil {
		failService(c, err)
		return
	}
	h.remember(c, order.OrderID, http.StatusOK)
	ok(c, http.StatusOK, order)
}

// VerifyPayment godoc
// @ID          verifyPayment
// @Summary     Confirm a payment from the checkout callback
// @Description Verifies the gateway signature and marks the appointment PAID. Repeating a verified callback is a no-op.
// @Tags        Payments
// @Accept      json
// @Accept      x-www-form-urlencoded
// @Produce     json
// @Security    BearerAuth
// @Param       body  body  handlers.VerifyPaymentRequest  true  "Gateway callback"
// @Success     200  {object}  domain.Appointment
// @Failure     400  {object}  handlers.ErrorResponse "invalid_signature"
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /payments/verify [post]
func (h *Handlers) VerifyPayment(c *gin.Context) {
	var req VerifyPaymentRequest
	if err := c.ShouldBind(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "order id, payment id and signature required")
		return
	}
	a, err := h.payments.VerifyPayment(c.Request.Context(),
		strings.TrimSpace(req.OrderID), strings.TrimSpace(req.PaymentID), strings.TrimSpace(req.Signature))
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, a)
}

// PaymentFailure godoc
// @ID          paymentFailure
// @Summary     Report a failed checkout
// @Description Marks the order's appointment FAILED; a new order may be initiated afterwards.
// @Tags        Payments
// @Accept      json
// @Accept      x-www-form-urlencoded
// @Produce     json
// @Security    BearerAuth
// @Param       body  body  handlers.PaymentFailureRequest  true  "Gateway callback"
// @Success     200  {object}  domain.Appointment
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /payments/failure [post]
func (h *Handlers) PaymentFailure(c *gin.Context) {
	var req PaymentFailureRequest
	if err := c.ShouldBind(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "order id required")
		return
	}
	a, err := h.payments.RecordFailure(c.Request.Context(), strings.TrimSpace(req.OrderID), strings.TrimSpace(req.Reason))
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, a)
}

// Receipt godoc
// @ID          receipt
// @Summary     Download the payment receipt
// @Tags        Payments
// @Produce     application/pdf
// @Security    BearerAuth
// @Param       id  path  string  true  "Appointment ID"  format(uuid)
// @Success     200  {file}    binary
// @Failure     404  {object}  handlers.ErrorResponse
// @Failure     422  {object}  handlers.ErrorResponse "not_paid"
// @Router      /appointments/{id}/receipt [get]
func (h *Handlers) Receipt(c *gin.Context) {
	id, okID := appointmentID(c)
	if !okID {
		return
	}
	pdf, err := h.payments.Receipt(c.Request.Context(), middleware.UserID(c), id)
	if err != nil {
		failService(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="receipt-`+id+`.pdf"`)
	c.Data(http.StatusOK, "application/pdf", pdf)
}
