package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// ReconcileRequest selects one day; empty reconciles every slot.
type ReconcileRequest struct {
	Date string `json:"date" example:"2026-03-14"`
}

// Reconcile godoc
// @ID          reconcile
// @Summary     Recompute slot booked counts (staff)
// @Description Restores each slot's booked_count to the number of live appointments, clamped to capacity.
// @Tags        Staff
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       body  body  handlers.ReconcileRequest  false  "Day to reconcile"
// @Success     200  {object}  services.ReconcileReport
// @Failure     400  {object}  handlers.ErrorResponse
// @Router      /staff/reconcile [post]
func (h *Handlers) Reconcile(c *gin.Context) {
	var req ReconcileRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
			return
		}
	}
	rep, err := h.reconciler.Run(c.Request.Context(), strings.TrimSpace(req.Date))
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, rep)
}
