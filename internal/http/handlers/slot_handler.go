package handlers

// Slot and template endpoints:
//   - GET   /slots                 (patient; today or later)
//   - GET   /staff/slots           (staff; any date)
//   - PATCH /staff/slots/{id}      (open/close one slot)
//   - GET   /staff/templates
//   - POST  /staff/templates       (get-or-create hourly templates)
//   - PATCH /staff/templates/{id}  (activate/deactivate)

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/clinic-booking/internal/domain"
	"github.com/tbourn/clinic-booking/internal/services"
)

// ListSlotsResponse is one day of slots.
type ListSlotsResponse struct {
	Date  string              `json:"date"`
	Slots []services.SlotView `json:"slots"`
}

// InitTemplatesRequest selects the inclusive hour range to create.
type InitTemplatesRequest struct {
	StartHour *int `json:"start_hour" binding:"required" example:"6"`
	EndHour   *int `json:"end_hour"   binding:"required" example:"22"`
}

// InitTemplatesResponse reports how many templates were new.
type InitTemplatesResponse struct {
	Created int `json:"created" example:"17"`
}

// SetActiveRequest toggles a template or slot.
type SetActiveRequest struct {
	IsActive *bool `json:"is_active" binding:"required" example:"false"`
}

func parseUintParam(c *gin.Context, name string) (uint, bool) {
	n, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || n == 0 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, name+" must be a positive integer")
		return 0, false
	}
	return uint(n), true
}

// ListSlots godoc
// @ID          listSlots
// @Summary     List bookable slots of a day
// @Description Materializes the day from the active templates on first access. Dates before today are rejected. Supports weak ETag via If-None-Match.
// @Tags        Slots
// @Produce     json
// @Security    BearerAuth
// @Param       date           query   string  true  "Day (YYYY-MM-DD)"  example(2026-03-14)
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"
// @Success     200  {object}  handlers.ListSlotsResponse
// @Success     304  {string}  string "Not Modified"
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     422  {object}  handlers.ErrorResponse "Past date"
// @Router      /slots [get]
func (h *Handlers) ListSlots(c *gin.Context) { h.listSlots(c, false) }

// StaffListSlots godoc
// @ID          staffListSlots
// @Summary     List slots of any day (staff)
// @Tags        Staff
// @Produce     json
// @Security    BearerAuth
// @Param       date  query  string  true  "Day (YYYY-MM-DD)"
// @Success     200  {object}  handlers.ListSlotsResponse
// @Failure     400  {object}  handlers.ErrorResponse
// @Router      /staff/slots [get]
func (h *Handlers) StaffListSlots(c *gin.Context) { h.listSlots(c, true) }

// listSlots lists first so the day is materialized, then derives the ETag
// from the stored rows.
func (h *Handlers) listSlots(c *gin.Context, staff bool) {
	ctx := c.Request.Context()
	date := c.Query("date")

	slots, err := h.slots.ListSlots(ctx, date, staff)
	if err != nil {
		failService(c, err)
		return
	}
	if count, maxTS, err := h.slots.Stats(ctx, date); err == nil {
		if notModified(c, "slots", date, count, maxTS) {
			return
		}
	}
	ok(c, http.StatusOK, ListSlotsResponse{Date: date, Slots: slots})
}

// SetSlotActive godoc
// @ID          setSlotActive
// @Summary     Open or close one slot (staff)
// @Tags        Staff
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       id    path  int                        true  "Slot ID"
// @Param       body  body  handlers.SetActiveRequest  true  "New state"
// @Success     200  {object}  domain.DailySlot
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /staff/slots/{id} [patch]
func (h *Handlers) SetSlotActive(c *gin.Context) {
	id, okID := parseUintParam(c, "id")
	if !okID {
		return
	}
	var req SetActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "is_active required")
		return
	}
	slot, err := h.slots.SetSlotActive(c.Request.Context(), id, *req.IsActive)
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, slot)
}

// ListTemplates godoc
// @ID          listTemplates
// @Summary     List slot templates (staff)
// @Tags        Staff
// @Produce     json
// @Security    BearerAuth
// @Success     200  {array}  domain.SlotTemplate
// @Router      /staff/templates [get]
func (h *Handlers) ListTemplates(c *gin.Context) {
	items, err := h.slots.ListTemplates(c.Request.Context())
	if err != nil {
		failService(c, err)
		return
	}
	if items == nil {
		items = []domain.SlotTemplate{}
	}
	ok(c, http.StatusOK, items)
}

// InitTemplates godoc
// @ID          initTemplates
// @Summary     Create hourly slot templates (staff)
// @Description Get-or-create one template per hour in [start_hour, end_hour]. Idempotent.
// @Tags        Staff
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       body  body  handlers.InitTemplatesRequest  true  "Hour range"
// @Success     200  {object}  handlers.InitTemplatesResponse
// @Failure     400  {object}  handlers.ErrorResponse
// @Router      /staff/templates [post]
func (h *Handlers) InitTemplates(c *gin.Context) {
	var req InitTemplatesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "start_hour and end_hour required")
		return
	}
	n, err := h.slots.InitTemplates(c.Request.Context(), *req.StartHour, *req.EndHour)
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, InitTemplatesResponse{Created: n})
}

// SetTemplateActive godoc
// @ID          setTemplateActive
// @Summary     Activate or deactivate a template (staff)
// @Description Already materialized slots are not changed.
// @Tags        Staff
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       id    path  int                        true  "Template ID"
// @Param       body  body  handlers.SetActiveRequest  true  "New state"
// @Success     200  {object}  domain.SlotTemplate
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /staff/templates/{id} [patch]
func (h *Handlers) SetTemplateActive(c *gin.Context) {
	id, okID := parseUintParam(c, "id")
	if !okID {
		return
	}
	var req SetActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "is_active required")
		return
	}
	t, err := h.slots.SetTemplateActive(c.Request.Context(), id, *req.IsActive)
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, t)
}
