package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/clinic-booking/internal/domain"
	"github.com/tbourn/clinic-booking/internal/http/middleware"
	"github.com/tbourn/clinic-booking/internal/services"
)

// RegisterRequest is the self-registration form. The patient id is the
// caller's identity, never part of the body.
type RegisterRequest struct {
	FullName string  `json:"full_name" binding:"required,max=120" example:"asha  kumari rao"`
	Email    string  `json:"email"     binding:"required,max=254" example:"asha@example.com"`
	Phone    string  `json:"phone"     binding:"required,max=20"  example:"+91 98765 43210"`
	DOB      *string `json:"dob,omitempty" example:"1990-04-12"`
	Gender   string  `json:"gender"    binding:"required" example:"F" enums:"M,F,O"`
	Country  string  `json:"country"   binding:"required,max=50" example:"India"`
	Address  string  `json:"address"   binding:"max=500"`
}

// ListPatientsResponse is a page of patients.
type ListPatientsResponse struct {
	Patients   []domain.Patient `json:"patients"`
	Pagination Pagination       `json:"pagination"`
}

// Register godoc
// @ID          registerPatient
// @Summary     Register the caller as a patient
// @Tags        Patients
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       body  body  handlers.RegisterRequest  true  "Profile"
// @Success     201  {object}  domain.Patient
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     409  {object}  handlers.ErrorResponse "conflict or duplicate_phone"
// @Router      /patients [post]
func (h *Handlers) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "full_name, email, phone, gender and country are required")
		return
	}
	p, err := h.patients.Register(c.Request.Context(), middleware.UserID(c), services.Registration{
		FullName: req.FullName,
		Email:    req.Email,
		Phone:    req.Phone,
		DOB:      req.DOB,
		Gender:   req.Gender,
		Country:  req.Country,
		Address:  req.Address,
	})
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusCreated, p)
}

// Me godoc
// @ID          me
// @Summary     Caller's patient profile
// @Tags        Patients
// @Produce     json
// @Security    BearerAuth
// @Success     200  {object}  domain.Patient
// @Failure     404  {object}  handlers.ErrorResponse "not_registered"
// @Router      /me [get]
func (h *Handlers) Me(c *gin.Context) {
	p, err := h.patients.Get(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, p)
}

// MyAppointments godoc
// @ID          myAppointments
// @Summary     Caller's appointments grouped for the dashboard
// @Description today, upcoming, pending_payments (payable now) and history.
// @Tags        Patients
// @Produce     json
// @Security    BearerAuth
// @Success     200  {object}  services.Dashboard
// @Failure     404  {object}  handlers.ErrorResponse "not_registered"
// @Router      /me/appointments [get]
func (h *Handlers) MyAppointments(c *gin.Context) {
	d, err := h.patients.Dashboard(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, d)
}

// ListPatients godoc
// @ID          listPatients
// @Summary     List patients (staff)
// @Tags        Staff
// @Produce     json
// @Security    BearerAuth
// @Param       page       query  int  false "Page number"     minimum(1) default(1)
// @Param       page_size  query  int  false "Items per page"  minimum(1) maximum(100) default(20)
// @Success     200  {object}  handlers.ListPatientsResponse
// @Router      /staff/patients [get]
func (h *Handlers) ListPatients(c *gin.Context) {
	page, pageSize := clampPagination(c)
	items, total, err := h.patients.ListPage(c.Request.Context(), page, pageSize)
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, ListPatientsResponse{Patients: items, Pagination: newPagination(page, pageSize, total)})
}
