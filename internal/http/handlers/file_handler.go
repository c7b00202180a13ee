package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/clinic-booking/internal/domain"
	"github.com/tbourn/clinic-booking/internal/http/middleware"
	"github.com/tbourn/clinic-booking/internal/services"
	"github.com/tbourn/clinic-booking/internal/storage"
)

// UploadFile godoc
// @ID          uploadFile
// @Summary     Upload a patient file
// @Description Attach a file to one of the caller's appointments (appointment_id) or to a slot about to be booked (slot_id). Images and documents up to 9 MB, videos up to 90 MB.
// @Tags        Files
// @Accept      multipart/form-data
// @Produce     json
// @Security    BearerAuth
// @Param       file            formData  file    true  "The file"
// @Param       title           formData  string  false "Display title"
// @Param       appointment_id  formData  string  false "Owning appointment"
// @Param       slot_id         formData  int     false "Slot the file is uploaded for before booking"
// @Success     201  {object}  domain.PatientFile
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     404  {object}  handlers.ErrorResponse
// @Failure     413  {object}  handlers.ErrorResponse "file_too_large"
// @Failure     502  {object}  handlers.ErrorResponse "storage_error"
// @Router      /files [post]
func (h *Handlers) UploadFile(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "multipart field 'file' required")
		return
	}

	apptID := strings.TrimSpace(c.PostForm("appointment_id"))
	var slotID uint
	if raw := strings.TrimSpace(c.PostForm("slot_id")); raw != "" {
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil || n == 0 {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "slot_id must be a positive integer")
			return
		}
		slotID = uint(n)
	}
	if (apptID == "") == (slotID == 0) {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "exactly one of appointment_id and slot_id required")
		return
	}

	ct := fh.Header.Get("Content-Type")
	if ct == "" {
		ct = "application/octet-stream"
	}
	// Reject before reading the part.
	if limit := h.files.Limit(storage.CategoryFor(ct)); fh.Size > limit {
		fail(c, http.StatusRequestEntityTooLarge, ErrCodeFileTooLarge,
			fmt.Sprintf("%s: limit is %d MB", services.ErrFileTooLarge.Error(), limit>>20))
		return
	}

	body, err := fh.Open()
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unreadable file part")
		return
	}
	defer body.Close()

	f, err := h.files.Upload(c.Request.Context(), services.Upload{
		PatientID:     middleware.UserID(c),
		AppointmentID: apptID,
		SlotID:        slotID,
		Title:         c.PostForm("title"),
		Filename:      fh.Filename,
		ContentType:   ct,
		Size:          fh.Size,
		Body:          body,
	})
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusCreated, f)
}

// ListFiles godoc
// @ID          listFiles
// @Summary     Caller's files
// @Tags        Files
// @Produce     json
// @Security    BearerAuth
// @Success     200  {array}  domain.PatientFile
// @Router      /me/files [get]
func (h *Handlers) ListFiles(c *gin.Context) {
	items, err := h.files.List(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		failService(c, err)
		return
	}
	if items == nil {
		items = []domain.PatientFile{}
	}
	ok(c, http.StatusOK, items)
}

// ListAppointmentFiles godoc
// @ID          listAppointmentFiles
// @Summary     Files attached to an appointment (staff)
// @Tags        Staff
// @Produce     json
// @Security    BearerAuth
// @Param       id  path  string  true  "Appointment ID"  format(uuid)
// @Success     200  {array}   domain.PatientFile
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /staff/appointments/{id}/files [get]
func (h *Handlers) ListAppointmentFiles(c *gin.Context) {
	items, err := h.files.ListForAppointment(c.Request.Context(), c.Param("id"))
	if err != nil {
		failService(c, err)
		return
	}
	if items == nil {
		items = []domain.PatientFile{}
	}
	ok(c, http.StatusOK, items)
}

// DeleteFile godoc
// @ID          deleteFile
// @Summary     Delete one of the caller's files
// @Tags        Files
// @Security    BearerAuth
// @Param       id  path  string  true  "File ID"  format(uuid)
// @Success     204  {string}  string "No Content"
// @Failure     404  {object}  handlers.ErrorResponse
// @Failure     502  {object}  handlers.ErrorResponse "storage_error"
// @Router      /files/{id} [delete]
func (h *Handlers) DeleteFile(c *gin.Context) {
	if err := h.files.Delete(c.Request.Context(), middleware.UserID(c), c.Param("id")); err != nil {
		failService(c, err)
		return
	}
	noContent(c)
}
