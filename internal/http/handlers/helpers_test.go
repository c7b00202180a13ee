package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/clinic-booking/internal/domain"
	"github.com/tbourn/clinic-booking/internal/events"
	"github.com/tbourn/clinic-booking/internal/http/middleware"
	"github.com/tbourn/clinic-booking/internal/payment"
	"github.com/tbourn/clinic-booking/internal/repo"
	"github.com/tbourn/clinic-booking/internal/services"
	"github.com/tbourn/clinic-booking/internal/storage"
)

const (
	testToday = "2030-05-10"
	staffID   = "staff-1"
)

func init() { gin.SetMode(gin.TestMode) }

// harness wires real services over an in-memory database behind the same
// middleware the router uses, with header authentication.
type harness struct {
	t       *testing.T
	db      *gorm.DB
	r       *gin.Engine
	gateway *payment.Fake
	store   *storage.MemoryStore
	events  *events.Recorder
	files   *services.FileService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dsn := fmt.Sprintf("file:handlers_%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}

	clock := services.Clock{
		Loc: time.UTC,
		Now: func() time.Time { return time.Date(2030, 5, 10, 9, 30, 0, 0, time.UTC) },
	}
	rec := &events.Recorder{}
	gw := payment.NewFake("test-secret")
	store := storage.NewMemoryStore("https://files.test")

	slots := services.NewSlotService(db, clock)
	files := services.NewFileService(db, store, "clinic")
	idem := NewIdempotencyStore(db, time.Hour)

	h := New(Deps{
		Slots:       slots,
		Bookings:    services.NewBookingService(db, clock, services.NewSuggestionService(db, slots), rec, 2*time.Second),
		Lifecycle:   services.NewLifecycleService(db, rec),
		Payments:    services.NewPaymentService(db, gw, rec, "INR"),
		Patients:    services.NewPatientService(db, clock),
		Files:       files,
		Reviews:     services.NewReviewService(db),
		Reconciler:  services.NewReconcileService(db, 2*time.Second),
		Idempotency: idem,
	})

	r := gin.New()
	r.Use(middleware.RequestID())
	api := r.Group("/api/v1",
		middleware.Authenticate(middleware.AuthOptions{HeaderFallback: true}),
		middleware.IdempotencyValidator(middleware.IdempotencyOptions{}, idem.Exists),
	)
	api.GET("/slots", h.ListSlots)
	api.GET("/reviews", h.ListReviews)
	api.POST("/payments/verify", h.VerifyPayment)
	api.POST("/payments/failure", h.PaymentFailure)

	patient := api.Group("", middleware.RequireRole(middleware.RolePatient))
	patient.POST("/patients", h.Register)
	patient.GET("/me", h.Me)
	patient.GET("/me/appointments", h.MyAppointments)
	patient.GET("/me/files", h.ListFiles)
	patient.POST("/bookings", h.Book)
	patient.POST("/appointments/:id/payment", h.InitiatePayment)
	patient.GET("/appointments/:id/receipt", h.Receipt)
	patient.POST("/files", h.UploadFile)
	patient.DELETE("/files/:id", h.DeleteFile)
	patient.POST("/reviews", h.CreateReview)

	staff := api.Group("/staff", middleware.RequireRole(middleware.RoleStaff))
	staff.GET("/slots", h.StaffListSlots)
	staff.GET("/templates", h.ListTemplates)
	staff.POST("/templates", h.InitTemplates)
	staff.PATCH("/templates/:id", h.SetTemplateActive)
	staff.POST("/bookings", h.StaffBook)
	staff.GET("/appointments", h.ListAppointments)
	staff.GET("/appointments/:id", h.GetAppointment)
	staff.GET("/appointments/:id/files", h.ListAppointmentFiles)
	staff.DELETE("/appointments/:id", h.DeleteAppointment)
	staff.POST("/appointments/:id/complete", h.CompleteAppointment)
	staff.POST("/appointments/:id/cancel", h.CancelAppointment)
	staff.POST("/appointments/:id/mark-paid", h.MarkPaid)
	staff.PUT("/appointments/:id/fee", h.SetFee)
	staff.GET("/patients", h.ListPatients)
	staff.GET("/reviews", h.StaffListReviews)
	staff.POST("/reviews/:id/approve", h.ApproveReview)
	staff.DELETE("/reviews/:id", h.DeleteReview)
	staff.POST("/reconcile", h.Reconcile)

	return &harness{t: t, db: db, r: r, gateway: gw, store: store, events: rec, files: files}
}

type reqOpt func(*http.Request)

func withHeader(k, v string) reqOpt { return func(r *http.Request) { r.Header.Set(k, v) } }

// do sends a JSON request as user (role patient unless uid is staffID).
func (h *harness) do(method, path, uid string, body any, opts ...reqOpt) *httptest.ResponseRecorder {
	h.t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			h.t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, "/api/v1"+path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if uid != "" {
		req.Header.Set(middleware.HeaderUserID, uid)
		role := middleware.RolePatient
		if uid == staffID {
			role = middleware.RoleStaff
		}
		req.Header.Set(middleware.HeaderRole, role)
	}
	for _, o := range opts {
		o(req)
	}
	w := httptest.NewRecorder()
	h.r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %T: %v (body %s)", v, err, w.Body.String())
	}
	return v
}

func expectStatus(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Fatalf("status = %d; want %d (body %s)", w.Code, want, w.Body.String())
	}
}

func expectCode(t *testing.T, w *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	expectStatus(t, w, status)
	if got := decode[ErrorResponse](t, w); got.Code != code {
		t.Fatalf("code = %q; want %q", got.Code, code)
	}
}

// register creates a patient profile for a fresh id and returns the id.
func (h *harness) register(phone string) string {
	h.t.Helper()
	id := uuid.NewString()
	w := h.do(http.MethodPost, "/patients", id, map[string]any{
		"full_name": "asha rao",
		"email":     "asha@example.com",
		"phone":     phone,
		"gender":    "F",
		"country":   "India",
	})
	expectStatus(h.t, w, http.StatusCreated)
	return id
}

func (h *harness) slot(date, tm string, capacity, booked int) *domain.DailySlot {
	h.t.Helper()
	s := &domain.DailySlot{Date: date, Time: tm, Capacity: capacity, BookedCount: booked, IsActive: true}
	if err := h.db.Create(s).Error; err != nil {
		h.t.Fatalf("create slot: %v", err)
	}
	return s
}

func (h *harness) appointment(id string) *domain.Appointment {
	h.t.Helper()
	var a domain.Appointment
	if err := h.db.First(&a, "id = ?", id).Error; err != nil {
		h.t.Fatalf("load appointment %s: %v", id, err)
	}
	return &a
}
