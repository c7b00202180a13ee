// Package handlers implements the clinic's HTTP endpoints.
//
// Handlers are transport-thin: they bind and validate input, call the
// application services through the interfaces below, and translate results
// and service errors into JSON responses (see response.go and errors.go).
// The caller's identity comes from middleware.Authenticate.
package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/tbourn/clinic-booking/internal/domain"
	"github.com/tbourn/clinic-booking/internal/repo"
	"github.com/tbourn/clinic-booking/internal/services"
)

//
// Service contracts (context-aware)
//

// SlotService covers templates and materialized slots.
type SlotService interface {
	InitTemplates(ctx context.Context, startHour, endHour int) (int, error)
	ListTemplates(ctx context.Context) ([]domain.SlotTemplate, error)
	SetTemplateActive(ctx context.Context, id uint, active bool) (*domain.SlotTemplate, error)
	ListSlots(ctx context.Context, date string, staff bool) ([]services.SlotView, error)
	Stats(ctx context.Context, date string) (int64, *time.Time, error)
	SetSlotActive(ctx context.Context, id uint, active bool) (*domain.DailySlot, error)
}

// BookingService creates, lists and removes appointments.
type BookingService interface {
	BookAsPatient(ctx context.Context, patientID string, slotID uint, symptoms string) (*domain.Appointment, error)
	BookAsStaff(ctx context.Context, b services.StaffBooking) (*domain.Appointment, error)
	Delete(ctx context.Context, id string) error
	Cancel(ctx context.Context, id string) (*domain.Appointment, error)
	Get(ctx context.Context, id string) (*domain.Appointment, error)
	ListPage(ctx context.Context, f repo.AppointmentFilter, page, pageSize int) ([]domain.Appointment, int64, error)
	Stats(ctx context.Context, f repo.AppointmentFilter) (int64, *time.Time, error)
}

// LifecycleService applies staff status and fee changes.
type LifecycleService interface {
	Confirm(ctx context.Context, id string) (*domain.Appointment, error)
	Complete(ctx context.Context, id string, c services.Completion) (*domain.Appointment, error)
	SetFee(ctx context.Context, id string, fee decimal.Decimal) (*domain.Appointment, error)
	MarkPaid(ctx context.Context, id string) (*domain.Appointment, error)
}

// PaymentService runs the online payment flow.
type PaymentService interface {
	InitiatePayment(ctx context.Context, patientID, appointmentID string) (*services.PaymentOrder, error)
	RecordedOrder(ctx context.Context, patientID, appointmentID, orderID string) (*services.PaymentOrder, error)
	VerifyPayment(ctx context.Context, orderID, paymentID, signature string) (*domain.Appointment, error)
	RecordFailure(ctx context.Context, orderID, reason string) (*domain.Appointment, error)
	Receipt(ctx context.Context, patientID, appointmentID string) ([]byte, error)
}

// PatientService manages profiles and the patient dashboard.
type PatientService interface {
	Register(ctx context.Context, id string, r services.Registration) (*domain.Patient, error)
	Get(ctx context.Context, id string) (*domain.Patient, error)
	ListPage(ctx context.Context, page, pageSize int) ([]domain.Patient, int64, error)
	Dashboard(ctx context.Context, patientID string) (*services.Dashboard, error)
}

// FileService stores patient uploads.
type FileService interface {
	Upload(ctx context.Context, u services.Upload) (*domain.PatientFile, error)
	List(ctx context.Context, patientID string) ([]domain.PatientFile, error)
	ListForAppointment(ctx context.Context, appointmentID string) ([]domain.PatientFile, error)
	Delete(ctx context.Context, patientID, id string) error
	Limit(category string) int64
}

// ReviewService manages patient reviews.
type ReviewService interface {
	Create(ctx context.Context, patientID string, rating int, comment string) (*domain.Review, error)
	ListPage(ctx context.Context, approvedOnly bool, page, pageSize int) ([]domain.Review, int64, error)
	Approve(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
}

// Reconciler recomputes slot counters.
type Reconciler interface {
	Run(ctx context.Context, date string) (services.ReconcileReport, error)
}

//
// Idempotency
//

// IdempotencyStore remembers which resource a keyed request produced so a
// retry can be answered without repeating the write.
type IdempotencyStore interface {
	// Lookup returns the stored resource id, or found == false.
	Lookup(ctx context.Context, userID, scope, key string) (resourceID string, found bool, err error)
	// Save records resourceID. A concurrent duplicate is not an error.
	Save(ctx context.Context, userID, scope, key, resourceID string, status int) error
}

// DBIdempotency is the GORM-backed IdempotencyStore.
type DBIdempotency struct {
	DB  *gorm.DB
	TTL time.Duration
}

// NewIdempotencyStore returns a store whose records expire after ttl
// (24h when ttl <= 0).
func NewIdempotencyStore(db *gorm.DB, ttl time.Duration) *DBIdempotency {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &DBIdempotency{DB: db, TTL: ttl}
}

// Lookup implements IdempotencyStore.
func (s *DBIdempotency) Lookup(ctx context.Context, userID, scope, key string) (string, bool, error) {
	rec, err := repo.GetIdempotency(ctx, s.DB, userID, scope, key, time.Now().UTC())
	if errors.Is(err, repo.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return rec.ResourceID, true, nil
}

// Save implements IdempotencyStore.
func (s *DBIdempotency) Save(ctx context.Context, userID, scope, key, resourceID string, status int) error {
	_, err := repo.CreateIdempotency(ctx, s.DB, userID, scope, key, resourceID, status, s.TTL)
	if errors.Is(err, repo.ErrDuplicate) {
		return nil
	}
	return err
}

// Exists adapts the store to middleware.IdempotencyLookup.
func (s *DBIdempotency) Exists(ctx context.Context, userID, scope, key string, _ time.Time) (bool, error) {
	_, found, err := s.Lookup(ctx, userID, scope, key)
	return found, err
}

//
// Handler wiring
//

// Deps lists the services behind the endpoints. Idempotency may be nil, which
// disables replays.
type Deps struct {
	Slots       SlotService
	Bookings    BookingService
	Lifecycle   LifecycleService
	Payments    PaymentService
	Patients    PatientService
	Files       FileService
	Reviews     ReviewService
	Reconciler  Reconciler
	Idempotency IdempotencyStore
}

// Handlers groups every endpoint of the API.
type Handlers struct {
	slots      SlotService
	bookings   BookingService
	lifecycle  LifecycleService
	payments   PaymentService
	patients   PatientService
	files      FileService
	reviews    ReviewService
	reconciler Reconciler
	idem       IdempotencyStore
}

// New constructs Handlers bound to d.
func New(d Deps) *Handlers {
	return &Handlers{
		slots:      d.Slots,
		bookings:   d.Bookings,
		lifecycle:  d.Lifecycle,
		payments:   d.Payments,
		patients:   d.Patients,
		files:      d.Files,
		reviews:    d.Reviews,
		reconciler: d.Reconciler,
		idem:       d.Idempotency,
	}
}
