// Package services – PatientService
//
// PatientService handles self-registration, the patient profile, the staff
// patient listing and the patient dashboard, which groups a patient's
// appointments into today, upcoming, pending-payment and history buckets.
package services

import (
	"context"
	"errors"
	"net/mail"
	"regexp"
	"strings"

	"gorm.io/gorm"

	"github.com/tbourn/clinic-booking/internal/domain"
	"github.com/tbourn/clinic-booking/internal/repo"
	"github.com/tbourn/clinic-booking/internal/utils"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var (
	phoneRE = regexp.MustCompile(`^\+?[0-9]{7,15}$`)
	spaceRE = regexp.MustCompile(`\s+`)
)

// Registration is the self-registration form.
type Registration struct {
	FullName string
	Email    string
	Phone    string
	DOB      *string
	Gender   string
	Country  string
	Address  string
}

// Dashboard groups a patient's appointments. Every appointment appears in
// exactly one of Today, Upcoming and History; PendingPayments additionally
// lists those the patient can pay for now.
type Dashboard struct {
	Today           []domain.Appointment `json:"today"`
	Upcoming        []domain.Appointment `json:"upcoming"`
	PendingPayments []domain.Appointment `json:"pending_payments"`
	History         []domain.Appointment `json:"history"`
}

// PatientService manages patient profiles.
type PatientService struct {
	DB    *gorm.DB
	Clock Clock

	// NameLocale drives title-casing of names.
	NameLocale language.Tag
}

// NewPatientService constructs a PatientService.
func NewPatientService(db *gorm.DB, clock Clock) *PatientService {
	return &PatientService{DB: db, Clock: clock, NameLocale: language.Und}
}

// Register creates the profile of the authenticated caller id.
//
// Semantics and validation:
//   - Full name is whitespace-collapsed and title-cased.
//   - Email must parse as an address; phone is 7-15 digits with an optional
//     leading '+'; gender is one of M, F, O; country is required.
//   - DOB, when given, is YYYY-MM-DD and not in the future.
//
// Errors:
//   - ErrInvalidPatient for validation failures.
//   - ErrRegistered when the caller already has a profile.
//   - ErrDuplicatePhone when the phone number belongs to another patient.
func (s *PatientService) Register(ctx context.Context, id string, r Registration) (*domain.Patient, error) {
	ctx, span := otel.Tracer("services/PatientService").Start(ctx, "Register",
		trace.WithAttributes(attribute.String("patient.id", id)))
	defer span.End()

	p, err := s.normalize(id, r)
	if err != nil {
		return nil, err
	}
	if _, err := repo.GetPatient(ctx, s.DB, p.ID); err == nil {
		return nil, ErrRegistered
	} else if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}
	if err := repo.CreatePatient(ctx, s.DB, p); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return nil, ErrDuplicatePhone
		}
		return nil, err
	}
	logFrom(ctx).Info().Str("patient_id", p.ID).Msg("patient registered")
	return p, nil
}

func (s *PatientService) normalize(id string, r Registration) (*domain.Patient, error) {
	name := spaceRE.ReplaceAllString(strings.TrimSpace(r.FullName), " ")
	email := strings.ToLower(strings.TrimSpace(r.Email))
	phone := strings.ReplaceAll(strings.TrimSpace(r.Phone), " ", "")
	gender := strings.ToUpper(strings.TrimSpace(r.Gender))
	country := strings.TrimSpace(r.Country)

	if strings.TrimSpace(id) == "" || name == "" || country == "" {
		return nil, ErrInvalidPatient
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, ErrInvalidPatient
	}
	if !phoneRE.MatchString(phone) {
		return nil, ErrInvalidPatient
	}
	switch gender {
	case "M", "F", "O":
	default:
		return nil, ErrInvalidPatient
	}

	p := &domain.Patient{
		ID:       id,
		FullName: cases.Title(s.NameLocale).String(name),
		Email:    email,
		Phone:    phone,
		Gender:   gender,
		Country:  country,
		Address:  strings.TrimSpace(r.Address),
	}
	if r.DOB != nil && strings.TrimSpace(*r.DOB) != "" {
		dob := strings.TrimSpace(*r.DOB)
		if _, err := parseDate(dob); err != nil || dob > s.Clock.Today() {
			return nil, ErrInvalidPatient
		}
		p.DOB = &dob
	}
	return p, nil
}

// Get returns the profile of id.
func (s *PatientService) Get(ctx context.Context, id string) (*domain.Patient, error) {
	p, err := repo.GetPatient(ctx, s.DB, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrPatientNotFound
	}
	return p, err
}

// ListPage returns a page of patients for staff.
func (s *PatientService) ListPage(ctx context.Context, page, pageSize int) ([]domain.Patient, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	total, err := repo.CountPatients(ctx, s.DB)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Patient{}, 0, nil
	}
	items, err := repo.ListPatientsPage(ctx, s.DB, utils.Offset(page, pageSize), pageSize)
	return items, total, err
}

// Dashboard returns the bucketed appointments of patientID.
//
// Buckets:
//   - Today:    today's appointments that are not COMPLETED.
//   - Upcoming: later days, PENDING or CONFIRMED.
//   - History:  everything else (past days, completed today, cancelled
//     future appointments).
//   - PendingPayments: payment-eligible appointments in any bucket.
func (s *PatientService) Dashboard(ctx context.Context, patientID string) (*Dashboard, error) {
	ctx, span := otel.Tracer("services/PatientService").Start(ctx, "Dashboard",
		trace.WithAttributes(attribute.String("patient.id", patientID)))
	defer span.End()

	if _, err := s.Get(ctx, patientID); err != nil {
		return nil, err
	}
	items, err := repo.ListPatientAppointments(ctx, s.DB, patientID)
	if err != nil {
		return nil, err
	}

	today := s.Clock.Today()
	d := &Dashboard{
		Today:           []domain.Appointment{},
		Upcoming:        []domain.Appointment{},
		PendingPayments: []domain.Appointment{},
		History:         []domain.Appointment{},
	}
	for _, a := range items {
		date := ""
		if a.Slot != nil {
			date = a.Slot.Date
		}
		live := a.Status == domain.StatusPending || a.Status == domain.StatusConfirmed
		switch {
		case date == today && a.Status != domain.StatusCompleted:
			d.Today = append(d.Today, a)
		case date > today && live:
			d.Upcoming = append(d.Upcoming, a)
		default:
			d.History = append(d.History, a)
		}
		if PaymentEligible(&a) {
			d.PendingPayments = append(d.PendingPayments, a)
		}
	}
	return d, nil
}
