// Package domain defines the persistence models for the clinic: slot
// templates, materialized daily slots, patients, appointments, reviews and
// patient files. These types are mapped with GORM and form the core data
// layer of the booking application.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Appointment status values.
const (
	StatusPending   = "PENDING"
	StatusConfirmed = "CONFIRMED"
	StatusCompleted = "COMPLETED"
	StatusCancelled = "CANCELLED"
)

// Payment status values.
const (
	PaymentPending = "PENDING"
	PaymentPaid    = "PAID"
	PaymentFailed  = "FAILED"
)

// Booking sources.
const (
	SourcePatient = "PATIENT"
	SourceDoctor  = "DOCTOR"
)

// Patient file categories.
const (
	FileImage    = "image"
	FileVideo    = "video"
	FileDocument = "document"
)

// DateLayout and TimeLayout are the canonical string forms of slot dates and
// times. Both are zero-padded so lexical order equals chronological order on
// every supported database.
const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

// SlotTemplate is one entry of the clinic's canonical daily schedule.
//
// Fields:
//   - ID: autoincrement primary key.
//   - Time: time of day ("HH:MM"), unique.
//   - IsActive: inactive templates are skipped by materialization.
type SlotTemplate struct {
	ID        uint      `json:"id"         gorm:"primaryKey"`
	Time      string    `json:"time"       gorm:"column:slot_time;type:varchar(5);not null;uniqueIndex:ux_slot_templates_time"`
	IsActive  bool      `json:"is_active"  gorm:"not null;default:true"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name for SlotTemplate.
func (SlotTemplate) TableName() string { return "slot_templates" }

// DailySlot is a concrete, date-bound unit of clinic capacity. It is the sole
// owner of capacity truth: BookedCount is maintained transactionally with
// every appointment insert, cancel and delete.
//
// Fields:
//   - ID: autoincrement primary key.
//   - Date / Time: the slot key; one row per (date, time).
//   - Capacity: concurrent appointments allowed (>= 1).
//   - BookedCount: live appointments holding a seat (0..Capacity).
//   - IsActive: inactive slots cannot be booked or suggested.
type DailySlot struct {
	ID          uint      `json:"id"           gorm:"primaryKey"`
	Date        string    `json:"date"         gorm:"column:slot_date;type:varchar(10);not null;uniqueIndex:ux_daily_slots_date_time,priority:1"`
	Time        string    `json:"time"         gorm:"column:slot_time;type:varchar(5);not null;uniqueIndex:ux_daily_slots_date_time,priority:2"`
	Capacity    int       `json:"capacity"     gorm:"not null;default:1;check:chk_daily_slots_capacity,capacity >= 1"`
	BookedCount int       `json:"booked_count" gorm:"not null;default:0;check:chk_daily_slots_booked,booked_count >= 0 AND booked_count <= capacity"`
	IsActive    bool      `json:"is_active"    gorm:"not null;default:true"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName returns the database table name for DailySlot.
func (DailySlot) TableName() string { return "daily_slots" }

// IsFull reports whether every seat of the slot is taken.
func (s DailySlot) IsFull() bool { return s.BookedCount >= s.Capacity }

// Available reports whether the slot can accept another appointment.
func (s DailySlot) Available() bool { return s.IsActive && !s.IsFull() }

// Patient is a registered clinic patient. ID equals the subject of the
// caller's identity token.
type Patient struct {
	ID        string    `json:"id"         gorm:"type:char(36);primaryKey"`
	FullName  string    `json:"full_name"  gorm:"type:varchar(120);not null"`
	Email     string    `json:"email"      gorm:"type:varchar(254);not null"`
	Phone     string    `json:"phone"      gorm:"type:varchar(20);not null;uniqueIndex:ux_patients_phone"`
	DOB       *string   `json:"dob,omitempty" gorm:"type:varchar(10)"`
	Gender    string    `json:"gender"     gorm:"type:varchar(1);not null;check:gender IN ('M','F','O')"`
	Country   string    `json:"country"    gorm:"type:varchar(50);not null"`
	Address   string    `json:"address"    gorm:"type:text"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name for Patient.
func (Patient) TableName() string { return "patients" }

// Appointment links one patient to one daily slot and carries the fee and
// payment sub-state. It is the sole owner of fee/payment truth.
//
// Fields:
//   - Status: PENDING, CONFIRMED, COMPLETED or CANCELLED.
//   - PaymentStatus: PENDING, PAID or FAILED.
//   - BookingSource: PATIENT or DOCTOR.
//   - Fee: null until staff assigns it; frozen once PAID.
//   - PaymentOrderID / PaymentID / PaymentSignature: gateway references.
type Appointment struct {
	ID               string              `json:"id"                gorm:"type:char(36);primaryKey"`
	PatientID        string              `json:"patient_id"        gorm:"type:char(36);not null;index"`
	SlotID           uint                `json:"slot_id"           gorm:"not null;index"`
	Status           string              `json:"status"            gorm:"type:varchar(16);not null;default:'CONFIRMED';check:status IN ('PENDING','CONFIRMED','COMPLETED','CANCELLED')"`
	PaymentStatus    string              `json:"payment_status"    gorm:"type:varchar(16);not null;default:'PENDING';check:payment_status IN ('PENDING','PAID','FAILED')"`
	BookingSource    string              `json:"booking_source"    gorm:"type:varchar(16);not null;check:booking_source IN ('PATIENT','DOCTOR')"`
	Symptoms         string              `json:"symptoms"          gorm:"type:text"`
	Fee              decimal.NullDecimal `json:"fee"               gorm:"type:numeric(10,2)" swaggertype:"string"`
	IsFree           bool                `json:"is_free"           gorm:"not null;default:false"`
	PaymentOrderID   *string             `json:"payment_order_id,omitempty" gorm:"type:varchar(64);uniqueIndex:ux_appointments_order"`
	PaymentID        *string             `json:"payment_id,omitempty"       gorm:"type:varchar(64)"`
	PaymentSignature *string             `json:"-"                 gorm:"type:varchar(128)"`
	CreatedAt        time.Time           `json:"created_at"`
	UpdatedAt        time.Time           `json:"updated_at"`

	// Slot and Patient are loaded on demand. Deleting either is blocked while
	// appointments reference it.
	Slot    *DailySlot `json:"slot,omitempty"    gorm:"foreignKey:SlotID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT"`
	Patient *Patient   `json:"patient,omitempty" gorm:"foreignKey:PatientID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT"`
}

// TableName returns the database table name for Appointment.
func (Appointment) TableName() string { return "appointments" }

// HoldsSeat reports whether the appointment counts toward its slot's
// booked_count.
func (a Appointment) HoldsSeat() bool { return a.Status != StatusCancelled }

// Review is a patient's rating of the clinic. Each patient may leave one.
type Review struct {
	ID         string    `json:"id"          gorm:"type:char(36);primaryKey"`
	PatientID  string    `json:"patient_id"  gorm:"type:char(36);not null;uniqueIndex:ux_reviews_patient"`
	Rating     int       `json:"rating"      gorm:"not null;check:rating BETWEEN 1 AND 5"`
	Comment    string    `json:"comment"     gorm:"type:text"`
	IsApproved bool      `json:"is_approved" gorm:"not null;default:false"`
	CreatedAt  time.Time `json:"created_at"`

	Patient *Patient `json:"patient,omitempty" gorm:"foreignKey:PatientID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Review.
func (Review) TableName() string { return "reviews" }

// PatientFile is the metadata of an object uploaded by a patient, either for
// an existing appointment or for a slot the patient is about to book.
//
// Fields:
//   - AppointmentID: set when the file belongs to an appointment.
//   - PendingSlotID: set when the file was uploaded before booking.
//   - PublicID: opaque object-store identifier, used for deletion.
//   - FileType: image, video or document.
//   - Metadata: content type and original filename as reported at upload.
type PatientFile struct {
	ID            string         `json:"id"             gorm:"type:char(36);primaryKey"`
	PatientID     string         `json:"patient_id"     gorm:"type:char(36);not null;index"`
	AppointmentID *string        `json:"appointment_id,omitempty" gorm:"type:char(36);index"`
	PendingSlotID *uint          `json:"pending_slot_id,omitempty" gorm:"index"`
	Title         string         `json:"title"          gorm:"type:varchar(255);not null"`
	FileURL       string         `json:"file_url"       gorm:"type:text;not null"`
	PublicID      string         `json:"public_id"      gorm:"type:varchar(512);not null"`
	FileType      string         `json:"file_type"      gorm:"type:varchar(16);not null;check:file_type IN ('image','video','document')"`
	SizeBytes     int64          `json:"size_bytes"     gorm:"not null"`
	Metadata      datatypes.JSON `json:"metadata"       swaggertype:"object"`
	UploadedAt    time.Time      `json:"uploaded_at"    gorm:"autoCreateTime"`

	Patient     *Patient     `json:"-" gorm:"foreignKey:PatientID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	Appointment *Appointment `json:"-" gorm:"foreignKey:AppointmentID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:SET NULL"`
}

// TableName returns the database table name for PatientFile.
func (PatientFile) TableName() string { return "patient_files" }
