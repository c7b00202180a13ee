// Package receipt renders payment receipts as PDF documents.
package receipt

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/shopspring/decimal"
)

// Data is everything printed on a receipt.
type Data struct {
	ClinicName    string
	ReceiptNo     string
	AppointmentID string
	PatientName   string
	PatientPhone  string
	Date          string
	Time          string
	Fee           decimal.Decimal
	Currency      string
	OrderID       string
	PaymentID     string
	IssuedAt      time.Time
}

// Render lays out d on a single A4 page and returns the PDF bytes.
func Render(d Data) ([]byte, error) {
	if d.ClinicName == "" {
		d.ClinicName = "Physio Care Clinic"
	}
	if d.IssuedAt.IsZero() {
		d.IssuedAt = time.Now().UTC()
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(15, 15, 15)
	pdf.SetTitle("Payment receipt "+d.ReceiptNo, false)
	pdf.SetAuthor(d.ClinicName, false)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 16)
	pdf.CellFormat(0, 10, d.ClinicName, "", 1, "C", false, 0, "")
	pdf.SetFont("Arial", "", 10)
	pdf.CellFormat(0, 6, "Payment receipt", "", 1, "C", false, 0, "")
	pdf.Ln(6)

	row(pdf, "Receipt no.", d.ReceiptNo)
	row(pdf, "Issued", d.IssuedAt.Format("02 Jan 2006 15:04 MST"))
	row(pdf, "Patient", d.PatientName)
	if d.PatientPhone != "" {
		row(pdf, "Phone", d.PatientPhone)
	}
	row(pdf, "Appointment", d.AppointmentID)
	row(pdf, "Session", fmt.Sprintf("%s at %s", d.Date, d.Time))
	row(pdf, "Order id", d.OrderID)
	if d.PaymentID != "" {
		row(pdf, "Payment id", d.PaymentID)
	}

	pdf.Ln(4)
	pdf.SetFont("Arial", "B", 13)
	pdf.CellFormat(50, 10, "Amount paid", "1", 0, "", false, 0, "")
	pdf.CellFormat(0, 10, fmt.Sprintf("%s %s", d.Currency, d.Fee.StringFixed(2)), "1", 1, "R", false, 0, "")

	pdf.Ln(10)
	pdf.SetFont("Arial", "I", 9)
	pdf.CellFormat(0, 6, "This is a computer generated receipt.", "", 1, "R", false, 0, "")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render receipt: %w", err)
	}
	return buf.Bytes(), nil
}

func row(pdf *gofpdf.Fpdf, label, value string) {
	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(50, 8, label, "1", 0, "", false, 0, "")
	pdf.SetFont("Arial", "", 10)
	pdf.CellFormat(0, 8, value, "1", 1, "", false, 0, "")
}
