package receipt

import (
	"bytes"
	"testing"

	"github.com/shopspring/decimal"
)

func TestRender_ProducesPDF(t *testing.T) {
	out, err := Render(Data{
		ReceiptNo:     "RCPT-1",
		AppointmentID: "a1",
		PatientName:   "Asha Rao",
		Date:          "2025-03-10",
		Time:          "14:00",
		Fee:           decimal.RequireFromString("150"),
		Currency:      "INR",
		OrderID:       "order_1",
		PaymentID:     "pay_1",
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !bytes.HasPrefix(out, []byte("%PDF-")) {
		t.Fatalf("output is not a PDF: %q", out[:8])
	}
	if len(out) < 500 {
		t.Fatalf("suspiciously small PDF: %d bytes", len(out))
	}
	if !bytes.Contains(out, []byte("/Author (Physio Care Clinic)")) {
		t.Fatal("default clinic name missing from document info")
	}
}

func TestRender_ClinicName(t *testing.T) {
	out, err := Render(Data{ClinicName: "Lakeside Physio", ReceiptNo: "RCPT-2", Fee: decimal.NewFromInt(500), Currency: "INR"})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !bytes.Contains(out, []byte("/Author (Lakeside Physio)")) {
		t.Fatal("configured clinic name missing from document info")
	}
}
