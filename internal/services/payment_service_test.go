package services

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/tbourn/clinic-booking/internal/domain"
	"github.com/tbourn/clinic-booking/internal/events"
	"github.com/tbourn/clinic-booking/internal/payment"
	"github.com/tbourn/clinic-booking/internal/repo"
)

type paymentFixture struct {
	db   *gorm.DB
	svc  *PaymentService
	gw   *payment.Fake
	rec  *events.Recorder
	p    *domain.Patient
	slot *domain.DailySlot
}

func newPaymentFixture(t *testing.T) *paymentFixture {
	t.Helper()
	db := newTestDB(t)
	gw := payment.NewFake("test-secret")
	rec := &events.Recorder{}
	return &paymentFixture{
		db:   db,
		svc:  NewPaymentService(db, gw, rec, "INR"),
		gw:   gw,
		rec:  rec,
		p:    mustPatient(t, db),
		slot: mustSlot(t, db, testToday, "10:00", 5, 0),
	}
}

// completed inserts a COMPLETED appointment with fee 150.00.
func (f *paymentFixture) completed(t *testing.T) *domain.Appointment {
	t.Helper()
	return mustAppointment(t, f.db, f.p, f.slot, domain.StatusCompleted, func(a *domain.Appointment) {
		a.Fee = decimal.NewNullDecimal(decimal.RequireFromString("150.00"))
	})
}

func TestInitiatePayment_Eligibility(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()

	pending := mustAppointment(t, f.db, f.p, f.slot, domain.StatusPending, nil)
	if _, err := f.svc.InitiatePayment(ctx, f.p.ID, pending.ID); !errors.Is(err, ErrNotCompleted) {
		t.Fatalf("PENDING: want ErrNotCompleted, got %v", err)
	}

	noFee := mustAppointment(t, f.db, f.p, f.slot, domain.StatusCompleted, nil)
	if _, err := f.svc.InitiatePayment(ctx, f.p.ID, noFee.ID); !errors.Is(err, ErrFeeNotSet) {
		t.Fatalf("no fee: want ErrFeeNotSet, got %v", err)
	}

	a := f.completed(t)
	other := mustPatient(t, f.db)
	if _, err := f.svc.InitiatePayment(ctx, other.ID, a.ID); !errors.Is(err, ErrAppointmentNotFound) {
		t.Fatalf("foreign appointment: want ErrAppointmentNotFound, got %v", err)
	}
}

func TestPayment_InitiateVerifyIdempotent(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()
	a := f.completed(t)

	order, err := f.svc.InitiatePayment(ctx, f.p.ID, a.ID)
	if err != nil {
		t.Fatalf("InitiatePayment: %v", err)
	}
	if order.AmountMinor != 15000 || order.Currency != "INR" || order.KeyID == "" || order.OrderID == "" {
		t.Fatalf("unexpected order: %+v", order)
	}
	if amt, ok := f.gw.Amount(order.OrderID); !ok || amt != 15000 {
		t.Fatalf("gateway amount = (%d, %v)", amt, ok)
	}
	stored, _ := repo.GetAppointment(ctx, f.db, a.ID)
	if stored.PaymentOrderID == nil || *stored.PaymentOrderID != order.OrderID {
		t.Fatalf("order id not recorded: %+v", stored)
	}

	sig := f.gw.Sign(order.OrderID, "pay_123")
	paid, err := f.svc.VerifyPayment(ctx, order.OrderID, "pay_123", sig)
	if err != nil || paid.PaymentStatus != domain.PaymentPaid {
		t.Fatalf("VerifyPayment = (%+v, %v)", paid, err)
	}
	if paid.PaymentID == nil || *paid.PaymentID != "pay_123" {
		t.Fatalf("payment id not stored: %+v", paid)
	}

	again, err := f.svc.VerifyPayment(ctx, order.OrderID, "pay_other", "garbage")
	if err != nil || again.PaymentStatus != domain.PaymentPaid || *again.PaymentID != "pay_123" {
		t.Fatalf("second verification not a no-op: (%+v, %v)", again, err)
	}
	if types := f.rec.Types(); len(types) != 1 || types[0] != events.AppointmentPaid {
		t.Fatalf("events = %v", types)
	}

	if _, err := f.svc.InitiatePayment(ctx, f.p.ID, a.ID); !errors.Is(err, ErrAlreadyPaid) {
		t.Fatalf("pay twice: want ErrAlreadyPaid, got %v", err)
	}
}

func TestVerifyPayment_BadSignatureAndUnknownOrder(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()
	a := f.completed(t)
	order, err := f.svc.InitiatePayment(ctx, f.p.ID, a.ID)
	if err != nil {
		t.Fatalf("InitiatePayment: %v", err)
	}

	if _, err := f.svc.VerifyPayment(ctx, order.OrderID, "pay_1", "deadbeef"); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("want ErrInvalidSignature, got %v", err)
	}
	cur, _ := repo.GetAppointment(ctx, f.db, a.ID)
	if cur.PaymentStatus != domain.PaymentPending || cur.PaymentID != nil {
		t.Fatalf("state changed on bad signature: %+v", cur)
	}
	if _, err := f.svc.VerifyPayment(ctx, "order_unknown", "pay_1", "x"); !errors.Is(err, ErrAppointmentNotFound) {
		t.Fatalf("want ErrAppointmentNotFound, got %v", err)
	}
}

func TestInitiatePayment_GatewayFailureLeavesAppointment(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()
	a := f.completed(t)
	f.gw.Err = errors.New("gateway down")

	if _, err := f.svc.InitiatePayment(ctx, f.p.ID, a.ID); !errors.Is(err, ErrGateway) {
		t.Fatalf("want ErrGateway, got %v", err)
	}
	cur, _ := repo.GetAppointment(ctx, f.db, a.ID)
	if cur.PaymentOrderID != nil || cur.PaymentStatus != domain.PaymentPending {
		t.Fatalf("appointment touched: %+v", cur)
	}
}

func TestRecordFailure_ThenRetry(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()
	a := f.completed(t)

	first, err := f.svc.InitiatePayment(ctx, f.p.ID, a.ID)
	if err != nil {
		t.Fatalf("InitiatePayment: %v", err)
	}
	failed, err := f.svc.RecordFailure(ctx, first.OrderID, "card declined")
	if err != nil || failed.PaymentStatus != domain.PaymentFailed {
		t.Fatalf("RecordFailure = (%+v, %v)", failed, err)
	}
	if !PaymentEligible(failed) {
		t.Fatalf("FAILED appointment should be eligible again")
	}

	second, err := f.svc.InitiatePayment(ctx, f.p.ID, a.ID)
	if err != nil || second.OrderID == first.OrderID {
		t.Fatalf("re-initiate = (%+v, %v)", second, err)
	}
	cur, _ := repo.GetAppointment(ctx, f.db, a.ID)
	if cur.PaymentStatus != domain.PaymentPending || *cur.PaymentOrderID != second.OrderID {
		t.Fatalf("retry not recorded: %+v", cur)
	}

	// The stale order no longer resolves.
	if _, err := f.svc.RecordFailure(ctx, first.OrderID, "late"); !errors.Is(err, ErrAppointmentNotFound) {
		t.Fatalf("stale order: want ErrAppointmentNotFound, got %v", err)
	}
}

func TestSetFee_VoidsOutstandingOrder(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()
	a := f.completed(t)
	lc := NewLifecycleService(f.db, nil)

	old, err := f.svc.InitiatePayment(ctx, f.p.ID, a.ID)
	if err != nil || old.AmountMinor != 15000 {
		t.Fatalf("InitiatePayment = (%+v, %v)", old, err)
	}
	if _, err := lc.SetFee(ctx, a.ID, decimal.RequireFromString("500.00")); err != nil {
		t.Fatalf("SetFee: %v", err)
	}

	// A correctly signed callback for the order charged at the old amount
	// must not settle the new fee.
	sig := f.gw.Sign(old.OrderID, "pay_old")
	if _, err := f.svc.VerifyPayment(ctx, old.OrderID, "pay_old", sig); !errors.Is(err, ErrAppointmentNotFound) {
		t.Fatalf("stale order verify: want ErrAppointmentNotFound, got %v", err)
	}
	cur, _ := repo.GetAppointment(ctx, f.db, a.ID)
	if cur.PaymentStatus != domain.PaymentPending || cur.PaymentOrderID != nil {
		t.Fatalf("appointment after stale verify: %+v", cur)
	}

	fresh, err := f.svc.InitiatePayment(ctx, f.p.ID, a.ID)
	if err != nil || fresh.AmountMinor != 50000 || fresh.OrderID == old.OrderID {
		t.Fatalf("re-initiate = (%+v, %v)", fresh, err)
	}
	paid, err := f.svc.VerifyPayment(ctx, fresh.OrderID, "pay_new", f.gw.Sign(fresh.OrderID, "pay_new"))
	if err != nil || paid.PaymentStatus != domain.PaymentPaid {
		t.Fatalf("VerifyPayment = (%+v, %v)", paid, err)
	}
	if amt, _ := f.gw.Amount(fresh.OrderID); amt != ToMinor(paid.Fee.Decimal) {
		t.Fatalf("charged %d, stored fee %s", amt, paid.Fee.Decimal)
	}
}

func TestReceipt(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()
	a := f.completed(t)

	if _, err := f.svc.Receipt(ctx, f.p.ID, a.ID); !errors.Is(err, ErrNotPaid) {
		t.Fatalf("unpaid: want ErrNotPaid, got %v", err)
	}
	order, _ := f.svc.InitiatePayment(ctx, f.p.ID, a.ID)
	if _, err := f.svc.VerifyPayment(ctx, order.OrderID, "pay_9", f.gw.Sign(order.OrderID, "pay_9")); err != nil {
		t.Fatalf("VerifyPayment: %v", err)
	}

	pdf, err := f.svc.Receipt(ctx, f.p.ID, a.ID)
	if err != nil {
		t.Fatalf("Receipt: %v", err)
	}
	if !bytes.HasPrefix(pdf, []byte("%PDF-")) {
		t.Fatalf("not a PDF: %q", pdf[:min(8, len(pdf))])
	}
	f.svc.ClinicName = "Lakeside Physio"
	if pdf, err = f.svc.Receipt(ctx, f.p.ID, a.ID); err != nil || !bytes.Contains(pdf, []byte("Lakeside Physio")) {
		t.Fatalf("receipt without configured clinic name (err %v)", err)
	}
	if _, err := f.svc.Receipt(ctx, mustPatient(t, f.db).ID, a.ID); !errors.Is(err, ErrAppointmentNotFound) {
		t.Fatalf("foreign receipt: want ErrAppointmentNotFound, got %v", err)
	}
}

func TestToMinor(t *testing.T) {
	cases := map[string]int64{"150": 15000, "150.5": 15050, "0.01": 1, "99.999": 10000}
	for in, want := range cases {
		if got := ToMinor(decimal.RequireFromString(in)); got != want {
			t.Errorf("ToMinor(%s) = %d, want %d", in, got, want)
		}
	}
}
