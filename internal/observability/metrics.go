package observability

import "github.com/prometheus/client_golang/prometheus"

// Booking outcomes.
const (
	OutcomeBooked   = "booked"
	OutcomeFull     = "full"
	OutcomeBusy     = "busy"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

// Payment outcomes.
const (
	PaymentInitiated = "initiated"
	PaymentVerified  = "verified"
	PaymentInvalid   = "invalid_signature"
	PaymentFailed    = "failed"
	PaymentGateway   = "gateway_error"
	PaymentManual    = "manual"
)

var (
	// bookingsTotal counts booking attempts by source (PATIENT/DOCTOR) and
	// outcome.
	bookingsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clinic_bookings_total",
			Help: "Booking attempts by source and outcome.",
		},
		[]string{"source", "outcome"},
	)

	slotConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "clinic_slot_conflicts_total",
			Help: "Bookings rejected because the slot was full.",
		},
	)

	paymentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clinic_payments_total",
			Help: "Payment lifecycle events by outcome.",
		},
		[]string{"outcome"},
	)

	// reconcileCorrections counts slots whose booked_count drifted and was
	// rewritten by reconciliation. Non-zero values point at a bug.
	reconcileCorrections = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "clinic_reconcile_corrections_total",
			Help: "Slots whose booked_count was corrected by reconciliation.",
		},
	)
)

func init() {
	prometheus.MustRegister(bookingsTotal, slotConflicts, paymentsTotal, reconcileCorrections)
}

// ObserveBooking records one booking attempt.
func ObserveBooking(source, outcome string) {
	bookingsTotal.WithLabelValues(source, outcome).Inc()
	if outcome == OutcomeFull {
		slotConflicts.Inc()
	}
}

// ObservePayment records one payment lifecycle event.
func ObservePayment(outcome string) {
	paymentsTotal.WithLabelValues(outcome).Inc()
}

// ObserveReconcileCorrections adds n corrected slots.
func ObserveReconcileCorrections(n int) {
	if n > 0 {
		reconcileCorrections.Add(float64(n))
	}
}
