package handlers

import (
	"net/http"
	"testing"

	"github.com/tbourn/clinic-booking/internal/services"
)

func TestReconcile_RepairsDrift(t *testing.T) {
	h := newHarness(t)
	pid := h.register("+919800000060")
	s := h.slot(testToday, "10:00", 3, 0)
	expectStatus(t, h.do(http.MethodPost, "/bookings", pid, BookRequest{SlotID: s.ID}), http.StatusCreated)
	h.db.Model(s).Update("booked_count", 3)

	w := h.do(http.MethodPost, "/staff/reconcile", staffID, ReconcileRequest{Date: testToday})
	expectStatus(t, w, http.StatusOK)
	if rep := decode[services.ReconcileReport](t, w); rep.Checked != 1 || rep.Corrected != 1 {
		t.Fatalf("report = %+v", rep)
	}
	if got := decode[ListSlotsResponse](t, h.do(http.MethodGet, "/slots?date="+testToday, pid, nil)).Slots; len(got) != 1 || got[0].BookedCount != 1 {
		t.Fatalf("slots = %+v", got)
	}

	// An empty body reconciles every day.
	expectStatus(t, h.do(http.MethodPost, "/staff/reconcile", staffID, nil), http.StatusOK)
	expectCode(t, h.do(http.MethodPost, "/staff/reconcile", staffID, ReconcileRequest{Date: "tomorrow"}),
		http.StatusBadRequest, ErrCodeBadRequest)
}
