// Package events publishes appointment lifecycle events to a broker for
// downstream consumers (notifications, analytics). Publishing is best effort:
// callers log failures and carry on.
package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tbourn/clinic-booking/internal/config"
)

// Event types.
const (
	AppointmentBooked    = "appointment.booked"
	AppointmentDeleted   = "appointment.deleted"
	AppointmentCancelled = "appointment.cancelled"
	AppointmentCompleted = "appointment.completed"
	AppointmentPaid      = "appointment.paid"
)

// Event is the JSON payload written to the broker.
type Event struct {
	Type          string    `json:"type"`
	AppointmentID string    `json:"appointment_id"`
	PatientID     string    `json:"patient_id"`
	SlotID        uint      `json:"slot_id,omitempty"`
	Date          string    `json:"date,omitempty"`
	Time          string    `json:"time,omitempty"`
	Source        string    `json:"source,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// New builds the publisher selected by cfg.Backend.
func New(ctx context.Context, cfg config.EventsConfig) (Publisher, error) {
	switch cfg.Backend {
	case "kafka":
		return NewKafka(cfg.Brokers, cfg.Topic), nil
	case "sqs":
		return NewSQS(ctx, cfg.QueueURL)
	case "", "none":
		return Nop{}, nil
	default:
		return nil, fmt.Errorf("unsupported events backend %q", cfg.Backend)
	}
}

// Nop discards every event.
type Nop struct{}

// Publish does nothing.
func (Nop) Publish(context.Context, Event) error { return nil }

// Close does nothing.
func (Nop) Close() error { return nil }

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
	Err    error
}

// Publish appends e, or returns Err when set.
func (r *Recorder) Publish(_ context.Context, e Event) error {
	if r.Err != nil {
		return r.Err
	}
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	return nil
}

// Close does nothing.
func (r *Recorder) Close() error { return nil }

// Events returns a copy of what was published so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Types returns the type of each recorded event, in order.
func (r *Recorder) Types() []string {
	evs := r.Events()
	out := make([]string, len(evs))
	for i, e := range evs {
		out[i] = e.Type
	}
	return out
}
