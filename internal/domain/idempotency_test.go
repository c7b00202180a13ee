package domain

import (
	"testing"
	"time"
)

func TestIdempotency_UniquePerUserScopeKey(t *testing.T) {
	db := newDomainDB(t)
	now := time.Now().UTC()

	rec := &Idempotency{
		ID:         "id-1",
		UserID:     "u1",
		Scope:      "booking",
		Key:        "k1",
		ResourceID: "a1",
		Status:     201,
		ExpiresAt:  now.Add(time.Hour),
	}
	if err := db.Create(rec).Error; err != nil {
		t.Fatalf("insert valid: %v", err)
	}

	var got Idempotency
	if err := db.First(&got, "id = ?", "id-1").Error; err != nil {
		t.Fatalf("readback: %v", err)
	}
	if got.UserID != "u1" || got.Scope != "booking" || got.Key != "k1" || got.ResourceID != "a1" || got.Status != 201 {
		t.Fatalf("unexpected row: %+v", got)
	}
	if got.CreatedAt.IsZero() {
		t.Fatalf("CreatedAt should be set automatically")
	}

	dup := &Idempotency{ID: "id-2", UserID: "u1", Scope: "booking", Key: "k1", ResourceID: "a2", Status: 201, ExpiresAt: now}
	if err := db.Create(dup).Error; err == nil {
		t.Fatalf("expected UNIQUE violation on (user_id, scope, key)")
	}

	// same key under another scope is fine
	other := &Idempotency{ID: "id-3", UserID: "u1", Scope: "payment:a1", Key: "k1", ResourceID: "order_1", Status: 201, ExpiresAt: now}
	if err := db.Create(other).Error; err != nil {
		t.Fatalf("insert other scope: %v", err)
	}
}
