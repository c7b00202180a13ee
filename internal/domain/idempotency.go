package domain

import "time"

// Idempotency records the outcome of a previously processed write request,
// keyed by (user_id, scope, key). It lets clients safely retry booking and
// payment calls: a replay returns the resource produced the first time
// instead of creating a second appointment or gateway order.
//
// Scope is the logical operation (for example "booking" or
// "payment:<appointment-id>") and ResourceID the identifier of what the first
// request created.
type Idempotency struct {
	ID         string    `gorm:"type:varchar(36);not null;primaryKey"`
	UserID     string    `gorm:"type:varchar(64);not null;uniqueIndex:ux_idem_user_scope_key,priority:1"`
	Scope      string    `gorm:"type:varchar(96);not null;uniqueIndex:ux_idem_user_scope_key,priority:2"`
	Key        string    `gorm:"type:varchar(128);not null;uniqueIndex:ux_idem_user_scope_key,priority:3"`
	ResourceID string    `gorm:"type:varchar(64);not null"`
	Status     int       `gorm:"not null"`
	CreatedAt  time.Time `gorm:"not null;autoCreateTime"`
	ExpiresAt  time.Time `gorm:"not null;index"`
}

// TableName implements the GORM tabler interface.
func (Idempotency) TableName() string { return "idempotency" }
