package repo

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// ErrDuplicate indicates that a unique constraint rejected an insert.
var ErrDuplicate = errors.New("duplicate")

// ErrLockTimeout indicates the bounded wait for a row lock elapsed.
var ErrLockTimeout = errors.New("lock timeout")

// IsDuplicate reports whether err is a unique-constraint violation on either
// supported driver. glebarez/sqlite often returns plain-text errors.
func IsDuplicate(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDuplicate) || errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique") ||
		strings.Contains(low, "duplicate key") ||
		strings.Contains(low, "sqlstate 23505")
}

// IsLockTimeout reports whether err means the database gave up waiting for a
// lock: SQLITE_BUSY after busy_timeout, Postgres lock_not_available (55P03),
// or the caller's deadline expiring mid-wait.
func IsLockTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrLockTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "database is locked") ||
		strings.Contains(low, "sqlite_busy") ||
		strings.Contains(low, "lock timeout") ||
		strings.Contains(low, "lock_timeout") ||
		strings.Contains(low, "55p03")
}
