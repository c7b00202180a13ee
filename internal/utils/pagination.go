// Package utils holds small helpers shared by handlers and services that do
// not belong to any one booking concept.
package utils

import "strconv"

// Listing defaults for staff and review pages.
const (
	DefaultPage     = 1
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// AtoiDefault parses s, falling back to def when s is empty or not an int.
func AtoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

// Paginate turns raw page / page_size query values into a usable pair.
// Missing or malformed values take the defaults; page is at least 1 and
// page size is kept within [1, MaxPageSize].
func Paginate(pageStr, sizeStr string) (page, pageSize int) {
	page = AtoiDefault(pageStr, DefaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = AtoiDefault(sizeStr, DefaultPageSize)
	switch {
	case pageSize < 1:
		pageSize = 1
	case pageSize > MaxPageSize:
		pageSize = MaxPageSize
	}
	return page, pageSize
}

// Offset is the row offset of page for the given page size.
func Offset(page, pageSize int) int {
	if page < 1 {
		return 0
	}
	return (page - 1) * pageSize
}
