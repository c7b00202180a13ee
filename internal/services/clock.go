package services

import (
	"time"

	"github.com/tbourn/clinic-booking/internal/domain"
)

// Clock tells services what "today" is for the clinic. The zero value uses
// UTC and the wall clock.
type Clock struct {
	Loc *time.Location
	Now func() time.Time
}

func (c Clock) now() time.Time {
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	loc := c.Loc
	if loc == nil {
		loc = time.UTC
	}
	return now().In(loc)
}

// Today returns the clinic-local date as YYYY-MM-DD.
func (c Clock) Today() string { return c.now().Format(domain.DateLayout) }

// parseDate validates a YYYY-MM-DD date.
func parseDate(s string) (time.Time, error) {
	d, err := time.Parse(domain.DateLayout, s)
	if err != nil {
		return time.Time{}, ErrInvalidDate
	}
	return d, nil
}

// addDays returns date shifted by n calendar days.
func addDays(date string, n int) (string, error) {
	d, err := parseDate(date)
	if err != nil {
		return "", err
	}
	return d.AddDate(0, 0, n).Format(domain.DateLayout), nil
}
