// Package system provides the wall clock and the gazette's calendar.
package system

import (
	"fmt"
	"time"

	"cloud.google.com/go/civil"
)

// DefaultTimeZone is where the gazette is published.
const DefaultTimeZone = "America/Sao_Paulo"

// Clock reads time.Now and resolves calendar dates in a fixed location.
type Clock struct {
	loc *time.Location
}

// New creates a Clock that reports dates in UTC.
func New() *Clock {
	return &Clock{loc: time.UTC}
}

// NewInZone creates a Clock that reports dates in the named zone.
func NewInZone(name string) (*Clock, error) {
	if name == "" {
		name = DefaultTimeZone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load time zone %q: %w", name, err)
	}
	return &Clock{loc: loc}, nil
}

// Now returns the current time in UTC.
func (c *Clock) Now() time.Time {
	return time.Now().UTC()
}

// Location is the zone used for calendar dates.
func (c *Clock) Location() *time.Location {
	return c.loc
}

// Today is the current calendar date in the clock's zone.
func (c *Clock) Today() civil.Date {
	return civil.DateOf(c.Now().In(c.loc))
}
