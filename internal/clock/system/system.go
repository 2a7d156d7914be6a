// Package system provides the wall clock used outside tests.
package system

import "time"

// Clock implements harvest.Clock. Times are always UTC so reports and stored
// articles compare cleanly.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time in UTC.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
