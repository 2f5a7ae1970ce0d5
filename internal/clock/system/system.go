// Package system provides the wall clock used to stamp progress events and
// cache entries.
package system

import "time"

// Clock implements vamdc.Clock.
type Clock struct{}

// New creates a Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current UTC time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
