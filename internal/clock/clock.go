// Package clock abstracts wall-clock time so that scheduling, polling and
// record timestamps can be driven deterministically in tests.
//
// Production code injects Real(); tests inject Fake() and advance time
// explicitly. Timestamps persisted by growline use Layout, a second-
// resolution UTC form ("2026-01-02T15:04:05Z").
package clock

import (
	"fmt"
	"time"
)

// Layout is the timestamp layout used for every stored and emitted time.
const Layout = "2006-01-02T15:04:05Z"

// Clock is the subset of the time package growline depends on.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the current time after d
	// elapses. If d <= 0 the channel receives immediately.
	After(d time.Duration) <-chan time.Time
}

// Format renders t in UTC using Layout.
func Format(t time.Time) string {
	return t.UTC().Format(Layout)
}

// Parse reads a timestamp written by Format.
func Parse(s string) (time.Time, error) {
	t, err := time.Parse(Layout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

// Offset wraps a Clock and shifts Now by a fixed duration. After is not
// shifted: waiting is always measured against the underlying clock.
type Offset struct {
	Base  Clock
	Shift time.Duration
}

// Now returns the base time plus Shift.
func (o Offset) Now() time.Time { return o.Base.Now().Add(o.Shift) }

// After delegates to the base clock.
func (o Offset) After(d time.Duration) <-chan time.Time { return o.Base.After(d) }
