// Package clock abstracts time so session timing can be driven by a
// fake clock in tests instead of real wall-clock waits.
package clock

import "time"

// Clock provides the time operations the session driver needs.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// NewTimer returns a timer that delivers on C once duration d has
	// elapsed. A d <= 0 delivers immediately.
	NewTimer(d time.Duration) *Timer
}

// Timer is a single-shot timer. Read the fire time from C. Stop
// releases the timer; it is safe to call after the timer has fired.
type Timer struct {
	C <-chan time.Time

	stop func() bool
}

// Stop prevents the timer from firing. Returns false if the timer
// already fired or was stopped.
func (t *Timer) Stop() bool { return t.stop() }

type realClock struct{}

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) NewTimer(d time.Duration) *Timer {
	t := time.NewTimer(d)
	return &Timer{C: t.C, stop: t.Stop}
}
