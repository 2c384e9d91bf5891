package clock

import (
	"sync"
	"time"
)

// FakeClock is a manually advanced Clock for tests. Time only moves
// when Advance is called; timers whose deadline is crossed fire during
// the Advance call.
type FakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	deadline time.Time
	c        chan time.Time
	fired    bool
	stopped  bool
}

// NewFake returns a FakeClock anchored at a fixed, arbitrary instant.
func NewFake() *FakeClock {
	return &FakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

// Now returns the fake current time.
func (f *FakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// NewTimer registers a timer against the fake clock.
func (f *FakeClock) NewTimer(d time.Duration) *Timer {
	f.mu.Lock()
	defer f.mu.Unlock()

	ft := &fakeTimer{
		deadline: f.now.Add(d),
		c:        make(chan time.Time, 1),
	}
	if d <= 0 {
		ft.c <- f.now
		ft.fired = true
	} else {
		f.timers = append(f.timers, ft)
	}

	return &Timer{
		C: ft.c,
		stop: func() bool {
			f.mu.Lock()
			defer f.mu.Unlock()
			if ft.fired || ft.stopped {
				return false
			}
			ft.stopped = true
			return true
		},
	}
}

// Advance moves the fake time forward by d and fires every pending
// timer whose deadline has been reached.
func (f *FakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.now = f.now.Add(d)
	remaining := f.timers[:0]
	for _, ft := range f.timers {
		if ft.stopped {
			continue
		}
		if !ft.deadline.After(f.now) {
			ft.fired = true
			ft.c <- f.now
			continue
		}
		remaining = append(remaining, ft)
	}
	f.timers = remaining
}

// PendingTimers reports how many unfired, unstopped timers exist.
// Useful for asserting that cancellation released driver resources.
func (f *FakeClock) PendingTimers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, ft := range f.timers {
		if !ft.stopped && !ft.fired {
			n++
		}
	}
	return n
}
