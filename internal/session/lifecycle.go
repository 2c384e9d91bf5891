package session

import "sync"

// Lifecycle is a one-way ending/ended latch. The final checkpoint and
// a peer-initiated teardown can race; whichever calls MarkEnding first
// owns the shutdown sequence.
type Lifecycle struct {
	mu     sync.Mutex
	ending bool
	ended  bool
}

// MarkEnding marks the session as shutting down. Returns true only on
// the first call; later callers must skip their shutdown sequence.
func (l *Lifecycle) MarkEnding() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ending || l.ended {
		return false
	}
	l.ending = true
	return true
}

// MarkEnded marks the session fully ended.
func (l *Lifecycle) MarkEnded() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ended = true
}

// Ending reports whether shutdown has begun.
func (l *Lifecycle) Ending() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ending
}

// Ended reports whether the session has fully ended.
func (l *Lifecycle) Ended() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ended
}
