package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/parleylabs/parley/internal/clock"
)

// Phase is the scheduler's lifecycle state. Transitions are one-way:
// Init -> Running -> WrappingUp -> Finalizing -> Terminated, with
// WrappingUp entered only when a wrap-up checkpoint exists.
type Phase int32

const (
	PhaseInit Phase = iota
	PhaseRunning
	PhaseWrappingUp
	PhaseFinalizing
	PhaseTerminated
)

func (p Phase) String() string {
	switch p {
	case PhaseInit:
		return "init"
	case PhaseRunning:
		return "running"
	case PhaseWrappingUp:
		return "wrapping_up"
	case PhaseFinalizing:
		return "finalizing"
	case PhaseTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

var errAlreadyStarted = errors.New("scheduler already started")

// Hooks receive checkpoint crossings from the driver. A panic in a
// hook is recovered and logged so one checkpoint's side effects cannot
// prevent later checkpoints from firing.
type Hooks struct {
	// OnCheckpoint fires for every non-final schedule entry.
	OnCheckpoint func(ctx context.Context, cp Checkpoint, idx int)

	// OnFinal fires exactly once, for the terminal entry, after the
	// phase has moved to Finalizing.
	OnFinal func(ctx context.Context, cp Checkpoint, idx int)
}

// Scheduler owns a session's monotonic anchor clock and fires state
// transitions as elapsed time crosses each schedule entry. Exactly one
// driver goroutine runs per session, independent of the turn loop.
//
// Fire times are computed from the fixed anchor plus each entry's
// absolute offset, never from chained relative waits, so scheduling
// error cannot accumulate across checkpoints.
type Scheduler struct {
	schedule Schedule
	clk      clock.Clock

	phase     atomic.Int32
	lastFired atomic.Int32 // highest fired index, -1 before any

	mu      sync.Mutex
	anchor  time.Time
	started bool
	cancel  context.CancelFunc
	done    chan struct{}

	fired []bool // driver-only; duplicate crossings are no-ops
}

// New creates a scheduler for a validated schedule. The schedule must
// have passed Validate at registry-build time.
func New(schedule Schedule, clk clock.Clock) *Scheduler {
	s := &Scheduler{
		schedule: schedule,
		clk:      clk,
		fired:    make([]bool, len(schedule.Checkpoints)),
		done:     make(chan struct{}),
	}
	s.lastFired.Store(-1)
	return s
}

// Start anchors the session clock and launches the driver goroutine.
// The driver stops when the final checkpoint has been handled or ctx
// is cancelled, whichever comes first.
func (s *Scheduler) Start(ctx context.Context, h Hooks) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errAlreadyStarted
	}
	s.started = true
	s.anchor = s.clk.Now()
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.phase.Store(int32(PhaseRunning))
	go s.run(ctx, h)
	return nil
}

func (s *Scheduler) run(ctx context.Context, h Hooks) {
	defer close(s.done)

	for idx, cp := range s.schedule.Checkpoints {
		if s.fired[idx] {
			continue
		}

		due := s.anchor.Add(cp.Offset)
		if wait := due.Sub(s.clk.Now()); wait > 0 {
			timer := s.clk.NewTimer(wait)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				s.phase.Store(int32(PhaseTerminated))
				slog.Info("checkpoint driver cancelled",
					"next_index", idx, "elapsed", s.Elapsed())
				return
			}
		}

		// Teardown may have begun while the timer was pending.
		if ctx.Err() != nil {
			s.phase.Store(int32(PhaseTerminated))
			return
		}

		s.fired[idx] = true
		s.lastFired.Store(int32(idx))

		if cp.Final {
			s.phase.Store(int32(PhaseFinalizing))
			slog.Info("final checkpoint reached",
				"index", idx, "offset", cp.Offset)
			s.invoke(ctx, h.OnFinal, cp, idx)
			return
		}

		if cp.WrapUp {
			s.phase.Store(int32(PhaseWrappingUp))
		}
		slog.Info("checkpoint fired", "index", idx, "offset", cp.Offset)
		s.invoke(ctx, h.OnCheckpoint, cp, idx)
	}
}

// invoke runs a hook behind the driver boundary. Hook failures must
// not stop subsequent checkpoints from firing.
func (s *Scheduler) invoke(ctx context.Context, f func(context.Context, Checkpoint, int), cp Checkpoint, idx int) {
	if f == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("checkpoint hook panicked", "index", idx, "panic", r)
		}
	}()
	f(ctx, cp, idx)
}

// Stop cancels the driver and any pending timer, then waits for the
// driver goroutine to exit. Safe to call more than once; no checkpoint
// fires after Stop returns.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	started := s.started
	s.mu.Unlock()

	if !started {
		s.phase.Store(int32(PhaseTerminated))
		return
	}
	if cancel != nil {
		cancel()
	}
	<-s.done
	s.phase.Store(int32(PhaseTerminated))
}

// Terminate marks the state machine terminated after the shutdown
// sequence (closing utterance or grace expiry) completes.
func (s *Scheduler) Terminate() {
	s.phase.Store(int32(PhaseTerminated))
}

// Phase returns the current lifecycle phase.
func (s *Scheduler) Phase() Phase {
	return Phase(s.phase.Load())
}

// Ending reports whether the final checkpoint has fired. The turn
// loop checks this before accepting each new user turn; it is a single
// atomic load and never blocks on the driver.
func (s *Scheduler) Ending() bool {
	return s.Phase() >= PhaseFinalizing
}

// LastFired returns the highest checkpoint index fired so far, or -1.
func (s *Scheduler) LastFired() int {
	return int(s.lastFired.Load())
}

// Elapsed returns time since the session anchor. Zero before Start.
func (s *Scheduler) Elapsed() time.Duration {
	s.mu.Lock()
	anchor := s.anchor
	started := s.started
	s.mu.Unlock()
	if !started {
		return 0
	}
	return s.clk.Now().Sub(anchor)
}

// Remaining returns time until the hard cutoff, floored at zero.
func (s *Scheduler) Remaining() time.Duration {
	r := s.schedule.Total - s.Elapsed()
	if r < 0 {
		return 0
	}
	return r
}

// Schedule returns the immutable schedule this scheduler runs.
func (s *Scheduler) Schedule() Schedule {
	return s.schedule
}
