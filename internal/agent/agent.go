package agent

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/parleylabs/parley/internal/session"
	"github.com/parleylabs/parley/internal/variant"
)

// Agent owns one session end to end: the validated context, the
// instruction text built from it, the checkpoint scheduler, and the
// lifecycle latch. One Agent per session, discarded at teardown.
type Agent struct {
	ID           string
	UserID       string
	Context      variant.Context
	Instructions string

	goodbye string
	grace   time.Duration

	sched     *session.Scheduler
	lifecycle *session.Lifecycle
	version   atomic.Int64 // side-channel update counter
}

// AcceptingTurns reports whether the turn loop may hand a new user
// turn to the conversation. A cheap check: one atomic load plus a
// short mutex on the lifecycle latch, never blocking on the driver.
func (a *Agent) AcceptingTurns() bool {
	return !a.sched.Ending() && !a.lifecycle.Ending()
}

// Phase exposes the scheduler phase for status reporting.
func (a *Agent) Phase() session.Phase { return a.sched.Phase() }

// Ended reports whether the full shutdown sequence ran: final
// checkpoint, closing utterance or grace expiry, disconnect. False
// when the peer went away first.
func (a *Agent) Ended() bool { return a.lifecycle.Ended() }

// Elapsed exposes time since the session anchor.
func (a *Agent) Elapsed() time.Duration { return a.sched.Elapsed() }

// Run starts the checkpoint driver and blocks until the session
// reaches TERMINATED, either via the final checkpoint or via ctx
// cancellation (peer hangup, transport error). It always returns with
// the driver stopped and no pending timers.
func (a *Agent) Run(ctx context.Context, convo Conversation, transport Transport) error {
	emitter := session.NewEmitter(transport)
	finalDone := make(chan struct{})

	hooks := session.Hooks{
		OnCheckpoint: func(ctx context.Context, cp session.Checkpoint, idx int) {
			a.handleCheckpoint(ctx, emitter, convo, cp, idx)
		},
		OnFinal: func(ctx context.Context, cp session.Checkpoint, idx int) {
			defer close(finalDone)
			a.handleFinal(ctx, emitter, convo, transport, idx)
		},
	}

	if err := a.sched.Start(ctx, hooks); err != nil {
		return err
	}

	select {
	case <-finalDone:
	case <-ctx.Done():
		slog.Info("session cancelled before final checkpoint",
			"session_id", a.ID, "elapsed", a.sched.Elapsed())
	}
	a.sched.Stop()
	return nil
}

func (a *Agent) handleCheckpoint(ctx context.Context, emitter *session.Emitter, convo Conversation, cp session.Checkpoint, idx int) {
	now := time.Now()
	emitter.EmitCheckpoint(ctx, session.NewCheckpointEvent(a.sched.Schedule(), idx, now))

	upd := SideChannelUpdate{
		Version:     int(a.version.Add(1)),
		Elapsed:     cp.Offset,
		Remaining:   a.sched.Schedule().Total - cp.Offset,
		Instruction: cp.Instruction,
	}
	if err := convo.UpdateSideChannel(ctx, upd); err != nil {
		slog.Warn("side-channel update failed",
			"session_id", a.ID, "checkpoint_index", idx, "error", err)
	}
}

// handleFinal runs the shutdown sequence: notify the peer, stop new
// turns, request a goodbye within the grace window, then disconnect.
// Delivery and closing-utterance failures never abort the sequence.
func (a *Agent) handleFinal(ctx context.Context, emitter *session.Emitter, convo Conversation, transport Transport, idx int) {
	if !a.lifecycle.MarkEnding() {
		slog.Debug("shutdown already in progress", "session_id", a.ID)
		return
	}

	now := time.Now()
	sched := a.sched.Schedule()
	emitter.EmitCheckpoint(ctx, session.NewCheckpointEvent(sched, idx, now))
	emitter.EmitStatus(ctx, session.NewStatusEvent(sched, now))

	graceCtx, cancel := context.WithTimeout(ctx, a.grace)
	defer cancel()

	utterance, err := convo.RequestClosingUtterance(graceCtx, a.goodbye)
	switch {
	case err == nil:
		slog.Info("closing utterance completed",
			"session_id", a.ID, "chars", len(utterance))
	case errors.Is(err, ErrClosingTimeout) || errors.Is(err, context.DeadlineExceeded):
		slog.Warn("closing utterance exceeded grace window",
			"session_id", a.ID, "grace", a.grace)
	default:
		slog.Warn("closing utterance failed", "session_id", a.ID, "error", err)
	}

	if err := transport.Disconnect(ctx); err != nil {
		slog.Warn("disconnect failed", "session_id", a.ID, "error", err)
	}

	a.sched.Terminate()
	a.lifecycle.MarkEnded()
	slog.Info("session terminated", "session_id", a.ID, "duration", sched.Total)
}
