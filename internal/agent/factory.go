package agent

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/parleylabs/parley/internal/clock"
	"github.com/parleylabs/parley/internal/session"
	"github.com/parleylabs/parley/internal/variant"
)

// ErrVariantNotRegistered means the factory was handed a variant the
// resolver should already have rejected. A logic error, fatal for this
// session only, never process-fatal.
var ErrVariantNotRegistered = errors.New("variant not registered")

// Factory builds Agents from resolved contexts. Stateless aside from
// its references to the process-wide registry and the injected clock.
type Factory struct {
	registry *variant.Registry
	clk      clock.Clock
	grace    time.Duration
}

// NewFactory creates a session factory. grace bounds the closing
// utterance at the final checkpoint.
func NewFactory(registry *variant.Registry, clk clock.Clock, grace time.Duration) *Factory {
	return &Factory{registry: registry, clk: clk, grace: grace}
}

// New constructs one Agent for a validated context: looks up the
// variant registration, builds the instruction text, and wires a fresh
// scheduler. The scheduler does not start until Agent.Run.
func (f *Factory) New(userID string, vctx variant.Context) (*Agent, error) {
	reg, ok := f.registry.Get(vctx.Variant())
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrVariantNotRegistered, vctx.Variant())
	}

	return &Agent{
		ID:           uuid.NewString(),
		UserID:       userID,
		Context:      vctx,
		Instructions: reg.Prompt(vctx),
		goodbye:      reg.Goodbye,
		grace:        f.grace,
		sched:        session.New(reg.Timing, f.clk),
		lifecycle:    &session.Lifecycle{},
	}, nil
}
