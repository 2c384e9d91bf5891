// Package agent assembles one session: validated context, built
// instructions, checkpoint scheduler, and the collaborators that carry
// the conversation.
package agent

import (
	"context"
	"errors"
	"time"
)

// ErrClosingTimeout reports that no closing utterance was produced
// within the grace window. The disconnect proceeds anyway.
var ErrClosingTimeout = errors.New("closing utterance timed out")

// SideChannelUpdate is a discrete, versioned instruction update pushed
// to the conversation capability. Invisible to the end user.
type SideChannelUpdate struct {
	Version     int           `json:"version"`
	Elapsed     time.Duration `json:"-"`
	Remaining   time.Duration `json:"-"`
	Instruction string        `json:"instruction,omitempty"`
}

// Conversation is the speech-enabled language model driving the call.
// External collaborator; the lifecycle core only needs these two
// operations plus turn forwarding.
type Conversation interface {
	// UpdateSideChannel silently informs the model of elapsed and
	// remaining time, optionally with a steering instruction.
	UpdateSideChannel(ctx context.Context, upd SideChannelUpdate) error

	// RequestClosingUtterance asks the model for a goodbye line. Blocks
	// until the utterance completes or ctx's deadline expires, in which
	// case it returns ErrClosingTimeout.
	RequestClosingUtterance(ctx context.Context, instruction string) (string, error)

	// ForwardTurn hands a user turn to the model.
	ForwardTurn(ctx context.Context, text string) error

	// Close releases the connection to the model.
	Close() error
}

// Transport delivers events to the remote peer and owns the
// connection's fate.
type Transport interface {
	// SendReliable submits a serialized event for ordered delivery.
	SendReliable(ctx context.Context, payload []byte) error

	// Disconnect tears the connection down.
	Disconnect(ctx context.Context) error
}
