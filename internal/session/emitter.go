package session

import (
	"context"
	"encoding/json"
	"log/slog"
)

// Sender submits a serialized event to the transport's reliable
// delivery primitive.
type Sender interface {
	SendReliable(ctx context.Context, payload []byte) error
}

// Emitter serializes checkpoint and status events and hands them to
// the transport. Emission is fire-and-forget with respect to the state
// machine: a delivery failure is logged and absorbed, because the
// internal phase change must happen on schedule whether or not the
// peer was notified.
type Emitter struct {
	sender Sender
}

// NewEmitter wraps a transport sender.
func NewEmitter(sender Sender) *Emitter {
	return &Emitter{sender: sender}
}

// EmitCheckpoint delivers a time_checkpoint event, best effort.
func (e *Emitter) EmitCheckpoint(ctx context.Context, ev TimeCheckpointEvent) {
	e.send(ctx, ev.Type, ev)
}

// EmitStatus delivers the legacy session_status event, best effort.
func (e *Emitter) EmitStatus(ctx context.Context, ev SessionStatusEvent) {
	e.send(ctx, ev.Type, ev)
}

func (e *Emitter) send(ctx context.Context, eventType string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		slog.Error("failed to serialize session event", "type", eventType, "error", err)
		return
	}
	if err := e.sender.SendReliable(ctx, payload); err != nil {
		slog.Warn("session event delivery failed", "type", eventType, "error", err)
	}
}
