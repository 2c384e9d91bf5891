package transport

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/coder/websocket"
	"github.com/parleylabs/parley/internal/store"
	"github.com/parleylabs/parley/internal/transcript"
)

// wsTransport adapts a WebSocket connection to the agent's Transport.
// Delivered events are also journaled and transcribed, best effort.
type wsTransport struct {
	ws          *websocket.Conn
	sessionID   string
	userID      string
	repo        store.Repository
	transcripts *transcript.Logger
}

// SendReliable writes one serialized event as a text frame. WebSocket
// framing gives ordered, whole-message delivery; a failed write means
// the peer is gone and is reported to the caller to log and absorb.
func (t *wsTransport) SendReliable(ctx context.Context, payload []byte) error {
	if err := t.ws.Write(ctx, websocket.MessageText, payload); err != nil {
		return err
	}

	eventType := "event"
	var envelope struct {
		Type string `json:"type"`
	}
	if json.Unmarshal(payload, &envelope) == nil && envelope.Type != "" {
		eventType = envelope.Type
	}

	journalCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := t.repo.AppendEvent(journalCtx, t.sessionID, eventType, payload); err != nil {
		slog.Warn("failed to journal event", "session_id", t.sessionID, "error", err)
	}
	t.transcripts.Log(transcript.Event{
		UserID:    t.userID,
		SessionID: t.sessionID,
		Direction: "outbound",
		EventType: eventType,
		Content:   string(payload),
	})
	return nil
}

// Disconnect closes the peer connection. The turn loop's pending read
// fails as a result, which completes session teardown.
func (t *wsTransport) Disconnect(ctx context.Context) error {
	return t.ws.Close(websocket.StatusNormalClosure, "session complete")
}
