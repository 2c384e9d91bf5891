// Package convo implements the client to the realtime conversation
// service (the speech-enabled language model). The service speaks a
// small JSON protocol over a WebSocket.
package convo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/coder/websocket"
	"github.com/parleylabs/parley/internal/agent"
)

const defaultDialTimeout = 5 * time.Second

var errResponseError = errors.New("conversation service returned error")

// message is the wire envelope for both directions.
type message struct {
	Type             string `json:"type"`
	SessionID        string `json:"session_id,omitempty"`
	Instructions     string `json:"instructions,omitempty"`
	Text             string `json:"text,omitempty"`
	Version          int    `json:"version,omitempty"`
	ElapsedSeconds   int    `json:"elapsed_seconds,omitempty"`
	RemainingSeconds int    `json:"remaining_seconds,omitempty"`
	Error            string `json:"error,omitempty"`
}

// Client is a per-session connection to the conversation service.
type Client struct {
	conn      *websocket.Conn
	sessionID string
	logger    *slog.Logger
}

// Dial connects to the conversation service and configures the session
// with its initial instruction text. Fails fast on a bad endpoint so
// the session is rejected before any timer exists.
func Dial(ctx context.Context, url, sessionID, instructions string) (*Client, error) {
	dialCtx, cancel := context.WithTimeout(ctx, defaultDialTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial conversation service at %s: %w", url, err)
	}

	c := &Client{
		conn:      conn,
		sessionID: sessionID,
		logger:    slog.Default().With("session_id", sessionID),
	}

	if err := c.write(ctx, message{
		Type:         "session.start",
		SessionID:    sessionID,
		Instructions: instructions,
	}); err != nil {
		_ = conn.Close(websocket.StatusInternalError, "session start failed")
		return nil, fmt.Errorf("start conversation session: %w", err)
	}

	c.logger.Info("connected to conversation service", "url", url)
	return c, nil
}

// UpdateSideChannel pushes a versioned instruction update carrying the
// elapsed/remaining figures. The model sees it; the end user never does.
func (c *Client) UpdateSideChannel(ctx context.Context, upd agent.SideChannelUpdate) error {
	return c.write(ctx, message{
		Type:             "session.update",
		SessionID:        c.sessionID,
		Version:          upd.Version,
		ElapsedSeconds:   int(upd.Elapsed.Seconds()),
		RemainingSeconds: int(upd.Remaining.Seconds()),
		Instructions:     upd.Instruction,
	})
}

// RequestClosingUtterance asks the model for a goodbye line and waits
// for its completion. ctx carries the grace deadline; expiry maps to
// agent.ErrClosingTimeout.
func (c *Client) RequestClosingUtterance(ctx context.Context, instruction string) (string, error) {
	if err := c.write(ctx, message{
		Type:         "response.create",
		SessionID:    c.sessionID,
		Instructions: instruction,
	}); err != nil {
		return "", fmt.Errorf("request closing utterance: %w", err)
	}

	for {
		msg, err := c.read(ctx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return "", agent.ErrClosingTimeout
			}
			return "", fmt.Errorf("await closing utterance: %w", err)
		}
		switch msg.Type {
		case "response.done":
			return msg.Text, nil
		case "error":
			return "", fmt.Errorf("%w: %s", errResponseError, msg.Error)
		default:
			// Interim transcript/audio progress frames; skip.
		}
	}
}

// ForwardTurn hands a user turn to the model.
func (c *Client) ForwardTurn(ctx context.Context, text string) error {
	return c.write(ctx, message{
		Type:      "turn",
		SessionID: c.sessionID,
		Text:      text,
	})
}

// Close ends the conversation session.
func (c *Client) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "session ended")
}

func (c *Client) write(ctx context.Context, msg message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return c.conn.Write(ctx, websocket.MessageText, data)
}

func (c *Client) read(ctx context.Context) (message, error) {
	_, data, err := c.conn.Read(ctx)
	if err != nil {
		return message{}, err
	}
	var msg message
	if err := json.Unmarshal(data, &msg); err != nil {
		return message{}, fmt.Errorf("malformed frame from conversation service: %w", err)
	}
	return msg, nil
}

// Ensure Client implements the conversation collaborator interface.
var _ agent.Conversation = (*Client)(nil)
