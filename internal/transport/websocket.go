package transport

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/parleylabs/parley/internal/agent"
	"github.com/parleylabs/parley/internal/domain"
	"github.com/parleylabs/parley/internal/identity"
	"github.com/parleylabs/parley/internal/store"
	"github.com/parleylabs/parley/internal/transcript"
	"github.com/parleylabs/parley/internal/variant"
)

// startPayloadTimeout bounds how long a connected peer may take to
// send its session-start payload.
const startPayloadTimeout = 10 * time.Second

// ConversationDialer connects the session to the conversation
// capability once the context has been resolved.
type ConversationDialer func(ctx context.Context, sessionID, instructions string) (agent.Conversation, error)

// WebSocketHandler accepts practice-session connections, resolves the
// start payload, and runs the turn loop alongside the checkpoint
// driver.
type WebSocketHandler struct {
	registry    *variant.Registry
	factory     *agent.Factory
	repo        store.Repository
	sm          *SessionManager
	transcripts *transcript.Logger
	dial        ConversationDialer

	allowedOrigin string
	isDev         bool
}

// NewWebSocketHandler creates a new session WebSocket handler.
func NewWebSocketHandler(registry *variant.Registry, factory *agent.Factory, repo store.Repository, sm *SessionManager, transcripts *transcript.Logger, dial ConversationDialer, allowedOrigin string, isDev bool) *WebSocketHandler {
	return &WebSocketHandler{
		registry:      registry,
		factory:       factory,
		repo:          repo,
		sm:            sm,
		transcripts:   transcripts,
		dial:          dial,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// wsMessage represents inbound WebSocket message structure.
type wsMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Text    string          `json:"text,omitempty"`
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	slog.Info("session connection request", "user_id", userID, "ip", r.RemoteAddr)

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Resolve the start payload before any Agent or timer exists. A
	// rejected payload leaves no background driver behind.
	vctx, err := h.readStartPayload(ctx, ws)
	if err != nil {
		h.reject(ws, err)
		return
	}

	ag, err := h.factory.New(userID, vctx)
	if err != nil {
		// Resolver accepted a variant the factory cannot build. Fatal
		// for this session only.
		slog.Error("agent construction failed", "user_id", userID, "error", err)
		h.reject(ws, err)
		return
	}

	convo, err := h.dial(ctx, ag.ID, ag.Instructions)
	if err != nil {
		slog.Error("conversation service unavailable", "session_id", ag.ID, "error", err)
		h.reject(ws, errors.New("conversation service unavailable"))
		return
	}
	defer func() {
		if closeErr := convo.Close(); closeErr != nil {
			slog.Debug("failed to close conversation", "session_id", ag.ID, "error", closeErr)
		}
	}()

	if err := h.repo.CreateSession(ctx, &domain.Session{
		ID:        ag.ID,
		UserID:    userID,
		Variant:   vctx.Variant(),
		StartedAt: time.Now(),
	}); err != nil {
		slog.Error("failed to journal session", "session_id", ag.ID, "error", err)
		h.reject(ws, errors.New("session could not be created"))
		return
	}

	h.sm.Register(userID, ag.ID, ws)
	defer h.sm.Unregister(userID, ag.ID, ws)

	h.writeJSON(ws, map[string]string{
		"type":       "session_started",
		"session_id": ag.ID,
		"variant":    vctx.Variant(),
	})
	slog.Info("session started",
		"session_id", ag.ID, "user_id", userID, "variant", vctx.Variant())

	conn := &wsTransport{
		ws:          ws,
		sessionID:   ag.ID,
		userID:      userID,
		repo:        h.repo,
		transcripts: h.transcripts,
	}

	// Checkpoint driver and turn loop run concurrently; neither blocks
	// the other. The driver finishing (final checkpoint handled) or
	// the peer going away both end the session.
	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		defer cancel()
		if err := ag.Run(ctx, convo, conn); err != nil {
			slog.Error("session driver failed", "session_id", ag.ID, "error", err)
		}
	}()

	h.turnLoop(ctx, ws, ag, convo)
	cancel()
	<-runDone

	h.recordEnd(ag)
	slog.Info("session ended", "session_id", ag.ID, "user_id", userID, "phase", ag.Phase())
}

// readStartPayload reads and resolves the first frame of the session.
func (h *WebSocketHandler) readStartPayload(ctx context.Context, ws *websocket.Conn) (variant.Context, error) {
	readCtx, cancel := context.WithTimeout(ctx, startPayloadTimeout)
	defer cancel()

	_, data, err := ws.Read(readCtx)
	if err != nil {
		return variant.Context{}, errors.New("no session-start payload received")
	}

	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return variant.Context{}, errors.New("session-start payload is not valid JSON")
	}

	// Allow the payload either bare or wrapped in a start envelope.
	if t, ok := payload["type"].(string); ok && t == "session_start" {
		if inner, ok := payload["payload"].(map[string]any); ok {
			payload = inner
		}
	}

	return h.registry.Resolve(payload)
}

// reject informs the peer and closes before any session state exists.
func (h *WebSocketHandler) reject(ws *websocket.Conn, cause error) {
	h.writeJSON(ws, map[string]string{"type": "error", "error": cause.Error()})
	_ = ws.Close(websocket.StatusPolicyViolation, "session rejected")
}

// turnLoop processes user turns until the peer goes away or the final
// checkpoint stops input. The acceptance check is non-blocking; audio
// still arriving after the cutoff is read but not acted upon.
func (h *WebSocketHandler) turnLoop(ctx context.Context, ws *websocket.Conn, ag *agent.Agent, convo agent.Conversation) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || ctx.Err() != nil {
				slog.Debug("session peer disconnected", "session_id", ag.ID)
			} else {
				slog.Warn("session read error", "session_id", ag.ID, "error", err)
			}
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Debug("discarding malformed frame", "session_id", ag.ID)
			continue
		}

		switch msg.Type {
		case "turn":
			if !ag.AcceptingTurns() {
				slog.Info("turn dropped after final checkpoint",
					"session_id", ag.ID, "elapsed", ag.Elapsed())
				continue
			}
			if err := convo.ForwardTurn(ctx, msg.Text); err != nil {
				slog.Warn("failed to forward turn", "session_id", ag.ID, "error", err)
				continue
			}
			h.transcripts.Log(transcript.Event{
				UserID:    ag.UserID,
				SessionID: ag.ID,
				Direction: "inbound",
				EventType: "turn",
				Content:   msg.Text,
			})
		case "ping":
			h.writeJSON(ws, map[string]string{"type": "pong"})
		case "end":
			slog.Info("session end requested by peer", "session_id", ag.ID)
			return
		}
	}
}

// recordEnd journals how the session finished.
func (h *WebSocketHandler) recordEnd(ag *agent.Agent) {
	reason := domain.EndReasonPeerDisconnect
	if ag.Ended() {
		reason = domain.EndReasonTimeout
	}
	// The request context is gone by now; bound the journal write.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.repo.EndSession(ctx, ag.ID, reason, time.Now()); err != nil {
		slog.Warn("failed to journal session end", "session_id", ag.ID, "error", err)
	}
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *WebSocketHandler) writeJSON(ws *websocket.Conn, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := ws.Write(context.Background(), websocket.MessageText, data); err != nil {
		slog.Debug("failed to write control frame", "error", err)
	}
}
