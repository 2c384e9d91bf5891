// Package transport carries practice sessions over WebSockets: the
// inbound control channel, the turn loop, and reliable event delivery.
package transport

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// SessionManager tracks the active WebSocket connection per session.
type SessionManager struct {
	mu     sync.RWMutex
	active map[string]*websocket.Conn // session ID -> connection
	byUser map[string]map[string]bool // user ID -> session IDs
}

// NewSessionManager creates a new session manager.
func NewSessionManager() *SessionManager {
	return &SessionManager{
		active: make(map[string]*websocket.Conn),
		byUser: make(map[string]map[string]bool),
	}
}

// GetActive returns the connection for a session, or nil.
func (m *SessionManager) GetActive(sessionID string) *websocket.Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active[sessionID]
}

// Count returns the number of active sessions.
func (m *SessionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active)
}

// Register adds a connection for a session.
func (m *SessionManager) Register(userID, sessionID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, exists := m.active[sessionID]; exists && existing != conn {
		_ = existing.Close(websocket.StatusNormalClosure, "session replaced")
	}
	m.active[sessionID] = conn

	if _, ok := m.byUser[userID]; !ok {
		m.byUser[userID] = make(map[string]bool)
	}
	m.byUser[userID][sessionID] = true
	slog.Info("session registered", "user_id", userID, "session_id", sessionID)
}

// Unregister removes a connection for a session.
func (m *SessionManager) Unregister(userID, sessionID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if current, exists := m.active[sessionID]; exists && current == conn {
		delete(m.active, sessionID)
		if sessions, ok := m.byUser[userID]; ok {
			delete(sessions, sessionID)
			if len(sessions) == 0 {
				delete(m.byUser, userID)
			}
		}
		slog.Info("session unregistered", "user_id", userID, "session_id", sessionID)
	}
}

// CloseUser forcefully closes all active sessions for a user.
func (m *SessionManager) CloseUser(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for sid := range m.byUser[userID] {
		if conn, ok := m.active[sid]; ok {
			_ = conn.Close(websocket.StatusNormalClosure, "session closed")
			delete(m.active, sid)
		}
		slog.Info("session closed", "user_id", userID, "session_id", sid)
	}
	delete(m.byUser, userID)
}
