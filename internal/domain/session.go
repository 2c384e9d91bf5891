// Package domain holds the persisted session records.
package domain

import (
	"time"
)

// End reasons recorded in the session journal.
const (
	EndReasonTimeout        = "timeout"
	EndReasonPeerDisconnect = "peer_disconnect"
	EndReasonError          = "error"
)

// Session is one practice call's journal record. The checkpoint state
// machine itself is in-memory only; this row is what survives it.
type Session struct {
	ID              string
	UserID          string
	Variant         string
	StartedAt       time.Time
	EndedAt         *time.Time
	EndReason       string
	DurationSeconds int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Active reports whether the session has not yet ended.
func (s *Session) Active() bool {
	return s.EndedAt == nil
}
