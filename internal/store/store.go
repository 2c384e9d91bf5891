// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/parleylabs/parley/internal/domain"
)

// Repository defines the interface for the session journal.
type Repository interface {
	// CreateSession records a newly accepted session.
	CreateSession(ctx context.Context, s *domain.Session) error

	// EndSession marks a session ended with a reason and duration.
	// Ending an already-ended session is a no-op.
	EndSession(ctx context.Context, id, reason string, endedAt time.Time) error

	// GetSession retrieves a session by ID; nil if not found.
	GetSession(ctx context.Context, id string) (*domain.Session, error)

	// ListActiveSessions returns sessions that have not ended.
	ListActiveSessions(ctx context.Context) ([]*domain.Session, error)

	// AppendEvent journals an emitted wire event for a session.
	AppendEvent(ctx context.Context, sessionID, eventType string, payload []byte) error

	// CloseStaleSessions ends active sessions older than maxAge.
	// Catches rows orphaned by a crash; a live session can never
	// legitimately outlast its schedule by that much.
	CloseStaleSessions(ctx context.Context, maxAge time.Duration) (int64, error)

	// PurgeEndedSessions deletes ended sessions (and their events)
	// older than the retention window.
	PurgeEndedSessions(ctx context.Context, retention time.Duration) (int64, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
