package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/parleylabs/parley/internal/domain"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		variant TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		ended_at INTEGER,
		end_reason TEXT,
		duration_seconds INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_active ON sessions(started_at) WHERE ended_at IS NULL;
	CREATE INDEX IF NOT EXISTS idx_sessions_ended ON sessions(ended_at) WHERE ended_at IS NOT NULL;

	CREATE TABLE IF NOT EXISTS session_events (
		session_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		event_type TEXT NOT NULL,
		payload TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (session_id, seq)
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateSession records a newly accepted session.
func (s *SQLiteStore) CreateSession(ctx context.Context, sess *domain.Session) error {
	now := time.Now().Unix()
	query := `
		INSERT INTO sessions (session_id, user_id, variant, started_at, duration_seconds, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		sess.ID, sess.UserID, sess.Variant, sess.StartedAt.Unix(), sess.DurationSeconds, now, now)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// EndSession marks a session ended. No-op if already ended.
func (s *SQLiteStore) EndSession(ctx context.Context, id, reason string, endedAt time.Time) error {
	query := `
		UPDATE sessions
		SET ended_at = ?, end_reason = ?,
		    duration_seconds = ? - started_at,
		    updated_at = ?
		WHERE session_id = ? AND ended_at IS NULL`
	_, err := s.db.ExecContext(ctx, query,
		endedAt.Unix(), reason, endedAt.Unix(), time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	return nil
}

// GetSession retrieves a session by ID.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	query := `
		SELECT session_id, user_id, variant, started_at, ended_at,
		       end_reason, duration_seconds, created_at, updated_at
		FROM sessions WHERE session_id = ?`

	sess, err := scanSession(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return sess, err
}

// ListActiveSessions returns sessions that have not ended.
func (s *SQLiteStore) ListActiveSessions(ctx context.Context) ([]*domain.Session, error) {
	query := `
		SELECT session_id, user_id, variant, started_at, ended_at,
		       end_reason, duration_seconds, created_at, updated_at
		FROM sessions WHERE ended_at IS NULL ORDER BY started_at`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query active sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*domain.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// AppendEvent journals an emitted wire event for a session.
func (s *SQLiteStore) AppendEvent(ctx context.Context, sessionID, eventType string, payload []byte) error {
	query := `
		INSERT INTO session_events (session_id, seq, event_type, payload, created_at)
		VALUES (?,
		        COALESCE((SELECT MAX(seq) FROM session_events WHERE session_id = ?), -1) + 1,
		        ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		sessionID, sessionID, eventType, string(payload), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("append session event: %w", err)
	}
	return nil
}

// CloseStaleSessions ends crash-orphaned active rows older than maxAge.
func (s *SQLiteStore) CloseStaleSessions(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxAge).Unix()
	now := time.Now().Unix()
	query := `
		UPDATE sessions
		SET ended_at = ?, end_reason = ?, updated_at = ?
		WHERE ended_at IS NULL AND started_at < ?`
	res, err := s.db.ExecContext(ctx, query, now, domain.EndReasonError, now, cutoff)
	if err != nil {
		return 0, fmt.Errorf("close stale sessions: %w", err)
	}
	return res.RowsAffected()
}

// PurgeEndedSessions deletes old ended sessions and their events.
func (s *SQLiteStore) PurgeEndedSessions(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).Unix()

	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM session_events WHERE session_id IN
		(SELECT session_id FROM sessions WHERE ended_at IS NOT NULL AND ended_at < ?)`, cutoff); err != nil {
		return 0, fmt.Errorf("purge session events: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE ended_at IS NOT NULL AND ended_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge sessions: %w", err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*domain.Session, error) {
	var sess domain.Session
	var endedAt sql.NullInt64
	var endReason sql.NullString
	var startedAt, createdAt, updatedAt int64

	err := row.Scan(
		&sess.ID, &sess.UserID, &sess.Variant, &startedAt, &endedAt,
		&endReason, &sess.DurationSeconds, &createdAt, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan session row: %w", err)
	}

	sess.StartedAt = time.Unix(startedAt, 0)
	if endedAt.Valid {
		t := time.Unix(endedAt.Int64, 0)
		sess.EndedAt = &t
	}
	sess.EndReason = endReason.String
	sess.CreatedAt = time.Unix(createdAt, 0)
	sess.UpdatedAt = time.Unix(updatedAt, 0)
	return &sess, nil
}
