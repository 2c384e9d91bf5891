// Package transcript writes per-session NDJSON logs of turns and
// emitted events, off the hot path via a bounded queue.
package transcript

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Event is one transcript line.
type Event struct {
	Timestamp string `json:"ts"`
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	Direction string `json:"direction"` // inbound | outbound
	EventType string `json:"event_type"`
	Content   string `json:"content,omitempty"`
}

// Config controls transcript logging.
type Config struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// Logger appends transcript events to per-session NDJSON files. Log
// never blocks the session: when the queue is full the event is
// dropped and counted.
type Logger struct {
	cfg     Config
	queue   chan Event
	done    chan struct{}
	once    sync.Once
	dropped int64
	mu      sync.Mutex
}

// NewLogger starts the writer goroutine. When disabled, Log is a no-op.
func NewLogger(cfg Config) (*Logger, error) {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	l := &Logger{
		cfg:   cfg,
		queue: make(chan Event, cfg.QueueSize),
		done:  make(chan struct{}),
	}
	if !cfg.Enabled {
		close(l.done)
		return l, nil
	}
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("create transcript directory: %w", err)
	}
	go l.drain()
	return l, nil
}

// Log enqueues an event, stamping it if needed.
func (l *Logger) Log(ev Event) {
	if !l.cfg.Enabled {
		return
	}
	if ev.Timestamp == "" {
		ev.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	select {
	case l.queue <- ev:
	default:
		l.mu.Lock()
		l.dropped++
		l.mu.Unlock()
	}
}

// Close flushes queued events and stops the writer.
func (l *Logger) Close() error {
	l.once.Do(func() {
		if l.cfg.Enabled {
			close(l.queue)
			<-l.done
		}
	})
	l.mu.Lock()
	dropped := l.dropped
	l.mu.Unlock()
	if dropped > 0 {
		slog.Warn("transcript events dropped under load", "count", dropped)
	}
	return nil
}

func (l *Logger) drain() {
	defer close(l.done)
	for ev := range l.queue {
		if err := l.append(ev); err != nil {
			slog.Warn("failed to write transcript event",
				"session_id", ev.SessionID, "error", err)
		}
	}
}

func (l *Logger) append(ev Event) error {
	dir := filepath.Join(l.cfg.Dir, ev.UserID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	path := filepath.Join(dir, ev.SessionID+".ndjson")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	line, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = f.Write(append(line, '\n'))
	return err
}
