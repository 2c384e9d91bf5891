package store

import (
	"context"
	"log/slog"
	"time"
)

const sweepInterval = 5 * time.Minute

// StartSweeper runs a background goroutine that periodically closes
// crash-orphaned session rows and purges journal rows past retention.
func StartSweeper(ctx context.Context, repo Repository, staleAfter, retention time.Duration) {
	ticker := time.NewTicker(sweepInterval)
	go func() {
		defer ticker.Stop()
		slog.Info("session sweeper started",
			"interval", sweepInterval, "stale_after", staleAfter, "retention", retention)

		for {
			select {
			case <-ticker.C:
				sweep(ctx, repo, staleAfter, retention)
			case <-ctx.Done():
				slog.Info("session sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func sweep(ctx context.Context, repo Repository, staleAfter, retention time.Duration) {
	if closed, err := repo.CloseStaleSessions(ctx, staleAfter); err != nil {
		slog.Error("sweeper failed to close stale sessions", "error", err)
	} else if closed > 0 {
		slog.Warn("sweeper closed stale sessions", "count", closed)
	}

	if purged, err := repo.PurgeEndedSessions(ctx, retention); err != nil {
		slog.Error("sweeper failed to purge ended sessions", "error", err)
	} else if purged > 0 {
		slog.Info("sweeper purged ended sessions", "count", purged)
	}
}
