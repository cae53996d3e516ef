package idempotency

import (
	"context"
	"log/slog"
	"time"
)

// DefaultCleanupInterval is how often the reaper sweeps expired records.
// Expired records are already ignored by lookups, so the sweep only bounds
// storage growth.
const DefaultCleanupInterval = time.Hour

// CleanupExpired removes expired idempotency records and logs the outcome.
func CleanupExpired(ctx context.Context, repo Repository) (int64, error) {
	deleted, err := repo.DeleteExpired(ctx)
	if err != nil {
		slog.Error("failed to reap expired idempotency records", "error", err)
		return 0, err
	}
	if deleted > 0 {
		slog.Info("reaped expired idempotency records", "deleted", deleted)
	}
	return deleted, nil
}

// RunPeriodicCleanup sweeps expired records at the given interval until ctx
// is cancelled. It blocks and is typically run in a goroutine:
//
//	go idempotency.RunPeriodicCleanup(ctx, repo, idempotency.DefaultCleanupInterval)
func RunPeriodicCleanup(ctx context.Context, repo Repository, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Sweep once on start so restarts don't accumulate stale records.
	if _, err := CleanupExpired(ctx, repo); err != nil {
		slog.Error("initial idempotency cleanup failed", "error", err)
	}

	for {
		select {
		case <-ticker.C:
			if _, err := CleanupExpired(ctx, repo); err != nil {
				slog.Error("periodic idempotency cleanup failed", "error", err)
			}
		case <-ctx.Done():
			slog.Info("stopping idempotency cleanup")
			return
		}
	}
}
