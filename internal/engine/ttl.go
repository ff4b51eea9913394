package engine

import (
	"context"
	"log/slog"
	"time"
)

// StartTTLWorker runs a background goroutine that periodically evicts
// sessions idle longer than ttl and returns stalled finalizations to active.
// It stops when ctx is done.
func StartTTLWorker(ctx context.Context, e *Engine, ttl, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("TTL worker started", "interval", interval, "ttl", ttl)

		for {
			select {
			case <-ticker.C:
				sweep(ctx, e, ttl)
			case <-ctx.Done():
				slog.Info("TTL worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func sweep(ctx context.Context, e *Engine, ttl time.Duration) {
	recovered, err := e.RecoverStalledFinalizations(ctx)
	if err != nil {
		slog.Error("TTL worker failed to recover stalled finalizations", "error", err)
	} else if recovered > 0 {
		slog.Info("TTL worker rolled back stalled finalizations", "recovered", recovered)
	}

	evicted, err := e.EvictIdle(ctx, ttl)
	if err != nil {
		slog.Error("TTL worker failed to evict idle sessions", "error", err)
		return
	}
	if evicted > 0 {
		slog.Info("TTL worker cleanup completed", "evicted", evicted)
	}
}
