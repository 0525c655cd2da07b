package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/artificer-dev/artificer/pkg/store"
)

// orphanState tracks orphan detection metrics (thread-safe).
type orphanState struct {
	mu               sync.Mutex
	lastOrphanScan   time.Time
	orphansRecovered int
}

// runOrphanDetection periodically scans for orphaned sessions.
// All pods run this independently — the store operations are idempotent.
func (p *WorkerPool) runOrphanDetection(ctx context.Context) {
	ticker := time.NewTicker(p.config.OrphanDetectionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			if err := p.detectAndRecoverOrphans(ctx); err != nil {
				slog.Error("Orphan detection failed", "error", err)
			}
		}
	}
}

// detectAndRecoverOrphans requeues in_progress sessions with stale heartbeats
// so another worker can pick them up; sessions that keep orphaning are
// abandoned as timed_out.
func (p *WorkerPool) detectAndRecoverOrphans(ctx context.Context) error {
	requeued, abandoned, err := p.queries.RequeueOrphans(ctx, p.config.OrphanThreshold, maxRecoveryAttempts)
	if err != nil {
		return fmt.Errorf("failed to recover orphaned sessions: %w", err)
	}

	p.orphans.mu.Lock()
	p.orphans.lastOrphanScan = time.Now()
	p.orphans.orphansRecovered += len(requeued) + len(abandoned)
	p.orphans.mu.Unlock()

	if len(requeued) > 0 {
		slog.Warn("Requeued orphaned sessions", "count", len(requeued), "session_ids", requeued)
	}
	if len(abandoned) > 0 {
		slog.Warn("Abandoned orphaned sessions after repeated recovery",
			"count", len(abandoned), "session_ids", abandoned)
	}
	return nil
}

// RecoverStartupOrphans requeues every in_progress session still owned by
// this pod. Called once during startup, before the worker pool begins
// processing: any such session was abandoned when a previous incarnation of
// the pod crashed mid-execution.
func RecoverStartupOrphans(ctx context.Context, queries *store.QueryStore, podID string) error {
	requeued, abandoned, err := queries.RequeuePodOrphans(ctx, podID, maxRecoveryAttempts)
	if err != nil {
		return fmt.Errorf("failed to recover startup orphans: %w", err)
	}
	if len(requeued) > 0 {
		slog.Warn("Requeued sessions from previous pod incarnation",
			"pod_id", podID, "count", len(requeued), "session_ids", requeued)
	}
	if len(abandoned) > 0 {
		slog.Warn("Abandoned sessions from previous pod incarnation",
			"pod_id", podID, "count", len(abandoned), "session_ids", abandoned)
	}
	return nil
}
