// Package queue provides the database-backed work queue that decouples query
// submission from query execution: workers claim pending sessions with
// FOR UPDATE SKIP LOCKED, heartbeat while the agent loop runs, and write the
// terminal outcome. An orphan detector returns sessions abandoned by crashed
// pods to the queue.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/artificer-dev/artificer/pkg/models"
)

// Sentinel errors for queue operations.
var (
	// ErrNoSessionsAvailable indicates no pending sessions are in the queue.
	ErrNoSessionsAvailable = errors.New("no sessions available")

	// ErrAtCapacity indicates the global concurrent session limit has been reached.
	ErrAtCapacity = errors.New("at capacity")
)

// Sessions that exhausted this many orphan recoveries are abandoned as
// timed_out instead of being requeued again.
const maxRecoveryAttempts = 3

// QueryExecutor runs one claimed session to a terminal outcome. The worker
// only handles claiming, heartbeat, terminal status update, notifications,
// and event cleanup.
type QueryExecutor interface {
	Execute(ctx context.Context, session *models.QuerySession) *ExecutionResult
}

// ExecutionResult is the terminal state of one session.
type ExecutionResult struct {
	Status models.SessionStatus // completed, failed, timed_out, cancelled
	Result *models.QueryResult  // loop outcome (may be nil on abort)
	Err    error                // error details (if failed/timed_out/cancelled)
}

// PoolHealth contains health information for the entire worker pool.
type PoolHealth struct {
	IsHealthy        bool           `json:"is_healthy"`
	DBReachable      bool           `json:"db_reachable"`
	DBError          string         `json:"db_error,omitempty"`
	PodID            string         `json:"pod_id"`
	ActiveWorkers    int            `json:"active_workers"`
	TotalWorkers     int            `json:"total_workers"`
	ActiveSessions   int            `json:"active_sessions"`
	MaxConcurrent    int            `json:"max_concurrent"`
	QueueDepth       int            `json:"queue_depth"`
	WorkerStats      []WorkerHealth `json:"worker_stats"`
	LastOrphanScan   time.Time      `json:"last_orphan_scan"`
	OrphansRecovered int            `json:"orphans_recovered"`
}

// WorkerHealth contains health information for a single worker.
type WorkerHealth struct {
	ID                string    `json:"id"`
	Status            string    `json:"status"` // "idle" or "working"
	CurrentSessionID  string    `json:"current_session_id,omitempty"`
	SessionsProcessed int       `json:"sessions_processed"`
	LastActivity      time.Time `json:"last_activity"`
}
