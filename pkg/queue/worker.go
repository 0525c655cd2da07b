package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/artificer-dev/artificer/pkg/config"
	"github.com/artificer-dev/artificer/pkg/events"
	"github.com/artificer-dev/artificer/pkg/models"
	"github.com/artificer-dev/artificer/pkg/notify"
	"github.com/artificer-dev/artificer/pkg/store"
)

// WorkerStatus represents the current state of a worker.
type WorkerStatus string

// Worker status constants.
const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusWorking WorkerStatus = "working"
)

// How long terminal events stay available for WebSocket catchup before the
// worker deletes them.
const eventCleanupGrace = 60 * time.Second

// StatusPublisher broadcasts session lifecycle transitions. Satisfied by
// events.EventPublisher; may be nil (streaming disabled).
type StatusPublisher interface {
	PublishSessionStatus(ctx context.Context, env events.Envelope) error
}

// EventCleaner removes a session's persisted events once clients no longer
// need them for catchup. Satisfied by services.EventService.
type EventCleaner interface {
	CleanupSessionEvents(ctx context.Context, sessionID string) (int64, error)
}

// SessionRegistry is the subset of WorkerPool used by Worker for session
// registration.
type SessionRegistry interface {
	RegisterSession(sessionID string, cancel context.CancelFunc)
	UnregisterSession(sessionID string)
}

// Worker is a single queue worker that polls for and processes sessions.
type Worker struct {
	id       string
	podID    string
	queries  *store.QueryStore
	config   *config.QueueConfig
	executor QueryExecutor
	status   StatusPublisher
	cleaner  EventCleaner
	notifier *notify.Service
	pool     SessionRegistry
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// Health tracking
	mu                sync.RWMutex
	state             WorkerStatus
	currentSessionID  string
	sessionsProcessed int
	lastActivity      time.Time
}

// NewWorker creates a new queue worker. status, cleaner, and notifier may be
// nil, disabling lifecycle broadcasting, event cleanup, and Slack
// notifications respectively.
func NewWorker(id, podID string, queries *store.QueryStore, cfg *config.QueueConfig, executor QueryExecutor, pool SessionRegistry, status StatusPublisher, cleaner EventCleaner, notifier *notify.Service) *Worker {
	return &Worker{
		id:           id,
		podID:        podID,
		queries:      queries,
		config:       cfg,
		executor:     executor,
		status:       status,
		cleaner:      cleaner,
		notifier:     notifier,
		pool:         pool,
		stopCh:       make(chan struct{}),
		state:        WorkerStatusIdle,
		lastActivity: time.Now(),
	}
}

// Start begins the worker polling loop in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the worker to stop and waits for it to finish.
// It is safe to call Stop multiple times.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

// Health returns the current worker health status.
func (w *Worker) Health() WorkerHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WorkerHealth{
		ID:                w.id,
		Status:            string(w.state),
		CurrentSessionID:  w.currentSessionID,
		SessionsProcessed: w.sessionsProcessed,
		LastActivity:      w.lastActivity,
	}
}

// run is the main worker loop.
func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	log := slog.With("worker_id", w.id, "pod_id", w.podID)
	log.Info("Worker started")

	for {
		select {
		case <-w.stopCh:
			log.Info("Worker shutting down")
			return
		case <-ctx.Done():
			log.Info("Context cancelled, worker shutting down")
			return
		default:
			if err := w.pollAndProcess(ctx); err != nil {
				if errors.Is(err, ErrNoSessionsAvailable) || errors.Is(err, ErrAtCapacity) {
					w.sleep(w.pollInterval())
					continue
				}
				log.Error("Error processing session", "error", err)
				w.sleep(time.Second) // Brief backoff on error
			}
		}
	}
}

// sleep waits for the given duration or until stop is signalled.
func (w *Worker) sleep(d time.Duration) {
	select {
	case <-w.stopCh:
	case <-time.After(d):
	}
}

// pollAndProcess checks capacity, claims a session, and processes it.
func (w *Worker) pollAndProcess(ctx context.Context) error {
	// Global capacity check is best-effort; racy with concurrent workers but
	// bounded by WorkerCount and mitigated by poll jitter.
	activeCount, err := w.queries.CountByStatus(ctx, models.SessionInProgress)
	if err != nil {
		return fmt.Errorf("checking active sessions: %w", err)
	}
	if activeCount >= w.config.MaxConcurrentSessions {
		return ErrAtCapacity
	}

	session, err := w.queries.ClaimNext(ctx, w.podID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNoSessionsAvailable
		}
		return err
	}

	log := slog.With("session_id", session.ID, "worker_id", w.id)
	log.Info("Session claimed")

	w.publishSessionStatus(ctx, session.ID, models.SessionInProgress)

	w.setStatus(WorkerStatusWorking, session.ID)
	defer w.setStatus(WorkerStatusIdle, "")

	sessionCtx, cancelSession := context.WithTimeout(ctx, w.config.SessionTimeout)
	defer cancelSession()

	// Register cancel function for API-triggered cancellation.
	w.pool.RegisterSession(session.ID, cancelSession)
	defer w.pool.UnregisterSession(session.ID)

	heartbeatCtx, cancelHeartbeat := context.WithCancel(sessionCtx)
	defer cancelHeartbeat()
	go w.runHeartbeat(heartbeatCtx, session.ID)

	result := w.executor.Execute(sessionCtx, session)
	result = w.classifyResult(sessionCtx, result)

	cancelHeartbeat()

	// Terminal update uses a background context — the session ctx may already
	// be cancelled.
	if err := w.completeSession(context.Background(), session.ID, result); err != nil {
		log.Error("Failed to update session terminal status", "error", err)
		return err
	}

	w.publishSessionStatus(context.Background(), session.ID, result.Status)
	w.notifyTerminal(context.Background(), session, result)
	w.scheduleEventCleanup(session.ID)

	w.mu.Lock()
	w.sessionsProcessed++
	w.mu.Unlock()

	log.Info("Session processing complete", "status", result.Status)
	return nil
}

// classifyResult nil-guards the executor outcome and resolves empty statuses
// against the session context (timeout vs cancel vs executor bug).
func (w *Worker) classifyResult(sessionCtx context.Context, result *ExecutionResult) *ExecutionResult {
	if result == nil {
		result = &ExecutionResult{}
	}
	if result.Status != "" {
		return result
	}
	switch {
	case errors.Is(sessionCtx.Err(), context.DeadlineExceeded):
		result.Status = models.SessionTimedOut
		result.Err = fmt.Errorf("session timed out after %v", w.config.SessionTimeout)
	case errors.Is(sessionCtx.Err(), context.Canceled):
		result.Status = models.SessionCancelled
		result.Err = context.Canceled
	default:
		result.Status = models.SessionFailed
		result.Err = fmt.Errorf("executor returned no result")
	}
	return result
}

// completeSession writes the terminal row, synthesizing a result record for
// aborts that never produced one.
func (w *Worker) completeSession(ctx context.Context, sessionID string, result *ExecutionResult) error {
	record := result.Result
	if record == nil {
		record = &models.QueryResult{Success: false}
		if result.Err != nil {
			record.Error = result.Err.Error()
		}
		switch result.Status {
		case models.SessionTimedOut:
			record.ErrorType = models.ErrorTypeBoundedIterations
		case models.SessionCancelled:
			record.ErrorType = "cancelled"
		default:
			record.ErrorType = models.ErrorTypeAPIError
		}
	}
	return w.queries.Complete(ctx, sessionID, result.Status, record)
}

// runHeartbeat periodically updates last_interaction_at for orphan detection.
func (w *Worker) runHeartbeat(ctx context.Context, sessionID string) {
	ticker := time.NewTicker(w.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.queries.Heartbeat(ctx, sessionID); err != nil {
				slog.Warn("Heartbeat update failed", "session_id", sessionID, "error", err)
			}
		}
	}
}

// publishSessionStatus broadcasts a lifecycle transition to the session and
// global channels. Non-blocking: errors are logged.
func (w *Worker) publishSessionStatus(ctx context.Context, sessionID string, status models.SessionStatus) {
	if w.status == nil {
		return
	}
	if err := w.status.PublishSessionStatus(ctx, events.SessionStatusEvent(sessionID, string(status))); err != nil {
		slog.Warn("Failed to publish session status",
			"session_id", sessionID, "status", status, "error", err)
	}
}

// notifyTerminal sends the Slack terminal notification. Nil-safe.
func (w *Worker) notifyTerminal(ctx context.Context, session *models.QuerySession, result *ExecutionResult) {
	var response, errMsg string
	if result.Result != nil {
		response = result.Result.Response
		errMsg = result.Result.Error
	}
	if errMsg == "" && result.Err != nil {
		errMsg = result.Err.Error()
	}
	w.notifier.NotifyQueryCompleted(ctx, notify.QueryCompletedInput{
		SessionID:    session.ID,
		Question:     session.Question,
		Status:       string(result.Status),
		Response:     response,
		ErrorMessage: errMsg,
	})
}

// scheduleEventCleanup deletes the session's persisted events after a grace
// period, allowing WebSocket clients to receive the final events first.
func (w *Worker) scheduleEventCleanup(sessionID string) {
	if w.cleaner == nil {
		return
	}
	time.AfterFunc(eventCleanupGrace, func() {
		if _, err := w.cleaner.CleanupSessionEvents(context.Background(), sessionID); err != nil {
			slog.Warn("Failed to cleanup session events after grace period",
				"session_id", sessionID, "error", err)
		}
	})
}

// pollInterval returns the poll duration with jitter.
func (w *Worker) pollInterval() time.Duration {
	base := w.config.PollInterval
	jitter := w.config.PollIntervalJitter
	if jitter <= 0 {
		return base
	}
	// Range: [base - jitter, base + jitter]
	offset := time.Duration(rand.Int64N(int64(2 * jitter)))
	return base - jitter + offset
}

// setStatus updates the worker's health tracking state.
func (w *Worker) setStatus(state WorkerStatus, sessionID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.state = state
	w.currentSessionID = sessionID
	w.lastActivity = time.Now()
}
