package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/artificer-dev/artificer/pkg/models"
	"github.com/artificer-dev/artificer/pkg/store"
)

// QueryDefaults carries the configured per-session limits applied when a
// submission leaves them unset.
type QueryDefaults struct {
	MaxIterations int
	MaxTools      int
}

// QueryService manages the query session lifecycle: submission into the
// queue, status reads, and cancellation. Processing itself is the worker
// pool's job.
type QueryService struct {
	queries  *store.QueryStore
	defaults QueryDefaults
}

// NewQueryService creates a QueryService. Non-positive defaults fall back
// to 10 iterations and 5 tools per session.
func NewQueryService(queries *store.QueryStore, defaults QueryDefaults) *QueryService {
	if defaults.MaxIterations <= 0 {
		defaults.MaxIterations = 10
	}
	if defaults.MaxTools <= 0 {
		defaults.MaxTools = 5
	}
	return &QueryService{
		queries:  queries,
		defaults: defaults,
	}
}

// Submit validates a query session and enqueues it as pending. The write
// uses a detached context so an impatient client disconnect cannot lose an
// accepted submission.
func (s *QueryService) Submit(ctx context.Context, session *models.QuerySession) (*models.QuerySession, error) {
	if strings.TrimSpace(session.Question) == "" {
		return nil, NewValidationError("question", "question is required")
	}
	if session.MaxIterations <= 0 {
		session.MaxIterations = s.defaults.MaxIterations
	}
	if session.MaxTools <= 0 {
		session.MaxTools = s.defaults.MaxTools
	}
	session.Status = models.SessionPending

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.queries.Create(writeCtx, session); err != nil {
		return nil, fmt.Errorf("failed to enqueue query: %w", err)
	}
	return session, nil
}

// Get returns a query session by ID.
func (s *QueryService) Get(ctx context.Context, id string) (*models.QuerySession, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	session, err := s.queries.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get query session: %w", err)
	}
	return session, nil
}

// List returns sessions newest-first, optionally filtered by status.
func (s *QueryService) List(ctx context.Context, status models.SessionStatus, limit int) ([]*models.QuerySession, error) {
	if status != "" && !validSessionStatus(status) {
		return nil, NewValidationError("status", fmt.Sprintf("unknown status '%s'", status))
	}
	sessions, err := s.queries.List(ctx, status, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list query sessions: %w", err)
	}
	return sessions, nil
}

// CountByStatus reports how many sessions are in the given state.
func (s *QueryService) CountByStatus(ctx context.Context, status models.SessionStatus) (int, error) {
	count, err := s.queries.CountByStatus(ctx, status)
	if err != nil {
		return 0, fmt.Errorf("failed to count query sessions: %w", err)
	}
	return count, nil
}

// Cancel requests cancellation of a session. Pending sessions are flipped
// to cancelled directly in the queue; the returned bool reports whether
// that happened. In-progress sessions return (false, nil) and rely on the
// caller signalling the worker pool. Terminal sessions are not
// cancellable.
//
// A pending session can be claimed by a worker between the status read and
// the queue flip; that race is treated as in-progress, not as an error.
func (s *QueryService) Cancel(ctx context.Context, id string) (bool, error) {
	if _, err := uuid.Parse(id); err != nil {
		return false, ErrNotFound
	}
	session, err := s.queries.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, ErrNotFound
		}
		return false, fmt.Errorf("failed to get query session: %w", err)
	}

	if session.Status.Terminal() {
		return false, ErrNotCancellable
	}

	if session.Status == models.SessionPending {
		writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		cancelled, err := s.queries.CancelPending(writeCtx, id)
		if err != nil {
			return false, fmt.Errorf("failed to cancel query session: %w", err)
		}
		if cancelled {
			return true, nil
		}
	}
	return false, nil
}

func validSessionStatus(status models.SessionStatus) bool {
	switch status {
	case models.SessionPending, models.SessionInProgress, models.SessionCompleted,
		models.SessionFailed, models.SessionTimedOut, models.SessionCancelled:
		return true
	}
	return false
}
