package store

import (
	"context"
	stdsql "database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/artificer-dev/artificer/pkg/models"
)

// QueryStore persists query sessions (the queue's unit of work).
type QueryStore struct {
	db *stdsql.DB
}

// NewQueryStore creates a query store backed by the given connection pool.
func NewQueryStore(db *stdsql.DB) *QueryStore {
	return &QueryStore{db: db}
}

const sessionColumns = `id, question, max_iterations, max_tools, use_sandbox, history,
	status, pod_id, response, reasoning, error_message, error_type,
	iterations, actions, conversation, recovery_attempts,
	created_at, started_at, last_interaction_at, completed_at`

// Create enqueues a new session. The ID and created_at are filled in when unset.
func (s *QueryStore) Create(ctx context.Context, session *models.QuerySession) error {
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	if session.Status == "" {
		session.Status = models.SessionPending
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now().UTC()
	}

	history, err := marshalJSON(session.History, "[]")
	if err != nil {
		return err
	}
	actions, err := marshalJSON(session.Actions, "[]")
	if err != nil {
		return err
	}
	conversation, err := marshalJSON(session.Conversation, "[]")
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO query_sessions (id, question, max_iterations, max_tools, use_sandbox, history,
			status, iterations, actions, conversation, recovery_attempts, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		session.ID, session.Question, session.MaxIterations, session.MaxTools, session.UseSandbox, history,
		session.Status, session.Iterations, actions, conversation, session.RecoveryAttempts, session.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

// Get returns a session by ID, or ErrNotFound.
func (s *QueryStore) Get(ctx context.Context, id string) (*models.QuerySession, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM query_sessions WHERE id = $1`, id)
	return scanSession(row)
}

// List returns recent sessions, optionally filtered by status.
func (s *QueryStore) List(ctx context.Context, status models.SessionStatus, limit int) ([]*models.QuerySession, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT ` + sessionColumns + ` FROM query_sessions`
	var args []any
	if status != "" {
		args = append(args, status)
		query += ` WHERE status = $1`
	}
	args = append(args, limit)
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.QuerySession
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

// CountByStatus returns the number of sessions in the given status.
func (s *QueryStore) CountByStatus(ctx context.Context, status models.SessionStatus) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM query_sessions WHERE status = $1`, status).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count sessions: %w", err)
	}
	return count, nil
}

// Heartbeat refreshes last_interaction_at for a running session.
func (s *QueryStore) Heartbeat(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE query_sessions SET last_interaction_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to update heartbeat: %w", err)
	}
	return nil
}

// Complete writes the terminal result for a session.
func (s *QueryStore) Complete(ctx context.Context, id string, status models.SessionStatus, result *models.QueryResult) error {
	actions, err := marshalJSON(result.Actions, "[]")
	if err != nil {
		return err
	}
	conversation, err := marshalJSON(result.Conversation, "[]")
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE query_sessions SET
			status = $2,
			response = $3,
			reasoning = $4,
			error_message = $5,
			error_type = $6,
			iterations = $7,
			actions = $8,
			conversation = $9,
			completed_at = NOW(),
			last_interaction_at = NOW()
		WHERE id = $1`,
		id, status, result.Response, result.Reasoning, result.Error, result.ErrorType,
		result.Iterations, actions, conversation)
	if err != nil {
		return fmt.Errorf("failed to complete session: %w", err)
	}
	return requireRow(res)
}

// ClaimNext atomically claims the oldest pending session for this pod using
// FOR UPDATE SKIP LOCKED, so concurrent workers never grab the same row.
// Returns ErrNotFound when the queue is empty.
func (s *QueryStore) ClaimNext(ctx context.Context, podID string) (*models.QuerySession, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start claim transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Order by created_at for FIFO processing.
	var id string
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM query_sessions
		WHERE status = $1
		ORDER BY created_at
		LIMIT 1
		FOR UPDATE SKIP LOCKED`, models.SessionPending).Scan(&id)
	if errors.Is(err, stdsql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query pending session: %w", err)
	}

	row := tx.QueryRowContext(ctx, `
		UPDATE query_sessions SET
			status = $2,
			pod_id = $3,
			started_at = NOW(),
			last_interaction_at = NOW()
		WHERE id = $1
		RETURNING `+sessionColumns,
		id, models.SessionInProgress, podID)
	session, err := scanSession(row)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}
	return session, nil
}

// RequeueOrphans returns in_progress sessions with stale heartbeats to the
// pending queue. Sessions that already exhausted maxAttempts recoveries are
// marked timed_out instead. All pods run this sweep independently; both
// UPDATEs are idempotent. Returns the IDs of requeued and abandoned sessions.
func (s *QueryStore) RequeueOrphans(ctx context.Context, staleAfter time.Duration, maxAttempts int) (requeued, abandoned []string, err error) {
	threshold := time.Now().UTC().Add(-staleAfter)
	return s.recoverOrphans(ctx, maxAttempts,
		`status = $2 AND last_interaction_at IS NOT NULL AND last_interaction_at < $3`,
		models.SessionInProgress, threshold)
}

// RequeuePodOrphans returns every in_progress session still owned by this pod
// to the queue. Called once during startup, before the worker pool begins
// processing: any such session was abandoned when a previous incarnation of
// the pod crashed mid-execution.
func (s *QueryStore) RequeuePodOrphans(ctx context.Context, podID string, maxAttempts int) (requeued, abandoned []string, err error) {
	return s.recoverOrphans(ctx, maxAttempts,
		`status = $2 AND pod_id = $3`,
		models.SessionInProgress, podID)
}

// recoverOrphans requeues matching sessions below the recovery-attempt cap
// and times out the rest, in a single transaction. The where clause must use
// placeholders $2.. ($1 is reserved for the target status / attempt cap).
func (s *QueryStore) recoverOrphans(ctx context.Context, maxAttempts int, where string, whereArgs ...any) (requeued, abandoned []string, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to start orphan transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	capPlaceholder := fmt.Sprintf("$%d", len(whereArgs)+2)

	requeueArgs := append([]any{models.SessionPending}, whereArgs...)
	requeueArgs = append(requeueArgs, maxAttempts)
	requeued, err = collectIDs(tx.QueryContext(ctx, `
		UPDATE query_sessions SET
			status = $1,
			pod_id = NULL,
			started_at = NULL,
			last_interaction_at = NULL,
			recovery_attempts = recovery_attempts + 1
		WHERE `+where+` AND recovery_attempts < `+capPlaceholder+`
		RETURNING id`, requeueArgs...))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to requeue orphaned sessions: %w", err)
	}

	abandonArgs := append([]any{models.SessionTimedOut}, whereArgs...)
	abandonArgs = append(abandonArgs, maxAttempts)
	abandoned, err = collectIDs(tx.QueryContext(ctx, `
		UPDATE query_sessions SET
			status = $1,
			error_message = 'Orphaned: recovery attempts exhausted (pod ' || COALESCE(pod_id, 'unknown') || ' lost)',
			completed_at = NOW()
		WHERE `+where+` AND recovery_attempts >= `+capPlaceholder+`
		RETURNING id`, abandonArgs...))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to abandon orphaned sessions: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("failed to commit orphan recovery: %w", err)
	}
	return requeued, abandoned, nil
}

func collectIDs(rows *stdsql.Rows, err error) ([]string, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CancelPending marks a still-queued session cancelled. Returns false when
// the session was already claimed by a worker (cancellation then goes
// through the worker pool instead).
func (s *QueryStore) CancelPending(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE query_sessions SET status = $2, completed_at = NOW()
		WHERE id = $1 AND status = $3`,
		id, models.SessionCancelled, models.SessionPending)
	if err != nil {
		return false, fmt.Errorf("failed to cancel session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check affected rows: %w", err)
	}
	return affected > 0, nil
}

func scanSession(row rowScanner) (*models.QuerySession, error) {
	var (
		session      models.QuerySession
		history      []byte
		actions      []byte
		conversation []byte
		podID        stdsql.NullString
		response     stdsql.NullString
		reasoning    stdsql.NullString
		errorMessage stdsql.NullString
		errorType    stdsql.NullString
		startedAt    stdsql.NullTime
		lastTouch    stdsql.NullTime
		completedAt  stdsql.NullTime
	)

	err := row.Scan(
		&session.ID, &session.Question, &session.MaxIterations, &session.MaxTools, &session.UseSandbox, &history,
		&session.Status, &podID, &response, &reasoning, &errorMessage, &errorType,
		&session.Iterations, &actions, &conversation, &session.RecoveryAttempts,
		&session.CreatedAt, &startedAt, &lastTouch, &completedAt)
	if errors.Is(err, stdsql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}

	if err := unmarshalJSON(history, &session.History); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(actions, &session.Actions); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(conversation, &session.Conversation); err != nil {
		return nil, err
	}
	session.PodID = podID.String
	session.Response = response.String
	session.Reasoning = reasoning.String
	session.ErrorMessage = errorMessage.String
	session.ErrorType = errorType.String
	session.StartedAt = nullTimePtr(startedAt)
	session.LastInteractionAt = nullTimePtr(lastTouch)
	session.CompletedAt = nullTimePtr(completedAt)

	return &session, nil
}
