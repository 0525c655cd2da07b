package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artificer-dev/artificer/pkg/config"
	"github.com/artificer-dev/artificer/pkg/events"
	"github.com/artificer-dev/artificer/pkg/models"
	"github.com/artificer-dev/artificer/pkg/store"
	"github.com/artificer-dev/artificer/test/util"
)

func testQueueConfig() *config.QueueConfig {
	cfg := config.DefaultQueueConfig()
	cfg.WorkerCount = 1
	cfg.PollInterval = 20 * time.Millisecond
	cfg.PollIntervalJitter = 5 * time.Millisecond
	cfg.HeartbeatInterval = 25 * time.Millisecond
	cfg.SessionTimeout = 5 * time.Second
	return cfg
}

// fakeExecutor returns a canned result and records the sessions it saw.
type fakeExecutor struct {
	mu       sync.Mutex
	sessions []*models.QuerySession
	result   *ExecutionResult
	block    chan struct{} // when set, Execute waits for close or ctx
}

func (f *fakeExecutor) Execute(ctx context.Context, session *models.QuerySession) *ExecutionResult {
	f.mu.Lock()
	f.sessions = append(f.sessions, session)
	f.mu.Unlock()

	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return &ExecutionResult{Status: models.SessionCancelled, Err: ctx.Err()}
		}
	}
	return f.result
}

func (f *fakeExecutor) seen() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions)
}

// recordingPublisher captures session status transitions.
type recordingPublisher struct {
	mu       sync.Mutex
	statuses []string
}

func (r *recordingPublisher) PublishSessionStatus(_ context.Context, env events.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, env.Data["status"].(string))
	return nil
}

func (r *recordingPublisher) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.statuses...)
}

func waitForStatus(t *testing.T, queries *store.QueryStore, id string, want models.SessionStatus) *models.QuerySession {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		session, err := queries.Get(context.Background(), id)
		require.NoError(t, err)
		if session.Status == want {
			return session
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("session %s never reached status %s", id, want)
	return nil
}

func TestWorkerProcessesSessionToCompletion(t *testing.T) {
	db := util.SetupTestDatabase(t)
	queries := store.NewQueryStore(db)
	ctx := context.Background()

	session := &models.QuerySession{Question: "What is 2+2?", MaxIterations: 5, MaxTools: 3}
	require.NoError(t, queries.Create(ctx, session))

	executor := &fakeExecutor{result: &ExecutionResult{
		Status: models.SessionCompleted,
		Result: &models.QueryResult{
			Success:    true,
			Response:   "4",
			Iterations: 2,
			Actions:    []models.ActionRecord{{Iteration: 1, State: "use_tool"}},
		},
	}}
	publisher := &recordingPublisher{}

	pool := NewWorkerPool("pod-test", queries, testQueueConfig(), executor, publisher, nil, nil)
	require.NoError(t, pool.Start(ctx))
	defer pool.Stop()

	got := waitForStatus(t, queries, session.ID, models.SessionCompleted)
	assert.Equal(t, "4", got.Response)
	assert.Equal(t, 2, got.Iterations)
	assert.Equal(t, "pod-test", got.PodID)
	assert.NotNil(t, got.CompletedAt)
	require.Len(t, got.Actions, 1)

	assert.Equal(t, 1, executor.seen())
	statuses := publisher.all()
	require.GreaterOrEqual(t, len(statuses), 2)
	assert.Equal(t, "in_progress", statuses[0])
	assert.Equal(t, "completed", statuses[len(statuses)-1])
}

func TestWorkerWritesFailureResult(t *testing.T) {
	db := util.SetupTestDatabase(t)
	queries := store.NewQueryStore(db)
	ctx := context.Background()

	session := &models.QuerySession{Question: "impossible", MaxIterations: 1}
	require.NoError(t, queries.Create(ctx, session))

	executor := &fakeExecutor{result: &ExecutionResult{
		Status: models.SessionFailed,
		Result: &models.QueryResult{
			Success:   false,
			Error:     "Maximum iterations (1) reached without a final answer",
			ErrorType: models.ErrorTypeBoundedIterations,
		},
	}}

	pool := NewWorkerPool("pod-test", queries, testQueueConfig(), executor, nil, nil, nil)
	require.NoError(t, pool.Start(ctx))
	defer pool.Stop()

	got := waitForStatus(t, queries, session.ID, models.SessionFailed)
	assert.Equal(t, models.ErrorTypeBoundedIterations, got.ErrorType)
	assert.Contains(t, got.ErrorMessage, "Maximum iterations")
}

func TestPoolCancelSessionInterruptsExecution(t *testing.T) {
	db := util.SetupTestDatabase(t)
	queries := store.NewQueryStore(db)
	ctx := context.Background()

	session := &models.QuerySession{Question: "slow"}
	require.NoError(t, queries.Create(ctx, session))

	executor := &fakeExecutor{block: make(chan struct{})}

	pool := NewWorkerPool("pod-test", queries, testQueueConfig(), executor, nil, nil, nil)
	require.NoError(t, pool.Start(ctx))
	defer pool.Stop()

	// Wait until the worker registers the running session, then cancel it.
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if pool.CancelSession(session.ID) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	got := waitForStatus(t, queries, session.ID, models.SessionCancelled)
	assert.NotNil(t, got.CompletedAt)
}

func TestPoolCancelSessionUnknownID(t *testing.T) {
	pool := NewWorkerPool("pod-test", nil, testQueueConfig(), nil, nil, nil, nil)
	assert.False(t, pool.CancelSession("not-running"))
}

func TestClassifyResultNilGuards(t *testing.T) {
	w := &Worker{config: testQueueConfig()}

	t.Run("nil result without ctx error becomes failed", func(t *testing.T) {
		result := w.classifyResult(context.Background(), nil)
		assert.Equal(t, models.SessionFailed, result.Status)
		require.Error(t, result.Err)
	})

	t.Run("nil result after timeout becomes timed_out", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
		defer cancel()
		<-ctx.Done()
		result := w.classifyResult(ctx, nil)
		assert.Equal(t, models.SessionTimedOut, result.Status)
	})

	t.Run("nil result after cancel becomes cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		result := w.classifyResult(ctx, nil)
		assert.Equal(t, models.SessionCancelled, result.Status)
		assert.True(t, errors.Is(result.Err, context.Canceled))
	})

	t.Run("explicit status passes through", func(t *testing.T) {
		in := &ExecutionResult{Status: models.SessionCompleted}
		assert.Same(t, in, w.classifyResult(context.Background(), in))
	})
}

func TestPoolHealth(t *testing.T) {
	db := util.SetupTestDatabase(t)
	queries := store.NewQueryStore(db)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, queries.Create(ctx, &models.QuerySession{Question: "q"}))
	}

	cfg := testQueueConfig()
	cfg.PollInterval = time.Hour // keep workers idle so the depth stays put
	cfg.PollIntervalJitter = 0

	pool := NewWorkerPool("pod-health", queries, cfg, &fakeExecutor{}, nil, nil, nil)
	require.NoError(t, pool.Start(ctx))
	defer pool.Stop()

	// The first poll may claim one session before settling into the long
	// interval; health only needs DB reachability and sane bookkeeping.
	health := pool.Health()
	assert.True(t, health.DBReachable)
	assert.Equal(t, "pod-health", health.PodID)
	assert.Equal(t, 1, health.TotalWorkers)
	assert.LessOrEqual(t, health.QueueDepth, 3)
	require.Len(t, health.WorkerStats, 1)
}
