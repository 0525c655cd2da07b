package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artificer-dev/artificer/pkg/models"
	"github.com/artificer-dev/artificer/test/util"
)

func newTestQueryStore(t *testing.T) *QueryStore {
	db := util.SetupTestDatabase(t)
	return NewQueryStore(db)
}

func TestQueryStoreCreateGetRoundTrip(t *testing.T) {
	s := newTestQueryStore(t)
	ctx := context.Background()

	session := &models.QuerySession{
		Question:      "What is the capital of France?",
		MaxIterations: 10,
		MaxTools:      5,
		UseSandbox:    true,
		History: []models.HistoryEntry{
			{Role: models.RoleUser, Content: "hi"},
		},
	}
	require.NoError(t, s.Create(ctx, session))
	require.NotEmpty(t, session.ID)

	got, err := s.Get(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, "What is the capital of France?", got.Question)
	assert.Equal(t, models.SessionPending, got.Status)
	assert.Equal(t, 10, got.MaxIterations)
	require.Len(t, got.History, 1)
	assert.Equal(t, models.RoleUser, got.History[0].Role)
	assert.Nil(t, got.CompletedAt)
}

func TestQueryStoreGetMissing(t *testing.T) {
	s := newTestQueryStore(t)

	_, err := s.Get(context.Background(), "00000000-0000-0000-0000-000000000000")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestQueryStoreComplete(t *testing.T) {
	s := newTestQueryStore(t)
	ctx := context.Background()

	session := &models.QuerySession{Question: "q"}
	require.NoError(t, s.Create(ctx, session))

	result := &models.QueryResult{
		Success:    true,
		Response:   "Paris",
		Reasoning:  "well known fact",
		Iterations: 1,
		Actions: []models.ActionRecord{
			{Iteration: 1, State: "respond", Summary: "answered directly"},
		},
		Conversation: []models.HistoryEntry{
			{Role: models.RoleUser, Content: "q"},
			{Role: models.RoleAssistant, Content: "Paris"},
		},
	}
	require.NoError(t, s.Complete(ctx, session.ID, models.SessionCompleted, result))

	got, err := s.Get(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionCompleted, got.Status)
	assert.Equal(t, "Paris", got.Response)
	assert.Equal(t, 1, got.Iterations)
	require.Len(t, got.Actions, 1)
	assert.Equal(t, "respond", got.Actions[0].State)
	assert.Len(t, got.Conversation, 2)
	assert.NotNil(t, got.CompletedAt)
}

func TestQueryStoreCompleteWithError(t *testing.T) {
	s := newTestQueryStore(t)
	ctx := context.Background()

	session := &models.QuerySession{Question: "q"}
	require.NoError(t, s.Create(ctx, session))

	result := &models.QueryResult{
		Success:   false,
		Error:     "all API keys exhausted",
		ErrorType: models.ErrorTypeAllKeysOverloaded,
	}
	require.NoError(t, s.Complete(ctx, session.ID, models.SessionFailed, result))

	got, err := s.Get(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionFailed, got.Status)
	assert.Equal(t, "all API keys exhausted", got.ErrorMessage)
	assert.Equal(t, models.ErrorTypeAllKeysOverloaded, got.ErrorType)
}

func TestQueryStoreCancelPending(t *testing.T) {
	s := newTestQueryStore(t)
	ctx := context.Background()

	session := &models.QuerySession{Question: "q"}
	require.NoError(t, s.Create(ctx, session))

	cancelled, err := s.CancelPending(ctx, session.ID)
	require.NoError(t, err)
	assert.True(t, cancelled)

	got, err := s.Get(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionCancelled, got.Status)

	// Already terminal: a second cancel is a no-op
	cancelled, err = s.CancelPending(ctx, session.ID)
	require.NoError(t, err)
	assert.False(t, cancelled)
}

func TestQueryStoreListAndCount(t *testing.T) {
	s := newTestQueryStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Create(ctx, &models.QuerySession{Question: "q"}))
	}
	done := &models.QuerySession{Question: "done"}
	require.NoError(t, s.Create(ctx, done))
	require.NoError(t, s.Complete(ctx, done.ID, models.SessionCompleted, &models.QueryResult{Success: true}))

	pending, err := s.CountByStatus(ctx, models.SessionPending)
	require.NoError(t, err)
	assert.Equal(t, 3, pending)

	completed, err := s.List(ctx, models.SessionCompleted, 10)
	require.NoError(t, err)
	require.Len(t, completed, 1)
	assert.Equal(t, done.ID, completed[0].ID)

	all, err := s.List(ctx, "", 10)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestQueryStoreClaimNextFIFO(t *testing.T) {
	s := newTestQueryStore(t)
	ctx := context.Background()

	first := &models.QuerySession{Question: "first"}
	require.NoError(t, s.Create(ctx, first))
	second := &models.QuerySession{Question: "second"}
	require.NoError(t, s.Create(ctx, second))

	claimed, err := s.ClaimNext(ctx, "pod-a")
	require.NoError(t, err)
	assert.Equal(t, first.ID, claimed.ID)
	assert.Equal(t, models.SessionInProgress, claimed.Status)
	assert.Equal(t, "pod-a", claimed.PodID)
	require.NotNil(t, claimed.StartedAt)
	require.NotNil(t, claimed.LastInteractionAt)

	claimed, err = s.ClaimNext(ctx, "pod-b")
	require.NoError(t, err)
	assert.Equal(t, second.ID, claimed.ID)

	_, err = s.ClaimNext(ctx, "pod-a")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestQueryStoreRequeueOrphans(t *testing.T) {
	db := util.SetupTestDatabase(t)
	s := NewQueryStore(db)
	ctx := context.Background()

	stale := &models.QuerySession{Question: "stale"}
	require.NoError(t, s.Create(ctx, stale))
	fresh := &models.QuerySession{Question: "fresh"}
	require.NoError(t, s.Create(ctx, fresh))

	_, err := s.ClaimNext(ctx, "pod-dead")
	require.NoError(t, err)
	_, err = s.ClaimNext(ctx, "pod-alive")
	require.NoError(t, err)

	// Backdate the dead pod's heartbeat past the stale threshold.
	_, err = db.ExecContext(ctx,
		`UPDATE query_sessions SET last_interaction_at = NOW() - INTERVAL '10 minutes' WHERE id = $1`,
		stale.ID)
	require.NoError(t, err)

	requeued, abandoned, err := s.RequeueOrphans(ctx, 5*time.Minute, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{stale.ID}, requeued)
	assert.Empty(t, abandoned)

	got, err := s.Get(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionPending, got.Status)
	assert.Equal(t, 1, got.RecoveryAttempts)
	assert.Empty(t, got.PodID)
	assert.Nil(t, got.StartedAt)

	// The session with a live heartbeat is untouched.
	got, err = s.Get(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionInProgress, got.Status)
}

func TestQueryStoreRequeueOrphansExhaustsAttempts(t *testing.T) {
	db := util.SetupTestDatabase(t)
	s := NewQueryStore(db)
	ctx := context.Background()

	session := &models.QuerySession{Question: "doomed"}
	require.NoError(t, s.Create(ctx, session))
	_, err := s.ClaimNext(ctx, "pod-dead")
	require.NoError(t, err)

	_, err = db.ExecContext(ctx, `
		UPDATE query_sessions SET
			last_interaction_at = NOW() - INTERVAL '10 minutes',
			recovery_attempts = 3
		WHERE id = $1`, session.ID)
	require.NoError(t, err)

	requeued, abandoned, err := s.RequeueOrphans(ctx, 5*time.Minute, 3)
	require.NoError(t, err)
	assert.Empty(t, requeued)
	assert.Equal(t, []string{session.ID}, abandoned)

	got, err := s.Get(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionTimedOut, got.Status)
	assert.Contains(t, got.ErrorMessage, "Orphaned")
	require.NotNil(t, got.CompletedAt)
}

func TestQueryStoreRequeuePodOrphans(t *testing.T) {
	s := newTestQueryStore(t)
	ctx := context.Background()

	mine := &models.QuerySession{Question: "mine"}
	require.NoError(t, s.Create(ctx, mine))
	theirs := &models.QuerySession{Question: "theirs"}
	require.NoError(t, s.Create(ctx, theirs))

	_, err := s.ClaimNext(ctx, "pod-a")
	require.NoError(t, err)
	_, err = s.ClaimNext(ctx, "pod-b")
	require.NoError(t, err)

	requeued, abandoned, err := s.RequeuePodOrphans(ctx, "pod-a", 3)
	require.NoError(t, err)
	assert.Equal(t, []string{mine.ID}, requeued)
	assert.Empty(t, abandoned)

	got, err := s.Get(ctx, theirs.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionInProgress, got.Status)
	assert.Equal(t, "pod-b", got.PodID)
}
