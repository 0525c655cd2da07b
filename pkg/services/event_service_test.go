package services

import (
	"context"
	stdsql "database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artificer-dev/artificer/pkg/store"
	"github.com/artificer-dev/artificer/test/util"
)

func newTestEventService(t *testing.T) (*EventService, *stdsql.DB) {
	db := util.SetupTestDatabase(t)
	return NewEventService(store.NewEventStore(db)), db
}

func insertEvent(t *testing.T, db *stdsql.DB, sessionID, channel string, seq int) int64 {
	t.Helper()
	var id int64
	err := db.QueryRow(`
		INSERT INTO events (session_id, channel, payload)
		VALUES ($1, $2, $3) RETURNING id`,
		sessionID, channel, fmt.Sprintf(`{"type":"state","seq":%d}`, seq)).Scan(&id)
	require.NoError(t, err)
	return id
}

func TestEventService_GetEventsSince(t *testing.T) {
	svc, db := newTestEventService(t)
	ctx := context.Background()

	sessionID := uuid.New().String()
	channel := "session:" + sessionID
	var ids []int64
	for i := 1; i <= 3; i++ {
		ids = append(ids, insertEvent(t, db, sessionID, channel, i))
	}
	insertEvent(t, db, uuid.New().String(), "session:other", 99)

	t.Run("returns all channel events from zero", func(t *testing.T) {
		events, err := svc.GetEventsSince(ctx, channel, 0, 10)
		require.NoError(t, err)
		require.Len(t, events, 3)
		assert.Equal(t, ids[0], events[0].ID)
		assert.Equal(t, channel, events[0].Channel)
		assert.Equal(t, "state", events[0].Payload["type"])
	})

	t.Run("resumes after the given event ID", func(t *testing.T) {
		events, err := svc.GetEventsSince(ctx, channel, ids[1], 10)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, ids[2], events[0].ID)
	})

	t.Run("honors the limit", func(t *testing.T) {
		events, err := svc.GetEventsSince(ctx, channel, 0, 2)
		require.NoError(t, err)
		assert.Len(t, events, 2)
	})

	t.Run("empty channel yields no events", func(t *testing.T) {
		events, err := svc.GetEventsSince(ctx, "session:"+uuid.New().String(), 0, 10)
		require.NoError(t, err)
		assert.Empty(t, events)
	})
}

func TestEventService_CleanupSessionEvents(t *testing.T) {
	svc, db := newTestEventService(t)
	ctx := context.Background()

	sessionID := uuid.New().String()
	channel := "session:" + sessionID
	for i := 1; i <= 4; i++ {
		insertEvent(t, db, sessionID, channel, i)
	}
	otherSession := uuid.New().String()
	insertEvent(t, db, otherSession, "session:"+otherSession, 1)

	deleted, err := svc.CleanupSessionEvents(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, int64(4), deleted)

	remaining, err := svc.GetEventsSince(ctx, channel, 0, 10)
	require.NoError(t, err)
	assert.Empty(t, remaining)

	kept, err := svc.GetEventsSince(ctx, "session:"+otherSession, 0, 10)
	require.NoError(t, err)
	assert.Len(t, kept, 1)
}

func TestEventService_CleanupOrphanedEvents(t *testing.T) {
	svc, db := newTestEventService(t)
	ctx := context.Background()

	sessionID := uuid.New().String()
	channel := "session:" + sessionID
	staleID := insertEvent(t, db, sessionID, channel, 1)
	_, err := db.Exec(`UPDATE events SET created_at = NOW() - INTERVAL '2 hours' WHERE id = $1`, staleID)
	require.NoError(t, err)
	insertEvent(t, db, sessionID, channel, 2)

	deleted, err := svc.CleanupOrphanedEvents(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	remaining, err := svc.GetEventsSince(ctx, channel, 0, 10)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, float64(2), remaining[0].Payload["seq"])
}
