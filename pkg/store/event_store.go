package store

import (
	"context"
	stdsql "database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event is one persisted real-time event row. Rows live only as long as
// WebSocket catchup needs them; the queue deletes a session's events shortly
// after the terminal event.
type Event struct {
	ID        int64
	SessionID string
	Channel   string
	Payload   map[string]any
	CreatedAt time.Time
}

// EventStore persists the real-time event feed.
type EventStore struct {
	db *stdsql.DB
}

// NewEventStore creates an event store backed by the given connection pool.
func NewEventStore(db *stdsql.DB) *EventStore {
	return &EventStore{db: db}
}

// ListSince returns up to limit events on a channel with id > sinceID, in id
// order. Callers pass limit+1 to detect overflow.
func (s *EventStore) ListSince(ctx context.Context, channel string, sinceID int64, limit int) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, channel, payload, created_at
		FROM events
		WHERE channel = $1 AND id > $2
		ORDER BY id
		LIMIT $3`,
		channel, sinceID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var e Event
		var payload []byte
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Channel, &payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		if err := json.Unmarshal(payload, &e.Payload); err != nil {
			return nil, fmt.Errorf("failed to decode event payload %d: %w", e.ID, err)
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}

// DeleteBySession removes all events for a session and returns the count.
func (s *EventStore) DeleteBySession(ctx context.Context, sessionID string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM events WHERE session_id = $1`, sessionID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete session events: %w", err)
	}
	return res.RowsAffected()
}

// DeleteOlderThan removes events created before the cutoff. Safety net for
// sessions whose scheduled cleanup never ran (pod death between the terminal
// event and the cleanup timer).
func (s *EventStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM events WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired events: %w", err)
	}
	return res.RowsAffected()
}
