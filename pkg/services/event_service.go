package services

import (
	"context"
	"fmt"
	"time"

	"github.com/artificer-dev/artificer/pkg/store"
)

// EventService manages the persisted real-time event feed backing WebSocket
// catchup. Events are short-lived: the queue deletes a session's rows shortly
// after its terminal event.
type EventService struct {
	events *store.EventStore
}

// NewEventService creates a new EventService.
func NewEventService(events *store.EventStore) *EventService {
	return &EventService{events: events}
}

// GetEventsSince retrieves up to limit events on a channel with id > sinceID,
// in id order. Catchup callers pass limit+1 to detect overflow.
func (s *EventService) GetEventsSince(ctx context.Context, channel string, sinceID int64, limit int) ([]*store.Event, error) {
	events, err := s.events.ListSince(ctx, channel, sinceID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	return events, nil
}

// CleanupSessionEvents removes all events for a session. Runs on a background
// context so cleanup completes even when the triggering request is gone.
func (s *EventService) CleanupSessionEvents(ctx context.Context, sessionID string) (int64, error) {
	writeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	count, err := s.events.DeleteBySession(writeCtx, sessionID)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup session events: %w", err)
	}
	return count, nil
}

// CleanupOrphanedEvents removes events older than the TTL. Safety net for
// sessions whose scheduled cleanup never ran.
func (s *EventService) CleanupOrphanedEvents(ctx context.Context, ttl time.Duration) (int64, error) {
	writeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	count, err := s.events.DeleteOlderThan(writeCtx, time.Now().Add(-ttl))
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup orphaned events: %w", err)
	}
	return count, nil
}
