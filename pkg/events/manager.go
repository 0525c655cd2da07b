package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// catchupLimit is the maximum number of events returned in a catchup response.
// If more events are missed, a catchup.overflow message tells the client to
// do a full REST reload.
const catchupLimit = 200

// listenTimeout bounds how long a LISTEN command may block when subscribing to
// a new PG channel. Without this, a stalled connection would block the
// subscribing goroutine (and thus the client's read loop) indefinitely.
const listenTimeout = 10 * time.Second

// localSubBuffer is the per-subscriber buffer for in-process delivery. A
// waiter that falls this far behind starts losing events.
const localSubBuffer = 256

// CatchupEvent holds the data returned by the catchup query.
type CatchupEvent struct {
	ID      int64
	Payload map[string]any
}

// CatchupQuerier queries events for catchup. Implemented by EventService.
type CatchupQuerier interface {
	GetCatchupEvents(ctx context.Context, channel string, sinceID int64, limit int) ([]CatchupEvent, error)
}

// ConnectionManager manages channel subscriptions for WebSocket connections
// and in-process waiters. Each Go process (pod) has one instance.
type ConnectionManager struct {
	// Active connections: connection_id → *Connection
	connections map[string]*Connection
	mu          sync.RWMutex

	// Channel subscriptions: channel → subscriber tables
	channels  map[string]*channelSubs
	channelMu sync.RWMutex

	// CatchupQuerier for catchup queries
	catchupQuerier CatchupQuerier

	// NotifyListener for dynamic LISTEN/UNLISTEN (set after construction)
	listener   *NotifyListener
	listenerMu sync.RWMutex

	// Write timeout for WebSocket sends
	writeTimeout time.Duration
}

// channelSubs holds both kinds of subscriber for one channel. The channel's
// PG LISTEN is active exactly while this struct exists in the channels map.
type channelSubs struct {
	conns  map[string]bool
	locals map[string]*localSub
}

func newChannelSubs() *channelSubs {
	return &channelSubs{
		conns:  make(map[string]bool),
		locals: make(map[string]*localSub),
	}
}

func (s *channelSubs) empty() bool {
	return len(s.conns) == 0 && len(s.locals) == 0
}

// localSub is an in-process subscriber: a goroutine (the sync /ask handler)
// waiting on a session's events without a WebSocket. Closing the channel
// signals that the subscription is gone.
type localSub struct {
	ch   chan []byte
	once sync.Once
}

func (s *localSub) close() {
	s.once.Do(func() { close(s.ch) })
}

// Connection represents a single WebSocket client.
//
// subscriptions is accessed WITHOUT a lock. This is safe because all reads and
// writes (subscribe, unsubscribe, unregisterConnection) happen on the single
// goroutine that owns this connection (HandleConnection's read loop and its
// deferred cleanup). If a Connection is ever mutated from a different goroutine
// (e.g. an admin "kick" feature), subscriptions must be protected by a mutex.
type Connection struct {
	ID            string
	Conn          *websocket.Conn
	subscriptions map[string]bool // channels this connection is subscribed to
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewConnectionManager creates a new ConnectionManager.
func NewConnectionManager(catchupQuerier CatchupQuerier, writeTimeout time.Duration) *ConnectionManager {
	return &ConnectionManager{
		connections:    make(map[string]*Connection),
		channels:       make(map[string]*channelSubs),
		catchupQuerier: catchupQuerier,
		writeTimeout:   writeTimeout,
	}
}

// SetListener sets the NotifyListener for dynamic LISTEN/UNLISTEN.
// Called once during startup after both ConnectionManager and NotifyListener are created.
func (m *ConnectionManager) SetListener(l *NotifyListener) {
	m.listenerMu.Lock()
	defer m.listenerMu.Unlock()
	m.listener = l
}

// HandleConnection manages the lifecycle of a single WebSocket connection.
// Called by the WebSocket HTTP handler after upgrade. Blocks until the
// connection closes.
func (m *ConnectionManager) HandleConnection(parentCtx context.Context, conn *websocket.Conn) {
	connID := uuid.New().String()
	ctx, cancel := context.WithCancel(parentCtx)

	c := &Connection{
		ID:            connID,
		Conn:          conn,
		subscriptions: make(map[string]bool),
		ctx:           ctx,
		cancel:        cancel,
	}

	m.registerConnection(c)
	defer m.unregisterConnection(c)

	m.sendJSON(c, map[string]string{
		"type":          "connection.established",
		"connection_id": connID,
	})

	// Read loop — process client messages until connection closes
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("Invalid WebSocket message",
				"connection_id", connID, "error", err)
			continue
		}

		m.handleClientMessage(ctx, c, &msg)
	}
}

// SubscribeLocal registers an in-process subscriber for a channel and starts
// LISTEN if it is the first subscriber. The returned cancel function must be
// called when the waiter is done; the returned channel is closed when the
// subscription ends (cancel, or a LISTEN failure cleanup).
//
// Unlike WebSocket subscribers there is no catchup: callers subscribe before
// the events they care about are published.
func (m *ConnectionManager) SubscribeLocal(channel string) (<-chan []byte, func(), error) {
	id := uuid.New().String()
	sub := &localSub{ch: make(chan []byte, localSubBuffer)}

	m.channelMu.Lock()
	cs, exists := m.channels[channel]
	if !exists {
		cs = newChannelSubs()
		m.channels[channel] = cs
	}
	cs.locals[id] = sub
	m.channelMu.Unlock()

	if !exists {
		if err := m.listenChannel(channel); err != nil {
			slog.Error("Failed to LISTEN on channel", "channel", channel, "error", err)
			m.cleanupFailedChannel(channel, "")
			return nil, nil, fmt.Errorf("LISTEN on channel %s: %w", channel, err)
		}
	}

	cancel := func() {
		m.channelMu.Lock()
		last := false
		if cs, ok := m.channels[channel]; ok {
			delete(cs.locals, id)
			if cs.empty() {
				delete(m.channels, channel)
				last = true
			}
		}
		m.channelMu.Unlock()

		sub.close()
		if last {
			m.scheduleUnlisten(channel)
		}
	}
	return sub.ch, cancel, nil
}

// Broadcast sends an event payload to all subscribers of the given channel.
func (m *ConnectionManager) Broadcast(channel string, event []byte) {
	m.channelMu.RLock()
	cs, exists := m.channels[channel]
	if !exists {
		m.channelMu.RUnlock()
		return
	}
	// Copy subscriber sets to avoid holding the lock during sends
	ids := make([]string, 0, len(cs.conns))
	for id := range cs.conns {
		ids = append(ids, id)
	}
	locals := make([]*localSub, 0, len(cs.locals))
	for _, sub := range cs.locals {
		locals = append(locals, sub)
	}
	m.channelMu.RUnlock()

	// Snapshot connection pointers under the lock, then release before
	// sending. This avoids holding mu.RLock during potentially slow
	// writes (up to writeTimeout per connection), which would stall
	// connection register/unregister operations.
	m.mu.RLock()
	conns := make([]*Connection, 0, len(ids))
	for _, id := range ids {
		if conn, ok := m.connections[id]; ok {
			conns = append(conns, conn)
		}
	}
	m.mu.RUnlock()

	for _, conn := range conns {
		if err := m.sendRaw(conn, event); err != nil {
			slog.Warn("Failed to send to WebSocket client",
				"connection_id", conn.ID, "error", err)
		}
	}

	for _, sub := range locals {
		select {
		case sub.ch <- event:
		default:
			slog.Warn("In-process subscriber lagging, dropping event", "channel", channel)
		}
	}
}

// ActiveConnections returns the count of active WebSocket connections.
func (m *ConnectionManager) ActiveConnections() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

// subscriberCount returns the number of subscribers for a channel.
// Unexported — used by tests to poll instead of sleeping.
func (m *ConnectionManager) subscriberCount(channel string) int {
	m.channelMu.RLock()
	defer m.channelMu.RUnlock()
	cs, ok := m.channels[channel]
	if !ok {
		return 0
	}
	return len(cs.conns) + len(cs.locals)
}

// handleClientMessage dispatches a client message to the appropriate handler.
func (m *ConnectionManager) handleClientMessage(ctx context.Context, c *Connection, msg *ClientMessage) {
	switch msg.Action {
	case "subscribe":
		if msg.Channel == "" {
			m.sendJSON(c, map[string]string{"type": "error", "message": "channel is required for subscribe"})
			return
		}
		if err := m.subscribe(c, msg.Channel); err != nil {
			m.sendJSON(c, map[string]string{
				"type":    "subscription.error",
				"channel": msg.Channel,
				"message": "failed to subscribe to channel",
			})
			return
		}
		m.sendJSON(c, map[string]string{
			"type":    "subscription.confirmed",
			"channel": msg.Channel,
		})
		// Auto catch-up: deliver all prior events so late subscribers don't miss anything.
		m.handleCatchup(ctx, c, msg.Channel, 0)

	case "unsubscribe":
		if msg.Channel == "" {
			m.sendJSON(c, map[string]string{"type": "error", "message": "channel is required for unsubscribe"})
			return
		}
		m.unsubscribe(c, msg.Channel)

	case "catchup":
		if msg.Channel == "" {
			m.sendJSON(c, map[string]string{"type": "error", "message": "channel is required for catchup"})
			return
		}
		if msg.LastEventID != nil {
			m.handleCatchup(ctx, c, msg.Channel, *msg.LastEventID)
		}

	case "ping":
		m.sendJSON(c, map[string]string{"type": "pong"})
	}
}

// subscribe registers a connection for a channel and starts LISTEN if first subscriber.
// LISTEN is synchronous so it completes before subscribe returns — this guarantees
// that the subsequent auto-catchup runs with LISTEN already active, closing the gap
// where events published between catchup and LISTEN would be lost.
//
// Returns an error if LISTEN fails so the caller can inform the client instead of
// sending a false subscription.confirmed.
func (m *ConnectionManager) subscribe(c *Connection, channel string) error {
	m.channelMu.Lock()
	cs, exists := m.channels[channel]
	if !exists {
		cs = newChannelSubs()
		m.channels[channel] = cs
	}
	cs.conns[c.ID] = true
	m.channelMu.Unlock()

	if !exists {
		if err := m.listenChannel(channel); err != nil {
			slog.Error("Failed to LISTEN on channel", "channel", channel, "error", err)
			m.cleanupFailedChannel(channel, c.ID)
			return fmt.Errorf("LISTEN on channel %s: %w", channel, err)
		}
	}

	c.subscriptions[channel] = true
	return nil
}

// listenChannel issues a synchronous LISTEN through the NotifyListener.
// A nil listener (single-process tests) is a no-op.
func (m *ConnectionManager) listenChannel(channel string) error {
	m.listenerMu.RLock()
	l := m.listener
	m.listenerMu.RUnlock()
	if l == nil {
		return nil
	}
	listenCtx, cancel := context.WithTimeout(context.Background(), listenTimeout)
	defer cancel()
	return l.Subscribe(listenCtx, channel)
}

// cleanupFailedChannel removes ALL subscribers from a channel after a LISTEN
// failure: affected WebSocket connections get a subscription.error, local
// subscribers get their channel closed. The triggering subscriber is excluded
// from notification because its caller reports the returned error directly.
//
// Between unlocking channelMu (after creating the channel entry) and LISTEN
// completing, other goroutines may have subscribed to the same channel.
// Because they saw the channel already existed they skipped LISTEN and
// returned success. Those subscribers are now orphaned: they were confirmed
// but the underlying PG LISTEN was never established.
//
// Client-side contract: an orphaned connection may observe the sequence
// subscription.confirmed → catchup events → subscription.error. Clients MUST
// treat subscription.error as authoritative: discard any previously received
// events for that channel and either re-subscribe (with back-off) or fall
// back to REST polling.
//
// Note: affected connections may retain a stale c.subscriptions[channel]
// entry. This is harmless: Broadcast uses m.channels (now deleted), and
// unsubscribe / unregisterConnection handle missing channel entries
// gracefully.
func (m *ConnectionManager) cleanupFailedChannel(channel, triggeringConnID string) {
	m.channelMu.Lock()
	cs, ok := m.channels[channel]
	if !ok {
		m.channelMu.Unlock()
		return
	}
	affectedIDs := make([]string, 0, len(cs.conns))
	for connID := range cs.conns {
		if connID != triggeringConnID {
			affectedIDs = append(affectedIDs, connID)
		}
	}
	locals := make([]*localSub, 0, len(cs.locals))
	for _, sub := range cs.locals {
		locals = append(locals, sub)
	}
	delete(m.channels, channel)
	m.channelMu.Unlock()

	for _, sub := range locals {
		sub.close()
	}

	if len(affectedIDs) == 0 {
		return
	}

	m.mu.RLock()
	conns := make([]*Connection, 0, len(affectedIDs))
	for _, id := range affectedIDs {
		if conn, ok := m.connections[id]; ok {
			conns = append(conns, conn)
		}
	}
	m.mu.RUnlock()

	for _, conn := range conns {
		slog.Warn("Removing orphaned subscriber after LISTEN failure",
			"connection_id", conn.ID, "channel", channel)
		m.sendJSON(conn, map[string]string{
			"type":    "subscription.error",
			"channel": channel,
			"message": "channel listen failed; subscription removed",
		})
	}
}

// unsubscribe removes a connection from a channel and stops LISTEN if last subscriber.
func (m *ConnectionManager) unsubscribe(c *Connection, channel string) {
	m.channelMu.Lock()
	if cs, exists := m.channels[channel]; exists {
		delete(cs.conns, c.ID)
		if cs.empty() {
			delete(m.channels, channel)
			m.channelMu.Unlock()
			m.scheduleUnlisten(channel)
			delete(c.subscriptions, channel)
			return
		}
	}
	m.channelMu.Unlock()

	delete(c.subscriptions, channel)
}

// scheduleUnlisten stops the PG LISTEN for a channel the last subscriber just
// left. The goroutine re-checks m.channels before issuing UNLISTEN to prevent
// a race where a rapid unsubscribe/resubscribe cycle (e.g. React StrictMode
// double-render) would drop the LISTEN:
//
//	subscribe → LISTEN active
//	unsubscribe → goroutine: UNLISTEN (deferred)
//	resubscribe → channel re-added to m.channels
//	goroutine → sees resubscribed → skips UNLISTEN
func (m *ConnectionManager) scheduleUnlisten(channel string) {
	m.listenerMu.RLock()
	l := m.listener
	m.listenerMu.RUnlock()
	if l == nil {
		return
	}
	go func() {
		m.channelMu.RLock()
		_, resubscribed := m.channels[channel]
		m.channelMu.RUnlock()
		if resubscribed {
			return
		}
		if err := l.Unsubscribe(context.Background(), channel); err != nil {
			slog.Error("Failed to UNLISTEN channel", "channel", channel, "error", err)
		}
	}()
}

// handleCatchup sends missed events since lastEventID to the client.
func (m *ConnectionManager) handleCatchup(ctx context.Context, c *Connection, channel string, lastEventID int64) {
	if m.catchupQuerier == nil {
		return
	}

	// Query events from DB since lastEventID (capped at catchupLimit + 1 to detect overflow)
	events, err := m.catchupQuerier.GetCatchupEvents(ctx, channel, lastEventID, catchupLimit+1)
	if err != nil {
		slog.Error("Catchup query failed", "channel", channel, "error", err)
		return
	}

	hasMore := len(events) > catchupLimit
	if hasMore {
		events = events[:catchupLimit]
	}

	// Send missed events in order, injecting db_event_id for position tracking.
	// The stored payload doesn't contain db_event_id (it's only added to the
	// NOTIFY payload at publish time), so we add it here from the DB row ID.
	for _, evt := range events {
		evt.Payload["db_event_id"] = evt.ID
		payload, err := json.Marshal(evt.Payload)
		if err != nil {
			continue
		}
		if err := m.sendRaw(c, payload); err != nil {
			slog.Warn("Failed to send catchup event",
				"connection_id", c.ID, "error", err)
			return
		}
	}

	// If more events were missed than the catchup limit, tell the client
	// to do a full REST reload instead of paginating catchup requests.
	if hasMore {
		m.sendJSON(c, map[string]any{
			"type":     "catchup.overflow",
			"channel":  channel,
			"has_more": true,
		})
	}
}

// registerConnection adds a connection to the tracking map.
func (m *ConnectionManager) registerConnection(c *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connections[c.ID] = c
}

// unregisterConnection removes a connection and all its subscriptions.
func (m *ConnectionManager) unregisterConnection(c *Connection) {
	for ch := range c.subscriptions {
		m.unsubscribe(c, ch)
	}

	m.mu.Lock()
	delete(m.connections, c.ID)
	m.mu.Unlock()

	c.cancel()
	_ = c.Conn.Close(websocket.StatusNormalClosure, "")
}

// sendJSON marshals and sends a JSON message to a single connection.
func (m *ConnectionManager) sendJSON(c *Connection, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Warn("Failed to marshal WebSocket message",
			"connection_id", c.ID, "error", err)
		return
	}
	if err := m.sendRaw(c, data); err != nil {
		slog.Warn("Failed to send WebSocket message",
			"connection_id", c.ID, "error", err)
	}
}

// sendRaw sends raw bytes to a single connection with a write timeout.
func (m *ConnectionManager) sendRaw(c *Connection, data []byte) error {
	writeCtx, cancel := context.WithTimeout(c.ctx, m.writeTimeout)
	defer cancel()
	return c.Conn.Write(writeCtx, websocket.MessageText, data)
}
