// Package events provides real-time event delivery via WebSocket and
// PostgreSQL NOTIFY/LISTEN for cross-pod distribution.
//
// Every event on the wire is an Envelope: {type, session_id, timestamp,
// data}. Persisted events additionally carry db_event_id in the NOTIFY
// payload so reconnecting clients can catch up from their last seen row.
//
// A query session emits, in order:
//
//	start                {question}
//	iteration            {number, status: "starting"}   (per iteration)
//	thinking             {message}                       (transient)
//	stream               {chunk}                         (transient, per LLM token)
//	response_complete    {text}
//	state                {state, reasoning}
//	action               {state, action}
//	result               {state, result}
//	final | timeout | error                              (terminal)
//
// thinking and stream are notify-only: they are high-volume and their final
// content is always delivered by the subsequent response_complete, so losing
// them on reconnect costs nothing but the live typing effect. Everything
// else is persisted for catchup and deleted shortly after the session
// reaches a terminal state.
//
// session.status events track the queue lifecycle (pending, in_progress,
// completed, ...) and are additionally broadcast on the global "sessions"
// channel for list views.
package events

// Persistent event types (stored in DB + NOTIFY).
const (
	EventTypeStart            = "start"
	EventTypeIteration        = "iteration"
	EventTypeResponseComplete = "response_complete"
	EventTypeState            = "state"
	EventTypeAction           = "action"
	EventTypeResult           = "result"
	EventTypeFinal            = "final"
	EventTypeTimeout          = "timeout"
	EventTypeError            = "error"

	// Session lifecycle
	EventTypeSessionStatus = "session.status"
)

// Transient event types (NOTIFY only, no DB persistence).
const (
	// LLM streaming chunks and thinking notices — high-frequency, ephemeral.
	EventTypeStream   = "stream"
	EventTypeThinking = "thinking"
)

// GlobalSessionsChannel is the channel for session-level status events.
// Session list views subscribe to this for real-time updates.
const GlobalSessionsChannel = "sessions"

// SessionChannel returns the channel name for a specific session's events.
// Format: "session:{session_id}"
func SessionChannel(sessionID string) string {
	return "session:" + sessionID
}

// ClientMessage is the JSON structure for client → server WebSocket messages.
type ClientMessage struct {
	Action      string `json:"action"`                  // "subscribe", "unsubscribe", "catchup", "ping"
	Channel     string `json:"channel,omitempty"`       // Channel name (e.g., "session:abc-123")
	LastEventID *int64 `json:"last_event_id,omitempty"` // For catchup
}
