package events

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestSessionChannelEnvelopes_ContainSessionID is a contract test between the
// backend and WebSocket clients.
//
// Clients route incoming WS events by inspecting `session_id` in the JSON
// payload. ANY envelope that is broadcast on a session-specific channel
// (session:{id}) MUST include a non-empty `session_id` field — otherwise the
// client silently drops it.
//
// This test guards against a new constructor that forgets to thread the
// session ID through newEnvelope.
func TestSessionChannelEnvelopes_ContainSessionID(t *testing.T) {
	const testSessionID = "sess-contract-test"

	// Every envelope that flows through SessionChannel(sessionID).
	// If you add a new constructor that publishes to a session channel,
	// add it here — the test will fail if session_id is missing.
	tests := []struct {
		name     string
		envelope Envelope
	}{
		{"start", StartEvent(testSessionID, "question")},
		{"iteration", IterationEvent(testSessionID, 1)},
		{"thinking", ThinkingEvent(testSessionID, "calling LLM")},
		{"stream", StreamEvent(testSessionID, "chunk")},
		{"response_complete", ResponseCompleteEvent(testSessionID, "full text")},
		{"state", StateEvent(testSessionID, "respond", "reasoning")},
		{"action", ActionEvent(testSessionID, "use_tool", map[string]any{"tool_name": "add"})},
		{"result", ResultEvent(testSessionID, "use_tool", "result text")},
		{"final", FinalEvent(testSessionID, "answer", 0.9, 3)},
		{"timeout", TimeoutEvent(testSessionID, 10)},
		{"error", ErrorEvent(testSessionID, "boom")},
		{"session.status", SessionStatusEvent(testSessionID, "completed")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.envelope)
			require.NoError(t, err)

			var m map[string]any
			require.NoError(t, json.Unmarshal(data, &m))

			sessionID, ok := m["session_id"].(string)
			require.True(t, ok, "session_id must be a top-level string field")
			assert.Equal(t, testSessionID, sessionID)
			assert.NotEmpty(t, m["type"], "type must be set for client routing")
		})
	}
}

// TestTruncationEnvelope_ContainsSessionID verifies the same routing contract
// for truncated NOTIFY payloads: when an oversized event is replaced by the
// minimal truncation envelope, session_id must survive so clients can still
// route it and fetch the full event via catchup.
func TestTruncationEnvelope_ContainsSessionID(t *testing.T) {
	big := make([]byte, 8000)
	for i := range big {
		big[i] = 'a'
	}
	env := ResponseCompleteEvent("sess-truncate", string(big))
	payload, err := json.Marshal(env)
	require.NoError(t, err)

	result, err := injectDBEventIDAndTruncate(payload, 7)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(result), &m))

	assert.Equal(t, "sess-truncate", m["session_id"])
	assert.Equal(t, EventTypeResponseComplete, m["type"])
	assert.Equal(t, true, m["truncated"])
	assert.Equal(t, float64(7), m["db_event_id"])
}
