package events

import (
	"time"
)

// Envelope is the wire shape shared by every published event.
type Envelope struct {
	Type      string         `json:"type"`
	SessionID string         `json:"session_id"`
	Timestamp string         `json:"timestamp"` // RFC3339Nano
	Data      map[string]any `json:"data,omitempty"`
}

func newEnvelope(eventType, sessionID string, data map[string]any) Envelope {
	return Envelope{
		Type:      eventType,
		SessionID: sessionID,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Data:      data,
	}
}

// StartEvent opens a session's stream.
func StartEvent(sessionID, question string) Envelope {
	return newEnvelope(EventTypeStart, sessionID, map[string]any{
		"question": question,
	})
}

// IterationEvent marks the start of one reason/act iteration.
func IterationEvent(sessionID string, number int) Envelope {
	return newEnvelope(EventTypeIteration, sessionID, map[string]any{
		"number": number,
		"status": "starting",
	})
}

// ThinkingEvent signals that an LLM call is in flight. Transient.
func ThinkingEvent(sessionID, message string) Envelope {
	return newEnvelope(EventTypeThinking, sessionID, map[string]any{
		"message": message,
	})
}

// StreamEvent carries one incremental LLM output chunk. Transient.
func StreamEvent(sessionID, chunk string) Envelope {
	return newEnvelope(EventTypeStream, sessionID, map[string]any{
		"chunk": chunk,
	})
}

// ResponseCompleteEvent carries the full text of a finished LLM call.
func ResponseCompleteEvent(sessionID, text string) Envelope {
	return newEnvelope(EventTypeResponseComplete, sessionID, map[string]any{
		"text": text,
	})
}

// StateEvent reports the state the agent chose for this iteration.
func StateEvent(sessionID, state, reasoning string) Envelope {
	return newEnvelope(EventTypeState, sessionID, map[string]any{
		"state":     state,
		"reasoning": reasoning,
	})
}

// ActionEvent reports the action about to be executed.
func ActionEvent(sessionID, state string, action map[string]any) Envelope {
	return newEnvelope(EventTypeAction, sessionID, map[string]any{
		"state":  state,
		"action": action,
	})
}

// ResultEvent reports the outcome of an executed action.
func ResultEvent(sessionID, state string, result any) Envelope {
	return newEnvelope(EventTypeResult, sessionID, map[string]any{
		"state":  state,
		"result": result,
	})
}

// FinalEvent carries the session's answer. Terminal.
func FinalEvent(sessionID, answer string, confidence float64, iterations int) Envelope {
	return newEnvelope(EventTypeFinal, sessionID, map[string]any{
		"answer":     answer,
		"confidence": confidence,
		"iterations": iterations,
	})
}

// TimeoutEvent reports that the iteration budget ran out. Terminal.
func TimeoutEvent(sessionID string, iterations int) Envelope {
	return newEnvelope(EventTypeTimeout, sessionID, map[string]any{
		"message":    "Maximum iterations reached",
		"iterations": iterations,
	})
}

// ErrorEvent reports a session-level failure. Terminal.
func ErrorEvent(sessionID, message string) Envelope {
	return newEnvelope(EventTypeError, sessionID, map[string]any{
		"message": message,
	})
}

// SessionStatusEvent reports a queue lifecycle transition.
func SessionStatusEvent(sessionID, status string) Envelope {
	return newEnvelope(EventTypeSessionStatus, sessionID, map[string]any{
		"status": status,
	})
}
