package models

import "time"

// SessionStatus is the lifecycle state of a query session.
type SessionStatus string

// Session lifecycle states. Pending sessions are claimable by workers;
// the last four are terminal.
const (
	SessionPending    SessionStatus = "pending"
	SessionInProgress SessionStatus = "in_progress"
	SessionCompleted  SessionStatus = "completed"
	SessionFailed     SessionStatus = "failed"
	SessionTimedOut   SessionStatus = "timed_out"
	SessionCancelled  SessionStatus = "cancelled"
)

// Terminal reports whether the status is a terminal state.
func (s SessionStatus) Terminal() bool {
	switch s {
	case SessionCompleted, SessionFailed, SessionTimedOut, SessionCancelled:
		return true
	}
	return false
}

// Failure error types surfaced to clients on unsuccessful queries.
const (
	ErrorTypeAllKeysOverloaded = "all_keys_overloaded"
	ErrorTypeAPIError          = "api_error"
	ErrorTypeNoResponse        = "no_response"
	ErrorTypeBoundedIterations = "bounded_iterations"
)

// History roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// HistoryEntry is one turn of the agent's internal conversation record.
type HistoryEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ActionRecord summarises one loop action for the actions_taken list.
type ActionRecord struct {
	Iteration int    `json:"iteration"`
	State     string `json:"state"`
	Summary   string `json:"summary,omitempty"`
}

// QuerySession is one queued query and, once processed, its outcome.
type QuerySession struct {
	ID            string         `json:"id"`
	Question      string         `json:"question"`
	MaxIterations int            `json:"max_iterations"`
	MaxTools      int            `json:"max_tools"`
	UseSandbox    bool           `json:"use_sandbox"`
	History       []HistoryEntry `json:"history,omitempty"`

	Status SessionStatus `json:"status"`
	PodID  string        `json:"pod_id,omitempty"`

	Response     string         `json:"response,omitempty"`
	Reasoning    string         `json:"reasoning,omitempty"`
	ErrorMessage string         `json:"error,omitempty"`
	ErrorType    string         `json:"error_type,omitempty"`
	Iterations   int            `json:"iterations"`
	Actions      []ActionRecord `json:"actions_taken,omitempty"`
	Conversation []HistoryEntry `json:"conversation_history,omitempty"`

	RecoveryAttempts  int        `json:"recovery_attempts,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	StartedAt         *time.Time `json:"started_at,omitempty"`
	LastInteractionAt *time.Time `json:"last_interaction_at,omitempty"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
}

// QueryResult is the terminal outcome of a query session, written back by the
// agent loop and rendered on the query endpoint.
type QueryResult struct {
	Success      bool           `json:"success"`
	Response     string         `json:"response,omitempty"`
	Reasoning    string         `json:"reasoning,omitempty"`
	Error        string         `json:"error,omitempty"`
	ErrorType    string         `json:"error_type,omitempty"`
	Iterations   int            `json:"iterations"`
	Actions      []ActionRecord `json:"actions_taken"`
	Conversation []HistoryEntry `json:"conversation_history"`
}
