package api

import (
	"github.com/artificer-dev/artificer/pkg/models"
)

// AskRequest is the body for POST /ask and POST /queries. Question and Query
// are synonyms; Question wins when both are set.
type AskRequest struct {
	Question      string                `json:"question"`
	Query         string                `json:"query,omitempty"`
	MaxIterations int                   `json:"max_iterations,omitempty"`
	MaxTools      int                   `json:"max_tools,omitempty"`
	UseSandbox    *bool                 `json:"use_sandbox,omitempty"`
	History       []models.HistoryEntry `json:"history,omitempty"`
}

// question resolves the question/query alias.
func (r *AskRequest) question() string {
	if r.Question != "" {
		return r.Question
	}
	return r.Query
}

// ExecuteToolRequest is the body for POST /tools/{id}/execute.
type ExecuteToolRequest struct {
	Params     map[string]any `json:"params"`
	UseSandbox *bool          `json:"use_sandbox,omitempty"`
}

// LoginRequest is the body for POST /auth/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}
