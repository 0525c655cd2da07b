package api

import (
	"github.com/artificer-dev/artificer/pkg/models"
	"github.com/artificer-dev/artificer/pkg/queue"
	"github.com/artificer-dev/artificer/pkg/registry"
)

// QueryResponse is the terminal answer shape for POST /ask.
// Success carries response/reasoning; failure carries error/error_type.
type QueryResponse struct {
	Success      bool                  `json:"success"`
	Response     string                `json:"response,omitempty"`
	Reasoning    string                `json:"reasoning,omitempty"`
	Error        string                `json:"error,omitempty"`
	ErrorType    string                `json:"error_type,omitempty"`
	Iterations   int                   `json:"iterations"`
	Actions      []models.ActionRecord `json:"actions_taken"`
	Conversation []models.HistoryEntry `json:"conversation_history,omitempty"`
}

// queryResponseFromSession converts a terminal session row into the wire
// answer shape.
func queryResponseFromSession(session *models.QuerySession) *QueryResponse {
	resp := &QueryResponse{
		Success:      session.Status == models.SessionCompleted,
		Response:     session.Response,
		Reasoning:    session.Reasoning,
		Error:        session.ErrorMessage,
		ErrorType:    session.ErrorType,
		Iterations:   session.Iterations,
		Actions:      session.Actions,
		Conversation: session.Conversation,
	}
	if resp.Actions == nil {
		resp.Actions = []models.ActionRecord{}
	}
	return resp
}

// SubmitQueryResponse is returned by POST /queries.
type SubmitQueryResponse struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
	Message   string `json:"message"`
}

// ListQueriesResponse is returned by GET /queries.
type ListQueriesResponse struct {
	Queries []*models.QuerySession `json:"queries"`
	Count   int                    `json:"count"`
}

// CancelResponse is returned by POST /queries/{id}/cancel.
type CancelResponse struct {
	SessionID string `json:"session_id"`
	Cancelled bool   `json:"cancelled"`
	Message   string `json:"message"`
}

// ToolListResponse is returned by GET /tools and GET /tools/bugged/list.
type ToolListResponse struct {
	Tools []*models.Tool `json:"tools"`
	Count int            `json:"count"`
}

// ScoredToolResponse is one entry in a search result.
type ScoredToolResponse struct {
	Tool  *models.Tool `json:"tool"`
	Score float64      `json:"score"`
}

// SearchToolsResponse is returned by GET /tools/search/{query}.
type SearchToolsResponse struct {
	Query   string               `json:"query"`
	Results []ScoredToolResponse `json:"results"`
	Count   int                  `json:"count"`
}

// RegistryToolsResponse is returned by GET /registry/tools.
type RegistryToolsResponse struct {
	Tools       []*models.Tool    `json:"tools"`
	Count       int               `json:"count"`
	Unavailable map[string]string `json:"unavailable,omitempty"`
}

// RegistryContextResponse is returned by GET /registry/context.
type RegistryContextResponse struct {
	Context string `json:"context"`
}

// ReloadResponse is returned by POST /registry/reload.
type ReloadResponse struct {
	Success      bool                  `json:"success"`
	Availability registry.Availability `json:"availability"`
}

// LoginResponse is returned by POST /auth/login.
type LoginResponse struct {
	Success   bool   `json:"success"`
	Token     string `json:"token"`
	TokenType string `json:"token_type"`
	ExpiresIn int    `json:"expires_in"`
}

// VerifyResponse is returned by GET /auth/verify.
type VerifyResponse struct {
	Valid    bool   `json:"valid"`
	Username string `json:"username,omitempty"`
}

// HealthCheck is one component's entry in the health response.
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status     string                 `json:"status"`
	Version    string                 `json:"version"`
	Checks     map[string]HealthCheck `json:"checks"`
	Registry   *registry.Availability `json:"registry,omitempty"`
	WorkerPool *queue.PoolHealth      `json:"worker_pool,omitempty"`
}
