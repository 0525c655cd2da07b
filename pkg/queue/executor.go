package queue

import (
	"context"
	"errors"

	"github.com/artificer-dev/artificer/pkg/agent"
	"github.com/artificer-dev/artificer/pkg/models"
)

// AgentExecutor bridges the worker pool to the agent loop.
type AgentExecutor struct {
	agent *agent.Agent
}

// NewAgentExecutor wraps an agent for queue execution.
func NewAgentExecutor(a *agent.Agent) *AgentExecutor {
	return &AgentExecutor{agent: a}
}

// Execute runs the agent loop for one session and classifies the outcome.
// Context-level aborts become timed_out/cancelled; every in-loop failure
// arrives inside the QueryResult and maps to failed.
func (e *AgentExecutor) Execute(ctx context.Context, session *models.QuerySession) *ExecutionResult {
	result, err := e.agent.Run(ctx, agent.Request{
		SessionID:     session.ID,
		Question:      session.Question,
		History:       session.History,
		MaxIterations: session.MaxIterations,
		MaxTools:      session.MaxTools,
		UseSandbox:    session.UseSandbox,
	})
	if err != nil {
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			return &ExecutionResult{Status: models.SessionTimedOut, Err: err}
		case errors.Is(err, context.Canceled):
			return &ExecutionResult{Status: models.SessionCancelled, Err: err}
		default:
			return &ExecutionResult{Status: models.SessionFailed, Err: err}
		}
	}

	status := models.SessionCompleted
	if !result.Success {
		status = models.SessionFailed
	}
	return &ExecutionResult{Status: status, Result: result}
}
