package models

import "time"

// ExecutionRecord is the result envelope produced by every tool execution,
// regardless of path (sandbox, direct fallback, native, MCP).
type ExecutionRecord struct {
	Success           bool      `json:"success"`
	Tool              string    `json:"tool,omitempty"`
	Result            any       `json:"result,omitempty"`
	Error             string    `json:"error,omitempty"`
	Traceback         string    `json:"traceback,omitempty"`
	ExecutedInSandbox bool      `json:"executed_in_sandbox"`
	ExitCode          *int      `json:"exit_code,omitempty"`
	Stdout            string    `json:"stdout,omitempty"`
	DockerFallback    bool      `json:"docker_fallback,omitempty"`
	IsBugged          bool      `json:"is_bugged,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
}
