// Package models contains the domain records shared across the runtime:
// tools, query sessions, and execution envelopes.
package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// BugThreshold is the number of failures within one invocation window that
// flips a tool to bugged.
const BugThreshold = 2

// ParamSpec describes a single tool parameter. Type is informational
// (LLM-facing) and may be empty.
type ParamSpec struct {
	Name string `json:"name" yaml:"name"`
	Type string `json:"type,omitempty" yaml:"type,omitempty"`
}

// UnmarshalJSON accepts both the object form {"name":"a","type":"number"} and
// the bare-string form "a" that LLMs frequently emit.
func (p *ParamSpec) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		p.Name = s
		p.Type = ""
		return nil
	}
	type alias ParamSpec
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return fmt.Errorf("param spec must be a string or an object: %w", err)
	}
	*p = ParamSpec(a)
	return nil
}

// BugReport is one entry in a tool's failure log.
type BugReport struct {
	Timestamp time.Time      `json:"timestamp"`
	Error     string         `json:"error"`
	Params    map[string]any `json:"params,omitempty"`
	Traceback string         `json:"traceback,omitempty"`
	// Window identifies the invocation window (query session or request) the
	// failure occurred in. Two failures sharing a window trigger quarantine.
	Window string `json:"window,omitempty"`
}

// Tool is a registered tool record. Curated tools come from the manifest
// directory, authored tools from the persistent store; both share this shape.
type Tool struct {
	ID          string   `json:"id,omitempty"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Category    string   `json:"category,omitempty"`
	Tags        []string `json:"tags,omitempty"`

	RequiredParams []ParamSpec     `json:"required_params,omitempty"`
	OptionalParams map[string]any  `json:"optional_params,omitempty"`
	ReturnSchema   json.RawMessage `json:"return_schema,omitempty"`
	Examples       json.RawMessage `json:"examples,omitempty"`

	Code         string   `json:"code,omitempty"`
	Entrypoint   string   `json:"entrypoint,omitempty"`
	Requirements []string `json:"requirements,omitempty"`

	Active         bool        `json:"is_active"`
	Bugged         bool        `json:"is_bugged"`
	BugCount       int         `json:"bug_count"`
	FirstFailureAt *time.Time  `json:"first_failure_at,omitempty"`
	LastFailureAt  *time.Time  `json:"last_failure_at,omitempty"`
	FailureLog     []BugReport `json:"failure_log,omitempty"`

	ExecutionCount int        `json:"execution_count"`
	LastExecutedAt *time.Time `json:"last_executed,omitempty"`

	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Executable reports whether the tool may be invoked: active and not bugged.
func (t *Tool) Executable() bool {
	return t.Active && !t.Bugged
}

// RequiredParamNames returns the ordered required parameter names.
func (t *Tool) RequiredParamNames() []string {
	names := make([]string, len(t.RequiredParams))
	for i, p := range t.RequiredParams {
		names[i] = p.Name
	}
	return names
}

// MissingParams returns required parameter names absent from params.
func (t *Tool) MissingParams(params map[string]any) []string {
	var missing []string
	for _, p := range t.RequiredParams {
		if _, ok := params[p.Name]; !ok {
			missing = append(missing, p.Name)
		}
	}
	return missing
}

// LastError returns the error text of the most recent failure-log entry,
// or empty when the log is empty.
func (t *Tool) LastError() string {
	if len(t.FailureLog) == 0 {
		return ""
	}
	return t.FailureLog[len(t.FailureLog)-1].Error
}
