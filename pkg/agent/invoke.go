package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/artificer-dev/artificer/pkg/models"
	"github.com/artificer-dev/artificer/pkg/registry"
)

// invokeAttempts is how many times a failing tool is tried within one
// use_tool action before it is quarantined.
const invokeAttempts = 2

// invokeTool handles the use_tool state. Registry refusals (unknown tool,
// quarantined tool, missing params) are surfaced immediately; genuine
// execution failures get one retry after a backoff, and a tool that fails
// both attempts is marked bugged with the LLM steered toward authoring a
// replacement under a different name.
func (a *Agent) invokeTool(ctx context.Context, r *run, d *Decision) (any, string) {
	name := d.actionString("tool_name")
	if name == "" {
		obs := "The use_tool action requires a 'tool_name'. Name the exact tool to execute, or search for one first."
		return map[string]any{"success": false, "error": obs}, obs
	}
	params := d.actionMap("params")
	if params == nil {
		params = map[string]any{}
	}

	useSandbox := r.useSandbox
	opts := registry.ExecuteOptions{
		Window:     r.sessionID,
		UseSandbox: &useSandbox,
	}

	var record *models.ExecutionRecord
	var refusal error
	for attempt := 1; attempt <= invokeAttempts; attempt++ {
		record, refusal = a.tools.Execute(ctx, name, params, opts)
		if refusal != nil || record.Success {
			break
		}
		slog.Warn("tool execution failed", "session_id", r.sessionID, "tool", name,
			"attempt", attempt, "error", record.Error)
		if attempt < invokeAttempts {
			if err := sleepCtx(ctx, a.opts.RetryBackoff); err != nil {
				break
			}
		}
	}

	if refusal != nil {
		obs := refusalObservation(name, refusal)
		return map[string]any{"success": false, "error": refusal.Error()}, obs
	}

	r.execResults = append(r.execResults, execResult{
		tool:    name,
		success: record.Success,
		result:  renderJSON(record.Result),
		errMsg:  record.Error,
	})

	if record.Success {
		obs := fmt.Sprintf("Tool '%s' executed successfully.\nExecution Method: %s\nResult: %s\n\nNow use this result to answer the user's query. Do NOT create the tool again.",
			name, executionMethod(record), renderJSON(record.Result))
		return recordToMap(record), obs
	}

	// Failed on every attempt: quarantine it so this and future sessions
	// stop calling it.
	if err := a.tools.MarkBugged(ctx, name); err != nil {
		slog.Warn("marking tool bugged failed", "tool", name, "error", err)
	}
	obs := fmt.Sprintf("Tool '%s' execution FAILED.\nError: %s\n\nThe tool failed repeatedly and has been marked as bugged. DO NOT call it again and DO NOT create the same tool again. Instead:\n- If you can fix the implementation, create a CORRECTED version under a DIFFERENT name\n- If the task cannot proceed without it, explain the error to the user",
		name, record.Error)
	return recordToMap(record), obs
}

// refusalObservation turns a registry refusal into guidance for the LLM.
func refusalObservation(name string, err error) string {
	switch {
	case errors.Is(err, registry.ErrToolNotFound):
		return fmt.Sprintf("Tool '%s' does not exist. Use 'search_tools' to find the correct name, or create it with 'create_tool'.", name)
	case errors.Is(err, registry.ErrToolBugged):
		return fmt.Sprintf("Tool '%s' is marked as bugged and cannot be executed. Create a corrected version under a DIFFERENT name, or use another tool.", name)
	case errors.Is(err, registry.ErrToolUnavailable):
		return fmt.Sprintf("Tool '%s' is not available right now: %v. Use a different tool or answer without it.", name, err)
	case errors.Is(err, registry.ErrInvalidParams):
		return fmt.Sprintf("Tool '%s' rejected the call: %v. Provide every required parameter in 'params' and try again.", name, err)
	}
	return fmt.Sprintf("Tool '%s' could not be executed: %v.", name, err)
}

// executionMethod names the path the execution actually took.
func executionMethod(record *models.ExecutionRecord) string {
	switch {
	case record.ExecutedInSandbox:
		return "container sandbox"
	case record.DockerFallback:
		return "direct (sandbox unavailable)"
	}
	return "direct"
}

// recordToMap renders the execution record through its JSON form so the
// result event carries the same envelope the API does.
func recordToMap(record *models.ExecutionRecord) map[string]any {
	data, err := json.Marshal(record)
	if err != nil {
		return map[string]any{"success": record.Success, "error": record.Error}
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return map[string]any{"success": record.Success, "error": record.Error}
	}
	return m
}
