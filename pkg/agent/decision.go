package agent

import (
	"fmt"
	"strings"
)

// Loop states the LLM can select. fetch_tool is accepted as an alias of
// search_tools at parse time.
const (
	StateRespond   = "respond"
	StateSearch    = "search_tools"
	StateUse       = "use_tool"
	StateCreate    = "create_tool"
	StateAnalyze   = "analyze_tools_for_composite"
	StateExit      = "exit_response"
	stateFetchTool = "fetch_tool"
)

// Decision is one parsed LLM turn: the selected state, the model's stated
// reasoning, and the state-specific action payload.
type Decision struct {
	State     string         `json:"state"`
	Reasoning string         `json:"reasoning"`
	Action    map[string]any `json:"action"`
}

// actionString reads a string field from the action payload.
func (d *Decision) actionString(key string) string {
	if d.Action == nil {
		return ""
	}
	s, _ := d.Action[key].(string)
	return s
}

// actionStrings reads a string-list field from the action payload, tolerating
// the JSON []any decoding.
func (d *Decision) actionStrings(key string) []string {
	if d.Action == nil {
		return nil
	}
	raw, ok := d.Action[key].([]any)
	if !ok {
		if direct, ok := d.Action[key].([]string); ok {
			return direct
		}
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// actionMap reads an object field from the action payload.
func (d *Decision) actionMap(key string) map[string]any {
	if d.Action == nil {
		return nil
	}
	m, _ := d.Action[key].(map[string]any)
	return m
}

// Answer extracts the final answer from a respond/exit_response action,
// tolerating the common field drift (final_answer, answer, response).
func (d *Decision) Answer() string {
	for _, key := range []string{"final_answer", "answer", "response"} {
		if s := d.actionString(key); s != "" {
			return s
		}
	}
	return ""
}

// Confidence returns the stated confidence label, defaulting to "medium".
func (d *Decision) Confidence() string {
	if c := strings.ToLower(d.actionString("confidence")); c != "" {
		return c
	}
	return "medium"
}

// confidenceScore maps the label alphabet to the numeric confidence carried
// on the final event.
func confidenceScore(label string) float64 {
	switch strings.ToLower(label) {
	case "high":
		return 0.9
	case "medium":
		return 0.6
	case "low":
		return 0.3
	}
	return 0.5
}

// Summary renders a one-line account of the decision for the actions_taken
// record.
func (d *Decision) Summary() string {
	switch d.State {
	case StateSearch:
		return fmt.Sprintf("searched for tools: %q", d.actionString("query"))
	case StateAnalyze:
		return fmt.Sprintf("analyzed tools: %s", strings.Join(d.actionStrings("tool_names"), ", "))
	case StateUse:
		return fmt.Sprintf("executed tool %q", d.actionString("tool_name"))
	case StateCreate:
		return fmt.Sprintf("created tool %q", d.actionString("name"))
	case StateRespond, StateExit:
		return "provided final answer"
	}
	return d.State
}
