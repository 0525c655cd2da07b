package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDecisionPlainJSON(t *testing.T) {
	d, err := parseDecision(`{"state": "respond", "reasoning": "I know this", "action": {"answer": "42"}}`)
	require.NoError(t, err)
	assert.Equal(t, StateRespond, d.State)
	assert.Equal(t, "I know this", d.Reasoning)
	assert.Equal(t, "42", d.Answer())
}

func TestParseDecisionStripsCodeFences(t *testing.T) {
	for _, fence := range []string{
		"```json\n{\"state\": \"respond\", \"action\": {\"answer\": \"ok\"}}\n```",
		"```\n{\"state\": \"respond\", \"action\": {\"answer\": \"ok\"}}\n```",
	} {
		d, err := parseDecision(fence)
		require.NoError(t, err)
		assert.Equal(t, StateRespond, d.State)
	}
}

func TestParseDecisionSlicesProse(t *testing.T) {
	text := `Sure, here is my decision:
{"state": "search_tools", "reasoning": "need a tool", "action": {"query": "weather"}}
Let me know if that works.`

	d, err := parseDecision(text)
	require.NoError(t, err)
	assert.Equal(t, StateSearch, d.State)
	assert.Equal(t, "weather", d.actionString("query"))
}

func TestParseDecisionFetchToolAlias(t *testing.T) {
	d, err := parseDecision(`{"state": "fetch_tool", "action": {"query": "math"}}`)
	require.NoError(t, err)
	assert.Equal(t, StateSearch, d.State)
}

func TestParseDecisionStateCaseInsensitive(t *testing.T) {
	d, err := parseDecision(`{"state": " Use_Tool ", "action": {"tool_name": "add"}}`)
	require.NoError(t, err)
	assert.Equal(t, StateUse, d.State)
}

func TestParseDecisionParametersDrift(t *testing.T) {
	d, err := parseDecision(`{"state": "use_tool", "reasoning": "run it", "action": {"tool_name": "add", "parameters": {"a": 1}}}`)
	require.NoError(t, err)

	params := d.actionMap("params")
	require.NotNil(t, params)
	assert.EqualValues(t, 1, params["a"])
	_, hasOld := d.Action["parameters"]
	assert.False(t, hasOld)
}

func TestParseDecisionMissingParamsDefaulted(t *testing.T) {
	d, err := parseDecision(`{"state": "use_tool", "reasoning": "x", "action": {"tool_name": "add"}}`)
	require.NoError(t, err)
	assert.NotNil(t, d.actionMap("params"))
}

func TestParseDecisionRawNewlinesInCode(t *testing.T) {
	// Models frequently emit literal newlines inside the code string, which
	// is invalid JSON; the second parse pass re-escapes them.
	text := "{\"state\": \"create_tool\", \"reasoning\": \"new tool\", \"action\": {\"name\": \"adder\", \"code\": \"a = 1\nresult = a + 1\"}}"

	d, err := parseDecision(text)
	require.NoError(t, err)
	assert.Equal(t, StateCreate, d.State)
	assert.Equal(t, "a = 1\nresult = a + 1", d.actionString("code"))
}

func TestParseDecisionToolCodeDrift(t *testing.T) {
	d, err := parseDecision(`{"state": "create_tool", "action": {"name": "adder", "tool_code": "result = 1"}}`)
	require.NoError(t, err)
	assert.Equal(t, "result = 1", d.actionString("code"))
}

func TestParseDecisionResponseFieldDrift(t *testing.T) {
	d, err := parseDecision(`{"state": "respond", "response": "the reasoning", "action": {"answer": "42"}}`)
	require.NoError(t, err)
	assert.Equal(t, "the reasoning", d.Reasoning)
}

func TestParseDecisionReasoningFallsBackToAnswer(t *testing.T) {
	d, err := parseDecision(`{"state": "respond", "action": {"answer": "42"}}`)
	require.NoError(t, err)
	assert.Equal(t, "42", d.Reasoning)
}

func TestParseDecisionErrors(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"empty", ""},
		{"no JSON object", "I cannot answer that."},
		{"no state field", `{"reasoning": "hmm", "action": {}}`},
		{"unparseable", "{{{not json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseDecision(tt.text)
			require.Error(t, err)
		})
	}
}

func TestSanitizeCode(t *testing.T) {
	code := "result = 1\x00\x08\nprint(result)\t# done\r"
	assert.Equal(t, "result = 1\nprint(result)\t# done\r", sanitizeCode(code))
}

func TestDecisionAnswerDrift(t *testing.T) {
	tests := []struct {
		name   string
		action map[string]any
		want   string
	}{
		{"final_answer", map[string]any{"final_answer": "a"}, "a"},
		{"answer", map[string]any{"answer": "b"}, "b"},
		{"response", map[string]any{"response": "c"}, "c"},
		{"priority order", map[string]any{"answer": "b", "final_answer": "a"}, "a"},
		{"none", map[string]any{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &Decision{State: StateRespond, Action: tt.action}
			assert.Equal(t, tt.want, d.Answer())
		})
	}
}

func TestConfidenceScore(t *testing.T) {
	assert.InDelta(t, 0.9, confidenceScore("high"), 1e-9)
	assert.InDelta(t, 0.6, confidenceScore("medium"), 1e-9)
	assert.InDelta(t, 0.3, confidenceScore("low"), 1e-9)
	assert.InDelta(t, 0.5, confidenceScore("uncertain"), 1e-9)

	d := &Decision{Action: map[string]any{}}
	assert.Equal(t, "medium", d.Confidence())
}

func TestDecisionSummary(t *testing.T) {
	d := &Decision{State: StateUse, Action: map[string]any{"tool_name": "add_numbers"}}
	assert.Equal(t, `executed tool "add_numbers"`, d.Summary())

	d = &Decision{State: StateSearch, Action: map[string]any{"query": "math"}}
	assert.Equal(t, `searched for tools: "math"`, d.Summary())
}
