package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParamSpecUnmarshalForms(t *testing.T) {
	var specs []ParamSpec
	require.NoError(t, json.Unmarshal([]byte(`["a", {"name": "b", "type": "number"}]`), &specs))
	require.Len(t, specs, 2)
	assert.Equal(t, ParamSpec{Name: "a"}, specs[0])
	assert.Equal(t, ParamSpec{Name: "b", Type: "number"}, specs[1])

	var bad ParamSpec
	assert.Error(t, json.Unmarshal([]byte(`42`), &bad))
}

func TestToolExecutable(t *testing.T) {
	assert.True(t, (&Tool{Active: true}).Executable())
	assert.False(t, (&Tool{Active: true, Bugged: true}).Executable())
	assert.False(t, (&Tool{}).Executable())
}

func TestToolMissingParams(t *testing.T) {
	tool := &Tool{RequiredParams: []ParamSpec{{Name: "a"}, {Name: "b"}}}

	assert.Empty(t, tool.MissingParams(map[string]any{"a": 1, "b": 2}))
	assert.Equal(t, []string{"b"}, tool.MissingParams(map[string]any{"a": 1}))
	assert.Equal(t, []string{"a", "b"}, tool.MissingParams(map[string]any{}))
}

func TestToolLastError(t *testing.T) {
	tool := &Tool{}
	assert.Empty(t, tool.LastError())

	tool.FailureLog = []BugReport{{Error: "first"}, {Error: "second"}}
	assert.Equal(t, "second", tool.LastError())
}

func TestSessionStatusTerminal(t *testing.T) {
	terminal := []SessionStatus{SessionCompleted, SessionFailed, SessionTimedOut, SessionCancelled}
	for _, s := range terminal {
		assert.True(t, s.Terminal(), string(s))
	}
	assert.False(t, SessionPending.Terminal())
	assert.False(t, SessionInProgress.Terminal())
}
