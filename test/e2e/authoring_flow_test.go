package e2e

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artificer-dev/artificer/pkg/api"
	"github.com/artificer-dev/artificer/pkg/models"
)

// TestSelfExtensionFlow drives the full authoring loop: no tool matches, the
// agent creates one, runs it in the same session, and answers from its result.
// The authored tool outlives the session.
func TestSelfExtensionFlow(t *testing.T) {
	llmClient := (&scriptLLM{}).on("sum of 2 and 3",
		searchFor("sum numbers"),
		createToolDecision("sum_numbers", "Sums numeric parameters",
			"result = params['a'] + params['b']", "a", "b"),
		useTool("sum_numbers", `{"a": 2, "b": 3}`),
		respondWith("The sum is 5"),
	)
	h := newHarness(t, llmClient)

	id := h.submit("What is the sum of 2 and 3?")
	session := h.waitForStatus(id, models.SessionCompleted)

	assert.Equal(t, "The sum is 5", session.Response)
	require.Len(t, session.Actions, 4)
	states := make([]string, len(session.Actions))
	for i, action := range session.Actions {
		states[i] = action.State
	}
	assert.Equal(t, []string{"search_tools", "create_tool", "use_tool", "respond"}, states)

	// The authored tool is persisted and served by the store API.
	var list api.ToolListResponse
	rec := h.doJSON(http.MethodGet, "/tools", "", nil, &list)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, list.Count)
	tool := list.Tools[0]
	assert.Equal(t, "sum_numbers", tool.Name)
	assert.Equal(t, 1, tool.ExecutionCount)
	assert.False(t, tool.Bugged)

	// And the registry serves it for the next session.
	var regTools api.RegistryToolsResponse
	rec = h.doJSON(http.MethodGet, "/registry/tools", "", nil, &regTools)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, regTools.Count)

	// A second session reuses the tool instead of recreating it.
	llmClient.on("sum of 10 and 20",
		useTool("sum_numbers", `{"a": 10, "b": 20}`),
		respondWith("The sum is 30"),
	)
	id2 := h.submit("What is the sum of 10 and 20?")
	session2 := h.waitForStatus(id2, models.SessionCompleted)
	assert.Equal(t, "The sum is 30", session2.Response)
	require.Len(t, session2.Actions, 2)
	assert.Equal(t, "use_tool", session2.Actions[0].State)
}

// TestAuthoredToolSearchRanking checks that an authored tool is findable
// through hybrid search right after creation.
func TestAuthoredToolSearchRanking(t *testing.T) {
	llmClient := (&scriptLLM{}).on("weather",
		searchFor("weather forecast"),
		createToolDecision("get_weather", "Fetches the weather forecast for a city",
			"result = params['city']", "city"),
		respondWith("created it"),
	)
	h := newHarness(t, llmClient)

	id := h.submit("Can you build a weather tool?")
	h.waitForStatus(id, models.SessionCompleted)

	var resp api.SearchToolsResponse
	rec := h.doJSON(http.MethodGet, "/tools/search/weather%20forecast", "", nil, &resp)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, "get_weather", resp.Results[0].Tool.Name)
	assert.Greater(t, resp.Results[0].Score, 0.0)
}
