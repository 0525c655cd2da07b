package e2e

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artificer-dev/artificer/pkg/api"
	"github.com/artificer-dev/artificer/pkg/models"
)

func TestCancelRunningSession(t *testing.T) {
	llmClient := &scriptLLM{blockOn: "hangs forever"}
	h := newHarness(t, llmClient)
	token := h.adminToken()

	id := h.submit("this question hangs forever")
	h.waitForInProgress(id)

	var resp api.CancelResponse
	rec := h.doJSON(http.MethodPost, "/queries/"+id+"/cancel", token, nil, &resp)
	require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())
	assert.True(t, resp.Cancelled)

	session := h.waitForStatus(id, models.SessionCancelled)
	assert.NotNil(t, session.CompletedAt)
}

func TestCancelPendingSession(t *testing.T) {
	// Blocking the LLM on the first question keeps both workers busy so the
	// second submission stays pending long enough to cancel.
	llmClient := &scriptLLM{blockOn: "hangs forever"}
	h := newHarness(t, llmClient)
	token := h.adminToken()

	h.submit("worker one hangs forever")
	h.submit("worker two hangs forever")
	pending := h.submit("still waiting in the queue hangs forever")

	var resp api.CancelResponse
	rec := h.doJSON(http.MethodPost, "/queries/"+pending+"/cancel", token, nil, &resp)
	require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())
	assert.True(t, resp.Cancelled)

	session := h.waitForStatus(pending, models.SessionCancelled)
	assert.Equal(t, models.SessionCancelled, session.Status)

	// Cancelling again is a conflict: the session is already terminal.
	rec = h.doJSON(http.MethodPost, "/queries/"+pending+"/cancel", token, nil, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCancelRequiresAdmin(t *testing.T) {
	llmClient := &scriptLLM{blockOn: "hangs forever"}
	h := newHarness(t, llmClient)

	id := h.submit("another one that hangs forever")
	rec := h.doJSON(http.MethodPost, "/queries/"+id+"/cancel", "", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
