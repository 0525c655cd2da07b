package e2e

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/artificer-dev/artificer/pkg/models"
)

// TestConcurrentSessionsAllComplete floods the queue beyond the worker count
// and checks every session completes exactly once with its own answer.
func TestConcurrentSessionsAllComplete(t *testing.T) {
	const sessions = 8

	llmClient := &scriptLLM{}
	for i := 0; i < sessions; i++ {
		llmClient.on(fmt.Sprintf("job number %d of the batch", i),
			respondWith(fmt.Sprintf("answer-%d", i)))
	}
	h := newHarness(t, llmClient)

	ids := make([]string, sessions)
	for i := 0; i < sessions; i++ {
		ids[i] = h.submit(fmt.Sprintf("Please run job number %d of the batch", i))
	}

	for i, id := range ids {
		session := h.waitForStatus(id, models.SessionCompleted)
		assert.Equal(t, fmt.Sprintf("answer-%d", i), session.Response)
		assert.Equal(t, "e2e-pod", session.PodID)
	}
}
