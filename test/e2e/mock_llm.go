package e2e

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/artificer-dev/artificer/pkg/llm"
)

// scriptLLM replays canned decision JSON keyed by a substring of the prompt,
// so concurrent sessions each follow their own script. A prompt matching
// blockOn hangs until the context is cancelled, which exercises the
// cancellation and shutdown paths.
type scriptLLM struct {
	mu      sync.Mutex
	scripts []*script
	blockOn string
}

type script struct {
	match     string
	responses []string
	next      int
}

// on registers a script for prompts containing match.
func (s *scriptLLM) on(match string, responses ...string) *scriptLLM {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts = append(s.scripts, &script{match: match, responses: responses})
	return s
}

func (s *scriptLLM) Generate(ctx context.Context, prompt string) (string, error) {
	s.mu.Lock()
	if s.blockOn != "" && strings.Contains(prompt, s.blockOn) {
		s.mu.Unlock()
		<-ctx.Done()
		return "", ctx.Err()
	}
	defer s.mu.Unlock()

	for _, sc := range s.scripts {
		if !strings.Contains(prompt, sc.match) {
			continue
		}
		idx := sc.next
		if idx >= len(sc.responses) {
			idx = len(sc.responses) - 1
		}
		sc.next++
		return sc.responses[idx], nil
	}
	return "", fmt.Errorf("no script matches prompt")
}

func (s *scriptLLM) GenerateStream(ctx context.Context, prompt string) (<-chan llm.StreamChunk, <-chan error) {
	chunks := make(chan llm.StreamChunk, 1)
	errs := make(chan error, 1)
	text, err := s.Generate(ctx, prompt)
	if err == nil {
		chunks <- llm.StreamChunk{Content: text}
	}
	close(chunks)
	errs <- err
	return chunks, errs
}

// Decision JSON builders for scripts.

func respondWith(answer string) string {
	return fmt.Sprintf(`{"state": "respond", "reasoning": "answering", "action": {"answer": %q, "confidence": "high"}}`, answer)
}

func searchFor(query string) string {
	return fmt.Sprintf(`{"state": "search_tools", "reasoning": "looking for tools", "action": {"query": %q}}`, query)
}

func useTool(name string, params string) string {
	return fmt.Sprintf(`{"state": "use_tool", "reasoning": "running the tool", "action": {"tool_name": %q, "params": %s}}`, name, params)
}

func createToolDecision(name, description, code string, required ...string) string {
	quoted := make([]string, len(required))
	for i, p := range required {
		quoted[i] = fmt.Sprintf("%q", p)
	}
	return fmt.Sprintf(`{"state": "create_tool", "reasoning": "no existing tool fits", "action": {"name": %q, "description": %q, "category": "math", "required_params": [%s], "code": %q}}`,
		name, description, strings.Join(quoted, ", "), code)
}
