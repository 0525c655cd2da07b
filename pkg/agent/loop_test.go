package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artificer-dev/artificer/pkg/events"
	"github.com/artificer-dev/artificer/pkg/llm"
	"github.com/artificer-dev/artificer/pkg/models"
	"github.com/artificer-dev/artificer/pkg/registry"
	"github.com/artificer-dev/artificer/pkg/search"
)

// scriptedLLM replays canned responses in order. The last response repeats
// once the script runs out.
type scriptedLLM struct {
	mu        sync.Mutex
	responses []string
	err       error // returned on every call when set
	calls     int
	prompts   []string
}

func (s *scriptedLLM) Generate(_ context.Context, prompt string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = append(s.prompts, prompt)
	if s.err != nil {
		return "", s.err
	}
	idx := s.calls
	if idx >= len(s.responses) {
		idx = len(s.responses) - 1
	}
	s.calls++
	return s.responses[idx], nil
}

func (s *scriptedLLM) GenerateStream(ctx context.Context, prompt string) (<-chan llm.StreamChunk, <-chan error) {
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

// fakeToolbox is an in-memory Toolbox.
type fakeToolbox struct {
	mu      sync.Mutex
	entries map[string]*registry.Entry
	exec    func(name string, params map[string]any, opts registry.ExecuteOptions) (*models.ExecutionRecord, error)

	execCalls []string
	bugged    []string
}

func newFakeToolbox(tools ...*models.Tool) *fakeToolbox {
	entries := make(map[string]*registry.Entry, len(tools))
	for _, tool := range tools {
		entries[tool.Name] = &registry.Entry{Tool: tool, Source: registry.SourceStore}
	}
	return &fakeToolbox{entries: entries}
}

func (f *fakeToolbox) Get(name string) (*registry.Entry, bool) {
	e, ok := f.entries[name]
	return e, ok
}

func (f *fakeToolbox) List() []*registry.Entry {
	out := make([]*registry.Entry, 0, len(f.entries))
	for _, e := range f.entries {
		out = append(out, e)
	}
	return out
}

func (f *fakeToolbox) Search(query string, opts search.Options) []search.Result {
	var results []search.Result
	for _, e := range f.entries {
		results = append(results, search.Result{Tool: e.Tool, Score: 0.8})
		if opts.TopK > 0 && len(results) >= opts.TopK {
			break
		}
	}
	return results
}

func (f *fakeToolbox) Execute(_ context.Context, name string, params map[string]any, opts registry.ExecuteOptions) (*models.ExecutionRecord, error) {
	f.mu.Lock()
	f.execCalls = append(f.execCalls, name)
	f.mu.Unlock()
	if f.exec != nil {
		return f.exec(name, params, opts)
	}
	if _, ok := f.entries[name]; !ok {
		return nil, fmt.Errorf("tool %q: %w", name, registry.ErrToolNotFound)
	}
	return &models.ExecutionRecord{Success: true, Tool: name, Result: "ok"}, nil
}

func (f *fakeToolbox) MarkBugged(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bugged = append(f.bugged, name)
	return nil
}

// fakeCreator records authored tools.
type fakeCreator struct {
	mu      sync.Mutex
	created []*models.Tool
	err     error
}

func (f *fakeCreator) CreateTool(_ context.Context, tool *models.Tool) (*models.Tool, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	tool.ID = fmt.Sprintf("tool-%d", len(f.created)+1)
	f.created = append(f.created, tool)
	return tool, nil
}

// recordingSink captures published envelopes.
type recordingSink struct {
	mu        sync.Mutex
	persisted []events.Envelope
	transient []events.Envelope
}

func (r *recordingSink) Publish(_ context.Context, env events.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.persisted = append(r.persisted, env)
	return nil
}

func (r *recordingSink) PublishTransient(_ context.Context, env events.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transient = append(r.transient, env)
	return nil
}

func (r *recordingSink) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.persisted))
	for i, env := range r.persisted {
		out[i] = env.Type
	}
	return out
}

func testOptions() Options {
	return Options{
		MaxIterations: 10,
		MaxTools:      5,
		RetryBackoff:  time.Millisecond,
		ReloadGrace:   time.Millisecond,
	}
}

func decisionJSON(t *testing.T, state, reasoning string, action map[string]any) string {
	t.Helper()
	data, err := json.Marshal(map[string]any{
		"state":     state,
		"reasoning": reasoning,
		"action":    action,
	})
	require.NoError(t, err)
	return string(data)
}

func TestRunDirectAnswer(t *testing.T) {
	llmClient := &scriptedLLM{responses: []string{
		decisionJSON(t, "respond", "simple arithmetic", map[string]any{"answer": "4", "confidence": "high"}),
	}}
	sink := &recordingSink{}
	a := NewAgent(llmClient, newFakeToolbox(), nil, sink, testOptions())

	result, err := a.Run(context.Background(), Request{SessionID: "s1", Question: "What is 2+2?"})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, "4", result.Response)
	assert.Equal(t, "simple arithmetic", result.Reasoning)
	assert.Equal(t, 1, result.Iterations)
	require.Len(t, result.Actions, 1)
	assert.Equal(t, "respond", result.Actions[0].State)

	types := sink.types()
	assert.Equal(t, events.EventTypeStart, types[0])
	assert.Equal(t, events.EventTypeFinal, types[len(types)-1])
}

func TestRunSearchThenUseTool(t *testing.T) {
	adder := &models.Tool{Name: "add_numbers", Description: "adds numbers", Active: true}
	tools := newFakeToolbox(adder)

	var gotOpts registry.ExecuteOptions
	var gotParams map[string]any
	tools.exec = func(name string, params map[string]any, opts registry.ExecuteOptions) (*models.ExecutionRecord, error) {
		gotOpts = opts
		gotParams = params
		return &models.ExecutionRecord{Success: true, Tool: name, Result: float64(4), ExecutedInSandbox: true}, nil
	}

	llmClient := &scriptedLLM{responses: []string{
		decisionJSON(t, "search_tools", "look for math tools", map[string]any{"query": "add numbers"}),
		decisionJSON(t, "use_tool", "found a match", map[string]any{"tool_name": "add_numbers", "params": map[string]any{"a": 2, "b": 2}}),
		decisionJSON(t, "respond", "tool gave the answer", map[string]any{"answer": "4"}),
	}}

	a := NewAgent(llmClient, tools, nil, nil, testOptions())
	result, err := a.Run(context.Background(), Request{SessionID: "s2", Question: "add 2 and 2", UseSandbox: true})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, 3, result.Iterations)
	require.Len(t, result.Actions, 3)
	assert.Equal(t, "search_tools", result.Actions[0].State)
	assert.Equal(t, "use_tool", result.Actions[1].State)

	assert.Equal(t, "s2", gotOpts.Window)
	require.NotNil(t, gotOpts.UseSandbox)
	assert.True(t, *gotOpts.UseSandbox)
	assert.EqualValues(t, 2, gotParams["a"])
}

func TestRunToolFailureQuarantinesTool(t *testing.T) {
	broken := &models.Tool{Name: "broken_tool", Active: true}
	tools := newFakeToolbox(broken)
	tools.exec = func(name string, _ map[string]any, _ registry.ExecuteOptions) (*models.ExecutionRecord, error) {
		return &models.ExecutionRecord{Success: false, Tool: name, Error: "division by zero"}, nil
	}

	llmClient := &scriptedLLM{responses: []string{
		decisionJSON(t, "use_tool", "try the tool", map[string]any{"tool_name": "broken_tool", "params": map[string]any{}}),
		decisionJSON(t, "respond", "cannot proceed", map[string]any{"answer": "The tool is broken: division by zero"}),
	}}

	a := NewAgent(llmClient, tools, nil, nil, testOptions())
	result, err := a.Run(context.Background(), Request{SessionID: "s3", Question: "use the broken tool"})
	require.NoError(t, err)

	assert.True(t, result.Success)
	// Both attempts hit the tool, then it was quarantined.
	assert.Equal(t, []string{"broken_tool", "broken_tool"}, tools.execCalls)
	assert.Equal(t, []string{"broken_tool"}, tools.bugged)

	// The observation steers away from recreating the same tool.
	var observation string
	for _, entry := range result.Conversation {
		if entry.Role == models.RoleSystem {
			observation = entry.Content
		}
	}
	assert.Contains(t, observation, "marked as bugged")
	assert.Contains(t, observation, "DIFFERENT name")
}

func TestRunUnknownToolRefusal(t *testing.T) {
	tools := newFakeToolbox()
	llmClient := &scriptedLLM{responses: []string{
		decisionJSON(t, "use_tool", "guessing", map[string]any{"tool_name": "no_such_tool"}),
		decisionJSON(t, "respond", "giving up", map[string]any{"answer": "no tool available"}),
	}}

	a := NewAgent(llmClient, tools, nil, nil, testOptions())
	result, err := a.Run(context.Background(), Request{SessionID: "s4", Question: "q"})
	require.NoError(t, err)

	assert.True(t, result.Success)
	// Refusals are not retried and do not quarantine.
	assert.Equal(t, []string{"no_such_tool"}, tools.execCalls)
	assert.Empty(t, tools.bugged)
}

func TestRunParseFailureConsumesIteration(t *testing.T) {
	llmClient := &scriptedLLM{responses: []string{
		"I think the answer is four.",
		decisionJSON(t, "respond", "second try", map[string]any{"answer": "4"}),
	}}

	a := NewAgent(llmClient, newFakeToolbox(), nil, nil, testOptions())
	result, err := a.Run(context.Background(), Request{SessionID: "s5", Question: "q"})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, 2, result.Iterations)
	require.Len(t, result.Actions, 2)
	assert.Equal(t, "parse_error", result.Actions[0].State)
}

func TestRunBoundedIterations(t *testing.T) {
	llmClient := &scriptedLLM{responses: []string{
		decisionJSON(t, "search_tools", "keep searching", map[string]any{"query": "anything"}),
	}}
	sink := &recordingSink{}

	opts := testOptions()
	opts.MaxIterations = 2
	a := NewAgent(llmClient, newFakeToolbox(), nil, sink, opts)

	result, err := a.Run(context.Background(), Request{SessionID: "s6", Question: "q"})
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, models.ErrorTypeBoundedIterations, result.ErrorType)
	assert.Equal(t, 2, result.Iterations)
	assert.Contains(t, result.Error, "Maximum iterations (2)")

	types := sink.types()
	assert.Equal(t, events.EventTypeTimeout, types[len(types)-1])
}

func TestRunMaxIterationsOverride(t *testing.T) {
	llmClient := &scriptedLLM{responses: []string{
		decisionJSON(t, "search_tools", "loop", map[string]any{"query": "x"}),
	}}
	a := NewAgent(llmClient, newFakeToolbox(), nil, nil, testOptions())

	result, err := a.Run(context.Background(), Request{SessionID: "s7", Question: "q", MaxIterations: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Iterations)
}

func TestRunLLMErrorClassification(t *testing.T) {
	t.Run("all keys overloaded", func(t *testing.T) {
		llmClient := &scriptedLLM{err: &llm.AllKeysOverloadedError{LastErr: fmt.Errorf("429")}}
		a := NewAgent(llmClient, newFakeToolbox(), nil, nil, testOptions())

		result, err := a.Run(context.Background(), Request{SessionID: "s8", Question: "q"})
		require.NoError(t, err)
		assert.False(t, result.Success)
		assert.Equal(t, models.ErrorTypeAllKeysOverloaded, result.ErrorType)
	})

	t.Run("generic API error", func(t *testing.T) {
		llmClient := &scriptedLLM{err: fmt.Errorf("connection reset")}
		a := NewAgent(llmClient, newFakeToolbox(), nil, nil, testOptions())

		result, err := a.Run(context.Background(), Request{SessionID: "s9", Question: "q"})
		require.NoError(t, err)
		assert.Equal(t, models.ErrorTypeAPIError, result.ErrorType)
	})

	t.Run("empty response", func(t *testing.T) {
		llmClient := &scriptedLLM{responses: []string{"   "}}
		a := NewAgent(llmClient, newFakeToolbox(), nil, nil, testOptions())

		result, err := a.Run(context.Background(), Request{SessionID: "s10", Question: "q"})
		require.NoError(t, err)
		assert.Equal(t, models.ErrorTypeNoResponse, result.ErrorType)
	})
}

func TestRunContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	llmClient := &scriptedLLM{responses: []string{
		decisionJSON(t, "respond", "r", map[string]any{"answer": "a"}),
	}}
	a := NewAgent(llmClient, newFakeToolbox(), nil, nil, testOptions())

	_, err := a.Run(ctx, Request{SessionID: "s11", Question: "q"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunStreamingPublishesChunks(t *testing.T) {
	llmClient := &scriptedLLM{responses: []string{
		decisionJSON(t, "respond", "streamed", map[string]any{"answer": "4"}),
	}}
	sink := &recordingSink{}

	opts := testOptions()
	opts.Stream = true
	a := NewAgent(llmClient, newFakeToolbox(), nil, sink, opts)

	result, err := a.Run(context.Background(), Request{SessionID: "s12", Question: "q"})
	require.NoError(t, err)
	assert.True(t, result.Success)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	var sawStream bool
	for _, env := range sink.transient {
		if env.Type == events.EventTypeStream {
			sawStream = true
		}
	}
	assert.True(t, sawStream)

	var sawComplete bool
	for _, env := range sink.persisted {
		if env.Type == events.EventTypeResponseComplete {
			sawComplete = true
		}
	}
	assert.True(t, sawComplete)
}
