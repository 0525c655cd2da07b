// Package agent implements the iterative reason/act loop: the LLM picks a
// state each turn (answer, search, execute, author), the loop carries out the
// action, and the observation feeds the next prompt. Authored tools persist
// and become invocable mid-query.
package agent

import (
	"context"
	"time"

	"github.com/artificer-dev/artificer/pkg/events"
	"github.com/artificer-dev/artificer/pkg/llm"
	"github.com/artificer-dev/artificer/pkg/models"
	"github.com/artificer-dev/artificer/pkg/registry"
	"github.com/artificer-dev/artificer/pkg/search"
)

// Loop pacing defaults. Tests shrink these through Options.
const (
	DefaultMaxIterations = 10
	DefaultMaxTools      = 5

	defaultRetryBackoff = 3 * time.Second
	defaultReloadGrace  = 5 * time.Second
)

// LLMClient generates completions through the provider key pool.
type LLMClient interface {
	Generate(ctx context.Context, prompt string) (string, error)
	GenerateStream(ctx context.Context, prompt string) (<-chan llm.StreamChunk, <-chan error)
}

// Toolbox is the registry surface the loop drives: search for candidates,
// inspect, execute, and quarantine.
type Toolbox interface {
	Get(name string) (*registry.Entry, bool)
	List() []*registry.Entry
	Search(query string, opts search.Options) []search.Result
	Execute(ctx context.Context, name string, params map[string]any, opts registry.ExecuteOptions) (*models.ExecutionRecord, error)
	MarkBugged(ctx context.Context, name string) error
}

// ToolCreator persists an authored tool and hot-reloads the registry.
// Satisfied by services.ToolService.
type ToolCreator interface {
	CreateTool(ctx context.Context, tool *models.Tool) (*models.Tool, error)
}

// EventSink receives the loop's progress events. A nil sink disables
// publishing.
type EventSink interface {
	Publish(ctx context.Context, env events.Envelope) error
	PublishTransient(ctx context.Context, env events.Envelope) error
}

// Options tunes one Agent. The zero value gets working defaults.
type Options struct {
	MaxIterations int
	MaxTools      int

	// Stream publishes LLM output token-by-token as transient events.
	Stream bool

	// RetryBackoff is the pause between the two invocation attempts.
	RetryBackoff time.Duration

	// ReloadGrace is the pause after authoring before the next LLM call,
	// giving the registry reload time to settle.
	ReloadGrace time.Duration
}

// Agent runs query sessions. Agents are stateless between runs and safe to
// share across workers; per-run state lives in the loop.
type Agent struct {
	llm     LLMClient
	tools   Toolbox
	creator ToolCreator
	events  EventSink
	opts    Options
}

// NewAgent creates an Agent. creator and sink may be nil, disabling
// authoring persistence and event publishing respectively.
func NewAgent(llmClient LLMClient, tools Toolbox, creator ToolCreator, sink EventSink, opts Options) *Agent {
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultMaxIterations
	}
	if opts.MaxTools <= 0 {
		opts.MaxTools = DefaultMaxTools
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = defaultRetryBackoff
	}
	if opts.ReloadGrace <= 0 {
		opts.ReloadGrace = defaultReloadGrace
	}
	return &Agent{
		llm:     llmClient,
		tools:   tools,
		creator: creator,
		events:  sink,
		opts:    opts,
	}
}

// Request is one query to process.
type Request struct {
	SessionID string
	Question  string

	// History is prior conversation context supplied by the caller.
	History []models.HistoryEntry

	// MaxIterations/MaxTools override the agent defaults when positive.
	MaxIterations int
	MaxTools      int

	// UseSandbox routes tool executions through the container sandbox.
	UseSandbox bool
}

// publish sends a persistent event, tolerating a nil sink.
func (a *Agent) publish(ctx context.Context, env events.Envelope) {
	if a.events == nil {
		return
	}
	_ = a.events.Publish(ctx, env)
}

// publishTransient sends a notify-only event, tolerating a nil sink.
func (a *Agent) publishTransient(ctx context.Context, env events.Envelope) {
	if a.events == nil {
		return
	}
	_ = a.events.PublishTransient(ctx, env)
}

// sleepCtx pauses for d or until ctx is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
