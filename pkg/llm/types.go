package llm

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// StreamChunk represents a streaming chunk from the LLM
type StreamChunk struct {
	Content    string
	IsThinking bool
	IsComplete bool
	IsFinal    bool
	Error      string
}

// Provider is a single LLM backend. Implementations build a fresh SDK
// client per call so the key pool can rotate credentials between requests.
type Provider interface {
	Name() string
	Generate(ctx context.Context, apiKey, prompt string) (string, error)
	GenerateStream(ctx context.Context, apiKey, prompt string, chunks chan<- StreamChunk) error
}

// AllKeysOverloadedError is returned when every credential in the pool has
// been exhausted through the full retry budget. It carries the last provider
// error so callers can report what the upstream actually said.
type AllKeysOverloadedError struct {
	LastErr error
}

func (e *AllKeysOverloadedError) Error() string {
	if e.LastErr != nil {
		return fmt.Sprintf("all API keys overloaded: %v", e.LastErr)
	}
	return "all API keys overloaded"
}

func (e *AllKeysOverloadedError) Unwrap() error {
	return e.LastErr
}

// overloadMarkers are the provider error substrings treated as transient
// capacity problems. Matching errors put the key on cooldown instead of
// failing the query.
var overloadMarkers = []string{
	"overload",
	"quota",
	"rate limit",
	"429",
	"503",
	"resource_exhausted",
}

// IsOverload reports whether err looks like a provider capacity error
// rather than a permanent failure.
func IsOverload(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range overloadMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// sleepCtx sleeps for d or until ctx is done, whichever comes first.
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
