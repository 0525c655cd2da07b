package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/artificer-dev/artificer/pkg/config"
)

const (
	baseBackoff  = 5 * time.Second
	maxBackoff   = 60 * time.Second
	streamBuffer = 100
)

// Client drives a Provider through the key pool. Overload-class failures
// rotate to the next credential with exponential backoff; the retry budget
// is two passes over the pool before the query fails with
// AllKeysOverloadedError.
type Client struct {
	provider    Provider
	pool        *KeyPool
	maxAttempts int

	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient creates a client for the configured provider and credentials.
func NewClient(cfg *config.LLMConfig) (*Client, error) {
	var provider Provider
	switch cfg.Provider {
	case config.LLMProviderGemini:
		provider = NewGeminiProvider(cfg)
	case config.LLMProviderOpenAI:
		provider = NewOpenAIProvider(cfg)
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}

	pool, err := NewKeyPool(cfg.APIKeys, cfg.MinRequestInterval, cfg.KeyCooldown)
	if err != nil {
		return nil, err
	}

	slog.Info("LLM client configured",
		"provider", provider.Name(),
		"model", cfg.Model,
		"keys", pool.Len())

	return &Client{
		provider:    provider,
		pool:        pool,
		maxAttempts: 2 * pool.Len(),
		sleep:       sleepCtx,
	}, nil
}

// newClientWithProvider wires an explicit provider, used by tests.
func newClientWithProvider(provider Provider, pool *KeyPool) *Client {
	return &Client{
		provider:    provider,
		pool:        pool,
		maxAttempts: 2 * pool.Len(),
		sleep:       sleepCtx,
	}
}

// Provider returns the backend name, for logging and health reporting.
func (c *Client) Provider() string {
	return c.provider.Name()
}

// Generate produces a complete response for the prompt, rotating keys on
// overload until the retry budget runs out.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	var lastErr error
	backoff := baseBackoff

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		key, ordinal, err := c.pool.Acquire(ctx)
		if err != nil {
			return "", err
		}

		text, err := c.provider.Generate(ctx, key, prompt)
		if err == nil {
			c.pool.MarkSuccess(ordinal)
			return text, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if !IsOverload(err) {
			return "", err
		}

		lastErr = err
		c.pool.MarkOverloaded(ordinal)
		slog.Warn("LLM request overloaded, rotating key",
			"key", ordinal, "attempt", attempt, "max_attempts", c.maxAttempts, "error", err)

		if attempt < c.maxAttempts {
			if err := c.sleep(ctx, backoff); err != nil {
				return "", err
			}
			backoff = min(backoff*2, maxBackoff)
		}
	}

	return "", &AllKeysOverloadedError{LastErr: lastErr}
}

// GenerateStream streams a response for the prompt. Key rotation only
// happens before the first chunk is delivered; once content has gone out
// the stream cannot be restarted, so any later failure is surfaced as-is.
func (c *Client) GenerateStream(ctx context.Context, prompt string) (<-chan StreamChunk, <-chan error) {
	chunks := make(chan StreamChunk, streamBuffer)
	errs := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errs)

		var lastErr error
		backoff := baseBackoff

		for attempt := 1; attempt <= c.maxAttempts; attempt++ {
			key, ordinal, err := c.pool.Acquire(ctx)
			if err != nil {
				errs <- err
				return
			}

			inner := make(chan StreamChunk, streamBuffer)
			done := make(chan error, 1)
			go func() {
				done <- c.provider.GenerateStream(ctx, key, prompt, inner)
				close(inner)
			}()

			delivered := false
			for chunk := range inner {
				select {
				case chunks <- chunk:
					delivered = true
				case <-ctx.Done():
					errs <- ctx.Err()
					return
				}
			}

			err = <-done
			if err == nil {
				c.pool.MarkSuccess(ordinal)
				return
			}
			if ctx.Err() != nil {
				errs <- ctx.Err()
				return
			}
			if delivered || !IsOverload(err) {
				errs <- err
				return
			}

			lastErr = err
			c.pool.MarkOverloaded(ordinal)
			slog.Warn("LLM stream overloaded before first chunk, rotating key",
				"key", ordinal, "attempt", attempt, "error", err)

			if attempt < c.maxAttempts {
				if err := c.sleep(ctx, backoff); err != nil {
					errs <- err
					return
				}
				backoff = min(backoff*2, maxBackoff)
			}
		}

		errs <- &AllKeysOverloadedError{LastErr: lastErr}
	}()

	return chunks, errs
}
