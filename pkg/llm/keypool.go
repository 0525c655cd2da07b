package llm

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrNoKeys is returned when the pool is constructed without credentials.
var ErrNoKeys = errors.New("no API keys configured")

type poolKey struct {
	value         string
	cooldownUntil time.Time
}

// KeyPool rotates API credentials round-robin, skipping keys that are
// cooling down after an overload-class failure. It also enforces a global
// minimum spacing between upstream requests across all keys: the slot is
// reserved inside the lock and the wait happens outside it, so concurrent
// callers queue up behind each other without serializing on the mutex.
type KeyPool struct {
	mu          sync.Mutex
	keys        []poolKey
	next        int
	lastRequest time.Time

	minInterval time.Duration
	cooldown    time.Duration

	// injectable for tests
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewKeyPool creates a pool over the given credentials in scan order.
// Ordinals handed out by Acquire are 1-based, matching the numbered
// environment variables the keys were loaded from.
func NewKeyPool(keys []string, minInterval, cooldown time.Duration) (*KeyPool, error) {
	if len(keys) == 0 {
		return nil, ErrNoKeys
	}
	pool := &KeyPool{
		keys:        make([]poolKey, len(keys)),
		minInterval: minInterval,
		cooldown:    cooldown,
		now:         time.Now,
		sleep:       sleepCtx,
	}
	for i, k := range keys {
		pool.keys[i] = poolKey{value: k}
	}
	return pool, nil
}

// Len returns the number of credentials in the pool.
func (p *KeyPool) Len() int {
	return len(p.keys)
}

// Acquire returns the next usable credential and its 1-based ordinal.
// If every key is cooling down it sleeps until the earliest cooldown
// expires and scans again. The minimum inter-request spacing is reserved
// before returning, so the caller may fire the request immediately.
func (p *KeyPool) Acquire(ctx context.Context) (string, int, error) {
	for {
		key, ordinal, wait, retryAt := p.tryAcquire()
		if ordinal > 0 {
			if wait > 0 {
				if err := p.sleep(ctx, wait); err != nil {
					return "", 0, err
				}
			}
			return key, ordinal, nil
		}

		coolWait := retryAt.Sub(p.now())
		slog.Debug("All API keys cooling down, waiting", "wait", coolWait.Round(time.Millisecond))
		if err := p.sleep(ctx, coolWait); err != nil {
			return "", 0, err
		}
	}
}

// tryAcquire scans for a usable key under the lock. On success it advances
// the rotation cursor, reserves the next request slot, and returns the
// spacing wait the caller must observe. When all keys are cooling it
// returns ordinal 0 and the earliest cooldown expiry.
func (p *KeyPool) tryAcquire() (key string, ordinal int, wait time.Duration, retryAt time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	earliest := time.Time{}
	for i := range p.keys {
		idx := (p.next + i) % len(p.keys)
		k := &p.keys[idx]
		if k.cooldownUntil.After(now) {
			if earliest.IsZero() || k.cooldownUntil.Before(earliest) {
				earliest = k.cooldownUntil
			}
			continue
		}

		p.next = (idx + 1) % len(p.keys)

		// Reserve the request slot while still holding the lock.
		slot := now
		if next := p.lastRequest.Add(p.minInterval); next.After(now) {
			slot = next
		}
		p.lastRequest = slot
		return k.value, idx + 1, slot.Sub(now), time.Time{}
	}

	return "", 0, 0, earliest
}

// MarkOverloaded puts the key on cooldown after an overload-class failure.
func (p *KeyPool) MarkOverloaded(ordinal int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ordinal < 1 || ordinal > len(p.keys) {
		return
	}
	p.keys[ordinal-1].cooldownUntil = p.now().Add(p.cooldown)
	slog.Warn("API key cooling down", "key", ordinal, "cooldown", p.cooldown)
}

// MarkSuccess clears any cooldown on the key after a successful request.
func (p *KeyPool) MarkSuccess(ordinal int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ordinal < 1 || ordinal > len(p.keys) {
		return
	}
	p.keys[ordinal-1].cooldownUntil = time.Time{}
}
