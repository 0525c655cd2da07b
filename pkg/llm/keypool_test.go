package llm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testClock drives a KeyPool deterministically: sleeps advance the fake
// time instead of blocking.
type testClock struct {
	now    time.Time
	sleeps []time.Duration
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) install(p *KeyPool) {
	p.now = func() time.Time { return c.now }
	p.sleep = func(ctx context.Context, d time.Duration) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		c.sleeps = append(c.sleeps, d)
		if d > 0 {
			c.now = c.now.Add(d)
		}
		return nil
	}
}

func TestNewKeyPoolRequiresKeys(t *testing.T) {
	_, err := NewKeyPool(nil, 0, time.Minute)
	assert.ErrorIs(t, err, ErrNoKeys)
}

func TestKeyPoolRoundRobin(t *testing.T) {
	pool, err := NewKeyPool([]string{"k1", "k2", "k3"}, 0, time.Minute)
	require.NoError(t, err)
	newTestClock().install(pool)

	ctx := context.Background()
	var keys []string
	var ordinals []int
	for i := 0; i < 4; i++ {
		key, ordinal, err := pool.Acquire(ctx)
		require.NoError(t, err)
		keys = append(keys, key)
		ordinals = append(ordinals, ordinal)
	}

	assert.Equal(t, []string{"k1", "k2", "k3", "k1"}, keys)
	assert.Equal(t, []int{1, 2, 3, 1}, ordinals)
}

func TestKeyPoolSkipsCoolingKeys(t *testing.T) {
	pool, err := NewKeyPool([]string{"k1", "k2"}, 0, time.Minute)
	require.NoError(t, err)
	newTestClock().install(pool)

	pool.MarkOverloaded(1)

	_, ordinal, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, ordinal)

	// k1 stays skipped until its cooldown expires
	_, ordinal, err = pool.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, ordinal)
}

func TestKeyPoolWaitsWhenAllCooling(t *testing.T) {
	pool, err := NewKeyPool([]string{"k1", "k2"}, 0, time.Minute)
	require.NoError(t, err)
	clock := newTestClock()
	clock.install(pool)

	pool.MarkOverloaded(1)
	clock.now = clock.now.Add(10 * time.Second)
	pool.MarkOverloaded(2)

	// k1 expires 50s from now, k2 60s from now
	_, ordinal, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, ordinal)
	require.NotEmpty(t, clock.sleeps)
	assert.Equal(t, 50*time.Second, clock.sleeps[0])
}

func TestKeyPoolReservesRequestSpacing(t *testing.T) {
	pool, err := NewKeyPool([]string{"k1", "k2"}, 3*time.Second, time.Minute)
	require.NoError(t, err)
	clock := newTestClock()
	clock.install(pool)

	ctx := context.Background()
	_, _, err = pool.Acquire(ctx)
	require.NoError(t, err)
	_, _, err = pool.Acquire(ctx)
	require.NoError(t, err)

	require.Len(t, clock.sleeps, 1)
	assert.Equal(t, 3*time.Second, clock.sleeps[0])
}

func TestKeyPoolSpacingNotNeededAfterGap(t *testing.T) {
	pool, err := NewKeyPool([]string{"k1"}, 3*time.Second, time.Minute)
	require.NoError(t, err)
	clock := newTestClock()
	clock.install(pool)

	ctx := context.Background()
	_, _, err = pool.Acquire(ctx)
	require.NoError(t, err)

	clock.now = clock.now.Add(10 * time.Second)
	_, _, err = pool.Acquire(ctx)
	require.NoError(t, err)

	assert.Empty(t, clock.sleeps)
}

func TestKeyPoolAcquireCancelled(t *testing.T) {
	pool, err := NewKeyPool([]string{"k1"}, 0, time.Minute)
	require.NoError(t, err)
	clock := newTestClock()
	clock.install(pool)

	pool.MarkOverloaded(1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err = pool.Acquire(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMarkSuccessClearsCooldown(t *testing.T) {
	pool, err := NewKeyPool([]string{"k1", "k2"}, 0, time.Minute)
	require.NoError(t, err)
	newTestClock().install(pool)

	pool.MarkOverloaded(1)
	pool.MarkSuccess(1)

	_, ordinal, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, ordinal)
}
