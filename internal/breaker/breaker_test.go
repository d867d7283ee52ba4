package breaker

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestBreaker_StartsClosed(t *testing.T) {
	b := New("embedding")
	assert.Equal(t, StateClosed, b.State())
	assert.True(t, b.Allow())
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b := New("embedding", WithFailureThreshold(3))

	for i := 0; i < 3; i++ {
		err := b.Execute(func() error { return errBoom })
		require.ErrorIs(t, err, errBoom)
	}

	assert.Equal(t, StateOpen, b.State())

	// Next call fails fast without executing the guarded op.
	executed := false
	err := b.Execute(func() error {
		executed = true
		return nil
	})
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, executed)
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b := New("embedding", WithFailureThreshold(3))

	require.Error(t, b.Execute(func() error { return errBoom }))
	require.Error(t, b.Execute(func() error { return errBoom }))
	require.NoError(t, b.Execute(func() error { return nil }))

	// Two more failures should not trip the breaker after the reset.
	require.Error(t, b.Execute(func() error { return errBoom }))
	require.Error(t, b.Execute(func() error { return errBoom }))
	assert.Equal(t, StateClosed, b.State())
}

// Full lifecycle: 3 failures open the circuit, the 4th call fails fast,
// the reset timeout admits a probe, and 2 consecutive successes close it.
func TestBreaker_OpenHalfOpenClose(t *testing.T) {
	clock := newFakeClock()
	b := New("embedding",
		WithFailureThreshold(3),
		WithResetTimeout(1*time.Second),
		WithHalfOpenMaxCalls(2),
		WithClock(clock.Now),
	)

	for i := 0; i < 3; i++ {
		require.Error(t, b.Execute(func() error { return errBoom }))
	}
	require.Equal(t, StateOpen, b.State())

	// 4th call fails fast while the timeout has not elapsed.
	require.ErrorIs(t, b.Execute(func() error { return nil }), ErrOpen)

	clock.Advance(1100 * time.Millisecond)
	require.Equal(t, StateHalfOpen, b.State())

	// First probe executes and succeeds; circuit stays half-open.
	executed := false
	require.NoError(t, b.Execute(func() error {
		executed = true
		return nil
	}))
	assert.True(t, executed)
	assert.Equal(t, StateHalfOpen, b.State())

	// Second consecutive success closes the circuit and clears failures.
	require.NoError(t, b.Execute(func() error { return nil }))
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 0, b.Stats().Failures)
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	clock := newFakeClock()
	b := New("tags",
		WithFailureThreshold(1),
		WithResetTimeout(time.Second),
		WithClock(clock.Now),
	)

	require.Error(t, b.Execute(func() error { return errBoom }))
	require.Equal(t, StateOpen, b.State())

	clock.Advance(2 * time.Second)
	require.Error(t, b.Execute(func() error { return errBoom }))
	assert.Equal(t, StateOpen, b.State())

	// The reopened circuit fails fast again until the timeout elapses.
	assert.ErrorIs(t, b.Execute(func() error { return nil }), ErrOpen)
}

func TestBreaker_Reset(t *testing.T) {
	b := New("summary", WithFailureThreshold(1))
	require.Error(t, b.Execute(func() error { return errBoom }))
	require.Equal(t, StateOpen, b.State())

	b.Reset()
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 0, b.Stats().Failures)
	assert.NoError(t, b.Execute(func() error { return nil }))
}

func TestBreaker_StatsSnapshot(t *testing.T) {
	b := New("propositions", WithFailureThreshold(2), WithResetTimeout(30*time.Second))
	require.Error(t, b.Execute(func() error { return errBoom }))

	stats := b.Stats()
	assert.Equal(t, "propositions", stats.Name)
	assert.Equal(t, "closed", stats.State)
	assert.Equal(t, 1, stats.Failures)
	assert.Equal(t, 2, stats.FailureThreshold)
	assert.Equal(t, "30s", stats.ResetTimeout)
	assert.False(t, stats.LastFailure.IsZero())
}

func TestBreaker_ConcurrentTransitionsAreAtomic(t *testing.T) {
	b := New("embedding", WithFailureThreshold(50))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = b.Execute(func() error {
					if (n+j)%3 == 0 {
						return errBoom
					}
					return nil
				})
				b.Allow()
				b.Stats()
			}
		}(i)
	}
	wg.Wait()

	// State must land on a valid value; counters must be non-negative.
	s := b.Stats()
	assert.Contains(t, []string{"closed", "open", "half-open"}, s.State)
	assert.GreaterOrEqual(t, s.Failures, 0)
}

func TestRegistry_PerServiceIsolation(t *testing.T) {
	r := NewRegistry(WithFailureThreshold(1))

	require.Error(t, r.Get(ServiceEmbedding).Execute(func() error { return errBoom }))
	assert.Equal(t, StateOpen, r.Get(ServiceEmbedding).State())
	assert.Equal(t, StateClosed, r.Get(ServiceTags).State())

	// Same name returns the same breaker.
	assert.Same(t, r.Get(ServiceEmbedding), r.Get(ServiceEmbedding))

	stats := r.Stats()
	require.Len(t, stats, 2)
	assert.Equal(t, ServiceEmbedding, stats[0].Name)
	assert.Equal(t, ServiceTags, stats[1].Name)

	r.ResetAll()
	assert.Equal(t, StateClosed, r.Get(ServiceEmbedding).State())
}
