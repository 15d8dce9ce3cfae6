package governor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/hedgebot/internal/venue"
)

func testGovernor(randf func() float64) (*Governor, *[]time.Duration) {
	g := New("test", DefaultConfig())
	var slept []time.Duration
	g.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	if randf != nil {
		g.randf = randf
	}
	return g, &slept
}

func TestDoSuccessFirstTry(t *testing.T) {
	g, slept := testGovernor(nil)
	calls := 0
	err := g.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, *slept)
}

func TestDoNonRateLimitPropagatesImmediately(t *testing.T) {
	g, slept := testGovernor(nil)
	boom := errors.New("connection refused")
	calls := 0
	err := g.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
	assert.Empty(t, *slept, "non-rate-limit errors must not trigger backoff")
}

func TestDoRetriesThenSucceeds(t *testing.T) {
	g, slept := testGovernor(func() float64 { return 0.5 }) // zero jitter offset
	calls := 0
	err := g.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return &venue.APIError{Venue: "test", Status: 429}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	require.Len(t, *slept, 2)
	assert.Equal(t, 1*time.Second, (*slept)[0])
	assert.Equal(t, 2*time.Second, (*slept)[1])
}

func TestDoExhaustsRetries(t *testing.T) {
	g, slept := testGovernor(func() float64 { return 0.5 })
	calls := 0
	err := g.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return &venue.APIError{Venue: "test", Status: 429}
	})
	assert.ErrorIs(t, err, venue.ErrRateLimitExceeded)
	assert.Equal(t, 4, calls, "initial attempt plus 3 retries")
	assert.Len(t, *slept, 3)
}

func TestJitterStaysInWindow(t *testing.T) {
	windows := []struct {
		lo, hi time.Duration
	}{
		{750 * time.Millisecond, 1250 * time.Millisecond},
		{1500 * time.Millisecond, 2500 * time.Millisecond},
		{3 * time.Second, 5 * time.Second},
	}

	for _, r := range []float64{0.0, 0.25, 0.5, 0.75, 1.0} {
		g, _ := testGovernor(func() float64 { return r })
		for attempt, w := range windows {
			d := g.delayFor(attempt)
			assert.GreaterOrEqual(t, d, w.lo, "attempt %d with randf=%.2f", attempt, r)
			assert.LessOrEqual(t, d, w.hi, "attempt %d with randf=%.2f", attempt, r)
		}
	}
}

func TestDelayCapsAtMax(t *testing.T) {
	g, _ := testGovernor(func() float64 { return 0.5 })
	d := g.delayFor(10)
	assert.Equal(t, 30*time.Second, d)
}

func TestDoRespectsContextDuringBackoff(t *testing.T) {
	g := New("test", DefaultConfig())
	g.sleep = func(ctx context.Context, d time.Duration) error { return context.Canceled }
	err := g.Do(context.Background(), "op", func(ctx context.Context) error {
		return &venue.APIError{Venue: "test", Status: 429}
	})
	assert.ErrorIs(t, err, context.Canceled)
}
