// Package governor gates venue API calls: a per-venue concurrency cap plus
// exponential backoff with jitter on rate-limit errors. Non-rate-limit errors
// propagate immediately.
package governor

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"github.com/web3guy0/hedgebot/internal/venue"
)

// Config tunes one governor.
type Config struct {
	MaxConcurrent int
	MaxRetries    int
	InitialDelay  time.Duration
	BackoffFactor float64
	MaxDelay      time.Duration
	Jitter        bool
}

// DefaultConfig matches the documented defaults: 2 in-flight calls, 3 retries,
// 1s initial delay doubling up to 30s, ±25% jitter.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent: 2,
		MaxRetries:    3,
		InitialDelay:  time.Second,
		BackoffFactor: 2.0,
		MaxDelay:      30 * time.Second,
		Jitter:        true,
	}
}

// Governor serializes access to one venue's API.
type Governor struct {
	name string
	cfg  Config
	sem  *semaphore.Weighted

	// injectable for tests
	sleep func(ctx context.Context, d time.Duration) error
	randf func() float64
}

// New creates a governor for the named venue.
func New(name string, cfg Config) *Governor {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	return &Governor{
		name:  name,
		cfg:   cfg,
		sem:   semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		sleep: sleepCtx,
		randf: rand.Float64,
	}
}

// Do runs fn under the concurrency cap, retrying rate-limited calls with
// backoff. The semaphore slot is held only while fn runs, not across backoff
// sleeps. After exhausting retries the error wraps venue.ErrRateLimitExceeded.
func (g *Governor) Do(ctx context.Context, op string, fn func(context.Context) error) error {
	for attempt := 0; ; attempt++ {
		err := g.once(ctx, fn)
		if err == nil {
			return nil
		}
		if !venue.IsRateLimit(err) {
			return err
		}
		if attempt >= g.cfg.MaxRetries {
			log.Error().Str("venue", g.name).Str("op", op).Int("retries", g.cfg.MaxRetries).
				Msg("Rate limit retry exhausted")
			return fmt.Errorf("%s %s: %w: %v", g.name, op, venue.ErrRateLimitExceeded, err)
		}

		delay := g.delayFor(attempt)
		log.Warn().Str("venue", g.name).Str("op", op).
			Int("attempt", attempt+1).Dur("delay", delay).
			Msg("Rate limit hit, backing off")
		if serr := g.sleep(ctx, delay); serr != nil {
			return serr
		}
	}
}

func (g *Governor) once(ctx context.Context, fn func(context.Context) error) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer g.sem.Release(1)
	return fn(ctx)
}

func (g *Governor) delayFor(attempt int) time.Duration {
	base := float64(g.cfg.InitialDelay) * math.Pow(g.cfg.BackoffFactor, float64(attempt))
	base = math.Min(base, float64(g.cfg.MaxDelay))
	if g.cfg.Jitter {
		// uniform in ±25% of the base delay
		base += (2*g.randf() - 1) * base * 0.25
	}
	return time.Duration(base)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// call wraps a value-returning venue call in Do.
func call[T any](ctx context.Context, g *Governor, op string, fn func(context.Context) (T, error)) (T, error) {
	var out T
	err := g.Do(ctx, op, func(ctx context.Context) error {
		var err error
		out, err = fn(ctx)
		return err
	})
	return out, err
}
