package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Sleeper pauses for d or until ctx is done, whichever comes first.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type SleeperFunc func(ctx context.Context, d time.Duration) error

func (f SleeperFunc) Sleep(ctx context.Context, d time.Duration) error {
	return f(ctx, d)
}

// RealSleeper sleeps on the wall clock.
var RealSleeper Sleeper = SleeperFunc(func(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
})

// Jitter yields delays uniformly distributed in [Min, Max].
type Jitter struct {
	Min time.Duration
	Max time.Duration
}

func NewJitter(min, max time.Duration) Jitter {
	if max < min {
		min, max = max, min
	}
	return Jitter{Min: min, Max: max}
}

func (j Jitter) Next() time.Duration {
	if j.Min == j.Max {
		return j.Min
	}

	delta := j.Max - j.Min
	return j.Min + time.Duration(rand.Int63n(int64(delta)+1))
}

// RateLimiter blocks until the next action may start.
type RateLimiter interface {
	Wait(ctx context.Context) error
}

// SimpleRateLimiter enforces a jittered minimum spacing between actions. The
// first call never waits.
type SimpleRateLimiter struct {
	jitter     Jitter
	sleeper    Sleeper
	now        func() time.Time
	lastAction time.Time
	mu         sync.Mutex
}

func NewSimpleRateLimiterWithSleeper(minDelay, maxDelay time.Duration, sleeper Sleeper, now func() time.Time) *SimpleRateLimiter {
	return &SimpleRateLimiter{
		jitter:  NewJitter(minDelay, maxDelay),
		sleeper: sleeper,
		now:     now,
	}
}

func (r *SimpleRateLimiter) Wait(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.lastAction.IsZero() {
		elapsed := r.now().Sub(r.lastAction)
		delay := r.jitter.Next()

		if elapsed < delay {
			if err := r.sleeper.Sleep(ctx, delay-elapsed); err != nil {
				return err
			}
		}
	}

	r.lastAction = r.now()
	return nil
}
