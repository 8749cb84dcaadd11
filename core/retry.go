package core

import (
	"context"
	"math/rand/v2"
	"time"
)

const (
	// MaxAttemptsCap bounds the total number of attempts, including the first.
	MaxAttemptsCap     = 3
	DefaultMaxAttempts = MaxAttemptsCap
	DefaultBaseDelay   = 500 * time.Millisecond
)

// RetryPolicy decides whether a failed attempt is retried and how long to wait
// first. It performs no I/O.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	// Jitter in [0, 1] stretches each delay by less than that fraction, so a
	// jittered delay stays below the next attempt's base delay.
	Jitter float64
	Rand   func() float64
}

// RetryState describes where a call is in its retry sequence.
type RetryState struct {
	Attempt         int
	LastFailureKind FailureKind
	NextDelay       time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.MaxAttempts > MaxAttemptsCap {
		p.MaxAttempts = MaxAttemptsCap
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultBaseDelay
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}
	if p.Jitter > 1 {
		p.Jitter = 1
	}
	return p
}

// Attempts reports the effective attempt budget.
func (p RetryPolicy) Attempts() int {
	return p.normalized().MaxAttempts
}

func (p RetryPolicy) ShouldRetry(attempt int, kind FailureKind) bool {
	p = p.normalized()
	if kind != FailureTransient || attempt < 1 {
		return false
	}
	return attempt < p.MaxAttempts
}

// DelayFor returns base * 2^(attempt-1), plus jitter when configured.
func (p RetryPolicy) DelayFor(attempt int) time.Duration {
	p = p.normalized()
	if attempt < 1 {
		attempt = 1
	}
	delay := p.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
	}
	if p.Jitter > 0 {
		delay += time.Duration(float64(delay) * p.Jitter * p.random())
	}
	return delay
}

// Next folds the outcome of attempt into a RetryState. The boolean reports
// whether another attempt should follow.
func (p RetryPolicy) Next(attempt int, kind FailureKind) (RetryState, bool) {
	state := RetryState{Attempt: attempt, LastFailureKind: kind}
	if !p.ShouldRetry(attempt, kind) {
		return state, false
	}
	state.NextDelay = p.DelayFor(attempt)
	return state, true
}

func (p RetryPolicy) random() float64 {
	var value float64
	if p.Rand != nil {
		value = p.Rand()
	} else {
		value = rand.Float64()
	}
	// [0, 1) keeps the jittered delay below the next base delay
	if value < 0 {
		return 0
	}
	if value >= 1 {
		return 0.999
	}
	return value
}

func sleepRetry(
	ctx context.Context,
	sleepFn func(ctx context.Context, delay time.Duration) error,
	delay time.Duration,
) error {
	if delay <= 0 {
		return nil
	}
	if sleepFn != nil {
		return sleepFn(ctx, delay)
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
