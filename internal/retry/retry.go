// Package retry wraps a single fallible operation with bounded
// exponential-backoff retry.
package retry

import (
	"context"
	"errors"
	"time"
)

const (
	DefaultMaxRetries = 3
	DefaultBaseDelay  = time.Second
)

type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
}

func DefaultPolicy() Policy {
	return Policy{MaxRetries: DefaultMaxRetries, BaseDelay: DefaultBaseDelay}
}

func (p Policy) normalized() Policy {
	if p.MaxRetries < 1 {
		p.MaxRetries = DefaultMaxRetries
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultBaseDelay
	}
	return p
}

// Retryable marks errors eligible for another attempt. Errors that do not
// implement it are treated as terminal.
type Retryable interface {
	IsRetryable() bool
}

// Do runs op up to MaxRetries times, sleeping BaseDelay*2^k before retry
// k+1. The last observed error is returned unchanged so callers can still
// classify it. Terminal errors short-circuit after the first attempt.
func (p Policy) Do(ctx context.Context, op func(context.Context) error) error {
	p = p.normalized()

	var lastErr error
	for attempt := 0; attempt < p.MaxRetries; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if !isRetryable(lastErr) {
			return lastErr
		}
		if attempt < p.MaxRetries-1 {
			delay := p.BaseDelay << attempt
			if err := sleep(ctx, delay); err != nil {
				return lastErr
			}
		}
	}
	return lastErr
}

func isRetryable(err error) bool {
	var r Retryable
	if errors.As(err, &r) {
		return r.IsRetryable()
	}
	return false
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
