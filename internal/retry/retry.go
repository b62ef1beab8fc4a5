// Package retry applies the exponential backoff policy shared by the
// embedding and generation providers.
package retry

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/raai2005/ai-learning-assistant-RAG/internal/apperr"
)

type Policy struct {
	// Provider names the upstream service in RateLimitError messages.
	Provider    string
	MaxAttempts int
	BaseDelay   time.Duration
}

func (p Policy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

func (p Policy) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = p.BaseDelay << uint(p.attempts())
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Do runs op until it succeeds, returns an error not marked retryable, or
// MaxAttempts attempts were spent. The wait before retry n is
// BaseDelay * 2^n. Exhaustion yields *apperr.RateLimitError.
func Do(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	attempt := 0
	b := backoff.WithContext(backoff.WithMaxRetries(p.backOff(), uint64(p.attempts()-1)), ctx)

	err := backoff.RetryNotify(func() error {
		attempt++
		err := op(ctx)
		if err == nil {
			return nil
		}
		if !apperr.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, b, func(err error, delay time.Duration) {
		slog.WarnContext(ctx, "provider throttled, backing off",
			"provider", p.Provider, "attempt", attempt, "delay", delay, "error", err)
	})
	if err == nil {
		return nil
	}
	if apperr.IsRetryable(err) {
		return &apperr.RateLimitError{Provider: p.Provider, Err: err}
	}
	return err
}
