package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/raai2005/ai-learning-assistant-RAG/internal/apperr"
	"github.com/raai2005/ai-learning-assistant-RAG/internal/retry"
)

func flaky(failures int, calls *int) func(context.Context) error {
	return func(ctx context.Context) error {
		*calls++
		if *calls <= failures {
			return apperr.MarkRetryable(errors.New("status 429"))
		}
		return nil
	}
}

func TestDo(t *testing.T) {
	policy := retry.Policy{Provider: "Gemini", MaxAttempts: 4, BaseDelay: time.Millisecond}

	tests := []struct {
		name        string
		failures    int
		wantCalls   int
		wantLimited bool
	}{
		{"succeeds first time", 0, 1, false},
		{"succeeds after two throttles", 2, 3, false},
		{"succeeds on last attempt", 3, 4, false},
		{"exhausts attempts", 4, 4, true},
		{"exhausts with more failures queued", 10, 4, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := retry.Do(context.Background(), policy, flaky(tt.failures, &calls))
			assert.Equal(t, tt.wantCalls, calls)
			if tt.wantLimited {
				var rl *apperr.RateLimitError
				assert.ErrorAs(t, err, &rl)
				assert.ErrorIs(t, err, apperr.ErrRateLimited)
				assert.Equal(t, "Gemini", rl.Provider)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDo_NonRetryableStopsImmediately(t *testing.T) {
	calls := 0
	boom := errors.New("invalid api key")
	err := retry.Do(context.Background(), retry.Policy{MaxAttempts: 5, BaseDelay: time.Millisecond}, func(ctx context.Context) error {
		calls++
		return boom
	})

	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, apperr.ErrRateLimited)
}

func TestDo_BackoffGrows(t *testing.T) {
	calls := 0
	start := time.Now()
	err := retry.Do(context.Background(), retry.Policy{MaxAttempts: 3, BaseDelay: 20 * time.Millisecond}, flaky(2, &calls))

	assert.NoError(t, err)
	// 20ms + 40ms between the three attempts.
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := retry.Do(ctx, retry.Policy{MaxAttempts: 5, BaseDelay: time.Second}, flaky(5, &calls))
	assert.Error(t, err)
	assert.LessOrEqual(t, calls, 1)
}
