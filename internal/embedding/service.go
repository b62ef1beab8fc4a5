// Package embedding turns chunk texts into fixed-dimension vectors. A remote
// provider is tried first; a local provider takes over a batch whenever the
// remote one fails.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/raai2005/ai-learning-assistant-RAG/internal/retry"
)

// ErrDimensionMismatch means a provider returned vectors that do not fit the
// configured index dimension.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Provider embeds one batch. The result must have one vector per input, in
// input order.
type Provider interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

type Options struct {
	Dimension int
	BatchSize int
	// Pause is the minimum spacing between consecutive batches of one call.
	Pause   time.Duration
	Timeout time.Duration
	Retry   retry.Policy
}

type Service struct {
	primary  Provider
	fallback Provider
	opts     Options
}

// NewService builds the embedding service. Either provider may be nil, but
// not both.
func NewService(primary, fallback Provider, opts Options) *Service {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	return &Service{primary: primary, fallback: fallback, opts: opts}
}

func (s *Service) Dimension() int {
	return s.opts.Dimension
}

// Embed returns one vector per text, preserving order.
func (s *Service) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	var limiter *rate.Limiter
	if s.opts.Pause > 0 {
		limiter = rate.NewLimiter(rate.Every(s.opts.Pause), 1)
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += s.opts.BatchSize {
		end := min(start+s.opts.BatchSize, len(texts))

		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		vectors, err := s.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embed batch %d-%d: %w", start, end, err)
		}
		out = append(out, vectors...)
	}
	return out, nil
}

// EmbedQuery embeds a single question.
func (s *Service) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := s.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (s *Service) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	if s.primary == nil {
		return s.embedFallback(ctx, batch, nil)
	}

	var vectors [][]float32
	err := retry.Do(ctx, s.opts.Retry, func(ctx context.Context) error {
		callCtx := ctx
		if s.opts.Timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
			defer cancel()
		}
		v, err := s.primary.EmbedBatch(callCtx, batch)
		if err != nil {
			return err
		}
		vectors = v
		return nil
	})
	if err == nil {
		err = s.check(vectors, len(batch))
	}
	if err == nil {
		return vectors, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return s.embedFallback(ctx, batch, err)
}

func (s *Service) embedFallback(ctx context.Context, batch []string, cause error) ([][]float32, error) {
	if s.fallback == nil {
		if cause == nil {
			return nil, errors.New("no embedding provider configured")
		}
		return nil, cause
	}
	if cause != nil {
		slog.WarnContext(ctx, "remote embedding failed, using local fallback",
			"batch_size", len(batch), "error", cause)
	}

	vectors, err := s.fallback.EmbedBatch(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("fallback embedding: %w", err)
	}
	if err := s.check(vectors, len(batch)); err != nil {
		return nil, err
	}
	return vectors, nil
}

func (s *Service) check(vectors [][]float32, want int) error {
	if len(vectors) != want {
		return fmt.Errorf("provider returned %d vectors for %d texts", len(vectors), want)
	}
	if s.opts.Dimension <= 0 {
		return nil
	}
	for i, v := range vectors {
		if len(v) != s.opts.Dimension {
			return fmt.Errorf("%w: vector %d has %d values, expected %d",
				ErrDimensionMismatch, i, len(v), s.opts.Dimension)
		}
	}
	return nil
}
