// Package llm defines the text generation contract used by the study
// workflows.
package llm

import (
	"context"

	"github.com/raai2005/ai-learning-assistant-RAG/internal/retry"
)

// DefaultSystemPrompt frames every generation request.
const DefaultSystemPrompt = "You are a helpful learning assistant."

type Options struct {
	// JSONMode asks the provider to constrain output to a JSON object.
	JSONMode bool
	// Model overrides the adapter's configured model when set.
	Model  string
	System string
}

type Generator interface {
	Generate(ctx context.Context, prompt string, opts Options) (string, error)
}

// Retrying applies the shared backoff policy to a Generator. Adapters mark
// throttling responses retryable; everything else fails on the first try.
type Retrying struct {
	next   Generator
	policy retry.Policy
}

func NewRetrying(next Generator, policy retry.Policy) *Retrying {
	return &Retrying{next: next, policy: policy}
}

func (r *Retrying) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	if opts.System == "" {
		opts.System = DefaultSystemPrompt
	}
	var out string
	err := retry.Do(ctx, r.policy, func(ctx context.Context) error {
		text, err := r.next.Generate(ctx, prompt, opts)
		if err != nil {
			return err
		}
		out = text
		return nil
	})
	return out, err
}
