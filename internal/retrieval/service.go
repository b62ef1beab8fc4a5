// Package retrieval finds the chunks of one content item most relevant to a
// question.
package retrieval

import (
	"context"
	"log/slog"
	"time"

	"github.com/raai2005/ai-learning-assistant-RAG/internal/index"
	"github.com/raai2005/ai-learning-assistant-RAG/internal/middleware"
)

type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

type Searcher interface {
	QuerySimilar(ctx context.Context, vector []float32, contentID string, topK int) ([]index.Match, error)
}

type Reranker interface {
	Enabled() bool
	Rerank(ctx context.Context, query string, docs []string) ([]int, error)
}

type Service struct {
	embedder QueryEmbedder
	searcher Searcher
	reranker Reranker
	logger   *QueryLogger
}

// NewService builds a retriever. reranker and logger are optional.
func NewService(e QueryEmbedder, s Searcher, r Reranker, l *QueryLogger) *Service {
	return &Service{embedder: e, searcher: s, reranker: r, logger: l}
}

// Retrieve returns up to topK chunks of contentID, best first.
func (s *Service) Retrieve(ctx context.Context, contentID, query string, topK int) ([]index.Match, error) {
	start := time.Now()

	vec, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	matches, err := s.searcher.QuerySimilar(ctx, vec, contentID, topK)
	if err != nil {
		return nil, err
	}

	reranked := false
	if s.reranker != nil && s.reranker.Enabled() && len(matches) > 1 {
		matches, reranked = s.rerank(ctx, query, matches)
	}

	s.logger.record(QueryLogEntry{
		CorrelationID: middleware.GetCorrelationID(ctx),
		ContentID:     contentID,
		Query:         query,
		TopK:          topK,
		NumResults:    len(matches),
		Reranked:      reranked,
	}, time.Since(start))
	return matches, nil
}

// rerank keeps the vector order when the reranker fails; it only refines
// relevance.
func (s *Service) rerank(ctx context.Context, query string, matches []index.Match) ([]index.Match, bool) {
	texts := make([]string, len(matches))
	for i, m := range matches {
		texts[i] = m.Text
	}

	order, err := s.reranker.Rerank(ctx, query, texts)
	if err != nil {
		slog.WarnContext(ctx, "rerank failed, keeping vector order", "error", err)
		return matches, false
	}

	out := make([]index.Match, 0, len(matches))
	used := make(map[int]bool, len(matches))
	for _, i := range order {
		if i >= 0 && i < len(matches) && !used[i] {
			used[i] = true
			out = append(out, matches[i])
		}
	}
	for i, m := range matches {
		if !used[i] {
			out = append(out, m)
		}
	}
	return out, true
}
