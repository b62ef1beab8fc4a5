// Package index stores chunk vectors in an external vector database and
// reads them back by similarity or in bulk.
package index

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// objectNamespace scopes the UUIDs derived from chunk keys for backends that
// only accept UUID object ids.
var objectNamespace = uuid.MustParse("5b4c3f0e-8f4e-4c55-9d62-7a3e1f0a6c21")

// ChunkID is the key of chunk i of a content item. It is the only join
// between the record store and the index.
func ChunkID(contentID string, i int) string {
	return contentID + "_" + strconv.Itoa(i)
}

// ObjectID derives a stable UUID from a chunk key.
func ObjectID(key string) uuid.UUID {
	return uuid.NewSHA1(objectNamespace, []byte(key))
}

type Record struct {
	ID         string
	ContentID  string
	ChunkIndex int
	Text       string
	Values     []float32
}

type Match struct {
	ID         string
	ContentID  string
	ChunkIndex int
	Text       string
	Score      float32
}

// Backend is one vector database.
type Backend interface {
	EnsureSchema(ctx context.Context) error
	Upsert(ctx context.Context, records []Record) error
	// Query returns the topK records of contentID closest to vector.
	Query(ctx context.Context, vector []float32, contentID string, topK int) ([]Match, error)
	// Fetch returns the records with the given keys. Missing keys are skipped.
	Fetch(ctx context.Context, ids []string) ([]Match, error)
	// Scan returns up to limit records of contentID in any order.
	Scan(ctx context.Context, contentID string, limit int) ([]Match, error)
	Count(ctx context.Context) (int, error)
}

type Options struct {
	BatchSize       int
	FetchAttempts   int
	FetchRetryDelay time.Duration
	ScanLimit       int
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = 100
	}
	if o.FetchAttempts <= 0 {
		o.FetchAttempts = 3
	}
	if o.ScanLimit <= 0 {
		o.ScanLimit = 1000
	}
	return o
}

type Client struct {
	backend    Backend
	opts       Options
	strategies []FetchStrategy
}

func New(backend Backend, opts Options) *Client {
	return &Client{
		backend:    backend,
		opts:       opts.withDefaults(),
		strategies: []FetchStrategy{Direct{}, Scan{}},
	}
}

// WithStrategies replaces the bulk fetch strategies, tried in order.
func (c *Client) WithStrategies(strategies ...FetchStrategy) *Client {
	c.strategies = strategies
	return c
}

func (c *Client) EnsureSchema(ctx context.Context) error {
	return c.backend.EnsureSchema(ctx)
}

// Upsert writes chunk i of contentID under ChunkID(contentID, i), in batches.
// It returns the number of records written.
func (c *Client) Upsert(ctx context.Context, contentID string, chunks []string, vectors [][]float32) (int, error) {
	if len(chunks) != len(vectors) {
		return 0, fmt.Errorf("index: %d chunks but %d vectors", len(chunks), len(vectors))
	}

	written := 0
	for start := 0; start < len(chunks); start += c.opts.BatchSize {
		end := min(start+c.opts.BatchSize, len(chunks))
		batch := make([]Record, 0, end-start)
		for i := start; i < end; i++ {
			batch = append(batch, Record{
				ID:         ChunkID(contentID, i),
				ContentID:  contentID,
				ChunkIndex: i,
				Text:       chunks[i],
				Values:     vectors[i],
			})
		}
		if err := c.backend.Upsert(ctx, batch); err != nil {
			return written, fmt.Errorf("upsert chunks %d-%d: %w", start, end, err)
		}
		written += len(batch)
	}

	slog.DebugContext(ctx, "chunks upserted", "count", written)
	return written, nil
}

// QuerySimilar returns the closest chunks of contentID, best first.
func (c *Client) QuerySimilar(ctx context.Context, vector []float32, contentID string, topK int) ([]Match, error) {
	matches, err := c.backend.Query(ctx, vector, contentID, topK)
	if err != nil {
		return nil, fmt.Errorf("query index: %w", err)
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if topK > 0 && len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// FetchAllChunks returns every indexed chunk text of contentID in chunk
// order. Strategies are tried in order until one returns something; when
// none does, the round is repeated after a delay. Exhausting every attempt
// is not an error and yields an empty slice.
func (c *Client) FetchAllChunks(ctx context.Context, contentID string, knownCount int) ([]string, error) {
	for attempt := 1; attempt <= c.opts.FetchAttempts; attempt++ {
		for _, s := range c.strategies {
			matches, err := s.Fetch(ctx, c, contentID, knownCount)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				slog.WarnContext(ctx, "chunk fetch strategy failed",
					"strategy", s.Name(), "attempt", attempt, "error", err)
				continue
			}
			if len(matches) > 0 {
				slog.DebugContext(ctx, "chunks fetched",
					"strategy", s.Name(), "attempt", attempt, "count", len(matches))
				return texts(matches), nil
			}
		}

		if attempt < c.opts.FetchAttempts {
			if err := sleep(ctx, c.opts.FetchRetryDelay); err != nil {
				return nil, err
			}
		}
	}

	slog.WarnContext(ctx, "no chunks found after all fetch attempts", "attempts", c.opts.FetchAttempts)
	return []string{}, nil
}

func (c *Client) CountChunks(ctx context.Context) (int, error) {
	return c.backend.Count(ctx)
}

func texts(matches []Match) []string {
	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = m.Text
	}
	return out
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
