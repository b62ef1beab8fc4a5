package index

import (
	"context"
	"sort"
)

// FetchStrategy is one way of reading back all chunks of a content item.
type FetchStrategy interface {
	Name() string
	Fetch(ctx context.Context, c *Client, contentID string, knownCount int) ([]Match, error)
}

// Direct looks chunks up by their deterministic keys. It needs the chunk
// count recorded at ingestion time.
type Direct struct{}

func (Direct) Name() string { return "direct" }

func (Direct) Fetch(ctx context.Context, c *Client, contentID string, knownCount int) ([]Match, error) {
	if knownCount <= 0 {
		return nil, nil
	}

	byIndex := make(map[int]Match, knownCount)
	for start := 0; start < knownCount; start += c.opts.BatchSize {
		end := min(start+c.opts.BatchSize, knownCount)
		ids := make([]string, 0, end-start)
		for i := start; i < end; i++ {
			ids = append(ids, ChunkID(contentID, i))
		}

		found, err := c.backend.Fetch(ctx, ids)
		if err != nil {
			return nil, err
		}
		for _, m := range found {
			if m.ContentID != "" && m.ContentID != contentID {
				continue
			}
			byIndex[m.ChunkIndex] = m
		}
	}

	out := make([]Match, 0, len(byIndex))
	for i := 0; i < knownCount; i++ {
		if m, ok := byIndex[i]; ok {
			out = append(out, m)
		}
	}
	return out, nil
}

// Scan reads every record filtered by content id and orders them by chunk
// index.
type Scan struct{}

func (Scan) Name() string { return "scan" }

func (Scan) Fetch(ctx context.Context, c *Client, contentID string, _ int) ([]Match, error) {
	matches, err := c.backend.Scan(ctx, contentID, c.opts.ScanLimit)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].ChunkIndex < matches[j].ChunkIndex })
	return matches, nil
}
