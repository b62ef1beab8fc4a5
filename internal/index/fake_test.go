package index_test

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/raai2005/ai-learning-assistant-RAG/internal/index"
)

// memoryBackend is an in-memory Backend with knobs for simulating lag and
// partial outages.
type memoryBackend struct {
	mu      sync.Mutex
	records map[string]index.Record

	upsertBatches []int
	fetchCalls    int
	scanCalls     int

	fetchErr error
	scanErr  error
	// hideDirect makes id lookups return nothing.
	hideDirect bool
	// visibleAfterScans hides records from scans until that many scans ran.
	visibleAfterScans int
}

func newMemoryBackend() *memoryBackend {
	return &memoryBackend{records: make(map[string]index.Record)}
}

func (m *memoryBackend) EnsureSchema(ctx context.Context) error { return nil }

func (m *memoryBackend) Upsert(ctx context.Context, records []index.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upsertBatches = append(m.upsertBatches, len(records))
	for _, r := range records {
		m.records[r.ID] = r
	}
	return nil
}

func (m *memoryBackend) Query(ctx context.Context, vector []float32, contentID string, topK int) ([]index.Match, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []index.Match
	for _, r := range m.records {
		if r.ContentID != contentID {
			continue
		}
		out = append(out, toMatch(r, cosine(vector, r.Values)))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChunkIndex < out[j].ChunkIndex })
	if len(out) > topK {
		sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
		out = out[:topK]
	}
	return out, nil
}

func (m *memoryBackend) Fetch(ctx context.Context, ids []string) ([]index.Match, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetchCalls++
	if m.fetchErr != nil {
		return nil, m.fetchErr
	}
	if m.hideDirect {
		return nil, nil
	}
	var out []index.Match
	for _, id := range ids {
		if r, ok := m.records[id]; ok {
			out = append(out, toMatch(r, 0))
		}
	}
	return out, nil
}

func (m *memoryBackend) Scan(ctx context.Context, contentID string, limit int) ([]index.Match, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scanCalls++
	if m.scanErr != nil {
		return nil, m.scanErr
	}
	if m.scanCalls <= m.visibleAfterScans {
		return nil, nil
	}
	var out []index.Match
	for _, r := range m.records {
		if r.ContentID == contentID && len(out) < limit {
			out = append(out, toMatch(r, 0))
		}
	}
	return out, nil
}

func (m *memoryBackend) Count(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records), nil
}

func (m *memoryBackend) remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, id)
}

func toMatch(r index.Record, score float32) index.Match {
	return index.Match{ID: r.ID, ContentID: r.ContentID, ChunkIndex: r.ChunkIndex, Text: r.Text, Score: score}
}

func cosine(a, b []float32) float32 {
	var dot, na, nb float64
	for i := range a {
		if i >= len(b) {
			break
		}
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

func chunkTexts(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = "chunk text " + strings.Repeat("x", i%7) + string(rune('a'+i%26))
	}
	return out
}

func unitVectors(n, dim int) [][]float32 {
	out := make([][]float32, n)
	for i := range out {
		v := make([]float32, dim)
		v[i%dim] = 1
		out[i] = v
	}
	return out
}
