package pipeline_test

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/raai2005/ai-learning-assistant-RAG/internal/apperr"
	"github.com/raai2005/ai-learning-assistant-RAG/internal/blob"
	"github.com/raai2005/ai-learning-assistant-RAG/internal/extract"
	"github.com/raai2005/ai-learning-assistant-RAG/internal/index"
	"github.com/raai2005/ai-learning-assistant-RAG/internal/llm"
	"github.com/raai2005/ai-learning-assistant-RAG/internal/pipeline"
	"github.com/raai2005/ai-learning-assistant-RAG/internal/record"
)

type memRecords struct {
	mu      sync.Mutex
	items   map[string]*record.Content
	next    int
	updates int
	// getErrs are returned by successive Get calls before normal lookups resume.
	getErrs []error
}

func newMemRecords() *memRecords {
	return &memRecords{items: map[string]*record.Content{}}
}

func (m *memRecords) Create(_ context.Context, c record.NewContent) (*record.Content, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	meta := map[string]interface{}{}
	for k, v := range c.Metadata {
		meta[k] = v
	}
	rec := &record.Content{
		ID:          fmt.Sprintf("content-%d", m.next),
		ContentType: c.ContentType,
		Source:      c.Source,
		Title:       c.Title,
		Status:      record.StatusProcessing,
		Metadata:    meta,
		CreatedAt:   time.Now(),
	}
	m.items[rec.ID] = rec
	cp := *rec
	return &cp, nil
}

func (m *memRecords) Update(_ context.Context, id string, u record.Update) (*record.Content, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.items[id]
	if !ok {
		return nil, apperr.NotFound("Content not found.")
	}
	if rec.Status.Terminal() {
		return nil, record.ErrTerminal
	}
	m.updates++
	rec.Status = u.Status
	for k, v := range u.Metadata {
		rec.Metadata[k] = v
	}
	if u.Status == record.StatusProcessed {
		rec.ChunksCount = u.ChunksCount
	}
	if u.Status == record.StatusFailed {
		rec.Metadata["error"] = u.ErrorMessage
	}
	cp := *rec
	return &cp, nil
}

func (m *memRecords) Get(_ context.Context, id string) (*record.Content, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.getErrs) > 0 {
		err := m.getErrs[0]
		m.getErrs = m.getErrs[1:]
		return nil, err
	}
	rec, ok := m.items[id]
	if !ok {
		return nil, apperr.NotFound("Content not found.")
	}
	cp := *rec
	return &cp, nil
}

// seed inserts a record in the given state.
func (m *memRecords) seed(status record.Status, chunks int, errMsg string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	id := fmt.Sprintf("content-%d", m.next)
	meta := map[string]interface{}{}
	if errMsg != "" {
		meta["error"] = errMsg
	}
	m.items[id] = &record.Content{ID: id, Status: status, ChunksCount: chunks, Metadata: meta}
	return id
}

type stubPDF struct {
	doc   extract.Document
	err   error
	calls int
}

func (s *stubPDF) Extract(context.Context, []byte) (extract.Document, error) {
	s.calls++
	return s.doc, s.err
}

type stubVideo struct {
	transcript extract.Transcript
	err        error
	info       extract.VideoInfo
}

func (s *stubVideo) Extract(context.Context, string) (extract.Transcript, error) {
	return s.transcript, s.err
}

func (s *stubVideo) Describe(_ context.Context, id string) extract.VideoInfo {
	if s.info.Title == "" {
		return extract.VideoInfo{ID: id, Title: extract.PlaceholderTitle(id)}
	}
	return s.info
}

type countingEmbedder struct {
	calls int
	texts int
	err   error
	panic bool
}

func (e *countingEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.calls++
	if e.panic {
		panic("embedder exploded")
	}
	if e.err != nil {
		return nil, e.err
	}
	e.texts += len(texts)
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{float32(i), 1}
	}
	return out, nil
}

type memIndex struct {
	chunks     map[string][]string
	upsertErr  error
	fetchCalls int
}

func newMemIndex() *memIndex {
	return &memIndex{chunks: map[string][]string{}}
}

func (x *memIndex) Upsert(_ context.Context, contentID string, chunks []string, vectors [][]float32) (int, error) {
	if x.upsertErr != nil {
		return 0, x.upsertErr
	}
	if len(chunks) != len(vectors) {
		return 0, fmt.Errorf("length mismatch")
	}
	x.chunks[contentID] = append([]string(nil), chunks...)
	return len(chunks), nil
}

func (x *memIndex) FetchAllChunks(_ context.Context, contentID string, _ int) ([]string, error) {
	x.fetchCalls++
	if c, ok := x.chunks[contentID]; ok {
		return c, nil
	}
	return []string{}, nil
}

type stubRetriever struct {
	matches []index.Match
	err     error
	calls   int
}

func (r *stubRetriever) Retrieve(context.Context, string, string, int) ([]index.Match, error) {
	r.calls++
	return r.matches, r.err
}

type MockGenerator struct {
	mock.Mock
}

func (m *MockGenerator) Generate(ctx context.Context, prompt string, opts llm.Options) (string, error) {
	args := m.Called(ctx, prompt, opts)
	return args.String(0), args.Error(1)
}

type memBlobs struct {
	data    map[string][]byte
	deleted []string
	putErr  error
}

func newMemBlobs() *memBlobs {
	return &memBlobs{data: map[string][]byte{}}
}

func (b *memBlobs) Put(_ context.Context, key string, data []byte) error {
	if b.putErr != nil {
		return b.putErr
	}
	b.data[key] = data
	return nil
}

func (b *memBlobs) Get(_ context.Context, key string) ([]byte, error) {
	d, ok := b.data[key]
	if !ok {
		return nil, blob.ErrNotFound
	}
	return d, nil
}

func (b *memBlobs) Delete(_ context.Context, key string) error {
	delete(b.data, key)
	b.deleted = append(b.deleted, key)
	return nil
}

type recordingQueue struct {
	tasks []pipeline.IngestTask
	err   error
}

func (q *recordingQueue) Enqueue(_ context.Context, t pipeline.IngestTask) error {
	if q.err != nil {
		return q.err
	}
	q.tasks = append(q.tasks, t)
	return nil
}
