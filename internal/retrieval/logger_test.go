package retrieval_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/raai2005/ai-learning-assistant-RAG/internal/index"
	"github.com/raai2005/ai-learning-assistant-RAG/internal/retrieval"
)

func decodeEntries(t *testing.T, data []byte) []retrieval.QueryLogEntry {
	t.Helper()
	var out []retrieval.QueryLogEntry
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		var e retrieval.QueryLogEntry
		require.NoError(t, json.Unmarshal(sc.Bytes(), &e), "line %q", sc.Text())
		out = append(out, e)
	}
	require.NoError(t, sc.Err())
	return out
}

func TestQueryLog_RecordsRetrieveCalls(t *testing.T) {
	e := new(MockEmbedder)
	s := new(MockSearcher)
	r := new(MockReranker)
	e.On("EmbedQuery", mock.Anything, mock.Anything).Return([]float32{1}, nil)
	s.On("QuerySimilar", mock.Anything, mock.Anything, "doc-1", 3).Return(matches, nil)
	s.On("QuerySimilar", mock.Anything, mock.Anything, "doc-2", 8).Return([]index.Match{}, nil)
	r.On("Rerank", mock.Anything, "what is osmosis", mock.Anything).Return([]int{2, 0, 1}, nil)

	var buf bytes.Buffer
	svc := retrieval.NewService(e, s, r, retrieval.NewQueryLogger(&buf))

	_, err := svc.Retrieve(context.Background(), "doc-1", "what is osmosis", 3)
	require.NoError(t, err)
	_, err = svc.Retrieve(context.Background(), "doc-2", "unrelated", 8)
	require.NoError(t, err)

	entries := decodeEntries(t, buf.Bytes())
	require.Len(t, entries, 2)

	assert.Equal(t, "doc-1", entries[0].ContentID)
	assert.Equal(t, "what is osmosis", entries[0].Query)
	assert.Equal(t, 3, entries[0].TopK)
	assert.Equal(t, 3, entries[0].NumResults)
	assert.True(t, entries[0].Reranked)
	assert.False(t, entries[0].Timestamp.IsZero())

	assert.Equal(t, "doc-2", entries[1].ContentID)
	assert.Equal(t, 8, entries[1].TopK)
	assert.Equal(t, 0, entries[1].NumResults)
	assert.False(t, entries[1].Reranked, "nothing to rerank")
}

func TestQueryLog_ConcurrentRetrievesKeepLinesWhole(t *testing.T) {
	e := new(MockEmbedder)
	s := new(MockSearcher)
	e.On("EmbedQuery", mock.Anything, mock.Anything).Return([]float32{1}, nil)
	s.On("QuerySimilar", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(matches, nil)

	var buf bytes.Buffer
	svc := retrieval.NewService(e, s, nil, retrieval.NewQueryLogger(&buf))

	const workers, calls = 20, 25
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < calls; j++ {
				_, _ = svc.Retrieve(context.Background(), "doc", "q", 5)
			}
		}()
	}
	wg.Wait()

	assert.Len(t, decodeEntries(t, buf.Bytes()), workers*calls)
}

func TestNewFileQueryLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "nested", "query.log")

	e := new(MockEmbedder)
	s := new(MockSearcher)
	e.On("EmbedQuery", mock.Anything, mock.Anything).Return([]float32{1}, nil)
	s.On("QuerySimilar", mock.Anything, mock.Anything, "doc-9", 4).Return(matches[:1], nil)

	ql, err := retrieval.NewFileQueryLogger(path)
	require.NoError(t, err)
	svc := retrieval.NewService(e, s, nil, ql)

	_, err = svc.Retrieve(context.Background(), "doc-9", "q", 4)
	require.NoError(t, err)
	require.NoError(t, ql.Close())

	// Entries after Close are dropped, and closing twice is harmless.
	_, err = svc.Retrieve(context.Background(), "doc-9", "q", 4)
	require.NoError(t, err)
	require.NoError(t, ql.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	entries := decodeEntries(t, data)
	require.Len(t, entries, 1)
	assert.Equal(t, "doc-9", entries[0].ContentID)
	assert.Equal(t, 4, entries[0].TopK)

	// Reopening appends rather than truncates.
	again, err := retrieval.NewFileQueryLogger(path)
	require.NoError(t, err)
	svc = retrieval.NewService(e, s, nil, again)
	_, err = svc.Retrieve(context.Background(), "doc-9", "q", 4)
	require.NoError(t, err)
	require.NoError(t, again.Close())

	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Len(t, decodeEntries(t, data), 2)
}

func TestNewFileQueryLogger_BadPath(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o600))

	_, err := retrieval.NewFileQueryLogger(filepath.Join(blocker, "query.log"))
	assert.Error(t, err)
}

func TestQueryLogger_NilIsNoop(t *testing.T) {
	var ql *retrieval.QueryLogger
	assert.NoError(t, ql.Close())
}
