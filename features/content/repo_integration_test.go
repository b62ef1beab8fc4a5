package content_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raai2005/ai-learning-assistant-RAG/features/content"
	"github.com/raai2005/ai-learning-assistant-RAG/internal/record"
	"github.com/raai2005/ai-learning-assistant-RAG/internal/testutils"
)

func TestPostgresRepo_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	s := testutils.NewIntegrationSuite(t)
	s.Setup()
	defer s.Teardown()

	ctx := context.Background()
	repo := content.NewPostgresRepo(s.DB)

	c, err := repo.Create(ctx, record.NewContent{
		ContentType: record.TypeVideo,
		Source:      "https://youtu.be/dQw4w9WgXcQ",
		Title:       "YouTube Video (dQw4w9WgXcQ)",
		Metadata:    map[string]interface{}{"video_id": "dQw4w9WgXcQ"},
	})
	require.NoError(t, err)
	assert.Equal(t, record.StatusProcessing, c.Status)

	done, err := repo.Update(ctx, c.ID, record.Update{Status: record.StatusProcessed, ChunksCount: 9})
	require.NoError(t, err)
	assert.Equal(t, 9, done.ChunksCount)
	assert.Equal(t, "dQw4w9WgXcQ", done.Metadata["video_id"])

	_, err = repo.Update(ctx, c.ID, record.Update{Status: record.StatusFailed, ErrorMessage: "late"})
	assert.ErrorIs(t, err, record.ErrTerminal)

	got, err := repo.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, record.StatusProcessed, got.Status)
	assert.Empty(t, got.ErrorMessage())

	counts, err := repo.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[record.StatusProcessed])
}
