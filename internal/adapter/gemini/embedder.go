package gemini

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/generative-ai-go/genai"
)

type Embedder struct {
	client *genai.Client
	model  string
}

func NewEmbedder(client *genai.Client, model string) *Embedder {
	if model == "" {
		model = "text-embedding-004"
	}
	return &Embedder{client: client, model: model}
}

// EmbedBatch embeds texts with one batchEmbedContents call.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	slog.DebugContext(ctx, "embedding batch", "model", e.model, "size", len(texts))

	em := e.client.EmbeddingModel(e.model)
	em.TaskType = genai.TaskTypeRetrievalDocument
	batch := em.NewBatch()
	for _, t := range texts {
		batch.AddContent(genai.Text(t))
	}

	res, err := em.BatchEmbedContents(ctx, batch)
	if err != nil {
		return nil, classify(err)
	}
	if len(res.Embeddings) != len(texts) {
		return nil, fmt.Errorf("gemini returned %d embeddings for %d texts", len(res.Embeddings), len(texts))
	}

	out := make([][]float32, len(res.Embeddings))
	for i, emb := range res.Embeddings {
		if emb == nil || len(emb.Values) == 0 {
			return nil, fmt.Errorf("empty embedding received at position %d", i)
		}
		out[i] = emb.Values
	}
	return out, nil
}
