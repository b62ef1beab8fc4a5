package pipeline

import (
	"context"

	"github.com/raai2005/ai-learning-assistant-RAG/internal/extract"
	"github.com/raai2005/ai-learning-assistant-RAG/internal/index"
	"github.com/raai2005/ai-learning-assistant-RAG/internal/record"
)

// Records is the content record store. Get returns an apperr.ErrNotFound
// error for unknown ids; Update returns record.ErrTerminal once a record is
// processed or failed.
type Records interface {
	Create(ctx context.Context, c record.NewContent) (*record.Content, error)
	Update(ctx context.Context, id string, u record.Update) (*record.Content, error)
	Get(ctx context.Context, id string) (*record.Content, error)
}

type PDFExtractor interface {
	Extract(ctx context.Context, data []byte) (extract.Document, error)
}

type VideoExtractor interface {
	Extract(ctx context.Context, rawURL string) (extract.Transcript, error)
	Describe(ctx context.Context, id string) extract.VideoInfo
}

type Chunker interface {
	Split(text string) []string
}

type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

type Index interface {
	Upsert(ctx context.Context, contentID string, chunks []string, vectors [][]float32) (int, error)
	FetchAllChunks(ctx context.Context, contentID string, knownCount int) ([]string, error)
}

type Retriever interface {
	Retrieve(ctx context.Context, contentID, query string, topK int) ([]index.Match, error)
}

// Queue hands background ingestion work to a worker.
type Queue interface {
	Enqueue(ctx context.Context, task IngestTask) error
}

// IngestTask is one background ingestion unit. PDF tasks reference staged
// bytes by blob key; video tasks carry the URL.
type IngestTask struct {
	ContentID     string             `json:"content_id"`
	ContentType   record.ContentType `json:"content_type"`
	BlobKey       string             `json:"blob_key,omitempty"`
	URL           string             `json:"url,omitempty"`
	CorrelationID string             `json:"correlation_id,omitempty"`
}

// Result is a completed synchronous ingestion.
type Result struct {
	Content *record.Content
	Pages   int
	// Duration is zero when the video length is unknown.
	Duration int
}

type Answer struct {
	ContentID string   `json:"content_id"`
	Reply     string   `json:"reply"`
	Sources   []string `json:"sources"`
}

type Flashcard struct {
	ID       int    `json:"id"`
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

type QuizOption struct {
	Label string `json:"label"`
	Text  string `json:"text"`
}

type QuizQuestion struct {
	ID            int          `json:"id"`
	Question      string       `json:"question"`
	Options       []QuizOption `json:"options"`
	CorrectAnswer string       `json:"correct_answer"`
}
