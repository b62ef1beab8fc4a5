// Package pipeline sequences extraction, chunking, embedding and indexing
// into ingestion workflows, and retrieval plus generation into the study
// workflows. It owns the content lifecycle: a record is created processing
// and written exactly once more, as processed or failed.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"runtime/debug"
	"strings"
	"time"

	"github.com/raai2005/ai-learning-assistant-RAG/internal/apperr"
	"github.com/raai2005/ai-learning-assistant-RAG/internal/blob"
	"github.com/raai2005/ai-learning-assistant-RAG/internal/extract"
	"github.com/raai2005/ai-learning-assistant-RAG/internal/llm"
	"github.com/raai2005/ai-learning-assistant-RAG/internal/logger"
	"github.com/raai2005/ai-learning-assistant-RAG/internal/middleware"
	"github.com/raai2005/ai-learning-assistant-RAG/internal/prompt"
	"github.com/raai2005/ai-learning-assistant-RAG/internal/record"
	"github.com/raai2005/ai-learning-assistant-RAG/internal/text"
)

const (
	DefaultMaxChunks        = 200
	DefaultChatTopK         = 5
	DefaultMaxContextChunks = 20
	DefaultMaxContextTokens = 12000
)

type Options struct {
	// MaxChunks caps the chunks indexed per item; the rest are dropped.
	MaxChunks int
	// ConsistencyWait is slept after upsert so the index can serve the new
	// vectors before the item is reported processed.
	ConsistencyWait  time.Duration
	ChatTopK         int
	MaxContextChunks int
	MaxContextTokens int
}

func (o Options) withDefaults() Options {
	if o.MaxChunks <= 0 {
		o.MaxChunks = DefaultMaxChunks
	}
	if o.ChatTopK <= 0 {
		o.ChatTopK = DefaultChatTopK
	}
	if o.MaxContextChunks <= 0 {
		o.MaxContextChunks = DefaultMaxContextChunks
	}
	if o.MaxContextTokens <= 0 {
		o.MaxContextTokens = DefaultMaxContextTokens
	}
	return o
}

// Deps are the collaborators the orchestrator drives. Blobs and Queue are
// only needed for background ingestion; Tokens may be nil to disable context
// trimming.
type Deps struct {
	Records   Records
	PDF       PDFExtractor
	Video     VideoExtractor
	Chunker   Chunker
	Embedder  Embedder
	Index     Index
	Retriever Retriever
	Generator llm.Generator
	Prompts   *prompt.Catalog
	Tokens    text.Counter
	Blobs     blob.Store
	Queue     Queue
}

type Orchestrator struct {
	Deps
	opts Options
}

func New(deps Deps, opts Options) *Orchestrator {
	return &Orchestrator{Deps: deps, opts: opts.withDefaults()}
}

// Get returns the current record for id.
func (o *Orchestrator) Get(ctx context.Context, id string) (*record.Content, error) {
	if strings.TrimSpace(id) == "" {
		return nil, apperr.Input("content_id is required.")
	}
	return o.Records.Get(ctx, id)
}

// IngestPDF runs the whole PDF pipeline inside the caller's request.
func (o *Orchestrator) IngestPDF(ctx context.Context, filename string, data []byte) (Result, error) {
	c, err := o.Records.Create(ctx, newPDFContent(filename, data))
	if err != nil {
		return Result{}, fmt.Errorf("create content record: %w", err)
	}

	var pages int
	done, err := o.process(ctx, c, func(ctx context.Context) (string, map[string]interface{}, error) {
		doc, err := o.PDF.Extract(ctx, data)
		if err != nil {
			return "", nil, err
		}
		pages = doc.Pages
		return doc.Text, map[string]interface{}{"pages_count": doc.Pages}, nil
	})
	if err != nil {
		return Result{}, err
	}
	return Result{Content: done, Pages: pages}, nil
}

// IngestVideo runs the whole transcript pipeline inside the caller's request.
// A URL without a resolvable video id is rejected before any record exists.
func (o *Orchestrator) IngestVideo(ctx context.Context, rawURL string) (Result, error) {
	c, info, err := o.createVideo(ctx, rawURL)
	if err != nil {
		return Result{}, err
	}

	done, err := o.process(ctx, c, o.loadVideo(rawURL))
	if err != nil {
		return Result{}, err
	}
	return Result{Content: done, Duration: seconds(info.Duration)}, nil
}

// StartPDF stages the upload and queues its ingestion. The returned record
// is still processing; callers poll Get for the outcome.
func (o *Orchestrator) StartPDF(ctx context.Context, filename string, data []byte) (*record.Content, error) {
	if o.Blobs == nil || o.Queue == nil {
		return nil, errors.New("background ingestion is not configured")
	}

	c, err := o.Records.Create(ctx, newPDFContent(filename, data))
	if err != nil {
		return nil, fmt.Errorf("create content record: %w", err)
	}
	ctx = logger.WithContentID(ctx, c.ID)

	key := blob.UploadKey(c.ID)
	if err := o.Blobs.Put(ctx, key, data); err != nil {
		return nil, o.fail(ctx, c.ID, fmt.Errorf("stage upload: %w", err))
	}

	task := IngestTask{
		ContentID:     c.ID,
		ContentType:   record.TypePDF,
		BlobKey:       key,
		CorrelationID: middleware.GetCorrelationID(ctx),
	}
	if err := o.Queue.Enqueue(ctx, task); err != nil {
		if delErr := o.Blobs.Delete(context.WithoutCancel(ctx), key); delErr != nil {
			slog.WarnContext(ctx, "failed to remove staged upload", "key", key, "error", delErr)
		}
		return nil, o.fail(ctx, c.ID, fmt.Errorf("enqueue ingestion: %w", err))
	}

	slog.InfoContext(ctx, "pdf ingestion queued", "filename", filename)
	return c, nil
}

// StartVideo queues transcript ingestion for rawURL.
func (o *Orchestrator) StartVideo(ctx context.Context, rawURL string) (*record.Content, error) {
	if o.Queue == nil {
		return nil, errors.New("background ingestion is not configured")
	}

	c, _, err := o.createVideo(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	ctx = logger.WithContentID(ctx, c.ID)

	task := IngestTask{
		ContentID:     c.ID,
		ContentType:   record.TypeVideo,
		URL:           rawURL,
		CorrelationID: middleware.GetCorrelationID(ctx),
	}
	if err := o.Queue.Enqueue(ctx, task); err != nil {
		return nil, o.fail(ctx, c.ID, fmt.Errorf("enqueue ingestion: %w", err))
	}

	slog.InfoContext(ctx, "video ingestion queued", "url", rawURL)
	return c, nil
}

// RunTask executes one background ingestion to completion. It ignores
// cancellation of ctx, recovers panics and always leaves the record in a
// terminal state. Tasks for records that are already terminal are skipped.
func (o *Orchestrator) RunTask(ctx context.Context, task IngestTask) (err error) {
	ctx = context.WithoutCancel(ctx)
	if task.CorrelationID != "" {
		ctx = middleware.WithCorrelationID(ctx, task.CorrelationID)
	}
	ctx = logger.WithContentID(ctx, task.ContentID)

	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "ingestion task panicked", "panic", r, "stack", string(debug.Stack()))
			err = o.fail(ctx, task.ContentID, fmt.Errorf("internal error during processing: %v", r))
		}
	}()

	if task.ContentType == record.TypePDF {
		defer o.discard(ctx, task.BlobKey)
	}

	c, err := o.Records.Get(ctx, task.ContentID)
	if errors.Is(err, apperr.ErrNotFound) {
		slog.WarnContext(ctx, "dropping ingestion task for unknown record")
		return err
	}
	if err != nil {
		// The record exists but could not be read. Mark it failed so it does
		// not stay in processing once the task is dropped.
		return o.fail(ctx, task.ContentID, fmt.Errorf("load content record: %w", err))
	}
	if c.Status.Terminal() {
		slog.InfoContext(ctx, "skipping ingestion task for finished record", "status", c.Status)
		return nil
	}

	var load loader
	switch task.ContentType {
	case record.TypePDF:
		load = func(ctx context.Context) (string, map[string]interface{}, error) {
			data, err := o.Blobs.Get(ctx, task.BlobKey)
			if err != nil {
				return "", nil, fmt.Errorf("read staged upload: %w", err)
			}
			doc, err := o.PDF.Extract(ctx, data)
			if err != nil {
				return "", nil, err
			}
			return doc.Text, map[string]interface{}{"pages_count": doc.Pages}, nil
		}
	case record.TypeVideo:
		load = o.loadVideo(task.URL)
	default:
		return o.fail(ctx, task.ContentID, apperr.Input(fmt.Sprintf("Unsupported content type %q.", task.ContentType)))
	}

	_, err = o.process(ctx, c, load)
	return err
}

// loader produces the text of an item plus metadata to store with it.
type loader func(ctx context.Context) (string, map[string]interface{}, error)

func (o *Orchestrator) loadVideo(rawURL string) loader {
	return func(ctx context.Context) (string, map[string]interface{}, error) {
		t, err := o.Video.Extract(ctx, rawURL)
		if err != nil {
			return "", nil, err
		}
		return t.Text, map[string]interface{}{"transcript_language": t.Language}, nil
	}
}

func (o *Orchestrator) createVideo(ctx context.Context, rawURL string) (*record.Content, extract.VideoInfo, error) {
	id, err := extract.VideoID(rawURL)
	if err != nil {
		return nil, extract.VideoInfo{}, err
	}

	info := o.Video.Describe(ctx, id)
	meta := map[string]interface{}{"video_id": id}
	if d := seconds(info.Duration); d > 0 {
		meta["duration"] = d
	}

	c, err := o.Records.Create(ctx, record.NewContent{
		ContentType: record.TypeVideo,
		Source:      rawURL,
		Title:       info.Title,
		Metadata:    meta,
	})
	if err != nil {
		return nil, info, fmt.Errorf("create content record: %w", err)
	}
	return c, info, nil
}

// process runs load → chunk → embed → upsert for an existing record and
// writes the terminal state. On failure the original error is returned.
func (o *Orchestrator) process(ctx context.Context, c *record.Content, load loader) (*record.Content, error) {
	ctx = logger.WithContentID(ctx, c.ID)
	start := time.Now()

	body, meta, err := load(ctx)
	if err != nil {
		return nil, o.fail(ctx, c.ID, err)
	}

	n, err := o.index(ctx, c.ID, body)
	if err != nil {
		return nil, o.fail(ctx, c.ID, err)
	}

	done, err := o.Records.Update(ctx, c.ID, record.Update{
		Status:      record.StatusProcessed,
		ChunksCount: n,
		Metadata:    meta,
	})
	if err != nil {
		return nil, o.fail(ctx, c.ID, fmt.Errorf("mark processed: %w", err))
	}

	slog.InfoContext(ctx, "content processed", "chunks", n, "duration_ms", time.Since(start).Milliseconds())
	return done, nil
}

func (o *Orchestrator) index(ctx context.Context, contentID, body string) (int, error) {
	chunks := o.Chunker.Split(text.Normalize(body))
	if len(chunks) == 0 {
		return 0, apperr.Extraction("No text could be extracted from this content.", nil)
	}
	if len(chunks) > o.opts.MaxChunks {
		slog.WarnContext(ctx, "chunk cap reached, dropping tail", "chunks", len(chunks), "cap", o.opts.MaxChunks)
		chunks = chunks[:o.opts.MaxChunks]
	}

	vectors, err := o.Embedder.Embed(ctx, chunks)
	if err != nil {
		return 0, fmt.Errorf("embed chunks: %w", err)
	}

	n, err := o.Index.Upsert(ctx, contentID, chunks, vectors)
	if err != nil {
		return 0, fmt.Errorf("upsert chunks: %w", err)
	}

	if err := sleep(ctx, o.opts.ConsistencyWait); err != nil {
		return 0, err
	}
	return n, nil
}

// fail records cause on the content record and returns it unchanged. A
// failing write is logged, never returned in place of cause.
func (o *Orchestrator) fail(ctx context.Context, id string, cause error) error {
	ctx = context.WithoutCancel(ctx)
	if apperr.Classified(cause) {
		slog.WarnContext(ctx, "content processing failed", "error", cause)
	} else {
		slog.ErrorContext(ctx, "content processing failed", "error", cause)
	}

	_, err := o.Records.Update(ctx, id, record.Update{
		Status:       record.StatusFailed,
		ErrorMessage: apperr.Describe(cause),
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to mark content failed", "error", err)
	}
	return cause
}

func (o *Orchestrator) discard(ctx context.Context, key string) {
	if o.Blobs == nil || key == "" {
		return
	}
	if err := o.Blobs.Delete(ctx, key); err != nil && !errors.Is(err, blob.ErrNotFound) {
		slog.WarnContext(ctx, "failed to remove staged upload", "key", key, "error", err)
	}
}

func newPDFContent(filename string, data []byte) record.NewContent {
	if filename == "" {
		filename = "unknown.pdf"
	}
	sizeMB := math.Round(float64(len(data))/(1<<20)*100) / 100
	return record.NewContent{
		ContentType: record.TypePDF,
		Source:      filename,
		Title:       filename,
		Metadata:    map[string]interface{}{"file_size_mb": sizeMB},
	}
}

func seconds(d time.Duration) int {
	return int(d.Round(time.Second) / time.Second)
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
