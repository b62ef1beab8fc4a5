package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/cors"
	"github.com/google/generative-ai-go/genai"
	"github.com/kkdai/youtube/v2"

	"github.com/raai2005/ai-learning-assistant-RAG/features/content"
	"github.com/raai2005/ai-learning-assistant-RAG/features/mcp"
	"github.com/raai2005/ai-learning-assistant-RAG/features/stats"
	"github.com/raai2005/ai-learning-assistant-RAG/features/study"
	"github.com/raai2005/ai-learning-assistant-RAG/internal/adapter/gemini"
	"github.com/raai2005/ai-learning-assistant-RAG/internal/adapter/groq"
	"github.com/raai2005/ai-learning-assistant-RAG/internal/adapter/ollama"
	"github.com/raai2005/ai-learning-assistant-RAG/internal/adapter/reranker"
	"github.com/raai2005/ai-learning-assistant-RAG/internal/blob"
	"github.com/raai2005/ai-learning-assistant-RAG/internal/config"
	"github.com/raai2005/ai-learning-assistant-RAG/internal/embedding"
	"github.com/raai2005/ai-learning-assistant-RAG/internal/extract"
	"github.com/raai2005/ai-learning-assistant-RAG/internal/index"
	"github.com/raai2005/ai-learning-assistant-RAG/internal/llm"
	"github.com/raai2005/ai-learning-assistant-RAG/internal/middleware"
	"github.com/raai2005/ai-learning-assistant-RAG/internal/pipeline"
	"github.com/raai2005/ai-learning-assistant-RAG/internal/prompt"
	"github.com/raai2005/ai-learning-assistant-RAG/internal/retrieval"
	"github.com/raai2005/ai-learning-assistant-RAG/internal/retry"
	"github.com/raai2005/ai-learning-assistant-RAG/internal/text"
	"github.com/raai2005/ai-learning-assistant-RAG/internal/worker"
)

// Options overrides providers built from config. Tests use it to avoid
// network calls.
type Options struct {
	Embedder  embedding.Provider
	Generator llm.Generator
	PDF       pipeline.PDFExtractor
	Video     pipeline.VideoExtractor
}

type App struct {
	Handler      http.Handler
	Orchestrator *pipeline.Orchestrator
	// MemoryQueue is nil when tasks go to NSQ.
	MemoryQueue *worker.MemoryQueue

	queryLog *retrieval.QueryLogger
	port     int
}

// New builds the orchestrator and the HTTP surface. pub may be nil, in which
// case background tasks run on an in-process worker pool started by Run.
func New(cfg *config.Config, db *sql.DB, idx *index.Client, blobs blob.Store, pub worker.Publisher, opts *Options) (*App, error) {
	if opts == nil {
		opts = &Options{}
	}
	ctx := context.Background()
	policy := func(provider string) retry.Policy {
		return retry.Policy{Provider: provider, MaxAttempts: cfg.ProviderMaxAttempts, BaseDelay: cfg.ProviderBaseDelay}
	}

	// Embeddings
	primary := opts.Embedder
	var geminiClient *genai.Client
	if primary == nil && cfg.GeminiAPIKey != "" {
		c, err := gemini.NewClient(ctx, cfg.GeminiAPIKey)
		if err != nil {
			return nil, fmt.Errorf("gemini client error: %w", err)
		}
		geminiClient = c
		primary = gemini.NewEmbedder(c, cfg.EmbeddingModel)
	}
	var fallback embedding.Provider
	switch cfg.EmbeddingFallback {
	case config.FallbackHash:
		fallback = embedding.NewHashEmbedder(cfg.EmbeddingDimension)
	case config.FallbackOllama:
		fallback = ollama.NewClient(cfg.OllamaURL, cfg.OllamaModel)
	}
	if primary == nil && fallback == nil {
		return nil, errors.New("no embedding provider: set GEMINI_API_KEY or EMBEDDING_FALLBACK")
	}
	embedder := embedding.NewService(primary, fallback, embedding.Options{
		Dimension: cfg.EmbeddingDimension,
		BatchSize: cfg.EmbeddingBatchSize,
		Pause:     cfg.EmbeddingPause,
		Timeout:   cfg.EmbeddingTimeout,
		Retry:     policy("Gemini"),
	})

	// Generation
	generator := opts.Generator
	provider := "custom"
	if generator == nil {
		switch cfg.GenerationProvider {
		case config.GenerationGemini:
			if geminiClient == nil {
				if cfg.GeminiAPIKey == "" {
					return nil, errors.New("GEMINI_API_KEY is required for GENERATION_PROVIDER=gemini")
				}
				c, err := gemini.NewClient(ctx, cfg.GeminiAPIKey)
				if err != nil {
					return nil, fmt.Errorf("gemini client error: %w", err)
				}
				geminiClient = c
			}
			generator = gemini.NewGenerator(geminiClient, gemini.GeneratorConfig{
				Model:       cfg.GeminiGenerationModel,
				Temperature: cfg.GenerationTemperature,
				MaxTokens:   cfg.GenerationMaxTokens,
				Timeout:     cfg.GenerationTimeout,
			})
			provider = "Gemini"
		default:
			generator = groq.NewClient(groq.Config{
				APIKey:      cfg.GroqAPIKey,
				BaseURL:     cfg.GroqBaseURL,
				Model:       cfg.GroqModel,
				Temperature: cfg.GenerationTemperature,
				MaxTokens:   cfg.GenerationMaxTokens,
				Timeout:     cfg.GenerationTimeout,
			})
			provider = groq.ProviderName
		}
	}
	generator = llm.NewRetrying(generator, policy(provider))

	prompts, err := loadPrompts(cfg.PromptsPath)
	if err != nil {
		return nil, err
	}

	var tokens text.Counter
	if tc, err := text.Tokens(); err != nil {
		slog.Warn("token counter unavailable, context will not be trimmed", "error", err)
	} else {
		tokens = tc
	}

	// Retrieval
	queryLogger, err := retrieval.NewFileQueryLogger(cfg.QueryLogPath)
	if err != nil {
		slog.Warn("failed to create query logger, falling back to stdout", "error", err)
		queryLogger = retrieval.NewQueryLogger(os.Stdout)
	}
	retriever := retrieval.NewService(embedder, idx, reranker.NewClient(cfg.RerankProvider, cfg.RerankAPIKey), queryLogger)

	// Extraction
	pdf := opts.PDF
	if pdf == nil {
		var pageReader extract.PageReader = extract.NativeReader{}
		if cfg.PDFExtractor == config.ExtractorDocconv {
			pageReader = extract.DocconvReader{}
		}
		pdf = extract.NewPDF(pageReader)
	}
	video := opts.Video
	if video == nil {
		video = extract.NewYouTube(extract.NewKkdaiSource(&youtube.Client{}))
	}

	// Background queue
	var (
		queue    pipeline.Queue
		memQueue *worker.MemoryQueue
	)
	if pub != nil {
		queue = worker.NewNSQQueue(pub, config.TopicIngestContent)
	} else {
		memQueue = worker.NewMemoryQueue(max(cfg.IngestionConcurrency, 1) * 16)
		queue = memQueue
	}

	records := content.NewPostgresRepo(db)
	orch := pipeline.New(pipeline.Deps{
		Records:   records,
		PDF:       pdf,
		Video:     video,
		Chunker:   text.NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap),
		Embedder:  embedder,
		Index:     idx,
		Retriever: retriever,
		Generator: generator,
		Prompts:   prompts,
		Tokens:    tokens,
		Blobs:     blobs,
		Queue:     queue,
	}, pipeline.Options{
		MaxChunks:        cfg.MaxChunks,
		ConsistencyWait:  cfg.ConsistencyWait,
		ChatTopK:         cfg.ChatTopK,
		MaxContextChunks: cfg.MaxContextChunks,
		MaxContextTokens: cfg.MaxContextTokens,
	})

	contentHandler := content.NewHandler(orch, cfg.MaxUploadBytes(), cfg.IngestionMode)
	studyHandler := study.NewHandler(orch)
	statsHandler := stats.NewHandler(records, idx)
	mcpHandler := mcp.NewHandler(orch, retriever)

	// Routes
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/process-pdf", contentHandler.ProcessPDF)
	mux.HandleFunc("POST /api/process-video", contentHandler.ProcessVideo)
	mux.HandleFunc("GET /api/contents/{id}", contentHandler.Get)

	mux.HandleFunc("POST /api/chat", studyHandler.Chat)
	mux.HandleFunc("POST /api/generate-flashcards", studyHandler.Flashcards)
	mux.HandleFunc("POST /api/generate-quiz", studyHandler.Quiz)

	mux.HandleFunc("GET /api/stats", statsHandler.GetStats)

	mux.Handle("POST /mcp", mcpHandler)
	mux.HandleFunc("GET /mcp/sse", mcpHandler.HandleSSE)
	mux.HandleFunc("POST /mcp/messages", mcpHandler.HandleMessage)

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	corsHandler := cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", middleware.HeaderCorrelationID},
		ExposedHeaders:   []string{middleware.HeaderCorrelationID},
		AllowCredentials: true,
	})

	return &App{
		Handler:      corsHandler(middleware.CorrelationID(mux)),
		Orchestrator: orch,
		MemoryQueue:  memQueue,
		queryLog:     queryLogger,
		port:         cfg.ServerPort,
	}, nil
}

func loadPrompts(path string) (*prompt.Catalog, error) {
	if path == "" {
		return prompt.Default()
	}
	catalog, err := prompt.Load(path)
	if err != nil {
		return nil, fmt.Errorf("prompt catalog error: %w", err)
	}
	return catalog, nil
}

// Close releases resources owned by the app. Queued background tasks are
// drained by MemoryQueue.Close, which callers must run first.
func (a *App) Close() {
	if err := a.queryLog.Close(); err != nil {
		slog.Warn("failed to close query log", "error", err)
	}
}

// Run serves HTTP until ctx is cancelled. With an in-process queue it also
// runs the ingestion workers and drains them on shutdown.
func (a *App) Run(ctx context.Context, workers int) error {
	defer a.Close()
	if a.MemoryQueue != nil {
		a.MemoryQueue.Start(ctx, a.Orchestrator, workers)
		defer a.MemoryQueue.Close()
	}

	port := a.port
	if port == 0 {
		port = 8081
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           a.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown failed", "error", err)
		}
	}()

	slog.Info("server starting", "port", port)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}
