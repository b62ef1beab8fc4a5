package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var (
	ErrMissingRequired = errors.New("missing required configuration")
	ErrInvalidValue    = errors.New("invalid configuration value")
)

const (
	VectorBackendWeaviate = "weaviate"
	VectorBackendQdrant   = "qdrant"
	VectorBackendPgvector = "pgvector"

	QueueMemory = "memory"
	QueueNSQ    = "nsq"

	StorageLocal = "local"
	StorageS3    = "s3"

	FallbackHash   = "hash"
	FallbackOllama = "ollama"
	FallbackNone   = "none"

	GenerationGroq   = "groq"
	GenerationGemini = "gemini"

	ExtractorNative  = "native"
	ExtractorDocconv = "docconv"

	ModeSync       = "sync"
	ModeBackground = "background"
)

type Config struct {
	DBHost string `envconfig:"DB_HOST" default:"postgres"`
	DBPort int    `envconfig:"DB_PORT" default:"5432"`
	DBUser string `envconfig:"DB_USER" default:"learn"`
	DBPass string `envconfig:"DB_PASS" default:"password"`
	DBName string `envconfig:"DB_NAME" default:"learn"`

	MigrationPath string `envconfig:"MIGRATION_PATH" default:"file://migrations"`

	// Vector index
	VectorBackend    string `envconfig:"VECTOR_BACKEND" default:"weaviate"`
	WeaviateHost     string `envconfig:"WEAVIATE_HOST" default:"localhost:8080"`
	WeaviateScheme   string `envconfig:"WEAVIATE_SCHEME" default:"http"`
	WeaviateClass    string `envconfig:"WEAVIATE_CLASS" default:"ContentChunk"`
	QdrantHost       string `envconfig:"QDRANT_HOST" default:"localhost"`
	QdrantPort       int    `envconfig:"QDRANT_PORT" default:"6334"`
	QdrantAPIKey     string `envconfig:"QDRANT_API_KEY"`
	QdrantCollection string `envconfig:"QDRANT_COLLECTION" default:"content_chunks"`
	PgvectorTable    string `envconfig:"PGVECTOR_TABLE" default:"content_chunks"`

	UpsertBatchSize int           `envconfig:"UPSERT_BATCH_SIZE" default:"100"`
	ConsistencyWait time.Duration `envconfig:"CONSISTENCY_WAIT" default:"2s"`
	FetchAttempts   int           `envconfig:"FETCH_ATTEMPTS" default:"3"`
	FetchRetryDelay time.Duration `envconfig:"FETCH_RETRY_DELAY" default:"1500ms"`
	FetchScanLimit  int           `envconfig:"FETCH_SCAN_LIMIT" default:"1000"`

	// Embeddings
	GeminiAPIKey       string        `envconfig:"GEMINI_API_KEY"`
	EmbeddingModel     string        `envconfig:"EMBEDDING_MODEL" default:"text-embedding-004"`
	EmbeddingDimension int           `envconfig:"EMBEDDING_DIMENSION" default:"768"`
	EmbeddingBatchSize int           `envconfig:"EMBEDDING_BATCH_SIZE" default:"50"`
	EmbeddingPause     time.Duration `envconfig:"EMBEDDING_BATCH_PAUSE" default:"200ms"`
	EmbeddingTimeout   time.Duration `envconfig:"EMBEDDING_TIMEOUT" default:"30s"`
	EmbeddingFallback  string        `envconfig:"EMBEDDING_FALLBACK" default:"hash"`
	OllamaURL          string        `envconfig:"OLLAMA_URL" default:"http://localhost:11434"`
	OllamaModel        string        `envconfig:"OLLAMA_MODEL" default:"nomic-embed-text"`

	// Provider retry policy, shared by embedding and generation.
	ProviderMaxAttempts int           `envconfig:"PROVIDER_MAX_ATTEMPTS" default:"5"`
	ProviderBaseDelay   time.Duration `envconfig:"PROVIDER_BASE_DELAY" default:"1s"`

	// Generation
	GenerationProvider    string        `envconfig:"GENERATION_PROVIDER" default:"groq"`
	GroqAPIKey            string        `envconfig:"GROQ_API_KEY"`
	GroqBaseURL           string        `envconfig:"GROQ_BASE_URL" default:"https://api.groq.com/openai/v1"`
	GroqModel             string        `envconfig:"GROQ_MODEL" default:"llama-3.1-8b-instant"`
	GeminiGenerationModel string        `envconfig:"GEMINI_GENERATION_MODEL" default:"gemini-2.0-flash"`
	GenerationTemperature float32       `envconfig:"GENERATION_TEMPERATURE" default:"0.7"`
	GenerationMaxTokens   int           `envconfig:"GENERATION_MAX_TOKENS" default:"2048"`
	GenerationTimeout     time.Duration `envconfig:"GENERATION_TIMEOUT" default:"60s"`
	PromptsPath           string        `envconfig:"PROMPTS_PATH"`

	// Reranking
	RerankProvider string `envconfig:"RERANK_PROVIDER" default:"none"`
	RerankAPIKey   string `envconfig:"RERANK_API_KEY"`

	// Pipeline
	ChunkSize        int    `envconfig:"CHUNK_SIZE" default:"1000"`
	ChunkOverlap     int    `envconfig:"CHUNK_OVERLAP" default:"250"`
	MaxChunks        int    `envconfig:"MAX_CHUNKS" default:"200"`
	ChatTopK         int    `envconfig:"CHAT_TOP_K" default:"5"`
	MaxContextChunks int    `envconfig:"MAX_CONTEXT_CHUNKS" default:"20"`
	MaxContextTokens int    `envconfig:"MAX_CONTEXT_TOKENS" default:"12000"`
	PDFExtractor     string `envconfig:"PDF_EXTRACTOR" default:"native"`
	IngestionMode    string `envconfig:"INGESTION_MODE" default:"sync"`

	// Background ingestion
	QueueBackend         string `envconfig:"QUEUE_BACKEND" default:"memory"`
	IngestionConcurrency int    `envconfig:"INGESTION_CONCURRENCY" default:"4"`
	NSQLookupd           string `envconfig:"NSQ_LOOKUPD" default:"nsqlookupd:4161"`
	NSQDHost             string `envconfig:"NSQD_HOST" default:"nsqd:4150"`
	NSQDHTTP             string `envconfig:"NSQD_HTTP" default:"nsqd:4151"`

	// Staged uploads
	StorageBackend string `envconfig:"STORAGE_BACKEND" default:"local"`
	UploadDir      string `envconfig:"UPLOAD_DIR" default:"./uploads"`
	S3Bucket       string `envconfig:"S3_BUCKET"`
	S3Endpoint     string `envconfig:"S3_ENDPOINT"`
	AWSRegion      string `envconfig:"AWS_REGION"`
	AWSAccessKey   string `envconfig:"AWS_ACCESS_KEY_ID"`
	AWSSecretKey   string `envconfig:"AWS_SECRET_ACCESS_KEY"`

	// Server
	ServerPort         int      `envconfig:"SERVER_PORT" default:"8081"`
	QueryLogPath       string   `envconfig:"QUERY_LOG_PATH" default:"data/logs/query.log"`
	MaxUploadSizeMB    int64    `envconfig:"MAX_UPLOAD_SIZE_MB" default:"25"`
	CORSAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"http://localhost:3000"`

	// Resilience
	BootstrapRetryAttempts     int `envconfig:"BOOTSTRAP_RETRY_ATTEMPTS" default:"10"`
	BootstrapRetryDelaySeconds int `envconfig:"BOOTSTRAP_RETRY_DELAY_SECONDS" default:"2"`
}

func Load() (*Config, error) {
	// Env vars may already be set in the shell, so a missing .env is fine.
	_ = godotenv.Load(".env")

	cwd, _ := os.Getwd()
	_ = godotenv.Load(filepath.Join(cwd, "../.env"))

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.DBHost == "" {
		return fmt.Errorf("%w: DB_HOST", ErrMissingRequired)
	}
	if c.DBUser == "" {
		return fmt.Errorf("%w: DB_USER", ErrMissingRequired)
	}
	if c.DBName == "" {
		return fmt.Errorf("%w: DB_NAME", ErrMissingRequired)
	}

	if c.EmbeddingDimension <= 0 {
		return fmt.Errorf("%w: EMBEDDING_DIMENSION must be positive", ErrInvalidValue)
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("%w: CHUNK_SIZE must be positive", ErrInvalidValue)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("%w: CHUNK_OVERLAP must be in [0, CHUNK_SIZE)", ErrInvalidValue)
	}
	if c.MaxChunks <= 0 {
		return fmt.Errorf("%w: MAX_CHUNKS must be positive", ErrInvalidValue)
	}

	enums := []struct {
		name    string
		value   string
		allowed []string
	}{
		{"VECTOR_BACKEND", c.VectorBackend, []string{VectorBackendWeaviate, VectorBackendQdrant, VectorBackendPgvector}},
		{"QUEUE_BACKEND", c.QueueBackend, []string{QueueMemory, QueueNSQ}},
		{"STORAGE_BACKEND", c.StorageBackend, []string{StorageLocal, StorageS3}},
		{"EMBEDDING_FALLBACK", c.EmbeddingFallback, []string{FallbackHash, FallbackOllama, FallbackNone}},
		{"GENERATION_PROVIDER", c.GenerationProvider, []string{GenerationGroq, GenerationGemini}},
		{"PDF_EXTRACTOR", c.PDFExtractor, []string{ExtractorNative, ExtractorDocconv}},
		{"INGESTION_MODE", c.IngestionMode, []string{ModeSync, ModeBackground}},
	}
	for _, e := range enums {
		if !contains(e.allowed, e.value) {
			return fmt.Errorf("%w: %s=%q (allowed: %v)", ErrInvalidValue, e.name, e.value, e.allowed)
		}
	}

	if c.StorageBackend == StorageS3 && c.S3Bucket == "" {
		return fmt.Errorf("%w: S3_BUCKET", ErrMissingRequired)
	}

	return nil
}

// RetryDelay is the pause between bootstrap connection attempts.
func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.BootstrapRetryDelaySeconds) * time.Second
}

func (c *Config) MaxUploadBytes() int64 {
	return c.MaxUploadSizeMB << 20
}

func contains(values []string, v string) bool {
	for _, a := range values {
		if a == v {
			return true
		}
	}
	return false
}
