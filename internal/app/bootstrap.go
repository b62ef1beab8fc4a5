package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/nsqio/go-nsq"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	pgstore "github.com/raai2005/ai-learning-assistant-RAG/internal/adapter/pgvector"
	qstore "github.com/raai2005/ai-learning-assistant-RAG/internal/adapter/qdrant"
	s3store "github.com/raai2005/ai-learning-assistant-RAG/internal/adapter/s3"
	wstore "github.com/raai2005/ai-learning-assistant-RAG/internal/adapter/weaviate"
	"github.com/raai2005/ai-learning-assistant-RAG/internal/blob"
	"github.com/raai2005/ai-learning-assistant-RAG/internal/config"
	"github.com/raai2005/ai-learning-assistant-RAG/internal/index"
)

// SchemaEnsurer creates the vector collection when it is missing.
type SchemaEnsurer interface {
	EnsureSchema(ctx context.Context) error
}

type Dependencies struct {
	DB    *sql.DB
	Index *index.Client
	Blobs blob.Store
	// NSQProducer is nil unless QUEUE_BACKEND=nsq.
	NSQProducer *nsq.Producer
}

// Close releases the connections Bootstrap opened.
func (d *Dependencies) Close() {
	if d.NSQProducer != nil {
		d.NSQProducer.Stop()
	}
	if d.DB != nil {
		if err := d.DB.Close(); err != nil {
			slog.Warn("failed to close db", "error", err)
		}
	}
}

func Bootstrap(ctx context.Context, cfg *config.Config) (*Dependencies, error) {
	// Database
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPass, cfg.DBName)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	retryDelay := cfg.RetryDelay()
	for i := 0; i < cfg.BootstrapRetryAttempts; i++ {
		if err := db.PingContext(ctx); err == nil {
			break
		}
		slog.Warn("failed to ping db, retrying...", "attempt", i+1)
		time.Sleep(retryDelay)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	// Migrations
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("migration driver error: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance(cfg.MigrationPath, "postgres", driver)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("migration instance error: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		db.Close()
		return nil, fmt.Errorf("migration up error: %w", err)
	}

	// Vector index
	backend, err := newBackend(cfg, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	idx := index.New(backend, index.Options{
		BatchSize:       cfg.UpsertBatchSize,
		FetchAttempts:   cfg.FetchAttempts,
		FetchRetryDelay: cfg.FetchRetryDelay,
		ScanLimit:       cfg.FetchScanLimit,
	})
	if err := EnsureSchemaWithRetry(ctx, idx, cfg.BootstrapRetryAttempts, retryDelay); err != nil {
		db.Close()
		return nil, fmt.Errorf("%s schema error: %w", cfg.VectorBackend, err)
	}

	// Staged uploads
	blobs, err := newBlobStore(ctx, cfg)
	if err != nil {
		db.Close()
		return nil, err
	}

	deps := &Dependencies{DB: db, Index: idx, Blobs: blobs}

	if cfg.QueueBackend == config.QueueNSQ {
		producer, err := nsq.NewProducer(cfg.NSQDHost, nsq.NewConfig())
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("nsq producer error: %w", err)
		}
		deps.NSQProducer = producer
		createTopics(cfg.NSQDHTTP)
	}

	return deps, nil
}

func newBackend(cfg *config.Config, db *sql.DB) (index.Backend, error) {
	switch cfg.VectorBackend {
	case config.VectorBackendQdrant:
		client, err := qstore.Dial(cfg.QdrantHost, cfg.QdrantPort, cfg.QdrantAPIKey)
		if err != nil {
			return nil, fmt.Errorf("qdrant client error: %w", err)
		}
		return qstore.NewStore(client, cfg.QdrantCollection, cfg.EmbeddingDimension), nil
	case config.VectorBackendPgvector:
		return pgstore.NewStore(db, cfg.PgvectorTable, cfg.EmbeddingDimension), nil
	default:
		client, err := weaviate.NewClient(weaviate.Config{Host: cfg.WeaviateHost, Scheme: cfg.WeaviateScheme})
		if err != nil {
			return nil, fmt.Errorf("weaviate client error: %w", err)
		}
		return wstore.NewStore(client, cfg.WeaviateClass), nil
	}
}

func newBlobStore(ctx context.Context, cfg *config.Config) (blob.Store, error) {
	if cfg.StorageBackend == config.StorageS3 {
		store, err := s3store.NewStore(ctx, s3store.Config{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.AWSRegion,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.AWSAccessKey,
			SecretKey: cfg.AWSSecretKey,
		})
		if err != nil {
			return nil, fmt.Errorf("s3 store error: %w", err)
		}
		return store, nil
	}
	store, err := blob.NewLocal(cfg.UploadDir)
	if err != nil {
		return nil, fmt.Errorf("upload dir error: %w", err)
	}
	return store, nil
}

func createTopics(nsqdHTTP string) {
	create := func(topic string) {
		url := fmt.Sprintf("http://%s/topic/create?topic=%s", nsqdHTTP, topic)
		resp, err := http.Post(url, "application/json", nil) // #nosec G107 -- URL is built from internal NSQ config, not user input
		if err != nil {
			slog.Warn("failed to create NSQ topic", "topic", topic, "error", err)
			return
		}
		if closeErr := resp.Body.Close(); closeErr != nil {
			slog.Warn("failed to close NSQ topic creation response body", "error", closeErr)
		}
	}

	go func() {
		time.Sleep(2 * time.Second)
		create(config.TopicIngestContent)
	}()
}

// EnsureSchemaWithRetry calls EnsureSchema until it succeeds or attempts run
// out.
func EnsureSchemaWithRetry(ctx context.Context, store SchemaEnsurer, attempts int, delay time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = store.EnsureSchema(ctx); err == nil {
			return nil
		}
		if i < attempts-1 {
			time.Sleep(delay)
		}
	}
	return err
}
