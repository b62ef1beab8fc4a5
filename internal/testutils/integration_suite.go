// Package testutils starts the backing services for integration tests.
package testutils

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"runtime"
	"strconv"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/nsqio/go-nsq"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	"github.com/raai2005/ai-learning-assistant-RAG/internal/config"
)

const (
	dbName = "learn_test"
	dbUser = "test"
	dbPass = "test"
)

// IntegrationSuite runs Postgres (with the contents migration applied),
// Weaviate and nsqd in containers.
type IntegrationSuite struct {
	T        *testing.T
	DB       *sql.DB
	Weaviate *weaviate.Client
	NSQ      *nsq.Producer

	dbHost       string
	dbPort       int
	weaviateHost string
	nsqdTCP      string
	nsqdHTTP     string

	pgContainer       *postgres.PostgresContainer
	weaviateContainer testcontainers.Container
	nsqContainer      testcontainers.Container
}

func NewIntegrationSuite(t *testing.T) *IntegrationSuite {
	return &IntegrationSuite{T: t}
}

// MigrationPath is the file:// URL of the repository migrations.
func MigrationPath() string {
	_, b, _, _ := runtime.Caller(0)
	return fmt.Sprintf("file://%s", filepath.Join(filepath.Dir(b), "..", "..", "migrations"))
}

func (s *IntegrationSuite) Setup() {
	ctx := context.Background()

	// 1. Postgres with pgvector so the pgvector backend can run against it too.
	pgContainer, err := postgres.Run(ctx,
		"pgvector/pgvector:pg16",
		postgres.WithDatabase(dbName),
		postgres.WithUsername(dbUser),
		postgres.WithPassword(dbPass),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(s.T, err)
	s.pgContainer = pgContainer

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(s.T, err)

	s.DB, err = sql.Open("postgres", connStr)
	require.NoError(s.T, err)

	m, err := migrate.New(MigrationPath(), connStr)
	require.NoError(s.T, err)
	require.NoError(s.T, m.Up())

	s.dbHost, err = pgContainer.Host(ctx)
	require.NoError(s.T, err)
	pgPort, err := pgContainer.MappedPort(ctx, "5432")
	require.NoError(s.T, err)
	s.dbPort = pgPort.Int()

	// 2. Weaviate
	req := testcontainers.ContainerRequest{
		Image:        "semitechnologies/weaviate:1.28.2",
		ExposedPorts: []string{"8080/tcp", "50051/tcp"},
		Env: map[string]string{
			"AUTHENTICATION_ANONYMOUS_ACCESS_ENABLED": "true",
			"DEFAULT_VECTORIZER_MODULE":               "none",
			"PERSISTENCE_DATA_PATH":                   "/var/lib/weaviate",
		},
		WaitingFor: wait.ForHTTP("/v1/meta").WithPort("8080/tcp").WithStartupTimeout(60 * time.Second),
	}
	weaviateC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(s.T, err)
	s.weaviateContainer = weaviateC

	host, err := weaviateC.Host(ctx)
	require.NoError(s.T, err)
	port, err := weaviateC.MappedPort(ctx, "8080")
	require.NoError(s.T, err)
	s.weaviateHost = fmt.Sprintf("%s:%s", host, port.Port())

	s.Weaviate, err = weaviate.NewClient(weaviate.Config{Host: s.weaviateHost, Scheme: "http"})
	require.NoError(s.T, err)

	// 3. NSQ
	nsqReq := testcontainers.ContainerRequest{
		Image:        "nsqio/nsq:v1.3.0",
		ExposedPorts: []string{"4150/tcp", "4151/tcp"},
		Cmd:          []string{"/nsqd", "--broadcast-address=localhost"},
		WaitingFor:   wait.ForLog("TCP: listening on").WithStartupTimeout(60 * time.Second),
	}
	nsqC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: nsqReq,
		Started:          true,
	})
	require.NoError(s.T, err)
	s.nsqContainer = nsqC

	nsqHost, err := nsqC.Host(ctx)
	require.NoError(s.T, err)
	tcpPort, err := nsqC.MappedPort(ctx, "4150")
	require.NoError(s.T, err)
	httpPort, err := nsqC.MappedPort(ctx, "4151")
	require.NoError(s.T, err)
	s.nsqdTCP = fmt.Sprintf("%s:%s", nsqHost, tcpPort.Port())
	s.nsqdHTTP = fmt.Sprintf("%s:%s", nsqHost, httpPort.Port())

	s.NSQ, err = nsq.NewProducer(s.nsqdTCP, nsq.NewConfig())
	require.NoError(s.T, err)
}

// GetAppConfig returns a configuration pointing at the suite's containers.
func (s *IntegrationSuite) GetAppConfig() *config.Config {
	return &config.Config{
		DBHost:        s.dbHost,
		DBPort:        s.dbPort,
		DBUser:        dbUser,
		DBPass:        dbPass,
		DBName:        dbName,
		MigrationPath: MigrationPath(),

		VectorBackend:      config.VectorBackendWeaviate,
		WeaviateHost:       s.weaviateHost,
		WeaviateScheme:     "http",
		WeaviateClass:      "ContentChunk",
		EmbeddingDimension: 768,

		QueueBackend: config.QueueNSQ,
		NSQDHost:     s.nsqdTCP,
		NSQDHTTP:     s.nsqdHTTP,
		NSQLookupd:   "",

		BootstrapRetryAttempts:     3,
		BootstrapRetryDelaySeconds: 1,
	}
}

// DSN is a lib/pq connection string for the suite database.
func (s *IntegrationSuite) DSN() string {
	return "host=" + s.dbHost + " port=" + strconv.Itoa(s.dbPort) + " user=" + dbUser +
		" password=" + dbPass + " dbname=" + dbName + " sslmode=disable"
}

func (s *IntegrationSuite) Teardown() {
	ctx := context.Background()
	if s.NSQ != nil {
		s.NSQ.Stop()
	}
	if s.DB != nil {
		_ = s.DB.Close()
	}
	if s.pgContainer != nil {
		_ = s.pgContainer.Terminate(ctx)
	}
	if s.weaviateContainer != nil {
		_ = s.weaviateContainer.Terminate(ctx)
	}
	if s.nsqContainer != nil {
		_ = s.nsqContainer.Terminate(ctx)
	}
}
