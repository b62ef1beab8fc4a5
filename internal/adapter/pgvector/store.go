// Package pgvector stores chunk vectors in Postgres with the pgvector
// extension, next to the content records.
package pgvector

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/raai2005/ai-learning-assistant-RAG/internal/index"
)

type Store struct {
	db        *sql.DB
	table     string
	dimension int
}

func NewStore(db *sql.DB, table string, dimension int) *Store {
	if table == "" {
		table = "content_chunks"
	}
	return &Store{db: db, table: pq.QuoteIdentifier(table), dimension: dimension}
}

// EnsureSchema creates the chunk table. The embedding column is sized at
// runtime from the configured dimension, so it lives here rather than in a
// migration.
func (s *Store) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			content_id TEXT NOT NULL,
			chunk_index INTEGER NOT NULL,
			text TEXT NOT NULL,
			embedding vector(%d) NOT NULL
		)`, s.table, s.dimension),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (content_id, chunk_index)`,
			pq.QuoteIdentifier("idx_chunks_content"), s.table),
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure pgvector schema: %w", err)
		}
	}
	return nil
}

func (s *Store) Upsert(ctx context.Context, records []index.Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := fmt.Sprintf(`INSERT INTO %s (id, content_id, chunk_index, text, embedding) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET text = EXCLUDED.text, embedding = EXCLUDED.embedding`, s.table)
	for _, r := range records {
		if _, err := tx.ExecContext(ctx, query, r.ID, r.ContentID, r.ChunkIndex, r.Text, pgvector.NewVector(r.Values)); err != nil {
			return fmt.Errorf("upsert %s: %w", r.ID, err)
		}
	}
	return tx.Commit()
}

func (s *Store) Query(ctx context.Context, vector []float32, contentID string, topK int) ([]index.Match, error) {
	query := fmt.Sprintf(`SELECT id, content_id, chunk_index, text, 1 - (embedding <=> $1) AS score
		FROM %s WHERE content_id = $2 ORDER BY embedding <=> $1 LIMIT $3`, s.table)
	return s.collect(ctx, true, query, pgvector.NewVector(vector), contentID, topK)
}

func (s *Store) Fetch(ctx context.Context, ids []string) ([]index.Match, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`SELECT id, content_id, chunk_index, text FROM %s WHERE id = ANY($1)`, s.table)
	return s.collect(ctx, false, query, pq.Array(ids))
}

func (s *Store) Scan(ctx context.Context, contentID string, limit int) ([]index.Match, error) {
	query := fmt.Sprintf(`SELECT id, content_id, chunk_index, text FROM %s WHERE content_id = $1 ORDER BY chunk_index LIMIT $2`, s.table)
	return s.collect(ctx, false, query, contentID, limit)
}

func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, s.table)).Scan(&n)
	return n, err
}

func (s *Store) collect(ctx context.Context, scored bool, query string, args ...interface{}) ([]index.Match, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []index.Match
	for rows.Next() {
		var m index.Match
		dest := []interface{}{&m.ID, &m.ContentID, &m.ChunkIndex, &m.Text}
		var score float64
		if scored {
			dest = append(dest, &score)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		m.Score = float32(score)
		out = append(out, m)
	}
	return out, rows.Err()
}
