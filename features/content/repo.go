package content

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/raai2005/ai-learning-assistant-RAG/internal/apperr"
	"github.com/raai2005/ai-learning-assistant-RAG/internal/record"
)

const contentColumns = `id, content_type, source, title, status, chunks_count, metadata, created_at`

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Create(ctx context.Context, c record.NewContent) (*record.Content, error) {
	meta, err := encodeMetadata(c.Metadata)
	if err != nil {
		return nil, err
	}

	query := `INSERT INTO contents (content_type, source, title, status, metadata)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + contentColumns
	row := r.db.QueryRowContext(ctx, query, string(c.ContentType), c.Source, c.Title, string(record.StatusProcessing), meta)
	return scanContent(row)
}

// Update applies a terminal transition. The status guard makes the write a
// no-op on records that already left processing; those yield
// record.ErrTerminal.
func (r *PostgresRepo) Update(ctx context.Context, id string, u record.Update) (*record.Content, error) {
	if !u.Status.Terminal() {
		return nil, fmt.Errorf("update to non-terminal status %q", u.Status)
	}

	patch := make(map[string]interface{}, len(u.Metadata)+1)
	for k, v := range u.Metadata {
		patch[k] = v
	}
	var chunks sql.NullInt64
	if u.Status == record.StatusProcessed {
		chunks = sql.NullInt64{Int64: int64(u.ChunksCount), Valid: true}
	} else {
		patch["error"] = u.ErrorMessage
	}
	meta, err := encodeMetadata(patch)
	if err != nil {
		return nil, err
	}

	query := `UPDATE contents
		SET status = $2,
			chunks_count = COALESCE($3, chunks_count),
			metadata = metadata || $4::jsonb,
			updated_at = NOW()
		WHERE id = $1 AND status = 'processing'
		RETURNING ` + contentColumns
	c, err := scanContent(r.db.QueryRowContext(ctx, query, id, string(u.Status), chunks, meta))
	if !errors.Is(err, sql.ErrNoRows) {
		return c, err
	}

	existing, getErr := r.Get(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	return nil, fmt.Errorf("%w: %s is %s", record.ErrTerminal, id, existing.Status)
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (*record.Content, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, apperr.NotFound("Content not found.")
	}

	query := `SELECT ` + contentColumns + ` FROM contents WHERE id = $1`
	c, err := scanContent(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("Content not found.")
	}
	return c, err
}

func (r *PostgresRepo) CountByStatus(ctx context.Context) (map[record.Status]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM contents GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[record.Status]int{
		record.StatusProcessing: 0,
		record.StatusProcessed:  0,
		record.StatusFailed:     0,
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[record.Status(status)] = n
	}
	return counts, rows.Err()
}

func scanContent(row *sql.Row) (*record.Content, error) {
	var c record.Content
	var contentType, status string
	var meta []byte
	if err := row.Scan(&c.ID, &contentType, &c.Source, &c.Title, &status, &c.ChunksCount, &meta, &c.CreatedAt); err != nil {
		return nil, err
	}
	c.ContentType = record.ContentType(contentType)
	c.Status = record.Status(status)

	c.Metadata = map[string]interface{}{}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &c.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return &c, nil
}

func encodeMetadata(m map[string]interface{}) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	return b, nil
}
