package weaviate

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-openapi/strfmt"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/raai2005/ai-learning-assistant-RAG/internal/index"
	"github.com/raai2005/ai-learning-assistant-RAG/internal/vector"
)

// Store is the Weaviate index.Backend. Objects get a UUID derived from the
// chunk key; the key itself is kept in the chunkKey property.
type Store struct {
	client *weaviate.Client
	class  string
}

func NewStore(client *weaviate.Client, class string) *Store {
	if class == "" {
		class = "ContentChunk"
	}
	return &Store{client: client, class: class}
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	return vector.EnsureSchema(ctx, schemaAdapter{client: s.client}, s.class)
}

func (s *Store) Upsert(ctx context.Context, records []index.Record) error {
	objects := make([]*models.Object, 0, len(records))
	for _, r := range records {
		objects = append(objects, &models.Object{
			Class: s.class,
			ID:    strfmt.UUID(index.ObjectID(r.ID).String()),
			Properties: map[string]interface{}{
				"text":       r.Text,
				"contentId":  r.ContentID,
				"chunkIndex": r.ChunkIndex,
				"chunkKey":   r.ID,
			},
			Vector: r.Values,
		})
	}

	res, err := s.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		return err
	}

	var failed []string
	for _, r := range res {
		if r.Result != nil && r.Result.Errors != nil {
			for _, e := range r.Result.Errors.Error {
				failed = append(failed, e.Message)
			}
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("batch upsert: %d object errors: %s", len(failed), strings.Join(failed, "; "))
	}
	return nil
}

func (s *Store) Query(ctx context.Context, vec []float32, contentID string, topK int) ([]index.Match, error) {
	nearVector := s.client.GraphQL().NearVectorArgBuilder().WithVector(vec)

	res, err := s.client.GraphQL().Get().
		WithClassName(s.class).
		WithNearVector(nearVector).
		WithWhere(contentFilter(contentID)).
		WithLimit(topK).
		WithFields(chunkFields(true)...).
		Do(ctx)
	if err != nil {
		return nil, err
	}
	if len(res.Errors) > 0 {
		return nil, fmt.Errorf("graphql error: %v", res.Errors[0].Message)
	}
	return s.parse(res.Data), nil
}

// Fetch looks objects up by chunk key.
func (s *Store) Fetch(ctx context.Context, ids []string) ([]index.Match, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	operands := make([]*filters.WhereBuilder, 0, len(ids))
	for _, id := range ids {
		operands = append(operands, filters.Where().
			WithPath([]string{"chunkKey"}).
			WithOperator(filters.Equal).
			WithValueString(id))
	}
	where := operands[0]
	if len(operands) > 1 {
		where = filters.Where().WithOperator(filters.Or).WithOperands(operands)
	}

	res, err := s.client.GraphQL().Get().
		WithClassName(s.class).
		WithWhere(where).
		WithLimit(len(ids)).
		WithFields(chunkFields(false)...).
		Do(ctx)
	if err != nil {
		return nil, err
	}
	if len(res.Errors) > 0 {
		return nil, fmt.Errorf("graphql error: %v", res.Errors[0].Message)
	}
	return s.parse(res.Data), nil
}

// Scan is a filter-only read; Weaviate needs no query vector for it.
func (s *Store) Scan(ctx context.Context, contentID string, limit int) ([]index.Match, error) {
	res, err := s.client.GraphQL().Get().
		WithClassName(s.class).
		WithWhere(contentFilter(contentID)).
		WithLimit(limit).
		WithFields(chunkFields(false)...).
		Do(ctx)
	if err != nil {
		return nil, err
	}
	if len(res.Errors) > 0 {
		return nil, fmt.Errorf("graphql error: %v", res.Errors[0].Message)
	}
	return s.parse(res.Data), nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	res, err := s.client.GraphQL().Aggregate().
		WithClassName(s.class).
		WithFields(graphql.Field{Name: "meta", Fields: []graphql.Field{{Name: "count"}}}).
		Do(ctx)
	if err != nil {
		return 0, err
	}
	if len(res.Errors) > 0 {
		return 0, fmt.Errorf("graphql error: %v", res.Errors[0].Message)
	}

	agg, ok := res.Data["Aggregate"].(map[string]interface{})
	if !ok {
		return 0, nil
	}
	groups, ok := agg[s.class].([]interface{})
	if !ok || len(groups) == 0 {
		return 0, nil
	}
	group, _ := groups[0].(map[string]interface{})
	meta, _ := group["meta"].(map[string]interface{})
	count, _ := meta["count"].(float64)
	return int(count), nil
}

func contentFilter(contentID string) *filters.WhereBuilder {
	return filters.Where().
		WithPath([]string{"contentId"}).
		WithOperator(filters.Equal).
		WithValueString(contentID)
}

func chunkFields(withDistance bool) []graphql.Field {
	fields := []graphql.Field{
		{Name: "text"},
		{Name: "contentId"},
		{Name: "chunkIndex"},
		{Name: "chunkKey"},
	}
	if withDistance {
		fields = append(fields, graphql.Field{Name: "_additional", Fields: []graphql.Field{{Name: "distance"}}})
	}
	return fields
}

func (s *Store) parse(data map[string]models.JSONObject) []index.Match {
	get, ok := data["Get"].(map[string]interface{})
	if !ok {
		return nil
	}
	objects, ok := get[s.class].([]interface{})
	if !ok {
		return nil
	}

	matches := make([]index.Match, 0, len(objects))
	for _, o := range objects {
		props, ok := o.(map[string]interface{})
		if !ok {
			continue
		}
		m := index.Match{}
		if v, ok := props["text"].(string); ok {
			m.Text = v
		}
		if v, ok := props["contentId"].(string); ok {
			m.ContentID = v
		}
		if v, ok := props["chunkIndex"].(float64); ok {
			m.ChunkIndex = int(v)
		}
		if v, ok := props["chunkKey"].(string); ok {
			m.ID = v
		}
		if additional, ok := props["_additional"].(map[string]interface{}); ok {
			if d, ok := additional["distance"].(float64); ok {
				m.Score = float32(1 - d)
			}
		}
		matches = append(matches, m)
	}
	return matches
}
