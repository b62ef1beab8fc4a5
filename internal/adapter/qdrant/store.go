// Package qdrant is the Qdrant index.Backend.
package qdrant

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"

	"github.com/raai2005/ai-learning-assistant-RAG/internal/index"
)

// pointsAPI is the subset of *qdrant.Client the store uses.
type pointsAPI interface {
	CollectionExists(ctx context.Context, collectionName string) (bool, error)
	CreateCollection(ctx context.Context, request *qdrant.CreateCollection) error
	CreateFieldIndex(ctx context.Context, request *qdrant.CreateFieldIndexCollection) (*qdrant.UpdateResult, error)
	Upsert(ctx context.Context, request *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	Query(ctx context.Context, request *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
	Get(ctx context.Context, request *qdrant.GetPoints) ([]*qdrant.RetrievedPoint, error)
	Scroll(ctx context.Context, request *qdrant.ScrollPoints) ([]*qdrant.RetrievedPoint, error)
	Count(ctx context.Context, request *qdrant.CountPoints) (uint64, error)
}

type Store struct {
	client     pointsAPI
	collection string
	dimension  uint64
}

func NewStore(client pointsAPI, collection string, dimension int) *Store {
	return &Store{client: client, collection: collection, dimension: uint64(dimension)}
}

// Dial connects to Qdrant over gRPC.
func Dial(host string, port int, apiKey string) (*qdrant.Client, error) {
	return qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: apiKey,
	})
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("check collection: %w", err)
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     s.dimension,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("create collection %s: %w", s.collection, err)
	}

	_, err = s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: s.collection,
		FieldName:      "content_id",
		FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
	})
	return err
}

func (s *Store) Upsert(ctx context.Context, records []index.Record) error {
	points := make([]*qdrant.PointStruct, 0, len(records))
	for _, r := range records {
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewID(index.ObjectID(r.ID).String()),
			Vectors: qdrant.NewVectors(r.Values...),
			Payload: qdrant.NewValueMap(map[string]interface{}{
				"content_id":  r.ContentID,
				"chunk_index": r.ChunkIndex,
				"chunk_key":   r.ID,
				"text":        r.Text,
			}),
		})
	}

	wait := true
	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points:         points,
	})
	return err
}

func (s *Store) Query(ctx context.Context, vector []float32, contentID string, topK int) ([]index.Match, error) {
	limit := uint64(topK)
	hits, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          &limit,
		Filter:         contentFilter(contentID),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, err
	}

	out := make([]index.Match, 0, len(hits))
	for _, h := range hits {
		m := fromPayload(h.GetPayload())
		m.Score = h.GetScore()
		out = append(out, m)
	}
	return out, nil
}

func (s *Store) Fetch(ctx context.Context, ids []string) ([]index.Match, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	pointIDs := make([]*qdrant.PointId, 0, len(ids))
	for _, id := range ids {
		pointIDs = append(pointIDs, qdrant.NewID(index.ObjectID(id).String()))
	}

	points, err := s.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: s.collection,
		Ids:            pointIDs,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, err
	}
	return fromRetrieved(points), nil
}

func (s *Store) Scan(ctx context.Context, contentID string, limit int) ([]index.Match, error) {
	l := uint32(limit)
	points, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: s.collection,
		Filter:         contentFilter(contentID),
		Limit:          &l,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, err
	}
	return fromRetrieved(points), nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	exact := true
	n, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.collection,
		Exact:          &exact,
	})
	return int(n), err
}

func contentFilter(contentID string) *qdrant.Filter {
	return &qdrant.Filter{
		Must: []*qdrant.Condition{qdrant.NewMatch("content_id", contentID)},
	}
}

func fromRetrieved(points []*qdrant.RetrievedPoint) []index.Match {
	out := make([]index.Match, 0, len(points))
	for _, p := range points {
		out = append(out, fromPayload(p.GetPayload()))
	}
	return out
}

func fromPayload(payload map[string]*qdrant.Value) index.Match {
	return index.Match{
		ID:         payload["chunk_key"].GetStringValue(),
		ContentID:  payload["content_id"].GetStringValue(),
		ChunkIndex: int(payload["chunk_index"].GetIntegerValue()),
		Text:       payload["text"].GetStringValue(),
	}
}
