package weaviate

import (
	"context"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"
)

// schemaAdapter exposes the schema API as a vector.SchemaClient.
type schemaAdapter struct {
	client *weaviate.Client
}

func (a schemaAdapter) ClassExists(ctx context.Context, className string) (bool, error) {
	return a.client.Schema().ClassExistenceChecker().WithClassName(className).Do(ctx)
}

func (a schemaAdapter) CreateClass(ctx context.Context, class *models.Class) error {
	return a.client.Schema().ClassCreator().WithClass(class).Do(ctx)
}

func (a schemaAdapter) GetClass(ctx context.Context, className string) (*models.Class, error) {
	return a.client.Schema().ClassGetter().WithClassName(className).Do(ctx)
}

func (a schemaAdapter) AddProperty(ctx context.Context, className string, property *models.Property) error {
	return a.client.Schema().PropertyCreator().WithClassName(className).WithProperty(property).Do(ctx)
}
