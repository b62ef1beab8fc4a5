package vector

import (
	"context"

	"github.com/weaviate/weaviate/entities/models"
)

// SchemaClient defines the Weaviate schema operations EnsureSchema needs.
type SchemaClient interface {
	ClassExists(ctx context.Context, className string) (bool, error)
	CreateClass(ctx context.Context, class *models.Class) error
	GetClass(ctx context.Context, className string) (*models.Class, error)
	AddProperty(ctx context.Context, className string, property *models.Property) error
}

// ChunkProperties are the properties of a chunk object.
func ChunkProperties() []*models.Property {
	return []*models.Property{
		{
			Name:     "text",
			DataType: []string{"text"},
		},
		{
			Name:     "contentId",
			DataType: []string{"string"}, // exact match filter
		},
		{
			Name:     "chunkIndex",
			DataType: []string{"int"},
		},
		{
			Name:     "chunkKey",
			DataType: []string{"string"},
		},
	}
}

// EnsureSchema creates the chunk class with externally supplied vectors, or
// adds any property missing from an existing class.
func EnsureSchema(ctx context.Context, client SchemaClient, className string) error {
	exists, err := client.ClassExists(ctx, className)
	if err != nil {
		return err
	}

	properties := ChunkProperties()

	if !exists {
		class := &models.Class{
			Class:       className,
			Description: "A chunk of an ingested document or transcript",
			Vectorizer:  "none",
			Properties:  properties,
		}
		return client.CreateClass(ctx, class)
	}

	class, err := client.GetClass(ctx, className)
	if err != nil {
		return err
	}

	existingProps := make(map[string]bool)
	for _, p := range class.Properties {
		existingProps[p.Name] = true
	}

	for _, p := range properties {
		if !existingProps[p.Name] {
			if err := client.AddProperty(ctx, className, p); err != nil {
				return err
			}
		}
	}

	return nil
}
