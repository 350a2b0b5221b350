package port

import (
	"context"

	"poisearch/internal/domain"
)

// VectorStore is the narrow client interface to a managed ANN service.
// One named collection exists per model; point identity is a stable key
// derived from the entry path, so upserts are idempotent.
type VectorStore interface {
	// EnsureCollection creates the model's collection if it does not
	// exist, dimensioned for the given vector size with cosine distance.
	EnsureCollection(ctx context.Context, model domain.Model, dimension int) error

	// Upsert inserts or overwrites entries keyed by (model, path).
	// Re-upserting the same key leaves exactly one point.
	Upsert(ctx context.Context, model domain.Model, entries []domain.IndexEntry) error

	// Query runs a server-side top-k similarity search against the
	// model's collection, same ordering contract as VectorIndex.
	Query(ctx context.Context, model domain.Model, vector []float32, k int) ([]Match, error)
}
