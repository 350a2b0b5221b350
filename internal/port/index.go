package port

import "context"

// Match is a single nearest-neighbor hit: a corpus path and its raw cosine
// similarity to the query vector, in [-1,1].
type Match struct {
	Path     string
	RawScore float64
}

// VectorIndex answers exact or approximate top-k similarity queries over one
// model's corpus. Results are sorted strictly descending by RawScore; length
// is at most k. Implementations must be safe for concurrent queries.
type VectorIndex interface {
	// Query returns the top-k matches for the query vector.
	Query(ctx context.Context, vector []float32, k int) ([]Match, error)
}
