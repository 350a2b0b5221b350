// Package flatindex implements the in-process exact nearest-neighbor index:
// a dense vector array and an aligned metadata table persisted side by side,
// published atomically through a CURRENT pointer file.
package flatindex

import (
	"context"
	"fmt"
	"math"
	"sort"

	"poisearch/internal/domain"
	"poisearch/internal/port"
)

// Index is a read-only flat index over one model's corpus. Row i of the
// vector array corresponds to entry i of the metadata table; the alignment
// is validated at load time. Safe for concurrent queries.
type Index struct {
	dim     int
	vectors []float32 // count*dim, row-major, L2-normalized
	entries []domain.IndexEntry
}

var _ port.VectorIndex = (*Index)(nil)

// Count returns the number of corpus entries.
func (ix *Index) Count() int { return len(ix.entries) }

// Dimension returns the vector dimension.
func (ix *Index) Dimension() int { return ix.dim }

// Entries returns the metadata table in index order. The caller must not
// mutate it; vectors are attached so migrators can re-read the corpus.
func (ix *Index) Entries() []domain.IndexEntry {
	out := make([]domain.IndexEntry, len(ix.entries))
	for i, e := range ix.entries {
		e.Vector = ix.row(i)
		out[i] = e
	}
	return out
}

func (ix *Index) row(i int) []float32 {
	return ix.vectors[i*ix.dim : (i+1)*ix.dim]
}

// Query returns the top-k entries by cosine similarity, sorted strictly
// descending with ties broken by insertion order.
func (ix *Index) Query(ctx context.Context, vector []float32, k int) ([]port.Match, error) {
	if k <= 0 {
		return nil, domain.ErrInvalidK
	}
	if len(vector) != ix.dim {
		return nil, &domain.DimensionMismatchError{Expected: ix.dim, Actual: len(vector)}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	q := normalize(vector)

	type scored struct {
		idx   int
		score float64
	}
	scores := make([]scored, len(ix.entries))
	for i := range ix.entries {
		scores[i] = scored{idx: i, score: dot(q, ix.row(i))}
	}

	// Stable sort keeps equal scores in insertion order.
	sort.SliceStable(scores, func(i, j int) bool {
		return scores[i].score > scores[j].score
	})

	if k > len(scores) {
		k = len(scores)
	}
	matches := make([]port.Match, k)
	for i := 0; i < k; i++ {
		matches[i] = port.Match{
			Path:     ix.entries[scores[i].idx].Path,
			RawScore: scores[i].score,
		}
	}
	return matches, nil
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// normalize returns an L2-normalized copy. A zero vector is returned as-is
// rather than dividing by zero.
func normalize(v []float32) []float32 {
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	norm = math.Sqrt(norm)
	out := make([]float32, len(v))
	if norm == 0 {
		copy(out, v)
		return out
	}
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

func validateEntries(dim int, entries []domain.IndexEntry) error {
	for _, e := range entries {
		if len(e.Vector) != dim {
			return fmt.Errorf("entry %q: %w", e.Path, &domain.DimensionMismatchError{Expected: dim, Actual: len(e.Vector)})
		}
	}
	return nil
}
