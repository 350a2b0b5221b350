package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"poisearch/internal/adapter/embedding"
	"poisearch/internal/domain"
	"poisearch/internal/port"
)

// stubIndex returns canned matches, or an error, or blocks until the
// context is cancelled when slow is set.
type stubIndex struct {
	matches []port.Match
	err     error
	slow    bool
}

func (s *stubIndex) Query(ctx context.Context, vector []float32, k int) ([]port.Match, error) {
	if s.slow {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if s.err != nil {
		return nil, s.err
	}
	if k < len(s.matches) {
		return s.matches[:k], nil
	}
	return s.matches, nil
}

func testRegistry(t *testing.T, models ...domain.Model) *embedding.Registry {
	t.Helper()
	r := embedding.NewRegistry()
	for _, m := range models {
		r.Register(m, func() (port.Embedder, error) {
			return embedding.NewMockEmbedder(8), nil
		})
	}
	return r
}

func matchesFor(paths ...string) []port.Match {
	out := make([]port.Match, len(paths))
	for i, p := range paths {
		out[i] = port.Match{Path: p, RawScore: 0.9 - 0.1*float64(i)}
	}
	return out
}

func TestSearchAllPipelinesSucceed(t *testing.T) {
	registry := testRegistry(t, domain.AllModels()...)
	indexes := map[domain.Model]port.VectorIndex{
		domain.ModelBaseCLIP:      &stubIndex{matches: matchesFor("a.jpg", "b.jpg")},
		domain.ModelEnhancedCLIPL: &stubIndex{matches: matchesFor("c.jpg")},
		domain.ModelSigLIP2:       &stubIndex{matches: matchesFor("d.jpg", "e.jpg")},
	}
	s := NewSearcher(registry, indexes, time.Second, nil)

	rs, err := s.Search(context.Background(), domain.Query{Text: "smiling"}, nil, 5)
	require.NoError(t, err)
	require.Len(t, rs, 3)

	// Request order is registration order.
	assert.Equal(t, domain.ModelBaseCLIP, rs[0].Model)
	assert.Equal(t, domain.ModelEnhancedCLIPL, rs[1].Model)
	assert.Equal(t, domain.ModelSigLIP2, rs[2].Model)

	require.Len(t, rs[0].Results, 2)
	assert.Equal(t, "a.jpg", rs[0].Results[0].Path)
	assert.Greater(t, rs[0].Results[0].Score, rs[0].Results[1].Score)

	// Raw score carried through untouched; display score rescaled for
	// CLIP text queries and identical for siglip2.
	assert.InDelta(t, 0.9, rs[0].Results[0].RawScore, 1e-9)
	assert.InDelta(t, 0.99, rs[0].Results[0].Score, 1e-9)
	assert.Equal(t, rs[2].Results[0].RawScore, rs[2].Results[0].Score)
}

func TestSearchOneFailureDegrades(t *testing.T) {
	registry := testRegistry(t, domain.AllModels()...)
	indexes := map[domain.Model]port.VectorIndex{
		domain.ModelBaseCLIP:      &stubIndex{matches: matchesFor("a.jpg")},
		domain.ModelEnhancedCLIPL: &stubIndex{err: domain.ErrIndexNotBuilt},
		domain.ModelSigLIP2:       &stubIndex{matches: matchesFor("b.jpg")},
	}
	s := NewSearcher(registry, indexes, time.Second, nil)

	rs, err := s.Search(context.Background(), domain.Query{Text: "q"}, nil, 3)
	require.NoError(t, err, "partial failure must not fail the request")
	require.Len(t, rs, 3)

	assert.NotEmpty(t, rs[0].Results)
	assert.Empty(t, rs[1].Results)
	assert.ErrorIs(t, rs[1].Err, domain.ErrIndexNotBuilt)
	assert.NotEmpty(t, rs[2].Results)
}

func TestSearchAllFailed(t *testing.T) {
	registry := testRegistry(t, domain.AllModels()...)
	boom := errors.New("index on fire")
	indexes := map[domain.Model]port.VectorIndex{
		domain.ModelBaseCLIP:      &stubIndex{err: boom},
		domain.ModelEnhancedCLIPL: &stubIndex{err: boom},
		domain.ModelSigLIP2:       &stubIndex{err: boom},
	}
	s := NewSearcher(registry, indexes, time.Second, nil)

	_, err := s.Search(context.Background(), domain.Query{Text: "q"}, nil, 3)
	var all *domain.AllModelsFailedError
	require.ErrorAs(t, err, &all)
	assert.Len(t, all.Errs, 3)
	for _, e := range all.Errs {
		assert.ErrorIs(t, e, boom)
	}
}

func TestSearchPipelineTimeoutIsIsolated(t *testing.T) {
	registry := testRegistry(t, domain.ModelBaseCLIP, domain.ModelSigLIP2)
	indexes := map[domain.Model]port.VectorIndex{
		domain.ModelBaseCLIP: &stubIndex{slow: true},
		domain.ModelSigLIP2:  &stubIndex{matches: matchesFor("ok.jpg")},
	}
	s := NewSearcher(registry, indexes, 50*time.Millisecond, nil)

	start := time.Now()
	rs, err := s.Search(context.Background(), domain.Query{Text: "q"}, nil, 3)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)

	assert.ErrorIs(t, rs[0].Err, context.DeadlineExceeded)
	assert.Empty(t, rs[0].Results)
	assert.NotEmpty(t, rs[1].Results)
}

func TestSearchSubsetAndValidation(t *testing.T) {
	registry := testRegistry(t, domain.AllModels()...)
	indexes := map[domain.Model]port.VectorIndex{
		domain.ModelSigLIP2: &stubIndex{matches: matchesFor("a.jpg")},
	}
	s := NewSearcher(registry, indexes, time.Second, nil)

	rs, err := s.Search(context.Background(), domain.Query{Text: "q"}, []domain.Model{domain.ModelSigLIP2}, 1)
	require.NoError(t, err)
	require.Len(t, rs, 1)
	assert.Equal(t, domain.ModelSigLIP2, rs[0].Model)

	_, err = s.Search(context.Background(), domain.Query{Text: "q"}, nil, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidK)
}

func TestSearchParentCancellation(t *testing.T) {
	registry := testRegistry(t, domain.ModelBaseCLIP)
	indexes := map[domain.Model]port.VectorIndex{
		domain.ModelBaseCLIP: &stubIndex{slow: true},
	}
	s := NewSearcher(registry, indexes, time.Minute, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := s.Search(ctx, domain.Query{Text: "q"}, nil, 3)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStoreIndexAdapter(t *testing.T) {
	store := &recordingStore{
		queryMatches: matchesFor("remote.jpg"),
	}
	si := StoreIndex{Store: store, Model: domain.ModelBaseCLIP}

	matches, err := si.Query(context.Background(), []float32{1, 0}, 5)
	require.NoError(t, err)
	assert.Equal(t, "remote.jpg", matches[0].Path)
	assert.Equal(t, domain.ModelBaseCLIP, store.lastQueryModel)
}
