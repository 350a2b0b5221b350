package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"poisearch/internal/adapter/embedding"
	"poisearch/internal/domain"
	"poisearch/internal/port"
)

// DefaultPipelineTimeout bounds one model pipeline (embed + index query).
const DefaultPipelineTimeout = 10 * time.Second

// Searcher is the retrieval orchestrator: it fans one query out to the
// requested (provider, index) pairs concurrently and merges the per-model
// outcomes. A pipeline failure degrades to an empty result list plus a
// recorded error; the request as a whole fails only when every requested
// pipeline failed.
type Searcher struct {
	registry *embedding.Registry
	indexes  map[domain.Model]port.VectorIndex
	timeout  time.Duration
	logger   *slog.Logger
}

// NewSearcher creates a searcher over the given providers and per-model
// indexes. timeout <= 0 selects DefaultPipelineTimeout.
func NewSearcher(registry *embedding.Registry, indexes map[domain.Model]port.VectorIndex, timeout time.Duration, logger *slog.Logger) *Searcher {
	if timeout <= 0 {
		timeout = DefaultPipelineTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Searcher{
		registry: registry,
		indexes:  indexes,
		timeout:  timeout,
		logger:   logger,
	}
}

// Models returns the models the searcher can serve, in registration order.
func (s *Searcher) Models() []domain.Model {
	return s.registry.Models()
}

// Search runs the query against the requested models (all registered models
// when the subset is empty) and returns one entry per model, in request
// order. Scores are never compared or merged across models; each model's
// list is independently sorted descending by score.
func (s *Searcher) Search(ctx context.Context, q domain.Query, models []domain.Model, k int) (domain.ResultSet, error) {
	if k <= 0 {
		return nil, domain.ErrInvalidK
	}
	if len(models) == 0 {
		models = s.registry.Models()
	}

	results := make(domain.ResultSet, len(models))
	g, gctx := errgroup.WithContext(ctx)

	for i, model := range models {
		i, model := i, model
		results[i].Model = model
		results[i].Results = []domain.QueryResult{}

		g.Go(func() error {
			// Each pipeline gets its own deadline; exceeding it
			// cancels this pipeline only, never the request.
			pctx, cancel := context.WithTimeout(gctx, s.timeout)
			defer cancel()

			hits, err := s.runPipeline(pctx, model, q, k)
			if err != nil {
				s.logger.Warn("model pipeline failed",
					"model", model,
					"kind", q.Kind(),
					"error", err)
				results[i].Err = err
				return nil
			}
			results[i].Results = hits
			return nil
		})
	}

	// Pipelines degrade instead of returning errors, so Wait never fails;
	// a cancelled parent context is reported as such, not as a model
	// failure.
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if results.Failed() {
		return nil, &domain.AllModelsFailedError{Errs: results.Errors()}
	}
	return results, nil
}

func (s *Searcher) runPipeline(ctx context.Context, model domain.Model, q domain.Query, k int) ([]domain.QueryResult, error) {
	embedder, err := s.registry.Get(model)
	if err != nil {
		return nil, err
	}

	var vector []float32
	if q.Kind() == domain.QueryImage {
		vector, err = embedder.EmbedImage(ctx, q.Image)
	} else {
		vector, err = embedder.EmbedText(ctx, q.Text)
	}
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	index, ok := s.indexes[model]
	if !ok {
		return nil, fmt.Errorf("%w: no index configured for %s", domain.ErrIndexNotBuilt, model)
	}

	matches, err := index.Query(ctx, vector, k)
	if err != nil {
		return nil, fmt.Errorf("query index: %w", err)
	}

	kind := q.Kind()
	hits := make([]domain.QueryResult, len(matches))
	for i, m := range matches {
		hits[i] = domain.QueryResult{
			Path:     m.Path,
			Score:    displayScore(model, kind, m.RawScore),
			RawScore: m.RawScore,
		}
	}
	return hits, nil
}

// StoreIndex adapts a VectorStore to the VectorIndex contract for one model,
// so a pipeline's backend can be flat or remote interchangeably.
type StoreIndex struct {
	Store port.VectorStore
	Model domain.Model
}

func (si StoreIndex) Query(ctx context.Context, vector []float32, k int) ([]port.Match, error) {
	return si.Store.Query(ctx, si.Model, vector, k)
}
