package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"poisearch/internal/adapter/embedding"
	"poisearch/internal/adapter/flatindex"
	"poisearch/internal/adapter/fs"
	"poisearch/internal/domain"
)

// Builder performs full rebuilds of the per-model flat indices. A rebuild
// replaces a model's corpus wholesale; artifacts only become visible through
// the atomic publish in flatindex.Save, so a crash mid-build leaves any
// previously published index intact. The builder assumes it is the only
// writer for its target artifact directories.
type Builder struct {
	registry    *embedding.Registry
	walker      *fs.Walker
	indexRoot   string
	concurrency int
	logger      *slog.Logger

	// Progress, when set, is invoked after each embedded image with
	// (done, total) across the whole build.
	Progress func(done, total int)
}

// NewBuilder creates a builder writing per-model artifacts under indexRoot.
func NewBuilder(registry *embedding.Registry, walker *fs.Walker, indexRoot string, concurrency int, logger *slog.Logger) *Builder {
	if concurrency <= 0 {
		concurrency = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{
		registry:    registry,
		walker:      walker,
		indexRoot:   indexRoot,
		concurrency: concurrency,
		logger:      logger,
	}
}

// IndexDir returns the artifact directory for a model.
func (b *Builder) IndexDir(model domain.Model) string {
	return filepath.Join(b.indexRoot, string(model))
}

// BuildResult summarizes one rebuild.
type BuildResult struct {
	Images  int
	Indexed map[domain.Model]int
}

// Build embeds every corpus image with each requested model and publishes
// one flat index per model. Enumeration is in sorted path order, so the
// row order of the artifacts is reproducible.
func (b *Builder) Build(ctx context.Context, corpusDir string, models []domain.Model) (*BuildResult, error) {
	if len(models) == 0 {
		models = b.registry.Models()
	}

	paths, err := b.walker.Walk(corpusDir)
	if err != nil {
		return nil, fmt.Errorf("enumerate corpus: %w", err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no corpus images under %s", corpusDir)
	}

	result := &BuildResult{
		Images:  len(paths),
		Indexed: make(map[domain.Model]int),
	}

	total := len(paths) * len(models)
	done := 0

	for _, model := range models {
		entries, err := b.buildModel(ctx, corpusDir, model, paths, total, &done)
		if err != nil {
			return nil, fmt.Errorf("build %s: %w", model, err)
		}

		embedder, err := b.registry.Get(model)
		if err != nil {
			return nil, err
		}
		if err := flatindex.Save(b.IndexDir(model), embedder.Dimension(), entries); err != nil {
			return nil, fmt.Errorf("publish %s index: %w", model, err)
		}

		result.Indexed[model] = len(entries)
		b.logger.Info("published flat index",
			"model", model,
			"entries", len(entries),
			"dir", b.IndexDir(model))
	}

	return result, nil
}

// buildModel embeds all images for one model. Work is parallel but entries
// land at their enumeration position, preserving positional correspondence
// between the vector array and the metadata table.
func (b *Builder) buildModel(ctx context.Context, corpusDir string, model domain.Model, paths []string, total int, done *int) ([]domain.IndexEntry, error) {
	embedder, err := b.registry.Get(model)
	if err != nil {
		return nil, err
	}

	entries := make([]domain.IndexEntry, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)

	progress := make(chan struct{}, b.concurrency)
	progressDone := make(chan struct{})
	go func() {
		defer close(progressDone)
		for range progress {
			*done++
			if b.Progress != nil {
				b.Progress(*done, total)
			}
		}
	}()

	for i, rel := range paths {
		i, rel := i, rel
		g.Go(func() error {
			image, err := fs.ReadFile(corpusDir, rel)
			if err != nil {
				return fmt.Errorf("read %s: %w", rel, err)
			}
			vector, err := embedder.EmbedImage(gctx, image)
			if err != nil {
				return fmt.Errorf("embed %s: %w", rel, err)
			}
			entries[i] = domain.IndexEntry{Path: rel, Vector: vector}
			progress <- struct{}{}
			return nil
		})
	}

	err = g.Wait()
	close(progress)
	<-progressDone
	if err != nil {
		return nil, err
	}
	return entries, nil
}
