package cli

import (
	"fmt"
	"path/filepath"
	"time"

	"poisearch/config"
	"poisearch/internal/adapter/cache"
	"poisearch/internal/adapter/embedding"
	"poisearch/internal/adapter/flatindex"
	"poisearch/internal/adapter/qdrant"
	"poisearch/internal/domain"
	"poisearch/internal/port"
	"poisearch/internal/usecase"
)

// newRegistry builds the provider registry from the configured model table.
// Providers are registered lazily, so a missing API token only surfaces when
// a pipeline first asks for that model.
func newRegistry(cfg *config.Config) (*embedding.Registry, error) {
	registry := embedding.NewRegistry()
	for _, mc := range cfg.Models {
		model, err := domain.ParseModel(mc.Name)
		if err != nil {
			return nil, err
		}
		mc := mc
		switch mc.Provider {
		case "hf":
			registry.Register(model, func() (port.Embedder, error) {
				return embedding.NewHFEmbedder(mc.ModelID, mc.Dimension, mc.TokenEnv, mc.BaseURL)
			})
		case "mock":
			registry.Register(model, func() (port.Embedder, error) {
				return embedding.NewMockEmbedder(mc.Dimension), nil
			})
		default:
			return nil, fmt.Errorf("model %q: unsupported provider %q", mc.Name, mc.Provider)
		}
	}
	return registry, nil
}

// indexRoot resolves the flat-index artifact root against the working
// directory.
func indexRoot(cfg *config.Config) string {
	if filepath.IsAbs(cfg.Index.Dir) {
		return cfg.Index.Dir
	}
	return filepath.Join(GetRootDir(), cfg.Index.Dir)
}

// newQdrantClient creates the remote store client from config.
func newQdrantClient(cfg *config.Config) (*qdrant.Client, error) {
	if cfg.Qdrant.URL == "" {
		return nil, fmt.Errorf("qdrant.url is not configured")
	}
	return qdrant.New(cfg.Qdrant.URL, cfg.Qdrant.APIKeyEnv, time.Duration(cfg.Qdrant.Timeout))
}

// openIndexes opens one retrieval backend per configured model: a published
// flat index loaded from disk, or a Qdrant-backed adapter. A model whose flat
// index is not built yet is skipped with a warning; its pipeline reports the
// missing index at query time.
func openIndexes(cfg *config.Config) (map[domain.Model]port.VectorIndex, *qdrant.Client, error) {
	indexes := make(map[domain.Model]port.VectorIndex, len(cfg.Models))
	var client *qdrant.Client

	for _, mc := range cfg.Models {
		model, err := domain.ParseModel(mc.Name)
		if err != nil {
			return nil, nil, err
		}
		var ix port.VectorIndex
		switch mc.Backend {
		case "flat":
			flat, err := flatindex.Load(filepath.Join(indexRoot(cfg), mc.Name))
			if err != nil {
				logger.Warn("flat index unavailable", "model", mc.Name, "error", err)
				continue
			}
			ix = flat
		case "qdrant":
			if client == nil {
				client, err = newQdrantClient(cfg)
				if err != nil {
					return nil, nil, err
				}
			}
			ix = usecase.StoreIndex{Store: client, Model: model}
		default:
			return nil, nil, fmt.Errorf("model %q: unsupported backend %q", mc.Name, mc.Backend)
		}
		if cfg.Search.CacheSize > 0 {
			ix = cache.NewCachedIndex(ix, cache.NewQueryCache(cfg.Search.CacheSize, time.Duration(cfg.Search.CacheTTL)))
		}
		indexes[model] = ix
	}
	return indexes, client, nil
}

// parseModels maps --models flag values to model identifiers. An empty list
// means every configured model.
func parseModels(names []string) ([]domain.Model, error) {
	var models []domain.Model
	for _, name := range names {
		m, err := domain.ParseModel(name)
		if err != nil {
			return nil, err
		}
		models = append(models, m)
	}
	return models, nil
}
