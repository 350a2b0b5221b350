package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML can carry human-readable values
// like "10s" or "5m".
type Duration time.Duration

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Config holds all configuration for the poisearch engine.
type Config struct {
	Models  []ModelConfig `yaml:"models"`
	Index   IndexConfig   `yaml:"index"`
	Search  SearchConfig  `yaml:"search"`
	Qdrant  QdrantConfig  `yaml:"qdrant"`
	Server  ServerConfig  `yaml:"server"`
	Logging LoggingConfig `yaml:"logging"`
}

// ModelConfig describes one embedding model and the index backend serving it.
type ModelConfig struct {
	Name      string `yaml:"name"`      // model identifier (base_clip, enhanced_clip_l, siglip2)
	ModelID   string `yaml:"model_id"`  // upstream inference model
	Dimension int    `yaml:"dimension"` // embedding vector dimension
	Provider  string `yaml:"provider"`  // "hf" or "mock"
	Backend   string `yaml:"backend"`   // "flat" or "qdrant"
	BaseURL   string `yaml:"base_url"`  // inference API base URL override
	TokenEnv  string `yaml:"token_env"` // env var holding the inference API token
}

// IndexConfig holds flat-index build configuration.
type IndexConfig struct {
	Dir         string   `yaml:"dir"` // artifact root; one subdir per model
	Includes    []string `yaml:"includes"`
	Excludes    []string `yaml:"excludes"`
	Concurrency int      `yaml:"concurrency"`
}

// SearchConfig holds retrieval configuration.
type SearchConfig struct {
	TopK            int      `yaml:"top_k"`
	PipelineTimeout Duration `yaml:"pipeline_timeout"`
	CacheSize       int      `yaml:"cache_size"` // cached queries per model, 0 disables
	CacheTTL        Duration `yaml:"cache_ttl"`
}

// QdrantConfig holds remote vector store configuration.
type QdrantConfig struct {
	URL              string   `yaml:"url"`
	APIKeyEnv        string   `yaml:"api_key_env"`
	Timeout          Duration `yaml:"timeout"`
	BatchSize        int      `yaml:"batch_size"`
	MaxRetries       int      `yaml:"max_retries"`
	BatchesPerSecond float64  `yaml:"batches_per_second"` // 0 = unlimited
}

// ServerConfig holds HTTP API configuration.
type ServerConfig struct {
	Addr        string `yaml:"addr"`
	StaticDir   string `yaml:"static_dir"`   // image corpus mount, served under /static/
	HistoryPath string `yaml:"history_path"` // bbolt file for the search-history log
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns the default configuration: the three production
// models, flat backends, and a local server.
func DefaultConfig() *Config {
	return &Config{
		Models: []ModelConfig{
			{
				Name:      "base_clip",
				ModelID:   "sentence-transformers/clip-ViT-B-32",
				Dimension: 512,
				Provider:  "hf",
				Backend:   "flat",
				TokenEnv:  "HF_TOKEN",
			},
			{
				Name:      "enhanced_clip_l",
				ModelID:   "sentence-transformers/clip-ViT-L-14",
				Dimension: 768,
				Provider:  "hf",
				Backend:   "flat",
				TokenEnv:  "HF_TOKEN",
			},
			{
				Name:      "siglip2",
				ModelID:   "google/siglip2-base-patch16-224",
				Dimension: 768,
				Provider:  "hf",
				Backend:   "flat",
				TokenEnv:  "HF_TOKEN",
			},
		},
		Index: IndexConfig{
			Dir:         "data/index",
			Concurrency: 4,
		},
		Search: SearchConfig{
			TopK:            5,
			PipelineTimeout: Duration(10 * time.Second),
			CacheSize:       256,
			CacheTTL:        Duration(5 * time.Minute),
		},
		Qdrant: QdrantConfig{
			APIKeyEnv:  "QDRANT_API_KEY",
			Timeout:    Duration(30 * time.Second),
			BatchSize:  100,
			MaxRetries: 3,
		},
		Server: ServerConfig{
			Addr:        ":8080",
			StaticDir:   "docs/images",
			HistoryPath: "data/history.db",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from a YAML file, falling back to defaults for
// anything unset and returning pure defaults when the file does not exist.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, cfg.Validate()
}

// LoadFromDir loads configuration from a directory (looks for
// poisearch.yaml, then .poisearch/config.yaml).
func LoadFromDir(dir string) (*Config, error) {
	path := filepath.Join(dir, "poisearch.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	path = filepath.Join(dir, ".poisearch", "config.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	return DefaultConfig(), nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Validate checks the model table for obvious misconfiguration.
func (c *Config) Validate() error {
	if len(c.Models) == 0 {
		return fmt.Errorf("config: no models configured")
	}
	seen := make(map[string]bool)
	for _, m := range c.Models {
		if m.Name == "" {
			return fmt.Errorf("config: model with empty name")
		}
		if seen[m.Name] {
			return fmt.Errorf("config: duplicate model %q", m.Name)
		}
		seen[m.Name] = true
		if m.Dimension <= 0 {
			return fmt.Errorf("config: model %q: dimension must be positive", m.Name)
		}
		switch m.Provider {
		case "hf", "mock":
		default:
			return fmt.Errorf("config: model %q: unsupported provider %q", m.Name, m.Provider)
		}
		switch m.Backend {
		case "flat", "qdrant":
		default:
			return fmt.Errorf("config: model %q: unsupported backend %q", m.Name, m.Backend)
		}
		if m.Backend == "qdrant" && c.Qdrant.URL == "" {
			return fmt.Errorf("config: model %q: qdrant backend requires qdrant.url", m.Name)
		}
	}
	return nil
}

// Model returns the configuration for a named model.
func (c *Config) Model(name string) (ModelConfig, bool) {
	for _, m := range c.Models {
		if m.Name == name {
			return m, true
		}
	}
	return ModelConfig{}, false
}
