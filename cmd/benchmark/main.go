// Benchmark probes a published flat index: it embeds a query with each
// configured model, times the exact search, and rates the similarity of the
// matches. Useful for eyeballing retrieval quality after a rebuild.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"poisearch/config"
	"poisearch/internal/adapter/embedding"
	"poisearch/internal/adapter/flatindex"
	"poisearch/internal/port"
)

func main() {
	rootDir := flag.String("dir", ".", "Directory holding poisearch.yaml and the index")
	query := flag.String("q", "", "Text query to test")
	topK := flag.Int("k", 10, "Number of results")
	flag.Parse()

	if *query == "" {
		fmt.Println("Usage: go run cmd/benchmark/main.go -dir . -q \"a young face\"")
		fmt.Println("\nTests:")
		fmt.Println("  1. Embedding infrastructure (provider connection, dimensions)")
		fmt.Println("  2. Search latency per model over the published index")
		fmt.Println("  3. Similarity spread of the top matches")
		os.Exit(1)
	}

	cfg, err := config.LoadFromDir(*rootDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("RETRIEVAL BENCHMARK")
	fmt.Println(strings.Repeat("=", 70))
	fmt.Printf("Query: %q\n\n", *query)

	ctx := context.Background()
	for _, mc := range cfg.Models {
		if mc.Backend != "flat" {
			continue
		}
		if err := probeModel(ctx, *rootDir, cfg, mc, *query, *topK); err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n\n", mc.Name, err)
		}
	}
}

func probeModel(ctx context.Context, rootDir string, cfg *config.Config, mc config.ModelConfig, query string, topK int) error {
	dir := filepath.Join(cfg.Index.Dir, mc.Name)
	if !filepath.IsAbs(cfg.Index.Dir) {
		dir = filepath.Join(rootDir, cfg.Index.Dir, mc.Name)
	}
	ix, err := flatindex.Load(dir)
	if err != nil {
		return fmt.Errorf("index not loadable: %w", err)
	}

	var embedder port.Embedder
	switch mc.Provider {
	case "hf":
		embedder, err = embedding.NewHFEmbedder(mc.ModelID, mc.Dimension, mc.TokenEnv, mc.BaseURL)
		if err != nil {
			return fmt.Errorf("embedder init failed: %w", err)
		}
	case "mock":
		embedder = embedding.NewMockEmbedder(mc.Dimension)
	default:
		return fmt.Errorf("unsupported provider: %s", mc.Provider)
	}

	fmt.Printf("%s (%s, dim=%d, %d vectors)\n", mc.Name, mc.ModelID, ix.Dimension(), ix.Count())
	fmt.Println(strings.Repeat("-", 70))

	embedStart := time.Now()
	vec, err := embedder.EmbedText(ctx, query)
	if err != nil {
		return fmt.Errorf("embedding failed: %w", err)
	}
	embedTook := time.Since(embedStart)

	searchStart := time.Now()
	matches, err := ix.Query(ctx, vec, topK)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}
	searchTook := time.Since(searchStart)

	total := 0.0
	for i, m := range matches {
		total += m.RawScore
		fmt.Printf("%d. [%s %.3f] %s\n", i+1, rating(m.RawScore), m.RawScore, shortPath(m.Path))
	}
	if len(matches) > 0 {
		fmt.Printf("\n  Average similarity: %.3f\n", total/float64(len(matches)))
		fmt.Printf("  Top-1 similarity:   %.3f\n", matches[0].RawScore)
	}
	fmt.Printf("  Embed: %s  Search: %s\n\n", embedTook.Round(time.Millisecond), searchTook.Round(time.Microsecond))
	return nil
}

func rating(score float64) string {
	switch {
	case score > 0.7:
		return "HIGH"
	case score > 0.5:
		return "GOOD"
	case score > 0.3:
		return "OK"
	default:
		return "LOW"
	}
}

func shortPath(path string) string {
	parts := strings.Split(path, "/")
	if len(parts) > 2 {
		return parts[len(parts)-1]
	}
	return path
}
