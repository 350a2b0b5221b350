package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"poisearch/internal/domain"
	"poisearch/internal/usecase"
)

var (
	searchText   string
	searchImage  string
	searchModels []string
	searchTopK   int
	searchJSON   bool
)

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Run a one-shot search against the published indices",
	Long: `Search the published indices with a text query or a probe image.
Each requested model runs its own pipeline; a failing model is reported
alongside the others instead of aborting the search.

Examples:
  poisearch search -q "a man with a beard"
  poisearch search --image probe.jpg --models siglip2 --top-k 10 --json`,
	RunE: runSearch,
}

func init() {
	rootCmd.AddCommand(searchCmd)
	searchCmd.Flags().StringVarP(&searchText, "query", "q", "", "text query")
	searchCmd.Flags().StringVarP(&searchImage, "image", "i", "", "probe image file")
	searchCmd.Flags().StringSliceVar(&searchModels, "models", nil, "models to query (default: all configured)")
	searchCmd.Flags().IntVarP(&searchTopK, "top-k", "k", 0, "number of results per model (default from config)")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "output as JSON")
}

func runSearch(cmd *cobra.Command, args []string) error {
	if (searchText == "") == (searchImage == "") {
		return fmt.Errorf("exactly one of --query and --image is required")
	}

	cfg := GetConfig()
	models, err := parseModels(searchModels)
	if err != nil {
		return err
	}

	registry, err := newRegistry(cfg)
	if err != nil {
		return err
	}
	indexes, _, err := openIndexes(cfg)
	if err != nil {
		return err
	}

	var q domain.Query
	if searchText != "" {
		q = domain.Query{Text: searchText}
	} else {
		image, err := os.ReadFile(searchImage)
		if err != nil {
			return fmt.Errorf("read probe image: %w", err)
		}
		q = domain.Query{Image: image}
	}

	topK := cfg.Search.TopK
	if searchTopK > 0 {
		topK = searchTopK
	}

	searcher := usecase.NewSearcher(registry, indexes, time.Duration(cfg.Search.PipelineTimeout), logger)
	rs, err := searcher.Search(cmd.Context(), q, models, topK)
	if err != nil {
		var all *domain.AllModelsFailedError
		if errors.As(err, &all) {
			return fmt.Errorf("every model failed: %w", err)
		}
		return err
	}

	if searchJSON {
		output, _ := json.MarshalIndent(rs, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	for _, mr := range rs {
		if mr.Err != nil {
			fmt.Printf("--- %s: unavailable (%v) ---\n\n", mr.Model, mr.Err)
			continue
		}
		fmt.Printf("--- %s: %d results ---\n", mr.Model, len(mr.Results))
		for i, r := range mr.Results {
			fmt.Printf("  [%d] %s (score: %.3f, raw: %.3f)\n", i+1, r.Path, r.Score, r.RawScore)
		}
		fmt.Println()
	}
	return nil
}
