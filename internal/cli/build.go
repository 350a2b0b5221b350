package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"poisearch/internal/adapter/fs"
	"poisearch/internal/domain"
	"poisearch/internal/usecase"
)

var buildModels []string

var buildCmd = &cobra.Command{
	Use:   "build [corpus-dir]",
	Short: "Embed the image corpus and publish flat indices",
	Long: `Embed every image in the corpus with each requested model and publish
one flat index per model under the configured index directory. Publication is
atomic: a crash mid-build leaves any previously published index intact.

Examples:
  poisearch build docs/images
  poisearch build docs/images --models siglip2`,
	Args: cobra.MaximumNArgs(1),
	RunE: runBuild,
}

func init() {
	rootCmd.AddCommand(buildCmd)
	buildCmd.Flags().StringSliceVar(&buildModels, "models", nil, "models to build (default: all configured)")
}

func runBuild(cmd *cobra.Command, args []string) error {
	corpus := GetRootDir()
	if len(args) > 0 {
		var err error
		corpus, err = filepath.Abs(args[0])
		if err != nil {
			return fmt.Errorf("invalid path: %w", err)
		}
	}

	info, err := os.Stat(corpus)
	if err != nil {
		return fmt.Errorf("corpus does not exist: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("corpus is not a directory: %s", corpus)
	}

	cfg := GetConfig()
	models, err := parseModels(buildModels)
	if err != nil {
		return err
	}

	registry, err := newRegistry(cfg)
	if err != nil {
		return err
	}

	walker := fs.NewWalker(cfg.Index.Includes, cfg.Index.Excludes)
	builder := usecase.NewBuilder(registry, walker, indexRoot(cfg), cfg.Index.Concurrency, logger)

	fmt.Printf("Scanning %s...\n", corpus)

	var bar *progressbar.ProgressBar
	builder.Progress = func(done, total int) {
		if bar == nil {
			bar = progressbar.NewOptions(total,
				progressbar.OptionEnableColorCodes(true),
				progressbar.OptionSetWidth(40),
				progressbar.OptionShowCount(),
				progressbar.OptionSetDescription("[cyan]Embedding[reset]"),
				progressbar.OptionOnCompletion(func() {
					fmt.Println()
				}),
			)
		}
		bar.Set(done)
	}

	result, err := builder.Build(cmd.Context(), corpus, models)
	if err != nil {
		return fmt.Errorf("build failed: %w", err)
	}

	fmt.Printf("\nBuild complete:\n")
	fmt.Printf("  Images found: %d\n", result.Images)
	names := make([]string, 0, len(result.Indexed))
	for m := range result.Indexed {
		names = append(names, string(m))
	}
	sort.Strings(names)
	for _, name := range names {
		count := result.Indexed[domain.Model(name)]
		fmt.Printf("  %-16s %d vectors -> %s\n", name, count, filepath.Join(indexRoot(cfg), name))
	}
	return nil
}
