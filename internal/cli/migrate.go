package cli

import (
	"fmt"
	"path/filepath"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"
	"poisearch/internal/adapter/flatindex"
	"poisearch/internal/adapter/qdrant"
	"poisearch/internal/domain"
	"poisearch/internal/usecase"
)

var migrateModels []string

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Copy published flat indices into Qdrant collections",
	Long: `Read each model's published flat index and upsert its vectors into the
model's Qdrant collection in batches. Point IDs are derived from image paths,
so re-running a migration overwrites rather than duplicates.

Examples:
  poisearch migrate
  poisearch migrate --models base_clip,siglip2`,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.Flags().StringSliceVar(&migrateModels, "models", nil, "models to migrate (default: all configured)")
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()

	models, err := parseModels(migrateModels)
	if err != nil {
		return err
	}
	if len(models) == 0 {
		for _, mc := range cfg.Models {
			m, err := domain.ParseModel(mc.Name)
			if err != nil {
				return err
			}
			models = append(models, m)
		}
	}

	client, err := newQdrantClient(cfg)
	if err != nil {
		return err
	}
	if err := client.Ping(cmd.Context()); err != nil {
		return fmt.Errorf("qdrant unreachable: %w", err)
	}

	migrator := usecase.NewMigrator(client, usecase.MigratorOptions{
		BatchSize:  cfg.Qdrant.BatchSize,
		MaxRetries: cfg.Qdrant.MaxRetries,
		BatchRate:  rate.Limit(cfg.Qdrant.BatchesPerSecond),
	}, logger)

	for _, model := range models {
		dir := filepath.Join(indexRoot(cfg), string(model))
		ix, err := flatindex.Load(dir)
		if err != nil {
			return fmt.Errorf("load index for %s: %w", model, err)
		}

		fmt.Printf("Migrating %s (%d vectors) -> %s\n", model, ix.Count(), qdrant.CollectionName(model))
		bar := progressbar.NewOptions(ix.Count(),
			progressbar.OptionEnableColorCodes(true),
			progressbar.OptionSetWidth(40),
			progressbar.OptionShowCount(),
			progressbar.OptionSetDescription("[cyan]Upserting[reset]"),
			progressbar.OptionOnCompletion(func() {
				fmt.Println()
			}),
		)
		migrator.Progress = func(done, total int) {
			bar.Set(done)
		}

		migrated, err := migrator.Migrate(cmd.Context(), ix, model)
		if err != nil {
			return fmt.Errorf("migration failed after %d entries: %w", migrated, err)
		}

		count, err := client.CountPoints(cmd.Context(), model)
		if err != nil {
			logger.Warn("post-migration count failed", "model", model, "error", err)
			continue
		}
		fmt.Printf("  collection now holds %d points\n", count)
	}
	return nil
}
