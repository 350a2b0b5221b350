package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"poisearch/config"
)

var (
	cfgFile string
	cfg     *config.Config
	rootDir string
	logger  *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "poisearch",
	Short: "Multi-model face image search engine",
	Long: `poisearch embeds a face image corpus with several vision-language
models, serves exact cosine retrieval over the resulting indices, and can
migrate an index into a Qdrant collection.

Example usage:
  poisearch build docs/images      # Embed the corpus and publish indices
  poisearch search -q "young face" # Query every model from the CLI
  poisearch serve                  # Start the HTTP API`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error

		if rootDir == "" {
			rootDir, err = os.Getwd()
			if err != nil {
				return fmt.Errorf("failed to get working directory: %w", err)
			}
		}

		if cfgFile != "" {
			cfg, err = config.Load(cfgFile)
		} else {
			cfg, err = config.LoadFromDir(rootDir)
		}
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		logger = newLogger(cfg.Logging.Level)
		slog.SetDefault(logger)
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./poisearch.yaml)")
	rootCmd.PersistentFlags().StringVarP(&rootDir, "dir", "d", "", "root directory (default is current directory)")
}

func newLogger(level string) *slog.Logger {
	var lv slog.Level
	switch level {
	case "debug":
		lv = slog.LevelDebug
	case "warn":
		lv = slog.LevelWarn
	case "error":
		lv = slog.LevelError
	default:
		lv = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lv}))
}

func GetConfig() *config.Config {
	return cfg
}

func GetRootDir() string {
	return rootDir
}
