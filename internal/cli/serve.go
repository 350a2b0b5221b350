package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"poisearch/internal/api"
	"poisearch/internal/usecase"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP search API",
	Long: `Start the HTTP API: text and image search across every configured
model, a per-session search history, and a static mount for corpus images.

Examples:
  poisearch serve
  poisearch serve --addr :9000`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()

	registry, err := newRegistry(cfg)
	if err != nil {
		return err
	}

	indexes, client, err := openIndexes(cfg)
	if err != nil {
		return err
	}

	var ping func() error
	if client != nil {
		ping = func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return client.Ping(ctx)
		}
	}

	searcher := usecase.NewSearcher(registry, indexes, time.Duration(cfg.Search.PipelineTimeout), logger)

	var history *api.History
	if cfg.Server.HistoryPath != "" {
		history, err = api.OpenHistory(cfg.Server.HistoryPath)
		if err != nil {
			return fmt.Errorf("open history log: %w", err)
		}
		defer history.Close()
	}

	server := api.NewServer(searcher, history, ping, cfg.Search.TopK, cfg.Server.StaticDir, logger)

	addr := cfg.Server.Addr
	if serveAddr != "" {
		addr = serveAddr
	}
	return server.ListenAndServe(addr)
}
