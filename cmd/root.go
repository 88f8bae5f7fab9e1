package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/watchfolio/newsimpact/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "newsimpact",
	Short: "Stock watchlist news ingestion and impact scoring",
	Long:  "Fetches news for watched tickers, dedups by canonical URL, extracts article text in a headless browser, and scores market impact with Claude.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
