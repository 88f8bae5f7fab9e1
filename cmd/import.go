package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/watchfolio/newsimpact/internal/store"
	"github.com/watchfolio/newsimpact/internal/watchlist"
)

var (
	importFile string
	importUser string
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import watchlist entries from a CSV file",
	Long:  "Reads rows of \"ticker\" or \"user_id,ticker\" and adds them to the watchlist. Existing entries are left untouched.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := store.Open(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		f, err := os.Open(importFile)
		if err != nil {
			return eris.Wrapf(err, "open %s", importFile)
		}
		defer f.Close()

		res, err := watchlist.ImportCSV(ctx, f, importUser, st)
		if err != nil {
			return eris.Wrap(err, "import watchlist")
		}

		zap.L().Info("watchlist imported",
			zap.String("file", importFile),
			zap.Int("added", res.Added),
			zap.Int("skipped", res.Skipped),
		)
		return nil
	},
}

func init() {
	importCmd.Flags().StringVar(&importFile, "file", "", "CSV file to import (required)")
	importCmd.Flags().StringVar(&importUser, "user", "default", "user to attribute single-column rows to")
	_ = importCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(importCmd)
}
