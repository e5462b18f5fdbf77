package main

import (
	"os"

	"github.com/spf13/cobra"

	"listing-geocoder/config"
	"listing-geocoder/utils"
)

var (
	cfg    *config.Config
	logger *utils.Logger
)

var rootCmd = &cobra.Command{
	Use:   "listing-geocoder",
	Short: "Crawl rental listings per region and geocode their addresses",
	Long:  "Crawls paginated listing search results for a region through a pool of browser sessions, resolves every listing address to a coordinate and writes the region dataset to CSV and PostgreSQL.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg = config.Load()
		logger = utils.NewLoggerWithLevel(cfg.LogLevel)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
