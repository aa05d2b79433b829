package commands

import (
	"context"

	"github.com/alvmarrod/repack-ledger/internal/config"
	"github.com/alvmarrod/repack-ledger/internal/version"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	configPath string
	countOnly  bool
	crawlFirst bool

	// cfg is loaded once by the root command before any subcommand runs
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:     "repacks",
	Short:   "repacks keeps a local catalog of repack releases in sync with the site.",
	Version: version.Version,
	Args:    cobra.NoArgs,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.LoadConfig(configPath)
		if err != nil {
			return err
		}
		level, err := logrus.ParseLevel(loaded.LogLevel)
		if err != nil {
			return err
		}
		logrus.SetLevel(level)

		cfg = loaded
		logrus.Debugf("Configuration loaded: base=%s, workers=%d, retries=%d",
			cfg.BaseURL, cfg.ConcurrentWorkers, cfg.MaxRetries)
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if countOnly {
			return countItems()
		}
		return runPipeline(cmd.Context(), crawlFirst)
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.json5", "Path to the JSON5 config file.")
	rootCmd.Flags().BoolVar(&countOnly, "count-items", false, "Report document sizes instead of running the pipeline.")
	rootCmd.Flags().BoolVar(&crawlFirst, "newest", false, "Crawl the newest posts before reconciling.")
}

// ExecuteContext runs the command line; any error ends the process
func ExecuteContext(ctx context.Context) {
	logrus.Infof("repacks v%s", version.Version)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		logrus.Fatalf("%v", err)
	}
}
