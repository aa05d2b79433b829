package commands

import (
	"github.com/alvmarrod/repack-ledger/internal/crawler"
	"github.com/alvmarrod/repack-ledger/internal/metrics"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var crawlStart int

func init() {
	crawlCmd.Flags().IntVar(&crawlStart, "start-index", 0, "Index page to start from (defaults to the saved cursor, then 1).")
	rootCmd.AddCommand(crawlCmd)
	rootCmd.AddCommand(newestCmd)
}

var crawlCmd = &cobra.Command{
	Use:   "crawl [--start-index <page>]",
	Short: "Walk the full A-Z index and extend the reference listing.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		tracker := metrics.NewTracker("crawl")
		stop := logProgress(tracker)
		defer stop()

		docs := newDocuments()
		start := crawlStart
		if start < 1 {
			start = docs.LoadState().CurrentPage
		}
		if start < 1 {
			start = 1
		}

		c := crawler.NewCrawler(cfg.BaseURL, newPages(tracker), docs, tracker)
		added, err := c.FullIndex(ctx, start)
		logrus.Infof("%s new reference entries", colorSuccess(len(added)))
		return finishRun(ctx, tracker, err)
	},
}

var newestCmd = &cobra.Command{
	Use:   "newest",
	Short: "Collect posts published since the last completed run.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		tracker := metrics.NewTracker("newest")

		docs := newDocuments()
		since := docs.LoadCache().LastChecked

		c := crawler.NewCrawler(cfg.BaseURL, newPages(tracker), docs, tracker)
		added, err := c.Newest(ctx, since)
		for _, entry := range added {
			logrus.Infof("%s %s", colorInfo("+"), entry.Name)
		}
		return finishRun(ctx, tracker, err)
	},
}
