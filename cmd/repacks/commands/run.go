package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/alvmarrod/repack-ledger/internal/crawler"
	"github.com/alvmarrod/repack-ledger/internal/extract"
	"github.com/alvmarrod/repack-ledger/internal/metrics"
	"github.com/alvmarrod/repack-ledger/internal/pipeline"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var runNewest bool

func init() {
	runCmd.Flags().BoolVar(&runNewest, "newest", false, "Crawl the newest posts before reconciling.")
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run [--newest]",
	Short: "Queue reference entries missing from the catalog and extract their details.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPipeline(cmd.Context(), runNewest)
	},
}

// runPipeline is the default action: reconcile, drain the pending queue,
// then move the newest-crawl boundary forward
func runPipeline(ctx context.Context, crawlNewest bool) error {
	tracker := metrics.NewTracker("run")
	stop := logProgress(tracker)
	defer stop()

	return finishRun(ctx, tracker, pipelineSteps(ctx, tracker, crawlNewest))
}

func pipelineSteps(ctx context.Context, tracker *metrics.Tracker, crawlNewest bool) error {
	docs := newDocuments()

	if crawlNewest {
		since := docs.LoadCache().LastChecked
		c := crawler.NewCrawler(cfg.BaseURL, newPages(tracker), docs, tracker)
		if _, err := c.Newest(ctx, since); err != nil {
			return fmt.Errorf("newest crawl: %w", err)
		}
	}

	pool := pipeline.NewPool(cfg.ConcurrentWorkers, func(worker int) pipeline.Extractor {
		logrus.Debugf("Opening fetch session for worker %d", worker)
		return extract.New(newPages(tracker))
	}, docs, tracker)

	if _, err := pipeline.Sync(ctx, docs, pool, tracker); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	cache := docs.LoadCache()
	cache.LastChecked = time.Now()
	return docs.SaveCache(cache)
}
