package commands

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/alvmarrod/repack-ledger/internal/fetch"
	"github.com/alvmarrod/repack-ledger/internal/metrics"
	"github.com/alvmarrod/repack-ledger/internal/storage"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/sirupsen/logrus"
)

const progressInterval = 10 * time.Second

var (
	colorSuccess = color.New(color.FgGreen).SprintFunc()
	colorWarn    = color.New(color.FgYellow).SprintFunc()
	colorInfo    = color.New(color.FgCyan).SprintFunc()
	colorBold    = color.New(color.Bold).SprintFunc()
)

func newDocuments() *storage.Documents {
	return storage.NewDocuments(storage.Paths{
		Catalog:   cfg.CatalogPath,
		Reference: cfg.ReferencePath,
		Pending:   cfg.PendingPath,
		Cache:     cfg.CachePath,
		Progress:  cfg.ProgressPath,
		State:     cfg.StatePath,
	})
}

// newPages opens a fresh fetch session wrapped in the configured retry policy
func newPages(tracker *metrics.Tracker) *fetch.Retrying {
	fetcher := fetch.NewCollyFetcher(fetch.Options{
		UserAgent: cfg.UserAgent,
		Timeout:   cfg.RequestTimeout(),
		Disguise:  cfg.Disguised(),
	})
	policy := fetch.Policy{
		MaxAttempts: cfg.MaxRetries,
		Delay:       cfg.RetryDelay(),
	}
	return fetch.NewRetrying(fetcher, policy).WithObserver(tracker)
}

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(os.Stdout)
	return t
}

// logProgress logs the tracker counters periodically until the returned
// function is called
func logProgress(tracker *metrics.Tracker) func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(progressInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				logrus.Info(tracker.LogProgress())
			case <-done:
				return
			}
		}
	}()
	return func() { close(done) }
}

// finishRun stamps the termination reason, writes the metrics file and
// appends the run to the history database. runErr is returned unchanged.
func finishRun(ctx context.Context, tracker *metrics.Tracker, runErr error) error {
	reason := "completed"
	switch {
	case ctx.Err() != nil || errors.Is(runErr, context.Canceled):
		reason = "signal"
	case runErr != nil:
		reason = "error"
	}

	m := tracker.Finish(reason)
	logrus.Info("Final stats: " + tracker.LogProgress())

	if err := tracker.WriteToFile(cfg.MetricsPath, m); err != nil {
		logrus.Errorf("Failed to write metrics: %v", err)
	} else {
		logrus.Debugf("Metrics written to %s", cfg.MetricsPath)
	}

	history, err := storage.NewHistory(cfg.HistoryPath)
	if err != nil {
		logrus.Errorf("Failed to open run history: %v", err)
		return runErr
	}
	defer history.Close()

	id, err := history.RecordRun(m)
	if err != nil {
		logrus.Errorf("Failed to record run: %v", err)
		return runErr
	}
	logrus.Infof("Run %d (%s) finished: %s", id, m.Command, reason)

	return runErr
}
