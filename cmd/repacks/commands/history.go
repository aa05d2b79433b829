package commands

import (
	"time"

	"github.com/alvmarrod/repack-ledger/internal/storage"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var historyLimit int

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Number of runs to show.")
	rootCmd.AddCommand(historyCmd)
}

var historyCmd = &cobra.Command{
	Use:   "history [--limit <n>]",
	Short: "List recent runs and their counters.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		history, err := storage.NewHistory(cfg.HistoryPath)
		if err != nil {
			return err
		}
		defer history.Close()

		runs, err := history.RecentRuns(historyLimit)
		if err != nil {
			return err
		}

		t := newTable()
		t.AppendHeader(table.Row{"Run", "Command", "Started", "Took", "Pages", "Saved", "Skipped", "Failed", "Fixed", "Result"})
		for _, run := range runs {
			m, err := run.Metrics()
			if err != nil {
				logrus.Warn(err)
			}
			t.AppendRow(table.Row{
				run.RunID,
				run.Command,
				run.StartTime.Local().Format(time.DateTime),
				run.Duration().Round(time.Second),
				m.PagesFetched,
				m.RecordsSaved,
				m.RecordsSkipped,
				m.RecordsFailed,
				m.RecordsFixed,
				m.TerminationReason,
			})
		}
		t.Render()
		return nil
	},
}
