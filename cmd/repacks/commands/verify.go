package commands

import (
	"fmt"

	"github.com/alvmarrod/repack-ledger/internal/metrics"
	"github.com/alvmarrod/repack-ledger/internal/verify"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var verifyStart int

func init() {
	verifyCmd.Flags().IntVar(&verifyStart, "start-index", -1, "Catalog index to start from (defaults to the saved cursor).")
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(backfillCmd)
}

var verifyCmd = &cobra.Command{
	Use:   "verify [--start-index <n>]",
	Short: "Re-check catalog dates against the site and repair drifted records.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		tracker := metrics.NewTracker("verify")
		stop := logProgress(tracker)
		defer stop()

		v := verify.NewVerifier(newPages(tracker), newDocuments(), tracker)
		summary, err := v.VerifyBatch(ctx, verifyStart)

		fmt.Printf("From %s: %s were wrong. %s had invalid JSON date. %s doesn't have date on website. %s were fixed. %s were skipped.\n",
			colorBold(summary.Total-summary.StartedFromIndex),
			colorWarn(summary.Mismatched),
			colorWarn(summary.InvalidStoredDate),
			colorWarn(summary.NoWebsiteDate),
			colorSuccess(summary.Fixed),
			colorInfo(summary.Skipped),
		)
		if summary.DataChanges > 0 {
			logrus.Warnf("%d records changed magnet or direct links", summary.DataChanges)
		}
		return finishRun(ctx, tracker, err)
	},
}

var backfillCmd = &cobra.Command{
	Use:   "backfill-direct",
	Short: "Fill in direct download links for verified records that have none.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		tracker := metrics.NewTracker("backfill-direct")
		stop := logProgress(tracker)
		defer stop()

		v := verify.NewVerifier(newPages(tracker), newDocuments(), tracker)
		updated, err := v.BackfillDirect(ctx)
		fmt.Printf("%s records gained direct links\n", colorSuccess(updated))
		return finishRun(ctx, tracker, err)
	},
}
