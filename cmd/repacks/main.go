package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/alvmarrod/repack-ledger/cmd/repacks/commands"
	"github.com/sirupsen/logrus"
)

func main() {
	// Configure logging; the level is raised or lowered once config is loaded
	logrus.SetLevel(logrus.InfoLevel)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	// The first SIGINT/SIGTERM cancels the run; documents are saved after
	// every record so the next run resumes where this one stopped
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	commands.ExecuteContext(ctx)
}
