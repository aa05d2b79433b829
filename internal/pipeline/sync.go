package pipeline

import (
	"context"
	"fmt"

	"github.com/alvmarrod/repack-ledger/internal/metrics"
	"github.com/alvmarrod/repack-ledger/internal/storage"
	"github.com/sirupsen/logrus"
)

// Sync loads the catalog and the reference listing, queues what is missing
// and drains the queue through pool. A document that exists but cannot be
// read stops the run before anything is queued or written.
func Sync(ctx context.Context, docs *storage.Documents, pool *Pool, tracker *metrics.Tracker) ([]storage.GameRecord, error) {
	catalog, err := docs.LoadCatalog()
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	reference, err := docs.LoadReference()
	if err != nil {
		return nil, fmt.Errorf("load reference listing: %w", err)
	}

	pending, err := NewReconciler(docs, tracker).Reconcile(catalog, reference, docs.LoadCache())
	if err != nil {
		return nil, fmt.Errorf("reconcile: %w", err)
	}

	updated, err := pool.Process(ctx, pending, catalog)
	if err != nil {
		return updated, fmt.Errorf("process pending queue: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"existing": len(catalog),
		"new":      len(updated) - len(catalog),
		"total":    len(updated),
	}).Info("Update summary")

	return updated, nil
}
