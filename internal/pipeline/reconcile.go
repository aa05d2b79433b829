package pipeline

import (
	"fmt"
	"time"

	"github.com/alvmarrod/repack-ledger/internal/memory"
	"github.com/alvmarrod/repack-ledger/internal/metrics"
	"github.com/alvmarrod/repack-ledger/internal/storage"
	"github.com/sirupsen/logrus"
)

// Diff returns the reference entries missing from both the catalog and the
// pending queue, as new pending entries in reference order. Ids continue
// from the highest id seen in the catalog, the queue or lastID. The second
// return value is the new id high-water mark.
func Diff(catalog []storage.GameRecord, pending []storage.PendingEntry, reference []storage.ReferenceEntry, lastID int, now time.Time) ([]storage.PendingEntry, int) {
	index := memory.NewIndex()
	for _, g := range catalog {
		index.Observe(g.ID, g.Link)
	}
	for _, p := range pending {
		index.Observe(p.ID, p.Link)
	}
	index.Seed(lastID)

	added := []storage.PendingEntry{}
	for _, ref := range reference {
		if ref.Link == "" || index.Has(ref.Link) {
			continue
		}
		id, _ := index.Add(ref.Link)
		added = append(added, storage.PendingEntry{
			ID:          id,
			Name:        ref.Name,
			Link:        ref.Link,
			LastChecked: now,
		})
	}
	return added, index.LastID()
}

// Reconciler queues reference entries that the catalog does not have yet
type Reconciler struct {
	docs    *storage.Documents
	tracker *metrics.Tracker
	now     func() time.Time
}

// NewReconciler creates a reconciler over the document store
func NewReconciler(docs *storage.Documents, tracker *metrics.Tracker) *Reconciler {
	if tracker == nil {
		tracker = metrics.NewTracker("reconcile")
	}
	return &Reconciler{docs: docs, tracker: tracker, now: time.Now}
}

// SetClock overrides the time source
func (r *Reconciler) SetClock(now func() time.Time) {
	r.now = now
}

// Reconcile appends unseen reference entries to the pending queue and
// returns the whole queue. The catalog is only read. The queue and the id
// high-water mark are persisted once, and only when something was added.
func (r *Reconciler) Reconcile(catalog []storage.GameRecord, reference []storage.ReferenceEntry, cache storage.CrawlCache) ([]storage.PendingEntry, error) {
	pending, err := r.docs.LoadPending()
	if err != nil {
		return nil, fmt.Errorf("failed to load pending queue: %w", err)
	}

	added, lastID := Diff(catalog, pending, reference, cache.LastID, r.now())

	logrus.WithFields(logrus.Fields{
		"catalog":   len(catalog),
		"reference": len(reference),
		"pending":   len(pending),
		"new":       len(added),
	}).Info("Reconciled reference listing")

	if len(added) == 0 {
		return pending, nil
	}

	for _, p := range added {
		logrus.WithFields(logrus.Fields{"id": p.ID, "name": p.Name, "link": p.Link}).Debug("Queued")
	}

	pending = append(pending, added...)
	if err := r.docs.SavePending(pending); err != nil {
		return nil, err
	}
	r.tracker.AddEntriesQueued(len(added))

	cache.LastID = lastID
	if err := r.docs.SaveCache(cache); err != nil {
		return pending, err
	}
	return pending, nil
}
