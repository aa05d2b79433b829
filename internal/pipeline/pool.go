package pipeline

import (
	"context"
	"fmt"

	"github.com/alvmarrod/repack-ledger/internal/memory"
	"github.com/alvmarrod/repack-ledger/internal/metrics"
	"github.com/alvmarrod/repack-ledger/internal/storage"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Extractor resolves a record shell into a detailed record
type Extractor interface {
	Extract(ctx context.Context, game storage.GameRecord) (storage.GameRecord, bool)
}

// ExtractorFactory builds the extractor owned by one worker, so every
// worker runs its own fetch session
type ExtractorFactory func(worker int) Extractor

// Persister is the serialized write path for the catalog and the queue
type Persister interface {
	SaveCatalog(games []storage.GameRecord) error
	SavePending(entries []storage.PendingEntry) error
	DeletePending() error
}

// Pool drains the pending queue with a fixed number of workers. Workers
// only extract; every write goes through the single coordinating goroutine.
type Pool struct {
	workers      int
	newExtractor ExtractorFactory
	store        Persister
	tracker      *metrics.Tracker
}

type result struct {
	entry    storage.PendingEntry
	record   storage.GameRecord
	verified bool
	err      error
}

// NewPool creates a worker pool
func NewPool(workers int, newExtractor ExtractorFactory, store Persister, tracker *metrics.Tracker) *Pool {
	if workers < 1 {
		workers = 1
	}
	if tracker == nil {
		tracker = metrics.NewTracker("run")
	}
	return &Pool{
		workers:      workers,
		newExtractor: newExtractor,
		store:        store,
		tracker:      tracker,
	}
}

// Process resolves the pending entries and returns the updated catalog.
// Entries with real data move into the catalog and out of the queue, one at
// a time; everything else stays queued for the next run. A persistence
// failure stops the batch, leaving the documents as of the last good write.
func (p *Pool) Process(ctx context.Context, pending []storage.PendingEntry, catalog []storage.GameRecord) ([]storage.GameRecord, error) {
	if len(pending) == 0 {
		logrus.Info("Pending queue is empty, nothing to process")
		return catalog, p.store.DeletePending()
	}

	known := make(map[string]bool, len(catalog))
	for _, g := range catalog {
		known[memory.NormalizeLink(g.Link)] = true
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	queue := NewQueue()
	g, gctx := errgroup.WithContext(ctx)
	results := make(chan result)

	for i := 0; i < p.workers; i++ {
		worker := i + 1
		g.Go(func() error {
			p.work(gctx, worker, queue, results)
			return nil
		})
	}

	// Workers block in Pop until entries arrive or the queue stops.
	remaining := make([]storage.PendingEntry, 0, len(pending))
	for _, entry := range pending {
		if known[memory.NormalizeLink(entry.Link)] {
			logrus.WithFields(logrus.Fields{"id": entry.ID, "name": entry.Name}).Info("Already in catalog, dropping from queue")
			continue
		}
		if queue.Push(entry) {
			remaining = append(remaining, entry)
		}
	}
	queue.Stop()

	logrus.Infof("Processing %d pending entries with %d workers", len(remaining), p.workers)

	go func() {
		g.Wait()
		close(results)
	}()

	var persistErr error
	for res := range results {
		if persistErr != nil {
			continue
		}

		log := logrus.WithFields(logrus.Fields{"id": res.entry.ID, "name": res.entry.Name})

		if res.err != nil {
			log.Errorf("Worker failed, keeping entry queued: %v", res.err)
			p.tracker.IncrementRecordsFailed()
			continue
		}

		if !res.record.HasData() {
			log.Warn("No data extracted, keeping entry queued")
			p.tracker.IncrementRecordsSkipped()
			continue
		}

		next := append(catalog, res.record)
		if err := p.store.SaveCatalog(next); err != nil {
			persistErr = fmt.Errorf("failed to save catalog: %w", err)
			cancel()
			continue
		}
		catalog = next
		remaining = without(remaining, res.entry.ID)

		if err := p.store.SavePending(remaining); err != nil {
			persistErr = fmt.Errorf("failed to save pending queue: %w", err)
			cancel()
			continue
		}

		p.tracker.IncrementRecordsSaved()
		log.WithField("verified", res.verified).Info("Saved to catalog")
	}

	if persistErr != nil {
		logrus.Errorf("Batch aborted: %v", persistErr)
		return catalog, persistErr
	}

	if len(remaining) == 0 {
		return catalog, p.store.DeletePending()
	}
	logrus.Infof("%d entries left in the pending queue", len(remaining))
	return catalog, p.store.SavePending(remaining)
}

// work pops entries until the queue is drained or ctx is cancelled
func (p *Pool) work(ctx context.Context, worker int, queue *Queue, results chan<- result) {
	extractor := p.newExtractor(worker)
	logrus.Debugf("Worker %d started", worker)

	for {
		if ctx.Err() != nil {
			return
		}

		entry, ok := queue.Pop()
		if !ok {
			logrus.Debugf("Worker %d: queue drained, exiting", worker)
			return
		}

		res := p.extract(ctx, extractor, entry)
		select {
		case results <- res:
		case <-ctx.Done():
			return
		}
	}
}

// extract runs one entry, turning a panic into an error result
func (p *Pool) extract(ctx context.Context, extractor Extractor, entry storage.PendingEntry) (res result) {
	res.entry = entry
	defer func() {
		if r := recover(); r != nil {
			res.err = fmt.Errorf("extraction panicked: %v", r)
		}
	}()

	res.record, res.verified = extractor.Extract(ctx, entry.Record())
	return res
}

func without(entries []storage.PendingEntry, id int) []storage.PendingEntry {
	out := make([]storage.PendingEntry, 0, len(entries))
	for _, e := range entries {
		if e.ID != id {
			out = append(out, e)
		}
	}
	return out
}
