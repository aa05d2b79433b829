package metrics

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/alvmarrod/repack-ledger/internal/storage"
)

// Tracker holds and manages run metrics
type Tracker struct {
	mu               sync.Mutex
	data             storage.Metrics
	totalFetchTimeMs int64
	fetchCount       int
}

// NewTracker creates a new metrics tracker for the named command
func NewTracker(command string) *Tracker {
	return &Tracker{
		data: storage.Metrics{
			Command:   command,
			StartTime: time.Now(),
		},
	}
}

// RecordFetch records one page fetch attempt and its duration
func (t *Tracker) RecordFetch(duration time.Duration, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.totalFetchTimeMs += duration.Milliseconds()
	t.fetchCount++
	if ok {
		t.data.PagesFetched++
	} else {
		t.data.PagesFailed++
	}
}

// AddEntriesQueued adds to the pending-queue additions counter
func (t *Tracker) AddEntriesQueued(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data.EntriesQueued += n
}

// AddReferenceAdded adds to the new reference entries counter
func (t *Tracker) AddReferenceAdded(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data.ReferenceAdded += n
}

// IncrementRecordsSaved increments the persisted records counter
func (t *Tracker) IncrementRecordsSaved() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data.RecordsSaved++
}

// IncrementRecordsSkipped increments the no-data or already-checked counter
func (t *Tracker) IncrementRecordsSkipped() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data.RecordsSkipped++
}

// IncrementRecordsFailed increments the crashed or unfetchable counter
func (t *Tracker) IncrementRecordsFailed() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data.RecordsFailed++
}

// IncrementRecordsMatched increments the verifier date-match counter
func (t *Tracker) IncrementRecordsMatched() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data.RecordsMatched++
}

// IncrementRecordsFixed increments the verifier drift-fix counter
func (t *Tracker) IncrementRecordsFixed() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data.RecordsFixed++
}

// GetSnapshot returns a copy of current metrics
func (t *Tracker) GetSnapshot() storage.Metrics {
	t.mu.Lock()
	defer t.mu.Unlock()

	snapshot := t.data
	snapshot.TotalFetchTimeMs = t.totalFetchTimeMs

	// Calculate average fetch time
	if t.fetchCount > 0 {
		snapshot.AvgFetchTimeMs = t.totalFetchTimeMs / int64(t.fetchCount)
	}

	return snapshot
}

// Finish stamps the end time and termination reason and returns the result
func (t *Tracker) Finish(reason string) storage.Metrics {
	t.mu.Lock()
	t.data.EndTime = time.Now()
	t.data.TerminationReason = reason
	t.mu.Unlock()

	return t.GetSnapshot()
}

// WriteToFile exports finished metrics to a JSON file
func (t *Tracker) WriteToFile(path string, m storage.Metrics) error {
	jsonData, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metrics: %w", err)
	}

	if err := os.WriteFile(path, jsonData, 0644); err != nil {
		return fmt.Errorf("failed to write metrics file: %w", err)
	}

	return nil
}

// LogProgress renders the counters for a single log line
func (t *Tracker) LogProgress() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	return fmt.Sprintf("Pages: %d fetched, %d failed | Queued: %d | Records: %d saved, %d skipped, %d failed | Verify: %d matched, %d fixed",
		t.data.PagesFetched,
		t.data.PagesFailed,
		t.data.EntriesQueued,
		t.data.RecordsSaved,
		t.data.RecordsSkipped,
		t.data.RecordsFailed,
		t.data.RecordsMatched,
		t.data.RecordsFixed,
	)
}
