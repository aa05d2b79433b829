package pipeline

import (
	"sync"

	"github.com/alvmarrod/repack-ledger/internal/memory"
	"github.com/alvmarrod/repack-ledger/internal/storage"
)

// Queue is a thread-safe FIFO of pending entries with link deduplication
type Queue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	items   []storage.PendingEntry
	visited map[string]bool // key: normalized link
	stopped bool
}

// NewQueue creates a new work queue
func NewQueue() *Queue {
	q := &Queue{
		items:   make([]storage.PendingEntry, 0),
		visited: make(map[string]bool),
		stopped: false,
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push adds an entry unless its link was already queued.
// Returns true if added, false if duplicate or stopped.
func (q *Queue) Push(entry storage.PendingEntry) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopped {
		return false
	}

	key := memory.NormalizeLink(entry.Link)
	if q.visited[key] {
		return false
	}

	q.visited[key] = true
	q.items = append(q.items, entry)

	// Signal waiting workers
	q.cond.Signal()

	return true
}

// Pop removes and returns the first entry.
// Blocks while the queue is empty and not stopped; returns false once
// stopped and drained.
func (q *Queue) Pop() (storage.PendingEntry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		if len(q.items) > 0 {
			entry := q.items[0]
			q.items = q.items[1:]
			return entry, true
		}

		if q.stopped {
			return storage.PendingEntry{}, false
		}

		q.cond.Wait()
	}
}

// Size returns the current number of items in the queue
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Stop closes the queue to new entries.
// Workers blocked on Pop drain the remaining items, then receive false.
func (q *Queue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.stopped = true
	q.cond.Broadcast()
}
