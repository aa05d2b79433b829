package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrMalformed marks a document that exists but cannot be decoded. Such a
// document is reported, never replaced.
var ErrMalformed = errors.New("malformed document")

// Paths locates every persisted document
type Paths struct {
	Catalog   string
	Reference string
	Pending   string
	Cache     string
	Progress  string
	State     string
}

// Documents handles load/save of the JSON documents backing the catalog.
// Every write is a full-file replace through a temp file and rename, and all
// writes pass through one mutex so concurrent callers never interleave.
type Documents struct {
	paths Paths
	mu    sync.Mutex
	now   func() time.Time
}

// NewDocuments creates a document store over the given paths
func NewDocuments(paths Paths) *Documents {
	return &Documents{paths: paths, now: time.Now}
}

// SetClock overrides the time source used for normalization
func (d *Documents) SetClock(now func() time.Time) {
	d.now = now
}

// Paths returns the configured document paths
func (d *Documents) Paths() Paths {
	return d.paths
}

// LoadCatalog reads the master catalog, creating an empty one if absent.
// A catalog that exists but cannot be decoded is returned as an
// ErrMalformed error and left untouched on disk.
func (d *Documents) LoadCatalog() ([]GameRecord, error) {
	if _, err := os.Stat(d.paths.Catalog); errors.Is(err, os.ErrNotExist) {
		logrus.Warnf("%s does not exist, creating it", d.paths.Catalog)
		d.mu.Lock()
		err := writeJSON(d.paths.Catalog, []GameRecord{})
		d.mu.Unlock()
		if err != nil {
			return nil, fmt.Errorf("failed to create catalog: %w", err)
		}
		return []GameRecord{}, nil
	}
	return d.ReadCatalog()
}

// ReadCatalog is LoadCatalog without the side effect: an absent catalog is
// simply empty. Records without a link are dropped and the rest normalized.
func (d *Documents) ReadCatalog() ([]GameRecord, error) {
	var raw []GameRecord
	if err := decode(d.paths.Catalog, &raw); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []GameRecord{}, nil
		}
		logrus.Errorf("Failed to load catalog: %v", err)
		return nil, err
	}

	now := d.now()
	games := make([]GameRecord, 0, len(raw))
	for _, g := range raw {
		if g.Link == "" {
			continue
		}
		g.Normalize(now)
		games = append(games, g)
	}

	if dropped := len(raw) - len(games); dropped > 0 {
		logrus.Warnf("Dropped %d catalog entries without a link from %s", dropped, d.paths.Catalog)
	}
	logSummary("Loaded", d.paths.Catalog, games, now)
	return games, nil
}

// SaveCatalog overwrites the master catalog with the given records
func (d *Documents) SaveCatalog(games []GameRecord) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if games == nil {
		games = []GameRecord{}
	}
	if err := writeJSON(d.paths.Catalog, games); err != nil {
		logrus.Errorf("Save %s failed: %v", d.paths.Catalog, err)
		return err
	}
	logSummary("Saved", d.paths.Catalog, games, d.now())
	return nil
}

// LoadPending reads the pending queue; an absent queue is simply empty
func (d *Documents) LoadPending() ([]PendingEntry, error) {
	var raw []PendingEntry
	if err := decode(d.paths.Pending, &raw); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []PendingEntry{}, nil
		}
		logrus.Errorf("Failed to load pending queue: %v", err)
		return nil, err
	}

	entries := make([]PendingEntry, 0, len(raw))
	for _, p := range raw {
		if p.ID == 0 || p.Link == "" {
			continue
		}
		entries = append(entries, p)
	}
	logrus.Infof("Loaded %s: %d pending entries", d.paths.Pending, len(entries))
	return entries, nil
}

// SavePending overwrites the pending queue
func (d *Documents) SavePending(entries []PendingEntry) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if entries == nil {
		entries = []PendingEntry{}
	}
	if err := writeJSON(d.paths.Pending, entries); err != nil {
		logrus.Errorf("Save %s failed: %v", d.paths.Pending, err)
		return err
	}
	logrus.Infof("Saved %s: %d pending entries", d.paths.Pending, len(entries))
	return nil
}

// DeletePending removes the pending queue document once drained
func (d *Documents) DeletePending() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	err := os.Remove(d.paths.Pending)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete pending queue: %w", err)
	}
	if err == nil {
		logrus.Infof("Pending queue drained, deleted %s", d.paths.Pending)
	}
	return nil
}

// LoadReference reads the complete site listing; an absent listing is empty
func (d *Documents) LoadReference() ([]ReferenceEntry, error) {
	var raw []ReferenceEntry
	if err := decode(d.paths.Reference, &raw); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logrus.Warnf("Reference listing %s not available, run the full crawl first", d.paths.Reference)
			return []ReferenceEntry{}, nil
		}
		logrus.Errorf("Failed to load reference listing: %v", err)
		return nil, err
	}

	entries := make([]ReferenceEntry, 0, len(raw))
	for _, r := range raw {
		if r.Link == "" {
			continue
		}
		entries = append(entries, r)
	}
	logrus.Infof("Loaded %s: %d reference entries", d.paths.Reference, len(entries))
	return entries, nil
}

// SaveReference overwrites the reference listing; only the crawler writes it
func (d *Documents) SaveReference(entries []ReferenceEntry) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if entries == nil {
		entries = []ReferenceEntry{}
	}
	if err := writeJSON(d.paths.Reference, entries); err != nil {
		return fmt.Errorf("failed to save reference listing: %w", err)
	}
	return nil
}

// LoadCache reads the crawl cache, creating a default one if absent
func (d *Documents) LoadCache() CrawlCache {
	def := CrawlCache{LastChecked: d.now()}
	var cache CrawlCache
	if !d.readOrCreate(d.paths.Cache, &cache, def) {
		return def
	}
	logrus.Debugf("Loaded cache: pages=%d lastId=%d lastChecked=%s", cache.Pages, cache.LastID, cache.LastChecked.Format(time.RFC3339))
	return cache
}

// SaveCache overwrites the crawl cache
func (d *Documents) SaveCache(cache CrawlCache) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := writeJSON(d.paths.Cache, cache); err != nil {
		return fmt.Errorf("failed to save cache: %w", err)
	}
	logrus.Debugf("Saved cache: pages=%d lastId=%d", cache.Pages, cache.LastID)
	return nil
}

// LoadProgress reads the verifier cursor; absent means start at zero
func (d *Documents) LoadProgress() VerifierProgress {
	var progress VerifierProgress
	if !d.readOptional(d.paths.Progress, &progress) {
		return VerifierProgress{}
	}
	if progress.LastCheckedIndex < 0 {
		progress.LastCheckedIndex = 0
	}
	return progress
}

// SaveProgress overwrites the verifier cursor
func (d *Documents) SaveProgress(index int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := writeJSON(d.paths.Progress, VerifierProgress{LastCheckedIndex: index}); err != nil {
		return fmt.Errorf("failed to save progress: %w", err)
	}
	return nil
}

// LoadState reads the crawl cursor; absent means no saved position
func (d *Documents) LoadState() CrawlState {
	var state CrawlState
	if !d.readOptional(d.paths.State, &state) {
		return CrawlState{}
	}
	return state
}

// SaveState overwrites the crawl cursor
func (d *Documents) SaveState(page int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := writeJSON(d.paths.State, CrawlState{CurrentPage: page}); err != nil {
		return fmt.Errorf("failed to save crawl state: %w", err)
	}
	return nil
}

// readOrCreate decodes path into out, writing def there first if the file is
// absent. Returns false when the contents could not be used.
func (d *Documents) readOrCreate(path string, out any, def any) bool {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		logrus.Warnf("%s does not exist, creating it", path)
		d.mu.Lock()
		err := writeJSON(path, def)
		d.mu.Unlock()
		if err != nil {
			logrus.Errorf("Failed to create %s: %v", path, err)
		}
		return false
	}
	return d.readOptional(path, out)
}

// readOptional decodes path into out. Absent or malformed files yield false;
// a malformed file is logged and left untouched on disk.
func (d *Documents) readOptional(path string, out any) bool {
	err := decode(path, out)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		logrus.Errorf("Failed to load %s: %v", path, err)
	}
	return err == nil
}

// decode reads path into out. A missing file returns an error matching
// os.ErrNotExist, undecodable contents one matching ErrMalformed.
func decode(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformed, path, err)
	}
	return nil
}

// writeJSON replaces path atomically with the indented JSON encoding of v
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", path, err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory for %s: %w", path, err)
		}
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}

// logSummary emits the catalog counters for observability
func logSummary(verb, path string, games []GameRecord, now time.Time) {
	verified, withDirect, missingDirect, notChecked := 0, 0, 0, 0
	for i := range games {
		g := &games[i]
		if g.Verified {
			verified++
		}
		if len(g.Direct) > 0 {
			withDirect++
		} else if g.Verified {
			missingDirect++
		}
		if !g.CheckedOn(now) {
			notChecked++
		}
	}

	logrus.WithFields(logrus.Fields{
		"total":          len(games),
		"verified":       verified,
		"with_direct":    withDirect,
		"missing_direct": missingDirect,
		"not_checked":    notChecked,
	}).Infof("%s %s", verb, path)
}
