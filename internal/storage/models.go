package storage

import (
	"encoding/json"
	"math"
	"time"
)

// Known direct-download hosts
const (
	HostDatanodes   = "datanodes"
	HostFuckingFast = "fuckingfast"
)

// GameRecord is one catalogued repack
type GameRecord struct {
	ID          int                 `json:"id"`
	Name        string              `json:"name"`
	Link        string              `json:"link"`
	Date        time.Time           `json:"date"`
	Tags        []string            `json:"tags"`
	Creator     []string            `json:"creator"`
	Original    string              `json:"original"`
	Packed      string              `json:"packed"`
	Size        float64             `json:"size"`
	Verified    bool                `json:"verified"`
	Magnet      *string             `json:"magnet"`
	Direct      map[string][]string `json:"direct"`
	LastChecked time.Time           `json:"lastChecked"`
}

// UnmarshalJSON tolerates missing or unparseable timestamps so that one bad
// record does not make the whole document unreadable
func (g *GameRecord) UnmarshalJSON(data []byte) error {
	type alias GameRecord
	var raw struct {
		alias
		Date        *string `json:"date"`
		LastChecked *string `json:"lastChecked"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*g = GameRecord(raw.alias)
	g.Date = parseTimestamp(raw.Date)
	g.LastChecked = parseTimestamp(raw.LastChecked)
	return nil
}

// HasMagnet reports whether a non-empty magnet link is present
func (g *GameRecord) HasMagnet() bool {
	return g.Magnet != nil && *g.Magnet != ""
}

// IsVerified is the canonical verified predicate: magnet present and size > 0
func (g *GameRecord) IsVerified() bool {
	return g.HasMagnet() && g.Size > 0
}

// HasData reports whether the record carries anything worth persisting
func (g *GameRecord) HasData() bool {
	return g.Verified || g.Size > 0 || g.HasMagnet() || len(g.Direct) > 0
}

// Normalize applies the on-load invariants: verified requires size, size is
// rounded to one decimal, collections are never nil and lastChecked is set
func (g *GameRecord) Normalize(now time.Time) {
	if g.Size < 0 || math.IsNaN(g.Size) {
		g.Size = 0
	}
	g.Size = RoundSize(g.Size)
	g.Verified = g.Verified && g.Size > 0
	if g.Tags == nil {
		g.Tags = []string{}
	}
	if g.Creator == nil {
		g.Creator = []string{}
	}
	if g.Direct == nil {
		g.Direct = map[string][]string{}
	}
	if g.LastChecked.IsZero() {
		g.LastChecked = now
	}
}

// CheckedOn reports whether the record was last checked on the same UTC day as now
func (g *GameRecord) CheckedOn(now time.Time) bool {
	if g.LastChecked.IsZero() {
		return false
	}
	return g.LastChecked.UTC().Format(time.DateOnly) == now.UTC().Format(time.DateOnly)
}

// RoundSize rounds a size in gigabytes to one decimal
func RoundSize(size float64) float64 {
	return math.Round(size*10) / 10
}

// PendingEntry is a record shell waiting for detail extraction
type PendingEntry struct {
	ID          int       `json:"id"`
	Name        string    `json:"name"`
	Link        string    `json:"link"`
	LastChecked time.Time `json:"lastChecked"`
}

// Record expands the pending shell into a minimal GameRecord
func (p PendingEntry) Record() GameRecord {
	return GameRecord{
		ID:          p.ID,
		Name:        p.Name,
		Link:        p.Link,
		LastChecked: p.LastChecked,
		Tags:        []string{},
		Creator:     []string{},
		Direct:      map[string][]string{},
	}
}

// ReferenceEntry is one item of the complete site listing
type ReferenceEntry struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	Link string `json:"link"`
	Page int    `json:"page,omitempty"`
}

// CrawlCache tracks pagination and the newest-crawl boundary
type CrawlCache struct {
	Pages       int       `json:"pages"`
	LastChecked time.Time `json:"lastChecked"`
	LastID      int       `json:"lastId"`
}

// VerifierProgress is the resumable drift-check cursor
type VerifierProgress struct {
	LastCheckedIndex int `json:"lastCheckedIndex"`
}

// CrawlState is the full-index crawl resume cursor
type CrawlState struct {
	CurrentPage int `json:"currentPage"`
}

// Run records one pipeline invocation for the run history
type Run struct {
	RunID      int
	Command    string
	StartTime  time.Time
	EndTime    time.Time
	MetricsRaw string
}

// Metrics tracks run statistics for export on exit
type Metrics struct {
	Command           string    `json:"command"`
	StartTime         time.Time `json:"start_time"`
	EndTime           time.Time `json:"end_time"`
	PagesFetched      int       `json:"pages_fetched"`
	PagesFailed       int       `json:"pages_failed"`
	EntriesQueued     int       `json:"entries_queued"`
	RecordsSaved      int       `json:"records_saved"`
	RecordsSkipped    int       `json:"records_skipped"`
	RecordsFailed     int       `json:"records_failed"`
	RecordsMatched    int       `json:"records_matched"`
	RecordsFixed      int       `json:"records_fixed"`
	ReferenceAdded    int       `json:"reference_added"`
	TotalFetchTimeMs  int64     `json:"total_fetch_time_ms"`
	AvgFetchTimeMs    int64     `json:"avg_fetch_time_ms"`
	TerminationReason string    `json:"termination_reason"`
}

func parseTimestamp(s *string) time.Time {
	if s == nil || *s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.000Z07:00", time.DateOnly} {
		if t, err := time.Parse(layout, *s); err == nil {
			return t
		}
	}
	return time.Time{}
}
