package memory

import (
	"net/url"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// Index holds link identities and the id counter in memory so
// reconciliation and crawling can decide "is this new?" without rescanning
// the documents
type Index struct {
	links     map[string]int // normalized link -> id
	idCounter int            // highest id handed out or observed
	mu        sync.RWMutex
}

// NewIndex creates an empty index
func NewIndex() *Index {
	return &Index{
		links: make(map[string]int),
	}
}

// NormalizeLink reduces a detail-page URL to its identity: lowercase, no
// scheme, no fragment and no trailing slash
func NormalizeLink(link string) string {
	s := strings.TrimSpace(link)
	if u, err := url.Parse(s); err == nil && u.Host != "" {
		u.Fragment = ""
		u.RawFragment = ""
		s = u.Host + u.EscapedPath()
		if u.RawQuery != "" {
			s += "?" + u.RawQuery
		}
	} else {
		if i := strings.Index(s, "#"); i >= 0 {
			s = s[:i]
		}
		if i := strings.Index(s, "://"); i >= 0 {
			s = s[i+3:]
		}
		s = strings.TrimPrefix(s, "//")
	}
	s = strings.TrimRight(s, "/")
	return strings.ToLower(s)
}

// Observe registers an existing id/link pair, raising the id counter if needed.
// A zero id only marks the link as known.
func (ix *Index) Observe(id int, link string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	key := NormalizeLink(link)
	if key != "" {
		if _, exists := ix.links[key]; !exists {
			ix.links[key] = id
		}
	}
	if id > ix.idCounter {
		ix.idCounter = id
	}
}

// Seed raises the id counter to at least floor without registering a link
func (ix *Index) Seed(floor int) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if floor > ix.idCounter {
		ix.idCounter = floor
	}
}

// Has reports whether the link's identity is already known
func (ix *Index) Has(link string) bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	_, exists := ix.links[NormalizeLink(link)]
	return exists
}

// Add registers a new link and returns its freshly assigned id.
// Returns (id, false) with the existing id when the link is already known.
func (ix *Index) Add(link string) (int, bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	key := NormalizeLink(link)
	if id, exists := ix.links[key]; exists {
		return id, false
	}

	ix.idCounter++
	ix.links[key] = ix.idCounter

	logrus.Debugf("Index: assigned id %d to %s", ix.idCounter, key)
	return ix.idCounter, true
}

// LastID returns the highest id handed out or observed
func (ix *Index) LastID() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.idCounter
}

