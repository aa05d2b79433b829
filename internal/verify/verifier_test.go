package verify

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/alvmarrod/repack-ledger/internal/metrics"
	"github.com/alvmarrod/repack-ledger/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	fixedNow  = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	yesterday = fixedNow.Add(-24 * time.Hour)
	published = time.Date(2023, 11, 2, 8, 30, 0, 0, time.UTC)
)

// fakePages serves canned HTML keyed by link and records every request
type fakePages struct {
	mu      sync.Mutex
	pages   map[string]string
	fetched []string
}

func (f *fakePages) Document(ctx context.Context, link string) (*goquery.Document, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetched = append(f.fetched, link)

	html, ok := f.pages[link]
	if !ok {
		return nil, false
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, false
	}
	return doc, true
}

func page(date time.Time, magnet string, datanodes ...string) string {
	var b strings.Builder
	b.WriteString("<html><body><article>")
	if !date.IsZero() {
		fmt.Fprintf(&b, `<time class="entry-date" datetime="%s">date</time>`, date.Format(time.RFC3339))
	}
	b.WriteString(`<div class="entry-content">`)
	if magnet != "" {
		fmt.Fprintf(&b, `<a href="%s">magnet</a>`, magnet)
	}
	if len(datanodes) > 0 {
		b.WriteString(`<h3>Download Mirrors (Direct Links)</h3><ul><li>DataNodes <div class="su-spoiler-content">`)
		for _, href := range datanodes {
			fmt.Fprintf(&b, `<a href="%s">part</a>`, href)
		}
		b.WriteString(`</div></li></ul>`)
	}
	b.WriteString("</div></article></body></html>")
	return b.String()
}

func newDocuments(t *testing.T) *storage.Documents {
	t.Helper()
	dir := t.TempDir()
	docs := storage.NewDocuments(storage.Paths{
		Catalog:   filepath.Join(dir, "games.json"),
		Reference: filepath.Join(dir, "complete.json"),
		Pending:   filepath.Join(dir, "temp.json"),
		Cache:     filepath.Join(dir, "cache.json"),
		Progress:  filepath.Join(dir, "progress.json"),
		State:     filepath.Join(dir, "state.json"),
	})
	docs.SetClock(func() time.Time { return fixedNow })
	return docs
}

func mustCatalog(t *testing.T, docs *storage.Documents) []storage.GameRecord {
	t.Helper()
	games, err := docs.LoadCatalog()
	require.NoError(t, err)
	return games
}

func str(s string) *string { return &s }

func record(id int, date time.Time) storage.GameRecord {
	return storage.GameRecord{
		ID:          id,
		Name:        fmt.Sprintf("game-%d", id),
		Link:        fmt.Sprintf("https://site.test/game-%d/", id),
		Date:        date,
		Size:        1.5,
		Magnet:      str("magnet:?xt=old"),
		Verified:    true,
		Direct:      map[string][]string{},
		LastChecked: yesterday,
	}
}

func newVerifier(pages Pages, docs *storage.Documents, tracker *metrics.Tracker) *Verifier {
	v := NewVerifier(pages, docs, tracker)
	v.SetClock(func() time.Time { return fixedNow })
	return v
}

func TestVerifyBatchResumesFromSavedCursor(t *testing.T) {
	docs := newDocuments(t)
	pages := &fakePages{pages: map[string]string{}}

	games := make([]storage.GameRecord, 0, 10)
	for i := 1; i <= 10; i++ {
		g := record(i, published)
		games = append(games, g)
		pages.pages[g.Link] = page(published, "magnet:?xt=old")
	}
	require.NoError(t, docs.SaveCatalog(games))
	require.NoError(t, docs.SaveProgress(5))

	summary, err := newVerifier(pages, docs, nil).VerifyBatch(context.Background(), -1)
	require.NoError(t, err)

	require.Len(t, pages.fetched, 5)
	assert.Equal(t, games[5].Link, pages.fetched[0])
	assert.Equal(t, games[9].Link, pages.fetched[4])

	assert.Equal(t, 5, summary.StartedFromIndex)
	assert.Equal(t, 5, summary.Matched)
	assert.Equal(t, 0, docs.LoadProgress().LastCheckedIndex, "cursor resets after the last record")

	onDisk := mustCatalog(t, docs)
	assert.Equal(t, yesterday, onDisk[4].LastChecked.UTC())
	assert.Equal(t, fixedNow, onDisk[5].LastChecked.UTC())
}

func TestVerifyBatchExplicitStartOverridesCursor(t *testing.T) {
	docs := newDocuments(t)
	pages := &fakePages{pages: map[string]string{}}

	games := []storage.GameRecord{record(1, published), record(2, published), record(3, published)}
	for _, g := range games {
		pages.pages[g.Link] = page(published, "magnet:?xt=old")
	}
	require.NoError(t, docs.SaveCatalog(games))
	require.NoError(t, docs.SaveProgress(2))

	summary, err := newVerifier(pages, docs, nil).VerifyBatch(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, pages.fetched, 3)
	assert.Equal(t, 3, summary.Matched)
}

func TestVerifyBatchSkipsRecordsCheckedToday(t *testing.T) {
	docs := newDocuments(t)
	pages := &fakePages{pages: map[string]string{}}

	today := record(1, published)
	today.LastChecked = fixedNow.Add(-time.Hour)
	stale := record(2, published)
	pages.pages[stale.Link] = page(published, "magnet:?xt=old")
	require.NoError(t, docs.SaveCatalog([]storage.GameRecord{today, stale}))

	tracker := metrics.NewTracker("verify")
	summary, err := newVerifier(pages, docs, tracker).VerifyBatch(context.Background(), -1)
	require.NoError(t, err)

	assert.Equal(t, []string{stale.Link}, pages.fetched)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 1, summary.Matched)
	assert.Equal(t, 1, tracker.GetSnapshot().RecordsSkipped)
}

func TestVerifyBatchFixesDriftedDateAndData(t *testing.T) {
	docs := newDocuments(t)
	moved := published.Add(48 * time.Hour)

	drifted := record(1, published)
	sameData := record(2, published)
	pages := &fakePages{pages: map[string]string{
		drifted.Link:  page(moved, "magnet:?xt=new", "https://datanodes.to/a/part1.rar"),
		sameData.Link: page(moved, "magnet:?xt=old"),
	}}
	require.NoError(t, docs.SaveCatalog([]storage.GameRecord{drifted, sameData}))

	tracker := metrics.NewTracker("verify")
	summary, err := newVerifier(pages, docs, tracker).VerifyBatch(context.Background(), -1)
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Mismatched)
	assert.Equal(t, 2, summary.Fixed)
	assert.Equal(t, 1, summary.DataChanges)
	assert.Equal(t, 2, tracker.GetSnapshot().RecordsFixed)

	onDisk := mustCatalog(t, docs)
	require.Len(t, onDisk, 2)

	assert.True(t, onDisk[0].Date.Equal(moved))
	assert.Equal(t, "magnet:?xt=new", *onDisk[0].Magnet)
	assert.Equal(t, map[string][]string{
		storage.HostDatanodes: {"https://datanodes.to/a/part1.rar"},
	}, onDisk[0].Direct)
	assert.True(t, onDisk[0].Verified)

	assert.True(t, onDisk[1].Date.Equal(moved))
	assert.Equal(t, "magnet:?xt=old", *onDisk[1].Magnet)
	assert.Empty(t, onDisk[1].Direct)
}

func TestVerifyBatchCountsMissingDates(t *testing.T) {
	docs := newDocuments(t)

	noStoredDate := record(1, time.Time{})
	noSiteDate := record(2, published)
	unreachable := record(3, published)
	pages := &fakePages{pages: map[string]string{
		noStoredDate.Link: page(published, "magnet:?xt=old"),
		noSiteDate.Link:   page(time.Time{}, "magnet:?xt=old"),
	}}
	require.NoError(t, docs.SaveCatalog([]storage.GameRecord{noStoredDate, noSiteDate, unreachable}))

	summary, err := newVerifier(pages, docs, nil).VerifyBatch(context.Background(), -1)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.InvalidStoredDate)
	assert.Equal(t, 2, summary.NoWebsiteDate)
	assert.Equal(t, 1, summary.Fixed, "a missing stored date is repaired from the site")

	onDisk := mustCatalog(t, docs)
	assert.True(t, onDisk[0].Date.Equal(published))
	assert.Equal(t, yesterday, onDisk[1].LastChecked.UTC())
}

func TestVerifyBatchStopsOnCancel(t *testing.T) {
	docs := newDocuments(t)
	pages := &fakePages{pages: map[string]string{}}
	require.NoError(t, docs.SaveCatalog([]storage.GameRecord{record(1, published), record(2, published)}))
	require.NoError(t, docs.SaveProgress(1))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newVerifier(pages, docs, nil).VerifyBatch(ctx, -1)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, pages.fetched)
	assert.Equal(t, 1, docs.LoadProgress().LastCheckedIndex, "cursor survives an interrupted run")
}

func TestBackfillDirect(t *testing.T) {
	docs := newDocuments(t)

	missing := record(1, published)
	hasLinks := record(2, published)
	hasLinks.Direct = map[string][]string{storage.HostDatanodes: {"https://datanodes.to/keep"}}
	unverified := record(3, published)
	unverified.Verified = false
	unverified.Magnet = nil
	noneOnSite := record(4, published)

	pages := &fakePages{pages: map[string]string{
		missing.Link:    page(published, "", "https://datanodes.to/new/part1.rar"),
		hasLinks.Link:   page(published, "", "https://datanodes.to/other"),
		unverified.Link: page(published, "", "https://datanodes.to/other"),
		noneOnSite.Link: page(published, ""),
	}}
	require.NoError(t, docs.SaveCatalog([]storage.GameRecord{missing, hasLinks, unverified, noneOnSite}))

	updated, err := newVerifier(pages, docs, nil).BackfillDirect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, updated)
	assert.ElementsMatch(t, []string{missing.Link, noneOnSite.Link}, pages.fetched)

	onDisk := mustCatalog(t, docs)
	assert.Equal(t, []string{"https://datanodes.to/new/part1.rar"}, onDisk[0].Direct[storage.HostDatanodes])
	assert.Equal(t, []string{"https://datanodes.to/keep"}, onDisk[1].Direct[storage.HostDatanodes])
	assert.Empty(t, onDisk[3].Direct)
}

func TestMalformedCatalogStopsVerifierAndBackfill(t *testing.T) {
	docs := newDocuments(t)
	truncated := `[{"id": 1, "name": "game-1", "link": "https://site.test/game-1/", "verified": true`
	require.NoError(t, os.WriteFile(docs.Paths().Catalog, []byte(truncated), 0644))
	require.NoError(t, docs.SaveProgress(3))

	pages := &fakePages{pages: map[string]string{}}
	v := newVerifier(pages, docs, nil)

	_, err := v.VerifyBatch(context.Background(), -1)
	require.ErrorIs(t, err, storage.ErrMalformed)

	_, err = v.BackfillDirect(context.Background())
	require.ErrorIs(t, err, storage.ErrMalformed)

	assert.Empty(t, pages.fetched)
	assert.Equal(t, 3, docs.LoadProgress().LastCheckedIndex, "cursor is left alone")
	data, err := os.ReadFile(docs.Paths().Catalog)
	require.NoError(t, err)
	assert.Equal(t, truncated, string(data))
}
