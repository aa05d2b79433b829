package extract

import (
	"context"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/alvmarrod/repack-ledger/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

const detailPage = `<!DOCTYPE html>
<html><head><title>Some Game</title></head>
<body>
<article>
<header><time class="entry-date" datetime="2024-03-08T19:46:46+03:00">March 8, 2024</time></header>
<div class="entry-content">
<h3>Some Game, v1.2 + 3 DLCs</h3>
<p>Genres/Tags: <a href="/tag/action/">Action</a>, <a href="/tag/shooter/">Shooter</a>, <a href="/tag/3d/">3D</a><br />
Companies: <strong>Bethesda Softworks</strong>, <strong>id Software</strong><br />
Languages: <strong>ENG/MULTI9</strong><br />
Original Size: <strong>10,2 GB</strong><br />
Repack Size: <strong>from 5.1 GB [Selective Download]</strong></p>
<h3>Download Mirrors (Direct Links)</h3>
<ul>
<li>Filehoster: <strong>DataNodes</strong>
<div class="su-spoiler"><div class="su-spoiler-title">Show links</div>
<div class="su-spoiler-content"><a href="https://datanodes.to/a1/part1.rar">part1</a><br /><a href="https://datanodes.to/a2/part2.rar">part2</a></div></div></li>
<li>Filehoster: <strong>FuckingFast</strong>
<div class="su-spoiler"><div class="su-spoiler-content"><a href="/ff/part1.rar">part1</a></div></div></li>
<li>Filehoster: <strong>MultiUpload</strong>
<div class="su-spoiler"><div class="su-spoiler-content"><a href="https://multiup.example/x">x</a></div></div></li>
</ul>
<h3>Download Mirrors (Torrent)</h3>
<ul><li><a href="magnet:?xt=urn:btih:ABCDEF&amp;dn=some-game">magnet</a></li></ul>
</div>
</article>
</body></html>`

func parse(t *testing.T, html, pageURL string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)
	doc.Url, err = url.Parse(pageURL)
	require.NoError(t, err)
	return doc
}

func shell() storage.GameRecord {
	return storage.PendingEntry{ID: 7, Name: "Some Game", Link: "https://site.test/some-game/"}.Record()
}

func TestFromDocumentFullPage(t *testing.T) {
	doc := parse(t, detailPage, "https://site.test/some-game/")

	rec := FromDocument(doc, shell(), fixedNow)

	assert.Equal(t, time.Date(2024, 3, 8, 16, 46, 46, 0, time.UTC), rec.Date.UTC())
	assert.Equal(t, []string{"Action", "Shooter", "3D"}, rec.Tags)
	assert.Equal(t, []string{"Bethesda Softworks", "id Software"}, rec.Creator)
	assert.Equal(t, "10,2 GB", rec.Original)
	assert.Equal(t, "from 5.1 GB", rec.Packed)
	assert.InDelta(t, 10.2, rec.Size, 1e-9)

	assert.Equal(t, map[string][]string{
		storage.HostDatanodes:   {"https://datanodes.to/a1/part1.rar", "https://datanodes.to/a2/part2.rar"},
		storage.HostFuckingFast: {"https://site.test/ff/part1.rar"},
	}, rec.Direct)

	require.NotNil(t, rec.Magnet)
	assert.Equal(t, "magnet:?xt=urn:btih:ABCDEF&dn=some-game", *rec.Magnet)
	assert.True(t, rec.Verified)
	assert.Equal(t, fixedNow, rec.LastChecked)
	assert.Equal(t, 7, rec.ID)
}

func TestFromDocumentMissingSections(t *testing.T) {
	doc := parse(t, `<html><body><p>nothing here</p></body></html>`, "https://site.test/empty/")

	rec := FromDocument(doc, shell(), fixedNow)

	assert.Equal(t, fixedNow, rec.Date, "date falls back to now")
	assert.Empty(t, rec.Tags)
	assert.NotNil(t, rec.Tags)
	assert.Empty(t, rec.Direct)
	assert.NotNil(t, rec.Direct)
	assert.Nil(t, rec.Magnet)
	assert.Zero(t, rec.Size)
	assert.False(t, rec.Verified)
	assert.False(t, rec.HasData())
}

func TestFromDocumentMagnetWithoutDirectIsVerified(t *testing.T) {
	page := `<html><body><div class="entry-content">
<p>Repack Size: 1.2 GB</p>
<a href="magnet:?xt=urn:btih:123">magnet</a>
</div></body></html>`
	doc := parse(t, page, "https://site.test/small/")

	rec := FromDocument(doc, shell(), fixedNow)
	assert.InDelta(t, 1.2, rec.Size, 1e-9)
	assert.Empty(t, rec.Direct)
	assert.True(t, rec.Verified)
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		name     string
		packed   string
		original string
		expected float64
	}{
		{"packed megabytes only", "700 MB", "", 700.0 / 1024},
		{"megabytes without a space", "700MB", "", 700.0 / 1024},
		{"megabytes after a prefix", "from 700MB", "", 700.0 / 1024},
		{"lowercase unit", "", "512mb", 0.5},
		{"larger original wins", "from 5.1 GB", "10.2 GB", 10.2},
		{"comma decimal", "3,5 GB", "", 3.5},
		{"mixed units compare in gigabytes", "900 MB", "1.5 GB", 1.5},
		{"original in megabytes", "", "512 MB", 0.5},
		{"no numbers", "unknown", "", 0},
		{"both empty", "", "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, ParseSize(tt.packed, tt.original), 1e-9)
		})
	}

	assert.Equal(t, 0.7, storage.RoundSize(ParseSize("700 MB", "")))
}

func TestParseFieldsIsLabelDriven(t *testing.T) {
	f := ParseFields([]string{
		"Repack Size: 2 GB [Lossless]",
		"Company: Studio",
		"Original Size: 4 GB",
		"Genres/Tags: Puzzle",
	})
	assert.Equal(t, []string{"Puzzle"}, f.Tags)
	assert.Equal(t, []string{"Studio"}, f.Creator)
	assert.Equal(t, "4 GB", f.Original)
	assert.Equal(t, "2 GB", f.Packed)
}

type stubPages struct {
	html  string
	calls int
}

func (s *stubPages) Document(ctx context.Context, pageURL string) (*goquery.Document, bool) {
	s.calls++
	if s.html == "" {
		return nil, false
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s.html))
	if err != nil {
		return nil, false
	}
	doc.Url, _ = url.Parse(pageURL)
	return doc, true
}

func TestExtractFetchFailureReturnsInputUnchanged(t *testing.T) {
	e := New(&stubPages{})
	e.SetClock(func() time.Time { return fixedNow })

	in := shell()
	in.Verified = true
	rec, verified := e.Extract(context.Background(), in)

	assert.False(t, verified)
	assert.Equal(t, in, rec)
}

func TestExtractSuccess(t *testing.T) {
	pages := &stubPages{html: detailPage}
	e := New(pages)
	e.SetClock(func() time.Time { return fixedNow })

	rec, verified := e.Extract(context.Background(), shell())

	assert.True(t, verified)
	assert.Equal(t, 1, pages.calls)
	assert.Len(t, rec.Direct, 2)
	assert.Equal(t, fixedNow, rec.LastChecked)
}
