package extract

import (
	"context"
	"fmt"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/alvmarrod/repack-ledger/internal/storage"
	"github.com/sirupsen/logrus"
)

// PageSource fetches and parses a page, reporting false when nothing came back
type PageSource interface {
	Document(ctx context.Context, url string) (*goquery.Document, bool)
}

// Extractor turns detail pages into catalog records
type Extractor struct {
	pages PageSource
	now   func() time.Time
}

// New creates an extractor reading pages from src
func New(src PageSource) *Extractor {
	return &Extractor{pages: src, now: time.Now}
}

// SetClock overrides the time source
func (e *Extractor) SetClock(now func() time.Time) {
	e.now = now
}

// Extract fetches game's detail page and fills in its metadata. When the page
// cannot be fetched the record is returned unchanged with verified=false.
func (e *Extractor) Extract(ctx context.Context, game storage.GameRecord) (rec storage.GameRecord, verified bool) {
	log := logrus.WithFields(logrus.Fields{"id": game.ID, "name": game.Name})

	doc, ok := e.pages.Document(ctx, game.Link)
	if !ok {
		log.Warn("Details: no content fetched")
		return game, false
	}

	defer func() {
		if r := recover(); r != nil {
			log.Warnf("Details error: %v", r)
			rec, verified = game, false
		}
	}()

	rec = FromDocument(doc, game, e.now())
	log.WithFields(logrus.Fields{
		"link":   rec.Link,
		"size":   rec.Size,
		"direct": fmt.Sprint(rec.Direct),
		"magnet": rec.HasMagnet(),
	}).Infof("%s extracted", rec.Name)

	return rec, rec.Verified
}

// FromDocument applies a parsed detail page to game. Missing sections are
// logged and leave their fields at defaults.
func FromDocument(doc *goquery.Document, game storage.GameRecord, now time.Time) storage.GameRecord {
	rec := game
	log := logrus.WithFields(logrus.Fields{"id": game.ID, "name": game.Name})

	if date, ok := PublishedDate(doc); ok {
		rec.Date = date
	} else {
		log.Warn("Details: no publication date, using now")
		rec.Date = now
	}

	lines, ok := ContentLines(doc)
	if !ok {
		log.Warn("Details: no content found")
	}
	f := ParseFields(lines)
	if f.Tags != nil {
		rec.Tags = f.Tags
	}
	if f.Creator != nil {
		rec.Creator = f.Creator
	}
	if f.Original != "" {
		rec.Original = f.Original
	}
	if f.Packed != "" {
		rec.Packed = f.Packed
	}
	rec.Size = ParseSize(rec.Packed, rec.Original)

	rec.Direct = DirectLinks(doc)
	if magnet := Magnet(doc); magnet != nil {
		rec.Magnet = magnet
	}

	if rec.Tags == nil {
		rec.Tags = []string{}
	}
	if rec.Creator == nil {
		rec.Creator = []string{}
	}

	rec.Verified = rec.IsVerified()
	rec.LastChecked = now
	return rec
}
