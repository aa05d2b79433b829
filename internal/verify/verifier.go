package verify

import (
	"context"
	"fmt"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/alvmarrod/repack-ledger/internal/extract"
	"github.com/alvmarrod/repack-ledger/internal/metrics"
	"github.com/alvmarrod/repack-ledger/internal/storage"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/sirupsen/logrus"
)

// Pages fetches and parses detail pages, retrying internally
type Pages interface {
	Document(ctx context.Context, url string) (*goquery.Document, bool)
}

// Summary reports one verifier pass
type Summary struct {
	Total             int `json:"total"`
	Matched           int `json:"matched"`
	Mismatched        int `json:"mismatched"`
	InvalidStoredDate int `json:"invalidStoredDate"`
	NoWebsiteDate     int `json:"noWebsiteDate"`
	Fixed             int `json:"fixed"`
	DataChanges       int `json:"dataChanges"`
	Skipped           int `json:"skipped"`
	StartedFromIndex  int `json:"startedFromIndex"`
}

// Verifier re-checks catalog records against the live site
type Verifier struct {
	pages   Pages
	docs    *storage.Documents
	tracker *metrics.Tracker
	now     func() time.Time
}

// NewVerifier creates a verifier
func NewVerifier(pages Pages, docs *storage.Documents, tracker *metrics.Tracker) *Verifier {
	if tracker == nil {
		tracker = metrics.NewTracker("verify")
	}
	return &Verifier{pages: pages, docs: docs, tracker: tracker, now: time.Now}
}

// SetClock overrides the time source
func (v *Verifier) SetClock(now func() time.Time) {
	v.now = now
}

// VerifyBatch resumes the drift check at the saved cursor, or at startIndex
// when it is not negative, and walks to the end of the catalog. The cursor
// is saved after every record and reset to 0 after the last one.
func (v *Verifier) VerifyBatch(ctx context.Context, startIndex int) (Summary, error) {
	games, err := v.docs.LoadCatalog()
	if err != nil {
		return Summary{}, err
	}

	start := startIndex
	if start < 0 {
		start = v.docs.LoadProgress().LastCheckedIndex
	}
	if start > len(games) {
		start = len(games)
	}

	summary := Summary{Total: len(games), StartedFromIndex: start}
	logrus.Infof("Verifying %d records starting at index %d", len(games)-start, start)

	for i := start; i < len(games); i++ {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		if err := v.check(ctx, games, i, &summary); err != nil {
			return summary, err
		}

		if err := v.docs.SaveProgress(i + 1); err != nil {
			return summary, err
		}
	}

	if err := v.docs.SaveProgress(0); err != nil {
		return summary, err
	}

	logrus.WithFields(logrus.Fields{
		"total":             summary.Total,
		"matched":           summary.Matched,
		"mismatched":        summary.Mismatched,
		"invalid_json_date": summary.InvalidStoredDate,
		"no_website_date":   summary.NoWebsiteDate,
		"fixed":             summary.Fixed,
		"data_changes":      summary.DataChanges,
		"skipped":           summary.Skipped,
	}).Info("All games processed, progress reset")

	return summary, nil
}

// check verifies games[i] in place. Only persistence failures are returned.
func (v *Verifier) check(ctx context.Context, games []storage.GameRecord, i int, summary *Summary) error {
	game := games[i]
	now := v.now()
	log := logrus.WithFields(logrus.Fields{"id": game.ID, "name": game.Name})

	if game.CheckedOn(now) {
		summary.Skipped++
		v.tracker.IncrementRecordsSkipped()
		return nil
	}

	if game.Date.IsZero() {
		log.Warn("Invalid stored date")
		summary.InvalidStoredDate++
	}

	doc, ok := v.pages.Document(ctx, game.Link)
	if !ok {
		log.WithField("link", game.Link).Warn("No content retrieved")
		summary.NoWebsiteDate++
		v.tracker.IncrementRecordsFailed()
		return nil
	}

	websiteDate, ok := extract.PublishedDate(doc)
	if !ok {
		log.Warn("No date found on website")
		summary.NoWebsiteDate++
		return nil
	}

	if sameSecond(game.Date, websiteDate) {
		log.Debug("Date match")
		game.LastChecked = now
		games[i] = game
		if err := v.docs.SaveCatalog(games); err != nil {
			return fmt.Errorf("failed to save catalog after checking %q: %w", game.Name, err)
		}
		summary.Matched++
		v.tracker.IncrementRecordsMatched()
		return nil
	}

	log.WithFields(logrus.Fields{
		"stored":  game.Date.UTC().Format(time.RFC3339),
		"website": websiteDate.UTC().Format(time.RFC3339),
	}).Warn("Date mismatch")
	summary.Mismatched++

	game.Date = websiteDate
	game.LastChecked = now

	magnet := extract.Magnet(doc)
	direct := extract.DirectLinks(doc)

	changed := false
	if !sameMagnet(game.Magnet, magnet) {
		log.WithFields(logrus.Fields{
			"stored":  deref(game.Magnet),
			"website": deref(magnet),
		}).Warn("Magnet changed")
		changed = true
	}
	if !cmp.Equal(game.Direct, direct, cmpopts.EquateEmpty()) {
		log.Warnf("Direct links changed (-stored +website):\n%s", cmp.Diff(game.Direct, direct, cmpopts.EquateEmpty()))
		changed = true
	}
	if changed {
		summary.DataChanges++
		game.Magnet = magnet
		game.Direct = direct
	}
	game.Verified = game.IsVerified()

	games[i] = game
	if err := v.docs.SaveCatalog(games); err != nil {
		return fmt.Errorf("failed to save catalog after fixing %q: %w", game.Name, err)
	}

	summary.Fixed++
	v.tracker.IncrementRecordsFixed()
	log.Infof("%s updated, new date %s", game.Name, websiteDate.Format(time.RFC3339))
	return nil
}

// BackfillDirect fills in direct links for verified records that have
// none, saving after each record that gained links
func (v *Verifier) BackfillDirect(ctx context.Context) (int, error) {
	games, err := v.docs.LoadCatalog()
	if err != nil {
		return 0, err
	}
	updated := 0

	for i := range games {
		if err := ctx.Err(); err != nil {
			return updated, err
		}

		game := games[i]
		if !game.Verified || len(game.Direct) > 0 {
			continue
		}

		doc, ok := v.pages.Document(ctx, game.Link)
		if !ok {
			continue
		}

		direct := extract.DirectLinks(doc)
		if len(direct) == 0 {
			logrus.WithFields(logrus.Fields{"id": game.ID, "name": game.Name}).Debug("No direct links found")
			continue
		}

		games[i].Direct = direct
		if err := v.docs.SaveCatalog(games); err != nil {
			return updated, err
		}
		updated++
		v.tracker.IncrementRecordsFixed()
		logrus.WithFields(logrus.Fields{"id": game.ID, "name": game.Name, "hosts": len(direct)}).Info("Direct links added")
	}

	if updated == 0 {
		logrus.Info("No games needed direct link updates")
	}
	return updated, nil
}

// sameSecond compares timestamps ignoring sub-second precision
func sameSecond(a, b time.Time) bool {
	if a.IsZero() {
		return false
	}
	return a.UTC().Truncate(time.Second).Equal(b.UTC().Truncate(time.Second))
}

func sameMagnet(a, b *string) bool {
	return deref(a) == deref(b)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
