package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"
)

// Policy is a bounded retry with a fixed delay between attempts
type Policy struct {
	MaxAttempts int
	Delay       time.Duration
	// Sleep waits between attempts; defaults to a context-aware timer
	Sleep func(ctx context.Context, d time.Duration) error
}

// Run calls op until it succeeds, the attempts are used up or ctx is done.
// The error of the last attempt is returned.
func (p Policy) Run(ctx context.Context, op func(ctx context.Context, attempt int) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = op(ctx, attempt)
		if lastErr == nil {
			return nil
		}

		if attempt < attempts && p.Delay > 0 {
			if err := sleep(ctx, p.Delay); err != nil {
				return err
			}
		}
	}
	return fmt.Errorf("giving up after %d attempts: %w", attempts, lastErr)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Observer is told about every fetch attempt
type Observer interface {
	RecordFetch(d time.Duration, ok bool)
}

// Retrying wraps a Fetcher with the retry policy. Exhaustion is not an
// error to its callers: they get an empty page and decide what that means.
type Retrying struct {
	fetcher  Fetcher
	policy   Policy
	observer Observer
}

// NewRetrying creates a retrying fetcher
func NewRetrying(fetcher Fetcher, policy Policy) *Retrying {
	return &Retrying{fetcher: fetcher, policy: policy}
}

// WithObserver reports each attempt to o
func (r *Retrying) WithObserver(o Observer) *Retrying {
	r.observer = o
	return r
}

// Fetch returns the page HTML, or "" once every attempt failed
func (r *Retrying) Fetch(ctx context.Context, pageURL string) string {
	var html string
	err := r.policy.Run(ctx, func(ctx context.Context, attempt int) error {
		start := time.Now()
		body, err := r.fetcher.Fetch(ctx, pageURL)
		if r.observer != nil {
			r.observer.RecordFetch(time.Since(start), err == nil)
		}
		if err != nil {
			entry := logrus.WithFields(logrus.Fields{
				"url":     pageURL,
				"attempt": attempt,
				"of":      r.policy.MaxAttempts,
			})
			if errors.Is(err, ErrConnectionRefused) {
				entry.Errorf("Connection refused: %v", err)
			} else {
				entry.Warnf("Fetch failed: %v", err)
			}
			return err
		}
		html = body
		return nil
	})
	if err != nil {
		logrus.Errorf("Failed to fetch %s: %v", pageURL, err)
		return ""
	}
	return html
}

// Document fetches and parses a page. The returned document carries the page
// URL so relative links can be resolved.
func (r *Retrying) Document(ctx context.Context, pageURL string) (*goquery.Document, bool) {
	html := r.Fetch(ctx, pageURL)
	if html == "" {
		return nil, false
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		logrus.Errorf("Failed to parse %s: %v", pageURL, err)
		return nil, false
	}
	if u, err := url.Parse(pageURL); err == nil {
		doc.Url = u
	}
	return doc, true
}
