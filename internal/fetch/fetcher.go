package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"syscall"
	"time"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/gocolly/colly/v2"
	"github.com/sirupsen/logrus"
)

var (
	// ErrEmptyPage is returned when a page responds without content
	ErrEmptyPage = errors.New("empty page")
	// ErrConnectionRefused marks failures where the site refused the connection
	ErrConnectionRefused = errors.New("connection refused")
)

// Fetcher returns the raw HTML of a page
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// Options configures a colly-backed fetcher
type Options struct {
	UserAgent string
	Timeout   time.Duration
	Disguise  bool
}

// CollyFetcher fetches pages through its own colly collector, so each
// instance is an independent session (cookies, connections)
type CollyFetcher struct {
	collector *colly.Collector
}

// NewCollyFetcher creates a fetcher with its own session
func NewCollyFetcher(opts Options) *CollyFetcher {
	c := colly.NewCollector(
		colly.UserAgent(opts.UserAgent),
		colly.AllowURLRevisit(),
	)

	if opts.Timeout > 0 {
		c.SetRequestTimeout(opts.Timeout)
	}

	if opts.Disguise {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		c.WithTransport(cloudflarebp.AddCloudFlareByPass(transport))
	}

	return &CollyFetcher{collector: c}
}

// Fetch visits url synchronously and returns the response body
func (f *CollyFetcher) Fetch(ctx context.Context, url string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	// Clone shares the session backend but starts without callbacks
	c := f.collector.Clone()
	c.Context = ctx

	var body []byte
	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
		r.Headers.Set("Accept-Language", "en-US,en;q=0.9")
	})
	c.OnResponse(func(r *colly.Response) {
		body = r.Body
	})
	c.OnError(func(r *colly.Response, err error) {
		status := 0
		if r != nil {
			status = r.StatusCode
		}
		logrus.Debugf("Fetch error for %s: %v (status: %d)", url, err, status)
	})

	if err := c.Visit(url); err != nil {
		return "", classify(err)
	}

	if len(body) == 0 {
		return "", ErrEmptyPage
	}
	return string(body), nil
}

// classify tags refusals so the retry policy can report them separately
func classify(err error) error {
	if errors.Is(err, syscall.ECONNREFUSED) {
		return fmt.Errorf("%w: %v", ErrConnectionRefused, err)
	}
	return err
}
