package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollyFetcherReturnsBody(t *testing.T) {
	var ua atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua.Store(r.UserAgent())
		fmt.Fprint(w, "<html><body><h1>hello</h1></body></html>")
	}))
	defer srv.Close()

	f := NewCollyFetcher(Options{UserAgent: "test-agent", Timeout: 5 * time.Second})

	body, err := f.Fetch(context.Background(), srv.URL+"/game/")
	require.NoError(t, err)
	assert.Contains(t, body, "<h1>hello</h1>")
	assert.Equal(t, "test-agent", ua.Load())

	// same URL again must not be rejected as already visited
	_, err = f.Fetch(context.Background(), srv.URL+"/game/")
	require.NoError(t, err)
}

func TestCollyFetcherErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/empty":
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	f := NewCollyFetcher(Options{UserAgent: "test-agent", Timeout: 5 * time.Second})

	_, err := f.Fetch(context.Background(), srv.URL+"/empty")
	assert.ErrorIs(t, err, ErrEmptyPage)

	_, err = f.Fetch(context.Background(), srv.URL+"/broken")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrConnectionRefused)
}

func TestCollyFetcherConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	f := NewCollyFetcher(Options{UserAgent: "test-agent", Timeout: 2 * time.Second})
	_, err := f.Fetch(context.Background(), addr+"/")
	assert.ErrorIs(t, err, ErrConnectionRefused)
}

type scriptedFetcher struct {
	calls   int
	results []error
	body    string
}

func (s *scriptedFetcher) Fetch(ctx context.Context, url string) (string, error) {
	i := s.calls
	s.calls++
	if i < len(s.results) && s.results[i] != nil {
		return "", s.results[i]
	}
	return s.body, nil
}

type countingObserver struct {
	ok, failed int
}

func (c *countingObserver) RecordFetch(d time.Duration, ok bool) {
	if ok {
		c.ok++
	} else {
		c.failed++
	}
}

func noSleep(ctx context.Context, d time.Duration) error { return nil }

func TestPolicyRunIsBounded(t *testing.T) {
	var sleeps int
	p := Policy{MaxAttempts: 3, Delay: time.Second, Sleep: func(ctx context.Context, d time.Duration) error {
		sleeps++
		assert.Equal(t, time.Second, d)
		return nil
	}}

	var attempts []int
	boom := errors.New("boom")
	err := p.Run(context.Background(), func(ctx context.Context, attempt int) error {
		attempts = append(attempts, attempt)
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []int{1, 2, 3}, attempts)
	assert.Equal(t, 2, sleeps, "no sleep after the last attempt")
}

func TestPolicyRunStopsOnSuccess(t *testing.T) {
	p := Policy{MaxAttempts: 5, Sleep: noSleep}
	calls := 0
	err := p.Run(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		if attempt < 2 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestPolicyRunHonoursCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Policy{MaxAttempts: 3}.Run(ctx, func(ctx context.Context, attempt int) error {
		calls++
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls)
}

func TestRetryingFetch(t *testing.T) {
	inner := &scriptedFetcher{
		results: []error{ErrConnectionRefused, errors.New("timeout")},
		body:    "<html><body><a href=\"/x\">x</a></body></html>",
	}
	obs := &countingObserver{}
	r := NewRetrying(inner, Policy{MaxAttempts: 3, Delay: time.Millisecond, Sleep: noSleep}).WithObserver(obs)

	html := r.Fetch(context.Background(), "https://site/game/")
	assert.Contains(t, html, "href")
	assert.Equal(t, 3, inner.calls)
	assert.Equal(t, 1, obs.ok)
	assert.Equal(t, 2, obs.failed)
}

func TestRetryingFetchExhaustedReturnsEmpty(t *testing.T) {
	inner := &scriptedFetcher{results: []error{ErrEmptyPage, ErrEmptyPage}}
	r := NewRetrying(inner, Policy{MaxAttempts: 2, Sleep: noSleep})

	assert.Equal(t, "", r.Fetch(context.Background(), "https://site/game/"))
	assert.Equal(t, 2, inner.calls)

	doc, ok := r.Document(context.Background(), "https://site/game/")
	assert.False(t, ok)
	assert.Nil(t, doc)
}

func TestRetryingDocumentCarriesURL(t *testing.T) {
	inner := &scriptedFetcher{body: "<html><body><p class=\"x\">text</p></body></html>"}
	r := NewRetrying(inner, Policy{MaxAttempts: 1})

	doc, ok := r.Document(context.Background(), "https://site/game/")
	require.True(t, ok)
	assert.Equal(t, "text", doc.Find("p.x").Text())
	assert.Equal(t, "site", doc.Url.Host)
}
