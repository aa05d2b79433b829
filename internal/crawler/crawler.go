package crawler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/alvmarrod/repack-ledger/internal/extract"
	"github.com/alvmarrod/repack-ledger/internal/memory"
	"github.com/alvmarrod/repack-ledger/internal/metrics"
	"github.com/alvmarrod/repack-ledger/internal/storage"
	"github.com/sirupsen/logrus"
)

// indexPath is the complete A-Z listing, relative to the base URL
const indexPath = "all-my-repacks-a-z/"

// Homepage "older posts" link variants
const nextSelector = "a.next.page-numbers, .nav-previous a, link[rel=next]"

// Pages fetches and parses listing pages
type Pages interface {
	Document(ctx context.Context, url string) (*goquery.Document, bool)
}

// Crawler rebuilds the reference listing from the site's full index and
// its newest-first homepage feed
type Crawler struct {
	baseURL string
	pages   Pages
	docs    *storage.Documents
	tracker *metrics.Tracker
}

// Article is one homepage post
type Article struct {
	Item
	Date time.Time
}

// NewCrawler creates a crawler for the site at baseURL
func NewCrawler(baseURL string, pages Pages, docs *storage.Documents, tracker *metrics.Tracker) *Crawler {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	if tracker == nil {
		tracker = metrics.NewTracker("crawl")
	}
	return &Crawler{
		baseURL: baseURL,
		pages:   pages,
		docs:    docs,
		tracker: tracker,
	}
}

// IndexURL returns the URL of one page of the full index
func (c *Crawler) IndexURL(page int) string {
	return fmt.Sprintf("%s%s?lcp_page0=%d#lcp_instance_0", c.baseURL, indexPath, page)
}

// PageCount reads the number of index pages from the paginator and caches it.
// When the index cannot be fetched the cached count is used instead.
func (c *Crawler) PageCount(ctx context.Context) (int, error) {
	cache := c.docs.LoadCache()

	doc, ok := c.pages.Document(ctx, c.baseURL+indexPath)
	if !ok {
		if cache.Pages > 0 {
			logrus.Warnf("Index unavailable, using cached page count %d", cache.Pages)
			return cache.Pages, nil
		}
		return 0, fmt.Errorf("failed to read index paginator at %s%s", c.baseURL, indexPath)
	}

	pages, found := LastPage(doc)
	if !found {
		logrus.Warn("No paginator found on index, assuming a single page")
		pages = 1
	}

	cache.Pages = pages
	if err := c.docs.SaveCache(cache); err != nil {
		return pages, err
	}
	logrus.Infof("Index has %d pages", pages)
	return pages, nil
}

// FullIndex walks the index from startPage to the last page, appending
// unseen links to the reference listing. The listing is saved after every
// page that added entries and the resume cursor after every page; the
// cursor goes back to 1 once the whole index has been walked.
func (c *Crawler) FullIndex(ctx context.Context, startPage int) ([]storage.ReferenceEntry, error) {
	total, err := c.PageCount(ctx)
	if err != nil {
		return nil, err
	}

	reference, err := c.docs.LoadReference()
	if err != nil {
		return nil, err
	}
	index := memory.NewIndex()
	for _, r := range reference {
		index.Observe(r.ID, r.Link)
	}

	if startPage < 1 {
		startPage = 1
	}
	logrus.Infof("Crawling index pages %d..%d", startPage, total)

	added := []storage.ReferenceEntry{}
	defer func() { c.tracker.AddReferenceAdded(len(added)) }()

	for page := startPage; page <= total; page++ {
		if err := ctx.Err(); err != nil {
			return added, err
		}

		doc, ok := c.pages.Document(ctx, c.IndexURL(page))
		if !ok {
			logrus.Errorf("No content fetched for index page %d", page)
			continue
		}

		items := FilterItems(doc.Url, ListingItems(doc))
		fresh := 0
		for _, item := range items {
			id, isNew := index.Add(item.Link)
			if !isNew {
				logrus.Debugf("Already listed: %s", item.Link)
				continue
			}
			entry := storage.ReferenceEntry{ID: id, Name: item.Name, Link: item.Link, Page: page}
			reference = append(reference, entry)
			added = append(added, entry)
			fresh++
		}

		logrus.WithFields(logrus.Fields{
			"page":  page,
			"games": len(items),
			"new":   fresh,
		}).Info("Scraped index page")

		if fresh > 0 {
			if err := c.docs.SaveReference(reference); err != nil {
				return added, err
			}
		}
		if err := c.docs.SaveState(page + 1); err != nil {
			return added, err
		}
	}

	if err := c.docs.SaveState(1); err != nil {
		return added, err
	}
	logrus.Infof("Index crawl completed: %d pages, %d new entries", total, len(added))
	return added, nil
}

// Newest walks the homepage feed, newest first, collecting posts published
// after since. It stops at the first page whose leading post is not newer
// than since, or when there is no next page.
func (c *Crawler) Newest(ctx context.Context, since time.Time) ([]storage.ReferenceEntry, error) {
	reference, err := c.docs.LoadReference()
	if err != nil {
		return nil, err
	}
	index := memory.NewIndex()
	for _, r := range reference {
		index.Observe(r.ID, r.Link)
	}

	added := []storage.ReferenceEntry{}
	visited := make(map[string]bool)

	next := c.baseURL
	for next != "" && !visited[next] {
		if err := ctx.Err(); err != nil {
			break
		}
		visited[next] = true

		doc, ok := c.pages.Document(ctx, next)
		if !ok {
			logrus.Errorf("No content fetched for %s, stopping newest crawl", next)
			break
		}

		articles := Articles(doc)
		if len(articles) == 0 {
			logrus.Warnf("No articles found on %s", next)
			break
		}
		if !articles[0].Date.After(since) {
			logrus.Infof("Reached posts from %s or earlier, stopping", since.Format(time.RFC3339))
			break
		}

		for _, a := range articles {
			if !a.Date.After(since) {
				continue
			}
			id, isNew := index.Add(a.Link)
			if !isNew {
				continue
			}
			entry := storage.ReferenceEntry{ID: id, Name: a.Name, Link: a.Link}
			reference = append(reference, entry)
			added = append(added, entry)
			logrus.WithFields(logrus.Fields{"id": id, "name": a.Name}).Info("Found new post")
		}

		next = NextPage(doc)
	}

	c.tracker.AddReferenceAdded(len(added))
	if len(added) > 0 {
		if err := c.docs.SaveReference(reference); err != nil {
			return added, err
		}
	}
	logrus.Infof("Newest crawl found %d new entries", len(added))
	return added, ctx.Err()
}

// ListingItems reads the (name, link) pairs of one index page
func ListingItems(doc *goquery.Document) []Item {
	items := []Item{}
	doc.Find("ul.lcp_catlist li a").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		items = append(items, Item{Name: a.Text(), Link: href})
	})
	return items
}

// Articles reads the dated posts of a homepage feed page in page order.
// Posts without a date or title link are skipped.
func Articles(doc *goquery.Document) []Article {
	articles := []Article{}
	doc.Find("article").Each(func(_ int, s *goquery.Selection) {
		raw, _ := s.Find("time.entry-date").First().Attr("datetime")
		date, ok := extract.ParseDate(raw)
		if !ok {
			return
		}

		a := s.Find(".entry-title a").First()
		href, _ := a.Attr("href")
		items := FilterItems(doc.Url, []Item{{Name: a.Text(), Link: href}})
		if len(items) == 0 {
			return
		}
		articles = append(articles, Article{Item: items[0], Date: date})
	})
	return articles
}

// NextPage returns the absolute URL of the next feed page, or ""
func NextPage(doc *goquery.Document) string {
	href, ok := doc.Find(nextSelector).First().Attr("href")
	if !ok {
		return ""
	}
	return resolve(doc.Url, strings.TrimSpace(href))
}
