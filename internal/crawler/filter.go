package crawler

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/alvmarrod/repack-ledger/internal/memory"
)

// Listing entries that are site navigation, not repacks
var excludedPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)/(tag|category|author|page)/`),
	regexp.MustCompile(`(?i)/all-my-repacks-a-z/?$`),
	regexp.MustCompile(`(?i)[?&]lcp_page0=`),
	regexp.MustCompile(`(?i)^(mailto|javascript):`),
}

var lcpPage = regexp.MustCompile(`lcp_page0=(\d+)`)

// Item is a (name, link) pair read from a listing page
type Item struct {
	Name string
	Link string
}

// ExtractDomain extracts the lowercase hostname from a URL string
func ExtractDomain(urlStr string) (string, error) {
	// Handle protocol-relative URLs
	if strings.HasPrefix(urlStr, "//") {
		urlStr = "https:" + urlStr
	}

	// Relative URLs have no domain of their own
	if !strings.Contains(urlStr, "://") {
		return "", nil
	}

	parsed, err := url.Parse(urlStr)
	if err != nil {
		return "", err
	}

	return strings.ToLower(parsed.Hostname()), nil
}

// IsExcluded checks if a link matches any excluded pattern
func IsExcluded(link string) bool {
	for _, pattern := range excludedPatterns {
		if pattern.MatchString(link) {
			return true
		}
	}
	return false
}

// FilterItems resolves links against the page, keeps only same-site links
// and drops empty, excluded and duplicate entries
func FilterItems(page *url.URL, items []Item) []Item {
	siteDomain := ""
	if page != nil {
		siteDomain = strings.ToLower(page.Hostname())
	}

	seen := make(map[string]bool)
	filtered := []Item{}

	for _, item := range items {
		name := strings.TrimSpace(item.Name)
		link := resolve(page, strings.TrimSpace(item.Link))
		if name == "" || link == "" {
			continue
		}

		domain, err := ExtractDomain(link)
		if err != nil || domain == "" {
			continue
		}
		if siteDomain != "" && domain != siteDomain {
			continue
		}

		if IsExcluded(link) {
			continue
		}

		key := memory.NormalizeLink(link)
		if seen[key] {
			continue
		}
		seen[key] = true
		filtered = append(filtered, Item{Name: name, Link: link})
	}

	return filtered
}

// LastPage reads the highest page number from the listing paginator
func LastPage(doc *goquery.Document) (int, bool) {
	last := 0
	doc.Find(`a[href*="lcp_page0="]`).Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		if m := lcpPage.FindStringSubmatch(href); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil && n > last {
				last = n
			}
		}
	})
	return last, last > 0
}

func resolve(page *url.URL, href string) string {
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if page == nil {
		return ref.String()
	}
	return page.ResolveReference(ref).String()
}
