package extract

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/alvmarrod/repack-ledger/internal/storage"
	"github.com/jaytaylor/html2text"
	"github.com/sirupsen/logrus"
)

// Site template variants for the post body, first match wins
const contentSelector = ".entry-content, .post-content, article, .content"

const directHeading = "Download Mirrors (Direct Links)"

var (
	tagsLine     = regexp.MustCompile(`(?i)genres|tags`)
	tagsPrefix   = regexp.MustCompile(`.*:`)
	creatorLine  = regexp.MustCompile(`(?i)compan(y|ies)`)
	creatorPref  = regexp.MustCompile(`(?i).*compan(y|ies).*?:`)
	originalLine = regexp.MustCompile(`(?i)original size`)
	originalPref = regexp.MustCompile(`(?i).*original size.*?:`)
	packedLine   = regexp.MustCompile(`(?i)repack size`)
	packedPref   = regexp.MustCompile(`(?i).*repack size.*?:`)
	bracketed    = regexp.MustCompile(`\[.*\]`)
	sizeNumber   = regexp.MustCompile(`\d+(\.\d+)?`)
	megabytes    = regexp.MustCompile(`(?i)\d\s*MB\b`)
)

// Fields holds what the line scan found; empty means not present
type Fields struct {
	Tags     []string
	Creator  []string
	Original string
	Packed   string
}

// PublishedDate reads the machine-readable publication date
func PublishedDate(doc *goquery.Document) (time.Time, bool) {
	raw, exists := doc.Find("time.entry-date").First().Attr("datetime")
	if !exists || strings.TrimSpace(raw) == "" {
		return time.Time{}, false
	}

	t, ok := ParseDate(raw)
	if !ok {
		logrus.Warnf("Unparseable publication date %q", raw)
	}
	return t, ok
}

// ParseDate parses a datetime attribute value
func ParseDate(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", time.DateOnly} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// ContentLines returns the trimmed, non-empty text lines of the post body
func ContentLines(doc *goquery.Document) ([]string, bool) {
	block := doc.Find(contentSelector).First()
	if block.Length() == 0 {
		return nil, false
	}

	// html2text decorates emphasis, which would leak into the field values
	block = block.Clone()
	block.Find("strong, b, em, i").Contents().Unwrap()

	text := ""
	if html, err := goquery.OuterHtml(block); err == nil {
		text, err = html2text.FromString(html, html2text.Options{OmitLinks: true, TextOnly: true})
		if err != nil {
			logrus.Debugf("html2text failed, using raw text: %v", err)
			text = ""
		}
	}
	if text == "" {
		text = block.Text()
	}

	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, true
}

// ParseFields scans content lines for the labelled metadata. Lines are
// matched by label, not position; the first line carrying a label wins.
func ParseFields(lines []string) Fields {
	var f Fields
	for _, line := range lines {
		if f.Tags == nil && tagsLine.MatchString(line) {
			f.Tags = splitList(tagsPrefix.ReplaceAllString(line, ""))
		}
		if f.Creator == nil && creatorLine.MatchString(line) {
			f.Creator = splitList(creatorPref.ReplaceAllString(line, ""))
		}
		if f.Original == "" && originalLine.MatchString(line) {
			f.Original = strings.TrimSpace(originalPref.ReplaceAllString(line, ""))
		}
		if f.Packed == "" && packedLine.MatchString(line) {
			packed := packedPref.ReplaceAllString(line, "")
			f.Packed = strings.TrimSpace(bracketed.ReplaceAllString(packed, ""))
		}
	}
	return f
}

func splitList(s string) []string {
	items := []string{}
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

// ParseSize returns the larger of the two sizes in gigabytes. Each string
// is converted by its own unit, so "700 MB" counts as 0.68.
func ParseSize(packed, original string) float64 {
	p, o := sizeGB(packed), sizeGB(original)
	if p > o {
		return p
	}
	return o
}

func sizeGB(s string) float64 {
	if s == "" {
		return 0
	}
	m := sizeNumber.FindString(strings.ReplaceAll(s, ",", "."))
	if m == "" {
		return 0
	}
	v, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return 0
	}
	if megabytes.MatchString(s) {
		v /= 1024
	}
	return v
}

// DirectLinks reads the direct-download mirrors section. Each list item is
// assigned to a known host by its text; unknown hosts are ignored.
func DirectLinks(doc *goquery.Document) map[string][]string {
	direct := map[string][]string{}

	heading := doc.Find("h3").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return strings.Contains(s.Text(), directHeading)
	}).First()
	if heading.Length() == 0 {
		return direct
	}

	list := heading.Parent().ChildrenFiltered("ul").First()
	list.Find("li").Each(func(_ int, item *goquery.Selection) {
		host := hostOf(strings.ToLower(item.Text()))
		if host == "" {
			return
		}
		item.Find(".su-spoiler-content a").Each(func(_ int, a *goquery.Selection) {
			href, ok := a.Attr("href")
			if !ok || strings.TrimSpace(href) == "" {
				return
			}
			direct[host] = append(direct[host], absolute(doc, href))
		})
	})
	return direct
}

func hostOf(text string) string {
	switch {
	case strings.Contains(text, storage.HostDatanodes):
		return storage.HostDatanodes
	case strings.Contains(text, storage.HostFuckingFast):
		return storage.HostFuckingFast
	}
	return ""
}

func absolute(doc *goquery.Document, href string) string {
	href = strings.TrimSpace(href)
	if doc.Url == nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return doc.Url.ResolveReference(ref).String()
}

// Magnet returns the first magnet link on the page
func Magnet(doc *goquery.Document) *string {
	href, ok := doc.Find(`a[href*="magnet"]`).First().Attr("href")
	if !ok || href == "" {
		return nil
	}
	return &href
}
