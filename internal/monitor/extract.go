package monitor

import (
	"bytes"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

const (
	maxItems           = 40
	minStrategyMatches = 5
	minTitleRunes      = 2
	maxFallbackTitle   = 50
)

// itemStrategies is the ordered selector list tried against the list page,
// most structurally stable first. The first one yielding at least
// minStrategyMatches elements wins.
var itemStrategies = []string{
	".post-list .post-item",
	".post-card",
	".post-item",
	".category-post-item",
	"article",
	".topic-item",
	".thread-item",
	".card",
	".topic-list .topic",
	".topic-list .topic-item",
	".topic-list tr",
	".row.topic-list-item",
	".node-teaser",
	"tbody tr",
	".item",
	".list-item",
	".thread",
	".post",
	"a.subject",
	"[class*=\"post\"]",
	"[class*=\"topic\"]",
}

// titleSelectors is the per-item fallback chain for the title element.
var titleSelectors = []string{
	"a.post-title", ".post-title", "h3", "h2", ".title", "h4",
	"a[href*=\"/post/\"]", "a[href*=\"/topic/\"]", "a[href*=\"/thread/\"]",
	"a.subject", ".subject", "a.title", "td.topic-title a",
	"a[class*=\"title\"]", ".topic-name a", ".thread-title a", "a.thread-link",
	"a",
}

// linkSelectors is the per-item fallback chain for the link element.
var linkSelectors = []string{
	"a[href*=\"/post/\"]", "a[href*=\"/topic/\"]", "a[href*=\"/thread/\"]",
	"a[href*=\"/discussion/\"]", "a.subject", "a.title", "a[class*=\"title\"]",
	"a",
}

const contentLinkSelector = `a[href*="/post/"], a[href*="/topic/"], a[href*="/thread/"], a[href*="/discussion/"]`

// postIDPatterns recovers the numeric identifier embedded in a content link.
var postIDPatterns = []*regexp.Regexp{
	regexp.MustCompile(`/post/(\d+)`),
	regexp.MustCompile(`/topic/(\d+)`),
	regexp.MustCompile(`/thread/(\d+)`),
	regexp.MustCompile(`/space/(\d+)`),
	regexp.MustCompile(`/discussion/(\d+)`),
}

// pageTitleMarkers identify a plausible source page by its <title>.
var pageTitleMarkers = []string{"NodeSeek", "论坛"}

// Extractor turns raw list-page markup into normalized Items.
type Extractor struct {
	origin *url.URL
	logger *zap.Logger
}

// NewExtractor builds an Extractor resolving relative links against rootURL.
func NewExtractor(rootURL string, logger *zap.Logger) (*Extractor, error) {
	origin, err := url.Parse(rootURL)
	if err != nil {
		return nil, fmt.Errorf("parse root url: %w", err)
	}
	if origin.Scheme == "" || origin.Host == "" {
		return nil, fmt.Errorf("root url %q is not absolute", rootURL)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{origin: origin, logger: logger}, nil
}

// Extract parses markup and returns the ordered candidate items.
// It returns ErrStructureMismatch when the page does not look like the
// expected source and ErrNoItems when every discovery fallback comes up
// empty. Items that survive discovery but whose fields cannot be recovered
// are skipped silently, so a nil error with an empty slice is possible.
func (e *Extractor) Extract(markup []byte) ([]Item, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("parse markup: %w", ErrStructureMismatch)
	}

	if !e.looksLikeSource(doc) {
		return nil, ErrStructureMismatch
	}

	nodes := e.discover(doc)
	if len(nodes) == 0 {
		return nil, ErrNoItems
	}

	items := make([]Item, 0, len(nodes))
	for _, node := range nodes {
		item, ok := e.recoverItem(node)
		if !ok {
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

// looksLikeSource validates the page via its title, falling back to
// structural landmarks a real forum page always carries.
func (e *Extractor) looksLikeSource(doc *goquery.Document) bool {
	title := doc.Find("title").First().Text()
	for _, marker := range pageTitleMarkers {
		if strings.Contains(title, marker) {
			return true
		}
	}
	return doc.Find(".navbar").Length() > 0 ||
		doc.Find("header").Length() > 0 ||
		doc.Find("footer").Length() > 0
}

// discover runs the strategy list, then the progressively looser fallbacks.
func (e *Extractor) discover(doc *goquery.Document) []*goquery.Selection {
	for _, strategy := range itemStrategies {
		sel := doc.Find(strategy)
		if sel.Length() >= minStrategyMatches {
			e.logger.Debug("item strategy matched",
				zap.String("selector", strategy),
				zap.Int("matches", sel.Length()))
			return firstN(sel, maxItems)
		}
	}

	if nodes := e.discoverTextLinkBlocks(doc); len(nodes) > 0 {
		return nodes
	}
	if nodes := firstN(doc.Find(contentLinkSelector), maxItems); len(nodes) > 0 {
		e.logger.Debug("content-link fallback matched", zap.Int("matches", len(nodes)))
		return nodes
	}
	return e.discoverTableRows(doc)
}

// discoverTextLinkBlocks finds divs carrying both a non-trivial text block
// and at least one link.
func (e *Extractor) discoverTextLinkBlocks(doc *goquery.Document) []*goquery.Selection {
	var nodes []*goquery.Selection
	doc.Find("div").EachWithBreak(func(i int, s *goquery.Selection) bool {
		if i >= 100 {
			return false
		}
		if s.Find("a").Length() == 0 {
			return true
		}
		if len(strings.TrimSpace(s.Text())) <= 20 {
			return true
		}
		nodes = append(nodes, s)
		return len(nodes) < maxItems
	})
	if len(nodes) > 0 {
		e.logger.Debug("text+link fallback matched", zap.Int("matches", len(nodes)))
	}
	return nodes
}

// discoverTableRows takes table rows, dropping the presumed header row.
func (e *Extractor) discoverTableRows(doc *goquery.Document) []*goquery.Selection {
	rows := firstN(doc.Find("table tr"), maxItems+1)
	if len(rows) <= 1 {
		return nil
	}
	e.logger.Debug("table-row fallback matched", zap.Int("matches", len(rows)-1))
	return rows[1:]
}

func firstN(sel *goquery.Selection, n int) []*goquery.Selection {
	var nodes []*goquery.Selection
	sel.EachWithBreak(func(_ int, s *goquery.Selection) bool {
		nodes = append(nodes, s)
		return len(nodes) < n
	})
	return nodes
}

// recoverItem runs the per-item field fallback chains.
func (e *Extractor) recoverItem(node *goquery.Selection) (Item, bool) {
	titleEl := e.findTitleElement(node)
	if titleEl == nil {
		return Item{}, false
	}

	title := strings.TrimSpace(titleEl.Text())
	if title == "" {
		title = strings.TrimSpace(node.Text())
		if runes := []rune(title); len(runes) > maxFallbackTitle {
			title = string(runes[:maxFallbackTitle]) + "..."
		}
	}
	if len([]rune(title)) < minTitleRunes {
		return Item{}, false
	}

	link := e.findLink(node, titleEl)
	if link == "" {
		return Item{}, false
	}
	link = e.absolutize(link)
	if link == "" {
		return Item{}, false
	}

	// user-profile links masquerade as items and cause repeat notifications
	if strings.Contains(link, "/space/") {
		return Item{}, false
	}

	return Item{Title: title, Link: link, PostID: extractPostID(link)}, true
}

func (e *Extractor) findTitleElement(node *goquery.Selection) *goquery.Selection {
	for _, selector := range titleSelectors {
		if found := node.Find(selector).First(); found.Length() > 0 {
			return found
		}
	}
	if goquery.NodeName(node) == "a" {
		return node
	}
	if first := node.Find("a").First(); first.Length() > 0 {
		return first
	}
	return nil
}

func (e *Extractor) findLink(node, titleEl *goquery.Selection) string {
	if href, ok := titleEl.Attr("href"); ok && href != "" {
		return href
	}
	for _, selector := range linkSelectors {
		found := node.Find(selector).First()
		if found.Length() == 0 {
			continue
		}
		if href, ok := found.Attr("href"); ok && href != "" {
			return href
		}
	}
	return ""
}

// absolutize resolves a possibly relative href against the site origin.
func (e *Extractor) absolutize(href string) string {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}
	resolved := e.origin.ResolveReference(ref)
	if resolved.Scheme == "" || resolved.Host == "" {
		return ""
	}
	return resolved.String()
}

func extractPostID(link string) string {
	for _, pattern := range postIDPatterns {
		if m := pattern.FindStringSubmatch(link); m != nil {
			return m[1]
		}
	}
	return ""
}
