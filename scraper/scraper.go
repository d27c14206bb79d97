// Package scraper fetches article pages and extracts their body text.
package scraper

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"news-summariser/pkg/digest"
	"sort"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"codeberg.org/readeck/go-readability/v2"
	"github.com/PuerkitoBio/goquery"
	"golang.org/x/sync/errgroup"
)

const (
	maxPageBytes = 5 << 20
	// Readability output shorter than this is usually a headline or byline.
	minReadableLength = 200
)

// bodySelectors are tried in order; the first that yields text wins.
var bodySelectors = []string{
	`[itemprop="articleBody"]`,
	`[data-component-name="ui-article-body"]`,
	`[data-testid="article-body"]`,
	`.article-body`,
	`article`,
	`main`,
}

// calloutMarkers open cross-link paragraphs such as
// "Read more from Sky News: <link>". A marker only matches whole words.
var calloutMarkers = []string{
	"read more",
	"related:",
	"related coverage",
	"related stories",
	"related articles",
	"related content",
	"more on",
	"more from",
	"also read",
	"watch more",
	"listen to",
}

// Scraper fetches and parses article pages.
type Scraper struct {
	client *http.Client
	logger *slog.Logger
}

// New creates a new scraper.
func New(client *http.Client, logger *slog.Logger) *Scraper {
	return &Scraper{
		client: client,
		logger: logger,
	}
}

// Normalise fetches every reference concurrently and returns the articles
// that have both a title and content, most visited first. Ties keep their
// input order.
func (s *Scraper) Normalise(ctx context.Context, refs []digest.ArticleRef) []digest.Article {
	articles := make([]digest.Article, len(refs))

	var g errgroup.Group
	for i, ref := range refs {
		g.Go(func() error {
			articles[i] = digest.Article{
				Title:        strings.TrimSpace(ref.Title),
				URL:          ref.URL,
				Content:      s.ArticleContent(ctx, ref.URL),
				VisitorCount: ref.VisitorCount,
			}
			return nil
		})
	}
	_ = g.Wait() // workers never fail

	kept := articles[:0]
	for _, a := range articles {
		if a.Title == "" || strings.TrimSpace(a.Content) == "" {
			continue
		}
		kept = append(kept, a)
	}

	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].VisitorCount > kept[j].VisitorCount
	})

	s.logger.Info("Articles normalised", "requested", len(refs), "kept", len(kept))
	return kept
}

// ArticleContent fetches pageURL and returns its extracted body text.
// Any failure, including a non-2xx status, yields "".
func (s *Scraper) ArticleContent(ctx context.Context, pageURL string) (content string) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Article extraction panicked", "url", pageURL, "panic", r)
			content = ""
		}
	}()

	body, err := s.fetch(ctx, pageURL)
	if err != nil {
		s.logger.Warn("Article fetch failed", "url", pageURL, "error", err)
		return ""
	}

	u, _ := url.Parse(pageURL)
	text, err := Extract(body, u)
	if err != nil {
		s.logger.Warn("Article parse failed", "url", pageURL, "error", err)
		return ""
	}
	if text == "" {
		s.logger.Warn("No article body found", "url", pageURL)
	}
	return text
}

func (s *Scraper) fetch(ctx context.Context, pageURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-GB,en;q=0.9")

	start := time.Now()
	resp, err := s.client.Do(req)
	duration := time.Since(start)
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			s.logger.Warn("Failed to close response body", "error", closeErr)
		}
	}()

	s.logger.Debug("HTTP request completed",
		"url", pageURL,
		"status_code", resp.StatusCode,
		"duration_ms", duration.Milliseconds())

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	return io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
}

// Extract returns the article body text of an HTML page. pageURL may be nil;
// it only helps the readability fallback resolve relative links.
func Extract(page []byte, pageURL *url.URL) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return "", err
	}
	doc.Find("script, style, noscript, template, svg").Remove()

	for _, sel := range bodySelectors {
		container := doc.Find(sel).First()
		if container.Length() == 0 {
			continue
		}
		if text := containerText(container); text != "" {
			return text, nil
		}
	}

	return readable(page, pageURL), nil
}

func containerText(container *goquery.Selection) string {
	paras := container.ChildrenFiltered("p")
	if paras.Length() == 0 {
		paras = container.Find("p")
	}
	if paras.Length() == 0 {
		return collapse(container.Text())
	}

	var parts []string
	paras.Each(func(_ int, p *goquery.Selection) {
		if isCallout(p) {
			return
		}
		if text := collapse(p.Text()); text != "" {
			parts = append(parts, text)
		}
	})
	return strings.Join(parts, " ")
}

// isCallout reports whether p opens with a bold cross-link marker.
func isCallout(p *goquery.Selection) bool {
	var lead *goquery.Selection
	p.Contents().EachWithBreak(func(_ int, c *goquery.Selection) bool {
		if goquery.NodeName(c) == "#text" && strings.TrimSpace(c.Text()) == "" {
			return true
		}
		lead = c
		return false
	})
	if lead == nil {
		return false
	}
	if name := goquery.NodeName(lead); name != "strong" && name != "b" {
		return false
	}

	marker := strings.ToLower(collapse(lead.Text()))
	for _, m := range calloutMarkers {
		if strings.HasPrefix(marker, m) && wordEnds(marker, len(m)) {
			return true
		}
	}
	return false
}

// wordEnds reports whether s has no letter or digit at byte offset i.
func wordEnds(s string, i int) bool {
	if i >= len(s) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(s[i:])
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

// readable extracts the main content with readability and filters it like
// a selector match.
func readable(page []byte, pageURL *url.URL) string {
	article, err := readability.FromReader(bytes.NewReader(page), pageURL)
	if err != nil || article.Node == nil {
		return ""
	}
	text := containerText(goquery.NewDocumentFromNode(article.Node).Selection)
	if len(text) < minReadableLength {
		return ""
	}
	return text
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
