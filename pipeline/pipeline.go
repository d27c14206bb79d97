// Package pipeline runs the daily collect, summarise and publish cycle.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"news-summariser/metrics"
	"news-summariser/pkg/digest"
	"news-summariser/summarise"
	"sort"
	"strings"
	"time"
)

const (
	// TargetArticles is how many articles a summary is built from.
	TargetArticles = 10
	limitStep      = 5
	maxLimit       = 60
)

// ErrNoArticles means a run found nothing with content to summarise.
var ErrNoArticles = errors.New("no articles with content")

// Fetcher lists popular article references.
type Fetcher interface {
	TopPages(ctx context.Context, limit int) ([]digest.ArticleRef, error)
}

// Normaliser fetches article bodies and drops references without content.
type Normaliser interface {
	Normalise(ctx context.Context, refs []digest.ArticleRef) []digest.Article
}

// Archive stores summaries.
type Archive interface {
	Save(ctx context.Context, s digest.Summary, now time.Time) (string, error)
	Latest(ctx context.Context) (*digest.Draft, bool, error)
}

// Collector gathers the day's most read articles.
type Collector struct {
	fetcher    Fetcher
	normaliser Normaliser
	logger     *slog.Logger
}

// NewCollector creates a collector.
func NewCollector(fetcher Fetcher, normaliser Normaliser, logger *slog.Logger) *Collector {
	return &Collector{
		fetcher:    fetcher,
		normaliser: normaliser,
		logger:     logger,
	}
}

// Collect asks for a widening window of popular pages until
// TargetArticles of them have content or the window passes its maximum.
// Each URL is fetched at most once per call.
func (c *Collector) Collect(ctx context.Context) ([]digest.Article, error) {
	content := make(map[string]string)
	var articles []digest.Article

	for limit := limitStep; len(articles) < TargetArticles && limit <= maxLimit; limit += limitStep {
		refs, err := c.fetcher.TopPages(ctx, limit)
		if err != nil {
			return nil, fmt.Errorf("fetch top pages: %w", err)
		}
		if len(refs) == 0 {
			c.logger.Warn("No articles returned by analytics", "limit", limit)
			return nil, nil
		}

		var fresh []digest.ArticleRef
		for _, ref := range refs {
			if _, seen := content[ref.URL]; !seen {
				fresh = append(fresh, ref)
				content[ref.URL] = ""
			}
		}
		for _, a := range c.normaliser.Normalise(ctx, fresh) {
			content[a.URL] = a.Content
		}

		articles = withContent(refs, content)
		c.logger.Info("Collection round finished",
			"limit", limit,
			"refs", len(refs),
			"fetched", len(fresh),
			"article_count", len(articles))

		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	if len(articles) > TargetArticles {
		articles = articles[:TargetArticles]
	}
	return articles, nil
}

// withContent joins refs with cached bodies, drops anything without a title
// or body, and orders by visitors descending with ties in API order. A URL
// listed twice keeps its first entry.
func withContent(refs []digest.ArticleRef, content map[string]string) []digest.Article {
	var out []digest.Article
	seen := make(map[string]bool, len(refs))
	for _, ref := range refs {
		if seen[ref.URL] {
			continue
		}
		seen[ref.URL] = true

		title := strings.TrimSpace(ref.Title)
		body := content[ref.URL]
		if title == "" || strings.TrimSpace(body) == "" {
			continue
		}
		out = append(out, digest.Article{
			Title:        title,
			URL:          ref.URL,
			Content:      body,
			VisitorCount: ref.VisitorCount,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].VisitorCount > out[j].VisitorCount
	})
	return out
}

// Runner produces a draft summary.
type Runner struct {
	collector  *Collector
	summariser summarise.Provider
	drafts     Archive
	logger     *slog.Logger
	now        func() time.Time
}

// NewRunner creates a runner that writes drafts to drafts.
func NewRunner(collector *Collector, summariser summarise.Provider, drafts Archive, logger *slog.Logger) *Runner {
	return &Runner{
		collector:  collector,
		summariser: summariser,
		drafts:     drafts,
		logger:     logger,
		now:        time.Now,
	}
}

// Run collects articles, summarises them and saves the draft. It returns
// the key the draft was archived under.
func (r *Runner) Run(ctx context.Context) (key string, err error) {
	start := time.Now()
	var count int
	defer func() {
		status := "success"
		switch {
		case errors.Is(err, ErrNoArticles):
			status = "empty"
		case err != nil:
			status = "failure"
		}
		metrics.RecordRun(status, count, time.Since(start).Seconds())
	}()

	articles, err := r.collector.Collect(ctx)
	if err != nil {
		return "", err
	}
	count = len(articles)
	if count == 0 {
		return "", ErrNoArticles
	}

	summary, err := summarise.Summarise(ctx, r.summariser, articles, r.logger)
	if err != nil {
		return "", fmt.Errorf("summarise: %w", err)
	}

	key, err = r.drafts.Save(ctx, summary, r.now())
	if err != nil {
		return "", fmt.Errorf("save draft: %w", err)
	}

	r.logger.Info("Draft summary saved",
		"key", key,
		"article_count", count,
		"duration_ms", time.Since(start).Milliseconds())
	return key, nil
}
