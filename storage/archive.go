package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"news-summariser/pkg/digest"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
)

// Layout names the keys an Archive writes.
type Layout struct {
	HistoryPrefix string             // timestamped copies: <prefix><ISO time>.json
	LatestKey     string             // always holds the most recent document
	Status        digest.DraftStatus // reported for documents read back
}

// Layouts for the two buckets.
var (
	DraftLayout = Layout{
		HistoryPrefix: "summaries/draft-summary-",
		LatestKey:     "draft-summary.json",
		Status:        digest.DraftPending,
	}
	PublishedLayout = Layout{
		HistoryPrefix: "published-summary-",
		LatestKey:     "published-summary.json",
		Status:        digest.DraftApproved,
	}
)

// ErrEmptySummary is returned when an edit would leave no summary text.
var ErrEmptySummary = errors.New("summary text is empty")

// Archive keeps a history of summaries plus a pointer to the latest one.
type Archive struct {
	bucket Bucket
	logger *slog.Logger
	policy *bluemonday.Policy
	layout Layout
}

// NewArchive creates an archive over bucket.
func NewArchive(bucket Bucket, layout Layout, logger *slog.Logger) *Archive {
	return &Archive{
		bucket: bucket,
		layout: layout,
		logger: logger,
		policy: bluemonday.StrictPolicy(),
	}
}

// HistoryKey returns the timestamped key for a document saved at t.
func (a *Archive) HistoryKey(t time.Time) string {
	return a.layout.HistoryPrefix + t.UTC().Format("2006-01-02T15:04:05.000Z") + ".json"
}

// Save writes s under a timestamped key and then mirrors it to the latest
// key. It returns the timestamped key.
func (a *Archive) Save(ctx context.Context, s digest.Summary, now time.Time) (string, error) {
	if s.SourceArticles == nil {
		s.SourceArticles = []digest.SourceArticle{}
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal summary: %w", err)
	}

	key := a.HistoryKey(now)
	if err := a.bucket.Put(ctx, key, data); err != nil {
		return "", fmt.Errorf("save %s: %w", key, err)
	}
	if err := a.bucket.Put(ctx, a.layout.LatestKey, data); err != nil {
		return "", fmt.Errorf("save %s: %w", a.layout.LatestKey, err)
	}

	a.logger.Info("Summary saved",
		"key", key,
		"latest", a.layout.LatestKey,
		"source_articles", len(s.SourceArticles),
		"summary_chars", len(s.SummaryText))
	return key, nil
}

// Latest reads the latest document. found is false, with a nil error, when
// nothing has been saved yet.
func (a *Archive) Latest(ctx context.Context) (d *digest.Draft, found bool, err error) {
	obj, err := a.bucket.Get(ctx, a.layout.LatestKey)
	if IsNotFound(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load %s: %w", a.layout.LatestKey, err)
	}

	var s digest.Summary
	if err := json.Unmarshal(obj.Data, &s); err != nil {
		return nil, false, fmt.Errorf("decode %s: %w", a.layout.LatestKey, err)
	}
	if s.SourceArticles == nil {
		s.SourceArticles = []digest.SourceArticle{}
	}

	return &digest.Draft{
		ID:        obj.ETag,
		Status:    a.layout.Status,
		CreatedAt: obj.LastModified,
		UpdatedAt: obj.LastModified,
		Summary:   s,
	}, true, nil
}

// UpdateText replaces the summary text of the latest document, keeping its
// sources. Markup is stripped so the stored text stays plain. Returns
// ErrNotFound when there is no latest document.
func (a *Archive) UpdateText(ctx context.Context, text string, now time.Time) (*digest.Draft, error) {
	clean := PlainText(a.policy, text)
	if clean == "" {
		return nil, ErrEmptySummary
	}

	current, found, err := a.Latest(ctx)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNotFound
	}

	current.SummaryText = clean
	if _, err := a.Save(ctx, current.Summary, now); err != nil {
		return nil, err
	}

	updated, found, err := a.Latest(ctx)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNotFound
	}
	return updated, nil
}

// PlainText strips markup from s with policy and undoes the entity escaping
// the policy applies to text.
func PlainText(policy *bluemonday.Policy, s string) string {
	return strings.TrimSpace(html.UnescapeString(policy.Sanitize(s)))
}
