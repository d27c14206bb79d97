package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"news-summariser/metrics"
	"news-summariser/pkg/digest"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

const dispatchConcurrency = 8

// ErrNoDraft means there is no draft to publish.
var ErrNoDraft = errors.New("no draft summary")

// Subscribers lists subscriber records.
type Subscribers interface {
	ListByStatus(ctx context.Context, status digest.Status) ([]*digest.Subscriber, error)
}

// Mailer sends a summary to one recipient.
type Mailer interface {
	SendDigest(ctx context.Context, to string, summary digest.Summary, unsubscribeURL string, now time.Time) error
}

// Unsubscriber signs per-recipient unsubscribe links.
type Unsubscriber interface {
	UnsubscribeURL(email string) (string, error)
}

// DispatchReport summarises one dispatch.
type DispatchReport struct {
	Total      int `json:"total"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
}

// Publisher promotes drafts and mails them to active subscribers.
type Publisher struct {
	drafts      Archive
	published   Archive
	subscribers Subscribers
	mailer      Mailer
	links       Unsubscriber
	logger      *slog.Logger
	now         func() time.Time
	wg          sync.WaitGroup
}

// NewPublisher creates a publisher.
func NewPublisher(drafts, published Archive, subscribers Subscribers, mailer Mailer, links Unsubscriber, logger *slog.Logger) *Publisher {
	return &Publisher{
		drafts:      drafts,
		published:   published,
		subscribers: subscribers,
		mailer:      mailer,
		links:       links,
		logger:      logger,
		now:         time.Now,
	}
}

// Publish writes a summary to the published store and starts mailing it in
// the background. With a nil override the latest draft is published.
// Dispatch outlives ctx; call Wait to block until it finishes.
func (p *Publisher) Publish(ctx context.Context, override *digest.Summary) (string, digest.Summary, error) {
	var summary digest.Summary
	if override != nil {
		summary = *override
	} else {
		draft, found, err := p.drafts.Latest(ctx)
		if err != nil {
			return "", digest.Summary{}, fmt.Errorf("load draft: %w", err)
		}
		if !found {
			return "", digest.Summary{}, ErrNoDraft
		}
		summary = draft.Summary
	}

	key, err := p.published.Save(ctx, summary, p.now())
	if err != nil {
		return "", digest.Summary{}, fmt.Errorf("save published summary: %w", err)
	}
	p.logger.Info("Summary published", "key", key, "source_count", len(summary.SourceArticles))

	detached := context.WithoutCancel(ctx)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if _, err := p.Dispatch(detached, summary); err != nil {
			p.logger.Error("Dispatch failed", "key", key, "error", err)
		}
	}()

	return key, summary, nil
}

// Wait blocks until every dispatch started by Publish has finished.
func (p *Publisher) Wait() {
	p.wg.Wait()
}

// Dispatch sends summary to every active subscriber. Individual send
// failures are counted, not returned.
func (p *Publisher) Dispatch(ctx context.Context, summary digest.Summary) (DispatchReport, error) {
	subs, err := p.subscribers.ListByStatus(ctx, digest.StatusActive)
	if err != nil {
		return DispatchReport{}, fmt.Errorf("list subscribers: %w", err)
	}

	start := time.Now()
	now := p.now()
	var ok, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(dispatchConcurrency)
	for _, sub := range subs {
		email := strings.TrimSpace(sub.Email)
		if email == "" {
			failed.Add(1)
			continue
		}
		g.Go(func() error {
			link, err := p.links.UnsubscribeURL(email)
			if err != nil {
				p.logger.Warn("Unsubscribe link unavailable", "to", email, "error", err)
				link = ""
			}
			err = p.mailer.SendDigest(gctx, email, summary, link, now)
			metrics.RecordEmail("digest", err)
			if err != nil {
				p.logger.Warn("Digest send failed", "to", email, "error", err)
				failed.Add(1)
				return nil
			}
			ok.Add(1)
			return nil
		})
	}
	_ = g.Wait() // workers never fail

	report := DispatchReport{
		Total:      len(subs),
		Successful: int(ok.Load()),
		Failed:     int(failed.Load()),
	}
	p.logger.Info("Digest dispatch completed",
		"total", report.Total,
		"successful", report.Successful,
		"failed", report.Failed,
		"duration_ms", time.Since(start).Milliseconds())
	return report, nil
}
