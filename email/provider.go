// Package email sends confirmation and digest emails via multiple providers.
package email

import (
	"context"
	"fmt"
	"log/slog"
	"news-summariser/pkg/digest"
	"time"
)

const (
	verificationSubject = "Confirm your News Summariser subscription"
	digestSubject       = "News Daily Summary"
)

// Message is a single email. Text and HTML are alternative renderings of the
// same body.
type Message struct {
	To      string
	Subject string
	Text    string
	HTML    string
}

// Provider defines the interface for email sending implementations.
type Provider interface {
	// Send delivers msg. Implementations retry transient faults themselves.
	Send(ctx context.Context, msg Message) error
}

// Sender renders and sends emails using a pluggable provider.
type Sender struct {
	provider Provider
	logger   *slog.Logger
}

// New creates a new email sender with the given provider.
func New(provider Provider, logger *slog.Logger) *Sender {
	return &Sender{
		provider: provider,
		logger:   logger,
	}
}

// SendVerification sends the double opt-in confirmation link.
func (s *Sender) SendVerification(ctx context.Context, to, link string) error {
	text, html, err := verificationBodies(link)
	if err != nil {
		return fmt.Errorf("render verification email: %w", err)
	}

	s.logger.Info("Sending verification email", "to", to)

	return s.provider.Send(ctx, Message{
		To:      to,
		Subject: verificationSubject,
		Text:    text,
		HTML:    html,
	})
}

// SendDigest sends a published summary to one subscriber.
func (s *Sender) SendDigest(ctx context.Context, to string, summary digest.Summary, unsubscribeURL string, now time.Time) error {
	d := newDigestView(summary, unsubscribeURL, now)

	html, err := digestHTML(d)
	if err != nil {
		return fmt.Errorf("render digest email: %w", err)
	}

	s.logger.Info("Sending digest email",
		"to", to,
		"source_count", len(d.Sources))

	return s.provider.Send(ctx, Message{
		To:      to,
		Subject: digestSubject,
		Text:    digestText(d),
		HTML:    html,
	})
}
