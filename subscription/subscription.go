// Package subscription implements double opt-in subscription and signed
// unsubscribe links.
//
// No pending state is stored. A confirmation link carries a signed claim;
// following it writes an active subscriber with a single conditional write
// that only succeeds when the email is unknown or inactive, so the same link
// can be followed any number of times and an unsubscribed reader can sign
// up again. Unsubscribe is a blind status overwrite keyed by the email
// inside a verified claim.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"net/url"
	"news-summariser/config"
	"news-summariser/pkg/digest"
	"news-summariser/records"
	"news-summariser/token"
	"regexp"
	"strings"
	"time"
)

const (
	// VerifyTTL is how long a confirmation link stays valid.
	VerifyTTL = 24 * time.Hour
	// UnsubscribeTTL is how long the link in a digest email stays valid.
	UnsubscribeTTL = 30 * 24 * time.Hour
)

var (
	// ErrInvalidEmail means the address failed validation.
	ErrInvalidEmail = errors.New("invalid email address")
	// ErrInvalidToken covers every reason a link can be rejected.
	ErrInvalidToken = errors.New("invalid or expired link")
)

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

// Outcome of following a confirmation link.
type Outcome int

// Outcomes.
const (
	Activated Outcome = iota + 1
	AlreadyVerified
)

// Message is the user-facing text for the outcome.
func (o Outcome) Message() string {
	switch o {
	case Activated:
		return "Email verified. Subscription is now active."
	case AlreadyVerified:
		return "Email already verified."
	default:
		return ""
	}
}

// Mailer sends confirmation emails.
type Mailer interface {
	SendVerification(ctx context.Context, to, link string) error
}

// Service runs the subscription flow.
type Service struct {
	store   records.Subscribers
	mailer  Mailer
	logger  *slog.Logger
	now     func() time.Time
	baseURL string
	secret  []byte
}

// New creates a subscription service. secret signs confirmation and
// unsubscribe links; baseURL is the public root links point at.
func New(store records.Subscribers, mailer Mailer, secret []byte, baseURL string, logger *slog.Logger) *Service {
	return &Service{
		store:   store,
		mailer:  mailer,
		secret:  secret,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		logger:  logger,
		now:     time.Now,
	}
}

// NormaliseEmail trims and lower-cases email and checks it is a plain
// address.
func NormaliseEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if len(email) < 3 || len(email) > 254 {
		return "", ErrInvalidEmail
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || !emailRegex.MatchString(email) {
		return "", ErrInvalidEmail
	}
	return email, nil
}

func (s *Service) check() error {
	if len(s.secret) == 0 {
		return config.Missing(config.SubscriptionSecret)
	}
	return nil
}

// Request emails a confirmation link to email. Nothing is stored.
func (s *Service) Request(ctx context.Context, email string) error {
	if err := s.check(); err != nil {
		return err
	}
	email, err := NormaliseEmail(email)
	if err != nil {
		return err
	}

	link, err := s.link("/subscribe/verify", token.New(email, token.ActionSubscribe, VerifyTTL, s.now()))
	if err != nil {
		return err
	}
	if err := s.mailer.SendVerification(ctx, email, link); err != nil {
		return fmt.Errorf("send verification: %w", err)
	}

	s.logger.Info("Verification email sent", "email", email)
	return nil
}

// Verify activates the subscriber named by a confirmation token, replacing
// an inactive record. Following the same link again reports AlreadyVerified
// without writing anything.
func (s *Service) Verify(ctx context.Context, tok string) (Outcome, error) {
	if err := s.check(); err != nil {
		return 0, err
	}
	now := s.now()
	claim, ok := token.Verify(tok, s.secret, now)
	if !ok || claim.Action != token.ActionSubscribe || claim.Email == "" {
		return 0, ErrInvalidToken
	}

	now = now.UTC()
	err := s.store.PutUnlessActive(ctx, &digest.Subscriber{
		Email:      claim.Email,
		Status:     digest.StatusActive,
		CreatedAt:  now,
		VerifiedAt: &now,
	})
	if records.IsExists(err) {
		s.logger.Info("Subscription already verified", "email", claim.Email)
		return AlreadyVerified, nil
	}
	if err != nil {
		return 0, fmt.Errorf("activate subscriber: %w", err)
	}

	s.logger.Info("Subscription activated", "email", claim.Email)
	return Activated, nil
}

// Unsubscribe marks the subscriber named by an unsubscribe token inactive,
// whatever its current state, and returns the email.
func (s *Service) Unsubscribe(ctx context.Context, tok string) (string, error) {
	if err := s.check(); err != nil {
		return "", err
	}
	now := s.now()
	claim, ok := token.Verify(tok, s.secret, now)
	if !ok || claim.Action != token.ActionUnsubscribe || claim.Email == "" {
		return "", ErrInvalidToken
	}

	if err := s.store.SetStatus(ctx, claim.Email, digest.StatusInactive, now); err != nil {
		return "", fmt.Errorf("deactivate subscriber: %w", err)
	}

	s.logger.Info("Subscriber unsubscribed", "email", claim.Email)
	return claim.Email, nil
}

// UnsubscribeURL returns a signed unsubscribe link for email.
func (s *Service) UnsubscribeURL(email string) (string, error) {
	if err := s.check(); err != nil {
		return "", err
	}
	return s.link("/unsubscribe", token.New(email, token.ActionUnsubscribe, UnsubscribeTTL, s.now()))
}

func (s *Service) link(path string, c token.Claim) (string, error) {
	if s.baseURL == "" {
		return "", config.Missing(config.BaseURL)
	}
	u, err := url.Parse(s.baseURL + path)
	if err != nil {
		return "", fmt.Errorf("parse base URL: %w", err)
	}
	q := u.Query()
	q.Set("token", token.Sign(c, s.secret))
	u.RawQuery = q.Encode()
	return u.String(), nil
}
