// Package auth authenticates admins with a password and issues stateless
// session tokens.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"news-summariser/config"
	"news-summariser/pkg/digest"
	"news-summariser/records"
	"news-summariser/token"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// CookieName is the session cookie.
const CookieName = "authToken"

// SessionTTL is how long a login lasts.
const SessionTTL = 7 * 24 * time.Hour

var (
	// ErrMissingCredentials means email or password was empty.
	ErrMissingCredentials = errors.New("email and password are required")
	// ErrInvalidCredentials covers both unknown emails and wrong passwords.
	ErrInvalidCredentials = errors.New("invalid email or password")
)

// dummyHash is compared against when the email is unknown so both failure
// paths cost one bcrypt comparison.
var dummyHash = sync.OnceValue(func() []byte {
	h, err := bcrypt.GenerateFromPassword([]byte("not-a-real-password"), bcrypt.DefaultCost)
	if err != nil {
		panic("auth: generate dummy hash: " + err.Error())
	}
	return h
})

// Session is the result of a successful login.
type Session struct {
	User      digest.AdminUser
	Token     string
	ExpiresAt time.Time
}

// Service authenticates admins.
type Service struct {
	admins records.Admins
	logger *slog.Logger
	now    func() time.Time
	secret []byte
}

// New creates an auth service. secret signs session tokens.
func New(admins records.Admins, secret []byte, logger *slog.Logger) *Service {
	return &Service{
		admins: admins,
		secret: secret,
		logger: logger,
		now:    time.Now,
	}
}

// Login checks the password and returns a signed session. Emails are
// matched case-insensitively.
func (s *Service) Login(ctx context.Context, email, password string) (*Session, error) {
	if len(s.secret) == 0 {
		return nil, config.Missing(config.SessionSecret)
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, ErrMissingCredentials
	}

	admin, found, err := s.admins.Admin(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("look up admin: %w", err)
	}
	hash := dummyHash()
	if found {
		hash = []byte(admin.HashedPassword)
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(password)); err != nil || !found {
		s.logger.Warn("Admin login rejected", "email", email)
		return nil, ErrInvalidCredentials
	}

	now := s.now()
	claim := token.New(admin.Email, token.ActionSession, SessionTTL, now)
	claim.Name = admin.Name

	s.logger.Info("Admin logged in", "email", admin.Email)
	return &Session{
		User:      digest.AdminUser{Email: admin.Email, Name: admin.Name},
		Token:     token.Sign(claim, s.secret),
		ExpiresAt: now.Add(SessionTTL),
	}, nil
}

// Authenticate returns the admin a session token belongs to.
func (s *Service) Authenticate(tok string) (digest.AdminUser, bool) {
	if len(s.secret) == 0 || tok == "" {
		return digest.AdminUser{}, false
	}
	claim, ok := token.Verify(tok, s.secret, s.now())
	if !ok || claim.Action != token.ActionSession {
		return digest.AdminUser{}, false
	}
	return digest.AdminUser{Email: claim.Email, Name: claim.Name}, true
}

// FromRequest authenticates the session cookie of r.
func (s *Service) FromRequest(r *http.Request) (digest.AdminUser, bool) {
	c, err := r.Cookie(CookieName)
	if err != nil {
		return digest.AdminUser{}, false
	}
	return s.Authenticate(c.Value)
}

// SessionCookie builds the cookie carrying sess.
func SessionCookie(sess *Session) *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    sess.Token,
		Path:     "/",
		MaxAge:   int(SessionTTL / time.Second),
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteNoneMode,
	}
}

// ClearCookie expires the session cookie.
func ClearCookie() *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteNoneMode,
	}
}

// HashPassword returns a bcrypt hash suitable for the admins table.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", ErrMissingCredentials
	}
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(h), nil
}
