package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"news-summariser/config"
	"news-summariser/pkg/digest"
	"news-summariser/records"
	"news-summariser/token"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
)

func newService(t *testing.T, secret string) *Service {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	admins := records.Static{Account: digest.Admin{Email: "boss@example.com", Name: "Boss", HashedPassword: string(hash)}}
	return New(admins, []byte(secret), slog.New(slog.DiscardHandler))
}

func TestLogin(t *testing.T) {
	s := newService(t, "session-secret")
	ctx := context.Background()

	tests := []struct {
		name     string
		email    string
		password string
		wantErr  error
	}{
		{name: "success", email: "boss@example.com", password: "hunter2"},
		{name: "mixed case email", email: " Boss@Example.COM ", password: "hunter2"},
		{name: "wrong password", email: "boss@example.com", password: "nope", wantErr: ErrInvalidCredentials},
		{name: "unknown email", email: "who@example.com", password: "hunter2", wantErr: ErrInvalidCredentials},
		{name: "missing password", email: "boss@example.com", wantErr: ErrMissingCredentials},
		{name: "missing email", password: "hunter2", wantErr: ErrMissingCredentials},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess, err := s.Login(ctx, tt.email, tt.password)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Login() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr != nil {
				return
			}
			if sess.User.Email != "boss@example.com" || sess.User.Name != "Boss" {
				t.Errorf("Login() user = %+v", sess.User)
			}
			user, ok := s.Authenticate(sess.Token)
			if !ok || user != sess.User {
				t.Errorf("Authenticate(session) = %+v, %v", user, ok)
			}
		})
	}
}

func TestLoginWithoutSecret(t *testing.T) {
	s := newService(t, "")
	if _, err := s.Login(context.Background(), "boss@example.com", "hunter2"); !config.IsMissing(err) {
		t.Errorf("Login() error = %v, want configuration error", err)
	}
}

func TestAuthenticateRejectsOtherTokens(t *testing.T) {
	s := newService(t, "session-secret")
	now := time.Now()

	subscribe := token.Sign(token.New("boss@example.com", token.ActionSubscribe, time.Hour, now), []byte("session-secret"))
	if _, ok := s.Authenticate(subscribe); ok {
		t.Error("a subscribe token must not act as a session")
	}

	expired := token.Sign(token.New("boss@example.com", token.ActionSession, -time.Minute, now), []byte("session-secret"))
	if _, ok := s.Authenticate(expired); ok {
		t.Error("expired session accepted")
	}

	foreign := token.Sign(token.New("boss@example.com", token.ActionSession, time.Hour, now), []byte("other"))
	if _, ok := s.Authenticate(foreign); ok {
		t.Error("session signed with another secret accepted")
	}

	if _, ok := s.Authenticate(""); ok {
		t.Error("empty token accepted")
	}
}

func TestCookies(t *testing.T) {
	s := newService(t, "session-secret")
	sess, err := s.Login(context.Background(), "boss@example.com", "hunter2")
	if err != nil {
		t.Fatal(err)
	}

	rec := httptest.NewRecorder()
	http.SetCookie(rec, SessionCookie(sess))
	header := rec.Header().Get("Set-Cookie")
	for _, want := range []string{"authToken=", "HttpOnly", "Path=/", "Max-Age=604800", "SameSite=None", "Secure"} {
		if !strings.Contains(header, want) {
			t.Errorf("Set-Cookie %q missing %q", header, want)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/auth/verify", http.NoBody)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: sess.Token})
	if user, ok := s.FromRequest(req); !ok || user.Email != "boss@example.com" {
		t.Errorf("FromRequest() = %+v, %v", user, ok)
	}
	if _, ok := s.FromRequest(httptest.NewRequest(http.MethodGet, "/", http.NoBody)); ok {
		t.Error("FromRequest() without cookie ok = true")
	}

	rec = httptest.NewRecorder()
	http.SetCookie(rec, ClearCookie())
	if h := rec.Header().Get("Set-Cookie"); !strings.Contains(h, "Max-Age=0") {
		t.Errorf("clear cookie %q should expire immediately", h)
	}
}

func TestHashPassword(t *testing.T) {
	h, err := HashPassword("secret")
	if err != nil {
		t.Fatal(err)
	}
	if bcrypt.CompareHashAndPassword([]byte(h), []byte("secret")) != nil {
		t.Error("hash does not verify")
	}
	if _, err := HashPassword(""); !errors.Is(err, ErrMissingCredentials) {
		t.Errorf("HashPassword(\"\") error = %v", err)
	}
}
