package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"news-summariser/auth"
	"news-summariser/chartbeat"
	"news-summariser/config"
	"news-summariser/pipeline"
	"news-summariser/pkg/digest"
	"news-summariser/storage"
	"news-summariser/subscription"
	"strings"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

type fakeRunner struct{ err error }

func (f fakeRunner) Run(context.Context) (string, error) {
	return "summaries/draft-summary-x.json", f.err
}

type fakePublisher struct {
	err      error
	override *digest.Summary
	calls    int
}

func (f *fakePublisher) Publish(_ context.Context, override *digest.Summary) (string, digest.Summary, error) {
	f.calls++
	f.override = override
	return "published-summary-x.json", digest.Summary{}, f.err
}

type fakeSubscriptions struct {
	requestErr error
	outcome    subscription.Outcome
	verifyErr  error
	unsubErr   error
	requested  []string
}

func (f *fakeSubscriptions) Request(_ context.Context, email string) error {
	f.requested = append(f.requested, email)
	return f.requestErr
}

func (f *fakeSubscriptions) Verify(context.Context, string) (subscription.Outcome, error) {
	return f.outcome, f.verifyErr
}

func (f *fakeSubscriptions) Unsubscribe(context.Context, string) (string, error) {
	return "a@example.com", f.unsubErr
}

type fakeAuth struct{}

func (fakeAuth) Login(_ context.Context, email, password string) (*auth.Session, error) {
	switch {
	case email == "" || password == "":
		return nil, auth.ErrMissingCredentials
	case email == "admin@example.com" && password == "correct":
		return &auth.Session{User: digest.AdminUser{Email: email, Name: "Admin"}, Token: "session-token"}, nil
	default:
		return nil, auth.ErrInvalidCredentials
	}
}

func (fakeAuth) FromRequest(r *http.Request) (digest.AdminUser, bool) {
	c, err := r.Cookie(auth.CookieName)
	if err != nil || c.Value != "session-token" {
		return digest.AdminUser{}, false
	}
	return digest.AdminUser{Email: "admin@example.com"}, true
}

type testEnv struct {
	srv       *Server
	handler   http.Handler
	subs      *fakeSubscriptions
	publisher *fakePublisher
	drafts    *storage.Archive
	published *storage.Archive
}

func newTestEnv(t *testing.T, runner Runner) *testEnv {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	bucket := storage.NewLocal(t.TempDir(), logger)
	env := &testEnv{
		subs:      &fakeSubscriptions{outcome: subscription.Activated},
		publisher: &fakePublisher{},
		drafts:    storage.NewArchive(bucket, storage.DraftLayout, logger),
		published: storage.NewArchive(bucket, storage.PublishedLayout, logger),
	}
	if runner == nil {
		runner = fakeRunner{}
	}
	env.srv = New(&Config{
		Runner:           runner,
		Publisher:        env.publisher,
		Subscriptions:    env.subs,
		Auth:             fakeAuth{},
		Drafts:           env.drafts,
		Published:        env.published,
		Logger:           logger,
		CORSOriginSuffix: ".cloudfront.net",
		RunToken:         "run-secret",
		SubscribeLimit:   rate.Inf,
	})
	env.handler = env.srv.Handler()
	return env
}

func (e *testEnv) do(method, target, body string, mutate ...func(*http.Request)) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, m := range mutate {
		m(req)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func withSession(r *http.Request) {
	r.AddCookie(&http.Cookie{Name: auth.CookieName, Value: "session-token"})
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &m); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return m
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(http.MethodGet, "/health", "")

	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Errorf("health = %d %q", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID")
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" || rec.Header().Get("X-Frame-Options") != "DENY" {
		t.Error("missing security headers")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)
	env.do(http.MethodGet, "/health", "")
	rec := env.do(http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "news_summariser_http_requests_total") {
		t.Errorf("metrics = %d, body lacks request counter", rec.Code)
	}
}

func TestCORS(t *testing.T) {
	env := newTestEnv(t, nil)

	tests := []struct {
		name       string
		method     string
		origin     string
		wantStatus int
		wantAllow  string
	}{
		{"allowed preflight", http.MethodOptions, "https://d123.cloudfront.net", http.StatusOK, "https://d123.cloudfront.net"},
		{"denied preflight", http.MethodOptions, "https://evil.example.com", http.StatusForbidden, ""},
		{"suffix in path only", http.MethodOptions, "https://evil.com/.cloudfront.net", http.StatusForbidden, ""},
		{"allowed get", http.MethodGet, "https://d123.cloudfront.net", http.StatusOK, "https://d123.cloudfront.net"},
		{"foreign get", http.MethodGet, "https://evil.example.com", http.StatusOK, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(tt.method, "/health", "", func(r *http.Request) {
				r.Header.Set("Origin", tt.origin)
			})
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tt.wantAllow {
				t.Errorf("allow origin = %q, want %q", got, tt.wantAllow)
			}
			if tt.method == http.MethodOptions && tt.wantStatus == http.StatusOK {
				if got := rec.Header().Get("Access-Control-Allow-Methods"); got != "GET,POST,PUT,OPTIONS" {
					t.Errorf("allow methods = %q", got)
				}
				if rec.Header().Get("Access-Control-Allow-Credentials") != "true" {
					t.Error("credentials not allowed")
				}
			}
		})
	}
}

func TestSubscribe(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		reqErr     error
		wantStatus int
		wantText   string
	}{
		{"accepted", `{"email":"a@example.com"}`, nil, http.StatusAccepted, "Verification email sent"},
		{"missing email", `{}`, nil, http.StatusBadRequest, "Email is required"},
		{"bad json", `{`, nil, http.StatusBadRequest, "Invalid request body"},
		{"invalid email", `{"email":"nope"}`, subscription.ErrInvalidEmail, http.StatusBadRequest, "Invalid email format"},
		{"missing secret", `{"email":"a@example.com"}`, config.Missing(config.SubscriptionSecret), http.StatusInternalServerError, "Server configuration error"},
		{"mail down", `{"email":"a@example.com"}`, errors.New("smtp: 421"), http.StatusInternalServerError, "Internal server error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			env.subs.requestErr = tt.reqErr
			rec := env.do(http.MethodPost, "/subscribe", tt.body)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if !strings.Contains(rec.Body.String(), tt.wantText) {
				t.Errorf("body = %q, want %q", rec.Body.String(), tt.wantText)
			}
			if strings.Contains(rec.Body.String(), "smtp") {
				t.Error("internal error leaked to client")
			}
		})
	}
}

func TestSubscribeRateLimited(t *testing.T) {
	env := newTestEnv(t, nil)
	env.srv.limiter = newRateLimiter(rate.Every(time.Hour), 2)

	// The client rotates a spoofed first hop; the proxy-appended hop stays.
	codes := make([]int, 0, 3)
	for _, spoofed := range []string{"192.0.2.1", "192.0.2.2", "192.0.2.3"} {
		rec := env.do(http.MethodPost, "/subscribe", `{"email":"a@example.com"}`, func(r *http.Request) {
			r.Header.Set("X-Forwarded-For", spoofed+", 203.0.113.7")
		})
		codes = append(codes, rec.Code)
	}
	if codes[0] != http.StatusAccepted || codes[1] != http.StatusAccepted || codes[2] != http.StatusTooManyRequests {
		t.Errorf("codes = %v", codes)
	}

	rec := env.do(http.MethodPost, "/subscribe", `{"email":"a@example.com"}`, func(r *http.Request) {
		r.Header.Set("X-Forwarded-For", "198.51.100.1")
	})
	if rec.Code != http.StatusAccepted {
		t.Errorf("other client status = %d", rec.Code)
	}
}

func TestVerify(t *testing.T) {
	tests := []struct {
		name       string
		target     string
		outcome    subscription.Outcome
		err        error
		wantStatus int
		wantText   string
	}{
		{"missing token", "/subscribe/verify", 0, nil, http.StatusBadRequest, "Invalid or expired verification link"},
		{"invalid token", "/subscribe/verify?token=x.y", 0, subscription.ErrInvalidToken, http.StatusBadRequest, "Invalid or expired verification link"},
		{"activated", "/subscribe/verify?token=x.y", subscription.Activated, nil, http.StatusOK, "Email verified. Subscription is now active."},
		{"already verified", "/subscribe/verify?token=x.y", subscription.AlreadyVerified, nil, http.StatusOK, "Email already verified."},
		{"store fault", "/subscribe/verify?token=x.y", 0, errors.New("dynamodb: throttled"), http.StatusInternalServerError, "Internal server error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			env.subs.outcome, env.subs.verifyErr = tt.outcome, tt.err
			rec := env.do(http.MethodGet, tt.target, "")
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if !strings.Contains(rec.Body.String(), tt.wantText) {
				t.Errorf("body = %q, want %q", rec.Body.String(), tt.wantText)
			}
		})
	}
}

func TestUnsubscribePage(t *testing.T) {
	tests := []struct {
		name       string
		target     string
		err        error
		wantStatus int
		wantText   string
	}{
		{"missing token", "/unsubscribe", nil, http.StatusBadRequest, "Missing unsubscribe token."},
		{"invalid", "/unsubscribe?token=a.b", subscription.ErrInvalidToken, http.StatusBadRequest, "invalid or expired"},
		{"success", "/unsubscribe?token=a.b", nil, http.StatusOK, "You have been unsubscribed."},
		{"fault", "/unsubscribe?token=a.b", errors.New("boom"), http.StatusInternalServerError, "Something went wrong"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			env.subs.unsubErr = tt.err
			rec := env.do(http.MethodGet, tt.target, "")
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if got := rec.Header().Get("Cache-Control"); got != "no-store" {
				t.Errorf("Cache-Control = %q", got)
			}
			if !strings.HasPrefix(rec.Header().Get("Content-Type"), "text/html") {
				t.Errorf("Content-Type = %q", rec.Header().Get("Content-Type"))
			}
			if !strings.Contains(rec.Body.String(), tt.wantText) {
				t.Errorf("body missing %q", tt.wantText)
			}
		})
	}
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(http.MethodPost, "/auth/login", `{"email":"admin@example.com","password":"correct"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var cookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == auth.CookieName {
			cookie = c
		}
	}
	if cookie == nil || cookie.Value != "session-token" || !cookie.HttpOnly || !cookie.Secure {
		t.Fatalf("cookie = %+v", cookie)
	}
	if body := decodeBody(t, rec); body["success"] != true {
		t.Errorf("body = %v", body)
	}

	rec = env.do(http.MethodPost, "/auth/login", `{"email":"admin@example.com","password":"wrong"}`)
	if rec.Code != http.StatusUnauthorized || !strings.Contains(rec.Body.String(), "Invalid email or password") {
		t.Errorf("wrong password = %d %q", rec.Code, rec.Body.String())
	}

	rec = env.do(http.MethodPost, "/auth/login", `{"email":"admin@example.com"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing password status = %d", rec.Code)
	}
}

func TestAuthVerifyAndLogout(t *testing.T) {
	env := newTestEnv(t, nil)

	if rec := env.do(http.MethodGet, "/auth/verify", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("anonymous verify = %d", rec.Code)
	}
	rec := env.do(http.MethodGet, "/auth/verify", "", withSession)
	if rec.Code != http.StatusOK || decodeBody(t, rec)["authenticated"] != true {
		t.Errorf("session verify = %d %q", rec.Code, rec.Body.String())
	}

	rec = env.do(http.MethodPost, "/auth/logout", "", withSession)
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].MaxAge >= 0 {
		t.Errorf("logout cookies = %+v", cookies)
	}
}

func TestDraftEndpoints(t *testing.T) {
	env := newTestEnv(t, nil)

	if rec := env.do(http.MethodGet, "/summaries/draft", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("anonymous draft = %d", rec.Code)
	}

	rec := env.do(http.MethodGet, "/summaries/draft", "", withSession)
	if rec.Code != http.StatusOK || decodeBody(t, rec)["summary"] != nil {
		t.Errorf("empty draft = %d %q", rec.Code, rec.Body.String())
	}

	if rec := env.do(http.MethodPut, "/summaries/draft", `{"summaryText":"x"}`, withSession); rec.Code != http.StatusNotFound {
		t.Errorf("edit without draft = %d", rec.Code)
	}

	summary := digest.Summary{SummaryText: "Original.", SourceArticles: []digest.SourceArticle{{Title: "A", URL: "https://news.sky.com/a"}}}
	if _, err := env.drafts.Save(context.Background(), summary, time.Now()); err != nil {
		t.Fatal(err)
	}

	rec = env.do(http.MethodPut, "/summaries/draft", `{"summaryText":"<b>Edited</b> text."}`, withSession)
	if rec.Code != http.StatusOK {
		t.Fatalf("edit = %d %q", rec.Code, rec.Body.String())
	}
	got := decodeBody(t, rec)["summary"].(map[string]any)
	if got["summaryText"] != "Edited text." || got["status"] != "pending" {
		t.Errorf("edited draft = %v", got)
	}

	if rec := env.do(http.MethodPut, "/summaries/draft", `{"summaryText":"  "}`, withSession); rec.Code != http.StatusBadRequest {
		t.Errorf("blank edit = %d", rec.Code)
	}
}

func TestPublishEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)

	if rec := env.do(http.MethodPost, "/summaries/publish", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("anonymous publish = %d", rec.Code)
	}

	rec := env.do(http.MethodPost, "/summaries/publish", "", withSession)
	if rec.Code != http.StatusOK || env.publisher.override != nil {
		t.Errorf("publish = %d, override = %v", rec.Code, env.publisher.override)
	}

	rec = env.do(http.MethodPost, "/summaries/publish", `{"summaryText":"Final.","sourceArticles":[]}`, withSession)
	if rec.Code != http.StatusOK || env.publisher.override == nil || env.publisher.override.SummaryText != "Final." {
		t.Errorf("publish override = %d, %+v", rec.Code, env.publisher.override)
	}

	env.publisher.err = pipeline.ErrNoDraft
	if rec := env.do(http.MethodPost, "/summaries/publish", "", withSession); rec.Code != http.StatusNotFound {
		t.Errorf("publish without draft = %d", rec.Code)
	}
}

func TestLatest(t *testing.T) {
	env := newTestEnv(t, nil)

	if rec := env.do(http.MethodGet, "/summaries/latest", ""); rec.Code != http.StatusNotFound {
		t.Errorf("latest before publish = %d", rec.Code)
	}

	if _, err := env.published.Save(context.Background(), digest.Summary{SummaryText: "Published."}, time.Now()); err != nil {
		t.Fatal(err)
	}
	rec := env.do(http.MethodGet, "/summaries/latest", "")
	if rec.Code != http.StatusOK || decodeBody(t, rec)["summaryText"] != "Published." {
		t.Errorf("latest = %d %q", rec.Code, rec.Body.String())
	}
}

func TestRunErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantText   string
	}{
		{"ok", nil, http.StatusOK, "completed"},
		{"no articles", pipeline.ErrNoArticles, http.StatusOK, "no_articles"},
		{"missing key", config.Missing(config.ChartbeatAPIKey), http.StatusInternalServerError, "Server configuration error"},
		{"upstream", &chartbeat.StatusError{StatusCode: 503}, http.StatusBadGateway, "Upstream service unavailable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, fakeRunner{err: tt.err})
			rec := env.do(http.MethodPost, "/runz", "", withRunToken)
			if rec.Code != tt.wantStatus || !strings.Contains(rec.Body.String(), tt.wantText) {
				t.Errorf("runz = %d %q", rec.Code, rec.Body.String())
			}
		})
	}
}

func withRunToken(r *http.Request) {
	r.Header.Set("Authorization", "Bearer run-secret")
}

func TestRunRequiresAuth(t *testing.T) {
	tests := []struct {
		name       string
		runToken   string
		mutate     func(*http.Request)
		wantStatus int
	}{
		{"anonymous", "run-secret", func(*http.Request) {}, http.StatusUnauthorized},
		{"wrong token", "run-secret", func(r *http.Request) { r.Header.Set("Authorization", "Bearer guess") }, http.StatusUnauthorized},
		{"token without bearer", "run-secret", func(r *http.Request) { r.Header.Set("Authorization", "run-secret") }, http.StatusUnauthorized},
		{"empty token configured", "", func(r *http.Request) { r.Header.Set("Authorization", "Bearer ") }, http.StatusUnauthorized},
		{"bearer token", "run-secret", withRunToken, http.StatusOK},
		{"admin session", "", withSession, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runs := &countingRunner{}
			env := newTestEnv(t, runs)
			env.srv.runToken = []byte(tt.runToken)

			rec := env.do(http.MethodPost, "/runz", "", tt.mutate)
			if rec.Code != tt.wantStatus {
				t.Fatalf("runz = %d %q, want %d", rec.Code, rec.Body.String(), tt.wantStatus)
			}
			wantRuns := 0
			if tt.wantStatus == http.StatusOK {
				wantRuns = 1
			}
			if runs.calls != wantRuns {
				t.Errorf("runner called %d times, want %d", runs.calls, wantRuns)
			}
		})
	}
}

type countingRunner struct{ calls int }

func (c *countingRunner) Run(context.Context) (string, error) {
	c.calls++
	return "summaries/draft-summary-x.json", nil
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name   string
		xff    string
		remote string
		want   string
	}{
		{"forwarded", "203.0.113.7", "10.0.0.2:1234", "203.0.113.7"},
		{"client-supplied hops ignored", "198.51.100.9, 203.0.113.7", "10.0.0.2:1234", "203.0.113.7"},
		{"trailing space", "198.51.100.9,203.0.113.7 ", "10.0.0.2:1234", "203.0.113.7"},
		{"empty last hop", "203.0.113.7, ", "10.0.0.2:1234", "10.0.0.2"},
		{"remote ipv4", "", "192.0.2.1:5555", "192.0.2.1"},
		{"remote ipv6", "", "[2001:db8::1]:443", "2001:db8::1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			if got := clientIP(r); got != tt.want {
				t.Errorf("clientIP = %q, want %q", got, tt.want)
			}
		})
	}
}
