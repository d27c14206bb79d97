// Package server handles HTTP endpoints and request routing.
package server

import (
	"context"
	"crypto/hmac"
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"news-summariser/auth"
	"news-summariser/chartbeat"
	"news-summariser/config"
	"news-summariser/pipeline"
	"news-summariser/pkg/digest"
	"news-summariser/subscription"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

//go:embed tmpl/*.tmpl
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "tmpl/*.tmpl"))

const maxBodyBytes = 64 << 10

// Runner produces a draft summary.
type Runner interface {
	Run(ctx context.Context) (string, error)
}

// Publisher publishes a summary and mails it in the background.
type Publisher interface {
	Publish(ctx context.Context, override *digest.Summary) (string, digest.Summary, error)
}

// Subscriptions runs the double opt-in flow.
type Subscriptions interface {
	Request(ctx context.Context, email string) error
	Verify(ctx context.Context, tok string) (subscription.Outcome, error)
	Unsubscribe(ctx context.Context, tok string) (string, error)
}

// Authenticator logs admins in and checks their sessions.
type Authenticator interface {
	Login(ctx context.Context, email, password string) (*auth.Session, error)
	FromRequest(r *http.Request) (digest.AdminUser, bool)
}

// Drafts reads and edits the current draft.
type Drafts interface {
	Latest(ctx context.Context) (*digest.Draft, bool, error)
	UpdateText(ctx context.Context, text string, now time.Time) (*digest.Draft, error)
}

// Published reads the latest published summary.
type Published interface {
	Latest(ctx context.Context) (*digest.Draft, bool, error)
}

// Server handles HTTP requests.
type Server struct {
	runner        Runner
	publisher     Publisher
	subscriptions Subscriptions
	auth          Authenticator
	drafts        Drafts
	published     Published
	logger        *slog.Logger
	limiter       *rateLimiter
	corsSuffix    string
	runToken      []byte
}

// Config holds server configuration.
type Config struct {
	Runner        Runner
	Publisher     Publisher
	Subscriptions Subscriptions
	Auth          Authenticator
	Drafts        Drafts
	Published     Published
	Logger        *slog.Logger
	// CORSOriginSuffix is the host suffix of origins allowed to call the API.
	CORSOriginSuffix string
	// RunToken lets a scheduler trigger /runz with a bearer token. When empty
	// only an admin session can trigger a run.
	RunToken string
	// SubscribeLimit and SubscribeBurst bound requests per client IP on the
	// public subscription endpoints. Zero selects 5 per hour.
	SubscribeLimit rate.Limit
	SubscribeBurst int
}

// New creates a new HTTP server handler.
func New(cfg *Config) *Server {
	limit, burst := cfg.SubscribeLimit, cfg.SubscribeBurst
	if limit == 0 {
		limit = rate.Every(12 * time.Minute)
	}
	if burst == 0 {
		burst = 5
	}
	return &Server{
		runner:        cfg.Runner,
		publisher:     cfg.Publisher,
		subscriptions: cfg.Subscriptions,
		auth:          cfg.Auth,
		drafts:        cfg.Drafts,
		published:     cfg.Published,
		logger:        cfg.Logger,
		limiter:       newRateLimiter(limit, burst),
		corsSuffix:    cfg.CORSOriginSuffix,
		runToken:      []byte(cfg.RunToken),
	}
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("POST /runz", s.requireScheduler(s.handleRun))

	mux.HandleFunc("POST /subscribe", s.rateLimited(s.handleSubscribe))
	mux.HandleFunc("GET /subscribe/verify", s.rateLimited(s.handleVerify))
	mux.HandleFunc("GET /unsubscribe", s.rateLimited(s.handleUnsubscribe))

	mux.HandleFunc("POST /auth/login", s.rateLimited(s.handleLogin))
	mux.HandleFunc("GET /auth/verify", s.handleAuthVerify)
	mux.HandleFunc("POST /auth/logout", s.handleLogout)

	mux.HandleFunc("GET /summaries/draft", s.requireAdmin(s.handleGetDraft))
	mux.HandleFunc("PUT /summaries/draft", s.requireAdmin(s.handleUpdateDraft))
	mux.HandleFunc("POST /summaries/publish", s.requireAdmin(s.handlePublish))
	mux.HandleFunc("GET /summaries/latest", s.handleLatest)

	return s.withRequestLog(withSecurityHeaders(s.withCORS(mux)))
}

// ListenAndServe serves until ctx is cancelled, then drains in-flight
// requests.
func (s *Server) ListenAndServe(ctx context.Context, port string) error {
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           s.Handler(),
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      5 * time.Minute, // /runz fetches and summarises synchronously
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("Starting HTTP server", "port", port)
		errc <- server.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok")); err != nil {
		s.logger.Warn("Failed to write health response", "error", err)
	}
}

// requireScheduler admits a matching bearer token or an admin session.
func (s *Server) requireScheduler(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if bearer, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok &&
			len(s.runToken) > 0 && hmac.Equal([]byte(bearer), s.runToken) {
			next(w, r)
			return
		}
		if _, ok := s.auth.FromRequest(r); ok {
			next(w, r)
			return
		}
		s.logger.Warn("Unauthorised run request", "request_id", requestID(r.Context()), "ip", clientIP(r))
		s.writeError(w, http.StatusUnauthorized, "Unauthorized")
	}
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	s.logger.Info("Pipeline run triggered", "request_id", requestID(r.Context()))

	key, err := s.runner.Run(r.Context())
	if errors.Is(err, pipeline.ErrNoArticles) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "no_articles"})
		return
	}
	if err != nil {
		s.writeFailure(w, r, "Pipeline run failed", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "completed", "key": key})
}

func (s *Server) rateLimited(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !s.limiter.allow(ip) {
			s.logger.Warn("Rate limit exceeded", "ip", ip, "path", r.URL.Path)
			w.Header().Set("Retry-After", "720")
			s.writeError(w, http.StatusTooManyRequests, "Too many requests. Please try again later.")
			return
		}
		next(w, r)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("Failed to write response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// writeFailure maps err onto a status code and a message that leaks nothing
// beyond the error class.
func (s *Server) writeFailure(w http.ResponseWriter, r *http.Request, what string, err error) {
	id := requestID(r.Context())
	switch {
	case config.IsMissing(err):
		s.logger.Error(what, "request_id", id, "error", err, "class", "configuration")
		s.writeError(w, http.StatusInternalServerError, "Server configuration error")
	case chartbeat.IsUpstream(err):
		s.logger.Error(what, "request_id", id, "error", err, "class", "upstream")
		s.writeError(w, http.StatusBadGateway, "Upstream service unavailable")
	case errors.Is(err, context.Canceled):
		s.logger.Warn(what, "request_id", id, "error", err)
		s.writeError(w, http.StatusServiceUnavailable, "Request cancelled")
	default:
		s.logger.Error(what, "request_id", id, "error", err, "class", "fault")
		s.writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(v)
}

func (s *Server) renderPage(w http.ResponseWriter, status int, title, message string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Security-Policy", "default-src 'none'; style-src 'unsafe-inline'")
	w.WriteHeader(status)
	if err := templates.ExecuteTemplate(w, "page.tmpl", map[string]string{
		"Title":   title,
		"Message": message,
	}); err != nil {
		s.logger.Error("Failed to render template", "template", "page.tmpl", "error", err)
	}
}
