// Package chartbeat fetches the most visited pages for a host from the
// Chartbeat live toppages API.
package chartbeat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"news-summariser/config"
	"news-summariser/pkg/digest"
	"strconv"
	"strings"
	"time"
)

// DefaultEndpoint is the toppages API endpoint.
const DefaultEndpoint = "https://api.chartbeat.com/live/toppages/v3/"

// ExcludedPaths are hub pages that are never articles.
var ExcludedPaths = []string{"/", "/uk", "/watch-live", "/home", "/live"}

// ErrMalformedResponse means the API answered 2xx with an unexpected body.
var ErrMalformedResponse = errors.New("chartbeat: malformed response")

// StatusError is returned for non-2xx API responses.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("chartbeat: HTTP %d", e.StatusCode)
}

// IsUpstream reports whether err means the analytics API could not be used.
func IsUpstream(err error) bool {
	var se *StatusError
	return errors.As(err, &se) || errors.Is(err, ErrMalformedResponse)
}

// Client queries the toppages API.
type Client struct {
	client   *http.Client
	logger   *slog.Logger
	endpoint string
	apiKey   string
	host     string
	excluded map[string]bool
}

// New creates a client for host. An empty endpoint selects DefaultEndpoint.
func New(client *http.Client, endpoint, apiKey, host string, logger *slog.Logger) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	excluded := make(map[string]bool, len(ExcludedPaths))
	for _, p := range ExcludedPaths {
		excluded[NormalisePath(p, host)] = true
	}
	return &Client{
		client:   client,
		logger:   logger,
		endpoint: endpoint,
		apiKey:   apiKey,
		host:     host,
		excluded: excluded,
	}
}

// response is the subset of the toppages payload we rely on. Pages is a
// pointer so an absent field can be told apart from an empty list.
type response struct {
	Pages *[]page `json:"pages"`
}

type page struct {
	Title string `json:"title"`
	Path  string `json:"path"`
	Stats struct {
		Visitors int `json:"visitors"`
	} `json:"stats"`
}

// TopPages returns up to limit popular article references in API order,
// with hub pages removed.
func (c *Client) TopPages(ctx context.Context, limit int) ([]digest.ArticleRef, error) {
	var missing []string
	if c.apiKey == "" {
		missing = append(missing, config.ChartbeatAPIKey)
	}
	if c.host == "" {
		missing = append(missing, config.ChartbeatHost)
	}
	if len(missing) > 0 {
		return nil, config.Missing(missing...)
	}

	u, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	q := u.Query()
	q.Set("apikey", c.apiKey)
	q.Set("host", c.host)
	q.Set("limit", strconv.Itoa(limit))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	c.logger.Info("HTTP request starting", "method", "GET", "host", c.host, "limit", limit, "purpose", "fetch_top_pages")

	start := time.Now()
	resp, err := c.client.Do(req)
	duration := time.Since(start)
	if err != nil {
		return nil, fmt.Errorf("fetch top pages: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Warn("Failed to close response body", "error", closeErr)
		}
	}()

	c.logger.Info("HTTP request completed",
		"status_code", resp.StatusCode,
		"duration_ms", duration.Milliseconds())

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	pages, err := decode(body)
	if err != nil {
		return nil, err
	}

	refs := make([]digest.ArticleRef, 0, len(pages))
	for _, p := range pages {
		path := NormalisePath(p.Path, c.host)
		if path == "" || c.excluded[path] {
			continue
		}
		visitors := p.Stats.Visitors
		if visitors < 0 {
			visitors = 0
		}
		refs = append(refs, digest.ArticleRef{
			Title:        strings.TrimSpace(p.Title),
			URL:          BuildURL(p.Path, c.host, path),
			Path:         path,
			VisitorCount: visitors,
		})
	}

	c.logger.Info("Top pages fetched", "pages", len(pages), "articles", len(refs))
	return refs, nil
}

func decode(body []byte) ([]page, error) {
	var r response
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	if r.Pages == nil {
		return nil, fmt.Errorf("%w: missing pages array", ErrMalformedResponse)
	}
	return *r.Pages, nil
}

// BuildURL turns a raw page value into an absolute URL. path is the result of
// NormalisePath for the same value.
func BuildURL(raw, host, path string) string {
	switch {
	case raw == "":
		return ""
	case strings.HasPrefix(raw, "http://"), strings.HasPrefix(raw, "https://"):
		return raw
	case strings.HasPrefix(raw, host):
		return "https://" + raw
	case path == "/home", path == "/":
		return "https://" + host + "/"
	case strings.HasPrefix(path, "/"):
		return "https://" + host + path
	default:
		return "https://" + host + "/" + path
	}
}

// NormalisePath returns the path of a raw page value with a leading slash and
// no trailing slash. The root stays "/" and the bare marker "home" becomes
// "/home". Unparseable absolute URLs yield "".
func NormalisePath(raw, host string) string {
	if raw == "" {
		return ""
	}
	if raw == "home" {
		return "/home"
	}

	var path string
	switch {
	case strings.HasPrefix(raw, "http://"), strings.HasPrefix(raw, "https://"):
		u, err := url.Parse(raw)
		if err != nil {
			return ""
		}
		path = u.Path
		if path == "" {
			path = "/"
		}
	case host != "" && strings.HasPrefix(raw, host):
		path = strings.TrimPrefix(raw, host)
		if !strings.HasPrefix(path, "/") {
			path = "/" + path
		}
	case strings.HasPrefix(raw, "/"):
		path = raw
	default:
		path = "/" + raw
	}

	if path == "/" {
		return path
	}
	return strings.TrimSuffix(path, "/")
}
