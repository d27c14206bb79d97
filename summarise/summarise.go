// Package summarise turns normalised articles into one combined summary
// using a pluggable text-summarisation backend.
package summarise

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"news-summariser/config"
	"news-summariser/pkg/digest"
	"regexp"
	"strings"
	"time"
)

// Provider names accepted in SUMMARISER_PROVIDER.
const (
	HuggingFace = "huggingface"
	OpenAI      = "openai"
	Anthropic   = "anthropic"
)

const systemPrompt = "You summarise news articles. Reply with a neutral summary of two or three sentences in British English. Do not add a preamble."

// ErrNoSummaries means every article failed to summarise.
var ErrNoSummaries = errors.New("no article could be summarised")

// Provider summarises a single piece of text.
type Provider interface {
	Summarise(ctx context.Context, text string) (string, error)
}

var (
	spaceBeforeStop = regexp.MustCompile(`\s+\.`)
	missingSpace    = regexp.MustCompile(`\.([A-Z])`)
	whitespace      = regexp.MustCompile(`\s+`)
)

// Clean tidies model output: no space before a full stop, one space after
// a full stop that runs into a capital.
func Clean(text string) string {
	text = spaceBeforeStop.ReplaceAllString(text, ".")
	text = missingSpace.ReplaceAllString(text, ". $1")
	return strings.TrimSpace(text)
}

// Summarise summarises each article in order and joins the results with a
// single space. Articles that fail are logged and skipped; all of them are
// still listed as sources.
func Summarise(ctx context.Context, p Provider, articles []digest.Article, logger *slog.Logger) (digest.Summary, error) {
	parts := make([]string, 0, len(articles))
	sources := make([]digest.SourceArticle, 0, len(articles))

	for _, a := range articles {
		sources = append(sources, digest.SourceArticle{Title: a.Title, URL: a.URL})

		start := time.Now()
		text, err := p.Summarise(ctx, a.Content)
		if err != nil {
			if ctx.Err() != nil {
				return digest.Summary{}, ctx.Err()
			}
			logger.Warn("Failed to summarise article",
				"title", a.Title,
				"url", a.URL,
				"error", err)
			continue
		}
		if text = Clean(text); text != "" {
			parts = append(parts, text)
		}
		logger.Debug("Article summarised",
			"url", a.URL,
			"duration_ms", time.Since(start).Milliseconds())
	}

	if len(articles) > 0 && len(parts) == 0 {
		return digest.Summary{}, ErrNoSummaries
	}

	joined := whitespace.ReplaceAllString(strings.Join(parts, " "), " ")
	return digest.Summary{
		SummaryText:    Clean(joined),
		SourceArticles: sources,
	}, nil
}

// FromConfig builds the provider named by SUMMARISER_PROVIDER.
func FromConfig(cfg *config.Config, client *http.Client, logger *slog.Logger) (Provider, error) {
	switch name := strings.ToLower(cfg.Get(config.SummariserProvider)); name {
	case HuggingFace, "":
		if err := cfg.Require(config.HFAPIKey, config.HFModelURL); err != nil {
			return nil, err
		}
		return NewHuggingFace(client, cfg.Get(config.HFModelURL), cfg.Get(config.HFAPIKey), logger), nil
	case OpenAI:
		if err := cfg.Require(config.OpenAIAPIKey); err != nil {
			return nil, err
		}
		return NewOpenAI(cfg.Get(config.OpenAIAPIKey), cfg.Get(config.OpenAIBaseURL), cfg.Get(config.OpenAIModel), logger), nil
	case Anthropic:
		if err := cfg.Require(config.AnthropicAPIKey); err != nil {
			return nil, err
		}
		return NewAnthropic(cfg.Get(config.AnthropicAPIKey), "", cfg.Get(config.AnthropicModel), logger), nil
	default:
		return nil, fmt.Errorf("unknown summariser provider %q", name)
	}
}
