package summarise

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// ErrUnexpectedResponse means the inference API answered without a summary.
var ErrUnexpectedResponse = errors.New("unexpected inference response")

// HFProvider calls the Hugging Face Inference API.
type HFProvider struct {
	client   *http.Client
	logger   *slog.Logger
	modelURL string
	apiKey   string
}

// NewHuggingFace creates a provider for the model served at modelURL.
func NewHuggingFace(client *http.Client, modelURL, apiKey string, logger *slog.Logger) *HFProvider {
	return &HFProvider{
		client:   client,
		logger:   logger,
		modelURL: modelURL,
		apiKey:   apiKey,
	}
}

type hfSummary struct {
	SummaryText *string `json:"summary_text"`
}

// Summarise posts text to the model and returns its summary_text.
func (h *HFProvider) Summarise(ctx context.Context, text string) (string, error) {
	payload, err := json.Marshal(map[string]string{"inputs": text})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.modelURL, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+h.apiKey)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := h.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("inference request: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			h.logger.Warn("Failed to close response body", "error", closeErr)
		}
	}()

	h.logger.Info("Inference request completed",
		"status_code", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds())

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("inference API error: HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	return decodeHF(body)
}

// decodeHF accepts either [{summary_text}] or {summary_text}.
func decodeHF(body []byte) (string, error) {
	var list []hfSummary
	if err := json.Unmarshal(body, &list); err == nil {
		if len(list) > 0 && list[0].SummaryText != nil {
			return *list[0].SummaryText, nil
		}
		return "", ErrUnexpectedResponse
	}

	var single hfSummary
	if err := json.Unmarshal(body, &single); err == nil && single.SummaryText != nil {
		return *single.SummaryText, nil
	}
	return "", ErrUnexpectedResponse
}
