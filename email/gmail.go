package email

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
)

// GmailProvider sends through the Gmail API as the authenticated account.
type GmailProvider struct {
	service *gmail.Service
	logger  *slog.Logger
}

// NewGmailProvider creates a Gmail provider.
func NewGmailProvider(service *gmail.Service, logger *slog.Logger) *GmailProvider {
	return &GmailProvider{service: service, logger: logger}
}

// Send implements Provider. Gmail fills in the From header.
func (g *GmailProvider) Send(ctx context.Context, msg Message) error {
	raw, err := buildMIME("", msg)
	if err != nil {
		return fmt.Errorf("build message: %w", err)
	}
	gm := &gmail.Message{Raw: base64.URLEncoding.EncodeToString(raw)}

	return deliver(ctx, g.logger, "gmail", msg, func() error {
		_, err := g.service.Users.Messages.Send("me", gm).Context(ctx).Do()
		return gmailError(err)
	})
}

// gmailError turns API errors into StatusErrors. Client errors other than
// rate limiting are permanent.
func gmailError(err error) error {
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return err
	}
	return fmt.Errorf("%s: %w", apiErr.Message, &StatusError{
		Provider:  "gmail",
		Code:      apiErr.Code,
		Permanent: apiErr.Code >= 400 && apiErr.Code < 500 && apiErr.Code != http.StatusTooManyRequests,
	})
}
