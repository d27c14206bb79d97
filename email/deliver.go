package email

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/codeGROOVE-dev/retry"
)

// StatusError is a failure status reported by a mail API or server.
type StatusError struct {
	Provider string
	Code     int
	// Permanent is set when the same request can never succeed, such as a
	// rejected recipient or bad credentials.
	Permanent bool
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: status %d", e.Provider, e.Code)
}

// IsRejected reports whether err is a permanent rejection.
func IsRejected(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Permanent
}

// deliver calls send until it succeeds, fails permanently, or runs out of
// attempts.
func deliver(ctx context.Context, logger *slog.Logger, provider string, msg Message, send func() error) error {
	return retry.Do(
		func() error {
			start := time.Now()
			err := send()
			duration := time.Since(start)

			if err != nil {
				if IsRejected(err) {
					logger.Warn("Email rejected",
						"provider", provider,
						"to", msg.To,
						"duration_ms", duration.Milliseconds(),
						"error", err)
					return retry.Unrecoverable(err)
				}
				logger.Warn("Email send failed, will retry",
					"provider", provider,
					"to", msg.To,
					"duration_ms", duration.Milliseconds(),
					"error", err)
				return err
			}

			logger.Info("Email sent",
				"provider", provider,
				"to", msg.To,
				"subject", msg.Subject,
				"duration_ms", duration.Milliseconds())
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			logger.Info("Retrying email send after error", "provider", provider, "attempt", n, "error", err)
		}),
	)
}
