// Package records is the attribute store for subscribers and admins.
//
// Records are keyed by email. The only atomic primitive offered is
// PutUnlessActive, a single conditional write; everything else is a point
// read, a filtered scan or a blind update.
package records

import (
	"context"
	"errors"
	"log/slog"
	"news-summariser/pkg/digest"
	"time"

	"github.com/codeGROOVE-dev/retry"
)

// ErrExists is returned by PutUnlessActive when a live record already exists.
var ErrExists = errors.New("records: already exists")

// IsExists reports whether err is a conditional write conflict.
func IsExists(err error) bool {
	return errors.Is(err, ErrExists)
}

// Subscribers is the subscribers table.
type Subscribers interface {
	// Get returns the subscriber for email; found is false when absent.
	Get(ctx context.Context, email string) (sub *digest.Subscriber, found bool, err error)
	// ListByStatus returns subscribers with status. Records with no status
	// count as active.
	ListByStatus(ctx context.Context, status digest.Status) ([]*digest.Subscriber, error)
	// PutUnlessActive stores sub when no record with its email exists or the
	// existing one is inactive. Otherwise it returns ErrExists and changes
	// nothing.
	PutUnlessActive(ctx context.Context, sub *digest.Subscriber) error
	// SetStatus overwrites the status of email without reading it first.
	SetStatus(ctx context.Context, email string, status digest.Status, at time.Time) error
}

// Admins is the admins table.
type Admins interface {
	Admin(ctx context.Context, email string) (admin *digest.Admin, found bool, err error)
}

// Static serves a single admin from configuration, for local development.
type Static struct {
	Account digest.Admin
}

// Admin implements Admins.
func (s Static) Admin(_ context.Context, email string) (*digest.Admin, bool, error) {
	if s.Account.Email == "" || email != s.Account.Email {
		return nil, false, nil
	}
	a := s.Account
	return &a, true, nil
}

func matchesStatus(sub *digest.Subscriber, status digest.Status) bool {
	if sub.Status == "" {
		return status == digest.StatusActive
	}
	return sub.Status == status
}

func withRetry(ctx context.Context, logger *slog.Logger, op string, fn func() error) error {
	return retry.Do(
		fn,
		retry.Attempts(3),
		retry.Delay(500*time.Millisecond),
		retry.MaxDelay(10*time.Second),
		retry.MaxJitter(time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			logger.Info("Retrying table operation after error", "op", op, "attempt", n, "error", err)
		}),
	)
}
