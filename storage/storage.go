// Package storage persists summary documents in an object store.
//
// Backends (S3, Cloud Storage, local directory) implement Bucket. Archive
// layers the draft and published key layouts on top of a Bucket.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"news-summariser/config"
	"time"

	"github.com/codeGROOVE-dev/retry"
)

// ErrNotFound is returned by Bucket.Get when the key does not exist.
var ErrNotFound = errors.New("storage: object not found")

// IsNotFound reports whether err means the object does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Object is a stored blob with its metadata.
type Object struct {
	LastModified time.Time
	ETag         string
	Data         []byte
}

// Bucket is a flat key/value object store.
type Bucket interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) (*Object, error)
}

// Unconfigured is a Bucket whose name was never configured. Every call fails
// with a configuration error naming Var.
type Unconfigured struct {
	Var string
}

// Put implements Bucket.
func (u Unconfigured) Put(context.Context, string, []byte) error {
	return config.Missing(u.Var)
}

// Get implements Bucket.
func (u Unconfigured) Get(context.Context, string) (*Object, error) {
	return nil, config.Missing(u.Var)
}

// withRetry runs a remote bucket operation, retrying transient failures.
// ErrNotFound is never retried.
func withRetry(ctx context.Context, logger *slog.Logger, op, key string, fn func() error) error {
	err := retry.Do(
		func() error {
			err := fn()
			if IsNotFound(err) {
				return retry.Unrecoverable(err)
			}
			return err
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			logger.Info("Retrying storage operation after error", "op", op, "attempt", n, "key", key, "error", retryErr)
		}),
	)
	if err != nil {
		if IsNotFound(err) {
			return ErrNotFound
		}
		return fmt.Errorf("%s after retries: %w", op, err)
	}
	return nil
}
