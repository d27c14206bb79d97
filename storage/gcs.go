package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"cloud.google.com/go/storage"
)

// GCSBucket stores objects in a Cloud Storage bucket.
type GCSBucket struct {
	client *storage.Client
	logger *slog.Logger
	bucket string
}

// NewGCS creates a Cloud Storage backed bucket.
func NewGCS(client *storage.Client, bucket string, logger *slog.Logger) *GCSBucket {
	return &GCSBucket{client: client, bucket: bucket, logger: logger}
}

// Put implements Bucket.
func (b *GCSBucket) Put(ctx context.Context, key string, data []byte) error {
	return withRetry(ctx, b.logger, "put", key, func() error {
		w := b.client.Bucket(b.bucket).Object(key).NewWriter(ctx)
		w.ContentType = "application/json"
		if _, err := w.Write(data); err != nil {
			if closeErr := w.Close(); closeErr != nil {
				b.logger.Warn("Failed to close writer after error", "error", closeErr)
			}
			return fmt.Errorf("write gs://%s/%s: %w", b.bucket, key, err)
		}
		if err := w.Close(); err != nil {
			return fmt.Errorf("close gs://%s/%s: %w", b.bucket, key, err)
		}
		return nil
	})
}

// Get implements Bucket. The object generation stands in for an ETag.
func (b *GCSBucket) Get(ctx context.Context, key string) (*Object, error) {
	var obj *Object
	err := withRetry(ctx, b.logger, "get", key, func() error {
		r, err := b.client.Bucket(b.bucket).Object(key).NewReader(ctx)
		if err != nil {
			if errors.Is(err, storage.ErrObjectNotExist) {
				return ErrNotFound
			}
			return fmt.Errorf("open gs://%s/%s: %w", b.bucket, key, err)
		}
		defer func() {
			if closeErr := r.Close(); closeErr != nil {
				b.logger.Warn("Failed to close storage reader", "error", closeErr)
			}
		}()

		data, err := io.ReadAll(r)
		if err != nil {
			return fmt.Errorf("read gs://%s/%s: %w", b.bucket, key, err)
		}
		obj = &Object{
			Data:         data,
			ETag:         strconv.FormatInt(r.Attrs.Generation, 10),
			LastModified: r.Attrs.LastModified,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return obj, nil
}
