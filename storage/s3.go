package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// S3API is the subset of the S3 client used here.
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Bucket stores objects in an S3 bucket.
type S3Bucket struct {
	client S3API
	logger *slog.Logger
	bucket string
}

// NewS3 creates an S3-backed bucket.
func NewS3(client S3API, bucket string, logger *slog.Logger) *S3Bucket {
	return &S3Bucket{client: client, bucket: bucket, logger: logger}
}

// Put implements Bucket.
func (b *S3Bucket) Put(ctx context.Context, key string, data []byte) error {
	return withRetry(ctx, b.logger, "put", key, func() error {
		_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(b.bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(data),
			ContentType: aws.String("application/json"),
		})
		if err != nil {
			return fmt.Errorf("put s3://%s/%s: %w", b.bucket, key, err)
		}
		return nil
	})
}

// Get implements Bucket.
func (b *S3Bucket) Get(ctx context.Context, key string) (*Object, error) {
	var obj *Object
	err := withRetry(ctx, b.logger, "get", key, func() error {
		out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(b.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			if isS3NotFound(err) {
				return ErrNotFound
			}
			return fmt.Errorf("get s3://%s/%s: %w", b.bucket, key, err)
		}
		defer func() {
			if closeErr := out.Body.Close(); closeErr != nil {
				b.logger.Warn("Failed to close object body", "key", key, "error", closeErr)
			}
		}()

		data, err := io.ReadAll(out.Body)
		if err != nil {
			return fmt.Errorf("read s3://%s/%s: %w", b.bucket, key, err)
		}
		obj = &Object{
			Data:         data,
			ETag:         strings.Trim(aws.ToString(out.ETag), `"`),
			LastModified: aws.ToTime(out.LastModified),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return obj, nil
}

func isS3NotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}
