package files

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/medpoint/telecare-platform/pkg/logging"
)

// S3API is the subset of the S3 client used by BlobStore.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// BlobStore reads and writes patient file bytes in S3.
type BlobStore struct {
	bucket   string
	s3Client S3API
	logger   *logging.Logger
}

func NewBlobStore(s3Client S3API, bucket string, logger *logging.Logger) *BlobStore {
	if logger == nil {
		logger = logging.Default()
	}
	return &BlobStore{bucket: bucket, s3Client: s3Client, logger: logger}
}

// Enabled reports whether blob storage is configured.
func (b *BlobStore) Enabled() bool {
	return b != nil && b.bucket != "" && b.s3Client != nil
}

// Put streams the body to S3 under the key.
func (b *BlobStore) Put(ctx context.Context, key, contentType string, body io.Reader) error {
	if !b.Enabled() {
		return fmt.Errorf("files: blob storage not configured")
	}
	_, err := b.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("files: s3 put %s: %w", key, err)
	}
	return nil
}

// Get opens the object for streaming. The caller must close the reader.
func (b *BlobStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if !b.Enabled() {
		return nil, fmt.Errorf("files: blob storage not configured")
	}
	resp, err := b.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("files: s3 get %s: %w", key, err)
	}
	return resp.Body, nil
}

// Delete removes the object.
func (b *BlobStore) Delete(ctx context.Context, key string) error {
	if !b.Enabled() {
		return fmt.Errorf("files: blob storage not configured")
	}
	_, err := b.s3Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("files: s3 delete %s: %w", key, err)
	}
	return nil
}
