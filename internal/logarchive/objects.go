// Package logarchive concatenates completed builds' log rows and moves them
// into object storage, leaving only the archive key on the build record.
package logarchive

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ObjectStore is the narrow object storage surface the archiver needs.
type ObjectStore interface {
	// Put stores content under key.
	Put(ctx context.Context, key string, content []byte, contentType string) error
	// Get retrieves the byte range [offset, offset+length) of an object.
	// length <= 0 reads to the end of the object.
	Get(ctx context.Context, key string, offset, length int64) (io.ReadCloser, error)
}

// S3Config holds S3-compatible object storage configuration.
type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

// S3Store implements ObjectStore against any S3-compatible service.
type S3Store struct {
	client *minio.Client
	bucket string
}

// NewS3Store creates an S3-backed object store.
func NewS3Store(cfg *S3Config) (*S3Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("creating S3 client: %w", err)
	}

	return &S3Store{
		client: client,
		bucket: cfg.Bucket,
	}, nil
}

// Put stores content under key.
func (s *S3Store) Put(ctx context.Context, key string, content []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, key,
		bytes.NewReader(content), int64(len(content)),
		minio.PutObjectOptions{ContentType: contentType},
	)
	if err != nil {
		return fmt.Errorf("putting object %s: %w", key, err)
	}
	return nil
}

// Get retrieves a byte range of an object.
func (s *S3Store) Get(ctx context.Context, key string, offset, length int64) (io.ReadCloser, error) {
	opts := minio.GetObjectOptions{}
	if offset > 0 || length > 0 {
		end := int64(0)
		if length > 0 {
			end = offset + length - 1
		}
		if err := opts.SetRange(offset, end); err != nil {
			return nil, fmt.Errorf("setting object range: %w", err)
		}
	}

	obj, err := s.client.GetObject(ctx, s.bucket, key, opts)
	if err != nil {
		return nil, fmt.Errorf("getting object %s: %w", key, err)
	}
	return obj, nil
}
