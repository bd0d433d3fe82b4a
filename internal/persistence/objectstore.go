package persistence

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/spec-kit/canvas-sync/internal/config"
)

// ObjectStore wraps an S3-compatible bucket reached through minio-go.
type ObjectStore struct {
	client        *minio.Client
	bucket        string
	publicBaseURL string
}

// NewObjectStore connects to the configured bucket, creating it when missing.
// It returns nil when object storage is not configured.
func NewObjectStore(ctx context.Context, cfg config.ObjectStorageConfig, logger *zap.Logger) (*ObjectStore, error) {
	if !cfg.Enabled() {
		logger.Warn("MINIO_ENDPOINT not provided; image uploads disabled")
		return nil, nil
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
		logger.Info("created object storage bucket", zap.String("bucket", cfg.Bucket))
	}

	base := cfg.PublicBaseURL
	if base == "" {
		scheme := "http"
		if cfg.UseSSL {
			scheme = "https"
		}
		base = fmt.Sprintf("%s://%s/%s", scheme, cfg.Endpoint, cfg.Bucket)
	}

	logger.Info("connected to object storage", zap.String("endpoint", cfg.Endpoint))
	return &ObjectStore{client: client, bucket: cfg.Bucket, publicBaseURL: strings.TrimRight(base, "/")}, nil
}

// Put uploads an object and returns its public URL.
func (s *ObjectStore) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) (string, error) {
	if s == nil || s.client == nil {
		return "", errors.New("object storage not configured")
	}
	_, err := s.client.PutObject(ctx, s.bucket, key, body, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("put object %s: %w", key, err)
	}
	return s.publicBaseURL + "/" + (&url.URL{Path: key}).EscapedPath(), nil
}

// Ping verifies the bucket is reachable.
func (s *ObjectStore) Ping(ctx context.Context) error {
	if s == nil || s.client == nil {
		return errors.New("object storage not configured")
	}
	_, err := s.client.BucketExists(ctx, s.bucket)
	return err
}
