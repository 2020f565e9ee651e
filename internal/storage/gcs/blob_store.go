// Package gcs stores rendered crawl reports in a Google Cloud Storage bucket.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
)

// Config names the destination bucket.
type Config struct {
	Bucket string
	// CacheControl is set on every uploaded object when non-empty.
	CacheControl string
}

// ClientFunc creates a storage client. Tests pass clients with fake transports.
type ClientFunc func(ctx context.Context) (*storage.Client, error)

// DefaultClient authenticates with Application Default Credentials.
func DefaultClient(ctx context.Context) (*storage.Client, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return client, nil
}

// BlobStore implements crawler.BlobStore on one bucket.
type BlobStore struct {
	bucket *storage.BucketHandle
	cfg    Config
	// closeClient is set when the store created the client itself.
	closeClient func() error
}

// New wraps a client owned by the caller.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, errors.New("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}
	return &BlobStore{bucket: client.Bucket(cfg.Bucket), cfg: cfg}, nil
}

// Open creates a client with newClient (DefaultClient when nil) and checks
// that the bucket is reachable before any run depends on it.
func Open(ctx context.Context, cfg Config, newClient ClientFunc, logger *zap.Logger) (*BlobStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if newClient == nil {
		newClient = DefaultClient
	}
	if cfg.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}
	client, err := newClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("open gcs client: %w", err)
	}
	s, _ := New(client, cfg)
	if _, err := s.bucket.Attrs(ctx); err != nil {
		if cerr := client.Close(); cerr != nil {
			logger.Warn("close gcs client failed", zap.Error(cerr))
		}
		return nil, fmt.Errorf("check bucket %q: %w", cfg.Bucket, err)
	}
	s.closeClient = client.Close
	return s, nil
}

// PutObject streams r to path and returns its gs:// URI.
func (s *BlobStore) PutObject(ctx context.Context, path, contentType string, r io.Reader) (string, error) {
	path = strings.TrimLeft(strings.TrimSpace(path), "/")
	if path == "" {
		return "", errors.New("object path is required")
	}
	w := s.bucket.Object(path).NewWriter(ctx)
	w.ContentType = contentType
	w.CacheControl = s.cfg.CacheControl
	if _, err := io.Copy(w, r); err != nil {
		return "", errors.Join(fmt.Errorf("upload %s: %w", path, err), w.Close())
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finish upload %s: %w", path, err)
	}
	return "gs://" + s.cfg.Bucket + "/" + path, nil
}

// Close releases the client when Open created it.
func (s *BlobStore) Close() error {
	if s == nil || s.closeClient == nil {
		return nil
	}
	if err := s.closeClient(); err != nil {
		return fmt.Errorf("close storage client: %w", err)
	}
	return nil
}
