package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	gcs "cloud.google.com/go/storage"
	"github.com/google/uuid"
	"google.golang.org/api/option"
)

// GCSStorage implements Storage interface for Google Cloud Storage
type GCSStorage struct {
	client *gcs.Client
	bucket string
	prefix string
}

// NewGCSStorage creates a new GCS storage instance. Without a credentials
// file the client uses application default credentials.
func NewGCSStorage(ctx context.Context, cfg StorageConfig) (*GCSStorage, error) {
	var opts []option.ClientOption
	if cfg.GCSCredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.GCSCredentialsFile))
	}

	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	return &GCSStorage{
		client: client,
		bucket: cfg.GCSBucket,
		prefix: strings.Trim(cfg.GCSPrefix, "/"),
	}, nil
}

func (s *GCSStorage) object(storagePath string) *gcs.ObjectHandle {
	name := storagePath
	if s.prefix != "" {
		name = path.Join(s.prefix, storagePath)
	}
	return s.client.Bucket(s.bucket).Object(name)
}

// Upload stores a file in GCS
func (s *GCSStorage) Upload(ctx context.Context, fileID uuid.UUID, filename string, data io.Reader) (string, error) {
	storagePath := generateStoragePath(fileID, filename)

	w := s.object(storagePath).NewWriter(ctx)
	w.ContentType = contentType(filename)

	if _, err := io.Copy(w, data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("failed to upload to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize GCS upload: %w", err)
	}

	return storagePath, nil
}

// Download retrieves a file from GCS
func (s *GCSStorage) Download(ctx context.Context, storagePath string) (io.ReadCloser, error) {
	r, err := s.object(storagePath).NewReader(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, storagePath)
		}
		return nil, fmt.Errorf("failed to download from GCS: %w", err)
	}

	return r, nil
}

// Delete removes a file from GCS
func (s *GCSStorage) Delete(ctx context.Context, storagePath string) error {
	if err := s.object(storagePath).Delete(ctx); err != nil && !errors.Is(err, gcs.ErrObjectNotExist) {
		return fmt.Errorf("failed to delete from GCS: %w", err)
	}

	return nil
}
