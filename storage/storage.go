// Package storage keeps uploaded review documents on the local filesystem,
// in S3 or in Google Cloud Storage.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ErrObjectNotFound is returned by Download when nothing is stored at the path
var ErrObjectNotFound = errors.New("stored object not found")

// Storage interface for file storage operations
type Storage interface {
	// Upload stores a file and returns the storage path
	Upload(ctx context.Context, fileID uuid.UUID, filename string, data io.Reader) (string, error)

	// Download retrieves a file by storage path
	Download(ctx context.Context, storagePath string) (io.ReadCloser, error)

	// Delete removes a file by storage path. Deleting a missing file is not an error.
	Delete(ctx context.Context, storagePath string) error
}

// StorageType represents the storage backend type
type StorageType string

const (
	StorageTypeLocal StorageType = "local"
	StorageTypeS3    StorageType = "s3"
	StorageTypeGCS   StorageType = "gcs"
)

// StorageConfig holds configuration for storage
type StorageConfig struct {
	Type      StorageType
	LocalPath string // For local storage

	S3Bucket   string
	S3Region   string
	S3Prefix   string // key prefix inside the bucket
	S3Endpoint string // S3-compatible endpoint such as MinIO; path-style addressing is used when set

	AWSAccessKey string
	AWSSecretKey string

	GCSBucket string
	GCSPrefix string
	// GCSCredentialsFile is a service account key; empty uses application default credentials
	GCSCredentialsFile string
}

// NewStorage creates a new storage instance based on configuration
func NewStorage(ctx context.Context, cfg StorageConfig) (Storage, error) {
	switch cfg.Type {
	case StorageTypeLocal, "":
		path := cfg.LocalPath
		if path == "" {
			path = "./storage/files"
		}
		return NewLocalStorage(path)
	case StorageTypeS3:
		if cfg.S3Bucket == "" {
			return nil, errors.New("s3 storage requires a bucket")
		}
		return NewS3Storage(ctx, cfg)
	case StorageTypeGCS:
		if cfg.GCSBucket == "" {
			return nil, errors.New("gcs storage requires a bucket")
		}
		return NewGCSStorage(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}

// generateStoragePath builds "<2-char shard>/<file id>_<sanitized name><ext>"
func generateStoragePath(fileID uuid.UUID, filename string) string {
	filename = filepath.Base(strings.ReplaceAll(filename, "\\", "/"))
	ext := strings.ToLower(filepath.Ext(filename))
	baseName := strings.TrimSuffix(filename, filepath.Ext(filename))

	baseName = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, baseName)
	if baseName == "" || baseName == "." {
		baseName = "document"
	}

	id := fileID.String()
	return fmt.Sprintf("%s/%s_%s%s", id[:2], id, baseName, ext)
}

// contentType determines content type from filename
func contentType(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".txt":
		return "text/plain; charset=utf-8"
	case ".md", ".markdown":
		return "text/markdown; charset=utf-8"
	case ".html", ".htm":
		return "text/html; charset=utf-8"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
