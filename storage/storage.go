package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Storage stages uploaded documents between the HTTP layer and the
// ingestion pipeline. Uploads are written here first, parsed from here,
// and removed once indexed.
type Storage interface {
	// Upload stores a file and returns the storage path
	Upload(ctx context.Context, fileID uuid.UUID, filename string, data io.Reader) (string, error)

	// Download retrieves a file by storage path
	Download(ctx context.Context, storagePath string) (io.ReadCloser, error)

	// Delete removes a file by storage path
	Delete(ctx context.Context, storagePath string) error
}

// StorageType represents the storage backend type
type StorageType string

const (
	StorageTypeLocal StorageType = "local"
	StorageTypeS3    StorageType = "s3"
)

// NewStorageFromEnv creates a storage instance from environment variables.
// Local disk is the default; S3 is selected with STORAGE_TYPE=s3.
func NewStorageFromEnv() (Storage, error) {
	storageType := os.Getenv("STORAGE_TYPE")
	if storageType == "" {
		storageType = string(StorageTypeLocal)
	}

	switch StorageType(storageType) {
	case StorageTypeLocal:
		localPath := os.Getenv("STORAGE_LOCAL_PATH")
		if localPath == "" {
			localPath = "./data/uploads"
		}
		return NewLocalStorage(localPath)

	case StorageTypeS3:
		bucket := os.Getenv("AWS_S3_BUCKET")
		if bucket == "" {
			return nil, errors.New("AWS_S3_BUCKET environment variable is required for S3 storage")
		}
		region := os.Getenv("AWS_REGION")
		if region == "" {
			region = "us-east-1"
		}
		return NewS3Storage(S3Config{
			Bucket:    bucket,
			Region:    region,
			AccessKey: os.Getenv("AWS_ACCESS_KEY_ID"),
			SecretKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
		})

	default:
		return nil, fmt.Errorf("unknown storage type: %s", storageType)
	}
}

// generateStoragePath generates a unique storage path for a file. The
// file ID prefix keeps colliding filenames apart.
func generateStoragePath(fileID uuid.UUID, filename string) string {
	ext := filepath.Ext(filename)
	baseName := strings.TrimSuffix(filepath.Base(filename), ext)
	baseName = strings.ReplaceAll(baseName, " ", "_")

	return fmt.Sprintf("%s/%s_%s%s", fileID.String()[:2], fileID.String(), baseName, ext)
}
