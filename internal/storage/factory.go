package storage

import (
	"context"
	"fmt"

	"github.com/storeops/tenant-backup/internal/config"
)

// NewStore creates a store based on configuration. The remote root path
// becomes the key prefix so callers work with layout-relative keys.
func NewStore(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.StorageProvider {
	case "s3":
		store, err := NewS3Store(ctx, S3Config{
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
			Region:          cfg.S3Region,
			Bucket:          cfg.S3Bucket,
			Endpoint:        cfg.S3Endpoint,
			Prefix:          cfg.RemoteRootPath,
			UsePathStyle:    cfg.S3Endpoint != "", // path style for custom endpoints
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create s3 store: %w", err)
		}
		return NewInstrumentedStore(store, "s3"), nil

	case "gcs":
		if err := ValidateServiceAccountJSON(cfg.GoogleServiceAccountJSON); err != nil {
			return nil, fmt.Errorf("invalid GCS service account: %w", err)
		}
		store, err := NewGCSStore(ctx, GCSConfig{
			Bucket:             cfg.GCSBucket,
			ProjectID:          cfg.GoogleProjectID,
			ServiceAccountJSON: cfg.GoogleServiceAccountJSON,
			Prefix:             cfg.RemoteRootPath,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create gcs store: %w", err)
		}
		return NewInstrumentedStore(store, "gcs"), nil

	default:
		return nil, fmt.Errorf("unsupported storage provider: %s", cfg.StorageProvider)
	}
}
