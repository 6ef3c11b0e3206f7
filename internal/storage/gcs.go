package storage

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GCSStore implements Store for Google Cloud Storage.
type GCSStore struct {
	client *storage.Client
	bucket string
	prefix string
}

// GCSConfig holds GCS-specific configuration.
type GCSConfig struct {
	Bucket             string
	ProjectID          string
	ServiceAccountJSON string
	Prefix             string // Remote root path prepended to all keys
}

// NewGCSStore creates a new GCS store.
func NewGCSStore(ctx context.Context, cfg GCSConfig) (*GCSStore, error) {
	var opts []option.ClientOption
	if cfg.ServiceAccountJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(cfg.ServiceAccountJSON)))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	return &GCSStore{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

// Put implements Store.Put.
func (g *GCSStore) Put(ctx context.Context, key string, data []byte, metadata map[string]string) error {
	obj := g.client.Bucket(g.bucket).Object(g.getFullKey(key))

	w := obj.NewWriter(ctx)
	w.Metadata = metadata
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to upload to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finalize GCS upload: %w", err)
	}
	return nil
}

// Get implements Store.Get.
func (g *GCSStore) Get(ctx context.Context, key string) ([]byte, error) {
	obj := g.client.Bucket(g.bucket).Object(g.getFullKey(key))

	r, err := obj.NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("failed to get from GCS: %w", err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read GCS object %s: %w", key, err)
	}
	return data, nil
}

// Stat implements Store.Stat.
func (g *GCSStore) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	obj := g.client.Bucket(g.bucket).Object(g.getFullKey(key))

	attrs, err := obj.Attrs(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return ObjectInfo{}, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return ObjectInfo{}, fmt.Errorf("failed to stat GCS object: %w", err)
	}

	return ObjectInfo{
		Key:          key,
		Size:         attrs.Size,
		LastModified: attrs.Updated,
		Checksum:     hex.EncodeToString(attrs.MD5),
		Metadata:     attrs.Metadata,
	}, nil
}

// List implements Store.List.
func (g *GCSStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	fullPrefix := g.getFullKey(prefix)

	var objects []ObjectInfo
	it := g.client.Bucket(g.bucket).Objects(ctx, &storage.Query{Prefix: fullPrefix})
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list GCS objects: %w", err)
		}

		objects = append(objects, ObjectInfo{
			Key:          g.stripPrefix(attrs.Name),
			Size:         attrs.Size,
			LastModified: attrs.Updated,
			Checksum:     hex.EncodeToString(attrs.MD5),
			Metadata:     attrs.Metadata,
		})
	}

	return objects, nil
}

// Delete implements Store.Delete.
func (g *GCSStore) Delete(ctx context.Context, key string) error {
	obj := g.client.Bucket(g.bucket).Object(g.getFullKey(key))
	if err := obj.Delete(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return fmt.Errorf("failed to delete from GCS: %w", err)
	}
	return nil
}

// Close closes the GCS client connection.
func (g *GCSStore) Close() error {
	return g.client.Close()
}

// getFullKey returns the full GCS object name with prefix.
func (g *GCSStore) getFullKey(key string) string {
	if g.prefix == "" {
		return key
	}
	return path.Join(g.prefix, key)
}

// stripPrefix removes the storage prefix from a key.
func (g *GCSStore) stripPrefix(key string) string {
	if g.prefix == "" {
		return key
	}
	if len(key) > len(g.prefix) {
		return key[len(g.prefix)+1:]
	}
	return key
}

// ValidateServiceAccountJSON validates the service account JSON string.
func ValidateServiceAccountJSON(jsonStr string) error {
	var sa struct {
		Type string `json:"type"`
	}

	if err := json.Unmarshal([]byte(jsonStr), &sa); err != nil {
		return fmt.Errorf("invalid service account JSON: %w", err)
	}

	if sa.Type != "service_account" {
		return fmt.Errorf("invalid service account type: %s", sa.Type)
	}

	return nil
}
