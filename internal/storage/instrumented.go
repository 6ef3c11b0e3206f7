package storage

import (
	"context"
	"time"

	"github.com/storeops/tenant-backup/internal/metrics"
)

// Timeouts per operation class. One stalled remote call must not stall the
// whole run.
const (
	transferTimeout = 10 * time.Minute
	metaTimeout     = 30 * time.Second
)

// InstrumentedStore decorates a Store with per-operation metrics and
// per-call timeouts. Every provider returned by NewStore is wrapped.
type InstrumentedStore struct {
	inner    Store
	provider string
}

// NewInstrumentedStore wraps a store for metrics reporting.
func NewInstrumentedStore(inner Store, provider string) *InstrumentedStore {
	return &InstrumentedStore{inner: inner, provider: provider}
}

// Put implements Store.Put.
func (i *InstrumentedStore) Put(ctx context.Context, key string, data []byte, metadata map[string]string) error {
	ctx, cancel := context.WithTimeout(ctx, transferTimeout)
	defer cancel()
	err := i.inner.Put(ctx, key, data, metadata)
	metrics.RecordStorageOperation("put", i.provider, err == nil)
	return err
}

// Get implements Store.Get.
func (i *InstrumentedStore) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, transferTimeout)
	defer cancel()
	data, err := i.inner.Get(ctx, key)
	metrics.RecordStorageOperation("get", i.provider, err == nil)
	return data, err
}

// Stat implements Store.Stat.
func (i *InstrumentedStore) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, metaTimeout)
	defer cancel()
	info, err := i.inner.Stat(ctx, key)
	metrics.RecordStorageOperation("stat", i.provider, err == nil)
	return info, err
}

// List implements Store.List.
func (i *InstrumentedStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, metaTimeout)
	defer cancel()
	objects, err := i.inner.List(ctx, prefix)
	metrics.RecordStorageOperation("list", i.provider, err == nil)
	return objects, err
}

// Delete implements Store.Delete.
func (i *InstrumentedStore) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, metaTimeout)
	defer cancel()
	err := i.inner.Delete(ctx, key)
	metrics.RecordStorageOperation("delete", i.provider, err == nil)
	return err
}
