package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/storeops/tenant-backup/internal/config"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	if err := store.Put(ctx, "a/b.zip", []byte("payload"), map[string]string{"kind": "tenant"}); err != nil {
		t.Fatalf("Put() error: %v", err)
	}

	data, err := store.Get(ctx, "a/b.zip")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if string(data) != "payload" {
		t.Errorf("unexpected data: %q", data)
	}

	info, err := store.Stat(ctx, "a/b.zip")
	if err != nil {
		t.Fatalf("Stat() error: %v", err)
	}
	if info.Size != 7 {
		t.Errorf("unexpected size: %d", info.Size)
	}
	if info.Metadata["kind"] != "tenant" {
		t.Errorf("metadata lost: %v", info.Metadata)
	}

	if err := store.Delete(ctx, "a/b.zip"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if _, err := store.Get(ctx, "a/b.zip"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestMemoryStoreListPrefix(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	for _, key := range []string{"_global/a.zip", "_global/b.zip", "tenantX_1/a.zip"} {
		if err := store.Put(ctx, key, []byte("x"), nil); err != nil {
			t.Fatalf("Put(%s): %v", key, err)
		}
	}

	objs, err := store.List(ctx, "_global/")
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(objs) != 2 {
		t.Errorf("expected 2 objects under _global/, got %d", len(objs))
	}

	all, err := store.List(ctx, "")
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("expected 3 objects, got %d", len(all))
	}
}

func TestIsTransient(t *testing.T) {
	if IsTransient(nil) {
		t.Error("nil error is not transient")
	}
	if IsTransient(ErrNotFound) {
		t.Error("not-found is permanent")
	}
	if !IsTransient(errors.New("connection reset by peer")) {
		t.Error("network errors are transient")
	}
}

func TestNewestObjectTime(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	ts, err := NewestObjectTime(ctx, store)
	if err != nil {
		t.Fatalf("NewestObjectTime() error: %v", err)
	}
	if !ts.IsZero() {
		t.Errorf("expected zero time for empty store, got %v", ts)
	}

	if err := store.Put(ctx, "x.zip", []byte("x"), nil); err != nil {
		t.Fatalf("Put(): %v", err)
	}
	ts, err = NewestObjectTime(ctx, store)
	if err != nil {
		t.Fatalf("NewestObjectTime() error: %v", err)
	}
	if time.Since(ts) > time.Minute {
		t.Errorf("newest time not recent: %v", ts)
	}
}

func TestNewStoreUnsupportedProvider(t *testing.T) {
	cfg := config.Default()
	cfg.StorageProvider = "tape"
	if _, err := NewStore(context.Background(), cfg); err == nil {
		t.Error("expected error for unsupported provider")
	}
}

func TestNewStoreRejectsBadServiceAccount(t *testing.T) {
	cfg := config.Default()
	cfg.StorageProvider = "gcs"
	cfg.GCSBucket = "b"
	cfg.GoogleProjectID = "p"
	cfg.GoogleServiceAccountJSON = `{"type":"user"}`

	if _, err := NewStore(context.Background(), cfg); err == nil {
		t.Error("expected error for non service_account JSON")
	}
}

func TestValidateServiceAccountJSON(t *testing.T) {
	tests := []struct {
		name    string
		json    string
		wantErr bool
	}{
		{"valid", `{"type":"service_account","project_id":"p"}`, false},
		{"wrong type", `{"type":"user"}`, true},
		{"malformed", `{`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateServiceAccountJSON(tt.json)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateServiceAccountJSON() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
