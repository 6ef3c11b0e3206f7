// Package upload pushes finished archives to the remote store and verifies
// they arrived intact before declaring success.
package upload

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strconv"
	"time"

	"github.com/storeops/tenant-backup/internal/archive"
	"github.com/storeops/tenant-backup/internal/retry"
	"github.com/storeops/tenant-backup/internal/storage"
)

// Result describes one completed upload.
type Result struct {
	RemotePath string
	Size       int64
	Verified   bool
	Attempts   int
}

// Manager uploads archives with retry and post-upload verification.
type Manager struct {
	store  storage.Store
	policy retry.Policy
	logger *slog.Logger
	now    func() time.Time
}

// NewManager creates an upload manager. A policy without a base delay falls
// back to the package default inside retry.Do.
func NewManager(store storage.Store, policy retry.Policy, logger *slog.Logger) *Manager {
	return &Manager{
		store:  store,
		policy: policy,
		logger: logger.With("component", "upload"),
		now:    time.Now,
	}
}

// Upload serializes the archive, writes it to the remote store and confirms
// the stored object matches what was sent. A verification mismatch is
// treated like a failed upload and retried as a whole.
//
// The object name is stamped at call time, not from the archive's build
// time, so repeating an upload writes a new object instead of overwriting
// the prior one. Verification retries within one call reuse the same key.
func (m *Manager) Upload(ctx context.Context, a *archive.Archive) (*Result, error) {
	payload, err := a.Payload()
	if err != nil {
		return nil, fmt.Errorf("serialize archive: %w", err)
	}

	name := a.Filename()
	if a.Kind != archive.KindFullDB {
		name = archive.Name(m.now())
	}
	key := path.Join(a.RemoteDir(), name)
	metadata := map[string]string{
		"kind":       string(a.Kind),
		"created-at": a.CreatedAt.UTC().Format(time.RFC3339),
		"size-bytes": strconv.Itoa(len(payload)),
		"sha256":     archive.SHA256(payload),
	}
	if a.TenantID != "" {
		metadata["tenant-id"] = a.TenantID
	}

	log := m.logger.With("key", key, "size_bytes", len(payload))
	log.Info("uploading archive")

	attempts := 0
	err = retry.Do(ctx, m.policy, storage.IsTransient, func(ctx context.Context) error {
		attempts++
		if err := m.store.Put(ctx, key, payload, metadata); err != nil {
			log.Warn("upload attempt failed", "attempt", attempts, "error", err)
			return err
		}
		if err := m.verify(ctx, key, int64(len(payload)), metadata["sha256"]); err != nil {
			log.Warn("verification failed, restarting upload", "attempt", attempts, "error", err)
			return err
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", key, err)
	}

	log.Info("upload verified", "attempts", attempts)
	return &Result{
		RemotePath: key,
		Size:       int64(len(payload)),
		Verified:   true,
		Attempts:   attempts,
	}, nil
}

// verify confirms the stored object exists, has the expected size and,
// when the provider echoes the attached sha256 metadata back, the expected
// checksum. A missing object after a successful Put means the write was
// lost, which is transient from the caller's perspective, so it is reported
// as a plain error rather than storage.ErrNotFound.
func (m *Manager) verify(ctx context.Context, key string, wantSize int64, wantSum string) error {
	info, err := m.store.Stat(ctx, key)
	if err != nil {
		return fmt.Errorf("verify %s: %v", key, err)
	}
	if info.Size != wantSize {
		return fmt.Errorf("verify %s: remote size %d, expected %d", key, info.Size, wantSize)
	}
	if sum := info.Metadata["sha256"]; sum != "" && sum != wantSum {
		return fmt.Errorf("verify %s: remote checksum %s, expected %s", key, sum, wantSum)
	}
	return nil
}
