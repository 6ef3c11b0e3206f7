package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/storeops/tenant-backup/internal/archive"
)

// MemoryStore is an in-memory Store used by tests and dry-run plumbing.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]memObject

	// FailPuts makes the next n Put calls fail with a transient error.
	FailPuts int
	// CorruptStats makes Stat report a wrong size for the next n calls.
	CorruptStats int
	// TamperChecksums makes Stat echo a wrong sha256 metadata value for
	// the next n calls.
	TamperChecksums int
	putCount        int
}

type memObject struct {
	data     []byte
	modified time.Time
	metadata map[string]string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]memObject)}
}

// Put implements Store.Put.
func (m *MemoryStore) Put(ctx context.Context, key string, data []byte, metadata map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.putCount++
	if m.FailPuts > 0 {
		m.FailPuts--
		return fmt.Errorf("memory store: simulated put failure for %s", key)
	}

	cp := make([]byte, len(data))
	copy(cp, data)
	m.objects[key] = memObject{data: cp, modified: time.Now(), metadata: metadata}
	return nil
}

// Get implements Store.Get.
func (m *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	obj, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	cp := make([]byte, len(obj.data))
	copy(cp, obj.data)
	return cp, nil
}

// Stat implements Store.Stat.
func (m *MemoryStore) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	obj, ok := m.objects[key]
	if !ok {
		return ObjectInfo{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	size := int64(len(obj.data))
	checksum := archive.SHA256(obj.data)
	if m.CorruptStats > 0 {
		m.CorruptStats--
		size++
		checksum = ""
	}
	metadata := obj.metadata
	if m.TamperChecksums > 0 {
		m.TamperChecksums--
		metadata = make(map[string]string, len(obj.metadata)+1)
		for k, v := range obj.metadata {
			metadata[k] = v
		}
		metadata["sha256"] = "0000000000000000"
	}
	return ObjectInfo{
		Key:          key,
		Size:         size,
		LastModified: obj.modified,
		Checksum:     checksum,
		Metadata:     metadata,
	}, nil
}

// List implements Store.List.
func (m *MemoryStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []ObjectInfo
	for key, obj := range m.objects {
		if prefix != "" && !strings.HasPrefix(key, prefix) {
			continue
		}
		out = append(out, ObjectInfo{
			Key:          key,
			Size:         int64(len(obj.data)),
			LastModified: obj.modified,
			Metadata:     obj.metadata,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Delete implements Store.Delete.
func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.objects[key]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	delete(m.objects, key)
	return nil
}

// Len returns the number of stored objects.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}

// PutCount returns how many Put calls were issued, including failed ones.
func (m *MemoryStore) PutCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.putCount
}
