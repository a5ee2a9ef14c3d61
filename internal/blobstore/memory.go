package blobstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/celerix-dev/celerix-expenses/pkg/blob"
)

type memObject struct {
	body        []byte
	contentType string
	uploadedAt  time.Time
}

// MemStore is a thread-safe in-memory blob store.
// It backs tests and the "memory" backend for local development.
type MemStore struct {
	mu      sync.RWMutex
	objects map[string]memObject
	baseURL string
	now     func() time.Time
}

// NewMemStore initializes an empty store whose blob URLs are rooted at baseURL.
func NewMemStore(baseURL string) *MemStore {
	return &MemStore{
		objects: make(map[string]memObject),
		baseURL: baseURL,
		now:     time.Now,
	}
}

// --- Interface Implementation ---

func (m *MemStore) Put(ctx context.Context, key string, body []byte, contentType string) (blob.Blob, error) {
	if err := validateKey(key); err != nil {
		return blob.Blob{}, err
	}
	if err := ctx.Err(); err != nil {
		return blob.Blob{}, err
	}

	// Copy so callers can reuse their buffer
	stored := make([]byte, len(body))
	copy(stored, body)

	m.mu.Lock()
	obj := memObject{body: stored, contentType: contentType, uploadedAt: m.now().UTC()}
	m.objects[key] = obj
	m.mu.Unlock()

	return m.describe(key, obj), nil
}

func (m *MemStore) List(ctx context.Context, prefix string) ([]blob.Blob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	list := make([]blob.Blob, 0, len(m.objects))
	for key, obj := range m.objects {
		if strings.HasPrefix(key, prefix) {
			list = append(list, m.describe(key, obj))
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Pathname < list[j].Pathname })
	return list, nil
}

func (m *MemStore) Fetch(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	obj, ok := m.objects[key]
	if !ok {
		return nil, blob.ErrNotFound
	}
	// Return a copy to prevent external mutation of the stored bytes
	out := make([]byte, len(obj.body))
	copy(out, obj.body)
	return out, nil
}

func (m *MemStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.objects, key)
	m.mu.Unlock()
	return nil
}

// Len returns the number of stored objects.
func (m *MemStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}

func (m *MemStore) describe(key string, obj memObject) blob.Blob {
	u := publicURL(m.baseURL, key)
	return blob.Blob{
		Pathname:    key,
		URL:         u,
		DownloadURL: u,
		ContentType: obj.contentType,
		Size:        int64(len(obj.body)),
		UploadedAt:  obj.uploadedAt,
	}
}
