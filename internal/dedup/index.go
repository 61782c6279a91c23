package dedup

import (
	"sync"

	"github.com/finbase/docingest/internal/models"
)

// Index is the set of dedup keys known to the system. It is seeded from the
// backend's document snapshot at the start of each batch and appended to as
// items are accepted; deletions on the backend are picked up by the next
// reseed. All mutation during a running batch goes through the batch
// coordinator; the index itself is safe for concurrent use.
type Index struct {
	mu   sync.RWMutex
	keys map[string]struct{}
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{keys: make(map[string]struct{})}
}

// Seed rebuilds the index from the backend's existing-documents snapshot,
// discarding any previous contents. Documents without a usable key are
// ignored.
func (i *Index) Seed(docs []models.Document) {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.keys = make(map[string]struct{}, len(docs))
	for _, doc := range docs {
		if key, ok := Key(doc.OriginalName, doc.FileSize); ok {
			i.keys[key] = struct{}{}
		}
	}
}

// Contains reports whether the key is present.
func (i *Index) Contains(key string) bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	_, ok := i.keys[key]
	return ok
}

// Add records a key.
func (i *Index) Add(key string) {
	if key == "" {
		return
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	i.keys[key] = struct{}{}
}

// Len returns the number of keys in the index.
func (i *Index) Len() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.keys)
}
