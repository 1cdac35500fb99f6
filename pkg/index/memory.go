package index

import (
	"context"
	"sort"
	"strconv"
	"sync"

	"github.com/Sternrassler/doctor-search-proxy/pkg/types"
)

const memoryBackend = "memory"

// MemoryIndex is an in-process index for local development and tests.
type MemoryIndex struct {
	mu   sync.RWMutex
	docs map[string]types.Record
	size int
}

// NewMemoryIndex creates an empty in-memory index.
func NewMemoryIndex(size int) *MemoryIndex {
	if size <= 0 {
		size = DefaultSearchSize
	}
	return &MemoryIndex{
		docs: make(map[string]types.Record),
		size: size,
	}
}

// Name implements Index.
func (m *MemoryIndex) Name() string {
	return memoryBackend
}

// Ping implements Index.
func (m *MemoryIndex) Ping(context.Context) error {
	return nil
}

// BulkWrite implements Writer.
func (m *MemoryIndex) BulkWrite(_ context.Context, docs []Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, doc := range docs {
		m.docs[doc.ID] = doc.Record
	}
	DocumentsWritten.WithLabelValues(memoryBackend).Add(float64(len(docs)))
	return nil
}

// Search implements Reader.
func (m *MemoryIndex) Search(_ context.Context, q Query) ([]types.Record, error) {
	if q.Empty() {
		return nil, nil
	}

	m.mu.RLock()
	ids := make([]string, 0, len(m.docs))
	for id, record := range m.docs {
		if q.Matches(record) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool {
		a, _ := strconv.Atoi(ids[i])
		b, _ := strconv.Atoi(ids[j])
		return a < b
	})

	records := make([]types.Record, 0, len(ids))
	for _, id := range ids {
		if len(records) >= m.size {
			break
		}
		records = append(records, m.docs[id])
	}
	m.mu.RUnlock()

	observeSearch(memoryBackend, len(records))
	return records, nil
}

// Len returns the number of stored documents.
func (m *MemoryIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs)
}
