package testutil

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/xhad/jurisrag/internal/types"
	"github.com/xhad/jurisrag/pkg/blob"
)

// MemoryBlobs serves documents from a map and counts downloads.
type MemoryBlobs struct {
	mu    sync.Mutex
	files map[string][]byte

	Downloads atomic.Int64
}

var _ types.BlobStore = (*MemoryBlobs)(nil)

func NewMemoryBlobs() *MemoryBlobs {
	return &MemoryBlobs{files: make(map[string][]byte)}
}

func (m *MemoryBlobs) Put(path string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[path] = data
}

func (m *MemoryBlobs) Download(_ context.Context, path string) ([]byte, error) {
	m.Downloads.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s not found", blob.ErrStorage, path)
	}
	return data, nil
}
