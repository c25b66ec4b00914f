package testutil

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/xhad/jurisrag/internal/models"
	"github.com/xhad/jurisrag/internal/types"
	"github.com/xhad/jurisrag/pkg/store"
)

// MemoryIndex is a brute-force types.VectorIndex that records its calls.
type MemoryIndex struct {
	mu      sync.Mutex
	records map[string]models.VectorRecord

	// Scores overrides the similarity reported for a vector id.
	Scores map[string]float32

	UpsertErr error
	QueryErr  error
	DeleteErr error

	Upserts       int
	Queries       []QueryCall
	Deleted       [][]string
	FilterDeletes []store.Filter
}

type QueryCall struct {
	TopK   int
	Filter store.Filter
}

var _ types.VectorIndex = (*MemoryIndex)(nil)

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{records: make(map[string]models.VectorRecord), Scores: make(map[string]float32)}
}

func (m *MemoryIndex) Upsert(_ context.Context, records []models.VectorRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.UpsertErr != nil {
		return m.UpsertErr
	}
	m.Upserts++
	for _, r := range records {
		m.records[r.ID] = r
	}
	return nil
}

func (m *MemoryIndex) Query(_ context.Context, vector []float32, topK int, filter store.Filter) ([]models.Match, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Queries = append(m.Queries, QueryCall{TopK: topK, Filter: filter})
	if m.QueryErr != nil {
		return nil, m.QueryErr
	}

	var matches []models.Match
	for _, r := range m.records {
		if !filter.Matches(r.Metadata) {
			continue
		}
		score, ok := m.Scores[r.ID]
		if !ok {
			score = cosine(vector, r.Vector)
		}
		matches = append(matches, models.Match{ID: r.ID, Score: score, Metadata: r.Metadata, Payload: r.Payload})
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ID < matches[j].ID
	})
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func (m *MemoryIndex) Delete(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	m.Deleted = append(m.Deleted, append([]string(nil), ids...))
	for _, id := range ids {
		delete(m.records, id)
	}
	return nil
}

func (m *MemoryIndex) DeleteByFilter(_ context.Context, filter store.Filter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	if filter.Empty() {
		return store.ErrEmptyFilter
	}
	m.FilterDeletes = append(m.FilterDeletes, filter)
	for id, r := range m.records {
		if filter.Matches(r.Metadata) {
			delete(m.records, id)
		}
	}
	return nil
}

// Put stores records directly, bypassing error injection and counters.
func (m *MemoryIndex) Put(records ...models.VectorRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		m.records[r.ID] = r
	}
}

func (m *MemoryIndex) Get(id string) (models.VectorRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	return r, ok
}

func (m *MemoryIndex) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// IDs returns the stored ids in sorted order.
func (m *MemoryIndex) IDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.records))
	for id := range m.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func cosine(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
