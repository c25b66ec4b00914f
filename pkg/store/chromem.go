package store

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/philippgille/chromem-go"
	"github.com/xhad/jurisrag/internal/models"
)

type ChromemConfig struct {
	// Path persists the index to disk; empty keeps it in memory.
	Path       string
	Collection string
}

// ChromemStore is an embedded vector index for local runs and tests.
// chromem only matches exact string metadata, so disjunctions are queried
// one alternative at a time and merged.
type ChromemStore struct {
	db         *chromem.DB
	collection *chromem.Collection
}

func NewChromemStore(config ChromemConfig) (*ChromemStore, error) {
	if config.Collection == "" {
		config.Collection = "rag_vectors"
	}

	var (
		db  *chromem.DB
		err error
	)
	if config.Path == "" {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(config.Path, false)
		if err != nil {
			return nil, fmt.Errorf("opening chromem db at %s: %w", config.Path, err)
		}
	}

	collection, err := db.GetOrCreateCollection(config.Collection, nil, precomputedOnly)
	if err != nil {
		return nil, fmt.Errorf("getting/creating collection %s: %w", config.Collection, err)
	}

	return &ChromemStore{db: db, collection: collection}, nil
}

func precomputedOnly(context.Context, string) ([]float32, error) {
	return nil, errors.New("chromem store requires precomputed embeddings")
}

func (s *ChromemStore) Upsert(ctx context.Context, records []models.VectorRecord) error {
	if len(records) == 0 {
		return nil
	}

	docs := make([]chromem.Document, len(records))
	for i, rec := range records {
		docs[i] = chromem.Document{
			ID:        rec.ID,
			Content:   rec.Payload,
			Metadata:  toStringMetadata(rec.Metadata),
			Embedding: normalize(rec.Vector),
		}
	}

	// Concurrency of 1 since embeddings are already present
	if err := s.collection.AddDocuments(ctx, docs, 1); err != nil {
		return fmt.Errorf("adding documents: %w", err)
	}
	return nil
}

func (s *ChromemStore) Query(ctx context.Context, vector []float32, topK int, filter Filter) ([]models.Match, error) {
	if topK <= 0 {
		return nil, nil
	}
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	// chromem requires nResults <= document count
	count := s.collection.Count()
	if count == 0 {
		return nil, nil
	}
	n := min(topK, count)
	query := normalize(vector)

	best := make(map[string]models.Match)
	for _, where := range expandWhere(filter) {
		results, err := s.collection.QueryEmbedding(ctx, query, n, where, nil)
		if err != nil {
			return nil, fmt.Errorf("querying chromem: %w", err)
		}
		for _, r := range results {
			if prev, ok := best[r.ID]; ok && prev.Score >= r.Similarity {
				continue
			}
			best[r.ID] = models.Match{
				ID:       r.ID,
				Score:    r.Similarity,
				Metadata: fromStringMetadata(r.Metadata),
				Payload:  r.Content,
			}
		}
	}

	matches := make([]models.Match, 0, len(best))
	for _, m := range best {
		matches = append(matches, m)
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

func (s *ChromemStore) Delete(ctx context.Context, ids []string) error {
	existing := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, err := s.collection.GetByID(ctx, id); err == nil {
			existing = append(existing, id)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	if err := s.collection.Delete(ctx, nil, nil, existing...); err != nil {
		return fmt.Errorf("deleting documents: %w", err)
	}
	return nil
}

func (s *ChromemStore) DeleteByFilter(ctx context.Context, filter Filter) error {
	if filter.Empty() {
		return ErrEmptyFilter
	}
	if err := filter.Validate(); err != nil {
		return err
	}
	for _, where := range expandWhere(filter) {
		if err := s.collection.Delete(ctx, where, nil); err != nil {
			return fmt.Errorf("deleting documents by filter: %w", err)
		}
	}
	return nil
}

func (s *ChromemStore) Count() int {
	return s.collection.Count()
}

// expandWhere turns a filter into the equivalent disjunction of exact-match
// maps, one per combination of alternatives.
func expandWhere(filter Filter) []map[string]string {
	out := []map[string]string{{}}
	for _, c := range filter.Must {
		next := make([]map[string]string, 0, len(out)*len(c.Values))
		for _, base := range out {
			for _, v := range c.Values {
				m := make(map[string]string, len(base)+1)
				for k, bv := range base {
					m[k] = bv
				}
				m[c.Field] = v
				next = append(next, m)
			}
		}
		out = next
	}
	if len(out) == 1 && len(out[0]) == 0 {
		return []map[string]string{nil}
	}
	return out
}

func toStringMetadata(md models.Metadata) map[string]string {
	out := make(map[string]string, len(md))
	for k := range md {
		out[k] = md.String(k)
	}
	return out
}

func fromStringMetadata(md map[string]string) models.Metadata {
	out := make(models.Metadata, len(md))
	for k, v := range md {
		out[k] = v
	}
	return out
}

func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := float32(math.Sqrt(sum))
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = x / norm
	}
	return out
}
