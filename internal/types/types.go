package types

import (
	"context"
	"time"

	"github.com/xhad/jurisrag/internal/models"
	"github.com/xhad/jurisrag/pkg/store"
)

// Core interfaces

// Registry owns document records and their vector status.
type Registry interface {
	// Register upserts a record. Without reindex an existing row keeps its
	// vector status and chunk count.
	Register(ctx context.Context, doc models.Document, reindex bool) error
	Get(ctx context.Context, id string) (models.Document, error)
	List(ctx context.Context, filter models.FileFilter) ([]models.Document, error)
	Delete(ctx context.Context, id string) error
	SetVectorStatus(ctx context.Context, id string, status models.VectorStatus, chunkCount int) error
	Touch(ctx context.Context, ids ...string) error
	// ListPending returns pending or expired documents. A specific region
	// also admits global documents.
	ListPending(ctx context.Context, domain models.Domain, sector models.Sector, region models.Region) ([]models.Document, error)
	// ListStale returns indexed documents last accessed before cutoff, oldest
	// first.
	ListStale(ctx context.Context, cutoff time.Time) ([]models.Document, error)
	Close() error
}

type BlobStore interface {
	Download(ctx context.Context, path string) ([]byte, error)
}

type EmbedRole string

const (
	RoleDocument EmbedRole = "document"
	RoleQuery    EmbedRole = "query"
)

type Embedder interface {
	Embed(ctx context.Context, text string, role EmbedRole) ([]float32, error)
}

// VectorIndex is an approximate nearest-neighbour store of records keyed by
// id. Deleting unknown ids is not an error.
type VectorIndex interface {
	Upsert(ctx context.Context, records []models.VectorRecord) error
	Query(ctx context.Context, vector []float32, topK int, filter store.Filter) ([]models.Match, error)
	Delete(ctx context.Context, ids []string) error
	DeleteByFilter(ctx context.Context, filter store.Filter) error
}

type Summarizer interface {
	Summarize(ctx context.Context, docs []string, query string, maxTokens int) (string, error)
	Model() string
}
