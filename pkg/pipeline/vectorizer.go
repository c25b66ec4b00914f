// Package pipeline turns registered documents into indexed vectors and
// expires the ones nobody queries.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xhad/jurisrag/internal/metrics"
	"github.com/xhad/jurisrag/internal/models"
	"github.com/xhad/jurisrag/internal/types"
	"github.com/xhad/jurisrag/pkg/processor"
	"github.com/xhad/jurisrag/pkg/store"
)

var ErrNoVectors = errors.New("no vectors created")

type Deps struct {
	Registry  types.Registry
	Blobs     types.Handle[types.BlobStore]
	Embedder  types.Handle[types.Embedder]
	Index     types.Handle[types.VectorIndex]
	Processor *processor.Processor
}

type VectorizerConfig struct {
	// BatchSize is the number of chunks embedded per pacing step.
	BatchSize int
	// RateLimit caps batches per second. Zero is unlimited.
	RateLimit float64
	Logger    *zap.Logger
	Metrics   *metrics.Metrics
}

// Stats describes one vectorization.
type Stats struct {
	Chunks   int `json:"chunks"`
	Embedded int `json:"embedded"`
	Dropped  int `json:"dropped"`
}

type Vectorizer struct {
	deps    Deps
	config  VectorizerConfig
	limiter *rate.Limiter
	logger  *zap.Logger
}

func NewVectorizer(deps Deps, config VectorizerConfig) *Vectorizer {
	if config.BatchSize <= 0 {
		config.BatchSize = 10
	}
	if deps.Processor == nil {
		deps.Processor = processor.New()
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if config.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.RateLimit), 1)
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Vectorizer{
		deps:    deps,
		config:  config,
		limiter: limiter,
		logger:  logger.Named("vectorizer"),
	}
}

// EmbedderReady reports whether documents can be embedded at all.
func (v *Vectorizer) EmbedderReady() (bool, string) {
	return v.deps.Embedder.Ready(), v.deps.Embedder.Reason()
}

// Vectorize fetches, chunks and embeds doc, writes its vectors in one batch
// and marks it indexed. The registry is only updated after the upsert
// succeeds, so a failure leaves the document in its previous state.
func (v *Vectorizer) Vectorize(ctx context.Context, doc models.Document) (Stats, error) {
	stats, err := v.vectorize(ctx, doc)
	if err != nil {
		v.config.Metrics.ObserveVectorization("failure", 0, stats.Dropped)
		return stats, err
	}
	v.config.Metrics.ObserveVectorization("success", stats.Embedded, stats.Dropped)
	return stats, nil
}

func (v *Vectorizer) vectorize(ctx context.Context, doc models.Document) (Stats, error) {
	var stats Stats
	log := v.logger.With(zap.String("file_id", doc.ID), zap.String("filename", doc.Filename))

	index, err := v.deps.Index.Get()
	if err != nil {
		return stats, fmt.Errorf("vector index: %w", err)
	}
	embedder, err := v.deps.Embedder.Get()
	if err != nil {
		return stats, fmt.Errorf("embedder: %w", err)
	}
	blobs, err := v.deps.Blobs.Get()
	if err != nil {
		return stats, fmt.Errorf("storage: %w", err)
	}

	data, err := blobs.Download(ctx, doc.StoragePath)
	if err != nil {
		return stats, fmt.Errorf("downloading %s: %w", doc.StoragePath, err)
	}

	chunks, err := v.deps.Processor.Process(data, doc.ContentType)
	if err != nil {
		return stats, err
	}
	stats.Chunks = len(chunks)
	log.Info("vectorizing document", zap.Int("chunks", len(chunks)))

	records := make([]models.VectorRecord, 0, len(chunks))
	var dropped []int
	for start := 0; start < len(chunks); start += v.config.BatchSize {
		if err := v.limiter.Wait(ctx); err != nil {
			return stats, err
		}
		end := min(start+v.config.BatchSize, len(chunks))
		for i := start; i < end; i++ {
			vector, err := embedder.Embed(ctx, chunks[i], types.RoleDocument)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return stats, ctxErr
				}
				log.Warn("failed to embed chunk", zap.Int("chunk_index", i), zap.Error(err))
				dropped = append(dropped, i)
				continue
			}
			records = append(records, models.VectorRecord{
				ID:       store.ChunkID(doc.ID, i),
				Vector:   vector,
				Metadata: chunkMetadata(doc, i),
				Payload:  chunks[i],
			})
		}
	}
	stats.Dropped = len(dropped)

	if len(records) == 0 {
		return stats, fmt.Errorf("%w: all %d embeddings failed", ErrNoVectors, len(chunks))
	}

	if err := index.Upsert(ctx, records); err != nil {
		return stats, fmt.Errorf("failed to store vectors: %w", err)
	}

	// A document indexed before may own ids this run did not rewrite.
	if stale := staleIDs(doc, len(chunks), dropped); len(stale) > 0 {
		if err := index.Delete(ctx, stale); err != nil {
			log.Warn("failed to remove stale vectors", zap.Int("count", len(stale)), zap.Error(err))
		}
	}

	if err := v.deps.Registry.SetVectorStatus(ctx, doc.ID, models.StatusIndexed, len(records)); err != nil {
		return stats, fmt.Errorf("updating registry: %w", err)
	}
	stats.Embedded = len(records)

	log.Info("document vectorized", zap.Int("vectors", len(records)), zap.Int("dropped", len(dropped)))
	return stats, nil
}

func chunkMetadata(doc models.Document, i int) models.Metadata {
	return models.Metadata{
		models.MetaFileID:        doc.ID,
		models.MetaFilename:      doc.Filename,
		models.MetaChunkIndex:    i,
		models.MetaDomain:        string(doc.Domain),
		models.MetaSector:        string(doc.Sector),
		models.MetaRegion:        string(doc.Region),
		models.MetaJurisdictions: models.JoinJurisdictions(doc.Jurisdictions),
		models.MetaDocumentType:  string(doc.DocumentType),
		models.MetaType:          models.RecordTypeCorpus,
	}
}

func staleIDs(doc models.Document, chunks int, dropped []int) []string {
	if doc.VectorStatus != models.StatusIndexed {
		return nil
	}
	ids := make([]string, 0, len(dropped))
	for _, i := range dropped {
		ids = append(ids, store.ChunkID(doc.ID, i))
	}
	return append(ids, store.ChunkIDRange(doc.ID, chunks, doc.ChunkCount)...)
}

// RemoveVectors deletes every vector of doc: the ids below its chunk count,
// then anything else tagged with its file id. It returns the chunk count.
func (v *Vectorizer) RemoveVectors(ctx context.Context, doc models.Document) (int, error) {
	index, err := v.deps.Index.Get()
	if err != nil {
		return 0, fmt.Errorf("vector index: %w", err)
	}
	if doc.ChunkCount > 0 {
		if err := index.Delete(ctx, store.ChunkIDs(doc.ID, doc.ChunkCount)); err != nil {
			return 0, fmt.Errorf("deleting vectors of %s: %w", doc.ID, err)
		}
	}
	sweep := store.NewFilter(
		store.Eq(models.MetaFileID, doc.ID),
		store.Eq(models.MetaType, models.RecordTypeCorpus),
	)
	if err := index.DeleteByFilter(ctx, sweep); err != nil {
		return 0, fmt.Errorf("sweeping vectors of %s: %w", doc.ID, err)
	}
	v.logger.Info("removed vectors", zap.String("file_id", doc.ID), zap.Int("count", doc.ChunkCount))
	return doc.ChunkCount, nil
}

// LoadPending vectorizes every pending or expired document of the
// partition, one at a time. A failed document is recorded and skipped.
func (v *Vectorizer) LoadPending(ctx context.Context, domain models.Domain, sector models.Sector, region models.Region) (int, []models.Failure, error) {
	pending, err := v.deps.Registry.ListPending(ctx, domain, sector, region)
	if err != nil {
		return 0, nil, fmt.Errorf("listing pending documents: %w", err)
	}

	loaded := 0
	var failures []models.Failure
	for _, doc := range pending {
		if err := ctx.Err(); err != nil {
			return loaded, failures, err
		}
		if _, err := v.Vectorize(ctx, doc); err != nil {
			v.logger.Error("failed to vectorize document", zap.String("file_id", doc.ID), zap.Error(err))
			failures = append(failures, models.Failure{ID: doc.ID, Error: err.Error()})
			continue
		}
		loaded++
	}
	return loaded, failures, nil
}
