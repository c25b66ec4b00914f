// Package rag is the service facade used by the HTTP server and the CLI. It
// owns the collaborators and exposes the document lifecycle and retrieval
// operations.
package rag

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/xhad/jurisrag/internal/logging"
	"github.com/xhad/jurisrag/internal/metrics"
	"github.com/xhad/jurisrag/internal/models"
	"github.com/xhad/jurisrag/internal/types"
	"github.com/xhad/jurisrag/pkg/config"
	"github.com/xhad/jurisrag/pkg/pipeline"
	"github.com/xhad/jurisrag/pkg/processor"
	"github.com/xhad/jurisrag/pkg/query"
	"github.com/xhad/jurisrag/pkg/userdocs"
)

// Deps are the collaborators of a Service. Only Registry is required.
type Deps struct {
	Registry   types.Registry
	Blobs      types.Handle[types.BlobStore]
	Embedder   types.Handle[types.Embedder]
	Index      types.Handle[types.VectorIndex]
	Summarizer types.Handle[types.Summarizer]
	Processor  *processor.Processor
}

type Service struct {
	config     *config.Config
	deps       Deps
	vectorizer *pipeline.Vectorizer
	cleaner    *pipeline.Cleaner
	engine     *query.Engine
	userDocs   *userdocs.Service
	logger     *zap.Logger
	metrics    *metrics.Metrics
	closers    []func() error
}

// New wires a Service from ready collaborators. cfg supplies the tuning
// knobs; zero values fall back to the component defaults.
func New(deps Deps, cfg *config.Config, logger *zap.Logger, m *metrics.Metrics) *Service {
	if cfg == nil {
		cfg = &config.Config{}
	}
	logger = logging.OrNop(logger)

	vectorizer := pipeline.NewVectorizer(pipeline.Deps{
		Registry:  deps.Registry,
		Blobs:     deps.Blobs,
		Embedder:  deps.Embedder,
		Index:     deps.Index,
		Processor: deps.Processor,
	}, pipeline.VectorizerConfig{
		BatchSize: cfg.Embedding.BatchSize,
		RateLimit: cfg.Embedding.RateLimit,
		Logger:    logger,
		Metrics:   m,
	})

	engine := query.NewEngine(query.Deps{
		Registry:   deps.Registry,
		Vectorizer: vectorizer,
		Embedder:   deps.Embedder,
		Index:      deps.Index,
		Summarizer: deps.Summarizer,
	}, query.Config{
		DefaultLimit:         cfg.Query.DefaultLimit,
		MaxLimit:             cfg.Query.MaxLimit,
		Overfetch:            cfg.Query.Overfetch,
		MinScore:             cfg.Query.MinScore,
		CompressionMaxTokens: cfg.Compression.MaxTokens,
		Logger:               logger,
		Metrics:              m,
	})

	return &Service{
		config:     cfg,
		deps:       deps,
		vectorizer: vectorizer,
		cleaner:    pipeline.NewCleaner(deps.Registry, vectorizer, pipeline.CleanerConfig{Logger: logger, Metrics: m}),
		engine:     engine,
		userDocs:   userdocs.New(deps.Embedder, deps.Index, userdocs.Config{Logger: logger}),
		logger:     logger.Named("rag"),
		metrics:    m,
	}
}

// Register upserts a document record and reports whether it was new. With
// reindex an indexed document first loses its vectors, so the next query
// or ForceVectorize rebuilds them from the current blob. Changing a field
// queries filter on implies reindex, since the stored vectors carry the
// old values.
func (s *Service) Register(ctx context.Context, doc models.Document, reindex bool) (bool, error) {
	doc.Normalize()
	if err := doc.Validate(); err != nil {
		return false, err
	}

	existing, err := s.deps.Registry.Get(ctx, doc.ID)
	created := errors.Is(err, models.ErrNotFound)
	if err != nil && !created {
		return false, err
	}

	if !reindex && !created && existing.VectorStatus == models.StatusIndexed && partitionChanged(existing, doc) {
		s.logger.Info("partition metadata changed, reindexing", zap.String("file_id", doc.ID))
		reindex = true
	}
	if reindex && !created && existing.VectorStatus == models.StatusIndexed {
		if _, err := s.vectorizer.RemoveVectors(ctx, existing); err != nil {
			return false, fmt.Errorf("removing vectors before reindex: %w", err)
		}
	}

	if err := s.deps.Registry.Register(ctx, doc, reindex); err != nil {
		return false, err
	}
	s.logger.Info("registered document",
		zap.String("file_id", doc.ID),
		zap.String("domain", string(doc.Domain)),
		zap.String("sector", string(doc.Sector)),
		zap.Bool("created", created),
		zap.Bool("reindex", reindex))
	return created, nil
}

// partitionChanged reports whether the filterable metadata of an update
// differs from what the indexed vectors were written with.
func partitionChanged(old, updated models.Document) bool {
	if old.Domain != updated.Domain || old.Sector != updated.Sector ||
		old.Region != updated.Region || old.DocumentType != updated.DocumentType {
		return true
	}
	a, b := slices.Clone(old.Jurisdictions), slices.Clone(updated.Jurisdictions)
	slices.Sort(a)
	slices.Sort(b)
	return !slices.Equal(a, b)
}

func (s *Service) GetFile(ctx context.Context, id string) (models.Document, error) {
	id, err := models.CanonicalID(id)
	if err != nil {
		return models.Document{}, err
	}
	return s.deps.Registry.Get(ctx, id)
}

func (s *Service) ListFiles(ctx context.Context, filter models.FileFilter) ([]models.Document, error) {
	return s.deps.Registry.List(ctx, filter)
}

// DeleteFile removes a document record and, when it is indexed, its
// vectors. Blobs are left to their owner.
func (s *Service) DeleteFile(ctx context.Context, id string) (models.DeleteResult, error) {
	doc, err := s.GetFile(ctx, id)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.DeleteResult{Message: "File not found"}, err
		}
		return models.DeleteResult{}, err
	}

	if doc.VectorStatus == models.StatusIndexed {
		if _, err := s.vectorizer.RemoveVectors(ctx, doc); err != nil {
			return models.DeleteResult{}, err
		}
	}
	if err := s.deps.Registry.Delete(ctx, doc.ID); err != nil {
		return models.DeleteResult{}, err
	}

	s.logger.Info("deleted document", zap.String("file_id", doc.ID), zap.Int("chunks", doc.ChunkCount))
	return models.DeleteResult{Success: true, Message: "File deleted", VectorsDeleted: doc.ChunkCount}, nil
}

// ForceVectorize indexes one document now, whatever its status, and
// returns the number of chunks written.
func (s *Service) ForceVectorize(ctx context.Context, id string) (int, error) {
	doc, err := s.GetFile(ctx, id)
	if err != nil {
		return 0, err
	}
	stats, err := s.vectorizer.Vectorize(ctx, doc)
	if err != nil {
		return 0, err
	}
	return stats.Embedded, nil
}

func (s *Service) Query(ctx context.Context, params models.QueryParams) models.QueryResult {
	return s.engine.Query(ctx, params)
}

func (s *Service) CompressedQuery(ctx context.Context, params models.QueryParams) models.CompressedResult {
	return s.engine.CompressedQuery(ctx, params)
}

func (s *Service) CompressionHealth() models.CompressionHealth {
	return s.engine.CompressionHealth()
}

// Cleanup expires indexed documents not accessed for maxAgeDays.
func (s *Service) Cleanup(ctx context.Context, maxAgeDays int) (models.CleanupResult, error) {
	return s.cleaner.Run(ctx, maxAgeDays)
}

// StartCleanup runs Cleanup on the configured interval until ctx ends.
func (s *Service) StartCleanup(ctx context.Context) <-chan struct{} {
	interval := s.config.Cleanup.Interval.Duration()
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	days := s.config.Cleanup.MaxAgeDays
	if days <= 0 {
		days = 30
	}
	return s.cleaner.Start(ctx, interval, days)
}

func (s *Service) UserDocs() *userdocs.Service { return s.userDocs }

// Close releases every collaborator Open created, in reverse order.
func (s *Service) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
