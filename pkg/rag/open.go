package rag

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/xhad/jurisrag/internal/logging"
	"github.com/xhad/jurisrag/internal/metrics"
	"github.com/xhad/jurisrag/internal/types"
	"github.com/xhad/jurisrag/pkg/blob"
	"github.com/xhad/jurisrag/pkg/config"
	"github.com/xhad/jurisrag/pkg/llm"
	"github.com/xhad/jurisrag/pkg/processor"
	"github.com/xhad/jurisrag/pkg/registry"
	"github.com/xhad/jurisrag/pkg/store"
)

// Open builds a Service from configuration. Only the registry is required:
// any other collaborator that cannot be built is left Unavailable with a
// warning, and the operations needing it report so at call time. A nil
// registerer disables metrics.
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger, reg prometheus.Registerer) (*Service, error) {
	logger = logging.OrNop(logger)
	var m *metrics.Metrics
	if reg != nil {
		m = metrics.New(reg)
	}

	b := &builder{cfg: cfg, logger: logger.Named("open")}
	svc, err := b.build(ctx, m, logger)
	if err != nil {
		_ = b.close()
		return nil, err
	}
	return svc, nil
}

type builder struct {
	cfg     *config.Config
	logger  *zap.Logger
	pool    *pgxpool.Pool
	closers []func() error
}

func (b *builder) build(ctx context.Context, m *metrics.Metrics, logger *zap.Logger) (*Service, error) {
	if b.cfg.Database.URL != "" && (b.cfg.Database.Driver == "postgres" || b.cfg.Index.Backend == "pgvector") {
		pool, err := pgxpool.New(ctx, b.cfg.Database.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		b.pool = pool
		b.closers = append(b.closers, func() error { pool.Close(); return nil })
	}

	reg, err := b.registry(ctx)
	if err != nil {
		return nil, err
	}
	b.closers = append(b.closers, reg.Close)

	deps := Deps{
		Registry:   reg,
		Blobs:      b.blobs(),
		Embedder:   b.embedder(),
		Index:      b.index(ctx),
		Summarizer: b.summarizer(),
		Processor: processor.NewWithConfig(processor.ProcessorConfig{
			ChunkSize:    b.cfg.Processor.ChunkSize,
			ChunkOverlap: b.cfg.Processor.ChunkOverlap,
			Logger:       logger,
		}),
	}

	svc := New(deps, b.cfg, logger, m)
	svc.closers = b.closers
	return svc, nil
}

func (b *builder) close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		errs = append(errs, b.closers[i]())
	}
	return errors.Join(errs...)
}

func (b *builder) registry(ctx context.Context) (types.Registry, error) {
	switch b.cfg.Database.Driver {
	case "postgres":
		if b.pool == nil {
			return nil, errors.New("postgres registry requires database.url")
		}
		return registry.NewPostgres(ctx, registry.PostgresConfig{Table: b.cfg.Database.Table, Pool: b.pool})
	case "sqlite", "":
		return registry.NewSQLite(b.cfg.Database.SQLitePath, b.cfg.Database.Table)
	default:
		return nil, fmt.Errorf("unknown database driver %q", b.cfg.Database.Driver)
	}
}

func (b *builder) unavailable(component, reason string) {
	b.logger.Warn("component unavailable", zap.String("component", component), zap.String("reason", reason))
}

func (b *builder) blobs() types.Handle[types.BlobStore] {
	sc := b.cfg.Storage
	switch sc.Backend {
	case "fs":
		fs, err := blob.NewFileStore(sc.Root)
		if err != nil {
			b.unavailable("storage", err.Error())
			return types.Unavailable[types.BlobStore](err.Error())
		}
		return types.Ready[types.BlobStore](fs)
	case "supabase":
		if sc.BaseURL == "" || sc.APIKey == "" {
			reason := "supabase storage needs base_url and api_key"
			b.unavailable("storage", reason)
			return types.Unavailable[types.BlobStore](reason)
		}
		hs, err := blob.NewHTTPStore(blob.HTTPConfig{
			BaseURL:   sc.BaseURL,
			Bucket:    sc.Bucket,
			APIKey:    sc.APIKey,
			Timeout:   sc.Timeout.Duration(),
			RateLimit: sc.RateLimit,
		})
		if err != nil {
			b.unavailable("storage", err.Error())
			return types.Unavailable[types.BlobStore](err.Error())
		}
		return types.Ready[types.BlobStore](hs)
	default:
		reason := fmt.Sprintf("storage backend %q", sc.Backend)
		b.unavailable("storage", reason)
		return types.Unavailable[types.BlobStore](reason)
	}
}

func (b *builder) embedder() types.Handle[types.Embedder] {
	ec := b.cfg.Embedding
	provider, err := llm.NewEmbeddingProvider(llm.ProviderConfig{
		Provider:  ec.Provider,
		BaseURL:   ec.BaseURL,
		Model:     ec.Model,
		APIKey:    ec.APIKey,
		BatchSize: ec.BatchSize,
	})
	if err != nil {
		b.unavailable("embedding", err.Error())
		return types.Unavailable[types.Embedder](err.Error())
	}
	return types.Ready[types.Embedder](llm.NewEmbedderWithConfig(provider, llm.EmbedderConfig{
		Model:          ec.Model,
		Timeout:        ec.Timeout.Duration(),
		MaxChars:       ec.MaxChars,
		Dimension:      ec.Dimension,
		DocumentPrefix: ec.DocumentPrefix,
		QueryPrefix:    ec.QueryPrefix,
	}))
}

func (b *builder) index(ctx context.Context) types.Handle[types.VectorIndex] {
	ic := b.cfg.Index
	switch ic.Backend {
	case "pgvector":
		if b.pool == nil {
			reason := "pgvector index requires database.url"
			b.unavailable("index", reason)
			return types.Unavailable[types.VectorIndex](reason)
		}
		vs, err := store.NewPgVectorStore(ctx, store.PgVectorConfig{
			TableName: ic.Table,
			VectorDim: b.cfg.Embedding.Dimension,
			Pool:      b.pool,
		})
		if err != nil {
			b.unavailable("index", err.Error())
			return types.Unavailable[types.VectorIndex](err.Error())
		}
		b.closers = append(b.closers, func() error { vs.Close(); return nil })
		return types.Ready[types.VectorIndex](vs)
	case "qdrant":
		if ic.QdrantHost == "" {
			reason := "qdrant index requires index.qdrant_host"
			b.unavailable("index", reason)
			return types.Unavailable[types.VectorIndex](reason)
		}
		qs, err := store.NewQdrantStore(ctx, store.QdrantConfig{
			Host:       ic.QdrantHost,
			Port:       ic.QdrantPort,
			APIKey:     ic.QdrantAPIKey,
			UseTLS:     ic.QdrantTLS,
			Collection: ic.Collection,
			VectorDim:  b.cfg.Embedding.Dimension,
		})
		if err != nil {
			b.unavailable("index", err.Error())
			return types.Unavailable[types.VectorIndex](err.Error())
		}
		b.closers = append(b.closers, qs.Close)
		return types.Ready[types.VectorIndex](qs)
	case "chromem":
		cs, err := store.NewChromemStore(store.ChromemConfig{Path: ic.ChromemPath, Collection: ic.Collection})
		if err != nil {
			b.unavailable("index", err.Error())
			return types.Unavailable[types.VectorIndex](err.Error())
		}
		return types.Ready[types.VectorIndex](cs)
	default:
		reason := fmt.Sprintf("index backend %q", ic.Backend)
		b.unavailable("index", reason)
		return types.Unavailable[types.VectorIndex](reason)
	}
}

func (b *builder) summarizer() types.Handle[types.Summarizer] {
	cc := b.cfg.Compression
	model, err := llm.NewChatModel(llm.ProviderConfig{
		Provider: cc.Provider,
		BaseURL:  cc.BaseURL,
		Model:    cc.Model,
		APIKey:   cc.APIKey,
	})
	if err != nil {
		// Compression is optional; no warning when it is switched off.
		if !errors.Is(err, llm.ErrNoProvider) || cc.Provider != "none" {
			b.unavailable("compression", err.Error())
		}
		return types.Unavailable[types.Summarizer](err.Error())
	}
	return types.Ready[types.Summarizer](llm.NewSummarizer(model, llm.SummarizerConfig{
		Model:   cc.Model,
		Timeout: cc.Timeout.Duration(),
	}))
}
