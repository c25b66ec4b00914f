package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xhad/jurisrag/internal/metrics"
	"github.com/xhad/jurisrag/internal/models"
	"github.com/xhad/jurisrag/internal/types"
)

type CleanerConfig struct {
	Logger  *zap.Logger
	Metrics *metrics.Metrics
	// Now replaces time.Now, for tests.
	Now func() time.Time
}

// Cleaner expires indexed documents that have not been queried recently.
// Their blobs stay in storage so the next matching query re-indexes them.
type Cleaner struct {
	registry   types.Registry
	vectorizer *Vectorizer
	config     CleanerConfig
	logger     *zap.Logger
}

func NewCleaner(registry types.Registry, vectorizer *Vectorizer, config CleanerConfig) *Cleaner {
	if config.Now == nil {
		config.Now = time.Now
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cleaner{
		registry:   registry,
		vectorizer: vectorizer,
		config:     config,
		logger:     logger.Named("cleanup"),
	}
}

// Run expires every indexed document last accessed more than maxAgeDays
// ago, oldest first. A document whose vectors cannot be deleted stays
// indexed and is reported in Failures.
func (c *Cleaner) Run(ctx context.Context, maxAgeDays int) (models.CleanupResult, error) {
	var result models.CleanupResult
	if maxAgeDays < 0 {
		return result, fmt.Errorf("%w: max age must be non-negative, got %d", models.ErrInvalidInput, maxAgeDays)
	}

	cutoff := c.config.Now().AddDate(0, 0, -maxAgeDays)
	stale, err := c.registry.ListStale(ctx, cutoff)
	if err != nil {
		return result, fmt.Errorf("listing stale documents: %w", err)
	}

	for _, doc := range stale {
		if err := ctx.Err(); err != nil {
			result.Message = summary(result)
			return result, err
		}

		removed, err := c.vectorizer.RemoveVectors(ctx, doc)
		if err != nil {
			c.logger.Warn("skipping document, vector delete failed", zap.String("file_id", doc.ID), zap.Error(err))
			result.Failures = append(result.Failures, models.Failure{ID: doc.ID, Error: err.Error()})
			continue
		}
		if err := c.registry.SetVectorStatus(ctx, doc.ID, models.StatusExpired, 0); err != nil {
			c.logger.Warn("failed to expire document", zap.String("file_id", doc.ID), zap.Error(err))
			result.Failures = append(result.Failures, models.Failure{ID: doc.ID, Error: err.Error()})
			continue
		}

		result.FilesCleaned++
		result.VectorsRemoved += removed
	}

	result.Message = summary(result)
	c.config.Metrics.ObserveCleanup(result.FilesCleaned, result.VectorsRemoved)
	c.logger.Info("cleanup finished",
		zap.Int("files_cleaned", result.FilesCleaned),
		zap.Int("vectors_removed", result.VectorsRemoved),
		zap.Int("failures", len(result.Failures)))
	return result, nil
}

func summary(r models.CleanupResult) string {
	return fmt.Sprintf("Cleaned %d files, removed %d vectors", r.FilesCleaned, r.VectorsRemoved)
}

// Start runs the cleanup every interval until ctx is cancelled. The
// returned channel is closed when the loop exits.
func (c *Cleaner) Start(ctx context.Context, interval time.Duration, maxAgeDays int) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := c.Run(ctx, maxAgeDays); err != nil && ctx.Err() == nil {
					c.logger.Error("scheduled cleanup failed", zap.Error(err))
				}
			}
		}
	}()
	return done
}
