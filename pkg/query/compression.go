package query

import (
	"context"
	"fmt"
	"math"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/xhad/jurisrag/internal/models"
)

// CompressedQuery runs Query and, when a summarizer is configured and
// chunks were found, replaces the context with a query-focused summary.
// A summarizer failure returns the uncompressed result with Error set.
func (e *Engine) CompressedQuery(ctx context.Context, params models.QueryParams) models.CompressedResult {
	start := time.Now()
	out := models.CompressedResult{QueryResult: e.Query(ctx, params)}

	summarizer, err := e.deps.Summarizer.Get()
	if err != nil || out.Error != "" || out.ChunksFound == 0 {
		out.ProcessingTimeMs = time.Since(start).Milliseconds()
		return out
	}

	original := out.Context
	chunks := ParseContext(original)
	summary, err := summarizer.Summarize(ctx, chunks, params.Query, e.config.CompressionMaxTokens)
	if err != nil {
		e.logger.Warn("compression failed, returning uncompressed context", zap.Error(err))
		e.config.Metrics.ObserveCompression("failure")
		out.Error = fmt.Sprintf("Compression failed: %v", err)
		out.ProcessingTimeMs = time.Since(start).Milliseconds()
		return out
	}

	compressed := fmt.Sprintf("[Compressed context from %d sources]\n\n%s", len(chunks), summary)
	ratio := CompressionRatio(original, compressed)
	out.Context = compressed
	out.Compressed = true
	out.CompressionRatio = &ratio
	e.config.Metrics.ObserveCompression("success")
	out.ProcessingTimeMs = time.Since(start).Milliseconds()
	return out
}

// CompressionRatio is the character length of original over compressed,
// rounded to two decimals. An empty compressed text counts as length 1.
func CompressionRatio(original, compressed string) float64 {
	n := max(utf8.RuneCountInString(compressed), 1)
	ratio := float64(utf8.RuneCountInString(original)) / float64(n)
	return math.Round(ratio*100) / 100
}

// CompressionHealth reports whether compressed queries can summarize.
func (e *Engine) CompressionHealth() models.CompressionHealth {
	summarizer, err := e.deps.Summarizer.Get()
	if err != nil {
		return models.CompressionHealth{Available: false, Error: err.Error()}
	}
	return models.CompressionHealth{Available: true, Model: summarizer.Model()}
}
