package query_test

import (
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/xhad/jurisrag/internal/models"
	fakes "github.com/xhad/jurisrag/internal/testutil"
	"github.com/xhad/jurisrag/internal/types"
	"github.com/xhad/jurisrag/pkg/query"
)

func TestCompressedQuery(t *testing.T) {
	h := newHarness(t)
	h.register(t, docSpec{region: models.RegionEU, jurisdictions: []models.Jurisdiction{models.JurisdictionGDPR}})
	h.register(t, docSpec{region: models.RegionEU, text: "Processors must notify the controller without undue delay after becoming aware of a breach."})

	p := params("breach deadline")
	result := h.engine().CompressedQuery(context.Background(), p)

	require.Empty(t, result.Error)
	assert.True(t, result.Compressed)
	assert.Equal(t, 2, result.ChunksFound)
	assert.Equal(t, "[Compressed context from 2 sources]\n\nBreaches go to the authority within 72 hours.", result.Context)
	require.NotNil(t, result.CompressionRatio)
	assert.Greater(t, *result.CompressionRatio, 1.0)
	assert.Len(t, result.Sources, 2)
	assert.GreaterOrEqual(t, result.ProcessingTimeMs, int64(0))

	require.Equal(t, 1, h.model.Calls())
	assert.Equal(t, 256, h.model.Options[0].MaxTokens)
	prompt := h.model.Messages[0][1].Parts[0].(llms.TextContent).Text
	assert.Contains(t, prompt, "Question: breach deadline")
	assert.Contains(t, prompt, gdprText)
	assert.NotContains(t, prompt, "[Source:")

	assert.Equal(t, 1.0, testutil.ToFloat64(h.config.Metrics.CompressionsTotal.WithLabelValues("success")))
}

func TestCompressedQueryProviderFailure(t *testing.T) {
	h := newHarness(t)
	h.register(t, docSpec{region: models.RegionEU})
	h.model.Err = fakes.ErrFakeModel
	engine := h.engine()

	plain := engine.Query(context.Background(), params("breach"))
	result := engine.CompressedQuery(context.Background(), params("breach"))

	assert.False(t, result.Compressed)
	assert.Nil(t, result.CompressionRatio)
	assert.Equal(t, plain.Context, result.Context)
	assert.Contains(t, result.Error, "Compression failed")
	assert.Equal(t, 1, result.ChunksFound)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.config.Metrics.CompressionsTotal.WithLabelValues("failure")))
}

func TestCompressedQueryPassThrough(t *testing.T) {
	t.Run("no summarizer", func(t *testing.T) {
		h := newHarness(t)
		h.register(t, docSpec{region: models.RegionEU})
		h.deps.Summarizer = types.Unavailable[types.Summarizer]("compression provider none")

		result := h.engine().CompressedQuery(context.Background(), params("breach"))

		assert.False(t, result.Compressed)
		assert.Empty(t, result.Error)
		assert.Equal(t, 1, result.ChunksFound)
		assert.True(t, strings.HasPrefix(result.Context, "[Source: "))
	})

	t.Run("no chunks", func(t *testing.T) {
		h := newHarness(t)

		result := h.engine().CompressedQuery(context.Background(), params("breach"))

		assert.False(t, result.Compressed)
		assert.Empty(t, result.Error)
		assert.Zero(t, h.model.Calls())
	})

	t.Run("query error", func(t *testing.T) {
		h := newHarness(t)
		h.deps.Embedder = types.Unavailable[types.Embedder]("no embedding provider configured")

		result := h.engine().CompressedQuery(context.Background(), params("breach"))

		assert.False(t, result.Compressed)
		assert.Contains(t, result.Error, "Embedding provider not configured")
		assert.Zero(t, h.model.Calls())
	})
}

func TestCompressionRatio(t *testing.T) {
	assert.Equal(t, 4.0, query.CompressionRatio("abcd", ""))
	assert.Equal(t, 1.5, query.CompressionRatio("abc", "ab"))
	assert.Equal(t, 3.33, query.CompressionRatio("abcdefghij", "abc"))
	assert.Equal(t, 2.0, query.CompressionRatio("éééé", "éé"))
}

func TestCompressionHealth(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, models.CompressionHealth{Available: true, Model: "fake-summarizer"}, h.engine().CompressionHealth())

	h.deps.Summarizer = types.Unavailable[types.Summarizer]("compression provider none")
	health := h.engine().CompressionHealth()
	assert.False(t, health.Available)
	assert.Contains(t, health.Error, "compression provider none")
}

func TestParseContext(t *testing.T) {
	chunks := []query.Chunk{
		{Filename: "gdpr.pdf", Region: "eu", Jurisdictions: []string{"gdpr", "general"}, Text: "Article 33 applies."},
		{Filename: "", Text: "Second passage.\n\nWith two paragraphs."},
	}
	context := query.FormatContext(chunks)

	assert.Equal(t,
		"[Source: gdpr.pdf | Region: eu | Jurisdictions: gdpr, general]\nArticle 33 applies."+
			"\n\n---\n\n"+
			"[Source: Unknown | Region: global | Jurisdictions: general]\nSecond passage.\n\nWith two paragraphs.",
		context)
	assert.Equal(t, []string{"Article 33 applies.", "Second passage.\n\nWith two paragraphs."}, query.ParseContext(context))

	malformed := "plain text without header" + query.Separator + "[Source: broken header" + query.Separator + "   "
	assert.Equal(t, []string{"plain text without header", "[Source: broken header"}, query.ParseContext(malformed))
	assert.Empty(t, query.ParseContext(""))
}
