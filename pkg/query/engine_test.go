package query_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/jurisrag/internal/metrics"
	"github.com/xhad/jurisrag/internal/models"
	fakes "github.com/xhad/jurisrag/internal/testutil"
	"github.com/xhad/jurisrag/internal/types"
	"github.com/xhad/jurisrag/pkg/llm"
	"github.com/xhad/jurisrag/pkg/pipeline"
	"github.com/xhad/jurisrag/pkg/processor"
	"github.com/xhad/jurisrag/pkg/query"
	"github.com/xhad/jurisrag/pkg/registry"
	"github.com/xhad/jurisrag/pkg/store"
)

const gdprText = "Controllers must report personal data breaches to the supervisory authority within 72 hours."

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	clock      *clock
	registry   *registry.SQLite
	index      *fakes.MemoryIndex
	blobs      *fakes.MemoryBlobs
	provider   *fakes.FakeEmbedder
	model      *fakes.FakeModel
	vectorizer *pipeline.Vectorizer
	deps       query.Deps
	config     query.Config
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		clock:    &clock{now: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)},
		index:    fakes.NewMemoryIndex(),
		blobs:    fakes.NewMemoryBlobs(),
		provider: &fakes.FakeEmbedder{},
		model:    &fakes.FakeModel{Response: "Breaches go to the authority within 72 hours."},
	}
	reg, err := registry.NewSQLite(filepath.Join(t.TempDir(), "registry.db"), "", registry.WithClock(h.clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { reg.Close() })
	h.registry = reg

	embedder := types.Ready[types.Embedder](llm.NewEmbedderWithConfig(h.provider, llm.EmbedderConfig{}))
	index := types.Ready[types.VectorIndex](h.index)
	h.vectorizer = pipeline.NewVectorizer(pipeline.Deps{
		Registry:  reg,
		Blobs:     types.Ready[types.BlobStore](h.blobs),
		Embedder:  embedder,
		Index:     index,
		Processor: processor.New(),
	}, pipeline.VectorizerConfig{})

	h.deps = query.Deps{
		Registry:   reg,
		Vectorizer: h.vectorizer,
		Embedder:   embedder,
		Index:      index,
		Summarizer: types.Ready[types.Summarizer](llm.NewSummarizer(h.model, llm.SummarizerConfig{Model: "fake-summarizer"})),
	}
	h.config = query.Config{CompressionMaxTokens: 256, Metrics: metrics.New(prometheus.NewRegistry())}
	return h
}

func (h *harness) engine() *query.Engine {
	return query.NewEngine(h.deps, h.config)
}

type docSpec struct {
	domain        models.Domain
	sector        models.Sector
	region        models.Region
	jurisdictions []models.Jurisdiction
	docType       models.DocumentType
	text          string
}

func (h *harness) register(t *testing.T, spec docSpec) models.Document {
	t.Helper()
	if spec.domain == "" {
		spec.domain = models.DomainLegal
	}
	if spec.sector == "" {
		spec.sector = models.SectorSaaS
	}
	if spec.text == "" {
		spec.text = gdprText
	}
	doc := models.Document{
		ID:            uuid.NewString(),
		Filename:      fmt.Sprintf("%s-%s.txt", spec.region, strings.Join(jurisdictionNames(spec.jurisdictions), "-")),
		ContentType:   "text/plain",
		Domain:        spec.domain,
		Sector:        spec.sector,
		Region:        spec.region,
		Jurisdictions: spec.jurisdictions,
		DocumentType:  spec.docType,
	}
	doc.StoragePath = "docs/" + doc.ID + ".txt"
	h.blobs.Put(doc.StoragePath, []byte(spec.text))
	require.NoError(t, h.registry.Register(context.Background(), doc, false))
	got, err := h.registry.Get(context.Background(), doc.ID)
	require.NoError(t, err)
	return got
}

func jurisdictionNames(js []models.Jurisdiction) []string {
	out := make([]string, len(js))
	for i, j := range js {
		out[i] = string(j)
	}
	return out
}

func (h *harness) get(t *testing.T, id string) models.Document {
	t.Helper()
	doc, err := h.registry.Get(context.Background(), id)
	require.NoError(t, err)
	return doc
}

func params(q string) models.QueryParams {
	return models.QueryParams{Query: q, Domain: models.DomainLegal, Sector: models.SectorSaaS}
}

func TestQueryLazilyIndexesPendingDocuments(t *testing.T) {
	h := newHarness(t)
	doc := h.register(t, docSpec{region: models.RegionEU, jurisdictions: []models.Jurisdiction{models.JurisdictionGDPR}})

	p := params("breach notification deadline")
	p.Region = models.RegionEU
	result := h.engine().Query(context.Background(), p)

	require.Empty(t, result.Error)
	assert.Equal(t, 1, result.VectorsLoaded)
	assert.GreaterOrEqual(t, result.ChunksFound, 1)
	require.Len(t, result.Sources, result.ChunksFound)
	for _, src := range result.Sources {
		assert.Equal(t, "eu", src.Region)
		assert.Equal(t, doc.ID, src.FileID)
		assert.Equal(t, []string{"gdpr"}, src.Jurisdictions)
	}
	assert.Equal(t, "eu", result.Region)

	got := h.get(t, doc.ID)
	assert.Equal(t, models.StatusIndexed, got.VectorStatus)
	assert.Equal(t, h.index.Len(), got.ChunkCount)

	assert.True(t, strings.HasPrefix(result.Context, "[Source: "+doc.Filename+" | Region: eu | Jurisdictions: gdpr]\n"))
	assert.Contains(t, result.Context, gdprText)
}

func TestQueryGeneralMatchesAnyJurisdiction(t *testing.T) {
	h := newHarness(t)
	general := h.register(t, docSpec{region: models.RegionUS})
	h.register(t, docSpec{region: models.RegionUS, jurisdictions: []models.Jurisdiction{models.JurisdictionGDPR}})

	p := params("disclosure obligations")
	p.Jurisdictions = []models.Jurisdiction{models.JurisdictionSEC}
	result := h.engine().Query(context.Background(), p)

	require.Empty(t, result.Error)
	assert.Equal(t, 2, result.VectorsLoaded)
	require.Equal(t, 1, result.ChunksFound)
	assert.Equal(t, general.ID, result.Sources[0].FileID)
	assert.Equal(t, []string{"sec"}, result.Jurisdictions)
}

func TestQueryJurisdictionOverlap(t *testing.T) {
	h := newHarness(t)
	multi := h.register(t, docSpec{jurisdictions: []models.Jurisdiction{models.JurisdictionGDPR, models.JurisdictionCCPA, models.JurisdictionLGPD}})
	h.register(t, docSpec{jurisdictions: []models.Jurisdiction{models.JurisdictionHIPAA}})

	p := params("privacy")
	p.Jurisdictions = []models.Jurisdiction{models.JurisdictionCCPA, models.JurisdictionSOX}
	result := h.engine().Query(context.Background(), p)

	require.Equal(t, 1, result.ChunksFound)
	assert.Equal(t, multi.ID, result.Sources[0].FileID)
	assert.Equal(t, []string{"gdpr", "ccpa", "lgpd"}, result.Sources[0].Jurisdictions)
}

func TestQueryRegionAdmitsGlobal(t *testing.T) {
	h := newHarness(t)
	eu := h.register(t, docSpec{region: models.RegionEU})
	global := h.register(t, docSpec{region: models.RegionGlobal})
	us := h.register(t, docSpec{region: models.RegionUS})

	p := params("breach")
	p.Region = models.RegionEU
	p.Limit = 4
	result := h.engine().Query(context.Background(), p)

	require.Empty(t, result.Error)
	assert.Equal(t, 2, result.VectorsLoaded)
	assert.Equal(t, models.StatusPending, h.get(t, us.ID).VectorStatus)

	var ids []string
	for _, src := range result.Sources {
		ids = append(ids, src.FileID)
	}
	assert.ElementsMatch(t, []string{eu.ID, global.ID}, ids)

	require.Len(t, h.index.Queries, 1)
	assert.Equal(t, 12, h.index.Queries[0].TopK)
	assert.Equal(t, "domain = 'legal' AND sector = 'saas' AND (region = 'eu' OR region = 'global')",
		h.index.Queries[0].Filter.String())
}

func TestQueryScoreThreshold(t *testing.T) {
	h := newHarness(t)
	put := func(id string, score float32) {
		h.index.Put(models.VectorRecord{
			ID:     id,
			Vector: fakes.Vector(id),
			Metadata: models.Metadata{
				models.MetaFileID:     uuid.NewString(),
				models.MetaFilename:   id + ".pdf",
				models.MetaChunkIndex: 0,
				models.MetaDomain:     "legal",
				models.MetaSector:     "saas",
			},
			Payload: id,
		})
		h.index.Scores[id] = score
	}
	put("exact", 0.5)
	put("below", 0.499)

	result := h.engine().Query(context.Background(), params("threshold"))

	require.Empty(t, result.Error)
	require.Equal(t, 1, result.ChunksFound)
	assert.Equal(t, "exact.pdf", result.Sources[0].Filename)
	assert.Equal(t, 0.5, result.Sources[0].Score)
	assert.Equal(t, "global", result.Sources[0].Region)
	assert.Equal(t, []string{"general"}, result.Sources[0].Jurisdictions)
}

func TestQueryLimit(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 4; i++ {
		h.register(t, docSpec{region: models.RegionEU})
	}

	p := params("breach")
	p.Limit = 2
	result := h.engine().Query(context.Background(), p)

	require.Empty(t, result.Error)
	assert.Equal(t, 4, result.VectorsLoaded)
	assert.Equal(t, 2, result.ChunksFound)
	assert.Len(t, result.Sources, 2)
	assert.Len(t, query.ParseContext(result.Context), 2)
	assert.Equal(t, 6, h.index.Queries[0].TopK)
}

func TestQueryNoResultsIsNotAnError(t *testing.T) {
	h := newHarness(t)
	result := h.engine().Query(context.Background(), params("anything"))

	assert.Empty(t, result.Error)
	assert.Zero(t, result.ChunksFound)
	assert.Zero(t, result.VectorsLoaded)
	assert.Empty(t, result.Context)
	assert.NotNil(t, result.Sources)
	assert.Empty(t, result.Sources)
}

func TestQueryWithoutEmbedder(t *testing.T) {
	h := newHarness(t)
	h.register(t, docSpec{region: models.RegionEU})
	h.deps.Embedder = types.Unavailable[types.Embedder]("no embedding provider configured")

	result := h.engine().Query(context.Background(), params("breach"))

	assert.NotEmpty(t, result.Error)
	assert.Zero(t, result.ChunksFound)
	assert.Zero(t, result.VectorsLoaded)
	assert.Zero(t, h.blobs.Downloads.Load())
}

func TestQueryWithoutIndex(t *testing.T) {
	h := newHarness(t)
	h.register(t, docSpec{region: models.RegionEU})
	h.deps.Index = types.Unavailable[types.VectorIndex]("index backend none")

	result := h.engine().Query(context.Background(), params("breach"))

	assert.Contains(t, result.Error, "Vector index not configured")
	assert.Zero(t, result.VectorsLoaded)
	assert.Zero(t, h.blobs.Downloads.Load())
}

func TestQueryCollaboratorFailures(t *testing.T) {
	t.Run("query embedding fails", func(t *testing.T) {
		h := newHarness(t)
		h.register(t, docSpec{region: models.RegionEU})
		h.provider.FailOn = func(text string) bool { return text == "explode" }

		result := h.engine().Query(context.Background(), params("explode"))

		assert.Contains(t, result.Error, "Failed to embed query")
		assert.Equal(t, 1, result.VectorsLoaded)
		assert.Zero(t, result.ChunksFound)
	})

	t.Run("search fails", func(t *testing.T) {
		h := newHarness(t)
		h.index.QueryErr = errors.New("index timeout")

		result := h.engine().Query(context.Background(), params("breach"))

		assert.Contains(t, result.Error, "Vector search failed")
		assert.Zero(t, result.ChunksFound)
	})

	t.Run("lazy load failure is counted", func(t *testing.T) {
		h := newHarness(t)
		doc := h.register(t, docSpec{region: models.RegionEU})
		h.blobs.Put(doc.StoragePath, []byte("   "))

		result := h.engine().Query(context.Background(), params("breach"))

		assert.Empty(t, result.Error)
		assert.Zero(t, result.VectorsLoaded)
		assert.Equal(t, 1, result.LoadFailures)
		assert.Equal(t, models.StatusPending, h.get(t, doc.ID).VectorStatus)
	})
}

func TestQueryRejectsInvalidInput(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*models.QueryParams)
	}{
		{"empty query", func(p *models.QueryParams) { p.Query = "  " }},
		{"unknown domain", func(p *models.QueryParams) { p.Domain = "medicine" }},
		{"unknown region", func(p *models.QueryParams) { p.Region = "mars" }},
		{"unknown jurisdiction", func(p *models.QueryParams) { p.Jurisdictions = []models.Jurisdiction{"gdpr2"} }},
		{"limit too large", func(p *models.QueryParams) { p.Limit = 21 }},
		{"negative limit", func(p *models.QueryParams) { p.Limit = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.register(t, docSpec{region: models.RegionEU})
			p := params("breach")
			tt.mutate(&p)

			result := h.engine().Query(context.Background(), p)

			assert.NotEmpty(t, result.Error)
			assert.Zero(t, result.VectorsLoaded)
			assert.Zero(t, h.blobs.Downloads.Load())
			assert.Zero(t, h.provider.QueryCalls.Load())
		})
	}
}

func TestQueryTouchesReturnedDocuments(t *testing.T) {
	h := newHarness(t)
	doc := h.register(t, docSpec{region: models.RegionEU})
	engine := h.engine()

	engine.Query(context.Background(), params("breach"))
	h.clock.Advance(time.Hour)
	engine.Query(context.Background(), params("breach"))

	got := h.get(t, doc.ID)
	require.NotNil(t, got.LastAccessed)
	assert.True(t, got.LastAccessed.Equal(h.clock.Now()))
}

func TestCleanupThenQueryReindexes(t *testing.T) {
	h := newHarness(t)
	doc := h.register(t, docSpec{region: models.RegionEU})
	engine := h.engine()

	first := engine.Query(context.Background(), params("breach"))
	require.Equal(t, 1, first.VectorsLoaded)
	chunkCount := h.get(t, doc.ID).ChunkCount

	h.clock.Advance(31 * 24 * time.Hour)
	cleaner := pipeline.NewCleaner(h.registry, h.vectorizer, pipeline.CleanerConfig{Now: h.clock.Now})
	cleanup, err := cleaner.Run(context.Background(), 30)
	require.NoError(t, err)
	assert.Equal(t, 1, cleanup.FilesCleaned)
	assert.Equal(t, chunkCount, cleanup.VectorsRemoved)
	assert.Equal(t, models.StatusExpired, h.get(t, doc.ID).VectorStatus)

	second := engine.Query(context.Background(), params("breach"))
	assert.Equal(t, 1, second.VectorsLoaded)
	require.NotEmpty(t, second.Sources)
	assert.Equal(t, doc.ID, second.Sources[0].FileID)
	assert.Equal(t, models.StatusIndexed, h.get(t, doc.ID).VectorStatus)
	assert.Equal(t, chunkCount, h.get(t, doc.ID).ChunkCount)
}

func TestIndexFilter(t *testing.T) {
	tests := []struct {
		name   string
		params models.QueryParams
		want   string
	}{
		{
			name:   "domain and sector",
			params: models.QueryParams{Domain: models.DomainFinance, Sector: models.SectorFintech},
			want:   "domain = 'finance' AND sector = 'fintech'",
		},
		{
			name:   "global region adds nothing",
			params: models.QueryParams{Domain: models.DomainLegal, Sector: models.SectorSaaS, Region: models.RegionGlobal},
			want:   "domain = 'legal' AND sector = 'saas'",
		},
		{
			name: "region and document type",
			params: models.QueryParams{
				Domain: models.DomainLegal, Sector: models.SectorSaaS,
				Region: models.RegionUK, DocumentType: models.DocumentTypeCaseLaw,
				Jurisdictions: []models.Jurisdiction{models.JurisdictionFCA},
			},
			want: "domain = 'legal' AND sector = 'saas' AND (region = 'uk' OR region = 'global') AND document_type = 'case_law'",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, query.IndexFilter(tt.params).String())
		})
	}
}

func TestJurisdictionMatch(t *testing.T) {
	j := func(vs ...models.Jurisdiction) []models.Jurisdiction { return vs }
	tests := []struct {
		name      string
		requested []models.Jurisdiction
		tags      []models.Jurisdiction
		want      bool
	}{
		{"no request", nil, j(models.JurisdictionGDPR), true},
		{"general tag", j(models.JurisdictionSEC), j(models.JurisdictionGeneral), true},
		{"general among others", j(models.JurisdictionSEC), j(models.JurisdictionGDPR, models.JurisdictionGeneral), true},
		{"overlap", j(models.JurisdictionSEC, models.JurisdictionFCA), j(models.JurisdictionFCA), true},
		{"disjoint", j(models.JurisdictionSEC), j(models.JurisdictionGDPR, models.JurisdictionCCPA), false},
		{"untagged counts as general", j(models.JurisdictionSEC), nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, query.JurisdictionMatch(tt.requested, tt.tags))
		})
	}
}

func TestChunkIDsMatchVectorIDs(t *testing.T) {
	h := newHarness(t)
	doc := h.register(t, docSpec{region: models.RegionEU})
	h.engine().Query(context.Background(), params("breach"))

	assert.Equal(t, store.ChunkIDs(doc.ID, h.get(t, doc.ID).ChunkCount), h.index.IDs())
}
