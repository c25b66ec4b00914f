// Package query answers retrieval requests: it lazily indexes matching
// documents, searches the vector index and filters the hits by score and
// jurisdiction.
package query

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xhad/jurisrag/internal/metrics"
	"github.com/xhad/jurisrag/internal/models"
	"github.com/xhad/jurisrag/internal/types"
	"github.com/xhad/jurisrag/pkg/pipeline"
	"github.com/xhad/jurisrag/pkg/store"
)

type Deps struct {
	Registry   types.Registry
	Vectorizer *pipeline.Vectorizer
	Embedder   types.Handle[types.Embedder]
	Index      types.Handle[types.VectorIndex]
	Summarizer types.Handle[types.Summarizer]
}

type Config struct {
	DefaultLimit int
	MaxLimit     int
	// Overfetch multiplies the limit for the index query to leave room for
	// the score and jurisdiction filters.
	Overfetch int
	MinScore  float64
	// CompressionMaxTokens bounds the summary length.
	CompressionMaxTokens int
	Logger               *zap.Logger
	Metrics              *metrics.Metrics
}

type Engine struct {
	deps   Deps
	config Config
	logger *zap.Logger
}

func NewEngine(deps Deps, config Config) *Engine {
	if config.DefaultLimit <= 0 {
		config.DefaultLimit = 5
	}
	if config.MaxLimit <= 0 {
		config.MaxLimit = 20
	}
	if config.Overfetch <= 0 {
		config.Overfetch = 3
	}
	if config.MinScore == 0 {
		config.MinScore = 0.5
	}
	if config.CompressionMaxTokens <= 0 {
		config.CompressionMaxTokens = 512
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{deps: deps, config: config, logger: logger.Named("query")}
}

// Query runs one retrieval. It never returns a Go error: every failure is
// reported in the result's Error field.
func (e *Engine) Query(ctx context.Context, params models.QueryParams) models.QueryResult {
	start := time.Now()
	result := e.query(ctx, params)
	outcome := "success"
	switch {
	case result.Error != "":
		outcome = "error"
	case result.ChunksFound == 0:
		outcome = "empty"
	}
	e.config.Metrics.ObserveQuery(outcome, time.Since(start))
	return result
}

func (e *Engine) query(ctx context.Context, params models.QueryParams) models.QueryResult {
	result := models.QueryResult{
		Context:       "",
		Sources:       []models.Source{},
		Domain:        string(params.Domain),
		Sector:        string(params.Sector),
		Region:        string(params.Region),
		Jurisdictions: jurisdictionStrings(params.Jurisdictions),
	}

	limit, err := e.validate(params)
	if err != nil {
		result.Error = err.Error()
		return result
	}

	index, err := e.deps.Index.Get()
	if err != nil {
		result.Error = "Vector index not configured: " + err.Error()
		return result
	}
	embedder, err := e.deps.Embedder.Get()
	if err != nil {
		result.Error = "Embedding provider not configured: " + err.Error()
		return result
	}

	log := e.logger.With(zap.String("domain", result.Domain), zap.String("sector", result.Sector))

	if e.deps.Vectorizer != nil {
		loaded, failures, err := e.deps.Vectorizer.LoadPending(ctx, params.Domain, params.Sector, params.Region)
		result.VectorsLoaded = loaded
		result.LoadFailures = len(failures)
		if err != nil {
			if ctx.Err() != nil {
				result.Error = fmt.Sprintf("Query cancelled: %v", ctx.Err())
				return result
			}
			log.Warn("lazy load failed", zap.Error(err))
		}
	}

	vector, err := embedder.Embed(ctx, params.Query, types.RoleQuery)
	if err != nil {
		result.Error = fmt.Sprintf("Failed to embed query: %v", err)
		return result
	}

	filter := IndexFilter(params)
	matches, err := index.Query(ctx, vector, limit*e.config.Overfetch, filter)
	if err != nil {
		log.Error("vector search failed", zap.String("filter", filter.String()), zap.Error(err))
		result.Error = fmt.Sprintf("Vector search failed: %v", err)
		return result
	}

	kept := e.filterMatches(matches, filter, params.Jurisdictions, limit)
	if len(kept) == 0 {
		return result
	}

	e.touch(ctx, kept, log)

	chunks := make([]Chunk, len(kept))
	result.Sources = make([]models.Source, len(kept))
	for i, m := range kept {
		src := toSource(m, params)
		result.Sources[i] = src
		chunks[i] = Chunk{
			Filename:      src.Filename,
			Region:        src.Region,
			Jurisdictions: src.Jurisdictions,
			Text:          m.Payload,
		}
	}
	result.Context = FormatContext(chunks)
	result.ChunksFound = len(kept)
	return result
}

func (e *Engine) validate(params models.QueryParams) (int, error) {
	if strings.TrimSpace(params.Query) == "" {
		return 0, errors.New("query text is empty")
	}
	if !params.Domain.Valid() {
		return 0, fmt.Errorf("unknown domain %q", params.Domain)
	}
	if !params.Sector.Valid() {
		return 0, fmt.Errorf("unknown sector %q", params.Sector)
	}
	if params.Region != "" && !params.Region.Valid() {
		return 0, fmt.Errorf("unknown region %q", params.Region)
	}
	for _, j := range params.Jurisdictions {
		if !j.Valid() {
			return 0, fmt.Errorf("unknown jurisdiction %q", j)
		}
	}
	if params.DocumentType != "" && !params.DocumentType.Valid() {
		return 0, fmt.Errorf("unknown document type %q", params.DocumentType)
	}

	limit := params.Limit
	if limit == 0 {
		limit = e.config.DefaultLimit
	}
	if limit < 1 || limit > e.config.MaxLimit {
		return 0, fmt.Errorf("limit must be between 1 and %d, got %d", e.config.MaxLimit, params.Limit)
	}
	return limit, nil
}

// IndexFilter is the scalar part of the query filter that the index can
// evaluate: domain and sector, region or global, and document type.
// Jurisdictions are matched after the search because the index stores
// them as a joined string.
func IndexFilter(params models.QueryParams) store.Filter {
	filter := store.NewFilter(
		store.Eq(models.MetaDomain, string(params.Domain)),
		store.Eq(models.MetaSector, string(params.Sector)),
	)
	if params.Region != "" && params.Region != models.RegionGlobal {
		filter = filter.And(store.AnyOf(models.MetaRegion, string(params.Region), string(models.RegionGlobal)))
	}
	if params.DocumentType != "" {
		filter = filter.And(store.Eq(models.MetaDocumentType, string(params.DocumentType)))
	}
	return filter
}

// filterMatches keeps, in rank order, at most limit matches that satisfy
// the index filter, reach the score threshold and share a jurisdiction
// with the request.
func (e *Engine) filterMatches(matches []models.Match, filter store.Filter, requested []models.Jurisdiction, limit int) []models.Match {
	kept := make([]models.Match, 0, limit)
	for _, m := range matches {
		if len(kept) == limit {
			break
		}
		if !filter.Matches(m.Metadata) {
			continue
		}
		if float64(m.Score) < e.config.MinScore {
			continue
		}
		if !JurisdictionMatch(requested, models.SplitJurisdictions(m.Metadata.String(models.MetaJurisdictions))) {
			continue
		}
		kept = append(kept, m)
	}
	return kept
}

// JurisdictionMatch reports whether a document tagged with tags satisfies a
// request for requested. An empty request, a general tag or any overlap
// matches. A document without tags counts as general.
func JurisdictionMatch(requested, tags []models.Jurisdiction) bool {
	if len(requested) == 0 || len(tags) == 0 {
		return true
	}
	if slices.Contains(tags, models.JurisdictionGeneral) {
		return true
	}
	for _, r := range requested {
		if slices.Contains(tags, r) {
			return true
		}
	}
	return false
}

func (e *Engine) touch(ctx context.Context, kept []models.Match, log *zap.Logger) {
	var ids []string
	for _, m := range kept {
		if id := m.Metadata.String(models.MetaFileID); id != "" && !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}
	if err := e.deps.Registry.Touch(ctx, ids...); err != nil {
		log.Warn("failed to update last access", zap.Strings("file_ids", ids), zap.Error(err))
	}
}

func toSource(m models.Match, params models.QueryParams) models.Source {
	md := m.Metadata
	src := models.Source{
		FileID:        md.String(models.MetaFileID),
		Filename:      md.String(models.MetaFilename),
		Score:         math.Round(float64(m.Score)*1e4) / 1e4,
		Domain:        md.String(models.MetaDomain),
		Sector:        md.String(models.MetaSector),
		ChunkIndex:    md.Int(models.MetaChunkIndex),
		Region:        md.String(models.MetaRegion),
		Jurisdictions: jurisdictionStrings(models.SplitJurisdictions(md.String(models.MetaJurisdictions))),
		DocumentType:  md.String(models.MetaDocumentType),
	}
	if src.Filename == "" {
		src.Filename = "Unknown"
	}
	if src.Domain == "" {
		src.Domain = string(params.Domain)
	}
	if src.Sector == "" {
		src.Sector = string(params.Sector)
	}
	if src.Region == "" {
		src.Region = string(models.RegionGlobal)
	}
	if len(src.Jurisdictions) == 0 {
		src.Jurisdictions = []string{string(models.JurisdictionGeneral)}
	}
	return src
}

func jurisdictionStrings(js []models.Jurisdiction) []string {
	if len(js) == 0 {
		return nil
	}
	out := make([]string, len(js))
	for i, j := range js {
		out[i] = string(j)
	}
	return out
}
