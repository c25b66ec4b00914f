// Package userdocs keeps user-private document chunks in the shared vector
// index, namespaced by user and kept apart from the corpus.
package userdocs

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/xhad/jurisrag/internal/models"
	"github.com/xhad/jurisrag/internal/types"
	"github.com/xhad/jurisrag/pkg/store"
)

// DefaultChunkCount is how many chunk ids DeleteDocument removes when the
// caller does not know the real count.
const DefaultChunkCount = 100

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

type EmbedRequest struct {
	DocumentID string `json:"document_id"`
	ChunkIndex int    `json:"chunk_index"`
	UserID     string `json:"user_id"`
	Content    string `json:"content"`
	Filename   string `json:"filename"`
}

type EmbedResult struct {
	Success  bool   `json:"success"`
	VectorID string `json:"vector_id"`
	Message  string `json:"message"`
}

type SearchParams struct {
	Query       string   `json:"query"`
	UserID      string   `json:"user_id"`
	DocumentIDs []string `json:"document_ids,omitempty"`
	Limit       int      `json:"limit,omitempty"`
	MinScore    *float64 `json:"min_score,omitempty"`
}

type Hit struct {
	DocumentID string  `json:"document_id"`
	ChunkIndex int     `json:"chunk_index"`
	Filename   string  `json:"filename"`
	Content    string  `json:"content"`
	Score      float64 `json:"score"`
}

type SearchResult struct {
	Results []Hit  `json:"results"`
	Count   int    `json:"count"`
	Error   string `json:"error,omitempty"`
}

type Config struct {
	DefaultLimit int
	MaxLimit     int
	MinScore     float64
	Logger       *zap.Logger
}

type Service struct {
	embedder types.Handle[types.Embedder]
	index    types.Handle[types.VectorIndex]
	config   Config
	logger   *zap.Logger
}

func New(embedder types.Handle[types.Embedder], index types.Handle[types.VectorIndex], config Config) *Service {
	if config.DefaultLimit <= 0 {
		config.DefaultLimit = 5
	}
	if config.MaxLimit <= 0 {
		config.MaxLimit = 50
	}
	if config.MinScore == 0 {
		config.MinScore = 0.5
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{embedder: embedder, index: index, config: config, logger: logger.Named("userdocs")}
}

func validID(kind, id string) error {
	if !idPattern.MatchString(id) {
		return fmt.Errorf("%w: invalid %s %q", models.ErrInvalidInput, kind, id)
	}
	return nil
}

// EmbedChunk embeds one chunk of a user document and stores it under
// user_{document}_{index}.
func (s *Service) EmbedChunk(ctx context.Context, req EmbedRequest) (EmbedResult, error) {
	if err := validID("document id", req.DocumentID); err != nil {
		return EmbedResult{}, err
	}
	if err := validID("user id", req.UserID); err != nil {
		return EmbedResult{}, err
	}
	if req.ChunkIndex < 0 {
		return EmbedResult{}, fmt.Errorf("%w: chunk index must be non-negative", models.ErrInvalidInput)
	}
	if strings.TrimSpace(req.Content) == "" {
		return EmbedResult{}, fmt.Errorf("%w: content is empty", models.ErrInvalidInput)
	}

	index, err := s.index.Get()
	if err != nil {
		return EmbedResult{}, fmt.Errorf("vector index: %w", err)
	}
	embedder, err := s.embedder.Get()
	if err != nil {
		return EmbedResult{}, fmt.Errorf("embedder: %w", err)
	}

	vector, err := embedder.Embed(ctx, req.Content, types.RoleDocument)
	if err != nil {
		return EmbedResult{}, fmt.Errorf("embedding chunk: %w", err)
	}

	id := store.UserChunkID(req.DocumentID, req.ChunkIndex)
	record := models.VectorRecord{
		ID:     id,
		Vector: vector,
		Metadata: models.Metadata{
			models.MetaType:       models.RecordTypeUserDocument,
			models.MetaUserID:     req.UserID,
			models.MetaDocumentID: req.DocumentID,
			models.MetaChunkIndex: req.ChunkIndex,
			models.MetaFilename:   req.Filename,
		},
		Payload: req.Content,
	}
	if err := index.Upsert(ctx, []models.VectorRecord{record}); err != nil {
		return EmbedResult{}, fmt.Errorf("storing chunk: %w", err)
	}

	return EmbedResult{Success: true, VectorID: id, Message: "Chunk embedded"}, nil
}

// Search finds the user's chunks closest to the query, optionally limited
// to some of their documents. Collaborator failures are reported in the
// result.
func (s *Service) Search(ctx context.Context, params SearchParams) (SearchResult, error) {
	result := SearchResult{Results: []Hit{}}

	if strings.TrimSpace(params.Query) == "" {
		return result, fmt.Errorf("%w: query text is empty", models.ErrInvalidInput)
	}
	if err := validID("user id", params.UserID); err != nil {
		return result, err
	}
	for _, id := range params.DocumentIDs {
		if err := validID("document id", id); err != nil {
			return result, err
		}
	}
	limit := params.Limit
	if limit == 0 {
		limit = s.config.DefaultLimit
	}
	if limit < 1 || limit > s.config.MaxLimit {
		return result, fmt.Errorf("%w: limit must be between 1 and %d", models.ErrInvalidInput, s.config.MaxLimit)
	}
	minScore := s.config.MinScore
	if params.MinScore != nil {
		minScore = *params.MinScore
	}

	index, err := s.index.Get()
	if err != nil {
		result.Error = "Vector index not configured: " + err.Error()
		return result, nil
	}
	embedder, err := s.embedder.Get()
	if err != nil {
		result.Error = "Embedding provider not configured: " + err.Error()
		return result, nil
	}

	vector, err := embedder.Embed(ctx, params.Query, types.RoleQuery)
	if err != nil {
		result.Error = fmt.Sprintf("Failed to embed query: %v", err)
		return result, nil
	}

	filter := userFilter(params.UserID)
	if len(params.DocumentIDs) > 0 {
		filter = filter.And(store.AnyOf(models.MetaDocumentID, params.DocumentIDs...))
	}

	matches, err := index.Query(ctx, vector, limit, filter)
	if err != nil {
		s.logger.Error("user document search failed", zap.String("user_id", params.UserID), zap.Error(err))
		result.Error = fmt.Sprintf("Vector search failed: %v", err)
		return result, nil
	}

	for _, m := range matches {
		if len(result.Results) == limit {
			break
		}
		// Hits must belong to the requesting user whatever the backend returned.
		if !filter.Matches(m.Metadata) || float64(m.Score) < minScore {
			continue
		}
		result.Results = append(result.Results, Hit{
			DocumentID: m.Metadata.String(models.MetaDocumentID),
			ChunkIndex: m.Metadata.Int(models.MetaChunkIndex),
			Filename:   m.Metadata.String(models.MetaFilename),
			Content:    m.Payload,
			Score:      math.Round(float64(m.Score)*1e4) / 1e4,
		})
	}
	result.Count = len(result.Results)
	return result, nil
}

// DeleteDocument removes chunks [0, chunkCount) of a user document and any
// stragglers carrying its document id. chunkCount 0 means
// DefaultChunkCount.
func (s *Service) DeleteDocument(ctx context.Context, documentID string, chunkCount int) (models.DeleteResult, error) {
	if err := validID("document id", documentID); err != nil {
		return models.DeleteResult{}, err
	}
	if chunkCount < 0 {
		return models.DeleteResult{}, fmt.Errorf("%w: chunk count must be non-negative", models.ErrInvalidInput)
	}
	if chunkCount == 0 {
		chunkCount = DefaultChunkCount
	}

	index, err := s.index.Get()
	if err != nil {
		return models.DeleteResult{}, fmt.Errorf("vector index: %w", err)
	}
	if err := index.Delete(ctx, store.UserChunkIDs(documentID, chunkCount)); err != nil {
		return models.DeleteResult{}, fmt.Errorf("deleting user document %s: %w", documentID, err)
	}
	sweep := store.NewFilter(
		store.Eq(models.MetaType, models.RecordTypeUserDocument),
		store.Eq(models.MetaDocumentID, documentID),
	)
	if err := index.DeleteByFilter(ctx, sweep); err != nil {
		return models.DeleteResult{}, fmt.Errorf("sweeping user document %s: %w", documentID, err)
	}

	s.logger.Info("deleted user document vectors", zap.String("document_id", documentID), zap.Int("chunk_count", chunkCount))
	return models.DeleteResult{
		Success:        true,
		Message:        fmt.Sprintf("Deleted vectors for document %s", documentID),
		VectorsDeleted: chunkCount,
	}, nil
}

// PurgeUser removes every vector belonging to userID.
func (s *Service) PurgeUser(ctx context.Context, userID string) (models.DeleteResult, error) {
	if err := validID("user id", userID); err != nil {
		return models.DeleteResult{}, err
	}
	index, err := s.index.Get()
	if err != nil {
		return models.DeleteResult{}, fmt.Errorf("vector index: %w", err)
	}
	if err := index.DeleteByFilter(ctx, userFilter(userID)); err != nil {
		return models.DeleteResult{}, fmt.Errorf("purging user %s: %w", userID, err)
	}

	s.logger.Info("purged user vectors", zap.String("user_id", userID))
	return models.DeleteResult{Success: true, Message: fmt.Sprintf("Deleted all vectors for user %s", userID)}, nil
}

func userFilter(userID string) store.Filter {
	return store.NewFilter(
		store.Eq(models.MetaType, models.RecordTypeUserDocument),
		store.Eq(models.MetaUserID, userID),
	)
}
