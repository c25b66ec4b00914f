package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xhad/jurisrag/internal/metrics"
	"github.com/xhad/jurisrag/internal/models"
	fakes "github.com/xhad/jurisrag/internal/testutil"
	"github.com/xhad/jurisrag/internal/types"
	"github.com/xhad/jurisrag/pkg/llm"
	"github.com/xhad/jurisrag/pkg/processor"
	"github.com/xhad/jurisrag/pkg/rag"
	"github.com/xhad/jurisrag/pkg/registry"
	"github.com/xhad/jurisrag/pkg/userdocs"
)

const content = "Alpha paragraph covers licensing duties for payment institutions in detail.\n\n" +
	"Beta paragraph explains capital requirements and safeguarding of client funds.\n\n" +
	"Gamma paragraph lists reporting obligations to the supervisory authority each year."

type testEnv struct {
	server *Server
	blobs  *fakes.MemoryBlobs
	index  *fakes.MemoryIndex
}

func setupTestServer(t *testing.T) *testEnv {
	t.Helper()
	reg, err := registry.NewSQLite(filepath.Join(t.TempDir(), "registry.db"), "")
	require.NoError(t, err)
	t.Cleanup(func() { reg.Close() })

	env := &testEnv{blobs: fakes.NewMemoryBlobs(), index: fakes.NewMemoryIndex()}
	promRegistry := prometheus.NewRegistry()
	embedder := llm.NewEmbedderWithConfig(&fakes.FakeEmbedder{}, llm.EmbedderConfig{Dimension: fakes.FakeDimension})
	svc := rag.New(rag.Deps{
		Registry:   reg,
		Blobs:      types.Ready[types.BlobStore](env.blobs),
		Embedder:   types.Ready[types.Embedder](embedder),
		Index:      types.Ready[types.VectorIndex](env.index),
		Summarizer: types.Ready[types.Summarizer](llm.NewSummarizer(&fakes.FakeModel{Response: "Short summary."}, llm.SummarizerConfig{Model: "fake"})),
		Processor:  processor.NewWithConfig(processor.ProcessorConfig{ChunkSize: 100, ChunkOverlap: 20}),
	}, nil, nil, metrics.New(promRegistry))

	env.server, err = NewServer(svc, promRegistry, zap.NewNop(), nil)
	require.NoError(t, err)
	return env
}

func (env *testEnv) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	env.server.echo.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (env *testEnv) register(t *testing.T) string {
	t.Helper()
	id := uuid.NewString()
	path := "legal/saas/" + id + ".txt"
	env.blobs.Put(path, []byte(content))
	rec := env.do(t, http.MethodPost, "/rag/register", RegisterRequest{
		FileID:        id,
		Filename:      "dpa.txt",
		StoragePath:   path,
		ContentType:   "text/plain",
		Domain:        "legal",
		Sector:        "SaaS",
		Region:        "eu",
		Jurisdictions: []string{"gdpr"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[RegisterResponse](t, rec)
	assert.True(t, resp.Created)
	assert.Equal(t, "File registered for legal/saas", resp.Message)
	return id
}

func TestRegisterReturnsCanonicalID(t *testing.T) {
	env := setupTestServer(t)
	id := uuid.NewString()

	rec := env.do(t, http.MethodPost, "/rag/register", RegisterRequest{
		FileID:      "{" + strings.ToUpper(id) + "}",
		Filename:    "dpa.txt",
		StoragePath: "legal/saas/dpa.txt",
		Domain:      "legal",
		Sector:      "saas",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, id, decode[RegisterResponse](t, rec).FileID)

	rec = env.do(t, http.MethodGet, "/rag/files/"+strings.ToUpper(id), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, id, decode[models.Document](t, rec).ID)
}

func TestNewServer(t *testing.T) {
	t.Run("returns error when logger is nil", func(t *testing.T) {
		_, err := NewServer(&rag.Service{}, nil, nil, nil)
		assert.ErrorContains(t, err, "logger is required")
	})

	t.Run("returns error when service is nil", func(t *testing.T) {
		_, err := NewServer(nil, nil, zap.NewNop(), nil)
		assert.ErrorContains(t, err, "service cannot be nil")
	})

	t.Run("uses defaults when config is nil", func(t *testing.T) {
		env := setupTestServer(t)
		assert.Equal(t, 8000, env.server.config.Port)
		assert.Equal(t, 30, env.server.config.CleanupDays)
	})
}

func TestHandleHealth(t *testing.T) {
	env := setupTestServer(t)

	rec := env.do(t, http.MethodGet, "/health", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	health := decode[rag.Health](t, rec)
	assert.Equal(t, "ok", health.Status)
	assert.Contains(t, health.Sectors, models.SectorSaaS)
	assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))
}

func TestRegisterValidation(t *testing.T) {
	env := setupTestServer(t)

	tests := []struct {
		name string
		req  RegisterRequest
	}{
		{"unknown domain", RegisterRequest{FileID: uuid.NewString(), Filename: "a", StoragePath: "a", Domain: "medicine", Sector: "saas"}},
		{"malformed id", RegisterRequest{FileID: "doc-1", Filename: "a", StoragePath: "a", Domain: "legal", Sector: "saas"}},
		{"unknown jurisdiction", RegisterRequest{FileID: uuid.NewString(), Filename: "a", StoragePath: "a", Domain: "legal", Sector: "saas", Jurisdictions: []string{"mars"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/rag/register", tt.req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestFileLifecycle(t *testing.T) {
	env := setupTestServer(t)
	id := env.register(t)

	rec := env.do(t, http.MethodPost, "/rag/vectorize/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	vec := decode[VectorizeResponse](t, rec)
	assert.Equal(t, 3, vec.ChunksCreated)
	assert.Equal(t, "Vectorized 3 chunks", vec.Message)

	rec = env.do(t, http.MethodGet, "/rag/files?status=indexed&domain=legal", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[ListFilesResponse](t, rec)
	require.Equal(t, 1, list.Count)
	assert.Equal(t, id, list.Files[0].ID)

	rec = env.do(t, http.MethodGet, "/rag/files/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.StatusIndexed, decode[models.Document](t, rec).VectorStatus)

	rec = env.do(t, http.MethodDelete, "/rag/files/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 3, decode[models.DeleteResult](t, rec).VectorsDeleted)
	assert.Zero(t, env.index.Len())

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/rag/files/"+id, nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodDelete, "/rag/files/"+id, nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodPost, "/rag/vectorize/"+uuid.NewString(), nil).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/rag/files/nope", nil).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/rag/files?status=archived", nil).Code)
}

func TestVectorizeWithoutBlob(t *testing.T) {
	env := setupTestServer(t)
	id := uuid.NewString()
	rec := env.do(t, http.MethodPost, "/rag/register", RegisterRequest{
		FileID: id, Filename: "a.txt", StoragePath: "missing.txt", Domain: "legal", Sector: "saas",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/rag/vectorize/"+id, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestQueryEndpoints(t *testing.T) {
	env := setupTestServer(t)
	env.register(t)

	rec := env.do(t, http.MethodPost, "/rag/query", models.QueryParams{
		Query: "capital requirements", Domain: models.DomainLegal, Sector: models.SectorSaaS, Region: models.RegionEU,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	result := decode[models.QueryResult](t, rec)
	assert.Empty(t, result.Error)
	assert.Equal(t, 1, result.VectorsLoaded)
	assert.GreaterOrEqual(t, result.ChunksFound, 1)

	rec = env.do(t, http.MethodPost, "/rag/query", models.QueryParams{Domain: models.DomainLegal, Sector: models.SectorSaaS})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, decode[models.QueryResult](t, rec).Error)

	rec = env.do(t, http.MethodPost, "/rag/compression/query", models.QueryParams{
		Query: "capital requirements", Domain: models.DomainLegal, Sector: models.SectorSaaS,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	compressed := decode[models.CompressedResult](t, rec)
	assert.True(t, compressed.Compressed)
	assert.True(t, strings.HasSuffix(compressed.Context, "Short summary."))

	rec = env.do(t, http.MethodGet, "/rag/compression/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.CompressionHealth{Available: true, Model: "fake"}, decode[models.CompressionHealth](t, rec))

	rec = env.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `jurisrag_queries_total{outcome="success"} 2`)
}

func TestCleanupEndpoint(t *testing.T) {
	env := setupTestServer(t)

	rec := env.do(t, http.MethodPost, "/rag/cleanup?days=7", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Cleaned 0 files, removed 0 vectors", decode[models.CleanupResult](t, rec).Message)

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/rag/cleanup?days=-1", nil).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/rag/cleanup?days=week", nil).Code)
}

func TestUserDocEndpoints(t *testing.T) {
	env := setupTestServer(t)

	rec := env.do(t, http.MethodPost, "/user-docs/embed", userdocs.EmbedRequest{
		DocumentID: "lease", ChunkIndex: 0, UserID: "alice", Content: "The tenant pays rent monthly.", Filename: "lease.pdf",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "user_lease_0", decode[userdocs.EmbedResult](t, rec).VectorID)

	rec = env.do(t, http.MethodPost, "/user-docs/search", userdocs.SearchParams{Query: "rent", UserID: "alice"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[userdocs.SearchResult](t, rec).Count)

	rec = env.do(t, http.MethodPost, "/user-docs/search", userdocs.SearchParams{Query: "rent", UserID: "bob"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, decode[userdocs.SearchResult](t, rec).Count)

	rec = env.do(t, http.MethodDelete, "/user-docs/lease?chunk_count=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, decode[models.DeleteResult](t, rec).VectorsDeleted)
	assert.Zero(t, env.index.Len())

	rec = env.do(t, http.MethodDelete, "/user-docs/user/alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Deleted all vectors for user alice", decode[models.DeleteResult](t, rec).Message)

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/user-docs/embed", userdocs.EmbedRequest{UserID: "alice"}).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodDelete, "/user-docs/lease?chunk_count=x", nil).Code)
}

func TestWebSocketQuery(t *testing.T) {
	env := setupTestServer(t)
	env.register(t)

	srv := httptest.NewServer(env.server.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	params, err := json.Marshal(models.QueryParams{Domain: models.DomainLegal, Sector: models.SectorSaaS})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(Message{Type: "query", Content: "capital requirements", Data: params}))

	var status, result struct {
		Type    string             `json:"type"`
		Content string             `json:"content"`
		Data    models.QueryResult `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&status))
	assert.Equal(t, "status", status.Type)
	require.NoError(t, conn.ReadJSON(&result))
	assert.Equal(t, "result", result.Type)
	assert.Equal(t, 1, result.Data.VectorsLoaded)
	assert.Contains(t, result.Content, "[Source: dpa.txt | Region: eu | Jurisdictions: gdpr]")

	require.NoError(t, conn.WriteJSON(Message{Type: "chat"}))
	var unknown reply
	require.NoError(t, conn.ReadJSON(&unknown))
	assert.Equal(t, "error", unknown.Type)
}
