// Package server exposes the retrieval service over HTTP and a websocket
// query stream.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/xhad/jurisrag/internal/models"
	"github.com/xhad/jurisrag/internal/types"
	"github.com/xhad/jurisrag/pkg/pipeline"
	"github.com/xhad/jurisrag/pkg/rag"
	"github.com/xhad/jurisrag/pkg/userdocs"
)

// Service is the part of *rag.Service the handlers use.
type Service interface {
	Register(ctx context.Context, doc models.Document, reindex bool) (bool, error)
	GetFile(ctx context.Context, id string) (models.Document, error)
	ListFiles(ctx context.Context, filter models.FileFilter) ([]models.Document, error)
	DeleteFile(ctx context.Context, id string) (models.DeleteResult, error)
	ForceVectorize(ctx context.Context, id string) (int, error)
	Query(ctx context.Context, params models.QueryParams) models.QueryResult
	CompressedQuery(ctx context.Context, params models.QueryParams) models.CompressedResult
	CompressionHealth() models.CompressionHealth
	Cleanup(ctx context.Context, maxAgeDays int) (models.CleanupResult, error)
	Health() rag.Health
	UserDocs() *userdocs.Service
}

var _ Service = (*rag.Service)(nil)

type Config struct {
	Host        string
	Port        int
	CORSOrigins []string
	// CleanupDays is the age used by POST /rag/cleanup without ?days.
	CleanupDays int
}

type Server struct {
	echo   *echo.Echo
	svc    Service
	logger *zap.Logger
	config *Config
}

// NewServer builds the HTTP server. gatherer backs GET /metrics and may be
// nil to use the default registry.
func NewServer(svc Service, gatherer prometheus.Gatherer, logger *zap.Logger, cfg *Config) (*Server, error) {
	if svc == nil {
		return nil, errors.New("service cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger is required")
	}
	if cfg == nil {
		cfg = &Config{Host: "0.0.0.0", Port: 8000}
	}
	if cfg.CleanupDays <= 0 {
		cfg.CleanupDays = 30
	}
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = []string{"*"}
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{AllowOrigins: cfg.CORSOrigins}))
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return nil
		}
	})

	s := &Server{echo: e, svc: svc, logger: logger.Named("http"), config: cfg}
	s.registerRoutes(gatherer)
	return s, nil
}

func (s *Server) registerRoutes(gatherer prometheus.Gatherer) {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	s.echo.GET("/ws", s.handleWebSocket)

	r := s.echo.Group("/rag")
	r.POST("/register", s.handleRegister)
	r.POST("/vectorize/:id", s.handleVectorize)
	r.POST("/query", s.handleQuery)
	r.GET("/files", s.handleListFiles)
	r.GET("/files/:id", s.handleGetFile)
	r.DELETE("/files/:id", s.handleDeleteFile)
	r.POST("/cleanup", s.handleCleanup)
	r.GET("/compression/health", s.handleCompressionHealth)
	r.POST("/compression/query", s.handleCompressedQuery)

	u := s.echo.Group("/user-docs")
	u.POST("/embed", s.handleUserEmbed)
	u.POST("/search", s.handleUserSearch)
	u.DELETE("/:id", s.handleUserDelete)
	u.DELETE("/user/:user_id", s.handleUserPurge)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.echo }

func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}

// httpError maps service errors onto status codes.
func httpError(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, models.ErrInvalidID), errors.Is(err, models.ErrInvalidInput):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, models.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, types.ErrUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, pipeline.ErrNoVectors):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, s.svc.Health())
}

type RegisterRequest struct {
	FileID        string   `json:"file_id"`
	Filename      string   `json:"filename"`
	StoragePath   string   `json:"storage_path"`
	ContentType   string   `json:"content_type"`
	Domain        string   `json:"domain"`
	Sector        string   `json:"sector"`
	Region        string   `json:"region"`
	Jurisdictions []string `json:"jurisdictions"`
	DocumentType  string   `json:"document_type"`
	Reindex       bool     `json:"reindex"`
}

type RegisterResponse struct {
	Success bool   `json:"success"`
	FileID  string `json:"file_id"`
	Created bool   `json:"created"`
	Message string `json:"message"`
}

func (req RegisterRequest) document() (models.Document, error) {
	doc := models.Document{
		ID:          req.FileID,
		Filename:    req.Filename,
		StoragePath: req.StoragePath,
		ContentType: req.ContentType,
	}
	var err error
	if doc.Domain, err = models.ParseDomain(req.Domain); err != nil {
		return doc, err
	}
	if doc.Sector, err = models.ParseSector(req.Sector); err != nil {
		return doc, err
	}
	if req.Region != "" {
		if doc.Region, err = models.ParseRegion(req.Region); err != nil {
			return doc, err
		}
	}
	if len(req.Jurisdictions) > 0 {
		if doc.Jurisdictions, err = models.ParseJurisdictions(req.Jurisdictions); err != nil {
			return doc, err
		}
	}
	if req.DocumentType != "" {
		if doc.DocumentType, err = models.ParseDocumentType(req.DocumentType); err != nil {
			return doc, err
		}
	}
	return doc, nil
}

func (s *Server) handleRegister(c echo.Context) error {
	var req RegisterRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	doc, err := req.document()
	if err != nil {
		return httpError(err)
	}
	doc.Normalize()
	created, err := s.svc.Register(c.Request().Context(), doc, req.Reindex)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, RegisterResponse{
		Success: true,
		FileID:  doc.ID,
		Created: created,
		Message: fmt.Sprintf("File registered for %s/%s", doc.Domain, doc.Sector),
	})
}

type VectorizeResponse struct {
	Success       bool   `json:"success"`
	FileID        string `json:"file_id"`
	ChunksCreated int    `json:"chunks_created"`
	Message       string `json:"message"`
}

func (s *Server) handleVectorize(c echo.Context) error {
	id := c.Param("id")
	chunks, err := s.svc.ForceVectorize(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, VectorizeResponse{
		Success:       true,
		FileID:        id,
		ChunksCreated: chunks,
		Message:       fmt.Sprintf("Vectorized %d chunks", chunks),
	})
}

func (s *Server) handleQuery(c echo.Context) error {
	var params models.QueryParams
	if err := c.Bind(&params); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	return c.JSON(http.StatusOK, s.svc.Query(c.Request().Context(), params))
}

func (s *Server) handleCompressedQuery(c echo.Context) error {
	var params models.QueryParams
	if err := c.Bind(&params); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	return c.JSON(http.StatusOK, s.svc.CompressedQuery(c.Request().Context(), params))
}

func (s *Server) handleCompressionHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, s.svc.CompressionHealth())
}

type ListFilesResponse struct {
	Files []models.Document `json:"files"`
	Count int               `json:"count"`
}

func fileFilter(c echo.Context) (models.FileFilter, error) {
	var f models.FileFilter
	var err error
	if v := c.QueryParam("domain"); v != "" {
		if f.Domain, err = models.ParseDomain(v); err != nil {
			return f, err
		}
	}
	if v := c.QueryParam("sector"); v != "" {
		if f.Sector, err = models.ParseSector(v); err != nil {
			return f, err
		}
	}
	if v := c.QueryParam("region"); v != "" {
		if f.Region, err = models.ParseRegion(v); err != nil {
			return f, err
		}
	}
	if v := c.QueryParam("document_type"); v != "" {
		if f.DocumentType, err = models.ParseDocumentType(v); err != nil {
			return f, err
		}
	}
	for _, v := range c.QueryParams()["status"] {
		status := models.VectorStatus(v)
		if !status.Valid() {
			return f, fmt.Errorf("%w: unknown vector status %q", models.ErrInvalidInput, v)
		}
		f.Statuses = append(f.Statuses, status)
	}
	return f, nil
}

func (s *Server) handleListFiles(c echo.Context) error {
	filter, err := fileFilter(c)
	if err != nil {
		return httpError(err)
	}
	files, err := s.svc.ListFiles(c.Request().Context(), filter)
	if err != nil {
		return httpError(err)
	}
	if files == nil {
		files = []models.Document{}
	}
	return c.JSON(http.StatusOK, ListFilesResponse{Files: files, Count: len(files)})
}

func (s *Server) handleGetFile(c echo.Context) error {
	doc, err := s.svc.GetFile(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, doc)
}

func (s *Server) handleDeleteFile(c echo.Context) error {
	res, err := s.svc.DeleteFile(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleCleanup(c echo.Context) error {
	days := s.config.CleanupDays
	if v := c.QueryParam("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "days must be an integer")
		}
		days = n
	}
	res, err := s.svc.Cleanup(c.Request().Context(), days)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleUserEmbed(c echo.Context) error {
	var req userdocs.EmbedRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	res, err := s.svc.UserDocs().EmbedChunk(c.Request().Context(), req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleUserSearch(c echo.Context) error {
	var params userdocs.SearchParams
	if err := c.Bind(&params); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	res, err := s.svc.UserDocs().Search(c.Request().Context(), params)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleUserDelete(c echo.Context) error {
	count := 0
	if v := c.QueryParam("chunk_count"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "chunk_count must be an integer")
		}
		count = n
	}
	res, err := s.svc.UserDocs().DeleteDocument(c.Request().Context(), c.Param("id"), count)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleUserPurge(c echo.Context) error {
	res, err := s.svc.UserDocs().PurgeUser(c.Request().Context(), c.Param("user_id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, res)
}
