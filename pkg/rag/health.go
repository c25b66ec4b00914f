package rag

import (
	"github.com/xhad/jurisrag/internal/models"
	"github.com/xhad/jurisrag/internal/types"
)

type ComponentHealth struct {
	Backend   string `json:"backend,omitempty"`
	Available bool   `json:"available"`
	Error     string `json:"error,omitempty"`
}

// Health is the service status plus the vocabularies clients may use in
// registrations and queries.
type Health struct {
	Status        string                   `json:"status"`
	Registry      ComponentHealth          `json:"registry"`
	Storage       ComponentHealth          `json:"storage"`
	Embedding     ComponentHealth          `json:"embedding"`
	Index         ComponentHealth          `json:"index"`
	Compression   models.CompressionHealth `json:"compression"`
	Domains       []models.Domain          `json:"domains"`
	Sectors       []models.Sector          `json:"sectors"`
	Regions       []models.Region          `json:"regions"`
	Jurisdictions []models.Jurisdiction    `json:"jurisdictions"`
	DocumentTypes []models.DocumentType    `json:"document_types"`
}

// Health reports "ok" when queries can run end to end and "degraded" when
// the embedder or the index is missing.
func (s *Service) Health() Health {
	h := Health{
		Status:        "ok",
		Registry:      ComponentHealth{Backend: s.config.Database.Driver, Available: s.deps.Registry != nil},
		Storage:       component(s.config.Storage.Backend, s.deps.Blobs),
		Embedding:     component(s.config.Embedding.Provider, s.deps.Embedder),
		Index:         component(s.config.Index.Backend, s.deps.Index),
		Compression:   s.CompressionHealth(),
		Domains:       models.Domains,
		Sectors:       models.Sectors,
		Regions:       models.Regions,
		Jurisdictions: models.Jurisdictions,
		DocumentTypes: models.DocumentTypes,
	}
	if !h.Embedding.Available || !h.Index.Available {
		h.Status = "degraded"
	}
	return h
}

func component[T any](backend string, h types.Handle[T]) ComponentHealth {
	if _, err := h.Get(); err != nil {
		return ComponentHealth{Backend: backend, Error: err.Error()}
	}
	return ComponentHealth{Backend: backend, Available: true}
}
