package models

// QueryParams selects the slice of the corpus a query runs against.
type QueryParams struct {
	Query         string         `json:"query"`
	Domain        Domain         `json:"domain"`
	Sector        Sector         `json:"sector"`
	Limit         int            `json:"limit,omitempty"`
	Region        Region         `json:"region,omitempty"`
	Jurisdictions []Jurisdiction `json:"jurisdictions,omitempty"`
	DocumentType  DocumentType   `json:"document_type,omitempty"`
}

type Source struct {
	FileID        string   `json:"file_id"`
	Filename      string   `json:"filename"`
	Score         float64  `json:"score"`
	Domain        string   `json:"domain"`
	Sector        string   `json:"sector"`
	ChunkIndex    int      `json:"chunk_index"`
	Region        string   `json:"region,omitempty"`
	Jurisdictions []string `json:"jurisdictions,omitempty"`
	DocumentType  string   `json:"document_type,omitempty"`
}

// QueryResult is returned by every query-family operation. Failures are
// reported through Error instead of a Go error.
type QueryResult struct {
	Context       string   `json:"context"`
	Sources       []Source `json:"sources"`
	Domain        string   `json:"domain"`
	Sector        string   `json:"sector"`
	Region        string   `json:"region,omitempty"`
	Jurisdictions []string `json:"jurisdictions,omitempty"`
	VectorsLoaded int      `json:"vectors_loaded"`
	LoadFailures  int      `json:"load_failures,omitempty"`
	ChunksFound   int      `json:"chunks_found"`
	Error         string   `json:"error,omitempty"`
}

type CompressedResult struct {
	QueryResult
	Compressed       bool     `json:"compressed"`
	CompressionRatio *float64 `json:"compression_ratio,omitempty"`
	ProcessingTimeMs int64    `json:"processing_time_ms"`
}

type CompressionHealth struct {
	Available bool   `json:"available"`
	Model     string `json:"model,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Failure records one skipped item of a soft-fail batch.
type Failure struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

type CleanupResult struct {
	FilesCleaned   int       `json:"files_cleaned"`
	VectorsRemoved int       `json:"vectors_removed"`
	Failures       []Failure `json:"failures,omitempty"`
	Message        string    `json:"message"`
}

type DeleteResult struct {
	Success        bool   `json:"success"`
	Message        string `json:"message"`
	VectorsDeleted int    `json:"vectors_deleted"`
}
