package models

import (
	"fmt"
	"strconv"
)

// Metadata keys written on every vector record.
const (
	MetaFileID        = "file_id"
	MetaFilename      = "filename"
	MetaChunkIndex    = "chunk_index"
	MetaDomain        = "domain"
	MetaSector        = "sector"
	MetaRegion        = "region"
	MetaJurisdictions = "jurisdictions"
	MetaDocumentType  = "document_type"
	MetaType          = "type"
	MetaUserID        = "user_id"
	MetaDocumentID    = "document_id"
)

// Record type discriminators.
const (
	RecordTypeCorpus       = "corpus"
	RecordTypeUserDocument = "user_document"
)

// Metadata is the scalar attribute bag stored next to a vector. Backends hand
// values back in different shapes (JSONB numbers are float64, Qdrant integers
// are int64, chromem keeps everything as strings), so reads go through the
// typed accessors.
type Metadata map[string]any

func (m Metadata) String(key string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return ""
	}
	switch val := v.(type) {
	case string:
		return val
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}

func (m Metadata) Int(key string) int {
	switch val := m[key].(type) {
	case int:
		return val
	case int32:
		return int(val)
	case int64:
		return int(val)
	case float32:
		return int(val)
	case float64:
		return int(val)
	case string:
		n, err := strconv.Atoi(val)
		if err != nil {
			return 0
		}
		return n
	}
	return 0
}

// VectorRecord is one chunk as written to the vector index. Records are
// immutable; rewriting the same ID replaces the record.
type VectorRecord struct {
	ID       string
	Vector   []float32
	Metadata Metadata
	Payload  string
}

// Match is a ranked vector index hit. Score is a similarity in [-1, 1],
// higher is closer.
type Match struct {
	ID       string
	Score    float32
	Metadata Metadata
	Payload  string
}
