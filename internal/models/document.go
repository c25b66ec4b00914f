package models

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidID    = errors.New("invalid document id")
	ErrInvalidInput = errors.New("invalid input")
)

type Domain string

const (
	DomainLegal   Domain = "legal"
	DomainFinance Domain = "finance"
)

var Domains = []Domain{DomainLegal, DomainFinance}

func (d Domain) Valid() bool { return slices.Contains(Domains, d) }

type Sector string

const (
	SectorFintech    Sector = "fintech"
	SectorGreentech  Sector = "greentech"
	SectorHealthtech Sector = "healthtech"
	SectorSaaS       Sector = "saas"
	SectorEcommerce  Sector = "ecommerce"
)

var Sectors = []Sector{SectorFintech, SectorGreentech, SectorHealthtech, SectorSaaS, SectorEcommerce}

func (s Sector) Valid() bool { return slices.Contains(Sectors, s) }

// Region is the geographic scope of a document. RegionGlobal matches every
// region filter.
type Region string

const (
	RegionGlobal Region = "global"
	RegionEU     Region = "eu"
	RegionUS     Region = "us"
	RegionUK     Region = "uk"
	RegionIndia  Region = "india"
	RegionAPAC   Region = "apac"
	RegionLATAM  Region = "latam"
	RegionMENA   Region = "mena"
	RegionCanada Region = "canada"
)

var Regions = []Region{
	RegionGlobal, RegionEU, RegionUS, RegionUK, RegionIndia,
	RegionAPAC, RegionLATAM, RegionMENA, RegionCanada,
}

func (r Region) Valid() bool { return slices.Contains(Regions, r) }

// Jurisdiction is a regulatory framework tag. JurisdictionGeneral matches
// every jurisdiction filter.
type Jurisdiction string

const (
	JurisdictionGeneral    Jurisdiction = "general"
	JurisdictionGDPR       Jurisdiction = "gdpr"
	JurisdictionCCPA       Jurisdiction = "ccpa"
	JurisdictionLGPD       Jurisdiction = "lgpd"
	JurisdictionPIPEDA     Jurisdiction = "pipeda"
	JurisdictionPDPA       Jurisdiction = "pdpa"
	JurisdictionDPDP       Jurisdiction = "dpdp"
	JurisdictionSEC        Jurisdiction = "sec"
	JurisdictionFINRA      Jurisdiction = "finra"
	JurisdictionFCA        Jurisdiction = "fca"
	JurisdictionSEBI       Jurisdiction = "sebi"
	JurisdictionMAS        Jurisdiction = "mas"
	JurisdictionESMA       Jurisdiction = "esma"
	JurisdictionHIPAA      Jurisdiction = "hipaa"
	JurisdictionPCIDSS     Jurisdiction = "pci_dss"
	JurisdictionSOX        Jurisdiction = "sox"
	JurisdictionAMLKYC     Jurisdiction = "aml_kyc"
	JurisdictionDMCA       Jurisdiction = "dmca"
	JurisdictionPatent     Jurisdiction = "patent"
	JurisdictionTrademark  Jurisdiction = "trademark"
	JurisdictionCopyright  Jurisdiction = "copyright"
	JurisdictionEmployment Jurisdiction = "employment"
	JurisdictionLabor      Jurisdiction = "labor"
	JurisdictionCorporate  Jurisdiction = "corporate"
	JurisdictionTax        Jurisdiction = "tax"
	JurisdictionContracts  Jurisdiction = "contracts"
)

var Jurisdictions = []Jurisdiction{
	JurisdictionGeneral,
	JurisdictionGDPR, JurisdictionCCPA, JurisdictionLGPD, JurisdictionPIPEDA, JurisdictionPDPA, JurisdictionDPDP,
	JurisdictionSEC, JurisdictionFINRA, JurisdictionFCA, JurisdictionSEBI, JurisdictionMAS, JurisdictionESMA,
	JurisdictionHIPAA, JurisdictionPCIDSS, JurisdictionSOX, JurisdictionAMLKYC,
	JurisdictionDMCA, JurisdictionPatent, JurisdictionTrademark, JurisdictionCopyright,
	JurisdictionEmployment, JurisdictionLabor,
	JurisdictionCorporate, JurisdictionTax, JurisdictionContracts,
}

func (j Jurisdiction) Valid() bool { return slices.Contains(Jurisdictions, j) }

type DocumentType string

const (
	DocumentTypeRegulation DocumentType = "regulation"
	DocumentTypeGuidance   DocumentType = "guidance"
	DocumentTypeCaseLaw    DocumentType = "case_law"
	DocumentTypeTemplate   DocumentType = "template"
	DocumentTypeGuide      DocumentType = "guide"
	DocumentTypeChecklist  DocumentType = "checklist"
	DocumentTypeAnalysis   DocumentType = "analysis"
	DocumentTypeFAQ        DocumentType = "faq"
)

var DocumentTypes = []DocumentType{
	DocumentTypeRegulation, DocumentTypeGuidance, DocumentTypeCaseLaw, DocumentTypeTemplate,
	DocumentTypeGuide, DocumentTypeChecklist, DocumentTypeAnalysis, DocumentTypeFAQ,
}

func (t DocumentType) Valid() bool { return slices.Contains(DocumentTypes, t) }

// VectorStatus governs whether a document's content is currently searchable.
type VectorStatus string

const (
	StatusPending VectorStatus = "pending"
	StatusIndexed VectorStatus = "indexed"
	StatusExpired VectorStatus = "expired"
)

func (s VectorStatus) Valid() bool {
	return s == StatusPending || s == StatusIndexed || s == StatusExpired
}

// CanTransition reports whether the registry may move a document from s to
// next. Re-vectorizing an indexed document is the only self transition.
func (s VectorStatus) CanTransition(next VectorStatus) bool {
	switch s {
	case StatusPending, StatusExpired:
		return next == StatusIndexed
	case StatusIndexed:
		return next == StatusIndexed || next == StatusExpired
	}
	return false
}

const (
	DefaultContentType  = "application/pdf"
	DefaultDocumentType = DocumentTypeGuide
)

type Document struct {
	ID            string         `json:"id"`
	Filename      string         `json:"filename"`
	StoragePath   string         `json:"storage_path"`
	ContentType   string         `json:"content_type"`
	Domain        Domain         `json:"domain"`
	Sector        Sector         `json:"sector"`
	Region        Region         `json:"region"`
	Jurisdictions []Jurisdiction `json:"jurisdictions"`
	DocumentType  DocumentType   `json:"document_type"`
	VectorStatus  VectorStatus   `json:"vector_status"`
	ChunkCount    int            `json:"chunk_count"`
	LastAccessed  *time.Time     `json:"last_accessed"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Normalize fills the registration defaults.
func (d *Document) Normalize() {
	if id, err := CanonicalID(d.ID); err == nil {
		d.ID = id
	}
	if d.ContentType == "" {
		d.ContentType = DefaultContentType
	}
	if d.Region == "" {
		d.Region = RegionGlobal
	}
	if len(d.Jurisdictions) == 0 {
		d.Jurisdictions = []Jurisdiction{JurisdictionGeneral}
	}
	if d.DocumentType == "" {
		d.DocumentType = DefaultDocumentType
	}
	if d.VectorStatus == "" {
		d.VectorStatus = StatusPending
	}
}

func (d Document) Validate() error {
	if err := ValidateID(d.ID); err != nil {
		return err
	}
	if strings.TrimSpace(d.Filename) == "" {
		return fmt.Errorf("%w: filename is required", ErrInvalidInput)
	}
	if strings.TrimSpace(d.StoragePath) == "" {
		return fmt.Errorf("%w: storage path is required", ErrInvalidInput)
	}
	if !d.Domain.Valid() {
		return fmt.Errorf("%w: unknown domain %q", ErrInvalidInput, d.Domain)
	}
	if !d.Sector.Valid() {
		return fmt.Errorf("%w: unknown sector %q", ErrInvalidInput, d.Sector)
	}
	if !d.Region.Valid() {
		return fmt.Errorf("%w: unknown region %q", ErrInvalidInput, d.Region)
	}
	if len(d.Jurisdictions) == 0 {
		return fmt.Errorf("%w: at least one jurisdiction is required", ErrInvalidInput)
	}
	for _, j := range d.Jurisdictions {
		if !j.Valid() {
			return fmt.Errorf("%w: unknown jurisdiction %q", ErrInvalidInput, j)
		}
	}
	if !d.DocumentType.Valid() {
		return fmt.Errorf("%w: unknown document type %q", ErrInvalidInput, d.DocumentType)
	}
	if !d.VectorStatus.Valid() {
		return fmt.Errorf("%w: unknown vector status %q", ErrInvalidInput, d.VectorStatus)
	}
	return nil
}

// CanonicalID returns the lowercase hyphenated form of a UUID. Upper case,
// braced, urn:uuid: and bare 32-hex spellings all map to the same id.
func CanonicalID(id string) (string, error) {
	u, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return u.String(), nil
}

// ValidateID accepts canonical UUIDs only; other spellings must go through
// CanonicalID first.
func ValidateID(id string) error {
	canonical, err := CanonicalID(id)
	if err != nil {
		return err
	}
	if canonical != id {
		return fmt.Errorf("%w: %q is not canonical", ErrInvalidID, id)
	}
	return nil
}

const jurisdictionSeparator = ","

// JoinJurisdictions serializes a jurisdiction set for index metadata, which has
// no list type.
func JoinJurisdictions(js []Jurisdiction) string {
	parts := make([]string, len(js))
	for i, j := range js {
		parts[i] = string(j)
	}
	return strings.Join(parts, jurisdictionSeparator)
}

func SplitJurisdictions(s string) []Jurisdiction {
	var out []Jurisdiction
	for _, p := range strings.Split(s, jurisdictionSeparator) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, Jurisdiction(p))
		}
	}
	return out
}

// FileFilter narrows registry listings. Zero values mean "any".
type FileFilter struct {
	Domain       Domain
	Sector       Sector
	Region       Region
	DocumentType DocumentType
	Statuses     []VectorStatus
}

// ParseDomain and its siblings normalize user input into an enum value.
func ParseDomain(s string) (Domain, error) { return parseEnum[Domain]("domain", s, Domains) }

func ParseSector(s string) (Sector, error) { return parseEnum[Sector]("sector", s, Sectors) }

func ParseRegion(s string) (Region, error) { return parseEnum[Region]("region", s, Regions) }

func ParseDocumentType(s string) (DocumentType, error) {
	return parseEnum[DocumentType]("document type", s, DocumentTypes)
}

func ParseJurisdictions(values []string) ([]Jurisdiction, error) {
	out := make([]Jurisdiction, 0, len(values))
	for _, v := range values {
		j, err := parseEnum[Jurisdiction]("jurisdiction", v, Jurisdictions)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, nil
}

func parseEnum[T ~string](kind, s string, allowed []T) (T, error) {
	v := T(strings.ToLower(strings.TrimSpace(s)))
	if !slices.Contains(allowed, v) {
		return "", fmt.Errorf("%w: unknown %s %q", ErrInvalidInput, kind, s)
	}
	return v, nil
}
