package config

import (
	"fmt"
	"net/url"
	"slices"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	// Validate Server config
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errors = append(errors, ValidationError{
			Field:   "server.port",
			Message: "port must be between 1 and 65535",
		})
	}

	// Validate Database config
	if !slices.Contains([]string{"postgres", "sqlite"}, c.Database.Driver) {
		errors = append(errors, ValidationError{
			Field:   "database.driver",
			Message: fmt.Sprintf("unknown driver: %s", c.Database.Driver),
		})
	}
	if c.Database.Driver == "postgres" {
		if c.Database.URL == "" {
			errors = append(errors, ValidationError{
				Field:   "database.url",
				Message: "database URL is required for the postgres driver",
			})
		} else if _, err := url.Parse(c.Database.URL); err != nil {
			errors = append(errors, ValidationError{
				Field:   "database.url",
				Message: "invalid database URL",
			})
		}
	}

	// Validate Storage config
	if !slices.Contains([]string{"fs", "supabase", "none"}, c.Storage.Backend) {
		errors = append(errors, ValidationError{
			Field:   "storage.backend",
			Message: fmt.Sprintf("unknown storage backend: %s", c.Storage.Backend),
		})
	}
	if c.Storage.BaseURL != "" && !validHTTPURL(c.Storage.BaseURL) {
		errors = append(errors, ValidationError{
			Field:   "storage.base_url",
			Message: "invalid storage base URL",
		})
	}
	if c.Storage.RateLimit < 0 {
		errors = append(errors, ValidationError{
			Field:   "storage.rate_limit",
			Message: "rate_limit must not be negative",
		})
	}

	// Validate Embedding config
	if !slices.Contains([]string{"ollama", "openai", "none"}, c.Embedding.Provider) {
		errors = append(errors, ValidationError{
			Field:   "embedding.provider",
			Message: fmt.Sprintf("unknown embedding provider: %s", c.Embedding.Provider),
		})
	}
	if c.Embedding.BaseURL != "" && !validHTTPURL(c.Embedding.BaseURL) {
		errors = append(errors, ValidationError{
			Field:   "embedding.base_url",
			Message: "invalid embedding base URL",
		})
	}
	if c.Embedding.Dimension < 1 {
		errors = append(errors, ValidationError{
			Field:   "embedding.dimension",
			Message: "dimension must be positive",
		})
	}
	if c.Embedding.MaxChars < 1 {
		errors = append(errors, ValidationError{
			Field:   "embedding.max_chars",
			Message: "max_chars must be positive",
		})
	}
	if c.Embedding.BatchSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "embedding.batch_size",
			Message: "batch_size must be positive",
		})
	}

	// Validate Index config
	if !slices.Contains([]string{"pgvector", "qdrant", "chromem", "none"}, c.Index.Backend) {
		errors = append(errors, ValidationError{
			Field:   "index.backend",
			Message: fmt.Sprintf("unknown index backend: %s", c.Index.Backend),
		})
	}

	// Validate Processor config
	if c.Processor.ChunkSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "processor.chunk_size",
			Message: "chunk_size must be positive",
		})
	}

	if c.Processor.ChunkOverlap < 0 || c.Processor.ChunkOverlap >= c.Processor.ChunkSize {
		errors = append(errors, ValidationError{
			Field:   "processor.chunk_overlap",
			Message: "chunk_overlap must be non-negative and less than chunk_size",
		})
	}

	// Validate Query config
	if c.Query.DefaultLimit < 1 || c.Query.DefaultLimit > c.Query.MaxLimit {
		errors = append(errors, ValidationError{
			Field:   "query.default_limit",
			Message: "default_limit must be between 1 and max_limit",
		})
	}
	if c.Query.Overfetch < 1 {
		errors = append(errors, ValidationError{
			Field:   "query.overfetch",
			Message: "overfetch must be at least 1",
		})
	}
	if c.Query.MinScore < -1 || c.Query.MinScore > 1 {
		errors = append(errors, ValidationError{
			Field:   "query.min_score",
			Message: "min_score must be between -1 and 1",
		})
	}

	// Validate Compression config
	if !slices.Contains([]string{"ollama", "openai", "none"}, c.Compression.Provider) {
		errors = append(errors, ValidationError{
			Field:   "compression.provider",
			Message: fmt.Sprintf("unknown compression provider: %s", c.Compression.Provider),
		})
	}
	if c.Compression.MaxTokens < 1 || c.Compression.MaxTokens > 4096 {
		errors = append(errors, ValidationError{
			Field:   "compression.max_tokens",
			Message: "max_tokens must be between 1 and 4096",
		})
	}

	// Validate Cleanup config
	if c.Cleanup.MaxAgeDays < 1 {
		errors = append(errors, ValidationError{
			Field:   "cleanup.max_age_days",
			Message: "max_age_days must be positive",
		})
	}

	return errors
}

func validHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
