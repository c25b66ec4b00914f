package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var envKeys = []string{
	"DATABASE_URL", "OLLAMA_BASE_URL", "OPENAI_API_KEY", "SUPABASE_URL",
	"SUPABASE_SERVICE_KEY", "SUPABASE_STORAGE_BUCKET", "QDRANT_HOST",
	"QDRANT_API_KEY", "PORT", "LOG_LEVEL",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func TestLoadConfig(t *testing.T) {
	clearEnv(t)

	// Create temporary config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configData := `
server:
  port: 9090

database:
  url: "postgres://localhost:5432/test"

embedding:
  provider: ollama
  base_url: "http://localhost:11434"
  model: "nomic-embed-text"
  timeout: 10s

index:
  backend: qdrant
  qdrant_host: localhost

processor:
  chunk_size: 500
  chunk_overlap: 100

query:
  overfetch: 4

compression:
  provider: ollama
  max_tokens: 256

cleanup:
  max_age_days: 14
  interval: 6h
`
	err := os.WriteFile(configPath, []byte(configData), 0644)
	require.NoError(t, err)

	// Test loading config
	config, err := LoadConfig(configPath)
	require.NoError(t, err)

	// Verify loaded values
	assert.Equal(t, 9090, config.Server.Port)
	assert.Equal(t, "postgres", config.Database.Driver)
	assert.Equal(t, "ollama", config.Embedding.Provider)
	assert.Equal(t, 10*time.Second, config.Embedding.Timeout.Duration())
	assert.Equal(t, "search_document: ", config.Embedding.DocumentPrefix)
	assert.Equal(t, "search_query: ", config.Embedding.QueryPrefix)
	assert.Equal(t, 768, config.Embedding.Dimension)
	assert.Equal(t, "qdrant", config.Index.Backend)
	assert.Equal(t, 500, config.Processor.ChunkSize)
	assert.Equal(t, 4, config.Query.Overfetch)
	assert.Equal(t, 5, config.Query.DefaultLimit)
	assert.Equal(t, "http://localhost:11434", config.Compression.BaseURL)
	assert.Equal(t, 256, config.Compression.MaxTokens)
	assert.Equal(t, 14, config.Cleanup.MaxAgeDays)
	assert.Equal(t, 6*time.Hour, config.Cleanup.Interval.Duration())
	assert.Empty(t, config.Validate())
}

func TestLoadConfigRejectsBadDuration(t *testing.T) {
	clearEnv(t)
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("embedding:\n  timeout: soon\n"), 0644))

	_, err := LoadConfig(configPath)
	assert.Error(t, err)
}

func TestDefaultConfig(t *testing.T) {
	clearEnv(t)

	config, err := getDefaultConfig()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", config.Database.Driver)
	assert.Equal(t, "rag_files", config.Database.Table)
	assert.Equal(t, "fs", config.Storage.Backend)
	assert.Equal(t, "none", config.Embedding.Provider)
	assert.Equal(t, "chromem", config.Index.Backend)
	assert.Equal(t, 8000, config.Embedding.MaxChars)
	assert.Equal(t, 30*time.Second, config.Embedding.Timeout.Duration())
	assert.Equal(t, 10, config.Embedding.BatchSize)
	assert.Equal(t, 1000, config.Processor.ChunkSize)
	assert.Equal(t, 200, config.Processor.ChunkOverlap)
	assert.Equal(t, 20, config.Query.MaxLimit)
	assert.Equal(t, 3, config.Query.Overfetch)
	assert.Equal(t, 0.5, config.Query.MinScore)
	assert.Equal(t, "none", config.Compression.Provider)
	assert.Equal(t, 30, config.Cleanup.MaxAgeDays)
	assert.Empty(t, config.Validate())
}

func TestConfigValidation(t *testing.T) {
	valid := func() Config {
		c := Config{}
		applyDefaults(&c)
		return c
	}

	tests := []struct {
		name          string
		mutate        func(*Config)
		errorMessages []string
	}{
		{
			name:   "valid config",
			mutate: func(*Config) {},
		},
		{
			name: "invalid config",
			mutate: func(c *Config) {
				c.Database.Driver = "postgres"
				c.Embedding.Provider = "gemini"
				c.Processor.ChunkOverlap = 1000
				c.Query.Overfetch = -1
				c.Compression.MaxTokens = 5000
			},
			errorMessages: []string{
				"database.url: database URL is required for the postgres driver",
				"embedding.provider: unknown embedding provider: gemini",
				"processor.chunk_overlap: chunk_overlap must be non-negative and less than chunk_size",
				"query.overfetch: overfetch must be at least 1",
				"compression.max_tokens: max_tokens must be between 1 and 4096",
			},
		},
		{
			name: "bad urls",
			mutate: func(c *Config) {
				c.Storage.BaseURL = "not a url"
				c.Embedding.BaseURL = "localhost:11434"
			},
			errorMessages: []string{
				"storage.base_url: invalid storage base URL",
				"embedding.base_url: invalid embedding base URL",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)
			errors := c.Validate()
			assert.Len(t, errors, len(tt.errorMessages))

			for i, msg := range tt.errorMessages {
				assert.Contains(t, errors[i].Error(), msg)
			}
		})
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("DATABASE_URL", "postgres://env-db:5432/test")
	t.Setenv("SUPABASE_URL", "https://project.supabase.co")
	t.Setenv("SUPABASE_SERVICE_KEY", "service-key")
	t.Setenv("PORT", "7070")
	t.Setenv("LOG_LEVEL", "debug")

	config, err := getDefaultConfig()
	require.NoError(t, err)

	assert.Equal(t, "openai", config.Embedding.Provider)
	assert.Equal(t, "sk-test", config.Embedding.APIKey)
	assert.Equal(t, "text-embedding-3-small", config.Embedding.Model)
	assert.Empty(t, config.Embedding.QueryPrefix)
	assert.Equal(t, "postgres://env-db:5432/test", config.Database.URL)
	assert.Equal(t, "pgvector", config.Index.Backend)
	assert.Equal(t, "supabase", config.Storage.Backend)
	assert.Equal(t, "service-key", config.Storage.APIKey)
	assert.Equal(t, 7070, config.Server.Port)
	assert.Equal(t, "debug", config.Logging.Level)
}
