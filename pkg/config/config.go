package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Storage     StorageConfig     `yaml:"storage"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	Index       IndexConfig       `yaml:"index"`
	Processor   ProcessorConfig   `yaml:"processor"`
	Query       QueryConfig       `yaml:"query"`
	Compression CompressionConfig `yaml:"compression"`
	Cleanup     CleanupConfig     `yaml:"cleanup"`
	Logging     LoggingConfig     `yaml:"logging"`
}

type ServerConfig struct {
	Host        string   `yaml:"host"`
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// DatabaseConfig selects the file registry. An empty URL falls back to the
// embedded SQLite registry.
type DatabaseConfig struct {
	Driver     string `yaml:"driver"` // postgres or sqlite
	URL        string `yaml:"url"`
	SQLitePath string `yaml:"sqlite_path"`
	Table      string `yaml:"table"`
}

type StorageConfig struct {
	Backend   string   `yaml:"backend"` // fs, supabase or none
	Root      string   `yaml:"root"`
	BaseURL   string   `yaml:"base_url"`
	Bucket    string   `yaml:"bucket"`
	APIKey    string   `yaml:"api_key"`
	Timeout   Duration `yaml:"timeout"`
	RateLimit float64  `yaml:"rate_limit"`
}

type EmbeddingConfig struct {
	Provider       string   `yaml:"provider"` // ollama, openai or none
	BaseURL        string   `yaml:"base_url"`
	Model          string   `yaml:"model"`
	APIKey         string   `yaml:"api_key"`
	Dimension      int      `yaml:"dimension"`
	MaxChars       int      `yaml:"max_chars"`
	Timeout        Duration `yaml:"timeout"`
	DocumentPrefix string   `yaml:"document_prefix"`
	QueryPrefix    string   `yaml:"query_prefix"`
	BatchSize      int      `yaml:"batch_size"`
	RateLimit      float64  `yaml:"rate_limit"` // batches per second, 0 is unlimited
}

type IndexConfig struct {
	Backend      string `yaml:"backend"` // pgvector, qdrant, chromem or none
	Table        string `yaml:"table"`
	QdrantHost   string `yaml:"qdrant_host"`
	QdrantPort   int    `yaml:"qdrant_port"`
	QdrantAPIKey string `yaml:"qdrant_api_key"`
	QdrantTLS    bool   `yaml:"qdrant_tls"`
	Collection   string `yaml:"collection"`
	ChromemPath  string `yaml:"chromem_path"`
}

type ProcessorConfig struct {
	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`
}

type QueryConfig struct {
	DefaultLimit int     `yaml:"default_limit"`
	MaxLimit     int     `yaml:"max_limit"`
	Overfetch    int     `yaml:"overfetch"`
	MinScore     float64 `yaml:"min_score"`
}

type CompressionConfig struct {
	Provider  string   `yaml:"provider"` // ollama, openai or none
	BaseURL   string   `yaml:"base_url"`
	Model     string   `yaml:"model"`
	APIKey    string   `yaml:"api_key"`
	MaxTokens int      `yaml:"max_tokens"`
	Timeout   Duration `yaml:"timeout"`
}

type CleanupConfig struct {
	MaxAgeDays int      `yaml:"max_age_days"`
	Interval   Duration `yaml:"interval"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Duration reads Go duration strings ("30s", "24h") from YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	if parsed < 0 {
		return fmt.Errorf("duration cannot be negative: %s", value.Value)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return d.Duration().String(), nil
}

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func LoadConfig(path string) (*Config, error) {
	// If no path provided, try default locations
	if path == "" {
		locations := []string{
			"config.yaml",
			"config.yml",
			filepath.Join(os.Getenv("HOME"), ".config/jurisrag/config.yaml"),
			"/etc/jurisrag/config.yaml",
		}

		for _, loc := range locations {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
	}

	if path == "" {
		return getDefaultConfig()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	// Merge with environment variables
	mergeWithEnv(&config)

	// Apply defaults for unset values
	applyDefaults(&config)

	return &config, nil
}

func getDefaultConfig() (*Config, error) {
	config := &Config{}
	mergeWithEnv(config)
	applyDefaults(config)
	return config, nil
}

func applyDefaults(config *Config) {
	if config.Server.Host == "" {
		config.Server.Host = "0.0.0.0"
	}
	if config.Server.Port == 0 {
		config.Server.Port = 8000
	}

	if config.Database.Driver == "" {
		if config.Database.URL != "" {
			config.Database.Driver = "postgres"
		} else {
			config.Database.Driver = "sqlite"
		}
	}
	if config.Database.SQLitePath == "" {
		config.Database.SQLitePath = "jurisrag.db"
	}
	if config.Database.Table == "" {
		config.Database.Table = "rag_files"
	}

	if config.Storage.Backend == "" {
		if config.Storage.BaseURL != "" {
			config.Storage.Backend = "supabase"
		} else {
			config.Storage.Backend = "fs"
		}
	}
	if config.Storage.Root == "" {
		config.Storage.Root = "data"
	}
	if config.Storage.Bucket == "" {
		config.Storage.Bucket = "rag-documents"
	}
	if config.Storage.Timeout == 0 {
		config.Storage.Timeout = Duration(60 * time.Second)
	}

	applyEmbeddingDefaults(&config.Embedding)

	if config.Index.Backend == "" {
		switch {
		case config.Database.URL != "":
			config.Index.Backend = "pgvector"
		case config.Index.QdrantHost != "":
			config.Index.Backend = "qdrant"
		default:
			config.Index.Backend = "chromem"
		}
	}
	if config.Index.Table == "" {
		config.Index.Table = "rag_vectors"
	}
	if config.Index.QdrantPort == 0 {
		config.Index.QdrantPort = 6334
	}
	if config.Index.Collection == "" {
		config.Index.Collection = "rag_vectors"
	}

	if config.Processor.ChunkSize == 0 {
		config.Processor.ChunkSize = 1000
	}
	if config.Processor.ChunkOverlap == 0 {
		config.Processor.ChunkOverlap = 200
	}

	if config.Query.DefaultLimit == 0 {
		config.Query.DefaultLimit = 5
	}
	if config.Query.MaxLimit == 0 {
		config.Query.MaxLimit = 20
	}
	if config.Query.Overfetch == 0 {
		config.Query.Overfetch = 3
	}
	if config.Query.MinScore == 0 {
		config.Query.MinScore = 0.5
	}

	if config.Compression.Provider == "" {
		config.Compression.Provider = "none"
	}
	if config.Compression.Model == "" {
		switch config.Compression.Provider {
		case "openai":
			config.Compression.Model = "gpt-4o-mini"
		case "ollama":
			config.Compression.Model = "llama3.2"
		}
	}
	if config.Compression.BaseURL == "" && config.Compression.Provider == "ollama" {
		config.Compression.BaseURL = "http://localhost:11434"
	}
	if config.Compression.MaxTokens == 0 {
		config.Compression.MaxTokens = 512
	}
	if config.Compression.Timeout == 0 {
		config.Compression.Timeout = Duration(60 * time.Second)
	}

	if config.Cleanup.MaxAgeDays == 0 {
		config.Cleanup.MaxAgeDays = 30
	}
	if config.Cleanup.Interval == 0 {
		config.Cleanup.Interval = Duration(24 * time.Hour)
	}

	if config.Logging.Level == "" {
		config.Logging.Level = "info"
	}
	if config.Logging.Format == "" {
		config.Logging.Format = "json"
	}
}

func applyEmbeddingDefaults(e *EmbeddingConfig) {
	if e.Provider == "" {
		switch {
		case e.APIKey != "":
			e.Provider = "openai"
		case e.BaseURL != "":
			e.Provider = "ollama"
		default:
			e.Provider = "none"
		}
	}
	if e.Model == "" {
		switch e.Provider {
		case "openai":
			e.Model = "text-embedding-3-small"
		case "ollama":
			e.Model = "nomic-embed-text"
		}
	}
	// nomic models are trained with task prefixes
	if strings.Contains(e.Model, "nomic") && e.DocumentPrefix == "" && e.QueryPrefix == "" {
		e.DocumentPrefix = "search_document: "
		e.QueryPrefix = "search_query: "
	}
	if e.Dimension == 0 {
		if e.Provider == "openai" {
			e.Dimension = 1536
		} else {
			e.Dimension = 768
		}
	}
	if e.MaxChars == 0 {
		e.MaxChars = 8000
	}
	if e.Timeout == 0 {
		e.Timeout = Duration(30 * time.Second)
	}
	if e.BatchSize == 0 {
		e.BatchSize = 10
	}
}

func mergeWithEnv(config *Config) {
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Database.URL = dbURL
	}
	if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" {
		if config.Embedding.Provider == "" || config.Embedding.Provider == "ollama" {
			config.Embedding.BaseURL = baseURL
		}
		if config.Compression.Provider == "ollama" {
			config.Compression.BaseURL = baseURL
		}
	}
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		if config.Embedding.Provider == "" || config.Embedding.Provider == "openai" {
			config.Embedding.APIKey = apiKey
		}
		if config.Compression.Provider == "openai" {
			config.Compression.APIKey = apiKey
		}
	}
	if supabaseURL := os.Getenv("SUPABASE_URL"); supabaseURL != "" {
		config.Storage.BaseURL = supabaseURL
	}
	if key := os.Getenv("SUPABASE_SERVICE_KEY"); key != "" {
		config.Storage.APIKey = key
	}
	if bucket := os.Getenv("SUPABASE_STORAGE_BUCKET"); bucket != "" {
		config.Storage.Bucket = bucket
	}
	if host := os.Getenv("QDRANT_HOST"); host != "" {
		config.Index.QdrantHost = host
	}
	if key := os.Getenv("QDRANT_API_KEY"); key != "" {
		config.Index.QdrantAPIKey = key
	}
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
}
