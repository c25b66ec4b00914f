package llm

import (
	"errors"
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

var ErrNoProvider = errors.New("no provider configured")

// ProviderConfig names a langchaingo backend.
type ProviderConfig struct {
	Provider  string // ollama or openai
	BaseURL   string
	Model     string
	APIKey    string
	BatchSize int
}

// NewEmbeddingProvider builds a langchaingo embedder for the configured
// backend.
func NewEmbeddingProvider(config ProviderConfig) (embeddings.Embedder, error) {
	var client embeddings.EmbedderClient

	switch config.Provider {
	case "ollama":
		if config.BaseURL == "" {
			config.BaseURL = "http://localhost:11434" // Default Ollama URL
		}
		llm, err := ollama.New(ollama.WithModel(config.Model), ollama.WithServerURL(config.BaseURL))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize ollama embedder: %w", err)
		}
		client = llm
	case "openai":
		if config.APIKey == "" {
			return nil, fmt.Errorf("%w: openai api key is missing", ErrNoProvider)
		}
		opts := []openai.Option{openai.WithToken(config.APIKey), openai.WithEmbeddingModel(config.Model)}
		if config.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(config.BaseURL))
		}
		llm, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize openai embedder: %w", err)
		}
		client = llm
	case "", "none":
		return nil, ErrNoProvider
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", config.Provider)
	}

	embedOpts := []embeddings.Option{embeddings.WithStripNewLines(false)}
	if config.BatchSize > 0 {
		embedOpts = append(embedOpts, embeddings.WithBatchSize(config.BatchSize))
	}
	embedder, err := embeddings.NewEmbedder(client, embedOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	return embedder, nil
}

// NewChatModel builds a langchaingo chat model for the configured backend.
func NewChatModel(config ProviderConfig) (llms.Model, error) {
	switch config.Provider {
	case "ollama":
		if config.BaseURL == "" {
			config.BaseURL = "http://localhost:11434"
		}
		llm, err := ollama.New(ollama.WithModel(config.Model), ollama.WithServerURL(config.BaseURL))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize LLM: %w", err)
		}
		return llm, nil
	case "openai":
		if config.APIKey == "" {
			return nil, fmt.Errorf("%w: openai api key is missing", ErrNoProvider)
		}
		opts := []openai.Option{openai.WithToken(config.APIKey), openai.WithModel(config.Model)}
		if config.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(config.BaseURL))
		}
		llm, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize LLM: %w", err)
		}
		return llm, nil
	case "", "none":
		return nil, ErrNoProvider
	default:
		return nil, fmt.Errorf("unknown chat provider %q", config.Provider)
	}
}
