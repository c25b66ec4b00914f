package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/xhad/jurisrag/internal/types"
)

var (
	ErrEmptyQuery = errors.New("query text is empty")
	ErrTimeout    = errors.New("embedding request timed out")
	ErrProvider   = errors.New("embedding provider error")
)

// EmbedderConfig represents the configuration for an embedding client.
type EmbedderConfig struct {
	Model          string
	Timeout        time.Duration
	MaxChars       int
	Dimension      int // 0 disables the check
	DocumentPrefix string
	QueryPrefix    string
}

// Embedder normalizes input text and bounds every provider call with a
// timeout. It never retries.
type Embedder struct {
	config   EmbedderConfig
	provider embeddings.Embedder
}

var _ types.Embedder = (*Embedder)(nil)

func NewEmbedderWithConfig(provider embeddings.Embedder, config EmbedderConfig) *Embedder {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxChars == 0 {
		config.MaxChars = 8000
	}

	return &Embedder{
		config:   config,
		provider: provider,
	}
}

func (e *Embedder) Model() string { return e.config.Model }

// Embed returns the vector for text in the given role. Document text that
// is empty after normalization is embedded as "empty" so every chunk maps
// to exactly one vector.
func (e *Embedder) Embed(ctx context.Context, text string, role types.EmbedRole) ([]float32, error) {
	input := NormalizeText(text)
	if input == "" {
		if role == types.RoleQuery {
			return nil, ErrEmptyQuery
		}
		input = "empty"
	}

	switch role {
	case types.RoleQuery:
		input = e.config.QueryPrefix + input
	default:
		input = e.config.DocumentPrefix + input
	}
	input = truncate(input, e.config.MaxChars)

	vec, err := e.call(ctx, input, role)
	if err != nil {
		return nil, err
	}
	if e.config.Dimension > 0 && len(vec) != e.config.Dimension {
		return nil, fmt.Errorf("%w: expected dimension %d, got %d", ErrProvider, e.config.Dimension, len(vec))
	}
	return vec, nil
}

type embedResult struct {
	vec []float32
	err error
}

func (e *Embedder) call(ctx context.Context, input string, role types.EmbedRole) ([]float32, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	// Buffered so the goroutine can exit after a timeout.
	done := make(chan embedResult, 1)
	go func() {
		var res embedResult
		if role == types.RoleQuery {
			res.vec, res.err = e.provider.EmbedQuery(callCtx, input)
		} else {
			var vecs [][]float32
			vecs, res.err = e.provider.EmbedDocuments(callCtx, []string{input})
			if res.err == nil {
				if len(vecs) != 1 {
					res.err = fmt.Errorf("expected 1 embedding, got %d", len(vecs))
				} else {
					res.vec = vecs[0]
				}
			}
		}
		done <- res
	}()

	select {
	case res := <-done:
		if res.err != nil {
			if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
				return nil, fmt.Errorf("%w after %s", ErrTimeout, e.config.Timeout)
			}
			return nil, fmt.Errorf("%w: %v", ErrProvider, res.err)
		}
		if len(res.vec) == 0 {
			return nil, fmt.Errorf("%w: empty embedding", ErrProvider)
		}
		return res.vec, nil
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w after %s", ErrTimeout, e.config.Timeout)
	}
}

// NormalizeText collapses line breaks into spaces and trims the result.
func NormalizeText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", " ")
	text = strings.ReplaceAll(text, "\n", " ")
	text = strings.ReplaceAll(text, "\r", " ")
	return strings.TrimSpace(text)
}

func truncate(s string, maxChars int) string {
	if maxChars <= 0 {
		return s
	}
	n := 0
	for i := range s {
		if n == maxChars {
			return s[:i]
		}
		n++
	}
	return s
}
