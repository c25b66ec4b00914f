package processor

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/textsplitter"
	"go.uber.org/zap"
)

var (
	ErrNoText   = errors.New("no text content extracted")
	ErrNoChunks = errors.New("no chunks produced")
)

// Separators in descending granularity: paragraph, line, sentence, word,
// character.
var Separators = []string{"\n\n", "\n", ". ", " ", ""}

type ProcessorConfig struct {
	ChunkSize    int
	ChunkOverlap int
	Logger       *zap.Logger
}

type Processor struct {
	config   ProcessorConfig
	splitter textsplitter.RecursiveCharacter
	logger   *zap.Logger
}

func NewWithConfig(config ProcessorConfig) *Processor {
	if config.ChunkSize == 0 {
		config.ChunkSize = 1000
	}
	if config.ChunkOverlap == 0 {
		config.ChunkOverlap = 200
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Processor{
		config: config,
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(config.ChunkSize),
			textsplitter.WithChunkOverlap(config.ChunkOverlap),
			textsplitter.WithSeparators(Separators),
		),
		logger: logger,
	}
}

func New() *Processor {
	return NewWithConfig(ProcessorConfig{})
}

// Chunk splits text into overlapping segments of at most ChunkSize
// characters. Whitespace-only segments are dropped.
func (p *Processor) Chunk(text string) ([]string, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	splits, err := p.splitter.SplitText(text)
	if err != nil {
		return nil, fmt.Errorf("split text: %w", err)
	}

	chunks := make([]string, 0, len(splits))
	for _, s := range splits {
		if strings.TrimSpace(s) != "" {
			chunks = append(chunks, s)
		}
	}
	return chunks, nil
}

// Process extracts and chunks one document.
func (p *Processor) Process(data []byte, contentType string) ([]string, error) {
	text, err := p.Extract(data, contentType)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, ErrNoText
	}

	chunks, err := p.Chunk(text)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, ErrNoChunks
	}
	return chunks, nil
}
