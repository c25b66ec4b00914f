package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/xhad/jurisrag/internal/types"
)

// SummarizerConfig represents the configuration for context compression.
type SummarizerConfig struct {
	Model          string
	SystemTemplate string
	Timeout        time.Duration
}

// Summarizer compresses retrieved chunks into a shorter context using an LLM.
type Summarizer struct {
	config SummarizerConfig
	llm    llms.Model
}

var _ types.Summarizer = (*Summarizer)(nil)

func NewSummarizer(model llms.Model, config SummarizerConfig) *Summarizer {
	if config.SystemTemplate == "" {
		config.SystemTemplate = "You compress retrieved legal and financial reference material. " +
			"Keep every statement relevant to the question, including article numbers, thresholds, dates and obligations. " +
			"Drop repetition and unrelated passages. Do not answer the question and do not add facts."
	}
	if config.Timeout == 0 {
		config.Timeout = 60 * time.Second
	}

	return &Summarizer{
		config: config,
		llm:    model,
	}
}

func (s *Summarizer) Model() string { return s.config.Model }

// Summarize condenses docs with respect to query, bounded by maxTokens of
// output.
func (s *Summarizer) Summarize(ctx context.Context, docs []string, query string, maxTokens int) (string, error) {
	if len(docs) == 0 {
		return "", errors.New("no documents to summarize")
	}

	var contextBuilder strings.Builder
	contextBuilder.WriteString(fmt.Sprintf("Question: %s\n\nDocuments:\n", query))
	for i, doc := range docs {
		contextBuilder.WriteString(fmt.Sprintf("\n[%d]\n%s\n", i+1, doc))
	}

	content := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, s.config.SystemTemplate),
		llms.TextParts(llms.ChatMessageTypeHuman, contextBuilder.String()),
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	response, err := s.llm.GenerateContent(ctx, content,
		llms.WithMaxTokens(maxTokens),
		llms.WithTemperature(0),
	)
	if err != nil {
		return "", fmt.Errorf("summarize error: %w", err)
	}
	if response == nil || len(response.Choices) == 0 || response.Choices[0] == nil {
		return "", errors.New("summarize error: no response from LLM")
	}

	summary := strings.TrimSpace(response.Choices[0].Content)
	if summary == "" {
		return "", errors.New("summarize error: empty summary")
	}
	return summary, nil
}
