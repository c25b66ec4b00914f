package testutil

import (
	"context"
	"errors"
	"sync"

	"github.com/tmc/langchaingo/llms"
)

var ErrFakeModel = errors.New("fake model failure")

// FakeModel is a langchaingo llms.Model returning a fixed response or error.
type FakeModel struct {
	Response string
	Err      error

	mu       sync.Mutex
	Messages [][]llms.MessageContent
	Options  []llms.CallOptions
}

var _ llms.Model = (*FakeModel)(nil)

func (f *FakeModel) GenerateContent(_ context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	opts := llms.CallOptions{}
	for _, o := range options {
		o(&opts)
	}

	f.mu.Lock()
	f.Messages = append(f.Messages, messages)
	f.Options = append(f.Options, opts)
	f.mu.Unlock()

	if f.Err != nil {
		return nil, f.Err
	}
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: f.Response}},
	}, nil
}

func (f *FakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

func (f *FakeModel) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Messages)
}
