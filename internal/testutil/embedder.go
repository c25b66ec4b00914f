// Package testutil holds in-memory collaborators for tests.
package testutil

import (
	"context"
	"errors"
	"hash/fnv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/tmc/langchaingo/embeddings"
)

const FakeDimension = 64

var ErrFakeProvider = errors.New("fake provider failure")

// FakeEmbedder is a deterministic langchaingo embedder. Every vector shares
// a dominant first component, so any two texts have cosine similarity above
// 0.9, and overlapping words raise it further.
type FakeEmbedder struct {
	// FailOn makes the call fail when it returns true for the input.
	FailOn func(text string) bool
	// Block makes every call wait for ctx cancellation.
	Block bool

	DocumentCalls atomic.Int64
	QueryCalls    atomic.Int64

	mu     sync.Mutex
	inputs []string
}

var _ embeddings.Embedder = (*FakeEmbedder)(nil)

func (f *FakeEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	f.DocumentCalls.Add(1)
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := f.embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (f *FakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	f.QueryCalls.Add(1)
	return f.embed(ctx, text)
}

func (f *FakeEmbedder) Inputs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.inputs...)
}

func (f *FakeEmbedder) embed(ctx context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	f.inputs = append(f.inputs, text)
	f.mu.Unlock()

	if f.Block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.FailOn != nil && f.FailOn(text) {
		return nil, ErrFakeProvider
	}
	return Vector(text), nil
}

// Vector is the embedding FakeEmbedder returns for text.
func Vector(text string) []float32 {
	v := make([]float32, FakeDimension)
	v[0] = 3
	for _, w := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		v[1+int(h.Sum32()%(FakeDimension-1))] += 0.05
	}
	return v
}
