package oracle

import (
	"context"
	"hash/fnv"
	"math"
	"sync"
)

// FakeOracle is a deterministic in-process Embedder and Completer for
// tests. Vectors are derived from the input text so equal texts embed
// equally and different texts (almost always) do not.
type FakeOracle struct {
	mu sync.Mutex

	// Dim is the vector dimensionality. Default: 8.
	Dim int

	// Response is returned verbatim by Complete.
	Response string

	// Usage is returned by Complete.
	Usage TokenUsage

	// EmbedErr, when set, fails all embedding calls.
	EmbedErr error

	// CompleteErr, when set, fails Complete.
	CompleteErr error

	// EmbedCalls counts EmbedTexts and EmbedQuery invocations.
	EmbedCalls int

	// LastSystemPrompt and LastUserPrompt record the latest Complete call.
	LastSystemPrompt string
	LastUserPrompt   string
}

func (f *FakeOracle) dim() int {
	if f.Dim <= 0 {
		return 8
	}
	return f.Dim
}

// EmbedTexts returns one deterministic unit vector per input.
func (f *FakeOracle) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.EmbedCalls++
	err := f.EmbedErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = f.embed(text)
	}
	return vectors, nil
}

// EmbedQuery embeds a single text.
func (f *FakeOracle) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := f.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// Complete returns the configured response and usage.
func (f *FakeOracle) Complete(ctx context.Context, systemPrompt, userPrompt string, maxTokens int, temperature float64) (*Completion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CompleteErr != nil {
		return nil, f.CompleteErr
	}
	f.LastSystemPrompt = systemPrompt
	f.LastUserPrompt = userPrompt
	return &Completion{Text: f.Response, Usage: f.Usage}, nil
}

func (f *FakeOracle) embed(text string) []float32 {
	dim := f.dim()
	vec := make([]float32, dim)
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum64()
	var norm float64
	for i := range vec {
		seed = seed*6364136223846793005 + 1442695040888963407
		v := float64(int64(seed>>11)) / float64(1<<52)
		vec[i] = float32(v)
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm > 0 {
		for i := range vec {
			vec[i] = float32(float64(vec[i]) / norm)
		}
	}
	return vec
}

var (
	_ Embedder  = (*FakeOracle)(nil)
	_ Completer = (*FakeOracle)(nil)
)
