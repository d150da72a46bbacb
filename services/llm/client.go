package llm

import (
	"context"
	"errors"
	"math"
)

// Reasoner backend modes.
const (
	ModeMock = "mock"
	ModeReal = "real"
)

// ErrMockBackend is returned by the mock client's generative method. Callers
// that see it switch to their deterministic path.
var ErrMockBackend = errors.New("mock backend has no generative model")

// LLMClient defines the standard interface for any reasoner backend.
// CompleteJSON sends a system and user prompt and expects a single JSON
// object back.
type LLMClient interface {
	CompleteJSON(ctx context.Context, systemPrompt string, userPrompt string) (map[string]any, error)
	Mode() string
}

// Embedder turns text into a vector. The only contract the pipeline relies
// on is that CosineSimilarity over two embeddings behaves as a similarity
// score for ranking, with 1.0 meaning identical.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// CosineSimilarity computes the cosine similarity of two vectors. Returns 0
// for mismatched lengths or zero vectors.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
