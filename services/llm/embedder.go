package llm

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"math"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// OpenAIEmbedder produces embeddings via the OpenAI embeddings API.
type OpenAIEmbedder struct {
	client *openai.Client
	model  openai.EmbeddingModel
}

// NewOpenAIEmbedder builds an embedder sharing the reasoner's credential.
func NewOpenAIEmbedder(apiKey, baseURL string) *OpenAIEmbedder {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIEmbedder{
		client: openai.NewClientWithConfig(cfg),
		model:  openai.SmallEmbedding3,
	}
}

// Embed implements the Embedder interface.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: e.model,
	})
	if err != nil {
		slog.Error("Embedding request failed", "error", err)
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("embedding response contained no data")
	}
	return resp.Data[0].Embedding, nil
}

// HashEmbedder is the deterministic embedding backend for mock mode and
// tests. It hashes lowercased tokens into a fixed-size bag-of-words vector
// and L2-normalizes it, so identical text always embeds identically and
// token overlap drives similarity.
type HashEmbedder struct {
	dim int
}

// NewHashEmbedder returns a hash embedder with the given dimensionality.
// Zero or negative dim falls back to 512.
func NewHashEmbedder(dim int) *HashEmbedder {
	if dim <= 0 {
		dim = 512
	}
	return &HashEmbedder{dim: dim}
}

// Embed implements the Embedder interface. Never fails.
func (e *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dim)
	for _, tok := range tokenize(text) {
		h := fnv.New32a()
		h.Write([]byte(tok))
		vec[int(h.Sum32())%e.dim]++
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}
	return vec, nil
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
}

var (
	_ Embedder = (*OpenAIEmbedder)(nil)
	_ Embedder = (*HashEmbedder)(nil)
)
