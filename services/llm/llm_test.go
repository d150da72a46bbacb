package llm

import (
	"context"
	"errors"
	"math"
	"testing"
)

func TestHashEmbedderDeterministic(t *testing.T) {
	e := NewHashEmbedder(256)
	a, err := e.Embed(context.Background(), "production down 500 errors in us-east-1")
	if err != nil {
		t.Fatalf("embed failed: %v", err)
	}
	b, _ := e.Embed(context.Background(), "production down 500 errors in us-east-1")
	if sim := CosineSimilarity(a, b); math.Abs(sim-1.0) > 1e-6 {
		t.Errorf("identical text must embed identically, similarity %v", sim)
	}
}

func TestHashEmbedderOverlapDrivesSimilarity(t *testing.T) {
	e := NewHashEmbedder(512)
	ctx := context.Background()
	base, _ := e.Embed(ctx, "dashboard returns 500 errors since this morning in production")
	near, _ := e.Embed(ctx, "dashboard returning 500 errors in production since morning")
	far, _ := e.Embed(ctx, "please send me an invoice copy for last month")

	if CosineSimilarity(base, near) <= CosineSimilarity(base, far) {
		t.Error("overlapping tickets must score higher than unrelated ones")
	}
}

func TestCosineSimilarityDegenerateInputs(t *testing.T) {
	if got := CosineSimilarity([]float32{1, 2}, []float32{1, 2, 3}); got != 0 {
		t.Errorf("mismatched lengths should score 0, got %v", got)
	}
	if got := CosineSimilarity([]float32{0, 0}, []float32{0, 0}); got != 0 {
		t.Errorf("zero vectors should score 0, got %v", got)
	}
}

func TestMockClientRefusesGeneration(t *testing.T) {
	m := NewMockClient()
	if m.Mode() != ModeMock {
		t.Errorf("unexpected mode %q", m.Mode())
	}
	_, err := m.CompleteJSON(context.Background(), "system", "user")
	if !errors.Is(err, ErrMockBackend) {
		t.Errorf("expected ErrMockBackend, got %v", err)
	}
}
