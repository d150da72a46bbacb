package llm

import "context"

// MockClient is the deterministic reasoner backend, selected whenever no
// live credential is configured. It has no generative model; pipeline stages
// detect mock mode and run their deterministic generators instead, which
// guarantees byte-identical output for identical input.
type MockClient struct{}

// NewMockClient returns the mock backend.
func NewMockClient() *MockClient {
	return &MockClient{}
}

// CompleteJSON always fails with ErrMockBackend so that callers take their
// deterministic fallback path.
func (m *MockClient) CompleteJSON(_ context.Context, _ string, _ string) (map[string]any, error) {
	return nil, ErrMockBackend
}

// Mode reports the mock backend.
func (m *MockClient) Mode() string {
	return ModeMock
}

// compile-time interface checks
var (
	_ LLMClient = (*MockClient)(nil)
	_ LLMClient = (*OpenAIClient)(nil)
)
