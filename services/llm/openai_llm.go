package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// OpenAIClient is the real reasoner backend, speaking any OpenAI-compatible
// chat completions API.
type OpenAIClient struct {
	client *openai.Client
	model  string
}

// NewOpenAIClient builds a client from the environment. The API key is read
// from OPENAI_API_KEY, falling back to the container secret mount.
func NewOpenAIClient() (*OpenAIClient, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	model := os.Getenv("OPENAI_MODEL") // e.g., "gpt-4o"
	baseURL := os.Getenv("OPENAI_BASE_URL")
	if apiKey == "" {
		secretPath := "/run/secrets/openai_api_key"
		apiKeyBytes, err := os.ReadFile(secretPath)
		if err == nil {
			apiKey = strings.TrimSpace(string(apiKeyBytes))
			slog.Info("Read the OpenAI API key from secrets mount")
		} else {
			slog.Error("OPENAI_API_KEY environment variable not set and secret not found", "path", secretPath)
			return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set")
		}
	}
	if model == "" {
		model = "gpt-4o-mini"
		slog.Warn("OPENAI_MODEL not set, defaulting to gpt-4o-mini")
	}

	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
		slog.Info("Using custom OpenAI base URL", "base_url", baseURL)
	}
	slog.Info("Initializing OpenAI client", "model", model)
	return &OpenAIClient{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}, nil
}

// CompleteJSON implements the LLMClient interface. The request forces JSON
// object output; the decoded object is returned as-is and shape validation
// is the caller's job.
func (o *OpenAIClient) CompleteJSON(ctx context.Context, systemPrompt string, userPrompt string) (map[string]any, error) {
	slog.Debug("Requesting JSON completion", "model", o.model)
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if systemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role: openai.ChatMessageRoleSystem, Content: systemPrompt,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role: openai.ChatMessageRoleUser, Content: userPrompt,
	})

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       o.model,
		Messages:    messages,
		Temperature: 0.3,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		slog.Error("OpenAI API call failed", "error", err)
		return nil, fmt.Errorf("OpenAI API call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		slog.Warn("OpenAI returned no choices")
		return nil, fmt.Errorf("OpenAI returned no choices")
	}

	content := resp.Choices[0].Message.Content
	var out map[string]any
	if err := json.Unmarshal([]byte(content), &out); err != nil {
		slog.Warn("OpenAI returned non-JSON content", "error", err)
		return nil, fmt.Errorf("decode completion JSON: %w", err)
	}
	slog.Debug("Received JSON completion", "finish_reason", resp.Choices[0].FinishReason)
	return out, nil
}

// Mode reports the live backend.
func (o *OpenAIClient) Mode() string {
	return ModeReal
}
