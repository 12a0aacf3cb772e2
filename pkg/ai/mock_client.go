// Package ai provides mock AI client implementation for testing.
package ai

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// MockClient implements the AIClient interface without a network call,
// for tests and local runs with no classifier backend configured. It
// looks for iteration keywords ("iteration", "refine", "revised") and
// convergence keywords ("convergence", "different angle", "context") in
// the last message to return a plausible-looking verdict payload, and
// returns a duplicate_work verdict when neither set matches.
type MockClient struct {
	config *BaseConfig
}

// NewMockClient creates a new mock AI client.
func NewMockClient() *MockClient {
	return &MockClient{
		config: &BaseConfig{
			Model:       "mock-model",
			MaxTokens:   512,
			Temperature: 0,
			Enabled:     true,
		},
	}
}

// Complete returns a mock completion response.
func (c *MockClient) Complete(_ context.Context, request *CompletionRequest) (*CompletionResponse, error) {
	content := c.generateMockContent(request)

	return &CompletionResponse{
		ID:           fmt.Sprintf("mock_%d", time.Now().UnixNano()),
		Content:      content,
		Model:        c.config.Model,
		FinishReason: "stop",
		Usage: Usage{
			PromptTokens:     len(request.Messages) * 10,
			CompletionTokens: len(content) / 4,
			TotalTokens:      len(request.Messages)*10 + len(content)/4,
		},
		ProcessingTime: time.Millisecond,
		Provider:       "mock",
		CreatedAt:      time.Now(),
	}, nil
}

// Test always returns nil for the mock client.
func (c *MockClient) Test(_ context.Context) error {
	return nil
}

// GetConfig returns the mock client configuration.
func (c *MockClient) GetConfig() *BaseConfig {
	return c.config
}

func (c *MockClient) generateMockContent(request *CompletionRequest) string {
	if len(request.Messages) == 0 {
		return `{"type":"duplicate_work","direction":"unknown","reasoning":"empty request","keep":"first"}`
	}

	lastMessage := strings.ToLower(request.Messages[len(request.Messages)-1].Content)

	switch {
	case contains(lastMessage, "iteration", "refine", "revised"):
		return `{"type":"sequential_iteration","direction":"forward","reasoning":"second chunk refines the first","keep":"second"}`
	case contains(lastMessage, "convergence", "different angle", "context"):
		return `{"type":"contextual_convergence","direction":"unknown","reasoning":"related but independently authored","keep":"merge"}`
	default:
		return `{"type":"duplicate_work","direction":"unknown","reasoning":"near-identical content","keep":"first"}`
	}
}

func contains(text string, keywords ...string) bool {
	for _, keyword := range keywords {
		if strings.Contains(text, keyword) {
			return true
		}
	}
	return false
}
