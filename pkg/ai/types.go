// Package ai provides the low-level completion-request transport the
// Classifier Adapter uses to reach a pairwise-merge classifier model.
package ai

import (
	"context"
	"time"
)

// Config holds AI client configuration.
type Config struct {
	Provider   string        `json:"provider"` // "claude", "openai", "mock"
	APIKey     string        `json:"api_key"`
	BaseURL    string        `json:"base_url"`
	Model      string        `json:"model"`
	Timeout    time.Duration `json:"timeout"`
	MaxRetries int           `json:"max_retries"`
	RetryDelay time.Duration `json:"retry_delay"`
}

// DefaultConfig returns a default configuration.
func DefaultConfig() *Config {
	return &Config{
		Provider:   "mock",
		Timeout:    30 * time.Second,
		MaxRetries: 3,
		RetryDelay: time.Second,
	}
}

// AIClient defines the interface for low-level AI model clients.
type AIClient interface {
	Complete(ctx context.Context, request *CompletionRequest) (*CompletionResponse, error)
	Test(ctx context.Context) error
	GetConfig() *BaseConfig
}

// CompletionRequest represents a direct completion request to an AI model.
type CompletionRequest struct {
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
}

// Message represents a single message in a conversation.
type Message struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

// CompletionResponse represents a completion response from an AI model.
type CompletionResponse struct {
	ID             string        `json:"id"`
	Content        string        `json:"content"`
	Model          string        `json:"model"`
	FinishReason   string        `json:"finish_reason"`
	Usage          Usage         `json:"usage"`
	ProcessingTime time.Duration `json:"processing_time"`
	Provider       string        `json:"provider"`
	CreatedAt      time.Time     `json:"created_at"`
}

// Usage represents token usage statistics.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
