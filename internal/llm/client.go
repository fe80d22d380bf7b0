// Package llm provides LLM client interfaces and implementations.
package llm

import (
	"context"
	"fmt"
)

// Chat roles understood by every provider.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// CompletionRequest represents a completion request.
type CompletionRequest struct {
	Model       string
	System      string
	Messages    []ChatMessage
	MaxTokens   int
	Temperature float64
}

// ChatMessage represents a chat message for LLM.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionResponse represents a completion response.
type CompletionResponse struct {
	Content    string
	Model      string
	TokensIn   int
	TokensOut  int
	StopReason string
	LatencyMs  int64
}

// Client is the interface for LLM providers.
type Client interface {
	// Complete sends a completion request and returns the response.
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)

	// Name returns the provider name.
	Name() string
}

// Provider is the type of LLM provider.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
)

// Keys holds the API key of each provider.
type Keys struct {
	Anthropic string
	OpenAI    string
}

// NewClient creates a new LLM client based on provider.
func NewClient(provider Provider, apiKey string) (Client, error) {
	switch provider {
	case ProviderAnthropic:
		return NewAnthropicClient(apiKey)
	case ProviderOpenAI:
		return NewOpenAIClient(apiKey)
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", provider)
	}
}

// FromKeys returns a client for the preferred provider, falling back to the
// other provider when only its key is set. It returns nil when no key is set.
func FromKeys(preferred Provider, keys Keys) (Client, error) {
	order := []Provider{ProviderAnthropic, ProviderOpenAI}
	if preferred == ProviderOpenAI {
		order = []Provider{ProviderOpenAI, ProviderAnthropic}
	}
	for _, p := range order {
		key := keys.Anthropic
		if p == ProviderOpenAI {
			key = keys.OpenAI
		}
		if key != "" {
			return NewClient(p, key)
		}
	}
	return nil, nil
}
