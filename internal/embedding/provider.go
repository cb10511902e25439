package embedding

import (
	"fmt"

	"github.com/harshitk-cp/mnemex/internal/domain"
)

// Provider constants.
const (
	ProviderOpenAI = "openai"
	ProviderMock   = "mock"
)

// NewClient creates an embedding client based on the provider name, the
// Dynamic provider objects design note of spec.md §9: a capability trait
// with variants injected at construction.
func NewClient(provider, apiKey string, dims int) (domain.EmbeddingClient, error) {
	switch provider {
	case ProviderOpenAI:
		if apiKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required for OpenAI embedding provider")
		}
		return NewOpenAIClient(apiKey), nil

	case ProviderMock, "":
		return NewMockClient(dims), nil

	default:
		return nil, fmt.Errorf("unknown embedding provider: %s (valid options: openai, mock)", provider)
	}
}
