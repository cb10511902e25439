package llm

import (
	"context"
	"encoding/json"

	"github.com/harshitk-cp/mnemex/internal/domain"
)

// MockClient is a configurable LLM client for testing. Set CompleteResponse
// to control Complete's return; queue JSONResponses to control what
// successive JSON calls decode into target.
type MockClient struct {
	CompleteResponse string
	CompleteError    error

	JSONResponses []any
	JSONError     error

	CompleteCalls [][]domain.Message
	JSONCalls     [][]domain.Message
}

func NewMockClient() *MockClient {
	return &MockClient{CompleteResponse: "mock response"}
}

func (c *MockClient) ModelName() string    { return "mock-llm" }
func (c *MockClient) ModelVersion() string { return "v1" }

func (c *MockClient) Complete(ctx context.Context, messages []domain.Message) (string, error) {
	c.CompleteCalls = append(c.CompleteCalls, messages)
	if c.CompleteError != nil {
		return "", c.CompleteError
	}
	return c.CompleteResponse, nil
}

func (c *MockClient) JSON(ctx context.Context, messages []domain.Message, target any) error {
	c.JSONCalls = append(c.JSONCalls, messages)
	if c.JSONError != nil {
		return c.JSONError
	}
	if len(c.JSONResponses) == 0 {
		return nil
	}
	next := c.JSONResponses[0]
	c.JSONResponses = c.JSONResponses[1:]

	raw, err := json.Marshal(next)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, target)
}

// Reset clears recorded calls and queued responses.
func (c *MockClient) Reset() {
	c.CompleteResponse = "mock response"
	c.CompleteError = nil
	c.JSONResponses = nil
	c.JSONError = nil
	c.CompleteCalls = nil
	c.JSONCalls = nil
}
