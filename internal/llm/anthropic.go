package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/harshitk-cp/mnemex/internal/domain"
	"golang.org/x/time/rate"
)

const (
	anthropicMessagesURL  = "https://api.anthropic.com/v1/messages"
	anthropicModel        = "claude-3-5-haiku-20241022"
	anthropicVersion      = "2023-06-01"
	anthropicModelVersion = "2024-10"
)

// AnthropicClient implements domain.LLMClient against the Anthropic
// Messages API.
type AnthropicClient struct {
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

func NewAnthropicClient(apiKey string) *AnthropicClient {
	return &AnthropicClient{
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(10), 3),
	}
}

func (c *AnthropicClient) ModelName() string    { return anthropicModel }
func (c *AnthropicClient) ModelVersion() string { return anthropicModelVersion }

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Messages    []anthropicMessage `json:"messages"`
	Temperature float32            `json:"temperature"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func toAnthropicMessages(messages []domain.Message) []anthropicMessage {
	out := make([]anthropicMessage, len(messages))
	for i, m := range messages {
		role := m.Role
		if role != "user" && role != "assistant" {
			role = "user"
		}
		out[i] = anthropicMessage{Role: role, Content: m.Content}
	}
	return out
}

func (c *AnthropicClient) doChat(ctx context.Context, messages []domain.Message, temp float32) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("llm rate limiter: %w", err)
	}

	body, err := json.Marshal(anthropicRequest{
		Model:       anthropicModel,
		MaxTokens:   2048,
		Messages:    toAnthropicMessages(messages),
		Temperature: temp,
	})
	if err != nil {
		return "", fmt.Errorf("marshal anthropic request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, anthropicMessagesURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create anthropic request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("anthropic request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read anthropic response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("anthropic API returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var result anthropicResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("unmarshal anthropic response: %w", err)
	}
	if result.Error != nil {
		return "", fmt.Errorf("anthropic API error: %s", result.Error.Message)
	}
	if len(result.Content) == 0 {
		return "", fmt.Errorf("anthropic API returned no content")
	}

	return strings.TrimSpace(result.Content[0].Text), nil
}

func (c *AnthropicClient) Complete(ctx context.Context, messages []domain.Message) (string, error) {
	return c.doChat(ctx, messages, 0.3)
}

func (c *AnthropicClient) JSON(ctx context.Context, messages []domain.Message, target any) error {
	result, err := c.doChat(ctx, messages, 0.1)
	if err != nil {
		return err
	}
	return decodeJSONLoose(result, target)
}
