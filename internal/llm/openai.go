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
	openAIChatURL         = "https://api.openai.com/v1/chat/completions"
	openAIChatModel       = "gpt-4o-mini"
	openAIModelVersionLLM = "2024-07"
)

// OpenAIClient implements domain.LLMClient against the OpenAI chat
// completions endpoint.
type OpenAIClient struct {
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

func NewOpenAIClient(apiKey string) *OpenAIClient {
	return &OpenAIClient{
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(10), 3),
	}
}

func (c *OpenAIClient) ModelName() string    { return openAIChatModel }
func (c *OpenAIClient) ModelVersion() string { return openAIModelVersionLLM }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float32       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func toChatMessages(messages []domain.Message) []chatMessage {
	out := make([]chatMessage, len(messages))
	for i, m := range messages {
		out[i] = chatMessage{Role: m.Role, Content: m.Content}
	}
	return out
}

func (c *OpenAIClient) doChat(ctx context.Context, messages []domain.Message, temp float32) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("llm rate limiter: %w", err)
	}

	body, err := json.Marshal(chatRequest{
		Model:       openAIChatModel,
		Messages:    toChatMessages(messages),
		Temperature: temp,
	})
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, openAIChatURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("chat request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read chat response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("chat API returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var result chatResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("unmarshal chat response: %w", err)
	}
	if result.Error != nil {
		return "", fmt.Errorf("chat API error: %s", result.Error.Message)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("chat API returned no choices")
	}
	return strings.TrimSpace(result.Choices[0].Message.Content), nil
}

func (c *OpenAIClient) Complete(ctx context.Context, messages []domain.Message) (string, error) {
	return c.doChat(ctx, messages, 0.3)
}

// JSON asks for a completion and decodes it as JSON into target, tolerant
// of markdown code fences some models still wrap objects in.
func (c *OpenAIClient) JSON(ctx context.Context, messages []domain.Message, target any) error {
	result, err := c.doChat(ctx, messages, 0.1)
	if err != nil {
		return err
	}
	return decodeJSONLoose(result, target)
}

func decodeJSONLoose(raw string, target any) error {
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)
	if err := json.Unmarshal([]byte(raw), target); err != nil {
		return fmt.Errorf("parse LLM JSON response: %w (raw: %s)", err, raw)
	}
	return nil
}
