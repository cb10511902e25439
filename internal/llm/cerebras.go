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
	cerebrasAPIURL       = "https://api.cerebras.ai/v1/chat/completions"
	cerebrasModel        = "llama-3.3-70b"
	cerebrasModelVersion = "3.3"
)

// Cerebras uses an OpenAI-compatible chat completions wire format.
type CerebrasClient struct {
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

func NewCerebrasClient(apiKey string) *CerebrasClient {
	return &CerebrasClient{
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(10), 3),
	}
}

func (c *CerebrasClient) ModelName() string    { return cerebrasModel }
func (c *CerebrasClient) ModelVersion() string { return cerebrasModelVersion }

type cerebrasMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type cerebrasRequest struct {
	Model       string            `json:"model"`
	Messages    []cerebrasMessage `json:"messages"`
	Temperature float32           `json:"temperature"`
}

type cerebrasResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func toCerebrasMessages(messages []domain.Message) []cerebrasMessage {
	out := make([]cerebrasMessage, len(messages))
	for i, m := range messages {
		out[i] = cerebrasMessage{Role: m.Role, Content: m.Content}
	}
	return out
}

func (c *CerebrasClient) doChat(ctx context.Context, messages []domain.Message, temp float32) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("llm rate limiter: %w", err)
	}

	body, err := json.Marshal(cerebrasRequest{
		Model:       cerebrasModel,
		Messages:    toCerebrasMessages(messages),
		Temperature: temp,
	})
	if err != nil {
		return "", fmt.Errorf("marshal cerebras request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cerebrasAPIURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create cerebras request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("cerebras request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read cerebras response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("cerebras API returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var result cerebrasResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("unmarshal cerebras response: %w", err)
	}
	if result.Error != nil {
		return "", fmt.Errorf("cerebras API error: %s", result.Error.Message)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("cerebras API returned no choices")
	}

	return strings.TrimSpace(result.Choices[0].Message.Content), nil
}

func (c *CerebrasClient) Complete(ctx context.Context, messages []domain.Message) (string, error) {
	return c.doChat(ctx, messages, 0.2)
}

func (c *CerebrasClient) JSON(ctx context.Context, messages []domain.Message, target any) error {
	result, err := c.doChat(ctx, messages, 0.1)
	if err != nil {
		return err
	}
	return decodeJSONLoose(result, target)
}
