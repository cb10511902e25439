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
	geminiBaseURL      = "https://generativelanguage.googleapis.com/v1beta/models/gemini-2.0-flash:generateContent"
	geminiModelName    = "gemini-2.0-flash"
	geminiModelVersion = "2.0"
)

// GeminiClient implements domain.LLMClient against the Gemini
// generateContent API.
type GeminiClient struct {
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

func NewGeminiClient(apiKey string) *GeminiClient {
	return &GeminiClient{
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(10), 3),
	}
}

func (c *GeminiClient) ModelName() string    { return geminiModelName }
func (c *GeminiClient) ModelVersion() string { return geminiModelVersion }

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
	Role  string       `json:"role,omitempty"`
}

type geminiGenerationConfig struct {
	Temperature float32 `json:"temperature"`
}

type geminiRequest struct {
	Contents         []geminiContent        `json:"contents"`
	GenerationConfig geminiGenerationConfig `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error,omitempty"`
}

func toGeminiContents(messages []domain.Message) []geminiContent {
	out := make([]geminiContent, len(messages))
	for i, m := range messages {
		role := m.Role
		if role == "assistant" {
			role = "model"
		} else {
			role = "user"
		}
		out[i] = geminiContent{Parts: []geminiPart{{Text: m.Content}}, Role: role}
	}
	return out
}

func (c *GeminiClient) doChat(ctx context.Context, messages []domain.Message, temp float32) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("llm rate limiter: %w", err)
	}

	body, err := json.Marshal(geminiRequest{
		Contents:         toGeminiContents(messages),
		GenerationConfig: geminiGenerationConfig{Temperature: temp},
	})
	if err != nil {
		return "", fmt.Errorf("marshal gemini request: %w", err)
	}

	url := fmt.Sprintf("%s?key=%s", geminiBaseURL, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create gemini request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("gemini request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read gemini response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("gemini API returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var result geminiResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("unmarshal gemini response: %w", err)
	}
	if result.Error != nil {
		return "", fmt.Errorf("gemini API error: %s", result.Error.Message)
	}
	if len(result.Candidates) == 0 || len(result.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("gemini API returned no content")
	}

	return strings.TrimSpace(result.Candidates[0].Content.Parts[0].Text), nil
}

func (c *GeminiClient) Complete(ctx context.Context, messages []domain.Message) (string, error) {
	return c.doChat(ctx, messages, 0.3)
}

func (c *GeminiClient) JSON(ctx context.Context, messages []domain.Message, target any) error {
	result, err := c.doChat(ctx, messages, 0.1)
	if err != nil {
		return err
	}
	return decodeJSONLoose(result, target)
}
