package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sieve/internal/logging"
	"strings"
	"time"
)

const openAIBaseURL = "https://api.openai.com/v1"

// OpenAIProvider implements the Provider interface for OpenAI
type OpenAIProvider struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
	logger  *logging.Logger
}

// NewOpenAIProvider creates a new OpenAI provider. An empty baseURL uses the public API.
func NewOpenAIProvider(apiKey, model, baseURL string, timeout time.Duration, logger *logging.Logger) *OpenAIProvider {
	if baseURL == "" {
		baseURL = openAIBaseURL
	}
	return &OpenAIProvider{
		apiKey:  apiKey,
		model:   model,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// Complete runs a chat completion
func (p *OpenAIProvider) Complete(ctx context.Context, r Request) (string, error) {
	logger := p.logger.WithFields(map[string]interface{}{
		"provider":  "openai",
		"model":     p.model,
		"operation": "complete",
		"has_image": r.Image != nil,
	})
	logger.Debug("starting completion request")

	start := time.Now()

	var userContent interface{} = r.Prompt
	if r.Image != nil {
		userContent = []map[string]interface{}{
			{"type": "image_url", "image_url": map[string]string{"url": r.Image.DataURL()}},
			{"type": "text", "text": r.Prompt},
		}
	}

	reqBody := map[string]interface{}{
		"model": p.model,
		"messages": []map[string]interface{}{
			{"role": "system", "content": r.System},
			{"role": "user", "content": userContent},
		},
	}
	if r.MaxTokens > 0 {
		reqBody["max_completion_tokens"] = r.MaxTokens
	}
	if r.JSON {
		reqBody["response_format"] = map[string]string{"type": "json_object"}
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		logger.WithContext("error", err.Error()).Error("failed to marshal completion request")
		return "", fmt.Errorf("openai: failed to marshal completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		logger.WithContext("error", err.Error()).Error("failed to create completion request")
		return "", fmt.Errorf("openai: failed to create completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"error":      err.Error(),
			"latency_ms": time.Since(start).Milliseconds(),
		}).Error("completion request failed")
		return "", fmt.Errorf("openai: completion request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		logger.WithFields(map[string]interface{}{
			"status":     resp.StatusCode,
			"error":      string(bodyBytes),
			"latency_ms": time.Since(start).Milliseconds(),
		}).Error("completion returned non-OK status")
		return "", &StatusError{Provider: "openai", StatusCode: resp.StatusCode, Body: string(bodyBytes)}
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
				Refusal string `json:"refusal"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		logger.WithContext("error", err.Error()).Error("failed to decode completion response")
		return "", fmt.Errorf("openai: failed to decode completion response: %w", err)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("openai: returned no choices")
	}
	if refusal := result.Choices[0].Message.Refusal; refusal != "" {
		return "", fmt.Errorf("openai: model refused: %s", refusal)
	}

	text := result.Choices[0].Message.Content
	logger.WithFields(map[string]interface{}{
		"latency_ms":      time.Since(start).Milliseconds(),
		"response_length": len(text),
	}).Debug("completion request completed")
	return text, nil
}

// Name returns the provider name
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// IsLocal returns false since OpenAI is a cloud service
func (p *OpenAIProvider) IsLocal() bool {
	return false
}
