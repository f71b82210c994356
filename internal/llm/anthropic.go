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

const anthropicBaseURL = "https://api.anthropic.com/v1"

// AnthropicProvider implements the Provider interface for Anthropic's Messages API
type AnthropicProvider struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
	logger  *logging.Logger
}

// NewAnthropicProvider creates a new Anthropic provider
func NewAnthropicProvider(apiKey, model, baseURL string, timeout time.Duration, logger *logging.Logger) *AnthropicProvider {
	if baseURL == "" {
		baseURL = anthropicBaseURL
	}
	return &AnthropicProvider{
		apiKey:  apiKey,
		model:   model,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// Complete sends a single message and returns the concatenated text blocks
func (p *AnthropicProvider) Complete(ctx context.Context, r Request) (string, error) {
	logger := p.logger.WithFields(map[string]interface{}{
		"provider":  "anthropic",
		"model":     p.model,
		"operation": "complete",
		"has_image": r.Image != nil,
	})
	logger.Debug("starting completion request")

	start := time.Now()

	var content []map[string]interface{}
	if r.Image != nil {
		content = append(content, map[string]interface{}{
			"type": "image",
			"source": map[string]string{
				"type":       "base64",
				"media_type": r.Image.MIMEType,
				"data":       r.Image.Data,
			},
		})
	}
	content = append(content, map[string]interface{}{"type": "text", "text": r.Prompt})

	maxTokens := r.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	reqBody := map[string]interface{}{
		"model":      p.model,
		"max_tokens": maxTokens,
		"messages": []map[string]interface{}{
			{"role": "user", "content": content},
		},
	}
	// Anthropic takes the system prompt separately
	if r.System != "" {
		reqBody["system"] = r.System
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		logger.WithContext("error", err.Error()).Error("failed to marshal completion request")
		return "", fmt.Errorf("anthropic: failed to marshal completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		logger.WithContext("error", err.Error()).Error("failed to create completion request")
		return "", fmt.Errorf("anthropic: failed to create completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := p.client.Do(req)
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"error":      err.Error(),
			"latency_ms": time.Since(start).Milliseconds(),
		}).Error("completion request failed")
		return "", fmt.Errorf("anthropic: completion request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		logger.WithFields(map[string]interface{}{
			"status":     resp.StatusCode,
			"error":      string(bodyBytes),
			"latency_ms": time.Since(start).Milliseconds(),
		}).Error("completion returned non-OK status")
		return "", &StatusError{Provider: "anthropic", StatusCode: resp.StatusCode, Body: string(bodyBytes)}
	}

	var result struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		StopReason string `json:"stop_reason"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		logger.WithContext("error", err.Error()).Error("failed to decode completion response")
		return "", fmt.Errorf("anthropic: failed to decode completion response: %w", err)
	}

	var text strings.Builder
	for _, block := range result.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return "", fmt.Errorf("anthropic: empty response (stop_reason %s)", result.StopReason)
	}

	logger.WithFields(map[string]interface{}{
		"latency_ms":      time.Since(start).Milliseconds(),
		"response_length": text.Len(),
		"stop_reason":     result.StopReason,
	}).Debug("completion request completed")
	return text.String(), nil
}

// Name returns the provider name
func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

// IsLocal returns false since Anthropic is a cloud service
func (p *AnthropicProvider) IsLocal() bool {
	return false
}
