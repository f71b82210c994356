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

// OllamaProvider implements the Provider interface for a local Ollama server
type OllamaProvider struct {
	endpoint string
	model    string
	client   *http.Client
	logger   *logging.Logger
}

// NewOllamaProvider creates a new Ollama provider
func NewOllamaProvider(endpoint, model string, timeout time.Duration, logger *logging.Logger) *OllamaProvider {
	return &OllamaProvider{
		endpoint: strings.TrimRight(endpoint, "/"),
		model:    model,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

// Complete runs a non-streaming chat request
func (p *OllamaProvider) Complete(ctx context.Context, r Request) (string, error) {
	logger := p.logger.WithFields(map[string]interface{}{
		"provider":  "ollama",
		"model":     p.model,
		"operation": "complete",
	})
	start := time.Now()

	user := map[string]interface{}{"role": "user", "content": r.Prompt}
	if r.Image != nil {
		// Ollama takes raw base64 without the data: prefix
		user["images"] = []string{r.Image.Data}
	}

	reqBody := map[string]interface{}{
		"model": p.model,
		"messages": []map[string]interface{}{
			{"role": "system", "content": r.System},
			user,
		},
		"stream": false,
	}
	if r.JSON {
		reqBody["format"] = "json"
	}
	if r.MaxTokens > 0 {
		reqBody["options"] = map[string]int{"num_predict": r.MaxTokens}
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("ollama: failed to marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.endpoint+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("ollama: failed to create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("ollama: chat request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return "", &StatusError{Provider: "ollama", StatusCode: resp.StatusCode, Body: string(bodyBytes)}
	}

	var result struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("ollama: failed to decode chat response: %w", err)
	}

	logger.WithContext("latency_ms", time.Since(start).Milliseconds()).Debug("chat request completed")
	return result.Message.Content, nil
}

// Name returns the provider name
func (p *OllamaProvider) Name() string {
	return "ollama"
}

// IsLocal returns true since Ollama runs locally
func (p *OllamaProvider) IsLocal() bool {
	return true
}
