package llm

import (
	"context"
	"fmt"
	"sieve/internal/config"
	"sieve/internal/logging"
	"time"
)

// Provider defines the interface for LLM services
type Provider interface {
	// Complete sends one system+user exchange and returns the model's text reply
	Complete(ctx context.Context, req Request) (string, error)

	// Name returns the provider name (e.g., "ollama", "openai", "anthropic")
	Name() string

	// IsLocal returns true if the provider runs locally
	IsLocal() bool
}

// Request is a single completion request
type Request struct {
	System    string
	Prompt    string
	Image     *Image // optional, for vision models
	MaxTokens int
	JSON      bool // ask the provider for a JSON object reply
}

// Image is an inline base64 image
type Image struct {
	MIMEType string
	Data     string
}

// DataURL renders the image as a data: URL
func (i *Image) DataURL() string {
	return "data:" + i.MIMEType + ";base64," + i.Data
}

// StatusError is returned when a provider answers with a non-2xx status
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: returned status %d: %s", e.Provider, e.StatusCode, e.Body)
}

// Retryable reports whether the status is worth another attempt (rate limit or server error)
func (e *StatusError) Retryable() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

// NewProvider creates a provider based on config
func NewProvider(cfg config.LLMConfig, logger *logging.Logger) (Provider, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	switch cfg.Provider {
	case "ollama":
		endpoint := cfg.OllamaEndpoint
		if cfg.BaseURL != "" {
			endpoint = cfg.BaseURL
		}
		return NewOllamaProvider(endpoint, cfg.Model, timeout, logger), nil
	case "openai":
		if cfg.OpenAIKey == "" {
			return nil, fmt.Errorf("openai API key is required")
		}
		return NewOpenAIProvider(cfg.OpenAIKey, cfg.Model, cfg.BaseURL, timeout, logger), nil
	case "anthropic":
		if cfg.AnthropicKey == "" {
			return nil, fmt.Errorf("anthropic API key is required")
		}
		return NewAnthropicProvider(cfg.AnthropicKey, cfg.Model, cfg.BaseURL, timeout, logger), nil
	default:
		return nil, fmt.Errorf("unknown provider type: %s", cfg.Provider)
	}
}
