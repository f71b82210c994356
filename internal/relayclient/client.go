// Package relayclient pulls queued captures from a remote relay, runs them
// through the local processor and acknowledges the ones that succeed.
package relayclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sieve/internal/logging"
	"sieve/internal/processor"
	"sieve/internal/store"
	"strings"
	"time"
)

// PageSize bounds one fetch of pending captures
const PageSize = 100

const requestTimeout = 30 * time.Second

// CaptureProcessor is the part of the processor the client drives
type CaptureProcessor interface {
	ProcessBrowserCapture(ctx context.Context, bc processor.BrowserCapture) (*processor.Result, error)
}

// Client talks to the relay with an admin key
type Client struct {
	baseURL  string
	adminKey string
	client   *http.Client
	logger   *logging.Logger
}

// NewClient creates a relay client for baseURL
func NewClient(baseURL, adminKey string, logger *logging.Logger) *Client {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		adminKey: adminKey,
		client:   &http.Client{Timeout: requestTimeout},
		logger:   logger,
	}
}

type pendingResponse struct {
	Captures []store.Capture `json:"captures"`
	Count    int             `json:"count"`
}

func (c *Client) newRequest(ctx context.Context, method, path string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.adminKey)
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// FetchPending returns up to PageSize pending captures, oldest first
func (c *Client) FetchPending(ctx context.Context) ([]store.Capture, error) {
	req, err := c.newRequest(ctx, http.MethodGet, fmt.Sprintf("/captures/pending?limit=%d", PageSize))
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch pending captures: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("relay returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out pendingResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode pending captures: %w", err)
	}
	return out.Captures, nil
}

// Ack marks a capture processed. It reports false when the relay did not
// answer 200, which includes captures already acked.
func (c *Client) Ack(ctx context.Context, id int64) (bool, error) {
	req, err := c.newRequest(ctx, http.MethodPost, fmt.Sprintf("/captures/%d/ack", id))
	if err != nil {
		return false, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("failed to ack capture %d: %w", id, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	return resp.StatusCode == http.StatusOK, nil
}

// PullAndProcess fetches one page of pending captures and processes them in
// order. A capture is acked only after it was processed; failures are logged
// and left pending for the next poll. It returns the number processed and
// acked.
func (c *Client) PullAndProcess(ctx context.Context, p CaptureProcessor) int {
	pending, err := c.FetchPending(ctx)
	if err != nil {
		c.logger.WithContext("error", err.Error()).Error("failed to fetch pending captures")
		return 0
	}
	if len(pending) == 0 {
		return 0
	}

	c.logger.Info("fetched %d pending capture(s)", len(pending))
	processed := 0

	for _, capture := range pending {
		if ctx.Err() != nil {
			break
		}
		logger := c.logger.WithContext("capture_id", capture.ID)

		_, err := p.ProcessBrowserCapture(ctx, processor.BrowserCapture{
			Content:   capture.Content,
			URL:       capture.URL,
			SourceURL: capture.SourceURL,
			Title:     capture.Title,
			ImageData: capture.ImageData,
		})
		if err != nil {
			logger.WithContext("error", err.Error()).Error("failed to process capture %d", capture.ID)
			continue
		}

		ok, err := c.Ack(ctx, capture.ID)
		switch {
		case err != nil:
			logger.WithContext("error", err.Error()).Warn("processed capture %d but ack failed", capture.ID)
		case !ok:
			logger.Warn("processed capture %d but ack was rejected", capture.ID)
		default:
			processed++
			logger.Info("processed and acked capture %d", capture.ID)
		}
	}

	return processed
}
