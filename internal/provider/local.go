package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

const (
	localHealthTTL     = 30 * time.Second
	localHealthTimeout = 2 * time.Second
)

// LocalConfig holds the local model sidecar configuration
type LocalConfig struct {
	URL string
}

// LocalClient talks to the local llama-cpp sidecar on the LAN. Its
// availability is gated by a cached /health probe, so when the sidecar
// is down the chain skips it without consuming a timeout slot.
type LocalClient struct {
	baseURL    string
	httpClient *http.Client

	mu        sync.Mutex
	healthy   bool
	checkedAt time.Time
}

// NewLocalClient creates a new local sidecar client
func NewLocalClient(cfg LocalConfig) *LocalClient {
	return &LocalClient{
		baseURL: cfg.URL,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

func (c *LocalClient) Name() string { return "local" }

// Available probes /health, caching the result so a down sidecar costs
// at most one short probe per TTL window.
func (c *LocalClient) Available() bool {
	if c.baseURL == "" {
		return false
	}

	c.mu.Lock()
	if time.Since(c.checkedAt) < localHealthTTL {
		healthy := c.healthy
		c.mu.Unlock()
		return healthy
	}
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), localHealthTimeout)
	defer cancel()
	err := c.CheckHealth(ctx)

	c.mu.Lock()
	c.healthy = err == nil
	c.checkedAt = time.Now()
	healthy := c.healthy
	c.mu.Unlock()
	return healthy
}

// CheckHealth calls the sidecar health endpoint
func (c *LocalClient) CheckHealth(ctx context.Context) error {
	url := fmt.Sprintf("%s/health", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create health request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("local model health check returned status %d", resp.StatusCode)
	}
	return nil
}

// MarkHealth records a health sweep result, refreshing the cache.
func (c *LocalClient) MarkHealth(healthy bool) {
	c.mu.Lock()
	c.healthy = healthy
	c.checkedAt = time.Now()
	c.mu.Unlock()
}

// Invoke sends a generate request to the sidecar. The sidecar itself
// extracts embedded JSON when asked for json output, but conform runs
// again here in case an older sidecar build returns raw text.
func (c *LocalClient) Invoke(ctx context.Context, task Task, p Payload) (string, error) {
	format := "text"
	if wantsJSON(task) {
		format = "json"
	}

	localReq := localGenerateRequest{
		Prompt:         userPrompt(task, p),
		SystemPrompt:   systemPrompt(task, p),
		MaxTokens:      1024,
		Temperature:    0.3,
		ResponseFormat: format,
	}

	body, err := json.Marshal(localReq)
	if err != nil {
		return "", newError(c.Name(), KindRemote, fmt.Errorf("failed to marshal request: %w", err))
	}

	url := fmt.Sprintf("%s/generate", c.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", newError(c.Name(), KindRemote, fmt.Errorf("failed to create request: %w", err))
	}

	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", classify(c.Name(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", newError(c.Name(), KindRemote, fmt.Errorf("local model returned status %d: %s", resp.StatusCode, string(respBody)))
	}

	var localResp localGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&localResp); err != nil {
		return "", newError(c.Name(), KindParse, fmt.Errorf("failed to decode response: %w", err))
	}

	return conform(c.Name(), task, localResp.Text)
}

type localGenerateRequest struct {
	Prompt         string  `json:"prompt"`
	SystemPrompt   string  `json:"systemPrompt,omitempty"`
	MaxTokens      int     `json:"max_tokens,omitempty"`
	Temperature    float64 `json:"temperature,omitempty"`
	ResponseFormat string  `json:"response_format,omitempty"`
}

type localGenerateResponse struct {
	Text       string `json:"text"`
	TokenCount int    `json:"tokenCount"`
}
