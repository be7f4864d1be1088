package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultAnthropicBaseURL = "https://api.anthropic.com"
	anthropicVersion        = "2023-06-01"
)

// AnthropicConfig holds Anthropic client configuration
type AnthropicConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// AnthropicClient is the secondary hosted adapter. It is a genuinely
// independent vendor with its own messages-style wire format, so an
// outage or contract change on the primary does not take it down too.
type AnthropicClient struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewAnthropicClient creates a new Anthropic client
func NewAnthropicClient(cfg AnthropicConfig) *AnthropicClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultAnthropicBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = "claude-3-5-haiku-latest"
	}
	return &AnthropicClient{
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		model:   model,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

func (c *AnthropicClient) Name() string { return "anthropic" }

// Available is driven by credential presence
func (c *AnthropicClient) Available() bool { return c.apiKey != "" }

// Invoke sends a messages request and enforces the task's output
// contract on the reply.
func (c *AnthropicClient) Invoke(ctx context.Context, task Task, p Payload) (string, error) {
	if !c.Available() {
		return "", newError(c.Name(), KindUnavailable, fmt.Errorf("API key is not configured"))
	}

	antReq := anthropicRequest{
		Model:     c.model,
		MaxTokens: 1024,
		System:    systemPrompt(task, p),
		Messages: []anthropicMessage{
			{Role: "user", Content: userPrompt(task, p)},
		},
	}

	body, err := json.Marshal(antReq)
	if err != nil {
		return "", newError(c.Name(), KindRemote, fmt.Errorf("failed to marshal request: %w", err))
	}

	url := fmt.Sprintf("%s/v1/messages", c.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", newError(c.Name(), KindRemote, fmt.Errorf("failed to create request: %w", err))
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", classify(c.Name(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", newError(c.Name(), KindRemote, fmt.Errorf("anthropic API returned status %d: %s", resp.StatusCode, string(respBody)))
	}

	var antResp anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&antResp); err != nil {
		return "", newError(c.Name(), KindParse, fmt.Errorf("failed to decode response: %w", err))
	}

	var sb strings.Builder
	for _, block := range antResp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", newError(c.Name(), KindParse, fmt.Errorf("no text content in response"))
	}

	return conform(c.Name(), task, sb.String())
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	ID      string           `json:"id"`
	Model   string           `json:"model"`
	Content []anthropicBlock `json:"content"`
}

type anthropicBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}
