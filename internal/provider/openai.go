package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAIConfig holds OpenAI client configuration
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// OpenAIClient is the primary hosted adapter, speaking the
// chat-completions wire format.
type OpenAIClient struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewOpenAIClient creates a new OpenAI client
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAIClient{
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		model:   model,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

func (c *OpenAIClient) Name() string { return "openai" }

// Available is driven by credential presence: no key, no calls.
func (c *OpenAIClient) Available() bool { return c.apiKey != "" }

// Invoke sends a chat-completions request and enforces the task's
// output contract on the reply.
func (c *OpenAIClient) Invoke(ctx context.Context, task Task, p Payload) (string, error) {
	if !c.Available() {
		return "", newError(c.Name(), KindUnavailable, fmt.Errorf("API key is not configured"))
	}

	openaiReq := openAIRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt(task, p)},
			{Role: "user", Content: userPrompt(task, p)},
		},
		Temperature: 0.3,
	}

	body, err := json.Marshal(openaiReq)
	if err != nil {
		return "", newError(c.Name(), KindRemote, fmt.Errorf("failed to marshal request: %w", err))
	}

	url := fmt.Sprintf("%s/chat/completions", c.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", newError(c.Name(), KindRemote, fmt.Errorf("failed to create request: %w", err))
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", classify(c.Name(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", newError(c.Name(), KindRemote, fmt.Errorf("openai API returned status %d: %s", resp.StatusCode, string(respBody)))
	}

	var openaiResp openAIResponse
	if err := json.NewDecoder(resp.Body).Decode(&openaiResp); err != nil {
		return "", newError(c.Name(), KindParse, fmt.Errorf("failed to decode response: %w", err))
	}

	if len(openaiResp.Choices) == 0 {
		return "", newError(c.Name(), KindParse, fmt.Errorf("no choices in response"))
	}

	return conform(c.Name(), task, openaiResp.Choices[0].Message.Content)
}

type openAIRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	ID      string   `json:"id"`
	Model   string   `json:"model"`
	Choices []choice `json:"choices"`
	Usage   usage    `json:"usage"`
}

type choice struct {
	Index        int         `json:"index"`
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
