package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"docqa-ai/internal/apperr"
)

// Client is a client for an OpenAI-compatible chat completions API.
type Client struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
	client  *http.Client
	limiter *rate.Limiter
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithTimeout bounds every completion request.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.Timeout = d
		}
	}
}

// WithRateLimit caps the request rate. A non-positive rps disables limiting.
func WithRateLimit(rps float64, burst int) ClientOption {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.client = hc
		}
	}
}

// NewClient creates a new LLM client.
func NewClient(baseURL, apiKey, model string, opts ...ClientOption) *Client {
	c := &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Model:   model,
		Timeout: 60 * time.Second,
		client:  http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ChatMessage represents a single message in a chat conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormatParam struct {
	Type string `json:"type"`
}

// ChatRequest represents the request payload for chat completions.
type ChatRequest struct {
	Model          string               `json:"model"`
	Messages       []ChatMessage        `json:"messages"`
	MaxTokens      int                  `json:"max_tokens,omitempty"`
	Temperature    float32              `json:"temperature"`
	ResponseFormat *responseFormatParam `json:"response_format,omitempty"`
}

// ChatChoiceMessage represents the message in a chat choice.
type ChatChoiceMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatChoice represents a single choice in the chat response.
type ChatChoice struct {
	Index        int               `json:"index"`
	Message      ChatChoiceMessage `json:"message"`
	FinishReason string            `json:"finish_reason"`
}

// ChatResponse represents the response from the chat completions API.
type ChatResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Choices []ChatChoice `json:"choices"`
}

// Generate sends prompt (with an optional system prompt) and returns the reply text.
// Failures are wrapped with apperr.ErrExternal.
func (c *Client) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	messages := make([]Message, 0, 2)
	if opts.System != "" {
		messages = append(messages, Message{Role: "system", Content: opts.System})
	}
	messages = append(messages, Message{Role: "user", Content: prompt})

	reply, err := c.ChatWithMessages(ctx, messages, ChatParams{
		MaxTokens:      opts.MaxTokens,
		Temperature:    opts.Temperature,
		ResponseFormat: opts.ResponseFormat,
	})
	if err != nil {
		return "", apperr.External("llm generate", err)
	}
	return reply, nil
}

// ChatWithMessages sends a full message list to the chat completions API.
func (c *Client) ChatWithMessages(ctx context.Context, messages []Message, params ChatParams) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("rate limiter: %w", err)
		}
	}

	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	model := params.Model
	if model == "" {
		model = c.Model
	}

	payload := ChatRequest{
		Model:       model,
		Messages:    make([]ChatMessage, len(messages)),
		MaxTokens:   params.MaxTokens,
		Temperature: params.Temperature,
	}
	for i, m := range messages {
		payload.Messages[i] = ChatMessage{Role: m.Role, Content: m.Content}
	}
	if params.ResponseFormat != FormatText {
		payload.ResponseFormat = &responseFormatParam{Type: string(params.ResponseFormat)}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/chat/completions", c.BaseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.APIKey))
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("bad status %d: %s", resp.StatusCode, string(raw))
	}

	var chatResp ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}

	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("no choices returned")
	}

	return chatResp.Choices[0].Message.Content, nil
}
