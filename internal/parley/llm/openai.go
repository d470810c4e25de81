package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	defaultChatBase    = "https://api.openai.com/v1"
	defaultChatTimeout = 120 * time.Second
)

// Config configures the OpenAI-compatible chat completions client.
type Config struct {
	// Credential authenticates against the API. Held in memory only.
	Credential Credential

	// BaseURL overrides the API endpoint. Useful for local models (Ollama),
	// Azure OpenAI, or any other OpenAI-compatible endpoint.
	// Defaults to https://api.openai.com/v1 when empty.
	BaseURL string

	// Timeout is the HTTP request timeout. Defaults to 120 s — completion
	// calls run much longer than the classification-sized calls elsewhere.
	Timeout time.Duration
}

// openAIClient implements Completer against the OpenAI chat completions API.
type openAIClient struct {
	cfg    Config
	client *http.Client
}

// New returns a Completer backed by the OpenAI (or compatible) chat API.
// The returned client is safe for concurrent use.
func New(cfg Config) Completer {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultChatBase
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultChatTimeout
	}
	return &openAIClient{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// --- minimal OpenAI wire types ---

type oaiRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type oaiResponse struct {
	Choices []oaiChoice `json:"choices"`
	Usage   oaiUsage    `json:"usage"`
	Error   *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

type oaiChoice struct {
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type oaiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Complete sends the assembled prompt to the model and returns its reply
// with the provider-reported token usage.
func (c *openAIClient) Complete(ctx context.Context, req Request) (*Completion, error) {
	body := oaiRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("llm: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/chat/completions",
		bytes.NewReader(data),
	)
	if err != nil {
		return nil, fmt.Errorf("llm: create http request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.Credential.Reveal())

	resp, err := c.client.Do(httpReq)
	if err != nil {
		// Context cancellation propagates as-is so callers can tell an
		// aborted submit apart from a provider failure.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &APIError{Message: err.Error(), Retryable: true}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &APIError{Status: resp.StatusCode, Message: "read response body: " + err.Error(), Retryable: true}
	}

	var oaiResp oaiResponse
	if err := json.Unmarshal(respBody, &oaiResp); err != nil {
		return nil, classify(resp.StatusCode, "", fmt.Sprintf("decode API response: %v", err))
	}

	if oaiResp.Error != nil {
		return nil, classify(resp.StatusCode, oaiResp.Error.Type, oaiResp.Error.Message)
	}

	if resp.StatusCode >= 400 {
		return nil, classify(resp.StatusCode, "", fmt.Sprintf("HTTP %d with no error body", resp.StatusCode))
	}

	if len(oaiResp.Choices) == 0 {
		return nil, classify(resp.StatusCode, "", "no choices returned")
	}

	return &Completion{
		Text: oaiResp.Choices[0].Message.Content,
		Usage: Usage{
			PromptTokens:     oaiResp.Usage.PromptTokens,
			CompletionTokens: oaiResp.Usage.CompletionTokens,
			TotalTokens:      oaiResp.Usage.TotalTokens,
		},
	}, nil
}

// classify maps an HTTP status to the transient/permanent split: 429 and
// 5xx are retryable, 4xx (bad key, unknown model, malformed request) are
// not.
func classify(status int, kind, message string) *APIError {
	retryable := status == http.StatusTooManyRequests || status >= 500 || status == 0
	return &APIError{
		Status:    status,
		Kind:      kind,
		Message:   message,
		Retryable: retryable,
	}
}

// Compile-time interface satisfaction check.
var _ Completer = (*openAIClient)(nil)
