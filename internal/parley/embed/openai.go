package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/parleybot/parley/internal/parley/llm"
)

const (
	defaultEmbeddingBase    = "https://api.openai.com/v1"
	defaultEmbeddingModel   = "text-embedding-3-small"
	defaultEmbeddingTimeout = 30 * time.Second
)

// OpenAIConfig configures the OpenAI embedding backend.
type OpenAIConfig struct {
	// Credential authenticates against the API. The key is held in memory
	// only and is never written by the persistence layer.
	Credential llm.Credential

	// BaseURL overrides the API endpoint. Defaults to https://api.openai.com/v1
	// when empty. Useful for Azure OpenAI, local proxies, or compatible endpoints.
	BaseURL string

	// Model is the embedding model to use.
	// Defaults to text-embedding-3-small (1536-dim).
	Model string

	// Timeout is the HTTP request timeout. Defaults to 30 s.
	Timeout time.Duration
}

// OpenAIEmbedder implements Embedder using the OpenAI embeddings API. The
// same credential used for chat completions works here. Safe for
// concurrent use.
type OpenAIEmbedder struct {
	cfg    OpenAIConfig
	client *http.Client
}

// NewOpenAI creates an Embedder backed by the OpenAI (or compatible)
// embeddings API.
func NewOpenAI(cfg OpenAIConfig) *OpenAIEmbedder {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultEmbeddingBase
	}
	if cfg.Model == "" {
		cfg.Model = defaultEmbeddingModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultEmbeddingTimeout
	}
	return &OpenAIEmbedder{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// --- minimal OpenAI embeddings wire types ---

type embeddingRequest struct {
	Input string `json:"input"`
	Model string `json:"model"`
}

type embeddingResponse struct {
	Data  []embeddingData `json:"data"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

type embeddingData struct {
	Embedding []float32 `json:"embedding"`
	Index     int       `json:"index"`
}

// Embed calls the embeddings API for the given text. Every failure is
// reported wrapping ErrUnavailable so callers can degrade uniformly.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, nil
	}

	body := embeddingRequest{
		Input: text,
		Model: e.cfg.Model,
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("embed openai: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		e.cfg.BaseURL+"/embeddings",
		bytes.NewReader(data),
	)
	if err != nil {
		return nil, fmt.Errorf("embed openai: create http request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+e.cfg.Credential.Reveal())

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("embed openai: http request: %w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("embed openai: read response body: %w: %w", ErrUnavailable, err)
	}

	var embResp embeddingResponse
	if err := json.Unmarshal(respBody, &embResp); err != nil {
		return nil, fmt.Errorf("embed openai: decode response: %w: %w", ErrUnavailable, err)
	}

	if embResp.Error != nil {
		return nil, fmt.Errorf("embed openai: API error (%s): %s: %w",
			embResp.Error.Type, embResp.Error.Message, ErrUnavailable)
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("embed openai: unexpected HTTP status %d: %w", resp.StatusCode, ErrUnavailable)
	}

	if len(embResp.Data) == 0 {
		return nil, fmt.Errorf("embed openai: no embedding data returned: %w", ErrUnavailable)
	}

	return embResp.Data[0].Embedding, nil
}

// Compile-time interface satisfaction check.
var _ Embedder = (*OpenAIEmbedder)(nil)
