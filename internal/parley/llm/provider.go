// Package llm is the model-API collaborator: the interface a conversation
// session dispatches its assembled prompt to, plus the OpenAI-compatible
// implementation and the error taxonomy callers use to decide between
// retrying and surfacing.
package llm

import (
	"context"
	"errors"
	"fmt"
)

// ChatMessage is one prompt message on the wire: the system directive,
// a replayed history turn, or the new user message.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a single completion call.
type Request struct {
	// Model is the chat model name, e.g. "gpt-4o-mini".
	Model string

	// Messages is the fully assembled prompt, directive first.
	Messages []ChatMessage

	// Temperature is the sampling temperature.
	Temperature float64

	// MaxTokens caps the response length. Zero lets the provider decide.
	MaxTokens int
}

// Usage carries the token counts reported by the provider for one call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Completion is the provider's answer to a Request.
type Completion struct {
	Text  string
	Usage Usage
}

// APIError is a failed completion call, classified so callers can
// distinguish transient conditions (network, rate limit, provider outage —
// retry with backoff) from permanent ones (bad key, unknown model —
// surface immediately).
type APIError struct {
	// Status is the HTTP status code, 0 for transport-level failures.
	Status int
	// Kind is the provider's error type when reported (e.g.
	// "invalid_request_error"), empty otherwise.
	Kind string
	// Message is the provider's human-readable description.
	Message string
	// Retryable is true for transient conditions.
	Retryable bool
}

func (e *APIError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("llm: %s", e.Message)
	}
	return fmt.Sprintf("llm: HTTP %d (%s): %s", e.Status, e.Kind, e.Message)
}

// IsRetryable reports whether err is (or wraps) a transient APIError.
// Transport-level errors that never produced an APIError count as
// retryable too.
func IsRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable
	}
	return false
}

// Completer dispatches an assembled prompt to the hosted model.
// Implementations must be safe for concurrent use by independent sessions;
// serializing calls within one session is the session's job, not the
// completer's.
type Completer interface {
	Complete(ctx context.Context, req Request) (*Completion, error)
}
