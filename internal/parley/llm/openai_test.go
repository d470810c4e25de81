package llm_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/parleybot/parley/internal/parley/llm"
)

func TestComplete_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path: got %q, want /chat/completions", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("Authorization: got %q", got)
		}
		var req struct {
			Model    string            `json:"model"`
			Messages []llm.ChatMessage `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "gpt-4o-mini" || len(req.Messages) != 2 {
			t.Errorf("request: model %q, %d messages", req.Model, len(req.Messages))
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": "Hello!"}, "finish_reason": "stop"},
			},
			"usage": map[string]int{"prompt_tokens": 12, "completion_tokens": 3, "total_tokens": 15},
		})
	}))
	defer srv.Close()

	client := llm.New(llm.Config{Credential: llm.NewCredential("sk-test"), BaseURL: srv.URL})
	completion, err := client.Complete(context.Background(), llm.Request{
		Model: "gpt-4o-mini",
		Messages: []llm.ChatMessage{
			{Role: "system", Content: "You are helpful."},
			{Role: "user", Content: "Hi"},
		},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if completion.Text != "Hello!" {
		t.Errorf("Text: got %q", completion.Text)
	}
	if completion.Usage.TotalTokens != 15 {
		t.Errorf("TotalTokens: got %d, want 15", completion.Usage.TotalTokens)
	}
}

func TestComplete_ErrorClassification(t *testing.T) {
	cases := []struct {
		name          string
		status        int
		body          string
		wantRetryable bool
		wantKind      string
	}{
		{
			name:          "rate limited",
			status:        http.StatusTooManyRequests,
			body:          `{"error":{"message":"slow down","type":"rate_limit_error"}}`,
			wantRetryable: true,
			wantKind:      "rate_limit_error",
		},
		{
			name:          "provider outage",
			status:        http.StatusBadGateway,
			body:          `{}`,
			wantRetryable: true,
		},
		{
			name:          "bad key",
			status:        http.StatusUnauthorized,
			body:          `{"error":{"message":"invalid api key","type":"invalid_request_error"}}`,
			wantRetryable: false,
			wantKind:      "invalid_request_error",
		},
		{
			name:          "unknown model",
			status:        http.StatusNotFound,
			body:          `{"error":{"message":"no such model","type":"invalid_request_error"}}`,
			wantRetryable: false,
			wantKind:      "invalid_request_error",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			client := llm.New(llm.Config{BaseURL: srv.URL})
			_, err := client.Complete(context.Background(), llm.Request{Model: "gpt-4o-mini"})

			var apiErr *llm.APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("expected APIError, got %v", err)
			}
			if apiErr.Status != tc.status {
				t.Errorf("Status: got %d, want %d", apiErr.Status, tc.status)
			}
			if apiErr.Retryable != tc.wantRetryable {
				t.Errorf("Retryable: got %v, want %v", apiErr.Retryable, tc.wantRetryable)
			}
			if apiErr.Kind != tc.wantKind {
				t.Errorf("Kind: got %q, want %q", apiErr.Kind, tc.wantKind)
			}
			if llm.IsRetryable(err) != tc.wantRetryable {
				t.Errorf("IsRetryable: got %v, want %v", llm.IsRetryable(err), tc.wantRetryable)
			}
		})
	}
}

func TestComplete_TransportFailureIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	client := llm.New(llm.Config{BaseURL: srv.URL})
	_, err := client.Complete(context.Background(), llm.Request{Model: "gpt-4o-mini"})
	if !llm.IsRetryable(err) {
		t.Fatalf("transport failure must be retryable, got %v", err)
	}
}

func TestComplete_CancellationPropagates(t *testing.T) {
	blocked := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-blocked
	}))
	defer srv.Close()
	defer close(blocked)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := llm.New(llm.Config{BaseURL: srv.URL})
	_, err := client.Complete(ctx, llm.Request{Model: "gpt-4o-mini"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestIsRetryable_WrappedErrors(t *testing.T) {
	base := &llm.APIError{Status: 503, Retryable: true}
	if !llm.IsRetryable(fmt.Errorf("call failed: %w", base)) {
		t.Error("wrapped retryable APIError not recognized")
	}
	if llm.IsRetryable(errors.New("plain error")) {
		t.Error("plain error must not be retryable")
	}
	if llm.IsRetryable(nil) {
		t.Error("nil error must not be retryable")
	}
}

func TestAPIError_Error(t *testing.T) {
	withStatus := &llm.APIError{Status: 429, Kind: "rate_limit_error", Message: "slow down"}
	if got := withStatus.Error(); got != "llm: HTTP 429 (rate_limit_error): slow down" {
		t.Errorf("Error: got %q", got)
	}
	transport := &llm.APIError{Message: "connection reset"}
	if got := transport.Error(); got != "llm: connection reset" {
		t.Errorf("Error: got %q", got)
	}
}
