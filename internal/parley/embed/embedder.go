// Package embed produces vector embeddings for conversation turns and
// provides the pure similarity function used to rank past turns against
// the current user message.
//
// Embedding failures are expected operating conditions (the backend is a
// network collaborator): callers check errors with errors.Is against
// ErrUnavailable and degrade to recency-only selection rather than failing
// the turn.
package embed

import (
	"context"
	"errors"
	"math"
)

// ErrUnavailable wraps every failure mode of the embedding backend —
// unreachable endpoint, HTTP error, malformed response body. Callers must
// treat it as non-fatal.
var ErrUnavailable = errors.New("embed: backend unavailable")

// Embedder produces vector embeddings for text. Implementations must be
// safe for concurrent use by independent sessions.
type Embedder interface {
	// Embed returns the embedding vector for text. Failures are reported
	// as errors wrapping ErrUnavailable. A nil vector with a nil error
	// means embedding is intentionally disabled (noop implementation).
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Cosine computes the cosine similarity between two vectors. It is a pure
// function with a deterministic result in [-1, 1]. Mismatched or empty
// vectors score 0, as do zero-magnitude vectors.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
