package embed

import "context"

// Noop is the default Embedder when no embedding backend is configured.
// It returns a nil vector with no error, which disables relevance-based
// selection: sessions fall back to recency-only context.
type Noop struct{}

// Embed returns nil, nil — embedding intentionally disabled.
func (Noop) Embed(_ context.Context, _ string) ([]float32, error) {
	return nil, nil
}

// Compile-time interface satisfaction check.
var _ Embedder = Noop{}
