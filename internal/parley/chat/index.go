package chat

import "fmt"

// EmbeddingIndex caches one embedding vector per message of a single
// session, keyed by the message's position in the log. Its lifecycle is
// tied 1:1 to the session: built fresh on create, restored by the
// persistence layer on load, discarded on close. A vector is computed at
// most once per message — retrieval never triggers recomputation.
//
// All vectors in one index share a dimension; the first Put fixes it.
type EmbeddingIndex struct {
	vectors map[int][]float32
	dim     int
}

// NewEmbeddingIndex returns an empty index.
func NewEmbeddingIndex() *EmbeddingIndex {
	return &EmbeddingIndex{vectors: make(map[int][]float32)}
}

// Put stores the vector for the message at log position seq. Storing a
// vector whose dimension disagrees with the index is an error — it would
// make every similarity comparison meaningless.
func (x *EmbeddingIndex) Put(seq int, vec []float32) error {
	if len(vec) == 0 {
		return nil
	}
	if x.dim == 0 {
		x.dim = len(vec)
	} else if len(vec) != x.dim {
		return fmt.Errorf("chat: embedding dimension %d does not match index dimension %d", len(vec), x.dim)
	}
	x.vectors[seq] = vec
	return nil
}

// Get returns the cached vector for log position seq, if any.
func (x *EmbeddingIndex) Get(seq int) ([]float32, bool) {
	v, ok := x.vectors[seq]
	return v, ok
}

// Dim returns the vector dimension, 0 while the index is empty.
func (x *EmbeddingIndex) Dim() int { return x.dim }

// Len returns the number of cached vectors.
func (x *EmbeddingIndex) Len() int { return len(x.vectors) }
