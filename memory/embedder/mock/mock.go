package mock

import (
	"context"
	"hash/fnv"
	"math"
	"sync"
)

// Embedder is a simple mock embedder for testing.
// It generates deterministic embeddings based on text hash, lets tests pin
// exact vectors for chosen texts, and counts calls.
type Embedder struct {
	dimensions int

	mu      sync.Mutex
	vectors map[string][]float32
	err     error
	calls   int
	texts   int
}

// New creates a new mock embedder.
func New() *Embedder {
	return &Embedder{
		dimensions: 384, // Match all-MiniLM-L6-v2 dimensions
		vectors:    make(map[string][]float32),
	}
}

// Set pins the vector returned for text. The vector's length must match
// Dimensions for queries against hashed vectors to make sense.
func (m *Embedder) Set(text string, vec []float32) *Embedder {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vectors[text] = vec
	return m
}

// Fail makes every subsequent Embed call return err. Pass nil to recover.
func (m *Embedder) Fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls returns how many times Embed was called.
func (m *Embedder) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Texts returns how many texts were embedded across all calls.
func (m *Embedder) Texts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.texts
}

// Embed creates a deterministic embedding for each text.
func (m *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	m.texts += len(texts)

	out := make([][]float32, len(texts))
	for i, text := range texts {
		if vec, ok := m.vectors[text]; ok {
			out[i] = append([]float32(nil), vec...)
			continue
		}
		out[i] = m.hashVector(text)
	}
	return out, nil
}

// Dimensions returns the embedding size.
func (m *Embedder) Dimensions() int {
	return m.dimensions
}

// hashVector uses the text hash as seed for pseudo-random generation.
func (m *Embedder) hashVector(text string) []float32 {
	h := fnv.New64a()
	h.Write([]byte(text))
	seed := h.Sum64()

	embedding := make([]float32, m.dimensions)
	for i := 0; i < m.dimensions; i++ {
		// Simple LCG (Linear Congruential Generator)
		seed = seed*6364136223846793005 + 1442695040888963407
		// Convert to [-1, 1] range
		embedding[i] = float32(int64(seed)) / float32(math.MaxInt64)
	}
	return normalize(embedding)
}

// normalize converts embedding to unit vector.
func normalize(vec []float32) []float32 {
	var norm float32
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		return vec
	}
	norm = float32(math.Sqrt(float64(norm)))
	for i := range vec {
		vec[i] /= norm
	}
	return vec
}
