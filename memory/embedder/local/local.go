// Package local provides an offline embedding model based on feature
// hashing. It needs no model files and no network, and its vectors are
// deterministic: texts that share words land closer together than texts
// that do not.
package local

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// DefaultDimensions matches all-MiniLM-L6-v2 so stores can switch between
// local models without resizing.
const DefaultDimensions = 384

// Config configures the local embedder.
type Config struct {
	// Dimensions is the embedding vector size (default: 384).
	Dimensions int
}

// Embedder hashes word unigrams and bigrams into a fixed-size vector.
type Embedder struct {
	dimensions int
}

// New creates a new local embedder.
func New(cfg Config) *Embedder {
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = DefaultDimensions
	}
	return &Embedder{dimensions: cfg.Dimensions}
}

// Embed converts each text to a unit vector.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = e.embed(text)
	}
	return out, nil
}

// Dimensions returns the embedding vector size.
func (e *Embedder) Dimensions() int {
	return e.dimensions
}

func (e *Embedder) embed(text string) []float32 {
	vec := make([]float32, e.dimensions)
	words := tokenize(text)
	for i, w := range words {
		e.add(vec, w, 1)
		if i > 0 {
			e.add(vec, words[i-1]+" "+w, 0.5)
		}
	}
	if len(words) == 0 {
		// Keep empty input away from the zero vector, which has no direction.
		vec[0] = 1
		return vec
	}
	return normalize(vec)
}

// add folds a feature into vec. The hash picks the slot; its top bit picks
// the sign, which keeps collisions from only ever adding up.
func (e *Embedder) add(vec []float32, feature string, weight float32) {
	h := fnv.New32a()
	h.Write([]byte(feature))
	sum := h.Sum32()
	idx := int(sum % uint32(e.dimensions))
	if sum&(1<<31) != 0 {
		weight = -weight
	}
	vec[idx] += weight
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// normalize converts embedding to unit vector.
func normalize(vec []float32) []float32 {
	var norm float32
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		vec[0] = 1
		return vec
	}
	norm = float32(math.Sqrt(float64(norm)))
	for i := range vec {
		vec[i] /= norm
	}
	return vec
}
