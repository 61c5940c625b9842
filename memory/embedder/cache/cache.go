// Package cache wraps a memory.Embedder with an in-process vector cache
// keyed by text, so repeated documents and queries skip the provider.
// When the inner embedder reports a provider name, entries are keyed by
// provider too, so vectors never leak across a provider switch.
package cache

import (
	"context"
	"fmt"

	"github.com/dgraph-io/ristretto"

	"github.com/becomeliminal/taskmem/memory"
)

// DefaultSize is the number of vectors kept when Config.Size is unset.
const DefaultSize = 10_000

// Config configures the cache.
type Config struct {
	// Size is the maximum number of cached vectors (default: 10000).
	Size int64
}

// providerNamer is implemented by embedders whose provider can change at
// runtime, such as embedder.Switch.
type providerNamer interface {
	Provider() string
}

// Embedder caches the vectors produced by an inner embedder.
type Embedder struct {
	inner memory.Embedder
	cache *ristretto.Cache
}

// New wraps inner with a cache.
func New(inner memory.Embedder, cfg Config) (*Embedder, error) {
	if cfg.Size <= 0 {
		cfg.Size = DefaultSize
	}
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cfg.Size * 10,
		MaxCost:     cfg.Size,
		BufferItems: 64,
		// Cost counts entries, not bytes.
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}
	return &Embedder{inner: inner, cache: c}, nil
}

// Embed returns cached vectors where present and embeds the misses in a
// single inner call. Output order matches texts.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	prefix := ""
	if p, ok := e.inner.(providerNamer); ok {
		prefix = p.Provider() + "\x00"
	}
	out := make([][]float32, len(texts))
	var (
		missTexts []string
		missIdx   = make(map[string][]int)
	)
	for i, text := range texts {
		if v, ok := e.cache.Get(prefix + text); ok {
			out[i] = clone(v.([]float32))
			continue
		}
		if _, seen := missIdx[text]; !seen {
			missTexts = append(missTexts, text)
		}
		missIdx[text] = append(missIdx[text], i)
	}
	if len(missTexts) == 0 {
		return out, nil
	}

	vecs, err := e.inner.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missTexts) {
		return nil, fmt.Errorf("%w: expected %d embeddings, got %d", memory.ErrProvider, len(missTexts), len(vecs))
	}
	for j, text := range missTexts {
		e.cache.Set(prefix+text, clone(vecs[j]), 1)
		for _, i := range missIdx[text] {
			out[i] = clone(vecs[j])
		}
	}
	// Make the new entries visible to the next call.
	e.cache.Wait()
	return out, nil
}

// Close releases the cache.
func (e *Embedder) Close() {
	e.cache.Close()
}

func clone(v []float32) []float32 {
	return append([]float32(nil), v...)
}
