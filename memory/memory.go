package memory

import (
	"context"
	"errors"
)

// Document is a piece of text stored with its embedding in a named collection.
type Document struct {
	// ID is caller-supplied and unique within Collection.
	// Adding a document with an existing ID replaces it.
	ID string

	// Text is the raw content. Embedding is always derived from it.
	Text string

	// Collection groups documents (e.g. "code", "requirements").
	Collection string

	// Embedding is set by Manager before the document reaches a Store.
	Embedding []float32

	// Metadata is stored alongside the document. Manager stores it empty.
	Metadata map[string]string
}

// Match is a single nearest-neighbor result.
type Match struct {
	Collection string
	ID         string
	Text       string

	// Distance between the query and the document. Smaller is closer.
	// The metric is owned by the Store.
	Distance float32
}

// Embedder converts text to vector embeddings.
// Implementations: remote (HTTP provider), local (feature hashing),
// onnx (all-MiniLM-L6-v2), cache (decorator), mock (testing).
//
// Note: Embedder is an implementation detail of Manager.
// Stores never call it.
type Embedder interface {
	// Embed returns one vector per input text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Store is the vector storage backend interface.
// Implementations: chromem.Store.
type Store interface {
	// Add saves a document with its embedding, creating the collection if
	// needed. Document.Embedding must be set.
	Add(ctx context.Context, doc Document) error

	// Collections lists existing collection names in a stable order.
	Collections(ctx context.Context) ([]string, error)

	// Query returns up to n documents of collection nearest to embedding,
	// sorted by ascending distance. Unknown or empty collections yield no
	// matches.
	Query(ctx context.Context, collection string, embedding []float32, n int) ([]Match, error)

	// Close releases resources.
	Close() error
}

var (
	// ErrValidation is returned for empty ids, texts, collections or queries.
	ErrValidation = errors.New("validation error")
	// ErrProvider is returned when the embedding backend fails or answers
	// with a malformed payload.
	ErrProvider = errors.New("embedding provider error")
	// ErrTimeout is returned when an embedding call exceeds its deadline.
	ErrTimeout = errors.New("embedding provider timeout")
	// ErrStore wraps failures of the vector store.
	ErrStore = errors.New("vector store error")
)
