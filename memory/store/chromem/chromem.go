package chromem

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/becomeliminal/taskmem/memory"
)

// Store wraps chromem-go for vector storage.
// chromem-go is a pure Go, embedded vector database. Each memory collection
// maps to one chromem collection.
type Store struct {
	db     *chromem.DB
	mu     sync.Mutex // serializes collection creation
	logger *slog.Logger
}

var _ memory.Store = (*Store)(nil)

// New creates a new in-memory chromem-based store.
func New() (*Store, error) {
	return &Store{db: chromem.NewDB(), logger: slog.Default()}, nil
}

// NewPersistent creates a store that persists collections under dir,
// loading any collections already there.
func NewPersistent(dir string, compress bool) (*Store, error) {
	db, err := chromem.NewPersistentDB(dir, compress)
	if err != nil {
		return nil, fmt.Errorf("%w: open persistent db %s: %w", memory.ErrStore, dir, err)
	}
	return &Store{db: db, logger: slog.Default()}, nil
}

// WithLogger sets the logger used for store events.
func (s *Store) WithLogger(logger *slog.Logger) *Store {
	if logger != nil {
		s.logger = logger
	}
	return s
}

// errPrecomputed is returned if chromem ever tries to embed on our behalf.
var errPrecomputed = errors.New("chromem: embeddings must be precomputed by memory.Manager")

// refuseEmbed stands in for chromem's default embedding func, which would
// otherwise call a remote API when a document or query lacks a vector.
func refuseEmbed(context.Context, string) ([]float32, error) {
	return nil, errPrecomputed
}

// getOrCreateCollection returns the named collection, creating it once.
// chromem's own GetOrCreateCollection is not atomic, so creation is locked.
func (s *Store) getOrCreateCollection(name string) (*chromem.Collection, error) {
	if col := s.db.GetCollection(name, refuseEmbed); col != nil {
		return col, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Double-check after acquiring lock
	if col := s.db.GetCollection(name, refuseEmbed); col != nil {
		return col, nil
	}

	col, err := s.db.CreateCollection(name, nil, refuseEmbed)
	if err != nil {
		return nil, fmt.Errorf("create collection %s: %w", name, err)
	}
	s.logger.Debug("created collection", slog.String("collection", name))
	return col, nil
}

// Add saves a document with its embedding.
func (s *Store) Add(ctx context.Context, doc memory.Document) error {
	if len(doc.Embedding) == 0 {
		return fmt.Errorf("%w: document %s has no embedding", memory.ErrValidation, doc.ID)
	}
	col, err := s.getOrCreateCollection(doc.Collection)
	if err != nil {
		return fmt.Errorf("%w: %w", memory.ErrStore, err)
	}

	metadata := doc.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	err = col.AddDocument(ctx, chromem.Document{
		ID:        doc.ID,
		Content:   doc.Text,
		Embedding: doc.Embedding,
		Metadata:  metadata,
	})
	if err != nil {
		return fmt.Errorf("%w: add document: %w", memory.ErrStore, err)
	}
	return nil
}

// Collections lists collection names sorted lexicographically.
func (s *Store) Collections(ctx context.Context) ([]string, error) {
	cols := s.db.ListCollections()
	names := make([]string, 0, len(cols))
	for name := range cols {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Query retrieves up to n documents of collection by vector similarity.
// Distance is reported as 1 - cosine similarity. Equal distances are
// ordered by document ID so repeated queries return the same matches.
func (s *Store) Query(ctx context.Context, collection string, embedding []float32, n int) ([]memory.Match, error) {
	col := s.db.GetCollection(collection, refuseEmbed)
	if col == nil || n <= 0 {
		return nil, nil
	}

	count := col.Count()
	if count == 0 {
		return nil, nil
	}

	// chromem ranks ties in map order, so rank every document and cut after
	// the ID tie-break.
	results, err := col.QueryEmbedding(ctx, embedding, count, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: chromem query: %w", memory.ErrStore, err)
	}

	matches := make([]memory.Match, len(results))
	for i, r := range results {
		matches[i] = memory.Match{
			Collection: collection,
			ID:         r.ID,
			Text:       r.Content,
			Distance:   1 - r.Similarity,
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Distance != matches[j].Distance {
			return matches[i].Distance < matches[j].Distance
		}
		return matches[i].ID < matches[j].ID
	})
	if len(matches) > n {
		matches = matches[:n]
	}
	return matches, nil
}

// Close releases resources.
func (s *Store) Close() error {
	// chromem-go writes through on every add; nothing to flush
	return nil
}
