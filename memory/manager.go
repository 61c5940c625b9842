package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"unicode/utf8"
)

// Manager orchestrates memory operations on top of a Store and an Embedder.
//
// Features:
//   - Automatic embedding on add
//   - Single query embedding per retrieval
//   - Global ranking across collections
type Manager struct {
	store    Store
	embedder Embedder // Internal: callers never see this
	config   *Config
	logger   *slog.Logger
}

// NewManager creates a new Manager.
func NewManager(store Store, embedder Embedder, config *Config) *Manager {
	if config == nil {
		config = DefaultConfig()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:    store,
		embedder: embedder,
		config:   config,
		logger:   logger.With(slog.String("component", "memory")),
	}
}

// AddDocument embeds text and stores it under id in collection.
// The collection is created on first use. If embedding fails nothing is
// stored.
func (m *Manager) AddDocument(ctx context.Context, text, id, collection string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("%w: document text is required", ErrValidation)
	}
	if id == "" {
		return fmt.Errorf("%w: document id is required", ErrValidation)
	}
	if collection == "" {
		return fmt.Errorf("%w: collection name is required", ErrValidation)
	}

	embedding, err := m.embedOne(ctx, text)
	if err != nil {
		return fmt.Errorf("embed document %s: %w", id, err)
	}

	doc := Document{
		ID:         id,
		Text:       text,
		Collection: collection,
		Embedding:  embedding,
		Metadata:   map[string]string{},
	}
	if err := m.store.Add(ctx, doc); err != nil {
		return fmt.Errorf("store document %s: %w", id, asStoreError(err))
	}

	m.logger.Debug("stored document",
		slog.String("collection", collection),
		slog.String("id", id),
		slog.Int("dims", len(embedding)))
	return nil
}

// Collections lists the existing collection names.
func (m *Manager) Collections(ctx context.Context) ([]string, error) {
	names, err := m.store.Collections(ctx)
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", asStoreError(err))
	}
	return names, nil
}

// Query returns up to n documents of a single collection nearest to text.
func (m *Manager) Query(ctx context.Context, collection, text string, n int) ([]Match, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: query text is required", ErrValidation)
	}
	n = m.limit(n)

	embedding, err := m.embedOne(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	matches, err := m.store.Query(ctx, collection, embedding, n)
	if err != nil {
		return nil, fmt.Errorf("query collection %s: %w", collection, asStoreError(err))
	}
	return matches, nil
}

// Search finds the n documents nearest to query across all collections.
//
// The query is embedded once. Every collection is asked for up to n
// matches, the union is stable-sorted by ascending distance, and the first
// n are returned. Ties keep collection order, then per-collection order.
func (m *Manager) Search(ctx context.Context, query string, n int) ([]Match, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: query text is required", ErrValidation)
	}
	n = m.limit(n)

	names, err := m.Collections(ctx)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		m.logger.Debug("no collections to search")
		return nil, nil
	}

	// Embed query
	embedding, err := m.embedOne(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	var all []Match
	for _, name := range names {
		matches, err := m.store.Query(ctx, name, embedding, n)
		if err != nil {
			return nil, fmt.Errorf("query collection %s: %w", name, asStoreError(err))
		}
		all = append(all, matches...)
	}

	sort.SliceStable(all, func(i, j int) bool { return all[i].Distance < all[j].Distance })
	if len(all) > n {
		all = all[:n]
	}

	m.logger.Debug("retrieved memories",
		slog.String("query", truncateLog(query, 50)),
		slog.Int("collections", len(names)),
		slog.Int("matches", len(all)))
	return all, nil
}

// Retrieve runs Search and joins the matched texts with newlines, best
// match first. It returns "" when nothing matches.
func (m *Manager) Retrieve(ctx context.Context, query string, n int) (string, error) {
	matches, err := m.Search(ctx, query, n)
	if err != nil {
		return "", err
	}
	texts := make([]string, len(matches))
	for i, match := range matches {
		texts[i] = match.Text
	}
	return strings.Join(texts, "\n"), nil
}

func (m *Manager) limit(n int) int {
	if n > 0 {
		return n
	}
	if m.config.DefaultResults > 0 {
		return m.config.DefaultResults
	}
	return DefaultConfig().DefaultResults
}

// embedOne embeds a single text and checks the provider honored the
// one-vector-per-input contract.
func (m *Manager) embedOne(ctx context.Context, text string) ([]float32, error) {
	vectors, err := m.embedder.Embed(ctx, []string{text})
	if err != nil {
		if errors.Is(err, ErrProvider) || errors.Is(err, ErrTimeout) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrProvider, err)
	}
	if len(vectors) != 1 || len(vectors[0]) == 0 {
		return nil, fmt.Errorf("%w: expected 1 embedding, got %d", ErrProvider, len(vectors))
	}
	return vectors[0], nil
}

func asStoreError(err error) error {
	if errors.Is(err, ErrStore) || errors.Is(err, ErrValidation) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrStore, err)
}

// truncateLog truncates text to maxLen runes for logging.
func truncateLog(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	return string([]rune(s)[:maxLen]) + "..."
}

// Config holds Manager configuration.
type Config struct {
	// DefaultResults is used when a caller asks for n <= 0 results.
	// Default: 5
	DefaultResults int

	// Logger receives debug logs. Default: slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns the Manager defaults.
func DefaultConfig() *Config {
	return &Config{DefaultResults: 5}
}
