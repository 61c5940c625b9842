package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/becomeliminal/taskmem/memory"
	"github.com/becomeliminal/taskmem/memory/embedder"
	"github.com/becomeliminal/taskmem/memory/embedder/cache"
	"github.com/becomeliminal/taskmem/memory/store/chromem"
	"github.com/becomeliminal/taskmem/task"
)

func openTasks(ctx context.Context) (task.Store, error) {
	e := envFrom(ctx)
	st, err := task.Open(ctx, e.cfg.TaskOptions())
	if err != nil {
		return nil, fmt.Errorf("open task store: %w", err)
	}
	return st, nil
}

// memoryStack is a Manager together with what it needs closed.
type memoryStack struct {
	*memory.Manager
	closers []func() error
}

func (m *memoryStack) Close() error {
	var first error
	for i := len(m.closers) - 1; i >= 0; i-- {
		if err := m.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// openMemory wires the vector store and the embedder chain:
// cache -> switch(remote | local model).
func openMemory(ctx context.Context) (*memoryStack, error) {
	e := envFrom(ctx)
	cfg := e.cfg
	stack := &memoryStack{}

	var (
		vectors *chromem.Store
		err     error
	)
	if cfg.Memory.PersistDir != "" {
		vectors, err = chromem.NewPersistent(cfg.Memory.PersistDir, cfg.Memory.Compress)
	} else {
		vectors, err = chromem.New()
	}
	if err != nil {
		return nil, err
	}
	vectors.WithLogger(e.logger)
	stack.closers = append(stack.closers, vectors.Close)

	local, closeLocal, err := newLocalEmbedder(cfg, e.logger)
	if err != nil {
		_ = stack.Close()
		return nil, err
	}
	if closeLocal != nil {
		stack.closers = append(stack.closers, closeLocal)
	}

	sw, err := embedder.NewSwitch(cfg.Remote(), local, e.logger)
	if err != nil {
		_ = stack.Close()
		return nil, err
	}

	var emb memory.Embedder = sw
	if cfg.Embedding.CacheSize > 0 {
		c, err := cache.New(sw, cache.Config{Size: cfg.Embedding.CacheSize})
		if err != nil {
			_ = stack.Close()
			return nil, err
		}
		stack.closers = append(stack.closers, func() error { c.Close(); return nil })
		emb = c
	}

	e.logger.Debug("memory ready",
		slog.String("persist_dir", cfg.Memory.PersistDir),
		slog.String("provider", sw.Provider()))

	stack.Manager = memory.NewManager(vectors, emb, &memory.Config{
		DefaultResults: cfg.Memory.DefaultResults,
		Logger:         e.logger,
	})
	return stack, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
