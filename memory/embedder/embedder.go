// Package embedder chooses which memory.Embedder serves a process.
//
// The remote provider is used only when its endpoint, key and deployment
// are all configured; otherwise the local model is used. The choice is made
// when the embedder is built and changes only through Switch.Refresh.
package embedder

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/becomeliminal/taskmem/memory"
	"github.com/becomeliminal/taskmem/memory/embedder/remote"
)

// Provider names reported by Resolve and Switch.
const (
	ProviderRemote = "remote"
	ProviderLocal  = "local"
)

// Resolve returns the remote embedder when cfg is complete, and local
// otherwise, together with the provider name.
func Resolve(cfg remote.Config, local memory.Embedder) (memory.Embedder, string, error) {
	if !cfg.Complete() {
		return local, ProviderLocal, nil
	}
	e, err := remote.New(cfg)
	if err != nil {
		return nil, "", err
	}
	return e, ProviderRemote, nil
}

type selection struct {
	embedder memory.Embedder
	provider string
}

// Switch is a memory.Embedder whose provider can be re-resolved at runtime.
// Calls in flight keep the provider they started with.
type Switch struct {
	local   memory.Embedder
	current atomic.Pointer[selection]
	logger  *slog.Logger
}

var _ memory.Embedder = (*Switch)(nil)

// NewSwitch resolves cfg against local.
func NewSwitch(cfg remote.Config, local memory.Embedder, logger *slog.Logger) (*Switch, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Switch{local: local, logger: logger}
	if err := s.Refresh(cfg); err != nil {
		return nil, err
	}
	return s, nil
}

// Refresh re-resolves the provider from cfg. On error the previous
// provider stays in place.
func (s *Switch) Refresh(cfg remote.Config) error {
	e, provider, err := Resolve(cfg, s.local)
	if err != nil {
		return err
	}
	prev := s.current.Swap(&selection{embedder: e, provider: provider})
	if prev == nil || prev.provider != provider {
		s.logger.Info("embedding provider selected", slog.String("provider", provider))
	}
	return nil
}

// Provider returns the name of the active provider.
func (s *Switch) Provider() string {
	return s.current.Load().provider
}

// Embed delegates to the active provider.
func (s *Switch) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return s.current.Load().embedder.Embed(ctx, texts)
}
