package embedder_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/becomeliminal/taskmem/memory/embedder"
	"github.com/becomeliminal/taskmem/memory/embedder/mock"
	"github.com/becomeliminal/taskmem/memory/embedder/remote"
)

func TestResolve(t *testing.T) {
	local := mock.New()
	full := remote.Config{Endpoint: "http://example.invalid", APIKey: "k", Deployment: "d"}

	tests := []struct {
		name string
		cfg  remote.Config
		want string
	}{
		{"empty", remote.Config{}, embedder.ProviderLocal},
		{"missing key", remote.Config{Endpoint: "http://x", Deployment: "d"}, embedder.ProviderLocal},
		{"missing deployment", remote.Config{Endpoint: "http://x", APIKey: "k"}, embedder.ProviderLocal},
		{"missing endpoint", remote.Config{APIKey: "k", Deployment: "d"}, embedder.ProviderLocal},
		{"complete", full, embedder.ProviderRemote},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, provider, err := embedder.Resolve(tt.cfg, local)
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if provider != tt.want {
				t.Errorf("provider = %s, want %s", provider, tt.want)
			}
			if _, isRemote := e.(*remote.Embedder); isRemote != (tt.want == embedder.ProviderRemote) {
				t.Errorf("embedder type %T does not match provider %s", e, provider)
			}
		})
	}
}

func TestSwitch_Refresh(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"index":0,"embedding":[0.6,0.8]}]}`))
	}))
	defer srv.Close()

	local := mock.New()
	sw, err := embedder.NewSwitch(remote.Config{}, local, nil)
	if err != nil {
		t.Fatalf("NewSwitch: %v", err)
	}
	if sw.Provider() != embedder.ProviderLocal {
		t.Fatalf("provider = %s, want local", sw.Provider())
	}

	ctx := context.Background()
	if _, err := sw.Embed(ctx, []string{"x"}); err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if local.Calls() != 1 {
		t.Fatalf("local calls = %d, want 1", local.Calls())
	}

	if err := sw.Refresh(remote.Config{Endpoint: srv.URL, APIKey: "k", Deployment: "d"}); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if sw.Provider() != embedder.ProviderRemote {
		t.Fatalf("provider = %s, want remote", sw.Provider())
	}
	vecs, err := sw.Embed(ctx, []string{"x"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vecs) != 1 || vecs[0][1] != 0.8 {
		t.Errorf("vectors = %v, want remote response", vecs)
	}
	if local.Calls() != 1 {
		t.Errorf("local embedder called after switching to remote")
	}
}
