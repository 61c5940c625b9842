package remote_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/becomeliminal/taskmem/memory"
	"github.com/becomeliminal/taskmem/memory/embedder/remote"
)

func newServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func newEmbedder(t *testing.T, url string, timeout time.Duration) *remote.Embedder {
	t.Helper()
	e, err := remote.New(remote.Config{
		Endpoint:   url + "/",
		APIKey:     "secret",
		Deployment: "text-embedding",
		Timeout:    timeout,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

func TestEmbed_RequestAndOrder(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/openai/deployments/text-embedding/embeddings" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("api-version"); got != "2023-05-15" {
			t.Errorf("api-version = %q", got)
		}
		if got := r.Header.Get("api-key"); got != "secret" {
			t.Errorf("api-key = %q", got)
		}
		var body struct {
			Input []string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if len(body.Input) != 2 || body.Input[0] != "first" || body.Input[1] != "second" {
			t.Errorf("input = %v", body.Input)
		}
		// Out of order on purpose; the client must sort by index.
		_, _ = w.Write([]byte(`{"data":[
			{"index":1,"embedding":[0,1]},
			{"index":0,"embedding":[1,0]}
		]}`))
	})

	vecs, err := newEmbedder(t, srv.URL, 0).Embed(context.Background(), []string{"first", "second"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vecs) != 2 || vecs[0][0] != 1 || vecs[1][1] != 1 {
		t.Fatalf("vectors = %v", vecs)
	}
}

func TestEmbed_HTTPError(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"code":"401","message":"bad key"}}`, http.StatusUnauthorized)
	})

	_, err := newEmbedder(t, srv.URL, 0).Embed(context.Background(), []string{"x"})
	if !errors.Is(err, memory.ErrProvider) {
		t.Fatalf("err = %v, want ErrProvider", err)
	}
	if !strings.Contains(err.Error(), "401") {
		t.Errorf("error should carry the status: %v", err)
	}
}

func TestEmbed_MalformedPayload(t *testing.T) {
	cases := map[string]string{
		"not json":       `<html>`,
		"count mismatch": `{"data":[{"index":0,"embedding":[1]}]}`,
		"empty vector":   `{"data":[{"index":0,"embedding":[]},{"index":1,"embedding":[1]}]}`,
		"api error":      `{"error":{"code":"x","message":"y"}}`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(payload))
			})
			_, err := newEmbedder(t, srv.URL, 0).Embed(context.Background(), []string{"a", "b"})
			if !errors.Is(err, memory.ErrProvider) {
				t.Fatalf("err = %v, want ErrProvider", err)
			}
		})
	}
}

func TestEmbed_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	_, err := newEmbedder(t, srv.URL, 50*time.Millisecond).Embed(context.Background(), []string{"slow"})
	if !errors.Is(err, memory.ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
}

func TestEmbed_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := newEmbedder(t, url, time.Second).Embed(context.Background(), []string{"x"})
	if !errors.Is(err, memory.ErrProvider) {
		t.Fatalf("err = %v, want ErrProvider", err)
	}
}

func TestEmbed_EmptyInput(t *testing.T) {
	e := newEmbedder(t, "http://127.0.0.1:1", 0)
	vecs, err := e.Embed(context.Background(), nil)
	if err != nil || len(vecs) != 0 {
		t.Fatalf("Embed(nil) = %v, %v", vecs, err)
	}
}

func TestNew_RequiresSettings(t *testing.T) {
	_, err := remote.New(remote.Config{Endpoint: "http://x", APIKey: "k"})
	if !errors.Is(err, memory.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}
