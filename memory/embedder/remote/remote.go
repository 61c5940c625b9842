// Package remote implements memory.Embedder against an Azure OpenAI style
// embeddings deployment over HTTP.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/becomeliminal/taskmem/memory"
)

const (
	defaultAPIVersion = "2023-05-15"
	defaultTimeout    = 30 * time.Second
	maxErrorBody      = 512
)

// Config holds configuration for the remote embedder.
type Config struct {
	// Endpoint is the resource base URL, e.g. https://myres.openai.azure.com.
	Endpoint string
	// APIKey is sent in the api-key header.
	APIKey string
	// Deployment names the embedding model deployment.
	Deployment string
	// APIVersion is the api-version query parameter (default: 2023-05-15).
	APIVersion string
	// Timeout bounds every Embed call (default: 30s).
	Timeout time.Duration
	// HTTPClient is used for requests (default: http.DefaultClient).
	HTTPClient *http.Client
}

// Complete reports whether every setting needed to reach the provider is present.
func (c Config) Complete() bool {
	return c.Endpoint != "" && c.APIKey != "" && c.Deployment != ""
}

// Embedder calls a remote embeddings endpoint.
type Embedder struct {
	config Config
	url    string
}

// New creates a remote embedder. Endpoint, APIKey and Deployment are required.
func New(cfg Config) (*Embedder, error) {
	if !cfg.Complete() {
		return nil, fmt.Errorf("%w: remote embedder needs endpoint, api key and deployment", memory.ErrValidation)
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = defaultAPIVersion
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	u := strings.TrimRight(cfg.Endpoint, "/") +
		"/openai/deployments/" + url.PathEscape(cfg.Deployment) +
		"/embeddings?api-version=" + url.QueryEscape(cfg.APIVersion)
	return &Embedder{config: cfg, url: u}, nil
}

type embeddingRequest struct {
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Embed sends texts as one batch and returns their vectors in input order.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	data, err := json.Marshal(embeddingRequest{Input: texts})
	if err != nil {
		return nil, fmt.Errorf("%w: marshal request: %w", memory.ErrProvider, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %w", memory.ErrProvider, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api-key", e.config.APIKey)

	resp, err := e.config.HTTPClient.Do(req)
	if err != nil {
		return nil, classify(ctx, "send request", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classify(ctx, "read response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: API error (status %d): %s", memory.ErrProvider, resp.StatusCode, truncate(string(body)))
	}

	var apiResp embeddingResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("%w: unmarshal response: %w", memory.ErrProvider, err)
	}
	if apiResp.Error != nil {
		return nil, fmt.Errorf("%w: %s: %s", memory.ErrProvider, apiResp.Error.Code, apiResp.Error.Message)
	}
	if len(apiResp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d inputs", memory.ErrProvider, len(apiResp.Data), len(texts))
	}

	sort.SliceStable(apiResp.Data, func(i, j int) bool { return apiResp.Data[i].Index < apiResp.Data[j].Index })
	out := make([][]float32, len(texts))
	for i, d := range apiResp.Data {
		if d.Index != i || len(d.Embedding) == 0 {
			return nil, fmt.Errorf("%w: malformed embedding at index %d", memory.ErrProvider, i)
		}
		out[i] = d.Embedding
	}
	return out, nil
}

// classify maps transport failures to ErrTimeout when the deadline fired,
// and to ErrProvider otherwise.
func classify(ctx context.Context, op string, err error) error {
	var netErr net.Error
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) ||
		(errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %s: %w", memory.ErrTimeout, op, err)
	}
	return fmt.Errorf("%w: %s: %w", memory.ErrProvider, op, err)
}

func truncate(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxErrorBody {
		return s
	}
	return s[:maxErrorBody] + "..."
}
