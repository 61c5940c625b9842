//go:build !onnx

package cli

import (
	"log/slog"

	"github.com/becomeliminal/taskmem/config"
	"github.com/becomeliminal/taskmem/memory"
	"github.com/becomeliminal/taskmem/memory/embedder/local"
)

// newLocalEmbedder returns the offline fallback model. Binaries built with
// -tags onnx use the ONNX model instead when it is configured.
func newLocalEmbedder(cfg *config.Config, logger *slog.Logger) (memory.Embedder, func() error, error) {
	if cfg.Embedding.ONNXModelPath != "" {
		logger.Warn("onnx_model_path is set but this binary was built without -tags onnx; using the hashing model")
	}
	return local.New(local.Config{Dimensions: cfg.Embedding.Dimensions}), nil, nil
}
