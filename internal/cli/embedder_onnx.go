//go:build onnx

package cli

import (
	"log/slog"

	"github.com/becomeliminal/taskmem/config"
	"github.com/becomeliminal/taskmem/memory"
	"github.com/becomeliminal/taskmem/memory/embedder/local"
	"github.com/becomeliminal/taskmem/memory/embedder/onnx"
)

// newLocalEmbedder loads the ONNX model when its files are configured and
// falls back to the hashing model otherwise.
func newLocalEmbedder(cfg *config.Config, logger *slog.Logger) (memory.Embedder, func() error, error) {
	ec := cfg.Embedding
	if ec.ONNXModelPath == "" || ec.ONNXTokenizerPath == "" {
		return local.New(local.Config{Dimensions: ec.Dimensions}), nil, nil
	}
	e, err := onnx.New(onnx.Config{
		ModelPath:         ec.ONNXModelPath,
		TokenizerPath:     ec.ONNXTokenizerPath,
		SharedLibraryPath: ec.ONNXLibraryPath,
		Dimensions:        ec.Dimensions,
		Logger:            logger,
	})
	if err != nil {
		return nil, nil, err
	}
	return e, e.Close, nil
}
