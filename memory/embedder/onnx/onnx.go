//go:build onnx

// Package onnx runs a sentence-transformer model (all-MiniLM-L6-v2 or
// compatible) through ONNX Runtime. Build with -tags onnx; the runtime
// shared library must be installed separately.
package onnx

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/becomeliminal/taskmem/memory"
)

const (
	defaultDimensions = 384
	defaultMaxTokens  = 128
)

// Config configures the ONNX embedder.
type Config struct {
	// ModelPath is the path to the ONNX model file.
	ModelPath string

	// TokenizerPath is the path to the tokenizer.json file.
	TokenizerPath string

	// SharedLibraryPath locates libonnxruntime. Empty uses the runtime's
	// default search.
	SharedLibraryPath string

	// Dimensions is the embedding vector size (default: 384 for all-MiniLM-L6-v2).
	Dimensions int

	// MaxTokens caps the sequence length including [CLS] and [SEP] (default: 128).
	MaxTokens int

	Logger *slog.Logger
}

// Embedder generates embeddings using ONNX Runtime.
type Embedder struct {
	mu         sync.Mutex // a session runs one batch at a time
	session    *ort.DynamicAdvancedSession
	tokenizer  *wordPiece
	dimensions int
	maxTokens  int
	logger     *slog.Logger
}

var (
	initOnce sync.Once
	initErr  error
)

// initRuntime loads the shared library once per process.
func initRuntime(libPath string) error {
	initOnce.Do(func() {
		if libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		}
		initErr = ort.InitializeEnvironment()
	})
	return initErr
}

// New creates a new ONNX embedder.
func New(cfg Config) (*Embedder, error) {
	if cfg.ModelPath == "" || cfg.TokenizerPath == "" {
		return nil, fmt.Errorf("%w: onnx embedder needs model and tokenizer paths", memory.ErrValidation)
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = defaultDimensions
	}
	if cfg.MaxTokens < 2 {
		cfg.MaxTokens = defaultMaxTokens
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if err := initRuntime(cfg.SharedLibraryPath); err != nil {
		return nil, fmt.Errorf("%w: initialize onnx runtime: %w", memory.ErrProvider, err)
	}

	tokenizer, err := loadWordPiece(cfg.TokenizerPath)
	if err != nil {
		return nil, fmt.Errorf("%w: load tokenizer: %w", memory.ErrProvider, err)
	}

	session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"last_hidden_state"},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: create onnx session: %w", memory.ErrProvider, err)
	}

	logger.Debug("onnx embedder ready",
		slog.String("model", cfg.ModelPath),
		slog.Int("dims", cfg.Dimensions),
		slog.Int("max_tokens", cfg.MaxTokens))

	return &Embedder{
		session:    session,
		tokenizer:  tokenizer,
		dimensions: cfg.Dimensions,
		maxTokens:  cfg.MaxTokens,
		logger:     logger,
	}, nil
}

// Embed runs texts through the model as one padded batch and mean-pools
// the hidden states over attended tokens.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	batch := len(texts)
	seqLen := 0
	encoded := make([][]int64, batch)
	for i, text := range texts {
		encoded[i] = e.tokenizer.encode(text, e.maxTokens)
		seqLen = max(seqLen, len(encoded[i]))
	}

	inputIDs := make([]int64, batch*seqLen)
	mask := make([]int64, batch*seqLen)
	typeIDs := make([]int64, batch*seqLen)
	for i, ids := range encoded {
		row := i * seqLen
		for j, id := range ids {
			inputIDs[row+j] = id
			mask[row+j] = 1
		}
	}

	shape := ort.NewShape(int64(batch), int64(seqLen))
	inputs := make([]ort.Value, 0, 3)
	defer func() {
		for _, v := range inputs {
			_ = v.Destroy()
		}
	}()
	// Order matches the input names given to the session.
	for _, data := range [][]int64{inputIDs, mask, typeIDs} {
		t, err := ort.NewTensor(shape, data)
		if err != nil {
			return nil, fmt.Errorf("%w: create input tensor: %w", memory.ErrProvider, err)
		}
		inputs = append(inputs, t)
	}

	outputs := []ort.Value{nil}
	e.mu.Lock()
	err := e.session.Run(inputs, outputs)
	e.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("%w: onnx inference: %w", memory.ErrProvider, err)
	}
	defer func() {
		if outputs[0] != nil {
			_ = outputs[0].Destroy()
		}
	}()

	hidden, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("%w: unexpected output tensor type %T", memory.ErrProvider, outputs[0])
	}
	out, err := e.pool(hidden.GetData(), hidden.GetShape(), mask, batch, seqLen)
	if err != nil {
		return nil, err
	}
	e.logger.Debug("onnx embedded batch", slog.Int("texts", batch), slog.Int("seq_len", seqLen))
	return out, nil
}

// pool turns model output into one unit vector per text. Output may be
// already pooled [batch, hidden] or per-token [batch, seq, hidden].
func (e *Embedder) pool(data []float32, shape ort.Shape, mask []int64, batch, seqLen int) ([][]float32, error) {
	out := make([][]float32, batch)
	switch len(shape) {
	case 2:
		if int(shape[0]) != batch || int(shape[1]) != e.dimensions {
			return nil, fmt.Errorf("%w: output shape %v, want [%d %d]", memory.ErrProvider, shape, batch, e.dimensions)
		}
		for b := range out {
			vec := make([]float32, e.dimensions)
			copy(vec, data[b*e.dimensions:(b+1)*e.dimensions])
			out[b] = normalize(vec)
		}
	case 3:
		if int(shape[0]) != batch || int(shape[1]) != seqLen || int(shape[2]) != e.dimensions {
			return nil, fmt.Errorf("%w: output shape %v, want [%d %d %d]", memory.ErrProvider, shape, batch, seqLen, e.dimensions)
		}
		for b := range out {
			vec := make([]float32, e.dimensions)
			var attended float32
			for s := 0; s < seqLen; s++ {
				if mask[b*seqLen+s] == 0 {
					continue
				}
				attended++
				offset := (b*seqLen + s) * e.dimensions
				for d := range vec {
					vec[d] += data[offset+d]
				}
			}
			for d := range vec {
				vec[d] /= attended
			}
			out[b] = normalize(vec)
		}
	default:
		return nil, fmt.Errorf("%w: unexpected output shape %v", memory.ErrProvider, shape)
	}
	return out, nil
}

// Dimensions returns the embedding vector size.
func (e *Embedder) Dimensions() int {
	return e.dimensions
}

// Close releases ONNX resources.
func (e *Embedder) Close() error {
	if e.session == nil {
		return nil
	}
	return e.session.Destroy()
}

func normalize(vec []float32) []float32 {
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	n := float32(math.Sqrt(norm))
	for i := range vec {
		vec[i] /= n
	}
	return vec
}
