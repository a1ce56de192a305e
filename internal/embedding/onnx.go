//go:build onnx

package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// ONNXEmbedder runs a sentence-transformer model (all-MiniLM-L6-v2 by
// default) in-process through ONNX Runtime, with mean pooling and L2
// normalisation. Loading the model takes a few hundred milliseconds and
// roughly 100MB; construct it once per process.
type ONNXEmbedder struct {
	mu         sync.Mutex
	session    *ort.DynamicAdvancedSession
	tokenizer  *WordPieceTokenizer
	dimensions int
	maxLen     int
	model      string
	logger     *slog.Logger
}

// NewONNXEmbedder loads the model and tokenizer named in cfg.
func NewONNXEmbedder(cfg ONNXConfig) (*ONNXEmbedder, error) {
	cfg.applyDefaults()
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("onnx: model path is required")
	}

	if cfg.LibraryPath != "" {
		ort.SetSharedLibraryPath(cfg.LibraryPath)
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("onnx: failed to initialize runtime: %w", err)
		}
	}

	tokenizer, err := LoadWordPieceTokenizer(cfg.TokenizerPath)
	if err != nil {
		return nil, fmt.Errorf("onnx: %w", err)
	}

	session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"last_hidden_state"},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("onnx: failed to create session: %w", err)
	}

	cfg.Logger.Info("onnx embedder loaded", "model", cfg.ModelPath, "dimensions", cfg.Dimensions)

	return &ONNXEmbedder{
		session:    session,
		tokenizer:  tokenizer,
		dimensions: cfg.Dimensions,
		maxLen:     cfg.MaxSequenceLength,
		model:      cfg.ModelName,
		logger:     cfg.Logger,
	}, nil
}

// Embed returns the pooled, normalised sentence embedding of text.
func (e *ONNXEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ids := e.tokenizer.Encode(text, e.maxLen)
	seqLen := len(ids)
	mask := make([]int64, seqLen)
	typeIDs := make([]int64, seqLen)
	for i := range mask {
		mask[i] = 1
	}

	shape := ort.NewShape(1, int64(seqLen))
	idsTensor, err := ort.NewTensor(shape, ids)
	if err != nil {
		return nil, fmt.Errorf("onnx: input_ids tensor: %w", err)
	}
	defer idsTensor.Destroy()

	maskTensor, err := ort.NewTensor(shape, mask)
	if err != nil {
		return nil, fmt.Errorf("onnx: attention_mask tensor: %w", err)
	}
	defer maskTensor.Destroy()

	typeTensor, err := ort.NewTensor(shape, typeIDs)
	if err != nil {
		return nil, fmt.Errorf("onnx: token_type_ids tensor: %w", err)
	}
	defer typeTensor.Destroy()

	outputs := []ort.Value{nil}

	e.mu.Lock()
	err = e.session.Run([]ort.Value{idsTensor, maskTensor, typeTensor}, outputs)
	e.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("onnx: inference failed: %w", err)
	}
	defer func() {
		for _, out := range outputs {
			if out != nil {
				out.Destroy()
			}
		}
	}()

	hidden, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("onnx: unexpected output tensor type %T", outputs[0])
	}

	outShape := hidden.GetShape()
	if len(outShape) != 3 || outShape[0] != 1 {
		return nil, fmt.Errorf("onnx: unexpected output shape %v", outShape)
	}
	if int(outShape[2]) != e.dimensions {
		return nil, fmt.Errorf("onnx: hidden size %d, expected %d", outShape[2], e.dimensions)
	}

	return meanPool(hidden.GetData(), mask, e.dimensions), nil
}

// Dimensions returns the embedding size.
func (e *ONNXEmbedder) Dimensions() int { return e.dimensions }

// GetModel returns the model name recorded with stored vectors.
func (e *ONNXEmbedder) GetModel() string { return e.model }

// Close releases the ONNX session.
func (e *ONNXEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil
	}
	err := e.session.Destroy()
	e.session = nil
	return err
}
