package embedding

import "log/slog"

// ONNXConfig configures the in-process ONNX embedder.
type ONNXConfig struct {
	// ModelPath is the path to the exported model.onnx file.
	ModelPath string

	// TokenizerPath is the path to the matching tokenizer.json.
	TokenizerPath string

	// LibraryPath points at libonnxruntime; empty uses the runtime's default lookup.
	LibraryPath string

	// ModelName is recorded with stored vectors (default: all-MiniLM-L6-v2).
	ModelName string

	// Dimensions is the hidden size (default: 384).
	Dimensions int

	// MaxSequenceLength caps tokens per input including [CLS] and [SEP] (default: 256).
	MaxSequenceLength int

	Logger *slog.Logger
}

func (c *ONNXConfig) applyDefaults() {
	if c.ModelName == "" {
		c.ModelName = "all-MiniLM-L6-v2"
	}
	if c.Dimensions == 0 {
		c.Dimensions = 384
	}
	if c.MaxSequenceLength == 0 {
		c.MaxSequenceLength = 256
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// meanPool averages the token embeddings of a [1, seq, dim] tensor over the
// attended positions and L2-normalises the result.
func meanPool(hidden []float32, mask []int64, dim int) []float32 {
	sum := make([]float64, dim)
	var attended float64
	for i, m := range mask {
		if m == 0 {
			continue
		}
		attended++
		row := hidden[i*dim : (i+1)*dim]
		for j, v := range row {
			sum[j] += float64(v)
		}
	}
	if attended > 0 {
		for j := range sum {
			sum[j] /= attended
		}
	}
	return normalize(sum)
}
