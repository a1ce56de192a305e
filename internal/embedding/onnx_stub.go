//go:build !onnx

package embedding

import (
	"context"
	"errors"
)

// ErrONNXUnsupported is returned when the binary was built without the onnx tag.
var ErrONNXUnsupported = errors.New("onnx embedder not compiled in; rebuild with -tags onnx")

// ONNXEmbedder is unavailable in this build.
type ONNXEmbedder struct{}

// NewONNXEmbedder always fails without the onnx build tag.
func NewONNXEmbedder(cfg ONNXConfig) (*ONNXEmbedder, error) {
	return nil, ErrONNXUnsupported
}

func (e *ONNXEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, ErrONNXUnsupported
}

func (e *ONNXEmbedder) Dimensions() int  { return 0 }
func (e *ONNXEmbedder) GetModel() string { return "" }
func (e *ONNXEmbedder) Close() error     { return nil }
