//go:build !cgo
// +build !cgo

package embedding

import (
	"context"
	"errors"

	"github.com/hyperjump/callmind/internal/models"
)

var errNoCGO = errors.New("onnx provider needs a cgo build with onnxruntime; use openai, ollama or hash")

// ONNXEmbedder is unavailable without cgo.
type ONNXEmbedder struct{}

// NewONNXEmbedder always fails in a build without cgo.
func NewONNXEmbedder(string, int, int) (*ONNXEmbedder, error) {
	return nil, errNoCGO
}

func (*ONNXEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, models.Fatal("embed", errNoCGO)
}

func (*ONNXEmbedder) Dimensions() int { return 0 }
func (*ONNXEmbedder) Close() error    { return nil }
