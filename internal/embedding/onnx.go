//go:build cgo
// +build cgo

package embedding

import (
	"context"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/hyperjump/callmind/internal/models"
)

var ortInit struct {
	once sync.Once
	err  error
}

func initRuntime() error {
	ortInit.once.Do(func() {
		if ort.IsInitialized() {
			return
		}
		ortInit.err = ort.InitializeEnvironment()
	})
	return ortInit.err
}

// ONNXEmbedder runs a pooled sentence-transformer model locally through ONNX Runtime.
// The model must take input_ids, attention_mask and token_type_ids of shape [1, n] and
// produce a single [1, dimensions] output. Requires CGO and the onnxruntime shared library.
type ONNXEmbedder struct {
	mu         sync.Mutex
	session    *ort.DynamicAdvancedSession
	tokenizer  Tokenizer
	dimensions int
	maxTokens  int
}

// NewONNXEmbedder loads the model at modelPath.
func NewONNXEmbedder(modelPath string, dimensions, maxTokens int) (*ONNXEmbedder, error) {
	if modelPath == "" {
		return nil, fmt.Errorf("onnx model path is required")
	}
	if err := initRuntime(); err != nil {
		return nil, fmt.Errorf("failed to initialize ONNX runtime: %w", err)
	}
	session, err := ort.NewDynamicAdvancedSession(modelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"output"},
		nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}
	return &ONNXEmbedder{
		session:    session,
		tokenizer:  &SimpleTokenizer{},
		dimensions: dimensions,
		maxTokens:  maxTokens,
	}, nil
}

// Embed returns the normalized embedding for text. Padding past the last real token is not
// sent to the model, so short voicemails run on short sequences.
func (e *ONNXEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, models.Transient("embed", err)
	}
	ids, mask, types := e.tokenizer.Tokenize(text, e.maxTokens)
	n := sequenceLength(mask)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil, models.Fatal("embed", fmt.Errorf("onnx embedder is closed"))
	}

	shape := ort.NewShape(1, int64(n))
	var tensors []*ort.Tensor[int64]
	defer func() {
		for _, t := range tensors {
			_ = t.Destroy()
		}
	}()
	for _, data := range [][]int64{ids[:n], mask[:n], types[:n]} {
		t, err := ort.NewTensor(shape, data)
		if err != nil {
			return nil, models.Fatal("embed", fmt.Errorf("failed to create input tensor: %w", err))
		}
		tensors = append(tensors, t)
	}
	out, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(e.dimensions)))
	if err != nil {
		return nil, models.Fatal("embed", fmt.Errorf("failed to create output tensor: %w", err))
	}
	defer out.Destroy()

	inputs := []ort.ArbitraryTensor{tensors[0], tensors[1], tensors[2]}
	if err := e.session.Run(inputs, []ort.ArbitraryTensor{out}); err != nil {
		return nil, models.Fatal("embed", fmt.Errorf("inference failed: %w", err))
	}

	vec := make([]float32, e.dimensions)
	copy(vec, out.GetData())
	NormalizeL2Slice(vec)
	return vec, nil
}

// Dimensions returns the embedding dimension.
func (e *ONNXEmbedder) Dimensions() int {
	return e.dimensions
}

// Close destroys the session. Further Embed calls fail as fatal.
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
