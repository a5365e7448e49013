package embedding

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-resty/resty/v2"

	"github.com/hyperjump/callmind/internal/models"
)

// OllamaEmbedder calls a local Ollama server's /api/embed endpoint.
type OllamaEmbedder struct {
	client     *resty.Client
	model      string
	dimensions int
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float32 `json:"embeddings"`
}

type ollamaTagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// NewOllamaEmbedder creates an embedder for model served at baseURL (e.g. http://localhost:11434).
func NewOllamaEmbedder(baseURL, model string, dimensions int) (*OllamaEmbedder, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("ollama embedder: base url is required")
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("Content-Type", "application/json")
	return &OllamaEmbedder{client: client, model: model, dimensions: dimensions}, nil
}

// Embed generates a normalized embedding for text.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var out ollamaEmbedResponse
	resp, err := e.client.R().
		SetContext(ctx).
		SetBody(ollamaEmbedRequest{Model: e.model, Input: []string{text}}).
		SetResult(&out).
		Post("/api/embed")
	if err != nil {
		return nil, models.Transient("embed", fmt.Errorf("http request: %w", err))
	}
	if resp.IsError() {
		err := fmt.Errorf("ollama error (status %d): %s", resp.StatusCode(), resp.String())
		if resp.StatusCode() >= http.StatusInternalServerError {
			return nil, models.Transient("embed", err)
		}
		return nil, models.Fatal("embed", err)
	}
	if len(out.Embeddings) == 0 {
		return nil, models.Transient("embed", fmt.Errorf("no embeddings returned"))
	}
	emb := out.Embeddings[0]
	if err := checkDimensions(emb, e.dimensions); err != nil {
		return nil, models.Fatal("embed", err)
	}
	NormalizeL2Slice(emb)
	return emb, nil
}

// Health checks that Ollama is reachable and the model has been pulled.
func (e *OllamaEmbedder) Health(ctx context.Context) error {
	var tags ollamaTagsResponse
	resp, err := e.client.R().SetContext(ctx).SetResult(&tags).Get("/api/tags")
	if err != nil {
		return fmt.Errorf("ollama not available: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("ollama returned status %d", resp.StatusCode())
	}
	want := stripModelTag(e.model)
	for _, m := range tags.Models {
		if stripModelTag(m.Name) == want {
			return nil
		}
	}
	return fmt.Errorf("model %s not found (run: ollama pull %s)", e.model, e.model)
}

// Dimensions returns the configured embedding dimension.
func (e *OllamaEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op for OllamaEmbedder.
func (e *OllamaEmbedder) Close() error {
	return nil
}

// stripModelTag removes a tag suffix such as ":latest".
func stripModelTag(name string) string {
	if i := strings.IndexByte(name, ':'); i >= 0 {
		return name[:i]
	}
	return name
}
