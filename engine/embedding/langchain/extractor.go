// Package langchain adapts langchaingo embedders to token-feature extraction.
// langchaingo returns pooled vectors, so each result is exposed as a single row.
package langchain

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/embeddings/cybertron"
	"github.com/tmc/langchaingo/llms/openai"
)

// Extractor wraps a langchaingo embedder.
type Extractor struct {
	impl embeddings.Embedder
}

// Wrap adapts an existing langchaingo embedder.
func Wrap(impl embeddings.Embedder) (*Extractor, error) {
	if impl == nil {
		return nil, errors.New("langchain embedder is required")
	}
	return &Extractor{impl: impl}, nil
}

// NewLocal runs a sentence-transformers model in process. Model files are
// fetched into modelsDir on first construction, which makes this slow.
func NewLocal(model, modelsDir string) (*Extractor, error) {
	opts := make([]cybertron.Option, 0, 2)
	if model = strings.TrimSpace(model); model != "" {
		opts = append(opts, cybertron.WithModel(model))
	}
	if modelsDir != "" {
		opts = append(opts, cybertron.WithModelsDir(modelsDir))
	}
	client, err := cybertron.NewCybertron(opts...)
	if err != nil {
		return nil, fmt.Errorf("init local embedder %q: %w", model, err)
	}
	impl, err := embeddings.NewEmbedder(client, embeddings.WithStripNewLines(true))
	if err != nil {
		return nil, fmt.Errorf("construct local embedder %q: %w", model, err)
	}
	return Wrap(impl)
}

// NewOpenAI uses an OpenAI-compatible embeddings endpoint.
func NewOpenAI(model, apiKey, baseURL string) (*Extractor, error) {
	opts := []openai.Option{openai.WithEmbeddingModel(model)}
	if apiKey != "" {
		opts = append(opts, openai.WithToken(apiKey))
	}
	if baseURL != "" {
		opts = append(opts, openai.WithBaseURL(baseURL))
	}
	client, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("init openai embedder %q: %w", model, err)
	}
	impl, err := embeddings.NewEmbedder(client, embeddings.WithStripNewLines(true))
	if err != nil {
		return nil, fmt.Errorf("construct openai embedder %q: %w", model, err)
	}
	return Wrap(impl)
}

func (e *Extractor) Extract(ctx context.Context, text string) ([][]float32, error) {
	vec, err := e.impl.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}
	if len(vec) == 0 {
		return nil, nil
	}
	return [][]float32{vec}, nil
}
