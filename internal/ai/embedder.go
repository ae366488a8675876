package ai

import (
	"context"
	"errors"
	"fmt"

	"docqa-gateway/internal/config"
)

// ErrEmptyInput is returned when a text carries nothing that can be embedded.
var ErrEmptyInput = errors.New("embedding input is empty")

// Embedder turns text into fixed-dimension vectors.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// NewEmbedder builds the embedder selected by cfg.Provider.
func NewEmbedder(cfg config.EmbeddingConfig) (Embedder, error) {
	switch cfg.Provider {
	case "hash":
		return NewHashingEmbedder(cfg.Dimension)
	case "openai":
		return NewOpenAICompatibleClient(EmbeddingConfig{
			BaseURL:   cfg.BaseURL,
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			Dimension: cfg.Dimension,
		})
	default:
		return nil, fmt.Errorf("unsupported embedding provider %q", cfg.Provider)
	}
}
