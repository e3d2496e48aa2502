// Package embedding is the C3 embedding provider contract: turning text
// fragments into fixed-dimension vectors via an OpenAI-compatible API.
// Grounded on ai/embedding.go's embeddingService (generic OpenAI-protocol
// client usable against OpenAI, siliconflow, ollama, zai, dashscope, etc.
// via BaseURL override), generalized with context-timeout enforcement and
// the apperr.EmbeddingMismatch taxonomy SPEC_FULL.md §7 requires when a
// provider returns a different vector count than it was asked to embed.
package embedding

import (
	"context"
	"time"

	"github.com/pkg/errors"
	openai "github.com/sashabaranov/go-openai"

	"github.com/xlab2016/space-db-public/internal/apperr"
	"github.com/xlab2016/space-db-public/internal/logging"
)

// Provider is the C3 contract.
type Provider interface {
	// Embed generates a vector for a single text fragment.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates vectors for multiple fragments in one round
	// trip. The returned slice has exactly len(texts) entries, in the
	// same order, or an apperr.EmbeddingMismatch error.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the vector dimension this provider produces.
	Dimensions() int
}

// Config configures an OpenAI-protocol embedding provider.
type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int
	Timeout    time.Duration
}

type openAIProvider struct {
	client     *openai.Client
	log        *logging.Logger
	model      string
	dimensions int
	timeout    time.Duration
}

// NewOpenAIProvider builds a Provider against any OpenAI-compatible
// embeddings endpoint.
func NewOpenAIProvider(cfg Config) (Provider, error) {
	if cfg.APIKey == "" {
		return nil, apperr.New(apperr.InvalidInput, "embedding provider requires an API key")
	}
	if cfg.Model == "" {
		return nil, apperr.New(apperr.InvalidInput, "embedding provider requires a model name")
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &openAIProvider{
		client:     openai.NewClientWithConfig(clientConfig),
		log:        logging.Default().WithComponent("embedding.openai"),
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		timeout:    timeout,
	}, nil
}

func (p *openAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (p *openAIProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, apperr.New(apperr.InvalidInput, "no texts provided for embedding")
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req := openai.EmbeddingRequest{
		Input:      texts,
		Model:      openai.EmbeddingModel(p.model),
		Dimensions: p.dimensions,
	}

	resp, err := p.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, apperr.Wrap(apperr.UpstreamFailure, err, "create embeddings")
	}

	if len(resp.Data) != len(texts) {
		return nil, apperr.New(apperr.EmbeddingMismatch,
			errors.Errorf("requested %d embeddings, got %d", len(texts), len(resp.Data)).Error())
	}

	vectors := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		if p.dimensions > 0 && len(d.Embedding) != p.dimensions {
			return nil, apperr.New(apperr.EmbeddingMismatch,
				errors.Errorf("embedding %d has dimension %d, want %d", i, len(d.Embedding), p.dimensions).Error())
		}
		vectors[i] = d.Embedding
	}

	p.log.Debug("embedded batch", "count", len(texts), "model", p.model)
	return vectors, nil
}

func (p *openAIProvider) Dimensions() int {
	return p.dimensions
}
