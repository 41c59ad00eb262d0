// Package embed provides embedding backends for the semantic matcher.
package embed

import (
	"context"
	"fmt"
	"os"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/ShayCichocki/specfit/internal/match"
)

// DefaultModel is the embedding model used when none is configured.
const DefaultModel = string(openai.SmallEmbedding3)

// OpenAIConfig configures the OpenAI embedding backend.
type OpenAIConfig struct {
	// APIKey is the OpenAI API key. If empty, uses OPENAI_API_KEY env var.
	APIKey string
	// BaseURL overrides the API endpoint (for proxies and compatible servers).
	BaseURL string
	// Model is the embedding model name.
	Model string
	// RequestsPerSecond limits request rate. Zero means unlimited.
	RequestsPerSecond float64
	// BatchSize caps how many texts go into one request.
	BatchSize int
}

// OpenAI embeds texts through the OpenAI embeddings API.
type OpenAI struct {
	client    *openai.Client
	model     string
	limiter   *rate.Limiter
	batchSize int
}

// NewOpenAI creates an OpenAI embedding backend.
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY environment variable is not set")
	}

	clientCfg := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 256
	}

	return &OpenAI{
		client:    openai.NewClientWithConfig(clientCfg),
		model:     model,
		limiter:   rate.NewLimiter(limit, 1),
		batchSize: batch,
	}, nil
}

// Model returns the embedding model name.
func (o *OpenAI) Model() string {
	return o.model
}

// Embed returns one vector per text, in input order.
func (o *OpenAI) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for start := 0; start < len(texts); start += o.batchSize {
		end := min(start+o.batchSize, len(texts))
		if err := o.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}

		resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input: texts[start:end],
			Model: openai.EmbeddingModel(o.model),
		})
		if err != nil {
			return nil, fmt.Errorf("create embeddings: %w", err)
		}
		if len(resp.Data) != end-start {
			return nil, fmt.Errorf("create embeddings: got %d vectors for %d texts", len(resp.Data), end-start)
		}
		for _, d := range resp.Data {
			if d.Index < 0 || d.Index >= end-start {
				return nil, fmt.Errorf("create embeddings: index %d out of range", d.Index)
			}
			out[start+d.Index] = d.Embedding
		}
	}
	return out, nil
}

// Verify OpenAI implements match.Embedder at compile time.
var _ match.Embedder = (*OpenAI)(nil)
