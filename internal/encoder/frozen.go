package encoder

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/latgalenlp/saskana/internal/config"
	"github.com/latgalenlp/saskana/internal/nn"
)

// Frozen is a sentence encoder backed by a langchaingo embedding model.
// The model pools server-side and exposes no token states, so nothing is
// trainable: Params is empty and gradients stop at the embeddings.
type Frozen struct {
	model     embeddings.Embedder
	modelName string
	dim       int
}

var _ SentenceEncoder = (*Frozen)(nil)

// NewFrozen creates a frozen encoder for the configured provider.
func NewFrozen(cfg config.Config, dim int) (*Frozen, error) {
	var model embeddings.Embedder
	var err error

	switch cfg.Provider {
	case config.ProviderOllama:
		llm, ollamaErr := ollama.New(
			ollama.WithModel(cfg.EncoderModel),
			ollama.WithServerURL(cfg.OllamaHost),
		)
		if ollamaErr != nil {
			return nil, fmt.Errorf("create ollama client: %w", ollamaErr)
		}
		model, err = embeddings.NewEmbedder(llm)
		if err != nil {
			return nil, fmt.Errorf("create ollama embedder: %w", err)
		}

	case config.ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OpenAI API key required")
		}
		llm, openaiErr := openai.New(
			openai.WithToken(cfg.OpenAIAPIKey),
			openai.WithEmbeddingModel(cfg.EncoderModel),
		)
		if openaiErr != nil {
			return nil, fmt.Errorf("create openai client: %w", openaiErr)
		}
		model, err = embeddings.NewEmbedder(llm)
		if err != nil {
			return nil, fmt.Errorf("create openai embedder: %w", err)
		}

	default:
		return nil, fmt.Errorf("unsupported frozen provider: %s", cfg.Provider)
	}

	return &Frozen{model: model, modelName: cfg.EncoderModel, dim: dim}, nil
}

// Params returns an empty set: nothing in a frozen encoder trains.
func (f *Frozen) Params() nn.Params { return nn.Params{} }

// Dim returns the expected embedding dimension.
func (f *Frozen) Dim() int { return f.dim }

// Encode embeds each text as a constant [dim x 1] column.
func (f *Frozen) Encode(ctx context.Context, _ *nn.Graph, texts []string, _ *rand.Rand) ([]*nn.Mat, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors, err := f.model.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed batch: %w", err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("count mismatch: got %d, want %d", len(vectors), len(texts))
	}

	out := make([]*nn.Mat, len(vectors))
	for i, vec := range vectors {
		if len(vec) != f.dim {
			return nil, fmt.Errorf("embedding %d dimension mismatch: got %d, want %d", i, len(vec), f.dim)
		}
		m := nn.NewMat(f.dim, 1)
		for r, v := range vec {
			m.W[r] = float64(v)
		}
		out[i] = m
	}
	return out, nil
}
