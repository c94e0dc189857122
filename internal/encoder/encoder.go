// Package encoder maps utterance strings to fixed-size embedding vectors.
//
// The pretrained contextual encoder itself is an external collaborator: it
// is reached through the TokenEncoder boundary (strings → token-level hidden
// states + attention mask) and stays frozen. Task adaptation happens in the
// trainable top adapter layers that run in-process, followed by pooling.
// Frozen sentence-level backends (Ollama / OpenAI via langchaingo) are also
// supported for runs without fine-tuning.
package encoder

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/latgalenlp/saskana/internal/config"
	"github.com/latgalenlp/saskana/internal/nn"
)

// Pooling selects how token representations collapse to one vector.
type Pooling int

const (
	// PoolMean averages token representations weighted by the attention
	// mask; the token count divisor is clamped to a minimum of 1.
	PoolMean Pooling = iota

	// PoolFirst takes the representation at the designated summary token
	// position (the first token).
	PoolFirst
)

// ParsePooling maps the config string to a Pooling policy.
func ParsePooling(s string) (Pooling, error) {
	switch s {
	case "mean":
		return PoolMean, nil
	case "first":
		return PoolFirst, nil
	default:
		return 0, fmt.Errorf("encoder: unknown pooling %q", s)
	}
}

// TokenStates is the black-box encoder's output for one utterance: one
// hidden vector per token plus the attention mask (1 real, 0 padding).
type TokenStates struct {
	Hidden [][]float64 // [tokens][dim]
	Mask   []float64   // [tokens]
}

// TokenEncoder is the boundary to the pretrained encoder service. Any
// encoder exposing (strings → token ids → contextual embeddings) satisfies
// it. Implementations must truncate at maxTokens and pad to the batch's
// longest sequence.
type TokenEncoder interface {
	EncodeTokens(ctx context.Context, texts []string, maxTokens int) ([]TokenStates, error)
	Model() string
	Dim() int
}

// SentenceEncoder turns utterances into embedding columns on a graph, so
// gradients can flow back into any trainable subset it owns.
type SentenceEncoder interface {
	// Encode returns one [dim x 1] matrix per input text. It must not
	// mutate the caller's slice. rng drives dropout on training graphs.
	Encode(ctx context.Context, g *nn.Graph, texts []string, rng *rand.Rand) ([]*nn.Mat, error)

	// Params returns the trainable subset (empty for frozen backends).
	Params() nn.Params

	Dim() int
}

// New builds a sentence encoder from configuration. adapterLayers is the
// number of unfrozen top layers and only applies to the adapter provider
// (2 for the document classifier, 4 for the pairwise scorer).
func New(cfg config.Config, train config.Training, adapterLayers int, rng *rand.Rand) (SentenceEncoder, error) {
	pooling, err := ParsePooling(train.Pooling)
	if err != nil {
		return nil, err
	}

	switch cfg.Provider {
	case config.ProviderAdapter, "":
		client, err := NewClient(cfg.EncoderURL, cfg.EncoderModel, train.Dim)
		if err != nil {
			return nil, fmt.Errorf("create encoder client: %w", err)
		}
		return NewAdapter(client, AdapterConfig{
			Layers:    adapterLayers,
			Heads:     train.Heads,
			FFDim:     train.AdapterFF,
			Dropout:   train.Dropout,
			MaxTokens: train.MaxTokens,
			Pooling:   pooling,
		}, rng), nil

	case config.ProviderOllama, config.ProviderOpenAI:
		return NewFrozen(cfg, train.Dim)

	default:
		return nil, fmt.Errorf("unknown encoder provider: %s", cfg.Provider)
	}
}
