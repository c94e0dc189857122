package encoder

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/latgalenlp/saskana/internal/nn"
)

// AdapterConfig shapes the trainable top layers.
type AdapterConfig struct {
	Layers    int
	Heads     int
	FFDim     int
	Dropout   float64
	MaxTokens int
	Pooling   Pooling
}

// Adapter is the fine-tunable sentence encoder: frozen token states from
// the encoder service pass through N trainable transformer layers, then a
// pooling step collapses each utterance to one vector. The adapter layers
// are the "unfrozen top layers" of the model; everything below the service
// boundary stays fixed.
type Adapter struct {
	client TokenEncoder
	cfg    AdapterConfig
	params nn.Params
	tcfg   nn.TransformerConfig
}

var _ SentenceEncoder = (*Adapter)(nil)

const adapterPrefix = "encoder"

// NewAdapter builds an adapter over the given token encoder.
func NewAdapter(client TokenEncoder, cfg AdapterConfig, rng *rand.Rand) *Adapter {
	tcfg := nn.TransformerConfig{
		Dim:     client.Dim(),
		Heads:   cfg.Heads,
		Layers:  cfg.Layers,
		FFDim:   cfg.FFDim,
		Dropout: cfg.Dropout,
	}
	return &Adapter{
		client: client,
		cfg:    cfg,
		params: nn.InitTransformer(tcfg, adapterPrefix, rng),
		tcfg:   tcfg,
	}
}

// Params returns the trainable adapter parameters.
func (a *Adapter) Params() nn.Params { return a.params }

// Dim returns the embedding dimension.
func (a *Adapter) Dim() int { return a.client.Dim() }

// Encode embeds each text as a [dim x 1] column on the graph. The input
// slice is read only.
func (a *Adapter) Encode(ctx context.Context, g *nn.Graph, texts []string, rng *rand.Rand) ([]*nn.Mat, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	states, err := a.client.EncodeTokens(ctx, texts, a.cfg.MaxTokens)
	if err != nil {
		return nil, fmt.Errorf("token encode: %w", err)
	}

	out := make([]*nn.Mat, len(states))
	for i, st := range states {
		if len(st.Hidden) == 0 {
			// Degenerate input: no tokens at all. Emit the zero vector
			// rather than failing the whole batch.
			out[i] = nn.NewMat(a.Dim(), 1)
			continue
		}

		// Token states arrive [T][dim]; the graph works on [dim x T].
		x := nn.FromColumns(st.Hidden)
		h := nn.TransformerForward(g, a.params, a.tcfg, adapterPrefix, x, st.Mask, rng)

		switch a.cfg.Pooling {
		case PoolFirst:
			out[i] = g.Col(h, 0)
		default:
			out[i] = g.MeanCols(h, st.Mask)
		}
	}
	return out, nil
}
