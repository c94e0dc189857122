package document

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/latgalenlp/saskana/internal/corpus"
	"github.com/latgalenlp/saskana/internal/encoder"
	"github.com/latgalenlp/saskana/internal/nn"
)

const classifierPrefix = "classifier"

// Config shapes the document classifier: the transformer over utterance
// positions and the binary head reading the first position.
type Config struct {
	Layers        int
	Heads         int
	FFDim         int
	Hidden        int
	Dropout       float64
	MaxUtterances int
}

// Classifier scores whole dialogues: utterance embeddings get positional
// information, pass through a transformer stack, and the first position's
// representation feeds a two-layer head producing one coherence logit.
type Classifier struct {
	enc    encoder.SentenceEncoder
	tcfg   nn.TransformerConfig
	params nn.Params
	maxUtt int
}

// NewClassifier allocates the classifier on top of the given encoder.
func NewClassifier(enc encoder.SentenceEncoder, cfg Config, rng *rand.Rand) *Classifier {
	dim := enc.Dim()
	tcfg := nn.TransformerConfig{
		Dim:     dim,
		Heads:   cfg.Heads,
		Layers:  cfg.Layers,
		FFDim:   cfg.FFDim,
		Dropout: cfg.Dropout,
	}
	params := nn.Merge(
		nn.InitTransformer(tcfg, classifierPrefix, rng),
		nn.InitPositional(classifierPrefix, cfg.MaxUtterances, dim, rng),
		nn.Params{
			classifierPrefix + ".head.w1": nn.NewRandMat(cfg.Hidden, dim, 0.08, rng),
			classifierPrefix + ".head.b1": nn.NewMat(cfg.Hidden, 1),
			classifierPrefix + ".head.w2": nn.NewRandMat(1, cfg.Hidden, 0.08, rng),
			classifierPrefix + ".head.b2": nn.NewMat(1, 1),
		},
	)
	return &Classifier{enc: enc, tcfg: tcfg, params: params, maxUtt: cfg.MaxUtterances}
}

// Components returns the checkpointable parameter sets keyed by component
// name.
func (c *Classifier) Components() map[string]nn.Params {
	return map[string]nn.Params{
		"encoder":        c.enc.Params(),
		classifierPrefix: c.params,
	}
}

// Params returns the classifier's own trainable parameters (not the
// encoder's).
func (c *Classifier) Params() nn.Params { return c.params }

// Encoder returns the underlying sentence encoder.
func (c *Classifier) Encoder() encoder.SentenceEncoder { return c.enc }

// Logit scores one dialogue, padded to padTo utterance positions. Padded
// positions carry zero vectors and a zero mask entry, so they cannot leak
// into the first position the head reads. padTo 0 means no padding beyond
// the dialogue's own length.
func (c *Classifier) Logit(ctx context.Context, g *nn.Graph, d corpus.Dialogue, padTo int, rng *rand.Rand) (*nn.Mat, error) {
	d = d.Truncate(c.maxUtt)
	if len(d) == 0 {
		return nil, fmt.Errorf("document: empty dialogue")
	}
	if padTo < len(d) {
		padTo = len(d)
	}
	if padTo > c.maxUtt {
		return nil, fmt.Errorf("document: pad length %d exceeds maximum %d", padTo, c.maxUtt)
	}

	embs, err := c.enc.Encode(ctx, g, d.Texts(), rng)
	if err != nil {
		return nil, fmt.Errorf("encode dialogue: %w", err)
	}

	cols := make([]*nn.Mat, padTo)
	mask := make([]float64, padTo)
	for i := range cols {
		if i < len(embs) {
			cols[i] = embs[i]
			mask[i] = 1
		} else {
			cols[i] = nn.NewMat(c.enc.Dim(), 1)
		}
	}

	x := nn.AddPositional(g, c.params, classifierPrefix, g.ConcatCols(cols...))
	h := nn.TransformerForward(g, c.params, c.tcfg, classifierPrefix, x, mask, rng)

	first := g.Col(h, 0)
	head := g.Relu(g.AddBroadcastCol(g.Mul(c.params[classifierPrefix+".head.w1"], first), c.params[classifierPrefix+".head.b1"]))
	head = g.Dropout(head, c.tcfg.Dropout, rng)
	return g.AddBroadcastCol(g.Mul(c.params[classifierPrefix+".head.w2"], head), c.params[classifierPrefix+".head.b2"]), nil
}

// Predict classifies a dialogue: 1 when the coherence probability exceeds
// one half.
func (c *Classifier) Predict(ctx context.Context, d corpus.Dialogue) (int, error) {
	g := nn.NewGraph(false)
	logit, err := c.Logit(ctx, g, d, 0, nil)
	if err != nil {
		return 0, err
	}
	if sigmoid(logit.Scalar()) > 0.5 {
		return 1, nil
	}
	return 0, nil
}
