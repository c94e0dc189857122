package scorer

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/latgalenlp/saskana/internal/corpus"
	"github.com/latgalenlp/saskana/internal/encoder"
	"github.com/latgalenlp/saskana/internal/eval"
	"github.com/latgalenlp/saskana/internal/nn"
	"github.com/latgalenlp/saskana/internal/synth"
)

// MinTrainTurns is the pairwise-training floor: shorter dialogues have no
// usable (position, other-speaker negative) structure and are skipped.
const MinTrainTurns = 3

// Model couples the sentence encoder with both directional scorers.
type Model struct {
	Enc     encoder.SentenceEncoder
	Scorers *Pair
}

// NewModel builds the pairwise model on the given encoder.
func NewModel(enc encoder.SentenceEncoder, hidden int, dropout float64, rng *rand.Rand) *Model {
	return &Model{
		Enc:     enc,
		Scorers: NewPair(enc.Dim(), hidden, dropout, rng),
	}
}

// Components returns the checkpointable parameter sets keyed by component
// name.
func (m *Model) Components() map[string]nn.Params {
	return map[string]nn.Params{
		"encoder":         m.Enc.Params(),
		"scorer_forward":  m.Scorers.Fwd.Params(),
		"scorer_backward": m.Scorers.Bwd.Params(),
	}
}

// Predict classifies a dialogue: every adjacent pair is scored with the
// averaged directional score, and a single negative score condemns the
// whole dialogue (conjunctive rule, short-circuiting). No randomness is
// involved, so repeated calls with the same weights agree.
func (m *Model) Predict(ctx context.Context, d corpus.Dialogue) (int, error) {
	if len(d) < 2 {
		return 0, fmt.Errorf("scorer: dialogue too short to score (%d turns)", len(d))
	}

	g := nn.NewGraph(false)
	embs, err := m.Enc.Encode(ctx, g, d.Texts(), nil)
	if err != nil {
		return 0, fmt.Errorf("encode dialogue: %w", err)
	}

	for i := 0; i+1 < len(embs); i++ {
		score := m.Scorers.Score(g, embs[i], embs[i+1], nil)
		if score.Scalar() < 0 {
			return 0, nil
		}
	}
	return 1, nil
}

// Evaluate runs the mixed true/synthetic protocol: every held-out dialogue
// counts as a coherent example, and one permuted negative (random speaker)
// is attempted per dialogue. Dialogues yielding no negative contribute only
// their positive.
func (m *Model) Evaluate(ctx context.Context, dialogues []corpus.Dialogue, syn *synth.Synthesizer) (eval.Confusion, error) {
	var c eval.Confusion
	for _, d := range dialogues {
		pred, err := m.Predict(ctx, d)
		if err != nil {
			return eval.Confusion{}, err
		}
		c.Add(1, pred)

		neg, ok := syn.Synthesize(d, "")
		if !ok {
			continue
		}
		pred, err = m.Predict(ctx, neg)
		if err != nil {
			return eval.Confusion{}, err
		}
		c.Add(0, pred)
	}
	return c, nil
}
