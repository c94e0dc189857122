// Package scorer implements the pairwise local-coherence discriminator: a
// small feed-forward network scoring the transition between two utterance
// embeddings, trained in both temporal directions, plus the dialogue-level
// training, inference and evaluation built on it.
package scorer

import (
	"math/rand"

	"github.com/latgalenlp/saskana/internal/nn"
)

// Direction selects which temporal orientation a scorer instance learns.
// The forward instance scores (uᵢ, uᵢ₊₁), the backward instance (uᵢ₊₁, uᵢ);
// one parameterized implementation serves both.
type Direction int

const (
	Forward Direction = iota
	Backward
)

// String returns the component name used in checkpoints and logs.
func (d Direction) String() string {
	if d == Backward {
		return "scorer_backward"
	}
	return "scorer_forward"
}

// PairFeatures builds the directional feature vector for the ordered pair
// (s, t): the concatenation [s; t; s−t; |s−t|; s⊙t], five times the
// embedding dimension. Features for (s, t) differ from (t, s).
func PairFeatures(g *nn.Graph, s, t *nn.Mat) *nn.Mat {
	diff := g.Sub(s, t)
	return g.ConcatRows(s, t, diff, g.Abs(diff), g.Eltmul(s, t))
}

// Scorer maps a pairwise feature vector to one unconstrained scalar:
// dropout → linear(5d→hidden) → ReLU → dropout → linear(hidden→1).
type Scorer struct {
	dir     Direction
	dropout float64
	params  nn.Params
}

// NewScorer allocates a scorer for embeddings of size dim.
func NewScorer(dir Direction, dim, hidden int, dropout float64, rng *rand.Rand) *Scorer {
	prefix := dir.String()
	params := nn.Params{
		prefix + ".w1": nn.NewRandMat(hidden, 5*dim, 0.08, rng),
		prefix + ".b1": nn.NewMat(hidden, 1),
		prefix + ".w2": nn.NewRandMat(1, hidden, 0.08, rng),
		prefix + ".b2": nn.NewMat(1, 1),
	}
	return &Scorer{dir: dir, dropout: dropout, params: params}
}

// Params returns the scorer's trainable parameters.
func (s *Scorer) Params() nn.Params { return s.params }

// Direction returns the orientation this instance scores.
func (s *Scorer) Direction() Direction { return s.dir }

// Score featurizes (src, dst) in that order and runs the network, returning
// a [1 x 1] score node.
func (s *Scorer) Score(g *nn.Graph, src, dst *nn.Mat, rng *rand.Rand) *nn.Mat {
	prefix := s.dir.String()
	x := g.Dropout(PairFeatures(g, src, dst), s.dropout, rng)
	h := g.Relu(g.AddBroadcastCol(g.Mul(s.params[prefix+".w1"], x), s.params[prefix+".b1"]))
	h = g.Dropout(h, s.dropout, rng)
	return g.AddBroadcastCol(g.Mul(s.params[prefix+".w2"], h), s.params[prefix+".b2"])
}

// Pair owns the two directional instances and averages their outputs, so
// the effective judgment is direction-symmetric while each instance keeps
// direction-specific cues.
type Pair struct {
	Fwd *Scorer
	Bwd *Scorer
}

// NewPair allocates both directional scorers.
func NewPair(dim, hidden int, dropout float64, rng *rand.Rand) *Pair {
	return &Pair{
		Fwd: NewScorer(Forward, dim, hidden, dropout, rng),
		Bwd: NewScorer(Backward, dim, hidden, dropout, rng),
	}
}

// Score returns the effective pairwise score for the adjacent pair (a, b):
// the arithmetic mean of the forward score of (a, b) and the backward score
// of (b, a).
func (p *Pair) Score(g *nn.Graph, a, b *nn.Mat, rng *rand.Rand) *nn.Mat {
	fwd := p.Fwd.Score(g, a, b, rng)
	bwd := p.Bwd.Score(g, b, a, rng)
	return g.Scale(g.Add(fwd, bwd), 0.5)
}
