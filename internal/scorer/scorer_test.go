package scorer

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"testing"

	"github.com/latgalenlp/saskana/internal/corpus"
	"github.com/latgalenlp/saskana/internal/nn"
)

// fakeEncoder maps each text to a fixed one-dimensional embedding, so tests
// can arrange exact pair scores.
type fakeEncoder struct {
	vals map[string]float64
}

func (f *fakeEncoder) Params() nn.Params { return nn.Params{} }
func (f *fakeEncoder) Dim() int          { return 1 }

func (f *fakeEncoder) Encode(_ context.Context, _ *nn.Graph, texts []string, _ *rand.Rand) ([]*nn.Mat, error) {
	out := make([]*nn.Mat, len(texts))
	for i, text := range texts {
		v, ok := f.vals[text]
		if !ok {
			return nil, fmt.Errorf("unknown text %q", text)
		}
		m := nn.NewMat(1, 1)
		m.W[0] = v
		out[i] = m
	}
	return out, nil
}

func TestPairFeaturesLayout(t *testing.T) {
	g := nn.NewGraph(false)
	s := nn.FromColumns([][]float64{{2, -1}})
	u := nn.FromColumns([][]float64{{5, 3}})

	feat := PairFeatures(g, s, u)
	if feat.Rows != 10 || feat.Cols != 1 {
		t.Fatalf("feature shape %dx%d, want 10x1", feat.Rows, feat.Cols)
	}

	want := []float64{
		2, -1, // s
		5, 3, // t
		-3, -4, // s − t
		3, 4, // |s − t|
		10, -3, // s ⊙ t
	}
	for i, w := range want {
		if math.Abs(feat.W[i]-w) > 1e-12 {
			t.Errorf("feature[%d] = %g, want %g", i, feat.W[i], w)
		}
	}
}

func TestPairFeaturesDirectional(t *testing.T) {
	g := nn.NewGraph(false)
	s := nn.FromColumns([][]float64{{1, 2}})
	u := nn.FromColumns([][]float64{{3, 4}})

	st := PairFeatures(g, s, u)
	ts := PairFeatures(g, u, s)

	same := true
	for i := range st.W {
		if st.W[i] != ts.W[i] {
			same = false
			break
		}
	}
	if same {
		t.Error("features for (s,t) and (t,s) are identical")
	}
}

func TestDirectionString(t *testing.T) {
	if got := Forward.String(); got != "scorer_forward" {
		t.Errorf("Forward.String() = %q", got)
	}
	if got := Backward.String(); got != "scorer_backward" {
		t.Errorf("Backward.String() = %q", got)
	}
}

func TestBoundedMarginLoss(t *testing.T) {
	loss := DefaultLoss() // margin 10, bounds [0, 10]

	tests := []struct {
		name string
		pos  float64
		neg  float64
		want float64
	}{
		{"satisfied exactly", 10, 0, 0},
		{"satisfied with slack", 10, -5, 0},
		{"margin violated", 5, 0, 5},
		{"fully inverted", 0, 10, 20},
		{"upper bound violated", 12, 0, 2},
		{"lower bound violated", -2, -20, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := loss.Value(tt.pos, tt.neg); math.Abs(got-tt.want) > 1e-12 {
				t.Errorf("Value(%g, %g) = %g, want %g", tt.pos, tt.neg, got, tt.want)
			}
		})
	}
}

func TestBoundedMarginLossGrads(t *testing.T) {
	loss := DefaultLoss()

	// Finite differences of Value at points away from the hinge kinks.
	points := []struct{ pos, neg float64 }{
		{5, 2},
		{11, -3},
		{-1, -15},
		{10.5, 0.2},
	}
	const h = 1e-6
	for _, pt := range points {
		dPos, dNeg := loss.Grads(pt.pos, pt.neg)
		wantPos := (loss.Value(pt.pos+h, pt.neg) - loss.Value(pt.pos-h, pt.neg)) / (2 * h)
		wantNeg := (loss.Value(pt.pos, pt.neg+h) - loss.Value(pt.pos, pt.neg-h)) / (2 * h)
		if math.Abs(dPos-wantPos) > 1e-6 {
			t.Errorf("dPos(%g,%g) = %g, want %g", pt.pos, pt.neg, dPos, wantPos)
		}
		if math.Abs(dNeg-wantNeg) > 1e-6 {
			t.Errorf("dNeg(%g,%g) = %g, want %g", pt.pos, pt.neg, dNeg, wantNeg)
		}
	}
}

// identityModel builds a model over one-dimensional embeddings whose
// effective pair score is exactly a − b, for both directions.
func identityModel(vals map[string]float64) *Model {
	rng := rand.New(rand.NewSource(1))
	m := NewModel(&fakeEncoder{vals: vals}, 1, 0, rng)

	// h = ReLU(w1·feat + 100) stays in the linear region for small inputs;
	// the output bias cancels the shift.
	set := func(s *Scorer, sign float64) {
		prefix := s.Direction().String()
		p := s.Params()
		copy(p[prefix+".w1"].W, []float64{0, 0, sign, 0, 0})
		p[prefix+".b1"].W[0] = 100
		p[prefix+".w2"].W[0] = 1
		p[prefix+".b2"].W[0] = -100
	}
	set(m.Scorers.Fwd, 1)  // fwd(a,b) = a − b
	set(m.Scorers.Bwd, -1) // bwd(b,a) = −(b − a) = a − b
	return m
}

// dialogueOf builds a dialogue with alternating speakers.
func dialogueOf(texts ...string) corpus.Dialogue {
	d := make(corpus.Dialogue, len(texts))
	speakers := []string{"A", "B"}
	for i, text := range texts {
		d[i] = corpus.Turn{Speaker: speakers[i%2], Text: text}
	}
	return d
}

func TestPredictConjunctiveRule(t *testing.T) {
	vals := map[string]float64{"u1": 3, "u2": 2, "u3": 1, "u4": 5}
	m := identityModel(vals)

	tests := []struct {
		name  string
		texts []string
		want  int
	}{
		{"all pairs positive", []string{"u1", "u2", "u3"}, 1},
		{"first pair negative", []string{"u3", "u4", "u2"}, 0},
		{"last pair negative", []string{"u4", "u1", "u2", "u3", "u4"}, 0},
		{"zero score counts as coherent", []string{"u2", "u2"}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := m.Predict(context.Background(), dialogueOf(tt.texts...))
			if err != nil {
				t.Fatalf("Predict() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Predict(%v) = %d, want %d", tt.texts, got, tt.want)
			}
		})
	}
}

func TestPredictDeterministic(t *testing.T) {
	m := identityModel(map[string]float64{"u1": 2, "u2": 1, "u3": 3})
	d := dialogueOf("u1", "u2", "u3")

	first, err := m.Predict(context.Background(), d)
	if err != nil {
		t.Fatalf("Predict() error = %v", err)
	}
	for i := 0; i < 5; i++ {
		got, err := m.Predict(context.Background(), d)
		if err != nil {
			t.Fatalf("Predict() error = %v", err)
		}
		if got != first {
			t.Fatalf("Predict() changed between calls: %d then %d", first, got)
		}
	}
}

func TestPredictTooShort(t *testing.T) {
	m := identityModel(map[string]float64{"u1": 1})
	if _, err := m.Predict(context.Background(), dialogueOf("u1")); err == nil {
		t.Error("Predict() on a single-turn dialogue should fail")
	}
}
