package nn

import (
	"math"
	"math/rand"
	"testing"
)

// objective evaluates the forward pass without gradients and collapses the
// output to a scalar with fixed coefficients, so gradients of every output
// element are exercised.
func objective(forward func(g *Graph) *Mat, coef []float64) float64 {
	out := forward(NewGraph(false))
	s := 0.0
	for i := range out.W {
		s += coef[i] * out.W[i]
	}
	return s
}

// checkGrad compares tape gradients of x against central finite differences
// of the same forward pass.
func checkGrad(t *testing.T, x *Mat, forward func(g *Graph) *Mat) {
	t.Helper()

	g := NewGraph(true)
	out := forward(g)

	coef := make([]float64, len(out.W))
	for i := range coef {
		coef[i] = 0.3 + 0.7*float64(i%4)
	}
	copy(out.Dw, coef)
	g.Backward()

	const h = 1e-5
	const tol = 1e-4
	for i := range x.W {
		orig := x.W[i]
		x.W[i] = orig + h
		plus := objective(forward, coef)
		x.W[i] = orig - h
		minus := objective(forward, coef)
		x.W[i] = orig

		want := (plus - minus) / (2 * h)
		if diff := math.Abs(want - x.Dw[i]); diff > tol {
			t.Errorf("grad[%d] = %g, finite difference %g (diff %g)", i, x.Dw[i], want, diff)
		}
	}
}

// randAway returns a random matrix with entries bounded away from zero, so
// kinked ops (Abs, Relu) are checked at differentiable points.
func randAway(rows, cols int, rng *rand.Rand) *Mat {
	m := NewMat(rows, cols)
	for i := range m.W {
		v := 0.5 + rng.Float64()
		if rng.Intn(2) == 0 {
			v = -v
		}
		m.W[i] = v
	}
	return m
}

func TestGradients(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	a := randAway(3, 2, rng)
	b := randAway(3, 2, rng)
	w := randAway(4, 3, rng)
	sq := randAway(3, 3, rng)
	bias := randAway(3, 1, rng)
	gain := randAway(3, 1, rng)
	table := randAway(5, 3, rng)

	tests := []struct {
		name    string
		x       *Mat
		forward func(g *Graph) *Mat
	}{
		{"Add", a, func(g *Graph) *Mat { return g.Add(a, b) }},
		{"Sub", a, func(g *Graph) *Mat { return g.Sub(a, b) }},
		{"Sub second operand", b, func(g *Graph) *Mat { return g.Sub(a, b) }},
		{"Eltmul", a, func(g *Graph) *Mat { return g.Eltmul(a, b) }},
		{"Scale", a, func(g *Graph) *Mat { return g.Scale(a, -1.7) }},
		{"Abs", a, func(g *Graph) *Mat { return g.Abs(a) }},
		{"Relu", a, func(g *Graph) *Mat { return g.Relu(a) }},
		{"Tanh", a, func(g *Graph) *Mat { return g.Tanh(a) }},
		{"Mul left", w, func(g *Graph) *Mat { return g.Mul(w, a) }},
		{"Mul right", a, func(g *Graph) *Mat { return g.Mul(w, a) }},
		{"Transpose", a, func(g *Graph) *Mat { return g.Transpose(a) }},
		{"ConcatRows", a, func(g *Graph) *Mat { return g.ConcatRows(a, b) }},
		{"ConcatCols", a, func(g *Graph) *Mat { return g.ConcatCols(a, b) }},
		{"Col", a, func(g *Graph) *Mat { return g.Col(a, 1) }},
		{"Lookup", table, func(g *Graph) *Mat { return g.Lookup(table, []int{0, 2, 2, 4}) }},
		{"AddBroadcastCol matrix", a, func(g *Graph) *Mat { return g.AddBroadcastCol(a, bias) }},
		{"AddBroadcastCol bias", bias, func(g *Graph) *Mat { return g.AddBroadcastCol(a, bias) }},
		{"RMSNorm input", sq, func(g *Graph) *Mat { return g.RMSNorm(sq, gain) }},
		{"RMSNorm gain", gain, func(g *Graph) *Mat { return g.RMSNorm(sq, gain) }},
		{"Softmax", a, func(g *Graph) *Mat { return g.Softmax(a) }},
		{"MeanCols", a, func(g *Graph) *Mat { return g.MeanCols(a, []float64{1, 1}) }},
		{"MeanCols masked", a, func(g *Graph) *Mat { return g.MeanCols(a, []float64{1, 0}) }},
		{"composite", a, func(g *Graph) *Mat {
			diff := g.Sub(a, b)
			feat := g.ConcatRows(a, b, diff, g.Abs(diff), g.Eltmul(a, b))
			return g.Tanh(g.Scale(feat, 0.5))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.x.ZeroGrad()
			checkGrad(t, tt.x, tt.forward)
			tt.x.ZeroGrad()
		})
	}
}

func TestSoftmaxColumns(t *testing.T) {
	g := NewGraph(false)
	a := FromColumns([][]float64{{1, 2, 3}, {-5, 0, 5}})
	out := g.Softmax(a)

	for j := 0; j < out.Cols; j++ {
		sum := 0.0
		for i := 0; i < out.Rows; i++ {
			v := out.At(i, j)
			if v < 0 || v > 1 {
				t.Errorf("softmax(%d,%d) = %g outside [0,1]", i, j, v)
			}
			sum += v
		}
		if math.Abs(sum-1) > 1e-12 {
			t.Errorf("column %d sums to %g, want 1", j, sum)
		}
	}

	// Larger input, larger probability within a column.
	if out.At(0, 0) >= out.At(2, 0) {
		t.Error("softmax did not preserve ordering within a column")
	}
}

func TestMeanColsMask(t *testing.T) {
	a := FromColumns([][]float64{{1, 10}, {3, 30}, {100, 1000}})

	tests := []struct {
		name string
		mask []float64
		want []float64
	}{
		{"all columns", []float64{1, 1, 1}, []float64{104.0 / 3, 1040.0 / 3}},
		{"padding excluded", []float64{1, 1, 0}, []float64{2, 20}},
		{"single column", []float64{0, 1, 0}, []float64{3, 30}},
		{"all-zero mask yields zero vector", []float64{0, 0, 0}, []float64{0, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := NewGraph(false).MeanCols(a, tt.mask)
			for i, want := range tt.want {
				if math.Abs(out.W[i]-want) > 1e-12 {
					t.Errorf("row %d = %g, want %g", i, out.W[i], want)
				}
			}
		})
	}
}

func TestDropout(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	a := randAway(4, 4, rng)

	t.Run("identity at inference", func(t *testing.T) {
		out := NewGraph(false).Dropout(a, 0.5, rng)
		if out != a {
			t.Error("inference dropout should return its input unchanged")
		}
	})

	t.Run("identity at p=0", func(t *testing.T) {
		out := NewGraph(true).Dropout(a, 0, rng)
		if out != a {
			t.Error("p=0 dropout should return its input unchanged")
		}
	})

	t.Run("zeroes and rescales during training", func(t *testing.T) {
		out := NewGraph(true).Dropout(a, 0.5, rng)
		for i := range out.W {
			if out.W[i] != 0 && math.Abs(out.W[i]-2*a.W[i]) > 1e-12 {
				t.Errorf("element %d = %g, want 0 or %g", i, out.W[i], 2*a.W[i])
			}
		}
	})
}

func TestBackwardAccumulatesThroughSharedNode(t *testing.T) {
	// The same node used twice must receive gradient from both uses.
	a := FromColumns([][]float64{{2, 3}})
	g := NewGraph(true)
	out := g.Add(a, a)
	out.Dw[0] = 1
	out.Dw[1] = 1
	g.Backward()

	for i := range a.Dw {
		if a.Dw[i] != 2 {
			t.Errorf("Dw[%d] = %g, want 2", i, a.Dw[i])
		}
	}
}

func TestNoGradGraphRecordsNothing(t *testing.T) {
	a := FromColumns([][]float64{{1, 2}})
	g := NewGraph(false)
	g.Tanh(g.Scale(a, 3))
	if len(g.tape) != 0 {
		t.Errorf("inference graph recorded %d tape entries", len(g.tape))
	}
}
