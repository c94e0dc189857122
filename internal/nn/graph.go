package nn

import (
	"fmt"
	"math"
	"math/rand"
)

// Graph records the forward pass as a tape of backward closures. Calling
// Backward replays the tape in reverse, accumulating gradients into the Dw
// buffers of every matrix that took part. A graph built with needsGrad=false
// records nothing and is safe for inference.
//
// Execution is single-threaded: one graph owns one forward/backward pass.
type Graph struct {
	needsGrad bool
	tape      []func()
}

// NewGraph returns a graph. Pass needsGrad=true during training.
func NewGraph(needsGrad bool) *Graph {
	return &Graph{needsGrad: needsGrad}
}

// Backward replays the tape in reverse order.
func (g *Graph) Backward() {
	for i := len(g.tape) - 1; i >= 0; i-- {
		g.tape[i]()
	}
}

func (g *Graph) record(f func()) {
	if g.needsGrad {
		g.tape = append(g.tape, f)
	}
}

func assertSameShape(op string, a, b *Mat) {
	if a.Rows != b.Rows || a.Cols != b.Cols {
		panic(fmt.Sprintf("nn: %s shape mismatch: %dx%d vs %dx%d", op, a.Rows, a.Cols, b.Rows, b.Cols))
	}
}

// Add returns a + b element-wise.
func (g *Graph) Add(a, b *Mat) *Mat {
	assertSameShape("Add", a, b)
	out := NewMat(a.Rows, a.Cols)
	for i := range a.W {
		out.W[i] = a.W[i] + b.W[i]
	}
	g.record(func() {
		for i := range a.W {
			a.Dw[i] += out.Dw[i]
			b.Dw[i] += out.Dw[i]
		}
	})
	return out
}

// Sub returns a - b element-wise.
func (g *Graph) Sub(a, b *Mat) *Mat {
	assertSameShape("Sub", a, b)
	out := NewMat(a.Rows, a.Cols)
	for i := range a.W {
		out.W[i] = a.W[i] - b.W[i]
	}
	g.record(func() {
		for i := range a.W {
			a.Dw[i] += out.Dw[i]
			b.Dw[i] -= out.Dw[i]
		}
	})
	return out
}

// Eltmul returns a ⊙ b element-wise.
func (g *Graph) Eltmul(a, b *Mat) *Mat {
	assertSameShape("Eltmul", a, b)
	out := NewMat(a.Rows, a.Cols)
	for i := range a.W {
		out.W[i] = a.W[i] * b.W[i]
	}
	g.record(func() {
		for i := range a.W {
			a.Dw[i] += b.W[i] * out.Dw[i]
			b.Dw[i] += a.W[i] * out.Dw[i]
		}
	})
	return out
}

// Scale multiplies every element by the constant c.
func (g *Graph) Scale(a *Mat, c float64) *Mat {
	out := NewMat(a.Rows, a.Cols)
	for i := range a.W {
		out.W[i] = a.W[i] * c
	}
	g.record(func() {
		for i := range a.W {
			a.Dw[i] += c * out.Dw[i]
		}
	})
	return out
}

// Abs returns |a| element-wise. The subgradient at zero is taken as zero.
func (g *Graph) Abs(a *Mat) *Mat {
	out := NewMat(a.Rows, a.Cols)
	for i := range a.W {
		out.W[i] = math.Abs(a.W[i])
	}
	g.record(func() {
		for i := range a.W {
			switch {
			case a.W[i] > 0:
				a.Dw[i] += out.Dw[i]
			case a.W[i] < 0:
				a.Dw[i] -= out.Dw[i]
			}
		}
	})
	return out
}

func (g *Graph) applyActivation(a *Mat, fn func(float64) float64, deriv func(in, out float64) float64) *Mat {
	out := NewMat(a.Rows, a.Cols)
	for i := range a.W {
		out.W[i] = fn(a.W[i])
	}
	g.record(func() {
		for i := range a.W {
			a.Dw[i] += deriv(a.W[i], out.W[i]) * out.Dw[i]
		}
	})
	return out
}

// Relu applies max(0, x) element-wise.
func (g *Graph) Relu(a *Mat) *Mat {
	return g.applyActivation(a,
		func(x float64) float64 { return math.Max(0, x) },
		func(in, _ float64) float64 {
			if in > 0 {
				return 1
			}
			return 0
		})
}

// Tanh applies tanh element-wise.
func (g *Graph) Tanh(a *Mat) *Mat {
	return g.applyActivation(a, math.Tanh,
		func(_, out float64) float64 { return 1 - out*out })
}

// Dropout zeroes each element with probability p and scales survivors by
// 1/(1-p) (inverted dropout). Active only on a gradient-recording graph;
// at inference it is the identity. The random source is passed explicitly.
func (g *Graph) Dropout(a *Mat, p float64, rng *rand.Rand) *Mat {
	if !g.needsGrad || p <= 0 {
		return a
	}
	keep := 1 - p
	scale := 1 / keep
	mask := make([]float64, len(a.W))
	out := NewMat(a.Rows, a.Cols)
	for i := range a.W {
		if rng.Float64() < keep {
			mask[i] = scale
			out.W[i] = a.W[i] * scale
		}
	}
	g.record(func() {
		for i := range a.W {
			a.Dw[i] += mask[i] * out.Dw[i]
		}
	})
	return out
}

// Mul is matrix multiplication: [n x k] · [k x d] → [n x d].
func (g *Graph) Mul(a, b *Mat) *Mat {
	if a.Cols != b.Rows {
		panic(fmt.Sprintf("nn: Mul shape mismatch: %dx%d · %dx%d", a.Rows, a.Cols, b.Rows, b.Cols))
	}
	n, k, d := a.Rows, a.Cols, b.Cols
	out := NewMat(n, d)
	for i := 0; i < n; i++ {
		for j := 0; j < d; j++ {
			dot := 0.0
			for l := 0; l < k; l++ {
				dot += a.W[i*k+l] * b.W[l*d+j]
			}
			out.W[i*d+j] = dot
		}
	}
	g.record(func() {
		for i := 0; i < n; i++ {
			for j := 0; j < d; j++ {
				grad := out.Dw[i*d+j]
				if grad == 0 {
					continue
				}
				for l := 0; l < k; l++ {
					a.Dw[i*k+l] += b.W[l*d+j] * grad
					b.Dw[l*d+j] += a.W[i*k+l] * grad
				}
			}
		}
	})
	return out
}

// Transpose returns aᵀ.
func (g *Graph) Transpose(a *Mat) *Mat {
	out := NewMat(a.Cols, a.Rows)
	for i := 0; i < a.Rows; i++ {
		for j := 0; j < a.Cols; j++ {
			out.W[j*out.Cols+i] = a.W[i*a.Cols+j]
		}
	}
	g.record(func() {
		for i := 0; i < a.Rows; i++ {
			for j := 0; j < a.Cols; j++ {
				a.Dw[i*a.Cols+j] += out.Dw[j*out.Cols+i]
			}
		}
	})
	return out
}

// ConcatRows stacks matrices vertically. All inputs must share a column count.
func (g *Graph) ConcatRows(mats ...*Mat) *Mat {
	if len(mats) == 0 {
		panic("nn: ConcatRows needs at least one matrix")
	}
	cols := mats[0].Cols
	rows := 0
	for _, m := range mats {
		if m.Cols != cols {
			panic(fmt.Sprintf("nn: ConcatRows column mismatch: %d vs %d", m.Cols, cols))
		}
		rows += m.Rows
	}
	out := NewMat(rows, cols)
	offset := 0
	for _, m := range mats {
		copy(out.W[offset*cols:(offset+m.Rows)*cols], m.W)
		offset += m.Rows
	}
	g.record(func() {
		offset := 0
		for _, m := range mats {
			for i := range m.W {
				m.Dw[i] += out.Dw[offset*cols+i]
			}
			offset += m.Rows
		}
	})
	return out
}

// ConcatCols stacks matrices horizontally. All inputs must share a row count.
func (g *Graph) ConcatCols(mats ...*Mat) *Mat {
	if len(mats) == 0 {
		panic("nn: ConcatCols needs at least one matrix")
	}
	rows := mats[0].Rows
	cols := 0
	for _, m := range mats {
		if m.Rows != rows {
			panic(fmt.Sprintf("nn: ConcatCols row mismatch: %d vs %d", m.Rows, rows))
		}
		cols += m.Cols
	}
	out := NewMat(rows, cols)
	offset := 0
	for _, m := range mats {
		for i := 0; i < rows; i++ {
			copy(out.W[i*cols+offset:i*cols+offset+m.Cols], m.W[i*m.Cols:(i+1)*m.Cols])
		}
		offset += m.Cols
	}
	g.record(func() {
		offset := 0
		for _, m := range mats {
			for i := 0; i < rows; i++ {
				for j := 0; j < m.Cols; j++ {
					m.Dw[i*m.Cols+j] += out.Dw[i*cols+offset+j]
				}
			}
			offset += m.Cols
		}
	})
	return out
}

// Col extracts column j as a [rows x 1] matrix.
func (g *Graph) Col(a *Mat, j int) *Mat {
	if j < 0 || j >= a.Cols {
		panic(fmt.Sprintf("nn: Col index %d out of range for %dx%d", j, a.Rows, a.Cols))
	}
	out := NewMat(a.Rows, 1)
	for i := 0; i < a.Rows; i++ {
		out.W[i] = a.W[i*a.Cols+j]
	}
	g.record(func() {
		for i := 0; i < a.Rows; i++ {
			a.Dw[i*a.Cols+j] += out.Dw[i]
		}
	})
	return out
}

// Lookup gathers rows of an embedding table into columns of the output:
// table is [vocab x dim], the result is [dim x len(ids)].
func (g *Graph) Lookup(table *Mat, ids []int) *Mat {
	dim := table.Cols
	out := NewMat(dim, len(ids))
	for j, id := range ids {
		if id < 0 || id >= table.Rows {
			panic(fmt.Sprintf("nn: Lookup id %d out of range for table with %d rows", id, table.Rows))
		}
		for i := 0; i < dim; i++ {
			out.W[i*out.Cols+j] = table.W[id*dim+i]
		}
	}
	g.record(func() {
		for j, id := range ids {
			for i := 0; i < dim; i++ {
				table.Dw[id*dim+i] += out.Dw[i*out.Cols+j]
			}
		}
	})
	return out
}

// AddBroadcastCol adds a [n x 1] column vector to every column of a [n x d]
// matrix. Used for bias terms.
func (g *Graph) AddBroadcastCol(a, col *Mat) *Mat {
	if col.Cols != 1 || col.Rows != a.Rows {
		panic(fmt.Sprintf("nn: AddBroadcastCol wants [%d x 1] bias, got %dx%d", a.Rows, col.Rows, col.Cols))
	}
	out := NewMat(a.Rows, a.Cols)
	for i := 0; i < a.Rows; i++ {
		for j := 0; j < a.Cols; j++ {
			out.W[i*a.Cols+j] = a.W[i*a.Cols+j] + col.W[i]
		}
	}
	g.record(func() {
		for i := 0; i < a.Rows; i++ {
			for j := 0; j < a.Cols; j++ {
				grad := out.Dw[i*a.Cols+j]
				a.Dw[i*a.Cols+j] += grad
				col.Dw[i] += grad
			}
		}
	})
	return out
}

const rmsNormEps = 1e-5

// RMSNorm normalizes each column by its root mean square and applies a
// learned per-row gain.
func (g *Graph) RMSNorm(a, gain *Mat) *Mat {
	if gain.Cols != 1 || gain.Rows != a.Rows {
		panic(fmt.Sprintf("nn: RMSNorm wants [%d x 1] gain, got %dx%d", a.Rows, gain.Rows, gain.Cols))
	}
	n, d := a.Rows, a.Cols
	out := NewMat(n, d)
	norm := NewMat(n, d)
	invRMS := make([]float64, d)
	for j := 0; j < d; j++ {
		meanSq := 0.0
		for i := 0; i < n; i++ {
			v := a.W[i*d+j]
			meanSq += v * v
		}
		meanSq /= float64(n)
		invRMS[j] = 1 / math.Sqrt(meanSq+rmsNormEps)
		for i := 0; i < n; i++ {
			nv := a.W[i*d+j] * invRMS[j]
			norm.W[i*d+j] = nv
			out.W[i*d+j] = nv * gain.W[i]
		}
	}
	g.record(func() {
		for j := 0; j < d; j++ {
			// dNorm_i = dOut_i * gain_i; the indirect term comes through
			// the shared RMS denominator of the column.
			sumNormDot := 0.0
			dNorm := make([]float64, n)
			for i := 0; i < n; i++ {
				grad := out.Dw[i*d+j]
				gain.Dw[i] += grad * norm.W[i*d+j]
				dNorm[i] = grad * gain.W[i]
				sumNormDot += dNorm[i] * norm.W[i*d+j]
			}
			for i := 0; i < n; i++ {
				a.Dw[i*d+j] += invRMS[j] * (dNorm[i] - norm.W[i*d+j]*sumNormDot/float64(n))
			}
		}
	})
	return out
}

// Softmax normalizes each column to a probability distribution over rows.
func (g *Graph) Softmax(a *Mat) *Mat {
	n, d := a.Rows, a.Cols
	out := NewMat(n, d)
	for j := 0; j < d; j++ {
		maxVal := math.Inf(-1)
		for i := 0; i < n; i++ {
			if v := a.W[i*d+j]; v > maxVal {
				maxVal = v
			}
		}
		sum := 0.0
		for i := 0; i < n; i++ {
			e := math.Exp(a.W[i*d+j] - maxVal)
			out.W[i*d+j] = e
			sum += e
		}
		for i := 0; i < n; i++ {
			out.W[i*d+j] /= sum
		}
	}
	g.record(func() {
		for j := 0; j < d; j++ {
			dot := 0.0
			for i := 0; i < n; i++ {
				dot += out.Dw[i*d+j] * out.W[i*d+j]
			}
			for i := 0; i < n; i++ {
				a.Dw[i*d+j] += out.W[i*d+j] * (out.Dw[i*d+j] - dot)
			}
		}
	})
	return out
}

// MeanCols averages the columns of a [n x T] matrix, weighting column j by
// mask[j] and dividing by the number of unmasked columns. The divisor is
// clamped to a minimum of 1, so an all-zero mask yields the zero vector
// (the sum) instead of NaN.
func (g *Graph) MeanCols(a *Mat, mask []float64) *Mat {
	if len(mask) != a.Cols {
		panic(fmt.Sprintf("nn: MeanCols mask length %d, want %d", len(mask), a.Cols))
	}
	count := 0.0
	for _, v := range mask {
		count += v
	}
	denom := math.Max(count, 1)
	out := NewMat(a.Rows, 1)
	for i := 0; i < a.Rows; i++ {
		sum := 0.0
		for j := 0; j < a.Cols; j++ {
			sum += a.W[i*a.Cols+j] * mask[j]
		}
		out.W[i] = sum / denom
	}
	g.record(func() {
		for i := 0; i < a.Rows; i++ {
			grad := out.Dw[i] / denom
			for j := 0; j < a.Cols; j++ {
				a.Dw[i*a.Cols+j] += grad * mask[j]
			}
		}
	})
	return out
}
