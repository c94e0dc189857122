// Package nn implements the small tape-based autograd engine the coherence
// models are built from: dense matrices with gradient storage, a graph that
// records backward closures, and an AdamW solver.
package nn

import (
	"fmt"
	"math/rand"
)

// Mat is a dense row-major matrix with a gradient buffer of the same shape.
// Columns are positions (sequence slots or batch items), rows are features.
type Mat struct {
	Rows int
	Cols int
	W    []float64
	Dw   []float64
}

// NewMat returns a zero matrix of the given shape.
func NewMat(rows, cols int) *Mat {
	if rows < 0 || cols < 0 {
		panic(fmt.Sprintf("nn: invalid matrix shape %dx%d", rows, cols))
	}
	return &Mat{
		Rows: rows,
		Cols: cols,
		W:    make([]float64, rows*cols),
		Dw:   make([]float64, rows*cols),
	}
}

// NewRandMat returns a matrix with entries drawn from N(0, stddev^2) using
// the supplied random source. Randomness is always passed in explicitly.
func NewRandMat(rows, cols int, stddev float64, rng *rand.Rand) *Mat {
	m := NewMat(rows, cols)
	for i := range m.W {
		m.W[i] = rng.NormFloat64() * stddev
	}
	return m
}

// FromColumns builds a [rows x len(cols)] matrix whose j-th column is cols[j].
// All columns must have the same length.
func FromColumns(cols [][]float64) *Mat {
	if len(cols) == 0 {
		return NewMat(0, 0)
	}
	rows := len(cols[0])
	m := NewMat(rows, len(cols))
	for j, col := range cols {
		if len(col) != rows {
			panic(fmt.Sprintf("nn: column %d has length %d, want %d", j, len(col), rows))
		}
		for i, v := range col {
			m.W[i*m.Cols+j] = v
		}
	}
	return m
}

// At returns the value at (row, col).
func (m *Mat) At(row, col int) float64 {
	return m.W[row*m.Cols+col]
}

// Set stores v at (row, col).
func (m *Mat) Set(row, col int, v float64) {
	m.W[row*m.Cols+col] = v
}

// Column copies column j into a fresh slice.
func (m *Mat) Column(j int) []float64 {
	col := make([]float64, m.Rows)
	for i := 0; i < m.Rows; i++ {
		col[i] = m.W[i*m.Cols+j]
	}
	return col
}

// Scalar returns the single value of a 1x1 matrix.
func (m *Mat) Scalar() float64 {
	if m.Rows != 1 || m.Cols != 1 {
		panic(fmt.Sprintf("nn: Scalar on %dx%d matrix", m.Rows, m.Cols))
	}
	return m.W[0]
}

// ZeroGrad clears the gradient buffer.
func (m *Mat) ZeroGrad() {
	for i := range m.Dw {
		m.Dw[i] = 0
	}
}

// Clone copies the weights (not the gradients) into a new matrix.
func (m *Mat) Clone() *Mat {
	out := NewMat(m.Rows, m.Cols)
	copy(out.W, m.W)
	return out
}

// Params is a named collection of trainable matrices. Optimizers and
// checkpoints address parameters through their keys.
type Params map[string]*Mat

// Merge returns a new Params containing every entry of the receivers.
// Duplicate keys panic: parameter names are globally unique by prefix.
func Merge(sets ...Params) Params {
	out := make(Params)
	for _, set := range sets {
		for k, v := range set {
			if _, dup := out[k]; dup {
				panic("nn: duplicate parameter key " + k)
			}
			out[k] = v
		}
	}
	return out
}

// ZeroGrads clears the gradients of every parameter in the set.
func (p Params) ZeroGrads() {
	for _, m := range p {
		m.ZeroGrad()
	}
}

// MatState is the serializable form of a matrix, used by checkpoints.
type MatState struct {
	Rows int       `msgpack:"rows"`
	Cols int       `msgpack:"cols"`
	W    []float64 `msgpack:"w"`
}

// State extracts the serializable weights of every parameter.
func (p Params) State() map[string]MatState {
	out := make(map[string]MatState, len(p))
	for k, m := range p {
		w := make([]float64, len(m.W))
		copy(w, m.W)
		out[k] = MatState{Rows: m.Rows, Cols: m.Cols, W: w}
	}
	return out
}

// LoadState copies saved weights into the matching parameters. Every key in
// the set must be present with an identical shape.
func (p Params) LoadState(state map[string]MatState) error {
	for k, m := range p {
		s, ok := state[k]
		if !ok {
			return fmt.Errorf("nn: missing parameter %q in state", k)
		}
		if s.Rows != m.Rows || s.Cols != m.Cols || len(s.W) != len(m.W) {
			return fmt.Errorf("nn: parameter %q shape mismatch: state %dx%d, model %dx%d",
				k, s.Rows, s.Cols, m.Rows, m.Cols)
		}
		copy(m.W, s.W)
	}
	return nil
}
