package nn

import (
	"fmt"
	"math"
	"math/rand"
)

// TransformerConfig shapes a stack of pre-activation encoder layers:
// multi-head self-attention and a position-wise feed-forward block, each
// followed by a residual connection and RMSNorm.
type TransformerConfig struct {
	Dim     int
	Heads   int
	Layers  int
	FFDim   int
	Dropout float64
}

const initStddev = 0.08

// maskPenalty is added to attention scores of padded key positions so they
// receive (numerically) zero weight after the softmax.
const maskPenalty = -1e9

// InitTransformer allocates the parameters of a transformer stack under the
// given key prefix.
func InitTransformer(cfg TransformerConfig, prefix string, rng *rand.Rand) Params {
	if cfg.Dim%cfg.Heads != 0 {
		panic(fmt.Sprintf("nn: dim %d not divisible by heads %d", cfg.Dim, cfg.Heads))
	}
	dk := cfg.Dim / cfg.Heads
	params := make(Params)
	for l := 0; l < cfg.Layers; l++ {
		for h := 0; h < cfg.Heads; h++ {
			base := fmt.Sprintf("%s.l%d.h%d", prefix, l, h)
			params[base+".wq"] = NewRandMat(dk, cfg.Dim, initStddev, rng)
			params[base+".wk"] = NewRandMat(dk, cfg.Dim, initStddev, rng)
			params[base+".wv"] = NewRandMat(dk, cfg.Dim, initStddev, rng)
		}
		base := fmt.Sprintf("%s.l%d", prefix, l)
		params[base+".wo"] = NewRandMat(cfg.Dim, cfg.Dim, initStddev, rng)
		params[base+".norm1"] = ones(cfg.Dim)
		params[base+".ff.w1"] = NewRandMat(cfg.FFDim, cfg.Dim, initStddev, rng)
		params[base+".ff.b1"] = NewMat(cfg.FFDim, 1)
		params[base+".ff.w2"] = NewRandMat(cfg.Dim, cfg.FFDim, initStddev, rng)
		params[base+".ff.b2"] = NewMat(cfg.Dim, 1)
		params[base+".norm2"] = ones(cfg.Dim)
	}
	return params
}

func ones(n int) *Mat {
	m := NewMat(n, 1)
	for i := range m.W {
		m.W[i] = 1
	}
	return m
}

// InitPositional allocates a learned positional embedding table
// [maxLen x dim] under key prefix+".pos".
func InitPositional(prefix string, maxLen, dim int, rng *rand.Rand) Params {
	return Params{prefix + ".pos": NewRandMat(maxLen, dim, initStddev, rng)}
}

// AddPositional adds the first T rows of the positional table to the columns
// of x [dim x T].
func AddPositional(g *Graph, params Params, prefix string, x *Mat) *Mat {
	table := params[prefix+".pos"]
	if x.Cols > table.Rows {
		panic(fmt.Sprintf("nn: sequence length %d exceeds positional table size %d", x.Cols, table.Rows))
	}
	ids := make([]int, x.Cols)
	for i := range ids {
		ids[i] = i
	}
	return g.Add(x, g.Lookup(table, ids))
}

// additiveKeyMask builds a constant [T x T] matrix whose row i holds
// maskPenalty when position i is padding. Row = key, column = query.
func additiveKeyMask(mask []float64) *Mat {
	t := len(mask)
	m := NewMat(t, t)
	for i := 0; i < t; i++ {
		if mask[i] != 0 {
			continue
		}
		for j := 0; j < t; j++ {
			m.W[i*t+j] = maskPenalty
		}
	}
	return m
}

// TransformerForward runs the stack over x [dim x T]. mask marks real (1)
// vs padded (0) positions; padded positions neither attend nor are attended
// to, so they cannot influence the representation of real positions.
func TransformerForward(g *Graph, params Params, cfg TransformerConfig, prefix string, x *Mat, mask []float64, rng *rand.Rand) *Mat {
	if len(mask) != x.Cols {
		panic(fmt.Sprintf("nn: mask length %d, want %d", len(mask), x.Cols))
	}
	dk := cfg.Dim / cfg.Heads
	scale := 1 / math.Sqrt(float64(dk))
	keyMask := additiveKeyMask(mask)

	out := x
	for l := 0; l < cfg.Layers; l++ {
		base := fmt.Sprintf("%s.l%d", prefix, l)

		heads := make([]*Mat, cfg.Heads)
		for h := 0; h < cfg.Heads; h++ {
			hb := fmt.Sprintf("%s.h%d", base, h)
			q := g.Mul(params[hb+".wq"], out)
			k := g.Mul(params[hb+".wk"], out)
			v := g.Mul(params[hb+".wv"], out)

			// scores[i][j] = k_i · q_j; softmax per column = over keys.
			scores := g.Scale(g.Mul(g.Transpose(k), q), scale)
			attn := g.Softmax(g.Add(scores, keyMask))
			heads[h] = g.Mul(v, attn)
		}

		attnOut := g.Mul(params[base+".wo"], g.ConcatRows(heads...))
		attnOut = g.Dropout(attnOut, cfg.Dropout, rng)
		out = g.RMSNorm(g.Add(out, attnOut), params[base+".norm1"])

		ff := g.Relu(g.AddBroadcastCol(g.Mul(params[base+".ff.w1"], out), params[base+".ff.b1"]))
		ff = g.AddBroadcastCol(g.Mul(params[base+".ff.w2"], ff), params[base+".ff.b2"])
		ff = g.Dropout(ff, cfg.Dropout, rng)
		out = g.RMSNorm(g.Add(out, ff), params[base+".norm2"])
	}
	return out
}
