package nn

import (
	"math"
	"math/rand"
	"testing"
)

func testTransformerConfig() TransformerConfig {
	return TransformerConfig{Dim: 8, Heads: 2, Layers: 2, FFDim: 16, Dropout: 0}
}

func TestTransformerShapes(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	cfg := testTransformerConfig()
	params := InitTransformer(cfg, "enc", rng)

	g := NewGraph(false)
	x := NewRandMat(cfg.Dim, 5, 0.5, rng)
	out := TransformerForward(g, params, cfg, "enc", x, []float64{1, 1, 1, 1, 1}, nil)

	if out.Rows != cfg.Dim || out.Cols != 5 {
		t.Errorf("output shape %dx%d, want %dx5", out.Rows, out.Cols, cfg.Dim)
	}
}

func TestTransformerPaddingIsolation(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	cfg := testTransformerConfig()
	params := InitTransformer(cfg, "enc", rng)
	mask := []float64{1, 1, 0, 0}

	x := NewRandMat(cfg.Dim, 4, 0.5, rng)
	base := TransformerForward(NewGraph(false), params, cfg, "enc", x, mask, nil)

	// Rewrite the padded columns; the real columns must not move.
	perturbed := x.Clone()
	for i := 0; i < cfg.Dim; i++ {
		perturbed.Set(i, 2, 37)
		perturbed.Set(i, 3, -51)
	}
	out := TransformerForward(NewGraph(false), params, cfg, "enc", perturbed, mask, nil)

	for i := 0; i < cfg.Dim; i++ {
		for j := 0; j < 2; j++ {
			if diff := math.Abs(out.At(i, j) - base.At(i, j)); diff > 1e-9 {
				t.Errorf("real position (%d,%d) moved by %g when padding changed", i, j, diff)
			}
		}
	}
}

func TestTransformerGradientsFlow(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	cfg := TransformerConfig{Dim: 4, Heads: 2, Layers: 1, FFDim: 8, Dropout: 0}
	params := InitTransformer(cfg, "enc", rng)

	g := NewGraph(true)
	x := NewRandMat(cfg.Dim, 3, 0.5, rng)
	out := TransformerForward(g, params, cfg, "enc", x, []float64{1, 1, 1}, nil)
	for i := range out.Dw {
		out.Dw[i] = 1
	}
	g.Backward()

	for key, p := range params {
		nonzero := false
		for _, d := range p.Dw {
			if d != 0 {
				nonzero = true
				break
			}
		}
		if !nonzero {
			t.Errorf("parameter %s received no gradient", key)
		}
	}
}

func TestInitTransformerRejectsBadHeadCount(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for dim not divisible by heads")
		}
	}()
	InitTransformer(TransformerConfig{Dim: 10, Heads: 3, Layers: 1, FFDim: 8}, "enc", rand.New(rand.NewSource(1)))
}

func TestAddPositional(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	params := InitPositional("doc", 6, 3, rng)
	table := params["doc.pos"]

	g := NewGraph(false)
	x := NewMat(3, 2)
	out := AddPositional(g, params, "doc", x)

	for j := 0; j < 2; j++ {
		for i := 0; i < 3; i++ {
			if out.At(i, j) != table.At(j, i) {
				t.Errorf("position %d row %d: got %g, want table value %g", j, i, out.At(i, j), table.At(j, i))
			}
		}
	}

	t.Run("sequence longer than table panics", func(t *testing.T) {
		defer func() {
			if recover() == nil {
				t.Error("expected panic for sequence exceeding positional table")
			}
		}()
		AddPositional(NewGraph(false), params, "doc", NewMat(3, 7))
	})
}
