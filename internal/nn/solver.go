package nn

import (
	"math"
	"sort"
)

// AdamW is the decoupled-weight-decay Adam optimizer. Step does NOT clear
// gradients: the pairwise trainer steps two optimizers over a shared
// parameter subset on the same gradients, so zeroing is the caller's job
// (Params.ZeroGrads after all steps).
type AdamW struct {
	LR          float64
	Beta1       float64
	Beta2       float64
	Eps         float64
	WeightDecay float64

	t int
	m map[string][]float64
	v map[string][]float64
}

// NewAdamW returns an optimizer with the usual beta defaults.
func NewAdamW(lr, weightDecay float64) *AdamW {
	return &AdamW{
		LR:          lr,
		Beta1:       0.9,
		Beta2:       0.999,
		Eps:         1e-8,
		WeightDecay: weightDecay,
		m:           make(map[string][]float64),
		v:           make(map[string][]float64),
	}
}

// Step applies one update to every parameter in the set using the gradients
// currently held in their Dw buffers. Parameters are visited in sorted key
// order so runs are reproducible.
func (s *AdamW) Step(params Params) {
	s.t++
	t := float64(s.t)
	lrT := s.LR * math.Sqrt(1-math.Pow(s.Beta2, t)) / (1 - math.Pow(s.Beta1, t))

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		p := params[k]
		mK, ok := s.m[k]
		if !ok || len(mK) != len(p.W) {
			mK = make([]float64, len(p.W))
			s.m[k] = mK
		}
		vK, ok := s.v[k]
		if !ok || len(vK) != len(p.W) {
			vK = make([]float64, len(p.W))
			s.v[k] = vK
		}

		for i := range p.W {
			grad := p.Dw[i]
			if math.IsNaN(grad) || math.IsInf(grad, 0) {
				grad = 0
			}
			mK[i] = s.Beta1*mK[i] + (1-s.Beta1)*grad
			vK[i] = s.Beta2*vK[i] + (1-s.Beta2)*grad*grad

			update := lrT * mK[i] / (math.Sqrt(vK[i]) + s.Eps)
			if math.IsNaN(update) || math.IsInf(update, 0) {
				continue
			}
			p.W[i] -= update
			p.W[i] -= s.LR * s.WeightDecay * p.W[i]
		}
	}
}
