package scorer

import "math"

// BoundedMarginLoss is the pairwise training objective: a margin ranking
// term pushing the positive score above the negative by at least Margin,
// plus penalties keeping the positive score inside [Lower, Upper]. Margin
// losses have no absolute scale anchor; the bound terms prevent unbounded
// score drift.
type BoundedMarginLoss struct {
	Margin      float64
	Upper       float64
	Lower       float64
	LambdaUpper float64
	LambdaLower float64
}

// DefaultLoss returns the reference hyperparameters (margin 10, bounds
// [0, 10], unit penalty weights).
func DefaultLoss() BoundedMarginLoss {
	return BoundedMarginLoss{Margin: 10, Upper: 10, Lower: 0, LambdaUpper: 1, LambdaLower: 1}
}

// Value computes
//
//	max(0, m − (pos − neg)) + λ_U·max(0, pos − U) + λ_L·max(0, L − pos)
//
// It is zero exactly when pos − neg ≥ m and L ≤ pos ≤ U, and grows as any
// condition is violated further.
func (l BoundedMarginLoss) Value(pos, neg float64) float64 {
	return math.Max(0, l.Margin-(pos-neg)) +
		l.LambdaUpper*math.Max(0, pos-l.Upper) +
		l.LambdaLower*math.Max(0, l.Lower-pos)
}

// Grads returns ∂loss/∂pos and ∂loss/∂neg.
func (l BoundedMarginLoss) Grads(pos, neg float64) (dPos, dNeg float64) {
	if l.Margin-(pos-neg) > 0 {
		dPos--
		dNeg++
	}
	if pos > l.Upper {
		dPos += l.LambdaUpper
	}
	if pos < l.Lower {
		dPos -= l.LambdaLower
	}
	return dPos, dNeg
}
