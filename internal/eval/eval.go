// Package eval computes classification metrics from parallel true/predicted
// label lists: accuracy, binary F1 and the confusion matrix.
package eval

// Confusion is a binary confusion matrix with coherent=1 as the positive
// class.
type Confusion struct {
	TP int
	FP int
	TN int
	FN int
}

// FromLabels builds a confusion matrix from parallel label slices.
func FromLabels(truth, pred []int) Confusion {
	var c Confusion
	for i := range truth {
		c.Add(truth[i], pred[i])
	}
	return c
}

// Add records one (true, predicted) pair.
func (c *Confusion) Add(truth, pred int) {
	switch {
	case truth == 1 && pred == 1:
		c.TP++
	case truth == 1 && pred == 0:
		c.FN++
	case truth == 0 && pred == 1:
		c.FP++
	default:
		c.TN++
	}
}

// Total returns the number of recorded pairs.
func (c Confusion) Total() int {
	return c.TP + c.FP + c.TN + c.FN
}

// Accuracy returns the fraction of correct predictions, 0 when empty.
func (c Confusion) Accuracy() float64 {
	total := c.Total()
	if total == 0 {
		return 0
	}
	return float64(c.TP+c.TN) / float64(total)
}

// Precision for the positive class, 0 when nothing was predicted positive.
func (c Confusion) Precision() float64 {
	if c.TP+c.FP == 0 {
		return 0
	}
	return float64(c.TP) / float64(c.TP+c.FP)
}

// Recall for the positive class, 0 when there are no positives.
func (c Confusion) Recall() float64 {
	if c.TP+c.FN == 0 {
		return 0
	}
	return float64(c.TP) / float64(c.TP+c.FN)
}

// F1 returns the harmonic mean of precision and recall, 0 when undefined.
func (c Confusion) F1() float64 {
	p, r := c.Precision(), c.Recall()
	if p+r == 0 {
		return 0
	}
	return 2 * p * r / (p + r)
}
