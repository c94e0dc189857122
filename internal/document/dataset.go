// Package document implements the order-aware dialogue classifier: a
// transformer over the sequence of utterance embeddings with a binary
// coherence head on the first position, plus its dataset construction and
// training loop.
package document

import (
	"errors"
	"log/slog"
	"math/rand"

	"github.com/latgalenlp/saskana/internal/corpus"
	"github.com/latgalenlp/saskana/internal/synth"
)

// ErrEmptyDataset is returned when no dialogue yields a usable example.
var ErrEmptyDataset = errors.New("document: no usable examples")

// Example is one labeled dialogue: 1 for an original, 0 for a permuted
// negative.
type Example struct {
	Dialogue corpus.Dialogue
	Label    int
}

// BuildDataset turns dialogues into a labeled classification set. Every
// dialogue is truncated to maxUtterances and kept as a positive; one
// synthetic negative per dialogue is attempted, so the set is at most
// balanced and never negative-heavy. Dialogues whose permutation fails
// (single speaker, too few repeated utterances) contribute only their
// positive.
func BuildDataset(dialogues []corpus.Dialogue, maxUtterances int, rng *rand.Rand, logger *slog.Logger) ([]Example, error) {
	syn := synth.New(rng)
	examples := make([]Example, 0, 2*len(dialogues))
	skipped := 0

	for _, d := range dialogues {
		d = d.Truncate(maxUtterances)
		examples = append(examples, Example{Dialogue: d, Label: 1})

		neg, ok := syn.Synthesize(d, "")
		if !ok {
			skipped++
			continue
		}
		examples = append(examples, Example{Dialogue: neg, Label: 0})
	}

	if len(examples) == 0 {
		return nil, ErrEmptyDataset
	}
	if skipped > 0 {
		logger.Debug("dialogues without synthetic negative", "count", skipped)
	}
	return examples, nil
}

// PosWeight returns the loss weight applied to positive examples: the
// negative/positive count ratio of the given set. A set without positives
// (or without negatives) gets weight 1.
func PosWeight(examples []Example) float64 {
	var pos, neg int
	for _, ex := range examples {
		if ex.Label == 1 {
			pos++
		} else {
			neg++
		}
	}
	if pos == 0 || neg == 0 {
		return 1
	}
	return float64(neg) / float64(pos)
}
