package document

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"

	"github.com/latgalenlp/saskana/internal/nn"
)

func sigmoid(z float64) float64 { return 1 / (1 + math.Exp(-z)) }

// softplus computes log(1 + exp(z)) without overflow.
func softplus(z float64) float64 {
	if z > 0 {
		return z + math.Log1p(math.Exp(-z))
	}
	return math.Log1p(math.Exp(z))
}

// bceWithLogits is the weighted binary cross-entropy on a raw logit:
// posWeight scales the positive-class term only.
func bceWithLogits(logit float64, label int, posWeight float64) float64 {
	if label == 1 {
		return posWeight * softplus(-logit)
	}
	return softplus(logit)
}

// bceGrad is ∂bceWithLogits/∂logit.
func bceGrad(logit float64, label int, posWeight float64) float64 {
	if label == 1 {
		return posWeight * (sigmoid(logit) - 1)
	}
	return sigmoid(logit)
}

// EpochStats summarizes one classifier training epoch.
type EpochStats struct {
	Epoch    int
	Loss     float64
	TrainAcc float64
	ValLoss  float64
	ValAcc   float64
	Improved bool
}

// EpochHook is called after each epoch, typically to persist a checkpoint
// when Improved is set.
type EpochHook func(ctx context.Context, c *Classifier, stats EpochStats) error

// Trainer runs weighted binary cross-entropy training over labeled
// dialogues in padded mini-batches. One optimizer steps both the classifier
// and the encoder's trainable parameters.
type Trainer struct {
	model     *Classifier
	opt       *nn.AdamW
	step      nn.Params
	posWeight float64
	batchSize int
	rng       *rand.Rand
	logger    *slog.Logger
}

// NewTrainer wires a trainer around the classifier. posWeight should come
// from the training split (see PosWeight); the same weight is also applied
// when computing validation loss, so train and validation losses stay on
// one scale.
func NewTrainer(c *Classifier, posWeight, lr, decay float64, batchSize int, rng *rand.Rand, logger *slog.Logger) *Trainer {
	if batchSize < 1 {
		batchSize = 1
	}
	return &Trainer{
		model:     c,
		opt:       nn.NewAdamW(lr, decay),
		step:      nn.Merge(c.Params(), c.Encoder().Params()),
		posWeight: posWeight,
		batchSize: batchSize,
		rng:       rng,
		logger:    logger,
	}
}

// trainBatch runs one optimization step on a batch. All dialogues in the
// batch are padded to the batch's longest dialogue so their position masks
// line up; the loss is the batch mean.
func (t *Trainer) trainBatch(ctx context.Context, batch []Example) (loss float64, correct int, err error) {
	padTo := 0
	for _, ex := range batch {
		n := len(ex.Dialogue)
		if n > t.model.maxUtt {
			n = t.model.maxUtt
		}
		if n > padTo {
			padTo = n
		}
	}

	g := nn.NewGraph(true)
	logits := make([]*nn.Mat, len(batch))
	for i, ex := range batch {
		logit, err := t.model.Logit(ctx, g, ex.Dialogue, padTo, t.rng)
		if err != nil {
			return 0, 0, err
		}
		logits[i] = logit

		z := logit.Scalar()
		loss += bceWithLogits(z, ex.Label, t.posWeight)
		if pred := sigmoid(z) > 0.5; pred == (ex.Label == 1) {
			correct++
		}
	}

	scale := 1 / float64(len(batch))
	for i, ex := range batch {
		logits[i].Dw[0] += bceGrad(logits[i].Scalar(), ex.Label, t.posWeight) * scale
	}
	g.Backward()
	t.opt.Step(t.step)
	t.step.ZeroGrads()

	return loss * scale, correct, nil
}

// TrainEpoch runs one shuffled pass over the examples and returns the mean
// batch loss and example-level accuracy.
func (t *Trainer) TrainEpoch(ctx context.Context, examples []Example) (meanLoss, acc float64, err error) {
	shuffled := make([]Example, len(examples))
	copy(shuffled, examples)
	t.rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	var lossSum float64
	var correct, batches int
	for start := 0; start < len(shuffled); start += t.batchSize {
		if err := ctx.Err(); err != nil {
			return 0, 0, err
		}
		end := start + t.batchSize
		if end > len(shuffled) {
			end = len(shuffled)
		}
		loss, c, err := t.trainBatch(ctx, shuffled[start:end])
		if err != nil {
			return 0, 0, err
		}
		lossSum += loss
		correct += c
		batches++
	}
	if batches == 0 {
		return 0, 0, nil
	}
	return lossSum / float64(batches), float64(correct) / float64(len(shuffled)), nil
}

// Validate computes loss and accuracy on a held-out set without updating
// weights. The training split's positive weight is used for the reported
// loss even when the validation set's own class ratio differs.
func (t *Trainer) Validate(ctx context.Context, examples []Example) (loss, acc float64, err error) {
	if len(examples) == 0 {
		return 0, 0, nil
	}

	valRatio := PosWeight(examples)
	t.logger.Debug("validation class ratio", "negPerPos", valRatio, "lossWeight", t.posWeight)

	var correct int
	for _, ex := range examples {
		if err := ctx.Err(); err != nil {
			return 0, 0, err
		}
		g := nn.NewGraph(false)
		logit, err := t.model.Logit(ctx, g, ex.Dialogue, 0, nil)
		if err != nil {
			return 0, 0, err
		}
		z := logit.Scalar()
		loss += bceWithLogits(z, ex.Label, t.posWeight)
		if pred := sigmoid(z) > 0.5; pred == (ex.Label == 1) {
			correct++
		}
	}
	return loss / float64(len(examples)), float64(correct) / float64(len(examples)), nil
}

// Fit trains for the given number of epochs, validating after each and
// invoking the hook with Improved set whenever validation accuracy reaches
// a new maximum.
func (t *Trainer) Fit(ctx context.Context, train, val []Example, epochs int, hook EpochHook) error {
	best := -1.0

	for epoch := 1; epoch <= epochs; epoch++ {
		loss, acc, err := t.TrainEpoch(ctx, train)
		if err != nil {
			return fmt.Errorf("epoch %d: %w", epoch, err)
		}

		valLoss, valAcc, err := t.Validate(ctx, val)
		if err != nil {
			return fmt.Errorf("epoch %d validation: %w", epoch, err)
		}

		stats := EpochStats{
			Epoch:    epoch,
			Loss:     loss,
			TrainAcc: acc,
			ValLoss:  valLoss,
			ValAcc:   valAcc,
			Improved: valAcc > best,
		}
		if stats.Improved {
			best = valAcc
		}

		t.logger.Info("epoch finished",
			"epoch", epoch,
			"loss", loss,
			"trainAcc", acc,
			"valLoss", valLoss,
			"valAcc", valAcc,
			"improved", stats.Improved,
		)

		if hook != nil {
			if err := hook(ctx, t.model, stats); err != nil {
				return fmt.Errorf("epoch %d hook: %w", epoch, err)
			}
		}
	}
	return nil
}
