package scorer

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"

	"github.com/latgalenlp/saskana/internal/corpus"
	"github.com/latgalenlp/saskana/internal/eval"
	"github.com/latgalenlp/saskana/internal/nn"
	"github.com/latgalenlp/saskana/internal/synth"
)

// EpochStats summarizes one training epoch.
type EpochStats struct {
	Epoch     int
	Loss      float64
	TrainAcc  float64
	Val       eval.Confusion
	Improved  bool
	Dialogues int
}

// EpochHook is called after each epoch, typically to persist a checkpoint
// when Improved is set.
type EpochHook func(ctx context.Context, m *Model, stats EpochStats) error

// Trainer runs pairwise margin training over dialogues. The two directional
// scorers get one optimizer each; both optimizers also step the shared
// encoder parameters on the same accumulated gradients, which is why the
// gradients are zeroed here, after both steps, and never inside the
// optimizer.
type Trainer struct {
	model  *Model
	loss   BoundedMarginLoss
	optFwd *nn.AdamW
	optBwd *nn.AdamW

	fwdStep nn.Params
	bwdStep nn.Params
	all     []nn.Params

	rng    *rand.Rand
	logger *slog.Logger
}

// NewTrainer wires a trainer around the model. The rng drives both negative
// sampling and dropout and is consumed free-running across epochs.
func NewTrainer(m *Model, loss BoundedMarginLoss, lr, decay float64, rng *rand.Rand, logger *slog.Logger) *Trainer {
	enc := m.Enc.Params()
	return &Trainer{
		model:   m,
		loss:    loss,
		optFwd:  nn.NewAdamW(lr, decay),
		optBwd:  nn.NewAdamW(lr, decay),
		fwdStep: nn.Merge(m.Scorers.Fwd.Params(), enc),
		bwdStep: nn.Merge(m.Scorers.Bwd.Params(), enc),
		all:     []nn.Params{m.Scorers.Fwd.Params(), m.Scorers.Bwd.Params(), enc},
		rng:     rng,
		logger:  logger,
	}
}

// negativeCandidates lists in-dialogue replacement positions for the pair
// starting at i: any utterance other than the true successor whose speaker
// differs from the anchor's.
func negativeCandidates(d corpus.Dialogue, i int) []int {
	var cands []int
	for j := range d {
		if j == i+1 || d[j].Speaker == d[i].Speaker {
			continue
		}
		cands = append(cands, j)
	}
	return cands
}

type scoredPair struct {
	pos *nn.Mat
	neg *nn.Mat
}

// trainDialogue runs one optimization step on a single dialogue and reports
// its mean pair loss and whether the dialogue's last scored pair was ranked
// correctly. Dialogues shorter than MinTrainTurns, or with no scorable
// pairs, contribute nothing.
func (t *Trainer) trainDialogue(ctx context.Context, d corpus.Dialogue) (loss float64, lastPairCorrect, trained bool, err error) {
	if len(d) < MinTrainTurns {
		return 0, false, false, nil
	}

	g := nn.NewGraph(true)
	embs, encErr := t.model.Enc.Encode(ctx, g, d.Texts(), t.rng)
	if encErr != nil {
		return 0, false, false, fmt.Errorf("encode dialogue: %w", encErr)
	}

	var pairs []scoredPair
	var lossSum float64
	for i := 0; i+1 < len(d); i++ {
		cands := negativeCandidates(d, i)
		if len(cands) == 0 {
			continue
		}
		j := cands[t.rng.Intn(len(cands))]

		pos := t.model.Scorers.Score(g, embs[i], embs[i+1], t.rng)
		neg := t.model.Scorers.Score(g, embs[i], embs[j], t.rng)
		pairs = append(pairs, scoredPair{pos: pos, neg: neg})
		lossSum += t.loss.Value(pos.Scalar(), neg.Scalar())
	}
	if len(pairs) == 0 {
		return 0, false, false, nil
	}

	scale := 1 / float64(len(pairs))
	for _, p := range pairs {
		dPos, dNeg := t.loss.Grads(p.pos.Scalar(), p.neg.Scalar())
		p.pos.Dw[0] += dPos * scale
		p.neg.Dw[0] += dNeg * scale
	}
	g.Backward()

	t.optFwd.Step(t.fwdStep)
	t.optBwd.Step(t.bwdStep)
	for _, ps := range t.all {
		ps.ZeroGrads()
	}

	last := pairs[len(pairs)-1]
	return lossSum * scale, last.pos.Scalar() > last.neg.Scalar(), true, nil
}

// TrainEpoch runs one pass over the training dialogues. The reported
// training accuracy counts, per dialogue, only whether the final scored
// pair was ranked correctly; it is a cheap ranking signal, not a full
// evaluation.
func (t *Trainer) TrainEpoch(ctx context.Context, dialogues []corpus.Dialogue) (meanLoss, acc float64, trained int, err error) {
	var lossSum float64
	var correct int
	for _, d := range dialogues {
		if err := ctx.Err(); err != nil {
			return 0, 0, 0, err
		}
		loss, lastCorrect, ok, err := t.trainDialogue(ctx, d)
		if err != nil {
			return 0, 0, 0, err
		}
		if !ok {
			continue
		}
		trained++
		lossSum += loss
		if lastCorrect {
			correct++
		}
	}
	if trained == 0 {
		return 0, 0, 0, nil
	}
	return lossSum / float64(trained), float64(correct) / float64(trained), trained, nil
}

// Fit trains for the given number of epochs, validating after each on the
// mixed true/synthetic protocol and invoking the hook with Improved set
// whenever validation accuracy reaches a new maximum.
func (t *Trainer) Fit(ctx context.Context, train, val []corpus.Dialogue, epochs int, hook EpochHook) error {
	syn := synth.New(t.rng)
	best := -1.0

	for epoch := 1; epoch <= epochs; epoch++ {
		loss, acc, trained, err := t.TrainEpoch(ctx, train)
		if err != nil {
			return fmt.Errorf("epoch %d: %w", epoch, err)
		}

		conf, err := t.model.Evaluate(ctx, val, syn)
		if err != nil {
			return fmt.Errorf("epoch %d validation: %w", epoch, err)
		}

		stats := EpochStats{
			Epoch:     epoch,
			Loss:      loss,
			TrainAcc:  acc,
			Val:       conf,
			Improved:  conf.Accuracy() > best,
			Dialogues: trained,
		}
		if stats.Improved {
			best = conf.Accuracy()
		}

		t.logger.Info("epoch finished",
			"epoch", epoch,
			"loss", loss,
			"trainAcc", acc,
			"dialogues", trained,
			"valAcc", conf.Accuracy(),
			"valF1", conf.F1(),
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
