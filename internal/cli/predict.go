package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/latgalenlp/saskana/internal/checkpoint"
	"github.com/latgalenlp/saskana/internal/config"
	"github.com/latgalenlp/saskana/internal/corpus"
	"github.com/latgalenlp/saskana/internal/document"
	"github.com/latgalenlp/saskana/internal/encoder"
	"github.com/latgalenlp/saskana/internal/scorer"
)

var (
	predictCorpus     string
	predictConfig     string
	predictCheckpoint string
	predictModel      string
)

var predictCmd = &cobra.Command{
	Use:   "predict",
	Short: "Classify dialogues as coherent or incoherent",
	Long: `Classify each dialogue of an NDJSON file (stdin if no file is given)
and print one verdict per line. The lcd model applies the conjunctive rule:
one negatively scored adjacent pair makes the whole dialogue incoherent.`,
	RunE: runPredict,
}

func init() {
	predictCmd.Flags().StringVarP(&predictCorpus, "corpus", "c", "", "dialogues to classify (NDJSON, default stdin)")
	predictCmd.Flags().StringVar(&predictConfig, "config", "", "training config used for the checkpoint (YAML)")
	predictCmd.Flags().StringVar(&predictCheckpoint, "checkpoint", "", "checkpoint file")
	predictCmd.Flags().StringVarP(&predictModel, "model", "m", "lcd", "model to apply (lcd or ht)")
	predictCmd.MarkFlagRequired("checkpoint")
}

func runPredict(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	trainCfg, err := config.LoadTraining(predictConfig)
	if err != nil {
		return err
	}

	var dialogues []corpus.Dialogue
	if predictCorpus == "" {
		dialogues, err = corpus.Read(os.Stdin, logger)
	} else {
		dialogues, err = loadCorpus(predictCorpus)
	}
	if err != nil {
		return err
	}

	var predict func(d corpus.Dialogue) (int, error)
	rng := newRNG(trainCfg.Seed)

	switch predictModel {
	case "lcd":
		enc, err := encoder.New(cfg, trainCfg, trainCfg.LCDAdapterTop, rng)
		if err != nil {
			return err
		}
		model := scorer.NewModel(enc, trainCfg.ScorerHidden, trainCfg.Dropout, rng)
		if err := checkpoint.Load(predictCheckpoint, model.Components()); err != nil {
			return err
		}
		predict = func(d corpus.Dialogue) (int, error) { return model.Predict(ctx, d) }

	case "ht":
		enc, err := encoder.New(cfg, trainCfg, trainCfg.HTAdapterTop, rng)
		if err != nil {
			return err
		}
		model := document.NewClassifier(enc, document.Config{
			Layers:        trainCfg.DocLayers,
			Heads:         trainCfg.Heads,
			FFDim:         trainCfg.DocFF,
			Hidden:        trainCfg.DocHidden,
			Dropout:       trainCfg.Dropout,
			MaxUtterances: trainCfg.MaxUtterances,
		}, rng)
		if err := checkpoint.Load(predictCheckpoint, model.Components()); err != nil {
			return err
		}
		predict = func(d corpus.Dialogue) (int, error) { return model.Predict(ctx, d) }

	default:
		return fmt.Errorf("unknown model %q (want lcd or ht)", predictModel)
	}

	for i, d := range dialogues {
		label, err := predict(d)
		if err != nil {
			return fmt.Errorf("dialogue %d: %w", i, err)
		}
		verdict := "incoherent"
		if label == 1 {
			verdict = "coherent"
		}
		fmt.Printf("%d\t%s\n", i, verdict)
	}
	return nil
}
