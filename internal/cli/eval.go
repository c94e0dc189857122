package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/latgalenlp/saskana/internal/checkpoint"
	"github.com/latgalenlp/saskana/internal/config"
	"github.com/latgalenlp/saskana/internal/document"
	"github.com/latgalenlp/saskana/internal/encoder"
	"github.com/latgalenlp/saskana/internal/eval"
	"github.com/latgalenlp/saskana/internal/scorer"
	"github.com/latgalenlp/saskana/internal/synth"
)

var (
	evalCorpus     string
	evalConfig     string
	evalCheckpoint string
	evalSeed       int64
)

var evalCmd = &cobra.Command{
	Use:   "eval",
	Short: "Evaluate a trained model on a held-out corpus",
	Long: `Evaluate a checkpoint on the mixed protocol: every corpus dialogue
counts as coherent and one synthetic permutation per dialogue as incoherent.
Reports accuracy, precision, recall and F1 with coherent as the positive
class.`,
}

var evalLCDCmd = &cobra.Command{
	Use:   "lcd",
	Short: "Evaluate the pairwise scorer",
	RunE:  runEvalLCD,
}

var evalHTCmd = &cobra.Command{
	Use:   "ht",
	Short: "Evaluate the document classifier",
	RunE:  runEvalHT,
}

func init() {
	evalCmd.PersistentFlags().StringVarP(&evalCorpus, "corpus", "c", "", "evaluation corpus (NDJSON)")
	evalCmd.PersistentFlags().StringVar(&evalConfig, "config", "", "training config used for the checkpoint (YAML)")
	evalCmd.PersistentFlags().StringVar(&evalCheckpoint, "checkpoint", "", "checkpoint file")
	evalCmd.PersistentFlags().Int64Var(&evalSeed, "seed", 42, "random seed for synthetic negatives")
	evalCmd.MarkPersistentFlagRequired("corpus")
	evalCmd.MarkPersistentFlagRequired("checkpoint")

	evalCmd.AddCommand(evalLCDCmd)
	evalCmd.AddCommand(evalHTCmd)
}

func printConfusion(c eval.Confusion) {
	fmt.Printf("Examples:  %d (TP %d, FP %d, TN %d, FN %d)\n", c.Total(), c.TP, c.FP, c.TN, c.FN)
	fmt.Printf("Accuracy:  %.4f\n", c.Accuracy())
	fmt.Printf("Precision: %.4f\n", c.Precision())
	fmt.Printf("Recall:    %.4f\n", c.Recall())
	fmt.Printf("F1:        %.4f\n", c.F1())
}

func runEvalLCD(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	trainCfg, err := config.LoadTraining(evalConfig)
	if err != nil {
		return err
	}
	dialogues, err := loadCorpus(evalCorpus)
	if err != nil {
		return err
	}

	rng := newRNG(evalSeed)
	enc, err := encoder.New(cfg, trainCfg, trainCfg.LCDAdapterTop, rng)
	if err != nil {
		return err
	}
	model := scorer.NewModel(enc, trainCfg.ScorerHidden, trainCfg.Dropout, rng)
	if err := checkpoint.Load(evalCheckpoint, model.Components()); err != nil {
		return err
	}

	conf, err := model.Evaluate(ctx, dialogues, synth.New(rng))
	if err != nil {
		return err
	}
	printConfusion(conf)
	return nil
}

func runEvalHT(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	trainCfg, err := config.LoadTraining(evalConfig)
	if err != nil {
		return err
	}
	dialogues, err := loadCorpus(evalCorpus)
	if err != nil {
		return err
	}

	rng := newRNG(evalSeed)
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
	if err := checkpoint.Load(evalCheckpoint, model.Components()); err != nil {
		return err
	}

	examples, err := document.BuildDataset(dialogues, trainCfg.MaxUtterances, rng, logger)
	if err != nil {
		return err
	}

	var conf eval.Confusion
	for _, ex := range examples {
		pred, err := model.Predict(ctx, ex.Dialogue)
		if err != nil {
			return err
		}
		conf.Add(ex.Label, pred)
	}
	printConfusion(conf)
	return nil
}
