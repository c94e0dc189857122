package cli

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/latgalenlp/saskana/internal/checkpoint"
	"github.com/latgalenlp/saskana/internal/config"
	"github.com/latgalenlp/saskana/internal/document"
	"github.com/latgalenlp/saskana/internal/encoder"
	"github.com/latgalenlp/saskana/internal/scorer"
	"github.com/latgalenlp/saskana/internal/store"
)

var (
	trainCorpus string
	trainConfig string
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train a coherence model",
}

var trainLCDCmd = &cobra.Command{
	Use:   "lcd",
	Short: "Train the pairwise local-coherence scorer",
	Long: `Train the pairwise scorer with the bounded margin objective. Each
adjacent utterance pair is ranked against an in-dialogue negative whose
replacement comes from a different speaker. The checkpoint with the best
validation accuracy is kept.`,
	RunE: runTrainLCD,
}

var trainHTCmd = &cobra.Command{
	Use:   "ht",
	Short: "Train the document-level coherence classifier",
	Long: `Train the transformer classifier over whole dialogues with weighted
binary cross-entropy: originals are positives, permuted dialogues negatives.
The checkpoint with the best validation accuracy is kept.`,
	RunE: runTrainHT,
}

func init() {
	trainCmd.PersistentFlags().StringVarP(&trainCorpus, "corpus", "c", "", "training corpus (NDJSON)")
	trainCmd.PersistentFlags().StringVar(&trainConfig, "config", "", "training config (YAML, defaults if omitted)")
	trainCmd.MarkPersistentFlagRequired("corpus")

	trainCmd.AddCommand(trainLCDCmd)
	trainCmd.AddCommand(trainHTCmd)
}

// beginRun opens the run store and registers the invocation. The returned
// cleanup stamps the run finished and closes the store.
func beginRun(ctx context.Context, kind string, train config.Training) (*store.Store, store.Run, func(), error) {
	configYAML, err := yaml.Marshal(train)
	if err != nil {
		return nil, store.Run{}, nil, fmt.Errorf("marshal training config: %w", err)
	}

	runs, err := store.Open(cfg.RunDBPath)
	if err != nil {
		return nil, store.Run{}, nil, err
	}
	run, err := runs.BeginRun(ctx, kind, trainCorpus, string(configYAML), train.Seed)
	if err != nil {
		runs.Close()
		return nil, store.Run{}, nil, err
	}

	cleanup := func() {
		if err := runs.FinishRun(ctx, run.ID); err != nil {
			logger.Warn("failed to finish run", "run", run.ID, "error", err)
		}
		runs.Close()
	}
	return runs, run, cleanup, nil
}

func runTrainLCD(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	trainCfg, err := config.LoadTraining(trainConfig)
	if err != nil {
		return err
	}
	dialogues, err := loadCorpus(trainCorpus)
	if err != nil {
		return err
	}

	rng := newRNG(trainCfg.Seed)
	trainSet, valSet := splitTrainVal(dialogues, trainCfg.ValFrac, rng)
	logger.Info("starting pairwise training",
		"train", len(trainSet), "val", len(valSet), "seed", trainCfg.Seed)

	enc, err := encoder.New(cfg, trainCfg, trainCfg.LCDAdapterTop, rng)
	if err != nil {
		return err
	}
	model := scorer.NewModel(enc, trainCfg.ScorerHidden, trainCfg.Dropout, rng)
	loss := scorer.BoundedMarginLoss{
		Margin:      trainCfg.Margin,
		Upper:       trainCfg.UpperBound,
		Lower:       trainCfg.LowerBound,
		LambdaUpper: trainCfg.LambdaUpper,
		LambdaLower: trainCfg.LambdaLower,
	}
	trainer := scorer.NewTrainer(model, loss, trainCfg.LR, trainCfg.Decay, rng, logger)

	runs, run, cleanup, err := beginRun(ctx, "lcd", trainCfg)
	if err != nil {
		return err
	}
	defer cleanup()

	ckptPath := filepath.Join(cfg.CheckpointDir, "lcd.msgpack")
	hook := func(ctx context.Context, m *scorer.Model, stats scorer.EpochStats) error {
		rec := store.EpochRecord{
			Epoch:     stats.Epoch,
			TrainLoss: stats.Loss,
			TrainAcc:  stats.TrainAcc,
			ValAcc:    stats.Val.Accuracy(),
			Improved:  stats.Improved,
		}
		if err := runs.RecordEpoch(ctx, run.ID, rec); err != nil {
			return err
		}
		if !stats.Improved {
			return nil
		}
		return checkpoint.Save(ckptPath, m.Components())
	}

	if err := trainer.Fit(ctx, trainSet, valSet, trainCfg.Epochs, hook); err != nil {
		return err
	}
	fmt.Printf("Training finished, best checkpoint at %s (run %s)\n", ckptPath, run.ID)
	return nil
}

func runTrainHT(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	trainCfg, err := config.LoadTraining(trainConfig)
	if err != nil {
		return err
	}
	dialogues, err := loadCorpus(trainCorpus)
	if err != nil {
		return err
	}

	rng := newRNG(trainCfg.Seed)
	trainDialogues, valDialogues := splitTrainVal(dialogues, trainCfg.ValFrac, rng)

	trainSet, err := document.BuildDataset(trainDialogues, trainCfg.MaxUtterances, rng, logger)
	if err != nil {
		return err
	}
	valSet, _ := document.BuildDataset(valDialogues, trainCfg.MaxUtterances, rng, logger)

	posWeight := document.PosWeight(trainSet)
	logger.Info("starting document training",
		"train", len(trainSet), "val", len(valSet),
		"posWeight", posWeight, "seed", trainCfg.Seed)

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
	trainer := document.NewTrainer(model, posWeight, trainCfg.LR, trainCfg.Decay, trainCfg.BatchSize, rng, logger)

	runs, run, cleanup, err := beginRun(ctx, "ht", trainCfg)
	if err != nil {
		return err
	}
	defer cleanup()

	ckptPath := filepath.Join(cfg.CheckpointDir, "ht.msgpack")
	hook := func(ctx context.Context, c *document.Classifier, stats document.EpochStats) error {
		rec := store.EpochRecord{
			Epoch:     stats.Epoch,
			TrainLoss: stats.Loss,
			TrainAcc:  stats.TrainAcc,
			ValLoss:   stats.ValLoss,
			ValAcc:    stats.ValAcc,
			Improved:  stats.Improved,
		}
		if err := runs.RecordEpoch(ctx, run.ID, rec); err != nil {
			return err
		}
		if !stats.Improved {
			return nil
		}
		return checkpoint.Save(ckptPath, c.Components())
	}

	if err := trainer.Fit(ctx, trainSet, valSet, trainCfg.Epochs, hook); err != nil {
		return err
	}
	fmt.Printf("Training finished, best checkpoint at %s (run %s)\n", ckptPath, run.ID)
	return nil
}
