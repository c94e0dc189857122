package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/latgalenlp/saskana/internal/corpus"
	"github.com/latgalenlp/saskana/internal/synth"
)

var (
	datasetCorpus  string
	datasetOut     string
	datasetSeed    int64
	datasetPer     int
	datasetSpeaker string
)

var datasetCmd = &cobra.Command{
	Use:   "dataset",
	Short: "Generate synthetic incoherent dialogues from a corpus",
	Long: `Generate synthetic negatives by permuting one speaker's utterances
within each dialogue, keeping the speaker turn sequence and the utterance
multiset intact. Dialogues where no speaker has two or more utterances, or
where no permutation differs from the original, are skipped.

Output is NDJSON in the same format as the input corpus.`,
	RunE: runDataset,
}

func init() {
	datasetCmd.Flags().StringVarP(&datasetCorpus, "corpus", "c", "", "input corpus (NDJSON)")
	datasetCmd.Flags().StringVarP(&datasetOut, "out", "o", "", "output file (default stdout)")
	datasetCmd.Flags().Int64Var(&datasetSeed, "seed", 42, "random seed")
	datasetCmd.Flags().IntVar(&datasetPer, "per-dialogue", 1, "negatives attempted per dialogue")
	datasetCmd.Flags().StringVar(&datasetSpeaker, "speaker", "", "permute only this speaker's turns")
	datasetCmd.MarkFlagRequired("corpus")
}

func runDataset(cmd *cobra.Command, args []string) error {
	dialogues, err := loadCorpus(datasetCorpus)
	if err != nil {
		return err
	}

	syn := synth.New(newRNG(datasetSeed))
	var negatives []corpus.Dialogue
	skipped := 0
	for _, d := range dialogues {
		produced := false
		for i := 0; i < datasetPer; i++ {
			neg, ok := syn.Synthesize(d, datasetSpeaker)
			if !ok {
				break
			}
			negatives = append(negatives, neg)
			produced = true
		}
		if !produced {
			skipped++
		}
	}

	out := os.Stdout
	if datasetOut != "" {
		f, err := os.Create(datasetOut)
		if err != nil {
			return fmt.Errorf("create output %q: %w", datasetOut, err)
		}
		defer f.Close()
		out = f
	}
	if err := corpus.Write(out, negatives); err != nil {
		return fmt.Errorf("write negatives: %w", err)
	}

	logger.Info("dataset generated",
		"dialogues", len(dialogues),
		"negatives", len(negatives),
		"skipped", skipped,
	)
	return nil
}
