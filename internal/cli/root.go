// Package cli provides the command-line interface for saskana.
package cli

import (
	"log/slog"
	"math/rand"

	"github.com/spf13/cobra"

	"github.com/latgalenlp/saskana/internal/config"
	"github.com/latgalenlp/saskana/internal/corpus"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose bool

	// Global config and logger, populated before any subcommand runs.
	cfg        config.Config
	logger     *slog.Logger
	logCleanup func() error
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "saskana",
	Short: "Dialogue coherence scoring for Latgalian",
	Long: `Saskana trains and applies coherence models for Latgalian dialogue:
a pairwise local-coherence scorer over adjacent utterances and a
document-level transformer classifier, both on top of a pretrained
contextual encoder. Training data comes from NDJSON dialogue corpora;
incoherent negatives are synthesized by permuting one speaker's turns.`,
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		cfg = config.Load()

		level := cfg.LogLevel
		if verbose {
			level = slog.LevelDebug
		}
		logger, logCleanup = config.SetupLogger(cfg.LogFile, level)
		slog.SetDefault(logger)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCleanup != nil {
			if err := logCleanup(); err != nil {
				slog.Warn("failed to close log file", "error", err)
			}
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(datasetCmd)
	rootCmd.AddCommand(trainCmd)
	rootCmd.AddCommand(evalCmd)
	rootCmd.AddCommand(predictCmd)
	rootCmd.AddCommand(runsCmd)
}

// newRNG returns the deterministic source all sampling in one invocation
// draws from.
func newRNG(seed int64) *rand.Rand {
	return rand.New(rand.NewSource(seed))
}

// loadCorpus reads the dialogue corpus at path.
func loadCorpus(path string) ([]corpus.Dialogue, error) {
	return corpus.Load(path, logger)
}

// splitTrainVal shuffles dialogues and carves off a validation fraction. At
// least one dialogue stays in training; the validation split may be empty
// for tiny corpora.
func splitTrainVal(dialogues []corpus.Dialogue, frac float64, rng *rand.Rand) (train, val []corpus.Dialogue) {
	shuffled := make([]corpus.Dialogue, len(dialogues))
	copy(shuffled, dialogues)
	rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	n := int(float64(len(shuffled)) * frac)
	if n >= len(shuffled) {
		n = len(shuffled) - 1
	}
	if n < 0 {
		n = 0
	}
	return shuffled[n:], shuffled[:n]
}
