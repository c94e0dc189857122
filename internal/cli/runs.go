package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/latgalenlp/saskana/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs <run-id>",
	Short: "Show the per-epoch metrics of a recorded training run",
	Args:  cobra.ExactArgs(1),
	RunE:  runRuns,
}

func runRuns(cmd *cobra.Command, args []string) error {
	runs, err := store.Open(cfg.RunDBPath)
	if err != nil {
		return err
	}
	defer runs.Close()

	records, err := runs.Epochs(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("No epochs recorded for this run.")
		return nil
	}

	fmt.Printf("%-6s %-12s %-10s %-12s %-10s %s\n", "epoch", "train_loss", "train_acc", "val_loss", "val_acc", "best")
	for _, rec := range records {
		best := ""
		if rec.Improved {
			best = "*"
		}
		fmt.Printf("%-6d %-12.4f %-10.4f %-12.4f %-10.4f %s\n",
			rec.Epoch, rec.TrainLoss, rec.TrainAcc, rec.ValLoss, rec.ValAcc, best)
	}
	return nil
}
