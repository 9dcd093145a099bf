package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"irs-keeper/internal/app"
)

var (
	historyEngines   []string
	historyFrom      uint64
	historyTo        uint64
	historyInterval  uint64
	historyOutputDir string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Sample fixed rate and swap depth of pools across past blocks",
	RunE: func(cmd *cobra.Command, args []string) error {
		if historyTo != 0 && historyFrom >= historyTo {
			return fmt.Errorf("--from-block must be below --to-block")
		}
		return getApp().History(cmd.Context(), app.HistoryOptions{
			MarginEngines: historyEngines,
			FromBlock:     historyFrom,
			ToBlock:       historyTo,
			Interval:      historyInterval,
			OutputDir:     historyOutputDir,
		})
	},
}

func init() {
	historyCmd.Flags().StringSliceVar(&historyEngines, "margin-engine", nil, "Margin engines to sample (defaults to every engine with a deployment block)")
	historyCmd.Flags().Uint64Var(&historyFrom, "from-block", 0, "First block (clamped to the deployment block)")
	historyCmd.Flags().Uint64Var(&historyTo, "to-block", 0, "Last block (defaults to latest)")
	historyCmd.Flags().Uint64Var(&historyInterval, "interval", 0, "Blocks between samples (defaults to history.block_interval)")
	historyCmd.Flags().StringVar(&historyOutputDir, "output-dir", "", "Directory for CSV output (defaults to history.output_dir)")
}
