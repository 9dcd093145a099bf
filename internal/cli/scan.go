package cli

import (
	"github.com/spf13/cobra"

	"irs-keeper/internal/app"
)

var scanOutput string

var scanCmd = &cobra.Command{
	Use:   "scan-liquidations",
	Short: "Classify positions and write the liquidation batch file",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().ScanLiquidations(cmd.Context(), app.ScanOptions{OutputPath: scanOutput})
	},
}

func init() {
	scanCmd.Flags().StringVarP(&scanOutput, "output", "o", "", "Batch file path (defaults to output.batch_path)")
}
