package cli

import (
	"github.com/spf13/cobra"

	"irs-keeper/internal/app"
)

var (
	enforceDryRun bool
	enforceOnly   []string
)

var enforceCmd = &cobra.Command{
	Use:   "enforce-buffers",
	Short: "Grow rate oracle observation buffers and set their minimum update interval",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().EnforceBuffers(cmd.Context(), app.EnforceOptions{
			DryRun: enforceDryRun,
			Only:   enforceOnly,
		})
	},
}

func init() {
	enforceCmd.Flags().BoolVar(&enforceDryRun, "dry-run", false, "Read state and log planned writes without sending transactions")
	enforceCmd.Flags().StringSliceVar(&enforceOnly, "oracle", nil, "Restrict to the named rate oracles (repeatable)")
}
