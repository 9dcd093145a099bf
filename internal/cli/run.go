package cli

import (
	"github.com/spf13/cobra"
)

var runOnce bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the keeper: enforce buffers and scan for liquidations every interval",
	Long: `Run executes keeper rounds on the scheduler interval until interrupted.
Each round enforces rate oracle buffers (when enforcer.enabled) and then scans
positions for liquidation, writing the batch file and persisting the results.
With --once a single round runs immediately and the command exits.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if runOnce {
			return getApp().RunOnce(cmd.Context())
		}
		return getApp().Run(cmd.Context())
	},
}

func init() {
	runCmd.Flags().BoolVar(&runOnce, "once", false, "Run a single round and exit")
}
