package cli

import (
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate-config",
	Short: "Check rate oracle buffer policies against the safety factor without touching the chain",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().ValidateConfig(cmd.OutOrStdout())
	},
}
