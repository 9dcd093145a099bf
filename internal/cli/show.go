package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"irs-keeper/internal/app"
)

var (
	showLimit int
	showOnly  string
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recent scan runs and buffer enforcements",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}
		switch showOnly {
		case "", app.ShowRuns, app.ShowEnforcements:
		default:
			return fmt.Errorf("--only must be %s or %s", app.ShowRuns, app.ShowEnforcements)
		}
		return getApp().Show(cmd.Context(), app.ShowOptions{Limit: showLimit, Only: showOnly})
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Rows per table")
	showCmd.Flags().StringVar(&showOnly, "only", "", "Show only runs or enforcements")
}
