package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"irs-keeper/internal/app"
)

var (
	exportFrom      string
	exportTo        string
	exportPNGPath   string
	exportCSVPath   string
	exportMaxPoints int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export scan history as CSV and/or a PNG chart of risk counts",
	Example: `  irskeeper export --from 168h --csv runs.csv --png runs.png
  irskeeper export --from 2024-01-01T00:00:00Z --to 2024-02-01T00:00:00Z --csv jan.csv`,
	RunE: func(cmd *cobra.Command, args []string) error {
		now := time.Now().UTC()
		opts := app.ExportOptions{
			PNGPath:   exportPNGPath,
			CSVPath:   exportCSVPath,
			MaxPoints: exportMaxPoints,
		}

		var err error
		if opts.From, err = parseTimeFlag("from", exportFrom, now); err != nil {
			return err
		}
		if opts.To, err = parseTimeFlag("to", exportTo, now); err != nil {
			return err
		}
		return getApp().Export(cmd.Context(), opts)
	},
}

// parseTimeFlag accepts an RFC3339 timestamp or a duration back from now.
func parseTimeFlag(name, raw string, now time.Time) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return &ts, nil
	}
	ago, err := time.ParseDuration(raw)
	if err != nil || ago < 0 {
		return nil, fmt.Errorf("invalid --%s value %q: want RFC3339 or a positive duration", name, raw)
	}
	ts := now.Add(-ago)
	return &ts, nil
}

func init() {
	exportCmd.Flags().StringVar(&exportFrom, "from", "", "Window start: RFC3339 or duration ago (inclusive)")
	exportCmd.Flags().StringVar(&exportTo, "to", "", "Window end: RFC3339 or duration ago (exclusive)")
	exportCmd.Flags().StringVar(&exportPNGPath, "png", "", "Path to write PNG chart")
	exportCmd.Flags().StringVar(&exportCSVPath, "csv", "", "Path to write CSV data")
	exportCmd.Flags().IntVar(&exportMaxPoints, "max-points", 0, "Maximum scan runs to export (defaults to export.max_data_points)")
}
