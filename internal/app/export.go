package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"irs-keeper/internal/storage"
)

// Export renders scan history as CSV and/or a PNG chart of risk counts.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	defer closeStore()

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-time.Duration(opts.MaxPoints) * a.Config.Scheduler.Interval)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	runs, err := store.ListRunsBetween(ctx, from, to, 0)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		a.Logger.Info().Msg("no scan runs found for export window")
		return nil
	}

	downsampled := downsampleRuns(runs, opts.MaxPoints)
	a.Logger.Info().Int("total", len(runs)).Int("exported", len(downsampled)).Msg("exporting scan runs")

	if opts.CSVPath != "" {
		if err := writeRunsCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeRunsPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsampleRuns(runs []storage.ScanRun, max int) []storage.ScanRun {
	if max <= 0 || len(runs) <= max {
		return runs
	}
	if max == 1 {
		return runs[len(runs)-1:]
	}

	result := make([]storage.ScanRun, 0, max)
	step := float64(len(runs)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(runs) {
			idx = len(runs) - 1
		}
		result = append(result, runs[idx])
	}
	return result
}

func writeRunsCSV(path string, runs []storage.ScanRun) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"started_at", "network", "positions", "healthy", "warning", "danger", "liquidatable", "position_failures", "engine_failures", "duration_ms"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, run := range runs {
		record := []string{
			run.StartedAt.UTC().Format(time.RFC3339),
			run.Network,
			strconv.Itoa(run.Positions),
			strconv.Itoa(run.Healthy),
			strconv.Itoa(run.Warning),
			strconv.Itoa(run.Danger),
			strconv.Itoa(run.Liquidatable),
			strconv.Itoa(run.PositionFailures),
			strconv.Itoa(run.EngineFailures),
			strconv.FormatInt(run.Duration.Milliseconds(), 10),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeRunsPNG(path string, runs []storage.ScanRun) error {
	if len(runs) < 2 {
		return errors.New("at least two scan runs are required to draw a chart")
	}
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(runs))
	warning := make([]float64, len(runs))
	danger := make([]float64, len(runs))
	liquidatable := make([]float64, len(runs))

	for i, run := range runs {
		x[i] = run.StartedAt
		warning[i] = float64(run.Warning)
		danger[i] = float64(run.Danger)
		liquidatable[i] = float64(run.Liquidatable)
	}

	countFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.0f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Positions",
			ValueFormatter: countFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Warning",
				XValues: x,
				YValues: warning,
			},
			chart.TimeSeries{
				Name:    "Danger",
				XValues: x,
				YValues: danger,
			},
			chart.TimeSeries{
				Name:    "Liquidatable",
				XValues: x,
				YValues: liquidatable,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
