package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"irs-keeper/internal/storage"
)

// Show prints recent scan runs and buffer enforcements.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show history")
	}
	defer closeStore()

	if opts.Only != ShowEnforcements {
		runs, err := store.ListRecentRuns(ctx, opts.Limit)
		if err != nil {
			return err
		}
		writeRuns(os.Stdout, runs)
	}
	if opts.Only == "" {
		fmt.Fprintln(os.Stdout)
	}
	if opts.Only != ShowRuns {
		enforcements, err := store.ListRecentEnforcements(ctx, opts.Limit)
		if err != nil {
			return err
		}
		writeEnforcements(os.Stdout, enforcements)
	}
	return nil
}

func writeRuns(out io.Writer, runs []storage.ScanRun) {
	if len(runs) == 0 {
		fmt.Fprintln(out, "no scan runs found")
		return
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Started (UTC)\tNetwork\tPositions\tHealthy\tWarning\tDanger\tLiquidatable\tFailures\tDuration")
	for _, run := range runs {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%d\t%d\t%d\t%d\t%d\t%d\t%s\n",
			run.StartedAt.UTC().Format(time.RFC3339),
			run.Network,
			run.Positions,
			run.Healthy,
			run.Warning,
			run.Danger,
			run.Liquidatable,
			run.PositionFailures+run.EngineFailures,
			run.Duration.Round(time.Millisecond),
		)
	}
	writer.Flush()
}

func writeEnforcements(out io.Writer, enforcements []storage.BufferEnforcement) {
	if len(enforcements) == 0 {
		fmt.Fprintln(out, "no buffer enforcements found")
		return
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tOracle\tSize\tMin interval\tTxs\tDry run\tError")
	for _, e := range enforcements {
		errMsg := ""
		if e.Error != nil {
			errMsg = sanitizeInline(*e.Error)
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%d -> %d\t%d -> %d\t%d\t%t\t%s\n",
			e.CreatedAt.UTC().Format(time.RFC3339),
			e.OracleName,
			e.InitialSize, e.FinalSize,
			e.InitialInterval, e.FinalInterval,
			len(e.TxHashes),
			e.DryRun,
			errMsg,
		)
	}
	writer.Flush()
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
