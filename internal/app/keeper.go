package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"irs-keeper/internal/oracle"
	"irs-keeper/internal/scheduler"
	"irs-keeper/internal/service"
	"irs-keeper/internal/storage"
)

// keeper wires a service for one command invocation.
func (a *App) keeper(ctx context.Context, dryRun bool, sched *scheduler.Scheduler) (*service.Service, func(), error) {
	client, err := a.newChainClient()
	if err != nil {
		return nil, nil, err
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	cleanup := func() {
		if closeStore != nil {
			closeStore()
		}
		client.Close()
	}

	source, err := a.newSource(store)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	deps := service.Deps{
		Network:   a.Config.Network,
		Scheduler: sched,
		Targets:   a.targets(client),
		Enforce:   a.Config.Enforcer.Enabled,
		Scanner:   a.newScanner(client),
		Source:    source,
		Notifier:  a.newNotifier(),
		BatchPath: a.Config.Output.BatchPath,
		Batch:     a.batchOptions(),
	}

	var locker oracle.Locker
	if store != nil {
		locker = store
		deps.Tracker = store
		deps.Runs = store
		deps.Enforcements = store
		deps.Locker = store
		deps.LockKey = a.Config.Scheduler.AdvisoryLockKey
	} else {
		a.Logger.Warn().Msg("database.dsn not configured; persistence and cross-process locking disabled")
	}
	deps.Enforcer = a.newEnforcer(locker, dryRun)

	return service.New(deps, a.Logger), cleanup, nil
}

// EnforceBuffers runs buffer enforcement once for the configured oracles.
func (a *App) EnforceBuffers(ctx context.Context, opts EnforceOptions) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if len(opts.Only) > 0 {
		if err := a.restrictOracles(opts.Only); err != nil {
			return err
		}
	}

	svc, cleanup, err := a.keeper(ctx, opts.DryRun, nil)
	if err != nil {
		return err
	}
	defer cleanup()

	reports := svc.Enforce(ctx, time.Now().UTC())
	if len(reports) == 0 {
		a.Logger.Warn().Msg("no rate oracles configured for this network")
		return nil
	}

	failed := 0
	for _, r := range reports {
		event := a.Logger.Info()
		if r.Err != nil {
			failed++
			event = a.Logger.Error().Err(r.Err).Str("kind", oracle.ErrorKind(r.Err))
		}
		event.
			Str("oracle", r.Name).
			Str("address", r.Oracle.Hex()).
			Uint64("initial_size", r.InitialSize).
			Uint64("final_size", r.FinalSize).
			Uint64("final_interval", r.FinalInterval).
			Int("transactions", len(r.TxHashes)).
			Bool("dry_run", r.DryRun).
			Msg("buffer enforcement result")
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d oracles failed enforcement", failed, len(reports))
	}
	return nil
}

// restrictOracles narrows the active network to the named oracles.
func (a *App) restrictOracles(names []string) error {
	key := strings.ToLower(a.Config.Network)
	network := a.network()

	byName := make(map[string]int, len(network.RateOracles))
	for i, o := range network.RateOracles {
		byName[o.Name] = i
	}
	selected := network.RateOracles[:0:0]
	for _, name := range names {
		i, ok := byName[name]
		if !ok {
			return fmt.Errorf("rate oracle %q not configured for network %s", name, key)
		}
		selected = append(selected, network.RateOracles[i])
	}
	network.RateOracles = selected
	a.Config.Networks[key] = network
	return nil
}

// ScanLiquidations runs one liquidation scan and writes the batch artifact.
func (a *App) ScanLiquidations(ctx context.Context, opts ScanOptions) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if opts.OutputPath != "" {
		a.Config.Output.BatchPath = opts.OutputPath
	}

	svc, cleanup, err := a.keeper(ctx, false, nil)
	if err != nil {
		return err
	}
	defer cleanup()

	report, err := svc.Scan(ctx, time.Now().UTC())
	if err != nil {
		return err
	}

	for _, b := range report.Batches {
		a.Logger.Info().
			Str("margin_engine", b.MarginEngine.Hex()).
			Str("vamm", b.PriceCurve.Hex()).
			Int("positions", len(b.Positions)).
			Msg("liquidation batch")
	}
	a.Logger.Info().
		Int("positions", report.Positions).
		Int("liquidatable", report.Liquidatable()).
		Str("output", a.Config.Output.BatchPath).
		Dur("elapsed", report.Duration).
		Msg("liquidation scan complete")
	return nil
}

// RunOnce executes a single keeper round immediately.
func (a *App) RunOnce(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	svc, cleanup, err := a.keeper(ctx, false, nil)
	if err != nil {
		return err
	}
	defer cleanup()

	return svc.ProcessRound(ctx, time.Now().UTC())
}

// Run executes the long-running keeper service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
		RunAtStart:   true,
	}, a.Logger)

	svc, cleanup, err := a.keeper(ctx, false, sched)
	if err != nil {
		return err
	}
	defer cleanup()

	if a.Config.Metrics.Enabled {
		srv := a.metricsServer()
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.Logger.Error().Err(err).Msg("metrics server stopped")
			}
		}()
		defer func() {
			shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancelShutdown()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	a.Logger.Info().Dur("interval", a.Config.Scheduler.Interval).Msg("starting keeper service")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("keeper service stopped")
	return nil
}

func (a *App) metricsServer() *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	a.Logger.Info().Str("listen", a.Config.Metrics.Listen).Msg("serving metrics")
	return &http.Server{
		Addr:              a.Config.Metrics.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

var _ oracle.Locker = (*storage.Store)(nil)
