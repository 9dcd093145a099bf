package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"

	"github.com/ethereum/go-ethereum/common"

	"irs-keeper/internal/chain"
	"irs-keeper/internal/history"
)

// History samples fixed rate and swap depth of each margin engine into one
// CSV file per engine.
func (a *App) History(ctx context.Context, opts HistoryOptions) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	network := a.network()
	if network.Periphery == "" {
		return fmt.Errorf("networks.%s.periphery is required for history sampling", a.Config.Network)
	}

	engines, err := a.historyEngines(opts.MarginEngines)
	if err != nil {
		return err
	}

	interval := opts.Interval
	if interval == 0 {
		interval = a.Config.History.BlockInterval
	}
	outputDir := opts.OutputDir
	if outputDir == "" {
		outputDir = a.Config.History.OutputDir
	}

	client, err := a.newChainClient()
	if err != nil {
		return err
	}
	defer client.Close()

	sampler := history.NewSampler(client, client.Periphery(common.HexToAddress(network.Periphery)), a.Logger)

	var errs []error
	for _, engine := range engines {
		if err := a.sampleEngine(ctx, client, sampler, engine, opts, interval, outputDir); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			a.Logger.Error().Err(err).Str("margin_engine", engine.Hex()).Msg("history sampling failed")
			errs = append(errs, fmt.Errorf("%s: %w", engine.Hex(), err))
		}
	}
	return errors.Join(errs...)
}

func (a *App) sampleEngine(ctx context.Context, client *chain.Client, sampler *history.Sampler, engine common.Address, opts HistoryOptions, interval uint64, outputDir string) error {
	network := a.network()

	deployment, ok := network.DeploymentBlock(engine)
	if !ok {
		a.Logger.Warn().Str("margin_engine", engine.Hex()).Msg("deployment block not configured; sampling from the requested block")
	}

	decimals, err := a.engineDecimals(ctx, client, engine)
	if err != nil {
		return err
	}

	path := filepath.Join(outputDir, a.Config.Network, engine.Hex()+".csv")
	out, err := history.OpenCSV(path)
	if err != nil {
		return err
	}

	summary, runErr := sampler.Run(ctx, history.Options{
		MarginEngine:    engine,
		DeploymentBlock: deployment,
		FromBlock:       opts.FromBlock,
		ToBlock:         opts.ToBlock,
		Interval:        interval,
		Decimals:        decimals,
		TickLower:       a.Config.History.TickLower,
		TickUpper:       a.Config.History.TickUpper,
		CallTimeout:     a.Config.Ethereum.RequestTimeout,
	}, out.Write)
	if err := out.Close(); err != nil && runErr == nil {
		runErr = err
	}

	a.Logger.Info().
		Str("margin_engine", engine.Hex()).
		Str("output", path).
		Uint64("from", summary.FromBlock).
		Uint64("to", summary.ToBlock).
		Int("sampled", summary.Sampled).
		Int("skipped", summary.Skipped).
		Msg("history sampling finished")
	return runErr
}

// historyEngines resolves the engines to sample: the explicit list, else
// every engine with a configured deployment block.
func (a *App) historyEngines(requested []string) ([]common.Address, error) {
	if len(requested) == 0 {
		for addr := range a.network().DeploymentBlocks {
			requested = append(requested, addr)
		}
		sort.Strings(requested)
	}
	if len(requested) == 0 {
		return nil, errors.New("no margin engines given and none configured under deployment_blocks")
	}

	engines := make([]common.Address, 0, len(requested))
	for _, raw := range requested {
		if !common.IsHexAddress(raw) {
			return nil, fmt.Errorf("margin engine %q is not an address", raw)
		}
		engines = append(engines, common.HexToAddress(raw))
	}
	return engines, nil
}

func (a *App) engineDecimals(ctx context.Context, client *chain.Client, engine common.Address) (int32, error) {
	callCtx, cancel := context.WithTimeout(ctx, a.Config.Ethereum.RequestTimeout)
	defer cancel()

	token, err := client.Engine(engine).UnderlyingToken(callCtx)
	if err != nil {
		return 0, fmt.Errorf("underlying token: %w", err)
	}
	if d, ok := a.network().TokenDecimalsOverride(token); ok {
		return d, nil
	}
	d, err := client.TokenDecimals(callCtx, token)
	if err != nil {
		return 0, fmt.Errorf("token decimals of %s: %w", token.Hex(), err)
	}
	return d, nil
}
