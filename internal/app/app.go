package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"irs-keeper/internal/alerting"
	"irs-keeper/internal/batch"
	"irs-keeper/internal/chain"
	"irs-keeper/internal/config"
	"irs-keeper/internal/liquidation"
	"irs-keeper/internal/oracle"
	"irs-keeper/internal/positions"
	"irs-keeper/internal/storage"
	"irs-keeper/internal/version"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Str("network", cfg.Network).Logger()}
}

func (a *App) network() config.NetworkConfig {
	// Validate already resolved the network during Load.
	network, _ := a.Config.ActiveNetwork()
	return network
}

func (a *App) newChainClient() (*chain.Client, error) {
	network := a.network()
	eth := a.Config.Ethereum
	return chain.NewClient(chain.Options{
		RPCURL:              network.RPCURL,
		ChainID:             network.ChainID,
		PrivateKey:          eth.PrivateKey,
		GasLimit:            eth.GasLimit,
		GasLimitMultiplier:  eth.GasLimitMultiplier,
		ReceiptPollInterval: eth.ReceiptPollInterval,
	}, a.Logger)
}

// engines adapts the chain client to the scanner's engine lookup.
type engines struct {
	client *chain.Client
}

func (e engines) MarginEngine(addr common.Address) liquidation.MarginEngine {
	return e.client.Engine(addr)
}

func (a *App) newScanner(client *chain.Client) *liquidation.Scanner {
	cfg := a.Config.Scanner
	return liquidation.NewScanner(engines{client: client}, liquidation.Options{
		Concurrency:       cfg.Concurrency,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Burst:             cfg.Burst,
		CallTimeout:       a.Config.Ethereum.RequestTimeout,
	}, a.Logger)
}

func (a *App) newEnforcer(locker oracle.Locker, dryRun bool) *oracle.Enforcer {
	return oracle.NewEnforcer(oracle.Options{
		CallTimeout:    a.Config.Ethereum.RequestTimeout,
		ConfirmTimeout: a.Config.Ethereum.ConfirmTimeout,
		DryRun:         dryRun || a.Config.Enforcer.DryRun,
		Concurrency:    a.Config.Enforcer.Concurrency,
	}, locker, a.Logger)
}

// targets binds the configured rate oracles to chain adapters.
func (a *App) targets(client *chain.Client) []oracle.Target {
	network := a.network()
	targets := make([]oracle.Target, 0, len(network.RateOracles))
	for _, o := range network.RateOracles {
		targets = append(targets, oracle.Target{
			Name:   o.Name,
			Oracle: client.RateOracle(common.HexToAddress(o.Address)),
			Config: bufferConfig(o),
		})
	}
	return targets
}

func bufferConfig(o config.RateOracleConfig) oracle.BufferConfig {
	return oracle.BufferConfig{
		MinBufferSize:             o.MinBufferSize,
		MinSecondsSinceLastUpdate: o.MinSecondsSinceLastUpdate,
		MaxDurationSeconds:        o.MaxDurationSeconds,
	}
}

// newSource builds the configured position source. store may be nil unless
// the database source is selected.
func (a *App) newSource(store *storage.Store) (positions.Source, error) {
	cfg := a.Config.Positions
	switch cfg.Source {
	case "file":
		return positions.File{Path: cfg.Path}, nil
	case "subgraph":
		return positions.NewSubgraph(positions.SubgraphOptions{
			URL:       a.network().SubgraphURL,
			PageSize:  cfg.PageSize,
			Timeout:   cfg.Timeout,
			UserAgent: "irskeeper/" + version.Version,
		}, a.Logger), nil
	case "database":
		if store == nil {
			return nil, errors.New("database source selected but database.dsn not configured")
		}
		return positions.Database{Store: store, Network: a.Config.Network}, nil
	default:
		return nil, fmt.Errorf("unknown positions source %q", cfg.Source)
	}
}

func (a *App) batchOptions() batch.Options {
	return batch.Options{
		Format:       batch.Format(a.Config.Output.Format),
		TemplatePath: a.Config.Output.TemplatePath,
		ChainID:      a.network().ChainID,
		SafeAddress:  a.Config.Output.SafeAddress,
	}
}

func (a *App) newNotifier() alerting.Notifier {
	if !a.Config.Alerting.Enabled || !a.Config.Alerting.Telegram.Enabled {
		return nil
	}
	cfg := a.Config.Alerting.Telegram
	var notifier alerting.Notifier = alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	if a.Config.Alerting.Cooldown > 0 {
		notifier = alerting.NewThrottled(notifier, a.Config.Alerting.Cooldown)
	}
	return notifier
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	if a.Config.Database.Migrate {
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return nil, nil, fmt.Errorf("migrate database: %w", err)
		}
	}
	return store, store.Close, nil
}

// ScanOptions configure a one-off liquidation scan.
type ScanOptions struct {
	OutputPath string
}

// EnforceOptions configure a one-off buffer enforcement.
type EnforceOptions struct {
	DryRun bool
	Only   []string
}

// ExportOptions hold parameters for exporting scan history.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// Tables selectable by ShowOptions.Only.
const (
	ShowRuns         = "runs"
	ShowEnforcements = "enforcements"
)

// ShowOptions configure the show command. An empty Only prints both tables.
type ShowOptions struct {
	Limit int
	Only  string
}

// HistoryOptions configure historical pool sampling.
type HistoryOptions struct {
	MarginEngines []string
	FromBlock     uint64
	ToBlock       uint64
	Interval      uint64
	OutputDir     string
}
