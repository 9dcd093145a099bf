package oracle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"irs-keeper/internal/irs"
	"irs-keeper/internal/metrics"
)

// RateOracle is the slice of a rate oracle contract the enforcer drives.
type RateOracle interface {
	Address() common.Address
	BufferState(ctx context.Context) (irs.BufferState, error)
	GrowBuffer(ctx context.Context, newSize uint64) (irs.PendingTx, error)
	SetMinSecondsSinceLastUpdate(ctx context.Context, seconds uint64) (irs.PendingTx, error)
}

// Locker serialises enforcement of one oracle across processes.
type Locker interface {
	LockOracle(ctx context.Context, oracle common.Address) (unlock func(), err error)
}

// Options parameterise the enforcer.
type Options struct {
	CallTimeout      time.Duration
	ConfirmTimeout   time.Duration
	MaxGrowthPerCall uint64
	DryRun           bool
	Concurrency      int
}

// Target pairs an oracle with the buffer configuration it must satisfy.
type Target struct {
	Name   string
	Oracle RateOracle
	Config BufferConfig
}

// Report summarises one enforcement run.
type Report struct {
	Name            string
	Oracle          common.Address
	InitialSize     uint64
	FinalSize       uint64
	GrowthTargets   []uint64
	InitialInterval uint64
	FinalInterval   uint64
	IntervalUpdated bool
	TxHashes        []common.Hash
	DryRun          bool
	Err             error
}

// Mutated reports whether the run issued (or, for a dry run, would issue) writes.
func (r Report) Mutated() bool {
	return len(r.GrowthTargets) > 0 || r.IntervalUpdated
}

// Enforcer drives rate oracle buffers to their configured size.
type Enforcer struct {
	opts    Options
	logger  zerolog.Logger
	locker  Locker
	metrics *metrics.KeeperMetrics

	mu    sync.Mutex
	locks map[common.Address]*sync.Mutex
}

// NewEnforcer builds an enforcer. locker may be nil.
func NewEnforcer(opts Options, locker Locker, logger zerolog.Logger) *Enforcer {
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 15 * time.Second
	}
	if opts.ConfirmTimeout <= 0 {
		opts.ConfirmTimeout = 5 * time.Minute
	}
	if opts.MaxGrowthPerCall == 0 {
		opts.MaxGrowthPerCall = MaxGrowthPerCall
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	return &Enforcer{
		opts:    opts,
		logger:  logger.With().Str("component", "buffer_enforcer").Logger(),
		locker:  locker,
		metrics: metrics.Keeper(),
		locks:   make(map[common.Address]*sync.Mutex),
	}
}

// EnforceAll enforces every target. Distinct oracles run concurrently; a
// failure is recorded on that oracle's report and does not stop the others.
func (e *Enforcer) EnforceAll(ctx context.Context, targets []Target) []Report {
	reports := make([]Report, len(targets))

	var g errgroup.Group
	g.SetLimit(e.opts.Concurrency)
	for i, target := range targets {
		i, target := i, target
		g.Go(func() error {
			report, err := e.Ensure(ctx, target.Oracle, target.Config)
			report.Name = target.Name
			report.Oracle = target.Oracle.Address()
			report.Err = err
			if err != nil {
				e.metrics.EnforcementFailure(report.Oracle.Hex(), ErrorKind(err))
			}
			reports[i] = report
			return nil
		})
	}
	_ = g.Wait()

	return reports
}

// Ensure validates cfg, grows the oracle's buffer in bounded steps until it
// holds at least cfg.MinBufferSize observations, and sets the minimum update
// interval. Every write is confirmed before the following read. The buffer
// only ever grows, so a failure leaves it partially grown.
func (e *Enforcer) Ensure(ctx context.Context, o RateOracle, cfg BufferConfig) (Report, error) {
	if err := CheckBufferConfig(cfg); err != nil {
		return Report{}, err
	}

	addr := o.Address()
	report := Report{Oracle: addr, DryRun: e.opts.DryRun}
	logger := e.logger.With().Str("oracle", addr.Hex()).Logger()

	unlock := e.lockLocal(addr)
	defer unlock()

	if e.locker != nil && !e.opts.DryRun {
		release, err := e.locker.LockOracle(ctx, addr)
		if err != nil {
			return report, fmt.Errorf("lock oracle %s: %w", addr.Hex(), err)
		}
		defer release()
	}

	state, err := e.readState(ctx, o)
	if err != nil {
		return report, err
	}
	report.InitialSize = state.Size
	report.InitialInterval = state.MinInterval

	size := state.Size
	if size < cfg.MinBufferSize {
		logger.Info().Uint64("current", size).Uint64("target", cfg.MinBufferSize).Msg("increasing observation buffer")
	}

	// size strictly increases on every pass or the loop returns.
	for size < cfg.MinBufferSize {
		target := nextGrowthTarget(size, cfg.MinBufferSize, e.opts.MaxGrowthPerCall)
		report.GrowthTargets = append(report.GrowthTargets, target)

		if e.opts.DryRun {
			logger.Info().Uint64("target", target).Msg("dry-run: would grow observation buffer")
			size = target
			continue
		}

		hash, err := e.write(ctx, addr, "increaseObservationCardinalityNext", func(callCtx context.Context) (irs.PendingTx, error) {
			return o.GrowBuffer(callCtx, target)
		})
		if hash != (common.Hash{}) {
			report.TxHashes = append(report.TxHashes, hash)
		}
		if err != nil {
			report.FinalSize = size
			report.FinalInterval = state.MinInterval
			return report, err
		}
		e.metrics.GrowthCall(addr.Hex())

		next, err := e.readState(ctx, o)
		if err != nil {
			report.FinalSize = size
			report.FinalInterval = state.MinInterval
			return report, err
		}
		state = next
		if state.Size != target {
			report.FinalSize = state.Size
			report.FinalInterval = state.MinInterval
			return report, &irs.InconsistentStateError{Target: addr, Field: "buffer size", Expected: target, Actual: state.Size}
		}
		size = state.Size
		logger.Debug().Uint64("size", size).Str("tx", hash.Hex()).Msg("observation buffer grown")
	}
	report.FinalSize = size

	interval := state.MinInterval
	if interval != cfg.MinSecondsSinceLastUpdate {
		report.IntervalUpdated = true
		if e.opts.DryRun {
			logger.Info().Uint64("current", interval).Uint64("target", cfg.MinSecondsSinceLastUpdate).Msg("dry-run: would set minSecondsSinceLastUpdate")
			interval = cfg.MinSecondsSinceLastUpdate
		} else {
			hash, err := e.write(ctx, addr, "setMinSecondsSinceLastUpdate", func(callCtx context.Context) (irs.PendingTx, error) {
				return o.SetMinSecondsSinceLastUpdate(callCtx, cfg.MinSecondsSinceLastUpdate)
			})
			if hash != (common.Hash{}) {
				report.TxHashes = append(report.TxHashes, hash)
			}
			if err != nil {
				report.FinalInterval = interval
				return report, err
			}
			e.metrics.IntervalUpdate(addr.Hex())

			state, err = e.readState(ctx, o)
			if err != nil {
				report.FinalInterval = interval
				return report, err
			}
			if state.MinInterval != cfg.MinSecondsSinceLastUpdate {
				report.FinalInterval = state.MinInterval
				return report, &irs.InconsistentStateError{Target: addr, Field: "min seconds since last update", Expected: cfg.MinSecondsSinceLastUpdate, Actual: state.MinInterval}
			}
			interval = state.MinInterval
			logger.Info().Uint64("seconds", interval).Msg("updated minSecondsSinceLastUpdate")
		}
	}
	report.FinalInterval = interval

	if report.Mutated() && !e.opts.DryRun {
		logger.Info().
			Uint64("initial_size", report.InitialSize).
			Uint64("final_size", report.FinalSize).
			Int("growth_calls", len(report.GrowthTargets)).
			Msg("buffer enforcement complete")
	}

	return report, nil
}

func (e *Enforcer) readState(ctx context.Context, o RateOracle) (irs.BufferState, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.opts.CallTimeout)
	defer cancel()

	state, err := o.BufferState(callCtx)
	if err != nil {
		return irs.BufferState{}, &irs.RemoteReadError{Op: "buffer state", Target: o.Address(), Err: err}
	}
	return state, nil
}

// write submits one transaction and waits for its confirmation. It never retries.
func (e *Enforcer) write(ctx context.Context, addr common.Address, op string, submit func(context.Context) (irs.PendingTx, error)) (common.Hash, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.opts.CallTimeout)
	tx, err := submit(callCtx)
	cancel()
	if err != nil {
		return common.Hash{}, &irs.RemoteWriteError{Op: op, Target: addr, Err: err}
	}

	waitCtx, cancelWait := context.WithTimeout(ctx, e.opts.ConfirmTimeout)
	defer cancelWait()
	if err := tx.Wait(waitCtx); err != nil {
		return tx.Hash(), &irs.RemoteWriteError{Op: op, Target: addr, TxHash: tx.Hash(), Err: err}
	}
	return tx.Hash(), nil
}

func (e *Enforcer) lockLocal(addr common.Address) func() {
	e.mu.Lock()
	l, ok := e.locks[addr]
	if !ok {
		l = &sync.Mutex{}
		e.locks[addr] = l
	}
	e.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// ErrorKind classifies an enforcement error for logs and persistence.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	var (
		cfgErr   *irs.ConfigurationError
		readErr  *irs.RemoteReadError
		writeErr *irs.RemoteWriteError
		stateErr *irs.InconsistentStateError
	)
	switch {
	case errors.As(err, &cfgErr):
		return "configuration"
	case errors.As(err, &readErr):
		return "read"
	case errors.As(err, &writeErr):
		return "write"
	case errors.As(err, &stateErr):
		return "inconsistent_state"
	default:
		return "other"
	}
}
