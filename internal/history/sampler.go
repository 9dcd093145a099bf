// Package history samples a pool's fixed rate and swap depth across past
// blocks.
package history

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"irs-keeper/internal/irs"
)

// Notionals are the swap sizes probed per block, in whole underlying tokens.
// The first is large enough to exhaust the pool and reports available
// liquidity; the rest report slippage.
var Notionals = []int64{1_000_000_000_000, 10, 100, 1_000, 10_000}

var (
	minSqrtRatio = big.NewInt(4295128739)
	maxSqrtRatio = mustBig("1461446703485210103287273052203988822378723970342")

	sqrtLimitFT = new(big.Int).Sub(maxSqrtRatio, big.NewInt(1))
	sqrtLimitVT = new(big.Int).Add(minSqrtRatio, big.NewInt(1))
)

func mustBig(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("invalid integer constant " + s)
	}
	return v
}

// Chain reads block metadata.
type Chain interface {
	BlockNumber(ctx context.Context) (uint64, error)
	BlockTime(ctx context.Context, number uint64) (uint64, error)
}

// Quoter reads pool state at historical blocks.
type Quoter interface {
	CurrentTick(ctx context.Context, engine common.Address, block *big.Int) (int32, error)
	SimulateSwap(ctx context.Context, params irs.SwapParams, block *big.Int) (irs.SwapResult, error)
}

// Options parameterise a sampling run.
type Options struct {
	MarginEngine    common.Address
	DeploymentBlock uint64
	FromBlock       uint64
	ToBlock         uint64
	Interval        uint64
	Decimals        int32
	TickLower       int32
	TickUpper       int32
	CallTimeout     time.Duration
}

// Side is the swap depth on one side of the pool.
type Side struct {
	Available decimal.Decimal
	Slippage  []decimal.Decimal
}

// Row is one sampled block.
type Row struct {
	Block     uint64
	Timestamp uint64
	FixedRate decimal.Decimal
	FT        Side
	VT        Side
}

// Summary counts sampled and skipped blocks.
type Summary struct {
	FromBlock uint64
	ToBlock   uint64
	Sampled   int
	Skipped   int
}

// Sampler walks a block range.
type Sampler struct {
	chain  Chain
	quoter Quoter
	logger zerolog.Logger
}

// NewSampler constructs a sampler.
func NewSampler(chain Chain, quoter Quoter, logger zerolog.Logger) *Sampler {
	return &Sampler{
		chain:  chain,
		quoter: quoter,
		logger: logger.With().Str("component", "history").Logger(),
	}
}

// TickToFixedRate converts a tick to the fixed rate in percent.
func TickToFixedRate(tick int32) float64 {
	return math.Pow(1.0001, -float64(tick))
}

// Range clamps the requested range to [deployment, latest].
func Range(opts Options, latest uint64) (uint64, uint64, error) {
	from := opts.DeploymentBlock
	if opts.FromBlock > from {
		from = opts.FromBlock
	}
	to := latest
	if opts.ToBlock != 0 && opts.ToBlock < to {
		to = opts.ToBlock
	}
	if from >= to {
		return 0, 0, fmt.Errorf("invalid block range %d-%d", from, to)
	}
	return from, to, nil
}

// Run samples every Interval blocks and hands each row to emit. A block whose
// reads fail is logged and skipped; an emit error stops the run.
func (s *Sampler) Run(ctx context.Context, opts Options, emit func(Row) error) (Summary, error) {
	if opts.Interval == 0 {
		return Summary{}, errors.New("block interval must be greater than zero")
	}
	if opts.TickUpper <= opts.TickLower {
		opts.TickLower, opts.TickUpper = 0, 60
	}

	latest, err := s.chain.BlockNumber(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("latest block: %w", err)
	}
	from, to, err := Range(opts, latest)
	if err != nil {
		return Summary{}, err
	}
	summary := Summary{FromBlock: from, ToBlock: to}

	s.logger.Info().
		Str("margin_engine", opts.MarginEngine.Hex()).
		Uint64("from", from).
		Uint64("to", to).
		Uint64("interval", opts.Interval).
		Msg("sampling history")

	for b := from; b <= to; b += opts.Interval {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		row, err := s.sample(ctx, opts, b)
		if err != nil {
			if ctx.Err() != nil {
				return summary, ctx.Err()
			}
			summary.Skipped++
			s.logger.Warn().Err(err).Uint64("block", b).Msg("block sample failed")
			continue
		}
		if err := emit(row); err != nil {
			return summary, err
		}
		summary.Sampled++
	}
	return summary, nil
}

func (s *Sampler) sample(ctx context.Context, opts Options, block uint64) (Row, error) {
	tag := new(big.Int).SetUint64(block)

	ts, err := withTimeout(ctx, opts.CallTimeout, func(ctx context.Context) (uint64, error) {
		return s.chain.BlockTime(ctx, block)
	})
	if err != nil {
		return Row{}, fmt.Errorf("block time: %w", err)
	}
	tick, err := withTimeout(ctx, opts.CallTimeout, func(ctx context.Context) (int32, error) {
		return s.quoter.CurrentTick(ctx, opts.MarginEngine, tag)
	})
	if err != nil {
		return Row{}, fmt.Errorf("current tick: %w", err)
	}

	row := Row{
		Block:     block,
		Timestamp: ts,
		FixedRate: decimal.NewFromFloat(TickToFixedRate(tick) / 100),
	}
	if row.FT, err = s.side(ctx, opts, tag, tick, true); err != nil {
		return Row{}, err
	}
	if row.VT, err = s.side(ctx, opts, tag, tick, false); err != nil {
		return Row{}, err
	}
	return row, nil
}

func (s *Sampler) side(ctx context.Context, opts Options, block *big.Int, tick int32, isFT bool) (Side, error) {
	limit := sqrtLimitVT
	if isFT {
		limit = sqrtLimitFT
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(opts.Decimals)), nil)
	base := TickToFixedRate(tick)

	var side Side
	for i, notional := range Notionals {
		params := irs.SwapParams{
			MarginEngine:      opts.MarginEngine,
			IsFT:              isFT,
			Notional:          new(big.Int).Mul(big.NewInt(notional), scale),
			SqrtPriceLimitX96: limit,
			TickLower:         opts.TickLower,
			TickUpper:         opts.TickUpper,
			MarginDelta:       new(big.Int),
		}
		res, err := withTimeout(ctx, opts.CallTimeout, func(ctx context.Context) (irs.SwapResult, error) {
			return s.quoter.SimulateSwap(ctx, params, block)
		})
		if err != nil {
			return Side{}, fmt.Errorf("swap %d: %w", notional, err)
		}
		delta, tickAfter, ok := res.Quote()
		if !ok {
			return Side{}, fmt.Errorf("swap %d reverted with %s %s", notional, res.Revert.Name, res.Revert.Reason)
		}

		if i == 0 {
			side.Available = decimal.NewFromBigInt(delta, -opts.Decimals).Abs()
			continue
		}
		slippage := math.Abs(TickToFixedRate(tickAfter)-base) / 100
		side.Slippage = append(side.Slippage, decimal.NewFromFloat(slippage))
	}
	return side, nil
}

func withTimeout[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(callCtx)
}
