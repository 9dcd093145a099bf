package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"irs-keeper/internal/irs"
)

// Periphery is the pool periphery contract used for tick reads and swap
// simulation.
type Periphery struct {
	client  *Client
	address common.Address
}

// Periphery binds the periphery at addr.
func (c *Client) Periphery(addr common.Address) *Periphery {
	return &Periphery{client: c, address: addr}
}

type swapPeripheryParams struct {
	MarginEngine      common.Address `abi:"marginEngine"`
	IsFT              bool           `abi:"isFT"`
	Notional          *big.Int       `abi:"notional"`
	SqrtPriceLimitX96 *big.Int       `abi:"sqrtPriceLimitX96"`
	TickLower         *big.Int       `abi:"tickLower"`
	TickUpper         *big.Int       `abi:"tickUpper"`
	MarginDelta       *big.Int       `abi:"marginDelta"`
}

// CurrentTick reads the VAMM tick of engine at block (nil for latest).
func (p *Periphery) CurrentTick(ctx context.Context, engine common.Address, block *big.Int) (int32, error) {
	out, err := p.client.call(ctx, peripheryABI, p.address, block, "getCurrentTick", engine)
	if err != nil {
		return 0, err
	}
	tick, ok := out[0].(*big.Int)
	if !ok {
		return 0, errors.New("failed to decode getCurrentTick output")
	}
	return int32(tick.Int64()), nil
}

// SimulateSwap executes swap as an eth_call at block. A revert is not an
// error: it is returned decoded in the result. Transport failures and
// undecodable reverts are errors.
func (p *Periphery) SimulateSwap(ctx context.Context, params irs.SwapParams, block *big.Int) (irs.SwapResult, error) {
	backend, err := p.client.getBackend(ctx)
	if err != nil {
		return irs.SwapResult{}, err
	}

	payload, err := peripheryABI.Pack("swap", swapPeripheryParams{
		MarginEngine:      params.MarginEngine,
		IsFT:              params.IsFT,
		Notional:          orZero(params.Notional),
		SqrtPriceLimitX96: orZero(params.SqrtPriceLimitX96),
		TickLower:         big.NewInt(int64(params.TickLower)),
		TickUpper:         big.NewInt(int64(params.TickUpper)),
		MarginDelta:       orZero(params.MarginDelta),
	})
	if err != nil {
		return irs.SwapResult{}, fmt.Errorf("pack swap: %w", err)
	}

	res, err := backend.CallContract(ctx, ethereum.CallMsg{From: p.client.from, To: &p.address, Data: payload}, block)
	if err != nil {
		data, ok := revertData(err)
		if !ok {
			return irs.SwapResult{}, err
		}
		decoded, derr := DecodeRevert(data)
		if derr != nil {
			return irs.SwapResult{}, fmt.Errorf("%w: %v", err, derr)
		}
		return irs.SwapResult{Revert: decoded}, nil
	}

	out, err := peripheryABI.Unpack("swap", res)
	if err != nil {
		return irs.SwapResult{}, fmt.Errorf("unpack swap: %w", err)
	}
	ints, err := bigInts(out, 6)
	if err != nil {
		return irs.SwapResult{}, fmt.Errorf("swap: %w", err)
	}
	return irs.SwapResult{Outcome: &irs.SwapOutcome{
		FixedTokenDelta:           ints[0],
		VariableTokenDelta:        ints[1],
		CumulativeFeeIncurred:     ints[2],
		FixedTokenDeltaUnbalanced: ints[3],
		MarginRequirement:         ints[4],
		TickAfter:                 int32(ints[5].Int64()),
	}}, nil
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

func bigInts(values []interface{}, want int) ([]*big.Int, error) {
	if len(values) != want {
		return nil, fmt.Errorf("expected %d values, got %d", want, len(values))
	}
	out := make([]*big.Int, want)
	for i, v := range values {
		n, ok := v.(*big.Int)
		if !ok {
			return nil, fmt.Errorf("value %d is %T, not an integer", i, v)
		}
		out[i] = n
	}
	return out, nil
}
