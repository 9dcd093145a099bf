package irs

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// SwapParams describe a periphery swap used for quote simulation.
type SwapParams struct {
	MarginEngine      common.Address
	IsFT              bool
	Notional          *big.Int
	SqrtPriceLimitX96 *big.Int
	TickLower         int32
	TickUpper         int32
	MarginDelta       *big.Int
}

// SwapOutcome is the return value of a simulated swap that did not revert.
type SwapOutcome struct {
	FixedTokenDelta           *big.Int
	VariableTokenDelta        *big.Int
	CumulativeFeeIncurred     *big.Int
	FixedTokenDeltaUnbalanced *big.Int
	MarginRequirement         *big.Int
	TickAfter                 int32
}

// DecodedRevert is a simulated swap that reverted. Margin checks revert with
// the post-swap state attached, so a revert still carries a quote when Name is
// a known custom error.
type DecodedRevert struct {
	Name               string
	Reason             string
	MarginRequirement  *big.Int
	Tick               int32
	FixedTokenDelta    *big.Int
	VariableTokenDelta *big.Int
	HasSwapInfo        bool
}

// SwapResult holds exactly one of Outcome or Revert.
type SwapResult struct {
	Outcome *SwapOutcome
	Revert  *DecodedRevert
}

// Quote returns the variable token delta and tick after the swap when the
// result carries them.
func (r SwapResult) Quote() (*big.Int, int32, bool) {
	switch {
	case r.Outcome != nil:
		return r.Outcome.VariableTokenDelta, r.Outcome.TickAfter, true
	case r.Revert != nil && r.Revert.HasSwapInfo:
		return r.Revert.VariableTokenDelta, r.Revert.Tick, true
	default:
		return nil, 0, false
	}
}
