// Package irs holds the values shared between the keeper's components and the
// contract adapters that feed them.
package irs

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Position identifies a liquidity or trader position inside a margin engine.
// The struct is comparable and its value is its identity.
type Position struct {
	Owner        common.Address
	MarginEngine common.Address
	TickLower    int32
	TickUpper    int32
}

func (p Position) String() string {
	return fmt.Sprintf("%s[%d,%d]@%s", p.Owner.Hex(), p.TickLower, p.TickUpper, p.MarginEngine.Hex())
}

// PositionInfo is the subset of margin-engine position state the keeper reads.
type PositionInfo struct {
	IsSettled            bool
	Liquidity            *big.Int
	Margin               *big.Int
	FixedTokenBalance    *big.Int
	VariableTokenBalance *big.Int
	AccumulatedFees      *big.Int
}

// BufferState is the observation-buffer state of a rate oracle.
type BufferState struct {
	Size        uint64
	MinInterval uint64
}

// PendingTx is a submitted transaction awaiting confirmation.
type PendingTx interface {
	Hash() common.Hash
	Wait(ctx context.Context) error
}

// FormatWad renders an 18-decimal fixed point amount.
func FormatWad(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return decimal.NewFromBigInt(v, -18).StringFixed(6)
}
