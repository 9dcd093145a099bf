package chain

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"irs-keeper/internal/irs"
)

// MarginEngine is a read-only margin engine binding. Position reads are
// executed as eth_call so the engine's state-touching getters never mutate.
type MarginEngine struct {
	client  *Client
	address common.Address
}

// Engine binds a margin engine at addr.
func (c *Client) Engine(addr common.Address) *MarginEngine {
	return &MarginEngine{client: c, address: addr}
}

// Address returns the engine address.
func (m *MarginEngine) Address() common.Address {
	return m.address
}

// PositionMarginRequirement reads the safety (liquidation=false) or
// liquidation margin requirement of a position.
func (m *MarginEngine) PositionMarginRequirement(ctx context.Context, owner common.Address, tickLower, tickUpper int32, liquidation bool) (*big.Int, error) {
	out, err := m.client.call(ctx, marginEngineABI, m.address, nil, "getPositionMarginRequirement",
		owner, big.NewInt(int64(tickLower)), big.NewInt(int64(tickUpper)), liquidation)
	if err != nil {
		return nil, err
	}
	req, ok := out[0].(*big.Int)
	if !ok {
		return nil, errors.New("failed to decode getPositionMarginRequirement output")
	}
	return req, nil
}

// Position reads the stored position state.
func (m *MarginEngine) Position(ctx context.Context, owner common.Address, tickLower, tickUpper int32) (irs.PositionInfo, error) {
	out, err := m.client.call(ctx, marginEngineABI, m.address, nil, "getPosition",
		owner, big.NewInt(int64(tickLower)), big.NewInt(int64(tickUpper)))
	if err != nil {
		return irs.PositionInfo{}, err
	}

	settled, ok := out[0].(bool)
	if !ok {
		return irs.PositionInfo{}, errors.New("failed to decode getPosition output")
	}
	ints := make([]*big.Int, len(out))
	for i := 1; i < len(out); i++ {
		v, ok := out[i].(*big.Int)
		if !ok {
			return irs.PositionInfo{}, errors.New("failed to decode getPosition output")
		}
		ints[i] = v
	}

	return irs.PositionInfo{
		IsSettled:            settled,
		Liquidity:            ints[1],
		Margin:               ints[2],
		FixedTokenBalance:    ints[5],
		VariableTokenBalance: ints[6],
		AccumulatedFees:      ints[9],
	}, nil
}

// PriceCurve returns the address of the engine's VAMM.
func (m *MarginEngine) PriceCurve(ctx context.Context) (common.Address, error) {
	return m.readAddress(ctx, "vamm")
}

// UnderlyingToken returns the engine's underlying ERC-20.
func (m *MarginEngine) UnderlyingToken(ctx context.Context) (common.Address, error) {
	return m.readAddress(ctx, "underlyingToken")
}

func (m *MarginEngine) readAddress(ctx context.Context, method string) (common.Address, error) {
	out, err := m.client.call(ctx, marginEngineABI, m.address, nil, method)
	if err != nil {
		return common.Address{}, err
	}
	addr, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, errors.New("failed to decode " + method + " output")
	}
	return addr, nil
}
