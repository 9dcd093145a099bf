package chain

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"irs-keeper/internal/irs"
)

// RateOracle is a rate oracle contract.
type RateOracle struct {
	client  *Client
	address common.Address
}

// RateOracle binds a rate oracle at addr.
func (c *Client) RateOracle(addr common.Address) *RateOracle {
	return &RateOracle{client: c, address: addr}
}

// Address returns the oracle address.
func (r *RateOracle) Address() common.Address {
	return r.address
}

// BufferState reads the next cardinality and the minimum update interval.
func (r *RateOracle) BufferState(ctx context.Context) (irs.BufferState, error) {
	vars, err := r.client.call(ctx, rateOracleABI, r.address, nil, "oracleVars")
	if err != nil {
		return irs.BufferState{}, err
	}
	cardinalityNext, ok := vars[2].(uint16)
	if !ok {
		return irs.BufferState{}, errors.New("failed to decode oracleVars output")
	}

	out, err := r.client.call(ctx, rateOracleABI, r.address, nil, "minSecondsSinceLastUpdate")
	if err != nil {
		return irs.BufferState{}, err
	}
	interval, ok := out[0].(*big.Int)
	if !ok || !interval.IsUint64() {
		return irs.BufferState{}, errors.New("failed to decode minSecondsSinceLastUpdate output")
	}

	return irs.BufferState{Size: uint64(cardinalityNext), MinInterval: interval.Uint64()}, nil
}

// GrowBuffer submits increaseObservationCardinalityNext(newSize).
func (r *RateOracle) GrowBuffer(ctx context.Context, newSize uint64) (irs.PendingTx, error) {
	if newSize > math.MaxUint16 {
		return nil, fmt.Errorf("buffer size %d exceeds uint16 cardinality", newSize)
	}
	data, err := rateOracleABI.Pack("increaseObservationCardinalityNext", uint16(newSize))
	if err != nil {
		return nil, err
	}
	return r.client.transact(ctx, r.address, data)
}

// SetMinSecondsSinceLastUpdate submits setMinSecondsSinceLastUpdate(seconds).
func (r *RateOracle) SetMinSecondsSinceLastUpdate(ctx context.Context, seconds uint64) (irs.PendingTx, error) {
	data, err := rateOracleABI.Pack("setMinSecondsSinceLastUpdate", new(big.Int).SetUint64(seconds))
	if err != nil {
		return nil, err
	}
	return r.client.transact(ctx, r.address, data)
}
