package chain

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"

	"irs-keeper/internal/irs"
)

// ErrUnknownRevert is returned for revert data matching no known error.
var ErrUnknownRevert = errors.New("unknown revert selector")

// revertData extracts the raw revert payload carried by an eth_call error.
func revertData(err error) ([]byte, bool) {
	var dataErr rpc.DataError
	if !errors.As(err, &dataErr) {
		return nil, false
	}
	switch v := dataErr.ErrorData().(type) {
	case string:
		data, derr := hexutil.Decode(v)
		if derr != nil {
			return nil, false
		}
		return data, true
	case []byte:
		return v, true
	default:
		return nil, false
	}
}

// DecodeRevert turns revert data into a typed outcome. Error(string) reverts
// become a Reason; periphery custom errors are matched by selector, and
// MarginRequirementNotMet carries the post-swap quote.
func DecodeRevert(data []byte) (*irs.DecodedRevert, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("revert data too short: %d bytes", len(data))
	}

	if reason, err := abi.UnpackRevert(data); err == nil {
		return &irs.DecodedRevert{Name: "Error", Reason: reason}, nil
	}

	for name, e := range peripheryABI.Errors {
		if !bytes.Equal(data[:4], e.ID[:4]) {
			continue
		}
		values, err := e.Inputs.Unpack(data[4:])
		if err != nil {
			return nil, fmt.Errorf("unpack %s: %w", name, err)
		}
		decoded := &irs.DecodedRevert{Name: name}
		switch name {
		case "MarginRequirementNotMet":
			ints, err := bigInts(values, 6)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
			decoded.MarginRequirement = ints[0]
			decoded.Tick = int32(ints[1].Int64())
			decoded.FixedTokenDelta = ints[2]
			decoded.VariableTokenDelta = ints[3]
			decoded.HasSwapInfo = true
		case "MarginLessThanMinimum":
			ints, err := bigInts(values, 1)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
			decoded.MarginRequirement = ints[0]
		}
		return decoded, nil
	}

	return nil, fmt.Errorf("%w %s", ErrUnknownRevert, hexutil.Encode(data[:4]))
}
