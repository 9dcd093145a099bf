package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const (
	rateOracleABIJSON = `[
{"inputs":[],"name":"oracleVars","outputs":[{"internalType":"uint16","name":"rateIndex","type":"uint16"},{"internalType":"uint16","name":"rateCardinality","type":"uint16"},{"internalType":"uint16","name":"rateCardinalityNext","type":"uint16"}],"stateMutability":"view","type":"function"},
{"inputs":[],"name":"minSecondsSinceLastUpdate","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
{"inputs":[{"internalType":"uint16","name":"rateCardinalityNext","type":"uint16"}],"name":"increaseObservationCardinalityNext","outputs":[],"stateMutability":"nonpayable","type":"function"},
{"inputs":[{"internalType":"uint256","name":"_minSecondsSinceLastUpdate","type":"uint256"}],"name":"setMinSecondsSinceLastUpdate","outputs":[],"stateMutability":"nonpayable","type":"function"}
]`

	marginEngineABIJSON = `[
{"inputs":[{"internalType":"address","name":"_recipient","type":"address"},{"internalType":"int24","name":"_tickLower","type":"int24"},{"internalType":"int24","name":"_tickUpper","type":"int24"},{"internalType":"bool","name":"_isLM","type":"bool"}],"name":"getPositionMarginRequirement","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"nonpayable","type":"function"},
{"inputs":[{"internalType":"address","name":"_owner","type":"address"},{"internalType":"int24","name":"_tickLower","type":"int24"},{"internalType":"int24","name":"_tickUpper","type":"int24"}],"name":"getPosition","outputs":[{"internalType":"bool","name":"isSettled","type":"bool"},{"internalType":"uint128","name":"liquidity","type":"uint128"},{"internalType":"int256","name":"margin","type":"int256"},{"internalType":"int256","name":"fixedTokenGrowthInsideLastX128","type":"int256"},{"internalType":"int256","name":"variableTokenGrowthInsideLastX128","type":"int256"},{"internalType":"int256","name":"fixedTokenBalance","type":"int256"},{"internalType":"int256","name":"variableTokenBalance","type":"int256"},{"internalType":"uint256","name":"feeGrowthInsideLastX128","type":"uint256"},{"internalType":"uint256","name":"rewardPerAmount","type":"uint256"},{"internalType":"uint256","name":"accumulatedFees","type":"uint256"}],"stateMutability":"nonpayable","type":"function"},
{"inputs":[],"name":"vamm","outputs":[{"internalType":"contract IVAMM","name":"","type":"address"}],"stateMutability":"view","type":"function"},
{"inputs":[],"name":"underlyingToken","outputs":[{"internalType":"contract IERC20Minimal","name":"","type":"address"}],"stateMutability":"view","type":"function"},
{"inputs":[{"internalType":"address","name":"_owner","type":"address"},{"internalType":"int24","name":"_tickLower","type":"int24"},{"internalType":"int24","name":"_tickUpper","type":"int24"}],"name":"liquidatePosition","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"nonpayable","type":"function"}
]`

	peripheryABIJSON = `[
{"inputs":[{"internalType":"contract IMarginEngine","name":"marginEngine","type":"address"}],"name":"getCurrentTick","outputs":[{"internalType":"int24","name":"currentTick","type":"int24"}],"stateMutability":"view","type":"function"},
{"inputs":[{"components":[{"internalType":"contract IMarginEngine","name":"marginEngine","type":"address"},{"internalType":"bool","name":"isFT","type":"bool"},{"internalType":"uint256","name":"notional","type":"uint256"},{"internalType":"uint160","name":"sqrtPriceLimitX96","type":"uint160"},{"internalType":"int24","name":"tickLower","type":"int24"},{"internalType":"int24","name":"tickUpper","type":"int24"},{"internalType":"uint256","name":"marginDelta","type":"uint256"}],"internalType":"struct IPeriphery.SwapPeripheryParams","name":"params","type":"tuple"}],"name":"swap","outputs":[{"internalType":"int256","name":"_fixedTokenDelta","type":"int256"},{"internalType":"int256","name":"_variableTokenDelta","type":"int256"},{"internalType":"uint256","name":"_cumulativeFeeIncurred","type":"uint256"},{"internalType":"int256","name":"_fixedTokenDeltaUnbalanced","type":"int256"},{"internalType":"int256","name":"_marginRequirement","type":"int256"},{"internalType":"int24","name":"_tickAfter","type":"int24"}],"stateMutability":"nonpayable","type":"function"},
{"inputs":[{"internalType":"int256","name":"marginRequirement","type":"int256"},{"internalType":"int24","name":"tick","type":"int24"},{"internalType":"int256","name":"fixedTokenDelta","type":"int256"},{"internalType":"int256","name":"variableTokenDelta","type":"int256"},{"internalType":"uint256","name":"cumulativeFeeIncurred","type":"uint256"},{"internalType":"int256","name":"fixedTokenDeltaUnbalanced","type":"int256"}],"name":"MarginRequirementNotMet","type":"error"},
{"inputs":[{"internalType":"int256","name":"marginRequirement","type":"int256"}],"name":"MarginLessThanMinimum","type":"error"},
{"inputs":[],"name":"NotEnoughFunds","type":"error"},
{"inputs":[],"name":"LOK","type":"error"}
]`

	erc20ABIJSON = `[{"inputs":[],"name":"decimals","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],"stateMutability":"view","type":"function"}]`
)

var (
	rateOracleABI   abi.ABI
	marginEngineABI abi.ABI
	peripheryABI    abi.ABI
	erc20ABI        abi.ABI
)

func init() {
	rateOracleABI = mustParseABI("rate oracle", rateOracleABIJSON)
	marginEngineABI = mustParseABI("margin engine", marginEngineABIJSON)
	peripheryABI = mustParseABI("periphery", peripheryABIJSON)
	erc20ABI = mustParseABI("erc20", erc20ABIJSON)
}

func mustParseABI(name, raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic("failed to parse " + name + " ABI: " + err.Error())
	}
	return parsed
}

// MarginEngineABI exposes the margin engine ABI for calldata encoding.
func MarginEngineABI() abi.ABI {
	return marginEngineABI
}
