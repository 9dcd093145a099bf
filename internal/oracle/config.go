package oracle

import (
	"fmt"
	"math"
	"math/big"

	"github.com/shopspring/decimal"

	"irs-keeper/internal/irs"
)

const (
	// MaxGrowthPerCall caps how many slots one growth transaction may add.
	// Larger steps can exceed the block gas limit.
	MaxGrowthPerCall uint64 = 100

	// MaxBufferSize is the largest cardinality the oracle's uint16 slot holds.
	MaxBufferSize uint64 = math.MaxUint16
)

// SafetyFactor is how much longer than the longest swap the buffer must last.
var SafetyFactor = decimal.RequireFromString("1.2")

// BufferConfig is the desired observation-buffer configuration of one oracle.
type BufferConfig struct {
	MinBufferSize             uint64
	MinSecondsSinceLastUpdate uint64
	MaxDurationSeconds        uint64
}

// CheckBufferConfig verifies that a buffer of MinBufferSize observations spaced
// at least MinSecondsSinceLastUpdate apart covers MaxDurationSeconds with the
// safety factor applied.
func CheckBufferConfig(cfg BufferConfig) error {
	if cfg.MinBufferSize == 0 {
		return &irs.ConfigurationError{Reason: "minimum buffer size must be greater than zero"}
	}
	if cfg.MinBufferSize > MaxBufferSize {
		return &irs.ConfigurationError{Reason: fmt.Sprintf("minimum buffer size %d exceeds the oracle maximum of %d", cfg.MinBufferSize, MaxBufferSize)}
	}
	if cfg.MinSecondsSinceLastUpdate == 0 {
		return &irs.ConfigurationError{Reason: "minimum seconds since last update must be greater than zero"}
	}
	if cfg.MaxDurationSeconds == 0 {
		return &irs.ConfigurationError{Reason: "maximum swap duration must be greater than zero"}
	}

	covered := decimalFromUint(cfg.MinBufferSize).Mul(decimalFromUint(cfg.MinSecondsSinceLastUpdate))
	required := decimalFromUint(cfg.MaxDurationSeconds).Mul(SafetyFactor)
	if covered.LessThan(required) {
		return &irs.ConfigurationError{Reason: fmt.Sprintf(
			"buffer config of {size %d, minGap %ds} covers %ss, below %ss required for a swap of duration %ds",
			cfg.MinBufferSize, cfg.MinSecondsSinceLastUpdate, covered.String(), required.String(), cfg.MaxDurationSeconds,
		)}
	}
	return nil
}

// PlanGrowth lists the growth targets needed to move a buffer from current to
// at least min, never adding more than step slots per call.
func PlanGrowth(current, min, step uint64) []uint64 {
	if step == 0 {
		step = MaxGrowthPerCall
	}
	var targets []uint64
	for current < min {
		current = nextGrowthTarget(current, min, step)
		targets = append(targets, current)
	}
	return targets
}

func nextGrowthTarget(current, min, step uint64) uint64 {
	if min-current > step {
		return current + step
	}
	return min
}

func decimalFromUint(v uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(v), 0)
}
