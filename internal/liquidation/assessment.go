package liquidation

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"irs-keeper/internal/irs"
)

// Status is the risk classification of a position.
type Status string

const (
	StatusHealthy Status = "HEALTHY"
	StatusWarning Status = "WARNING"
	StatusDanger  Status = "DANGER"
)

// Classify derives the status from current margin and the two requirements.
func Classify(margin, liquidationThreshold, safetyThreshold *big.Int) Status {
	if margin.Cmp(liquidationThreshold) <= 0 {
		return StatusDanger
	}
	if margin.Cmp(safetyThreshold) <= 0 {
		return StatusWarning
	}
	return StatusHealthy
}

// MarginAssessment is one position's margin against its requirements.
type MarginAssessment struct {
	Position             irs.Position
	CurrentMargin        *big.Int
	LiquidationThreshold *big.Int
	SafetyThreshold      *big.Int
	Status               Status
}

// NewAssessment classifies a position.
func NewAssessment(p irs.Position, margin, liquidationThreshold, safetyThreshold *big.Int) MarginAssessment {
	return MarginAssessment{
		Position:             p,
		CurrentMargin:        margin,
		LiquidationThreshold: liquidationThreshold,
		SafetyThreshold:      safetyThreshold,
		Status:               Classify(margin, liquidationThreshold, safetyThreshold),
	}
}

// Liquidatable reports whether the position belongs in a liquidation batch.
// A zero requirement means the engine has nothing to enforce, typically a
// closed or settled position.
func (a MarginAssessment) Liquidatable() bool {
	return a.Status == StatusDanger && a.LiquidationThreshold.Sign() > 0
}

// PositionKey identifies a position inside a known margin engine.
type PositionKey struct {
	Owner     common.Address `json:"owner"`
	TickLower int32          `json:"tickLower"`
	TickUpper int32          `json:"tickUpper"`
}

// LiquidationBatch holds the liquidatable positions of one margin engine.
type LiquidationBatch struct {
	MarginEngine common.Address
	PriceCurve   common.Address
	Positions    []PositionKey
}

// PositionFailure records a position whose reads failed.
type PositionFailure struct {
	Position irs.Position
	Err      error
}

// EngineFailure records a margin engine that could not be scanned at all.
type EngineFailure struct {
	MarginEngine common.Address
	Positions    int
	Err          error
}
