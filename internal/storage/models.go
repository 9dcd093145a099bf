package storage

import (
	"math/big"
	"time"

	"irs-keeper/internal/irs"
)

// ScanRun summarises one liquidation scan.
type ScanRun struct {
	ID               int64
	Network          string
	StartedAt        time.Time
	Duration         time.Duration
	Positions        int
	Healthy          int
	Warning          int
	Danger           int
	Liquidatable     int
	PositionFailures int
	EngineFailures   int
	BatchPath        *string
	CreatedAt        time.Time
}

// PositionAssessment is one classified position of a scan run.
type PositionAssessment struct {
	Position             irs.Position
	Margin               *big.Int
	LiquidationThreshold *big.Int
	SafetyThreshold      *big.Int
	Status               string
}

// BufferEnforcement records one oracle enforcement attempt.
type BufferEnforcement struct {
	ID              int64
	Network         string
	OracleName      string
	Oracle          string
	InitialSize     uint64
	FinalSize       uint64
	InitialInterval uint64
	FinalInterval   uint64
	TxHashes        []string
	DryRun          bool
	Error           *string
	CreatedAt       time.Time
}
