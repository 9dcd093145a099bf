package service

import (
	"irs-keeper/internal/liquidation"
	"irs-keeper/internal/oracle"
	"irs-keeper/internal/storage"
)

// EnforcementRecord converts an enforcement report for persistence.
func EnforcementRecord(network string, r oracle.Report) storage.BufferEnforcement {
	rec := storage.BufferEnforcement{
		Network:         network,
		OracleName:      r.Name,
		Oracle:          r.Oracle.Hex(),
		InitialSize:     r.InitialSize,
		FinalSize:       r.FinalSize,
		InitialInterval: r.InitialInterval,
		FinalInterval:   r.FinalInterval,
		DryRun:          r.DryRun,
	}
	for _, h := range r.TxHashes {
		rec.TxHashes = append(rec.TxHashes, h.Hex())
	}
	if r.Err != nil {
		msg := r.Err.Error()
		rec.Error = &msg
	}
	return rec
}

// ScanRunRecord converts a scan report for persistence.
func ScanRunRecord(network string, report *liquidation.Report, batchPath *string) (storage.ScanRun, []storage.PositionAssessment) {
	run := storage.ScanRun{
		Network:          network,
		StartedAt:        report.StartedAt,
		Duration:         report.Duration,
		Positions:        report.Positions,
		Healthy:          report.Count(liquidation.StatusHealthy),
		Warning:          report.Count(liquidation.StatusWarning),
		Danger:           report.Count(liquidation.StatusDanger),
		Liquidatable:     report.Liquidatable(),
		PositionFailures: len(report.PositionFailures),
		EngineFailures:   len(report.EngineFailures),
		BatchPath:        batchPath,
	}

	assessments := make([]storage.PositionAssessment, 0, len(report.Assessments))
	for _, a := range report.Assessments {
		assessments = append(assessments, storage.PositionAssessment{
			Position:             a.Position,
			Margin:               a.CurrentMargin,
			LiquidationThreshold: a.LiquidationThreshold,
			SafetyThreshold:      a.SafetyThreshold,
			Status:               string(a.Status),
		})
	}
	return run, assessments
}
