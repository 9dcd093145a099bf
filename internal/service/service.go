package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"irs-keeper/internal/alerting"
	"irs-keeper/internal/batch"
	"irs-keeper/internal/irs"
	"irs-keeper/internal/liquidation"
	"irs-keeper/internal/oracle"
	"irs-keeper/internal/positions"
	"irs-keeper/internal/scheduler"
	"irs-keeper/internal/storage"
)

// BufferEnforcer enforces rate oracle buffers.
type BufferEnforcer interface {
	EnforceAll(ctx context.Context, targets []oracle.Target) []oracle.Report
}

// LiquidationScanner assesses positions.
type LiquidationScanner interface {
	Scan(ctx context.Context, positions []irs.Position) (*liquidation.Report, error)
}

// PositionTracker records discovered positions.
type PositionTracker interface {
	UpsertPositions(ctx context.Context, network string, positions []irs.Position) (int64, error)
}

// Deps wires the keeper's collaborators. Stores, tracker, notifier and
// locker are optional.
type Deps struct {
	Network      string
	Scheduler    *scheduler.Scheduler
	Enforcer     BufferEnforcer
	Targets      []oracle.Target
	Enforce      bool
	Scanner      LiquidationScanner
	Source       positions.Source
	Tracker      PositionTracker
	Runs         storage.ScanRunStore
	Enforcements storage.EnforcementStore
	Notifier     alerting.Notifier
	Locker       storage.AdvisoryLocker
	LockKey      int64
	BatchPath    string
	Batch        batch.Options
}

// Service orchestrates keeper rounds: buffer enforcement, liquidation
// scanning, batch output, persistence and alerting.
type Service struct {
	deps   Deps
	logger zerolog.Logger
}

// New constructs the keeper service.
func New(deps Deps, logger zerolog.Logger) *Service {
	return &Service{deps: deps, logger: logger.With().Str("component", "service").Logger()}
}

// Run begins the aligned round loop.
func (s *Service) Run(ctx context.Context) error {
	if s.deps.Scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.deps.Scheduler.Run(ctx, s.ProcessRound)
}

// ProcessRound executes one keeper round under the advisory lock. A round
// already held elsewhere is skipped.
func (s *Service) ProcessRound(ctx context.Context, round time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("round", round).Msg("skip round because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	var errs []error
	if s.deps.Enforce {
		if reports := s.Enforce(ctx, round); failed(reports) > 0 {
			errs = append(errs, fmt.Errorf("%d of %d oracles failed enforcement", failed(reports), len(reports)))
		}
	}
	if _, err := s.Scan(ctx, round); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Enforce runs buffer enforcement for every configured oracle, persists the
// outcomes and alerts on failures.
func (s *Service) Enforce(ctx context.Context, round time.Time) []oracle.Report {
	if s.deps.Enforcer == nil || len(s.deps.Targets) == 0 {
		s.logger.Debug().Msg("no rate oracles configured; skipping enforcement")
		return nil
	}

	reports := s.deps.Enforcer.EnforceAll(ctx, s.deps.Targets)

	var alerts []alerting.EnforcementAlert
	for _, r := range reports {
		if s.deps.Enforcements != nil {
			if err := s.deps.Enforcements.InsertEnforcement(ctx, EnforcementRecord(s.deps.Network, r)); err != nil {
				s.logger.Error().Err(err).Str("oracle", r.Name).Msg("failed to persist enforcement")
			}
		}
		if r.Err != nil {
			alerts = append(alerts, alerting.EnforcementAlert{
				Name:   r.Name,
				Oracle: r.Oracle.Hex(),
				Kind:   oracle.ErrorKind(r.Err),
				Err:    r.Err.Error(),
			})
		}
	}

	if len(alerts) > 0 {
		s.notify(ctx, alerting.Notification{
			Kind:     alerting.KindEnforcement,
			Network:  s.deps.Network,
			Round:    round,
			Failures: alerts,
		})
	}
	return reports
}

// Scan loads candidate positions, scans them, writes the batch artifact,
// persists the run and alerts on liquidatable positions.
func (s *Service) Scan(ctx context.Context, round time.Time) (*liquidation.Report, error) {
	if s.deps.Scanner == nil || s.deps.Source == nil {
		return nil, fmt.Errorf("liquidation scanner not configured")
	}

	candidates, err := positions.Load(ctx, s.deps.Source)
	if err != nil {
		return nil, fmt.Errorf("load positions: %w", err)
	}
	if s.deps.Tracker != nil {
		if added, err := s.deps.Tracker.UpsertPositions(ctx, s.deps.Network, candidates); err != nil {
			s.logger.Error().Err(err).Msg("failed to track positions")
		} else if added > 0 {
			s.logger.Info().Int64("added", added).Msg("new positions tracked")
		}
	}

	report, err := s.deps.Scanner.Scan(ctx, candidates)
	if err != nil {
		return nil, fmt.Errorf("scan positions: %w", err)
	}

	var batchPath *string
	if s.deps.BatchPath != "" {
		if err := batch.Write(s.deps.BatchPath, report.Batches, s.deps.Batch); err != nil {
			return report, fmt.Errorf("write liquidation batch: %w", err)
		}
		path := s.deps.BatchPath
		batchPath = &path
	}

	if s.deps.Runs != nil {
		run, assessments := ScanRunRecord(s.deps.Network, report, batchPath)
		if _, err := s.deps.Runs.InsertScanRun(ctx, run, assessments); err != nil {
			s.logger.Error().Err(err).Msg("failed to persist scan run")
		}
	}

	s.logger.Info().
		Time("round", round).
		Int("positions", report.Positions).
		Int("danger", report.Count(liquidation.StatusDanger)).
		Int("warning", report.Count(liquidation.StatusWarning)).
		Int("liquidatable", report.Liquidatable()).
		Int("position_failures", len(report.PositionFailures)).
		Int("engine_failures", len(report.EngineFailures)).
		Msg("scan recorded")

	if report.Liquidatable() > 0 {
		note := alerting.Notification{
			Kind:    alerting.KindLiquidation,
			Network: s.deps.Network,
			Round:   round,
		}
		if batchPath != nil {
			note.BatchPath = *batchPath
		}
		for _, a := range report.Assessments {
			if a.Liquidatable() {
				note.Positions = append(note.Positions, alerting.PositionAlert{
					Position:             a.Position,
					Margin:               a.CurrentMargin,
					LiquidationThreshold: a.LiquidationThreshold,
				})
			}
		}
		s.notify(ctx, note)
	}
	return report, nil
}

func (s *Service) notify(ctx context.Context, note alerting.Notification) {
	if s.deps.Notifier == nil {
		return
	}
	if err := s.deps.Notifier.Notify(ctx, note); err != nil {
		s.logger.Error().Err(err).Str("kind", string(note.Kind)).Msg("failed to dispatch alert")
	}
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.deps.LockKey == 0 || s.deps.Locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.deps.Locker.TryAdvisoryLock(ctx, s.deps.LockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}

func failed(reports []oracle.Report) int {
	n := 0
	for _, r := range reports {
		if r.Err != nil {
			n++
		}
	}
	return n
}
