package liquidation

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"irs-keeper/internal/irs"
	"irs-keeper/internal/metrics"
)

// MarginEngine is the read-only margin engine surface used by the scanner.
type MarginEngine interface {
	PositionMarginRequirement(ctx context.Context, owner common.Address, tickLower, tickUpper int32, liquidation bool) (*big.Int, error)
	Position(ctx context.Context, owner common.Address, tickLower, tickUpper int32) (irs.PositionInfo, error)
	PriceCurve(ctx context.Context) (common.Address, error)
}

// EngineClient resolves margin engines by address.
type EngineClient interface {
	MarginEngine(addr common.Address) MarginEngine
}

// Options parameterise the scanner.
type Options struct {
	Concurrency       int
	RequestsPerSecond float64
	Burst             int
	CallTimeout       time.Duration
}

// Report is the full outcome of one scan.
type Report struct {
	StartedAt        time.Time
	Duration         time.Duration
	Positions        int
	Assessments      []MarginAssessment
	Batches          []LiquidationBatch
	PositionFailures []PositionFailure
	EngineFailures   []EngineFailure
}

// Count returns the number of assessments with the given status.
func (r *Report) Count(status Status) int {
	n := 0
	for _, a := range r.Assessments {
		if a.Status == status {
			n++
		}
	}
	return n
}

// Liquidatable returns the number of positions across all batches.
func (r *Report) Liquidatable() int {
	n := 0
	for _, b := range r.Batches {
		n += len(b.Positions)
	}
	return n
}

// Scanner classifies positions and groups liquidatable ones per engine.
type Scanner struct {
	client  EngineClient
	opts    Options
	limiter *rate.Limiter
	logger  zerolog.Logger
	metrics *metrics.KeeperMetrics
}

// NewScanner builds a scanner over the given engine client.
func NewScanner(client EngineClient, opts Options, logger zerolog.Logger) *Scanner {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 8
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 15 * time.Second
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}

	return &Scanner{
		client:  client,
		opts:    opts,
		limiter: limiter,
		logger:  logger.With().Str("component", "liquidation_scanner").Logger(),
		metrics: metrics.Keeper(),
	}
}

// ScanForLiquidatable returns only the liquidation batches of a scan.
func (s *Scanner) ScanForLiquidatable(ctx context.Context, positions []irs.Position) ([]LiquidationBatch, error) {
	report, err := s.Scan(ctx, positions)
	if err != nil {
		return nil, err
	}
	return report.Batches, nil
}

// Scan reads every position, classifies it, and builds per-engine batches.
// Read failures are isolated per position, or per engine when the engine's
// price curve cannot be resolved. Only cancellation of ctx aborts the scan.
func (s *Scanner) Scan(ctx context.Context, positions []irs.Position) (*Report, error) {
	report := &Report{StartedAt: time.Now().UTC()}
	positions = Dedupe(positions)
	report.Positions = len(positions)

	engines := distinctEngines(positions)
	curves, engineErrs := s.resolvePriceCurves(ctx, engines)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	assessments := make([]*MarginAssessment, len(positions))
	failures := make([]error, len(positions))

	var g errgroup.Group
	g.SetLimit(s.opts.Concurrency)
	for i, p := range positions {
		i, p := i, p
		if _, failed := engineErrs[p.MarginEngine]; failed {
			continue
		}
		engine := s.client.MarginEngine(p.MarginEngine)
		g.Go(func() error {
			a, err := s.assess(ctx, engine, p)
			if err != nil {
				failures[i] = err
				return nil
			}
			assessments[i] = &a
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for _, engine := range engines {
		if err, failed := engineErrs[engine]; failed {
			n := 0
			for _, p := range positions {
				if p.MarginEngine == engine {
					n++
				}
			}
			report.EngineFailures = append(report.EngineFailures, EngineFailure{MarginEngine: engine, Positions: n, Err: err})
			s.metrics.ReadFailure(engine.Hex(), "engine")
			s.logger.Error().Err(err).Str("margin_engine", engine.Hex()).Int("positions", n).Msg("margin engine skipped")
		}
	}

	for i, p := range positions {
		if failures[i] != nil {
			report.PositionFailures = append(report.PositionFailures, PositionFailure{Position: p, Err: failures[i]})
			s.metrics.ReadFailure(p.MarginEngine.Hex(), "position")
			s.logger.Warn().Err(failures[i]).Str("position", p.String()).Msg("position assessment failed")
			continue
		}
		if assessments[i] == nil {
			continue
		}
		a := *assessments[i]
		report.Assessments = append(report.Assessments, a)
		s.metrics.Assessment(p.MarginEngine.Hex(), string(a.Status))
	}

	report.Batches = BuildBatches(engines, curves, report.Assessments)
	for _, a := range report.Assessments {
		if a.Liquidatable() {
			s.logger.Info().
				Str("owner", a.Position.Owner.Hex()).
				Int32("tick_lower", a.Position.TickLower).
				Int32("tick_upper", a.Position.TickUpper).
				Str("margin", irs.FormatWad(a.CurrentMargin)).
				Str("liquidation_requirement", irs.FormatWad(a.LiquidationThreshold)).
				Str("safety_requirement", irs.FormatWad(a.SafetyThreshold)).
				Str("status", string(a.Status)).
				Str("margin_engine", a.Position.MarginEngine.Hex()).
				Msg("liquidatable position")
		}
	}

	report.Duration = time.Since(report.StartedAt)
	s.metrics.ScanCompleted(report.Duration, report.Liquidatable())
	s.logger.Info().
		Int("positions", report.Positions).
		Int("healthy", report.Count(StatusHealthy)).
		Int("warning", report.Count(StatusWarning)).
		Int("danger", report.Count(StatusDanger)).
		Int("liquidatable", report.Liquidatable()).
		Int("failed", len(report.PositionFailures)).
		Dur("elapsed", report.Duration).
		Msg("liquidation scan finished")

	return report, nil
}

// BuildBatches groups liquidatable assessments per engine in the given engine
// order. Engines without liquidatable positions are omitted.
func BuildBatches(engines []common.Address, curves map[common.Address]common.Address, assessments []MarginAssessment) []LiquidationBatch {
	byEngine := make(map[common.Address][]PositionKey)
	for _, a := range assessments {
		if !a.Liquidatable() {
			continue
		}
		byEngine[a.Position.MarginEngine] = append(byEngine[a.Position.MarginEngine], PositionKey{
			Owner:     a.Position.Owner,
			TickLower: a.Position.TickLower,
			TickUpper: a.Position.TickUpper,
		})
	}

	batches := make([]LiquidationBatch, 0, len(byEngine))
	for _, engine := range engines {
		keys := byEngine[engine]
		if len(keys) == 0 {
			continue
		}
		batches = append(batches, LiquidationBatch{
			MarginEngine: engine,
			PriceCurve:   curves[engine],
			Positions:    keys,
		})
	}
	return batches
}

func (s *Scanner) resolvePriceCurves(ctx context.Context, engines []common.Address) (map[common.Address]common.Address, map[common.Address]error) {
	var (
		mu     sync.Mutex
		curves = make(map[common.Address]common.Address, len(engines))
		errs   = make(map[common.Address]error)
	)

	var g errgroup.Group
	g.SetLimit(s.opts.Concurrency)
	for _, engine := range engines {
		engine := engine
		me := s.client.MarginEngine(engine)
		g.Go(func() error {
			curve, err := readWithLimit(ctx, s, func(callCtx context.Context) (common.Address, error) {
				return me.PriceCurve(callCtx)
			})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs[engine] = &irs.RemoteReadError{Op: "vamm", Target: engine, Err: err}
				return nil
			}
			curves[engine] = curve
			return nil
		})
	}
	_ = g.Wait()

	return curves, errs
}

// assess issues the three position reads concurrently.
func (s *Scanner) assess(ctx context.Context, engine MarginEngine, p irs.Position) (MarginAssessment, error) {
	var (
		safety      *big.Int
		liquidation *big.Int
		info        irs.PositionInfo
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		v, err := readWithLimit(gctx, s, func(callCtx context.Context) (*big.Int, error) {
			return engine.PositionMarginRequirement(callCtx, p.Owner, p.TickLower, p.TickUpper, false)
		})
		if err != nil {
			return &irs.RemoteReadError{Op: "getPositionMarginRequirement(safety)", Target: p.MarginEngine, Err: err}
		}
		safety = v
		return nil
	})
	g.Go(func() error {
		v, err := readWithLimit(gctx, s, func(callCtx context.Context) (*big.Int, error) {
			return engine.PositionMarginRequirement(callCtx, p.Owner, p.TickLower, p.TickUpper, true)
		})
		if err != nil {
			return &irs.RemoteReadError{Op: "getPositionMarginRequirement(liquidation)", Target: p.MarginEngine, Err: err}
		}
		liquidation = v
		return nil
	})
	g.Go(func() error {
		v, err := readWithLimit(gctx, s, func(callCtx context.Context) (irs.PositionInfo, error) {
			return engine.Position(callCtx, p.Owner, p.TickLower, p.TickUpper)
		})
		if err != nil {
			return &irs.RemoteReadError{Op: "getPosition", Target: p.MarginEngine, Err: err}
		}
		info = v
		return nil
	})
	if err := g.Wait(); err != nil {
		return MarginAssessment{}, err
	}

	if safety == nil || liquidation == nil || info.Margin == nil {
		return MarginAssessment{}, &irs.RemoteReadError{Op: "assess", Target: p.MarginEngine, Err: errors.New("empty response")}
	}

	return NewAssessment(p, info.Margin, liquidation, safety), nil
}

func readWithLimit[T any](ctx context.Context, s *Scanner, read func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := s.limiter.Wait(ctx); err != nil {
		return zero, err
	}
	callCtx, cancel := context.WithTimeout(ctx, s.opts.CallTimeout)
	defer cancel()
	return read(callCtx)
}

// Dedupe drops repeated positions, keeping first occurrences in order.
func Dedupe(positions []irs.Position) []irs.Position {
	seen := make(map[irs.Position]struct{}, len(positions))
	out := make([]irs.Position, 0, len(positions))
	for _, p := range positions {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

func distinctEngines(positions []irs.Position) []common.Address {
	seen := make(map[common.Address]struct{})
	var engines []common.Address
	for _, p := range positions {
		if _, ok := seen[p.MarginEngine]; ok {
			continue
		}
		seen[p.MarginEngine] = struct{}{}
		engines = append(engines, p.MarginEngine)
	}
	return engines
}
