package storage

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"irs-keeper/internal/irs"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	insertScanRunSQL = `INSERT INTO scan_runs (
        network,
        started_at,
        duration_ms,
        positions,
        healthy,
        warning,
        danger,
        liquidatable,
        position_failures,
        engine_failures,
        batch_path
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
    )
    RETURNING id;`

	scanRunColumns = `id,
        network,
        started_at,
        duration_ms,
        positions,
        healthy,
        warning,
        danger,
        liquidatable,
        position_failures,
        engine_failures,
        batch_path,
        created_at`

	listRunsBetweenSQL = `SELECT ` + scanRunColumns + `
    FROM scan_runs
    WHERE started_at >= $1
      AND started_at < $2
    ORDER BY started_at
    LIMIT NULLIF($3::int, 0);`

	listRecentRunsSQL = `SELECT ` + scanRunColumns + `
    FROM scan_runs
    ORDER BY started_at DESC
    LIMIT $1;`

	insertEnforcementSQL = `INSERT INTO buffer_enforcements (
        network,
        oracle_name,
        oracle,
        initial_size,
        final_size,
        initial_interval,
        final_interval,
        tx_hashes,
        dry_run,
        error
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10
    );`

	listRecentEnforcementsSQL = `SELECT
        id,
        network,
        oracle_name,
        oracle,
        initial_size,
        final_size,
        initial_interval,
        final_interval,
        tx_hashes,
        dry_run,
        error,
        created_at
    FROM buffer_enforcements
    ORDER BY created_at DESC
    LIMIT $1;`

	upsertPositionSQL = `INSERT INTO positions (
        network,
        margin_engine,
        owner,
        tick_lower,
        tick_upper
    ) VALUES (
        $1,$2,$3,$4,$5
    )
    ON CONFLICT DO NOTHING;`

	listPositionsSQL = `SELECT margin_engine, owner, tick_lower, tick_upper
    FROM positions
    WHERE network = $1
    ORDER BY first_seen, margin_engine, owner, tick_lower, tick_upper;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryLockSQL    = `SELECT pg_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

var assessmentColumns = []string{
	"run_id",
	"margin_engine",
	"owner",
	"tick_lower",
	"tick_upper",
	"margin",
	"liquidation_threshold",
	"safety_threshold",
	"status",
}

// ScanRunStore persists liquidation scans.
type ScanRunStore interface {
	InsertScanRun(ctx context.Context, run ScanRun, assessments []PositionAssessment) (int64, error)
	ListRunsBetween(ctx context.Context, from, to time.Time, limit int) ([]ScanRun, error)
	ListRecentRuns(ctx context.Context, limit int) ([]ScanRun, error)
}

// EnforcementStore persists buffer enforcement attempts.
type EnforcementStore interface {
	InsertEnforcement(ctx context.Context, e BufferEnforcement) error
	ListRecentEnforcements(ctx context.Context, limit int) ([]BufferEnforcement, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to keeper history, tracked positions and locks.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	return releaser(conn, key), true, nil
}

// LockOracle blocks until the advisory lock for an oracle is held.
func (s *Store) LockOracle(ctx context.Context, oracle common.Address) (func(), error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}

	key := OracleLockKey(oracle)
	if _, err := conn.Exec(ctx, advisoryLockSQL, key); err != nil {
		conn.Release()
		return nil, fmt.Errorf("advisory lock %s: %w", oracle.Hex(), err)
	}
	return releaser(conn, key), nil
}

// OracleLockKey derives a stable advisory lock key from an oracle address.
func OracleLockKey(oracle common.Address) int64 {
	h := crypto.Keccak256(oracle.Bytes())
	return int64(binary.BigEndian.Uint64(h[:8]))
}

func releaser(conn *pgxpool.Conn, key int64) func() {
	return func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := conn.Exec(ctxUnlock, advisoryUnlockSQL, key); err != nil {
			// the lock dies with the session
			conn.Conn().Close(ctxUnlock)
		}
		conn.Release()
	}
}

// InsertScanRun persists a run and its assessments in one transaction.
func (s *Store) InsertScanRun(ctx context.Context, run ScanRun, assessments []PositionAssessment) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin scan run: %w", err)
	}
	defer tx.Rollback(ctx)

	var batchPath interface{}
	if run.BatchPath != nil {
		batchPath = *run.BatchPath
	}

	var id int64
	if err := tx.QueryRow(ctx, insertScanRunSQL,
		run.Network,
		run.StartedAt,
		run.Duration.Milliseconds(),
		run.Positions,
		run.Healthy,
		run.Warning,
		run.Danger,
		run.Liquidatable,
		run.PositionFailures,
		run.EngineFailures,
		batchPath,
	).Scan(&id); err != nil {
		return 0, fmt.Errorf("insert scan run: %w", err)
	}

	rows := make([][]interface{}, 0, len(assessments))
	for _, a := range assessments {
		rows = append(rows, []interface{}{
			id,
			a.Position.MarginEngine.Hex(),
			a.Position.Owner.Hex(),
			a.Position.TickLower,
			a.Position.TickUpper,
			numeric(a.Margin),
			numeric(a.LiquidationThreshold),
			numeric(a.SafetyThreshold),
			a.Status,
		})
	}
	if len(rows) > 0 {
		if _, err := tx.CopyFrom(ctx, pgx.Identifier{"position_assessments"}, assessmentColumns, pgx.CopyFromRows(rows)); err != nil {
			return 0, fmt.Errorf("copy assessments: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit scan run: %w", err)
	}
	return id, nil
}

// ListRunsBetween lists runs started within a time window.
func (s *Store) ListRunsBetween(ctx context.Context, from, to time.Time, limit int) ([]ScanRun, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRunsBetweenSQL, from, to, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list runs between: %w", queryErr)
	}
	return collectRuns(rows)
}

// ListRecentRuns lists the most recent runs, newest first.
func (s *Store) ListRecentRuns(ctx context.Context, limit int) ([]ScanRun, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentRunsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent runs: %w", queryErr)
	}
	return collectRuns(rows)
}

func collectRuns(rows pgx.Rows) ([]ScanRun, error) {
	defer rows.Close()

	runs := make([]ScanRun, 0)
	for rows.Next() {
		var run ScanRun
		var durationMS int64
		if err := rows.Scan(
			&run.ID,
			&run.Network,
			&run.StartedAt,
			&durationMS,
			&run.Positions,
			&run.Healthy,
			&run.Warning,
			&run.Danger,
			&run.Liquidatable,
			&run.PositionFailures,
			&run.EngineFailures,
			&run.BatchPath,
			&run.CreatedAt,
		); err != nil {
			return nil, err
		}
		run.Duration = time.Duration(durationMS) * time.Millisecond
		runs = append(runs, run)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return runs, nil
}

// InsertEnforcement records an enforcement attempt.
func (s *Store) InsertEnforcement(ctx context.Context, e BufferEnforcement) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var errMsg interface{}
	if e.Error != nil {
		errMsg = *e.Error
	}
	hashes := e.TxHashes
	if hashes == nil {
		hashes = []string{}
	}

	if _, err := pool.Exec(ctx, insertEnforcementSQL,
		e.Network,
		e.OracleName,
		e.Oracle,
		int64(e.InitialSize),
		int64(e.FinalSize),
		int64(e.InitialInterval),
		int64(e.FinalInterval),
		hashes,
		e.DryRun,
		errMsg,
	); err != nil {
		return fmt.Errorf("insert enforcement: %w", err)
	}
	return nil
}

// ListRecentEnforcements lists recent enforcement attempts, newest first.
func (s *Store) ListRecentEnforcements(ctx context.Context, limit int) ([]BufferEnforcement, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentEnforcementsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent enforcements: %w", queryErr)
	}
	defer rows.Close()

	out := make([]BufferEnforcement, 0, limit)
	for rows.Next() {
		var e BufferEnforcement
		var initialSize, finalSize, initialInterval, finalInterval int64
		if err := rows.Scan(
			&e.ID,
			&e.Network,
			&e.OracleName,
			&e.Oracle,
			&initialSize,
			&finalSize,
			&initialInterval,
			&finalInterval,
			&e.TxHashes,
			&e.DryRun,
			&e.Error,
			&e.CreatedAt,
		); err != nil {
			return nil, err
		}
		e.InitialSize = uint64(initialSize)
		e.FinalSize = uint64(finalSize)
		e.InitialInterval = uint64(initialInterval)
		e.FinalInterval = uint64(finalInterval)
		out = append(out, e)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// UpsertPositions adds positions to the tracked set and returns how many
// were new.
func (s *Store) UpsertPositions(ctx context.Context, network string, positions []irs.Position) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}

	batch := &pgx.Batch{}
	for _, p := range positions {
		batch.Queue(upsertPositionSQL, network, p.MarginEngine.Hex(), p.Owner.Hex(), p.TickLower, p.TickUpper)
	}
	results := pool.SendBatch(ctx, batch)
	defer results.Close()

	var inserted int64
	for range positions {
		tag, err := results.Exec()
		if err != nil {
			return inserted, fmt.Errorf("upsert position: %w", err)
		}
		inserted += tag.RowsAffected()
	}
	return inserted, nil
}

// ListPositions lists tracked positions for a network.
func (s *Store) ListPositions(ctx context.Context, network string) ([]irs.Position, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listPositionsSQL, network)
	if queryErr != nil {
		return nil, fmt.Errorf("list positions: %w", queryErr)
	}
	defer rows.Close()

	var out []irs.Position
	for rows.Next() {
		var engine, owner string
		var p irs.Position
		if err := rows.Scan(&engine, &owner, &p.TickLower, &p.TickUpper); err != nil {
			return nil, err
		}
		p.MarginEngine = common.HexToAddress(engine)
		p.Owner = common.HexToAddress(owner)
		out = append(out, p)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func numeric(v *big.Int) pgtype.Numeric {
	if v == nil {
		return pgtype.Numeric{Int: new(big.Int), Valid: true}
	}
	return pgtype.Numeric{Int: v, Valid: true}
}
