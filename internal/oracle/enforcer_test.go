package oracle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"irs-keeper/internal/irs"
)

type fakeTx struct {
	hash common.Hash
	err  error
	done func()
}

func (t *fakeTx) Hash() common.Hash { return t.hash }

func (t *fakeTx) Wait(ctx context.Context) error {
	if t.err != nil {
		return t.err
	}
	if t.done != nil {
		t.done()
	}
	return nil
}

type fakeOracle struct {
	mu    sync.Mutex
	addr  common.Address
	state irs.BufferState

	reads      int
	growths    []uint64
	intervals  []uint64
	growErrAt  int
	waitErr    error
	readErrAt  int
	interferer func(target uint64) uint64
	applyGap   func(requested uint64) uint64
}

func (f *fakeOracle) Address() common.Address { return f.addr }

func (f *fakeOracle) BufferState(ctx context.Context) (irs.BufferState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	if f.readErrAt > 0 && f.reads == f.readErrAt {
		return irs.BufferState{}, errors.New("rpc unavailable")
	}
	return f.state, nil
}

func (f *fakeOracle) GrowBuffer(ctx context.Context, newSize uint64) (irs.PendingTx, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.growths = append(f.growths, newSize)
	if f.growErrAt > 0 && len(f.growths) == f.growErrAt {
		return nil, errors.New("execution reverted")
	}
	return &fakeTx{
		hash: common.BigToHash(common.Big1),
		err:  f.waitErr,
		done: func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			applied := newSize
			if f.interferer != nil {
				applied = f.interferer(newSize)
			}
			if applied > f.state.Size {
				f.state.Size = applied
			}
		},
	}, nil
}

func (f *fakeOracle) SetMinSecondsSinceLastUpdate(ctx context.Context, seconds uint64) (irs.PendingTx, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.intervals = append(f.intervals, seconds)
	return &fakeTx{
		hash: common.BigToHash(common.Big2),
		done: func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			applied := seconds
			if f.applyGap != nil {
				applied = f.applyGap(seconds)
			}
			f.state.MinInterval = applied
		},
	}, nil
}

func newTestEnforcer(opts Options) *Enforcer {
	if opts.CallTimeout == 0 {
		opts.CallTimeout = time.Second
	}
	return NewEnforcer(opts, nil, zerolog.Nop())
}

func TestEnsureRejectsUnsafeConfigWithoutNetworkCalls(t *testing.T) {
	cases := []BufferConfig{
		{MinBufferSize: 100, MinSecondsSinceLastUpdate: 3600, MaxDurationSeconds: 360000},
		{MinBufferSize: 10, MinSecondsSinceLastUpdate: 10, MaxDurationSeconds: 84},
		{MinBufferSize: 0, MinSecondsSinceLastUpdate: 10, MaxDurationSeconds: 1},
		{MinBufferSize: 500, MinSecondsSinceLastUpdate: 21600, MaxDurationSeconds: 60 * 60 * 24 * 125},
	}
	for _, cfg := range cases {
		o := &fakeOracle{addr: common.HexToAddress("0x01")}
		_, err := newTestEnforcer(Options{}).Ensure(context.Background(), o, cfg)

		var cfgErr *irs.ConfigurationError
		require.ErrorAs(t, err, &cfgErr, "config %+v", cfg)
		assert.Zero(t, o.reads)
		assert.Empty(t, o.growths)
		assert.Empty(t, o.intervals)
	}
}

func TestEnsureRejectsBufferAboveCardinalityLimit(t *testing.T) {
	o := &fakeOracle{addr: common.HexToAddress("0x0d")}
	cfg := BufferConfig{MinBufferSize: 70000, MinSecondsSinceLastUpdate: 3600, MaxDurationSeconds: 3600}

	_, err := newTestEnforcer(Options{}).Ensure(context.Background(), o, cfg)

	var cfgErr *irs.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, cfgErr.Error(), "exceeds the oracle maximum")
	assert.Zero(t, o.reads)
	assert.Empty(t, o.growths)
	assert.Empty(t, o.intervals)

	require.NoError(t, CheckBufferConfig(BufferConfig{MinBufferSize: MaxBufferSize, MinSecondsSinceLastUpdate: 1, MaxDurationSeconds: 1}))
}

func TestCheckBufferConfigBoundary(t *testing.T) {
	// 10 * 12 == 100 * 1.2 exactly.
	require.NoError(t, CheckBufferConfig(BufferConfig{MinBufferSize: 10, MinSecondsSinceLastUpdate: 12, MaxDurationSeconds: 100}))
	require.Error(t, CheckBufferConfig(BufferConfig{MinBufferSize: 10, MinSecondsSinceLastUpdate: 12, MaxDurationSeconds: 101}))
	// mainnet defaults: 500 observations every 6h against 92 day swaps.
	require.NoError(t, CheckBufferConfig(BufferConfig{MinBufferSize: 500, MinSecondsSinceLastUpdate: 21600, MaxDurationSeconds: 60 * 60 * 24 * 92}))
}

func TestEnsureGrowsInChunks(t *testing.T) {
	o := &fakeOracle{addr: common.HexToAddress("0x02"), state: irs.BufferState{Size: 0, MinInterval: 3600}}
	cfg := BufferConfig{MinBufferSize: 250, MinSecondsSinceLastUpdate: 3600, MaxDurationSeconds: 3600}

	report, err := newTestEnforcer(Options{}).Ensure(context.Background(), o, cfg)
	require.NoError(t, err)

	assert.Equal(t, []uint64{100, 200, 250}, o.growths)
	assert.Equal(t, []uint64{100, 200, 250}, report.GrowthTargets)
	assert.Empty(t, o.intervals)
	assert.Equal(t, uint64(0), report.InitialSize)
	assert.Equal(t, uint64(250), report.FinalSize)
	assert.Len(t, report.TxHashes, 3)
	// one initial read plus one after each growth
	assert.Equal(t, 4, o.reads)
}

func TestEnsureIsIdempotent(t *testing.T) {
	o := &fakeOracle{addr: common.HexToAddress("0x03"), state: irs.BufferState{Size: 40, MinInterval: 100}}
	cfg := BufferConfig{MinBufferSize: 250, MinSecondsSinceLastUpdate: 3600, MaxDurationSeconds: 3600}
	enforcer := newTestEnforcer(Options{})

	first, err := enforcer.Ensure(context.Background(), o, cfg)
	require.NoError(t, err)
	assert.True(t, first.Mutated())
	assert.Equal(t, []uint64{140, 240, 250}, o.growths)
	assert.Equal(t, []uint64{3600}, o.intervals)

	second, err := enforcer.Ensure(context.Background(), o, cfg)
	require.NoError(t, err)
	assert.False(t, second.Mutated())
	assert.Len(t, o.growths, 3)
	assert.Len(t, o.intervals, 1)
	assert.Equal(t, uint64(250), second.FinalSize)
	assert.Equal(t, uint64(3600), second.FinalInterval)
}

func TestEnsureLargerBufferIsLeftAlone(t *testing.T) {
	o := &fakeOracle{addr: common.HexToAddress("0x04"), state: irs.BufferState{Size: 1000, MinInterval: 3600}}
	cfg := BufferConfig{MinBufferSize: 250, MinSecondsSinceLastUpdate: 3600, MaxDurationSeconds: 3600}

	report, err := newTestEnforcer(Options{}).Ensure(context.Background(), o, cfg)
	require.NoError(t, err)
	assert.Empty(t, o.growths)
	assert.Equal(t, uint64(1000), report.FinalSize)
}

func TestEnsureWriteFailureIsFatalAndKeepsProgress(t *testing.T) {
	o := &fakeOracle{addr: common.HexToAddress("0x05"), state: irs.BufferState{Size: 0, MinInterval: 1}, growErrAt: 2}
	cfg := BufferConfig{MinBufferSize: 250, MinSecondsSinceLastUpdate: 3600, MaxDurationSeconds: 3600}

	report, err := newTestEnforcer(Options{}).Ensure(context.Background(), o, cfg)

	var writeErr *irs.RemoteWriteError
	require.ErrorAs(t, err, &writeErr)
	assert.Equal(t, "increaseObservationCardinalityNext", writeErr.Op)
	assert.Equal(t, []uint64{100, 200}, o.growths, "no retry after the failed call")
	assert.Equal(t, uint64(100), o.state.Size)
	assert.Equal(t, uint64(100), report.FinalSize)
	assert.Empty(t, o.intervals)
}

func TestEnsureUnconfirmedTransactionIsWriteError(t *testing.T) {
	o := &fakeOracle{addr: common.HexToAddress("0x06"), waitErr: errors.New("transaction reverted")}
	cfg := BufferConfig{MinBufferSize: 50, MinSecondsSinceLastUpdate: 3600, MaxDurationSeconds: 3600}

	report, err := newTestEnforcer(Options{}).Ensure(context.Background(), o, cfg)

	var writeErr *irs.RemoteWriteError
	require.ErrorAs(t, err, &writeErr)
	assert.NotEqual(t, common.Hash{}, writeErr.TxHash)
	assert.Len(t, report.TxHashes, 1)
}

func TestEnsureReadFailureIsFatal(t *testing.T) {
	o := &fakeOracle{addr: common.HexToAddress("0x07"), readErrAt: 2}
	cfg := BufferConfig{MinBufferSize: 250, MinSecondsSinceLastUpdate: 3600, MaxDurationSeconds: 3600}

	report, err := newTestEnforcer(Options{}).Ensure(context.Background(), o, cfg)

	var readErr *irs.RemoteReadError
	require.ErrorAs(t, err, &readErr)
	assert.Len(t, o.growths, 1)
	assert.Equal(t, uint64(100), report.FinalSize)
}

func TestEnsureReadFailureAfterGrowthKeepsInterval(t *testing.T) {
	o := &fakeOracle{addr: common.HexToAddress("0x0e"), state: irs.BufferState{Size: 0, MinInterval: 900}, readErrAt: 2}
	cfg := BufferConfig{MinBufferSize: 250, MinSecondsSinceLastUpdate: 3600, MaxDurationSeconds: 3600}

	report, err := newTestEnforcer(Options{}).Ensure(context.Background(), o, cfg)

	var readErr *irs.RemoteReadError
	require.ErrorAs(t, err, &readErr)
	assert.Equal(t, uint64(900), report.InitialInterval)
	assert.Equal(t, uint64(900), report.FinalInterval)
	assert.Empty(t, o.intervals)
}

func TestEnsureDetectsIntervalMismatch(t *testing.T) {
	o := &fakeOracle{
		addr:     common.HexToAddress("0x0f"),
		state:    irs.BufferState{Size: 500, MinInterval: 60},
		applyGap: func(requested uint64) uint64 { return requested / 2 },
	}
	cfg := BufferConfig{MinBufferSize: 500, MinSecondsSinceLastUpdate: 3600, MaxDurationSeconds: 3600}

	report, err := newTestEnforcer(Options{}).Ensure(context.Background(), o, cfg)

	var stateErr *irs.InconsistentStateError
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, "min seconds since last update", stateErr.Field)
	assert.Equal(t, uint64(3600), stateErr.Expected)
	assert.Equal(t, uint64(1800), stateErr.Actual)
	assert.Equal(t, []uint64{3600}, o.intervals)
	assert.Empty(t, o.growths)
	assert.Equal(t, uint64(1800), report.FinalInterval)
	assert.Len(t, report.TxHashes, 1)
}

func TestEnsureDetectsConcurrentWriter(t *testing.T) {
	o := &fakeOracle{
		addr:       common.HexToAddress("0x08"),
		interferer: func(target uint64) uint64 { return target + 7 },
	}
	cfg := BufferConfig{MinBufferSize: 250, MinSecondsSinceLastUpdate: 3600, MaxDurationSeconds: 3600}

	_, err := newTestEnforcer(Options{}).Ensure(context.Background(), o, cfg)

	var stateErr *irs.InconsistentStateError
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, uint64(100), stateErr.Expected)
	assert.Equal(t, uint64(107), stateErr.Actual)
	assert.Len(t, o.growths, 1)
}

func TestEnsureDryRunDoesNotWrite(t *testing.T) {
	o := &fakeOracle{addr: common.HexToAddress("0x09"), state: irs.BufferState{Size: 30, MinInterval: 60}}
	cfg := BufferConfig{MinBufferSize: 250, MinSecondsSinceLastUpdate: 3600, MaxDurationSeconds: 3600}

	report, err := newTestEnforcer(Options{DryRun: true}).Ensure(context.Background(), o, cfg)
	require.NoError(t, err)
	assert.Empty(t, o.growths)
	assert.Empty(t, o.intervals)
	assert.Equal(t, []uint64{130, 230, 250}, report.GrowthTargets)
	assert.True(t, report.IntervalUpdated)
	assert.Equal(t, 1, o.reads)
}

func TestEnforceAllIsolatesFailures(t *testing.T) {
	good := &fakeOracle{addr: common.HexToAddress("0x0a")}
	bad := &fakeOracle{addr: common.HexToAddress("0x0b"), growErrAt: 1}
	cfg := BufferConfig{MinBufferSize: 120, MinSecondsSinceLastUpdate: 3600, MaxDurationSeconds: 3600}

	reports := newTestEnforcer(Options{}).EnforceAll(context.Background(), []Target{
		{Name: "good", Oracle: good, Config: cfg},
		{Name: "bad", Oracle: bad, Config: cfg},
		{Name: "unsafe", Oracle: &fakeOracle{addr: common.HexToAddress("0x0c")}, Config: BufferConfig{MinBufferSize: 1, MinSecondsSinceLastUpdate: 1, MaxDurationSeconds: 100}},
	})

	require.Len(t, reports, 3)
	assert.NoError(t, reports[0].Err)
	assert.Equal(t, "good", reports[0].Name)
	assert.Equal(t, uint64(120), good.state.Size)
	assert.Equal(t, "write", ErrorKind(reports[1].Err))
	assert.Equal(t, "configuration", ErrorKind(reports[2].Err))
	assert.Equal(t, common.HexToAddress("0x0c"), reports[2].Oracle)
}

func TestPlanGrowth(t *testing.T) {
	assert.Equal(t, []uint64{100, 200, 250}, PlanGrowth(0, 250, 0))
	assert.Equal(t, []uint64{150, 200}, PlanGrowth(50, 200, 100))
	assert.Nil(t, PlanGrowth(300, 200, 100))
}
