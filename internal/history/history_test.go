package history

import (
	"context"
	"encoding/csv"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"irs-keeper/internal/irs"
)

type fakeChain struct{ latest uint64 }

func (f fakeChain) BlockNumber(context.Context) (uint64, error) { return f.latest, nil }
func (f fakeChain) BlockTime(_ context.Context, n uint64) (uint64, error) {
	return 1_600_000_000 + n*12, nil
}

type fakeQuoter struct {
	tick      int32
	failBlock uint64
	swaps     []irs.SwapParams
}

func (f *fakeQuoter) CurrentTick(_ context.Context, _ common.Address, block *big.Int) (int32, error) {
	if block.Uint64() == f.failBlock {
		return 0, errors.New("header not found")
	}
	return f.tick, nil
}

func (f *fakeQuoter) SimulateSwap(_ context.Context, params irs.SwapParams, _ *big.Int) (irs.SwapResult, error) {
	f.swaps = append(f.swaps, params)
	if params.Notional.Cmp(big.NewInt(1_000_000_000_000_000000)) == 0 {
		// exhausting swaps revert with the post-swap state attached
		delta := big.NewInt(-2_500_000_000)
		if !params.IsFT {
			delta = big.NewInt(1_000_000_000)
		}
		return irs.SwapResult{Revert: &irs.DecodedRevert{
			Name: "MarginRequirementNotMet", HasSwapInfo: true, VariableTokenDelta: delta, Tick: f.tick,
		}}, nil
	}
	return irs.SwapResult{Outcome: &irs.SwapOutcome{VariableTokenDelta: big.NewInt(1), TickAfter: f.tick}}, nil
}

func TestRangeClampsToDeploymentAndLatest(t *testing.T) {
	from, to, err := Range(Options{DeploymentBlock: 100, FromBlock: 50, ToBlock: 500}, 300)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), from)
	assert.Equal(t, uint64(300), to)

	_, _, err = Range(Options{DeploymentBlock: 400}, 300)
	assert.Error(t, err)
}

func TestTickToFixedRate(t *testing.T) {
	assert.InDelta(t, 1.0, TickToFixedRate(0), 1e-12)
	assert.InDelta(t, 2.0, TickToFixedRate(-6932), 1e-3)
}

func TestSamplerRunSkipsFailedBlocks(t *testing.T) {
	quoter := &fakeQuoter{tick: -6932, failBlock: 110}
	s := NewSampler(fakeChain{latest: 130}, quoter, zerolog.Nop())

	var rows []Row
	summary, err := s.Run(context.Background(), Options{
		MarginEngine:    common.HexToAddress("0xe1"),
		DeploymentBlock: 100,
		Interval:        10,
		Decimals:        6,
	}, func(r Row) error {
		rows = append(rows, r)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, Summary{FromBlock: 100, ToBlock: 130, Sampled: 3, Skipped: 1}, summary)
	require.Len(t, rows, 3)
	assert.Equal(t, []uint64{100, 120, 130}, []uint64{rows[0].Block, rows[1].Block, rows[2].Block})

	row := rows[0]
	assert.Equal(t, uint64(1_600_001_200), row.Timestamp)
	assert.Equal(t, "0.020000", row.FixedRate.StringFixed(6))
	assert.Equal(t, "2500", row.FT.Available.String())
	assert.Equal(t, "1000", row.VT.Available.String())
	require.Len(t, row.FT.Slippage, 4)
	assert.True(t, row.FT.Slippage[0].IsZero())

	// 10 swaps per block: both sides, five notionals, fixed ticks and limits
	first := quoter.swaps[:10]
	assert.True(t, first[0].IsFT)
	assert.Equal(t, sqrtLimitFT, first[0].SqrtPriceLimitX96)
	assert.Equal(t, sqrtLimitVT, first[5].SqrtPriceLimitX96)
	assert.Equal(t, big.NewInt(10_000_000), first[1].Notional)
	assert.Equal(t, int32(60), first[1].TickUpper)
}

func TestSamplerUnquotableRevertSkipsBlock(t *testing.T) {
	quoter := &revertingQuoter{}
	s := NewSampler(fakeChain{latest: 20}, quoter, zerolog.Nop())

	summary, err := s.Run(context.Background(), Options{DeploymentBlock: 10, Interval: 10}, func(Row) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Sampled)
	assert.Equal(t, 2, summary.Skipped)
}

type revertingQuoter struct{}

func (revertingQuoter) CurrentTick(context.Context, common.Address, *big.Int) (int32, error) {
	return 0, nil
}

func (revertingQuoter) SimulateSwap(context.Context, irs.SwapParams, *big.Int) (irs.SwapResult, error) {
	return irs.SwapResult{Revert: &irs.DecodedRevert{Name: "LOK"}}, nil
}

func TestCSVWriterHeaderOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history", "engine.csv")
	slippage := []decimal.Decimal{decimal.Zero, decimal.Zero, decimal.Zero, decimal.Zero}
	row := Row{
		Block:     1,
		Timestamp: 2,
		FT:        Side{Available: decimal.NewFromInt(5), Slippage: slippage},
		VT:        Side{Available: decimal.NewFromInt(7), Slippage: slippage},
	}

	for i := 0; i < 2; i++ {
		w, err := OpenCSV(path)
		require.NoError(t, err)
		require.NoError(t, w.Write(row))
		require.NoError(t, w.Close())
	}

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, Header, records[0])
	assert.Equal(t, "1", records[1][0])
	assert.Equal(t, "5", records[1][3])
	assert.Equal(t, "0.000000", records[2][4])
}
