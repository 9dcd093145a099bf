package app

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"irs-keeper/internal/config"
	"irs-keeper/internal/storage"
)

func testApp(oracles ...config.RateOracleConfig) *App {
	cfg := &config.Config{
		Network: "mainnet",
		Networks: map[string]config.NetworkConfig{
			"mainnet": {
				RPCURL:      "http://localhost:8545",
				RateOracles: oracles,
				DeploymentBlocks: map[string]uint64{
					"0x00000000000000000000000000000000000000e2": 200,
					"0x00000000000000000000000000000000000000e1": 100,
				},
			},
		},
	}
	return NewApp(cfg, zerolog.Nop())
}

func runsAt(n int) []storage.ScanRun {
	runs := make([]storage.ScanRun, n)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range runs {
		runs[i] = storage.ScanRun{StartedAt: start.Add(time.Duration(i) * time.Minute), Positions: i}
	}
	return runs
}

func TestDownsampleRunsKeepsEndpoints(t *testing.T) {
	runs := runsAt(10)
	out := downsampleRuns(runs, 4)
	require.Len(t, out, 4)
	assert.Equal(t, 0, out[0].Positions)
	assert.Equal(t, 9, out[3].Positions)

	assert.Len(t, downsampleRuns(runs, 20), 10)
	assert.Equal(t, 9, downsampleRuns(runs, 1)[0].Positions)
}

func TestWriteRunsCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "runs.csv")
	runs := runsAt(2)
	runs[1].Danger = 3
	runs[1].Liquidatable = 2
	runs[1].Duration = 1500 * time.Millisecond

	require.NoError(t, writeRunsCSV(path, runs))

	fh, err := os.Open(path)
	require.NoError(t, err)
	defer fh.Close()
	records, err := csv.NewReader(fh).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "started_at", records[0][0])
	assert.Equal(t, []string{"2024-01-01T00:01:00Z", "", "1", "0", "0", "3", "2", "0", "0", "1500"}, records[2])
}

func TestWriteRunsPNGNeedsTwoRuns(t *testing.T) {
	assert.Error(t, writeRunsPNG(filepath.Join(t.TempDir(), "x.png"), runsAt(1)))
}

func TestWriteEnforcementsTable(t *testing.T) {
	msg := "read buffer state\nfailed"
	var buf bytes.Buffer
	writeEnforcements(&buf, []storage.BufferEnforcement{{
		OracleName: "aave-usdc", InitialSize: 10, FinalSize: 250, InitialInterval: 0, FinalInterval: 3600,
		TxHashes: []string{"0x1", "0x2"}, Error: &msg,
	}})
	out := buf.String()
	assert.Contains(t, out, "aave-usdc")
	assert.Contains(t, out, "10 -> 250")
	assert.Contains(t, out, "read buffer state failed")

	buf.Reset()
	writeRuns(&buf, nil)
	assert.Equal(t, "no scan runs found\n", buf.String())
}

func TestValidateConfigReportsUnsafeOracles(t *testing.T) {
	a := testApp(
		config.RateOracleConfig{Name: "safe", Address: "0x01", MinBufferSize: 500, MinSecondsSinceLastUpdate: 3600, MaxDurationSeconds: 1_000_000},
		config.RateOracleConfig{Name: "short", Address: "0x02", MinBufferSize: 100, MinSecondsSinceLastUpdate: 3600, MaxDurationSeconds: 1_000_000},
	)

	var buf bytes.Buffer
	err := a.ValidateConfig(&buf)
	assert.ErrorContains(t, err, "1 of 2 rate oracles")
	assert.Contains(t, buf.String(), "<= 5")
	assert.Contains(t, buf.String(), "below")
}

func TestHistoryEnginesDefaultsToDeployments(t *testing.T) {
	a := testApp()
	engines, err := a.historyEngines(nil)
	require.NoError(t, err)
	require.Len(t, engines, 2)
	assert.Equal(t, common.HexToAddress("0xe1"), engines[0])

	_, err = a.historyEngines([]string{"nope"})
	assert.Error(t, err)
}

func TestRestrictOracles(t *testing.T) {
	a := testApp(
		config.RateOracleConfig{Name: "a", Address: "0x01"},
		config.RateOracleConfig{Name: "b", Address: "0x02"},
	)
	require.NoError(t, a.restrictOracles([]string{"b"}))
	oracles := a.network().RateOracles
	require.Len(t, oracles, 1)
	assert.Equal(t, "b", oracles[0].Name)

	assert.ErrorContains(t, a.restrictOracles([]string{"c"}), `rate oracle "c" not configured`)
}
