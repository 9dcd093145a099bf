package storage

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"irs-keeper/internal/config"
)

func TestUnconfiguredStore(t *testing.T) {
	var s *Store
	ctx := context.Background()

	_, err := s.ListRecentRuns(ctx, 10)
	assert.ErrorIs(t, err, ErrNotConfigured)
	_, err = s.InsertScanRun(ctx, ScanRun{}, nil)
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.ErrorIs(t, s.InsertEnforcement(ctx, BufferEnforcement{}), ErrNotConfigured)
	_, _, err = s.TryAdvisoryLock(ctx, 1)
	assert.ErrorIs(t, err, ErrNotConfigured)
	_, err = s.LockOracle(ctx, common.HexToAddress("0x01"))
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.ErrorIs(t, s.Migrate(ctx), ErrNotConfigured)

	s.Close()
}

func TestNewPoolRequiresDSN(t *testing.T) {
	_, err := NewPool(context.Background(), config.DatabaseConfig{ConnMaxLifetime: time.Minute})
	assert.Error(t, err)
}

func TestOracleLockKeyStable(t *testing.T) {
	a := common.HexToAddress("0x9ea5Cfd876260eDadaB461f013c24092dDBD531d")
	b := common.HexToAddress("0x21F9151d6e06f834751b614C2Ff40Fc28811B235")

	assert.Equal(t, OracleLockKey(a), OracleLockKey(a))
	assert.NotEqual(t, OracleLockKey(a), OracleLockKey(b))
}

func TestMigrationFiles(t *testing.T) {
	names, err := MigrationFiles()
	require.NoError(t, err)
	require.NotEmpty(t, names)
	assert.Equal(t, "migrations/0001_init.sql", names[0])
}

func TestNumericNilIsZero(t *testing.T) {
	n := numeric(nil)
	assert.True(t, n.Valid)
	assert.Zero(t, n.Int.Sign())

	n = numeric(big.NewInt(-7))
	assert.Equal(t, int64(-7), n.Int.Int64())
}
