package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"irs-keeper/internal/irs"
)

func wad(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000_000_000_000_000))
}

func liquidationNote() Notification {
	return Notification{
		Kind:    KindLiquidation,
		Network: "mainnet",
		Round:   time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
		Positions: []PositionAlert{{
			Position: irs.Position{
				Owner:        common.HexToAddress("0xa1"),
				MarginEngine: common.HexToAddress("0xe1"),
				TickLower:    -60,
				TickUpper:    60,
			},
			Margin:               wad(1),
			LiquidationThreshold: wad(2),
		}},
		BatchPath: "liquidatePositions.json",
	}
}

func TestTelegramNotifierSuccess(t *testing.T) {
	received := make(map[string]string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/bottoken/sendMessage")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, zerolog.Nop())
	require.NoError(t, notifier.Notify(context.Background(), liquidationNote()))

	assert.Equal(t, "chat", received["chat_id"])
	assert.Contains(t, received["text"], "1 liquidatable positions on mainnet")
	assert.Contains(t, received["text"], "margin 1.000000 <= liquidation 2.000000")
}

func TestTelegramNotifierError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, zerolog.Nop())
	assert.Error(t, notifier.Notify(context.Background(), liquidationNote()))
}

func TestTelegramNotifierHTTPStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, zerolog.Nop())
	assert.ErrorContains(t, notifier.Notify(context.Background(), liquidationNote()), "429")
}

func TestRenderEnforcementMessage(t *testing.T) {
	text := RenderMessage(Notification{
		Kind:    KindEnforcement,
		Network: "arbitrum",
		Failures: []EnforcementAlert{{
			Name: "aave-usdc", Oracle: "0x01", Kind: "inconsistent_state", Err: "expected 100 got 107",
		}},
	})
	assert.True(t, strings.HasPrefix(text, "[IRS keeper] buffer enforcement failed on arbitrum"))
	assert.Contains(t, text, "aave-usdc (0x01) inconsistent_state: expected 100 got 107")
}

type countingNotifier struct {
	calls int
	err   error
}

func (c *countingNotifier) Notify(context.Context, Notification) error {
	c.calls++
	return c.err
}

func TestThrottledSuppressesRepeatsWithinCooldown(t *testing.T) {
	inner := &countingNotifier{}
	th := NewThrottled(inner, time.Hour)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	th.now = func() time.Time { return now }

	note := liquidationNote()
	require.NoError(t, th.Notify(context.Background(), note))
	require.NoError(t, th.Notify(context.Background(), note))
	assert.Equal(t, 1, inner.calls)

	other := note
	other.Network = "arbitrum"
	require.NoError(t, th.Notify(context.Background(), other))
	assert.Equal(t, 2, inner.calls)

	now = now.Add(2 * time.Hour)
	require.NoError(t, th.Notify(context.Background(), note))
	assert.Equal(t, 3, inner.calls)
}

func TestThrottledRetriesFailedDelivery(t *testing.T) {
	inner := &countingNotifier{err: errors.New("down")}
	th := NewThrottled(inner, time.Hour)

	assert.Error(t, th.Notify(context.Background(), liquidationNote()))
	inner.err = nil
	require.NoError(t, th.Notify(context.Background(), liquidationNote()))
	assert.Equal(t, 2, inner.calls)
}
