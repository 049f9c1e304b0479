package perf

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/papersim/types"
)

func TestTrackerSeedsCurveWithInitialBalance(t *testing.T) {
	tr := NewTracker(decimal.NewFromInt(1000))

	curve := tr.EquityCurve()
	require.Len(t, curve, 1)
	assert.True(t, curve[0].Equal(decimal.NewFromInt(1000)))
	assert.True(t, tr.PnL().IsZero())
}

func TestTrackerUpdateEquity(t *testing.T) {
	tr := NewTracker(decimal.NewFromInt(100))

	eq := tr.UpdateEquity(decimal.NewFromInt(20))
	assert.True(t, eq.Equal(decimal.NewFromInt(120)))

	eq = tr.UpdateEquity(decimal.NewFromInt(-10))
	assert.True(t, eq.Equal(decimal.NewFromInt(90)))

	// one curve point per update, plus the seed
	assert.Len(t, tr.EquityCurve(), 3)
	assert.Len(t, tr.Returns(), 2)
	assert.True(t, tr.PnL().Equal(decimal.NewFromInt(-10)))
}

func TestTrackerMaxDrawdown(t *testing.T) {
	tr := NewTracker(decimal.NewFromInt(100))

	// curve 100 -> 120 -> 90, worst retracement (120-90)/120
	tr.UpdateEquity(decimal.NewFromInt(20))
	tr.UpdateEquity(decimal.NewFromInt(-10))

	assert.InDelta(t, 0.25, tr.MaxDrawdown(), 1e-12)
}

func TestTrackerMaxDrawdownMonotonicCurveIsZero(t *testing.T) {
	tr := NewTracker(decimal.NewFromInt(100))
	tr.UpdateEquity(decimal.NewFromInt(5))
	tr.UpdateEquity(decimal.NewFromInt(10))

	assert.Zero(t, tr.MaxDrawdown())
}

func TestTrackerSharpeZeroCases(t *testing.T) {
	tr := NewTracker(decimal.NewFromInt(100))
	assert.Zero(t, tr.Sharpe(), "no return samples")

	// a single sample has zero variance
	tr.UpdateEquity(decimal.NewFromInt(10))
	assert.Zero(t, tr.Sharpe())
}

func TestTrackerSharpePositiveForVaryingGains(t *testing.T) {
	tr := NewTracker(decimal.NewFromInt(100))
	tr.UpdateEquity(decimal.NewFromInt(10))
	tr.UpdateEquity(decimal.NewFromInt(15))
	tr.UpdateEquity(decimal.NewFromInt(25))

	assert.Greater(t, tr.Sharpe(), 0.0)
}

func TestTrackerLedger(t *testing.T) {
	tr := NewTracker(decimal.NewFromInt(100))

	tr.RecordTrade(types.Trade{
		Instrument: "BTCUSDT",
		Side:       types.Buy,
		Size:       decimal.NewFromInt(1),
		EntryPrice: decimal.NewFromInt(50),
		Timestamp:  time.Now(),
	})

	require.Equal(t, 1, tr.TradeCount())
	assert.Equal(t, "BTCUSDT", tr.Ledger()[0].Instrument)
}

func TestTrackerReset(t *testing.T) {
	tr := NewTracker(decimal.NewFromInt(100))
	tr.UpdateEquity(decimal.NewFromInt(20))
	tr.RecordTrade(types.Trade{Instrument: "BTCUSDT"})

	tr.Reset()

	assert.Len(t, tr.EquityCurve(), 1)
	assert.Empty(t, tr.Returns())
	assert.Zero(t, tr.TradeCount())
	assert.True(t, tr.PnL().IsZero())
}
