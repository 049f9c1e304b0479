package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/papersim/export"
	"github.com/web3guy0/papersim/types"
)

func d(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func sampleResult() export.Result {
	opened := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return export.Result{
		Meta: export.Meta{
			GeneratedAt:    time.Date(2025, 6, 1, 13, 0, 0, 0, time.UTC),
			InitialBalance: d(1000),
			TradeCount:     2,
		},
		Trades: []types.Trade{
			{Instrument: "BTCUSDT", Side: types.Buy, Size: d(2), EntryPrice: d(100), Timestamp: opened},
			{Instrument: "BTCUSDT", Side: types.Sell, Size: d(2), EntryPrice: d(100), ExitPrice: d(130),
				RealizedPnL: d(60), Closed: true, Timestamp: opened.Add(5 * time.Minute)},
		},
		Equity:  []decimal.Decimal{d(1000), d(1040), d(1060)},
		Metrics: export.Metrics{PnL: d(60)},
	}
}

func newTestDB(t *testing.T) *Database {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "papersim.db"))
	require.NoError(t, err)
	return db
}

func TestSaveRunRoundTrip(t *testing.T) {
	db := newTestDB(t)

	id, err := db.SaveRun("unit", sampleResult())
	require.NoError(t, err)
	require.NotZero(t, id)

	run, err := db.GetRun(id)
	require.NoError(t, err)
	assert.Equal(t, "unit", run.Label)
	assert.True(t, run.InitialBalance.Equal(d(1000)))
	assert.True(t, run.FinalEquity.Equal(d(1060)))
	assert.True(t, run.PnL.Equal(d(60)))
	assert.Equal(t, 2, run.TradeCount)

	trades, err := db.GetRunTrades(id)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, types.Buy, trades[0].Side)
	closing := trades[1]
	assert.Equal(t, types.Sell, closing.Side)
	assert.True(t, closing.RealizedPnL.Equal(d(60)))
	assert.True(t, closing.Closed)

	curve, err := db.GetRunEquity(id)
	require.NoError(t, err)
	require.Len(t, curve, 3)
	assert.True(t, curve[0].Equal(d(1000)))
	assert.True(t, curve[2].Equal(d(1060)))
}

func TestTotalPnLAndStats(t *testing.T) {
	db := newTestDB(t)

	_, err := db.SaveRun("winner", sampleResult())
	require.NoError(t, err)

	loser := sampleResult()
	loser.Metrics.PnL = d(-10)
	_, err = db.SaveRun("loser", loser)
	require.NoError(t, err)

	total, err := db.GetTotalPnL()
	require.NoError(t, err)
	assert.True(t, total.Equal(d(50)))

	stats, err := db.GetStats()
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats["total_runs"])
	assert.Equal(t, int64(4), stats["total_trades"])
	assert.Equal(t, int64(1), stats["winning_runs"])
}
