package strategy

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/papersim/sim"
	"github.com/web3guy0/papersim/types"
)

func d(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

// stubTrader records placements and simulates a single instant-fill position.
type stubTrader struct {
	requests []sim.OrderRequest
	position *types.Position
	reject   error
}

func (s *stubTrader) PlaceOrder(req sim.OrderRequest) (string, error) {
	if s.reject != nil {
		return "", s.reject
	}
	s.requests = append(s.requests, req)
	return "ord-000001", nil
}

func (s *stubTrader) Cancel(string) bool { return false }

func (s *stubTrader) Position(string) (types.Position, bool) {
	if s.position == nil {
		return types.Position{}, false
	}
	return *s.position, true
}

func tickAt(price float64) types.Tick {
	return types.Tick{
		Timestamp:  time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Instrument: "BTCUSDT",
		Price:      d(price),
	}
}

func TestMomentumBuysOnUpMove(t *testing.T) {
	m := NewMomentum(d(1), d(1), d(2))
	tr := &stubTrader{}

	m.OnTick(tickAt(100), tr) // first observation anchors
	assert.Empty(t, tr.requests)

	m.OnTick(tickAt(100.5), tr) // +0.5%, under the threshold
	assert.Empty(t, tr.requests)

	m.OnTick(tickAt(101.5), tr) // +1.5% from the anchor
	require.Len(t, tr.requests, 1)
	assert.Equal(t, types.Buy, tr.requests[0].Side)
	assert.True(t, tr.requests[0].Size.Equal(d(2)))
}

func TestMomentumSellsOnDownMoveFromEntry(t *testing.T) {
	m := NewMomentum(d(1), d(1), d(2))
	tr := &stubTrader{
		position: &types.Position{Instrument: "BTCUSDT", Size: d(2), EntryPrice: d(100)},
	}

	m.OnTick(tickAt(100), tr) // anchor
	m.OnTick(tickAt(99.5), tr)
	assert.Empty(t, tr.requests, "-0.5% from entry, held")

	m.OnTick(tickAt(98.9), tr)
	require.Len(t, tr.requests, 1)
	assert.Equal(t, types.Sell, tr.requests[0].Side)
	assert.True(t, tr.requests[0].Size.Equal(d(2)))
}

func TestMomentumSwallowsRejections(t *testing.T) {
	m := NewMomentum(d(1), d(1), d(2))
	tr := &stubTrader{reject: sim.ErrGateBlocked}

	m.OnTick(tickAt(100), tr)
	require.NotPanics(t, func() { m.OnTick(tickAt(102), tr) })
	assert.Empty(t, tr.requests)
}

func TestPctChange(t *testing.T) {
	assert.True(t, pctChange(d(100), d(101)).Equal(d(1)))
	assert.True(t, pctChange(d(100), d(95)).Equal(d(-5)))
	assert.True(t, pctChange(decimal.Zero, d(50)).IsZero())
}
