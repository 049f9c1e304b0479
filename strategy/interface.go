package strategy

import (
	"github.com/shopspring/decimal"

	"github.com/web3guy0/papersim/sim"
	"github.com/web3guy0/papersim/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// STRATEGY INTERFACE - Plug-in pattern for strategies
// ═══════════════════════════════════════════════════════════════════════════════
//
// The engine calls OnTick once per tick per instrument and hands the strategy
// a Trader so it can place or close orders. Returning is the only control
// flow: a strategy that wants no action simply does nothing.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Trader is the order-side surface handed to strategies. Implemented by the
// core engine, which routes placements through the safety gate.
type Trader interface {
	PlaceOrder(req sim.OrderRequest) (string, error)
	Cancel(id string) bool
	Position(instrument string) (types.Position, bool)
}

// Strategy is the interface all trading strategies implement.
type Strategy interface {
	// Name identifies the strategy in logs and attachment order.
	Name() string

	// OnTick processes one tick. Order placement errors should be handled
	// (or logged) by the strategy itself; a panic is contained by the
	// scheduler and does not stop tick delivery to other strategies.
	OnTick(tick types.Tick, trader Trader)
}

// pctChange returns (b-a)/a*100, zero when a is zero.
func pctChange(a, b decimal.Decimal) decimal.Decimal {
	if a.IsZero() {
		return decimal.Zero
	}
	return b.Sub(a).Div(a).Mul(decimal.NewFromInt(100))
}
