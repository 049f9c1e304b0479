package types

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SHARED TYPES - Avoid import cycles
// ═══════════════════════════════════════════════════════════════════════════════

// Side of an order or fill
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Tick is one timestamped price observation for one instrument.
// Produced by a feed, never mutated downstream.
type Tick struct {
	Timestamp  time.Time
	Instrument string
	Price      decimal.Decimal
	Volume     decimal.Decimal // proxy volume for VWAP scheduling, zero when unknown
	Raw        json.RawMessage // original feed payload, carried opaque
}

// Position represents the open exposure on one instrument.
// At most one position per instrument, no long+short hedging.
type Position struct {
	Instrument string
	Size       decimal.Decimal
	EntryPrice decimal.Decimal
	OpenedAt   time.Time
}

// UnrealizedPnL marks the position against the given price.
func (p Position) UnrealizedPnL(price decimal.Decimal) decimal.Decimal {
	return price.Sub(p.EntryPrice).Mul(p.Size)
}

// UnrealizedPnLPct returns the mark-to-market move as a percentage of entry.
func (p Position) UnrealizedPnLPct(price decimal.Decimal) decimal.Decimal {
	if p.EntryPrice.IsZero() {
		return decimal.Zero
	}
	return price.Sub(p.EntryPrice).Div(p.EntryPrice).Mul(decimal.NewFromInt(100))
}

// Trade is one ledger entry: a fill that opened or closed exposure.
// Appended to the performance ledger, never mutated.
type Trade struct {
	Instrument  string
	Side        Side
	Size        decimal.Decimal
	EntryPrice  decimal.Decimal
	ExitPrice   decimal.Decimal // zero on opening trades
	RealizedPnL decimal.Decimal // zero on opening trades
	Closed      bool
	Timestamp   time.Time
}
