package perf

import (
	"math"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/papersim/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// PERFORMANCE TRACKER - Equity curve, trade ledger, summary metrics
// ═══════════════════════════════════════════════════════════════════════════════
//
// Pure bookkeeping: fills and equity marks come in, PnL / max drawdown /
// Sharpe come out. Owns the ledger and the curve, both append-only.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Annualization factor for the Sharpe ratio (daily samples).
const tradingDaysPerYear = 252

type Tracker struct {
	mu sync.RWMutex

	initialBalance decimal.Decimal
	equity         []decimal.Decimal // starts at initialBalance, one append per mark
	returns        []float64         // period returns, one per UpdateEquity call
	ledger         []types.Trade
}

// NewTracker seeds the equity curve with the initial balance.
func NewTracker(initialBalance decimal.Decimal) *Tracker {
	return &Tracker{
		initialBalance: initialBalance,
		equity:         []decimal.Decimal{initialBalance},
	}
}

// RecordTrade appends to the ledger unconditionally.
func (t *Tracker) RecordTrade(trade types.Trade) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ledger = append(t.ledger, trade)
}

// UpdateEquity marks the account with the current aggregate unrealized PnL.
// Appends equity = initial + unrealized, plus the period return against the
// previous curve point. Returns the new equity so callers can push it on
// into the safety controller.
func (t *Tracker) UpdateEquity(unrealizedPnL decimal.Decimal) decimal.Decimal {
	t.mu.Lock()
	defer t.mu.Unlock()

	eq := t.initialBalance.Add(unrealizedPnL)
	prev := t.equity[len(t.equity)-1]
	if prev.IsZero() {
		prev = t.initialBalance
	}

	r := 0.0
	if !prev.IsZero() {
		r = eq.Sub(prev).Div(prev).InexactFloat64()
	}

	t.returns = append(t.returns, r)
	t.equity = append(t.equity, eq)
	return eq
}

// PnL returns lastEquity - initialBalance.
func (t *Tracker) PnL() decimal.Decimal {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.equity[len(t.equity)-1].Sub(t.initialBalance)
}

// MaxDrawdown scans the curve once, tracking the running peak and the worst
// (peak-equity)/peak retracement. The first observation always sets the peak.
func (t *Tracker) MaxDrawdown() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	peak := math.Inf(-1)
	mdd := 0.0
	for _, e := range t.equity {
		v := e.InexactFloat64()
		if v > peak {
			peak = v
		}
		if peak != 0 {
			if dd := (peak - v) / peak; dd > mdd {
				mdd = dd
			}
		}
	}
	return mdd
}

// Sharpe returns mean(returns)/stdev(returns) * sqrt(252), population stdev.
// Zero when there are no return samples or the stdev is zero.
func (t *Tracker) Sharpe() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n := len(t.returns)
	if n == 0 {
		return 0
	}

	mean := 0.0
	for _, r := range t.returns {
		mean += r
	}
	mean /= float64(n)

	variance := 0.0
	for _, r := range t.returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(n)

	std := math.Sqrt(variance)
	if std == 0 {
		return 0
	}
	return mean / std * math.Sqrt(tradingDaysPerYear)
}

// Reset clears the ledger and re-seeds the curve. Used by the scheduler's
// Load/Reset paths.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.equity = []decimal.Decimal{t.initialBalance}
	t.returns = nil
	t.ledger = nil

	log.Debug().Str("balance", t.initialBalance.StringFixed(2)).Msg("Performance tracker reset")
}

// InitialBalance returns the seed balance.
func (t *Tracker) InitialBalance() decimal.Decimal {
	return t.initialBalance
}

// EquityCurve returns a copy of the curve.
func (t *Tracker) EquityCurve() []decimal.Decimal {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]decimal.Decimal, len(t.equity))
	copy(out, t.equity)
	return out
}

// Returns returns a copy of the period-return series.
func (t *Tracker) Returns() []float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]float64, len(t.returns))
	copy(out, t.returns)
	return out
}

// Ledger returns a copy of the trade ledger.
func (t *Tracker) Ledger() []types.Trade {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]types.Trade, len(t.ledger))
	copy(out, t.ledger)
	return out
}

// TradeCount returns the number of ledger entries.
func (t *Tracker) TradeCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.ledger)
}
