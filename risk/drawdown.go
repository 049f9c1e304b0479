package risk

import "github.com/shopspring/decimal"

// ═══════════════════════════════════════════════════════════════════════════════
// DRAWDOWN GUARD - Auto-halt when retracement from the equity peak exceeds a limit
// ═══════════════════════════════════════════════════════════════════════════════

// drawdownGuard tracks the session equity peak and trips once when the
// percentage retracement exceeds maxPct. Caller serializes access.
type drawdownGuard struct {
	maxPct  decimal.Decimal
	peak    decimal.Decimal
	current decimal.Decimal
	tripped bool
}

func newDrawdownGuard(maxPct decimal.Decimal) *drawdownGuard {
	return &drawdownGuard{maxPct: maxPct}
}

// update records a new equity observation. Returns true exactly once, on the
// observation that pushes the drawdown past the limit; further breaches are
// suppressed until reset.
func (g *drawdownGuard) update(equity decimal.Decimal) (trippedNow bool, ddPct decimal.Decimal) {
	g.current = equity
	if equity.GreaterThan(g.peak) {
		g.peak = equity
	}

	ddPct = g.drawdownPct()
	if !g.tripped && ddPct.GreaterThan(g.maxPct) {
		g.tripped = true
		return true, ddPct
	}
	return false, ddPct
}

func (g *drawdownGuard) drawdownPct() decimal.Decimal {
	if g.peak.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	return g.peak.Sub(g.current).Div(g.peak).Mul(decimal.NewFromInt(100))
}

func (g *drawdownGuard) reset() {
	g.peak = decimal.Zero
	g.current = decimal.Zero
	g.tripped = false
}

// clearTrip re-arms the guard without forgetting the peak. Used by resume.
func (g *drawdownGuard) clearTrip() {
	g.tripped = false
}
