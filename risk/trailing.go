package risk

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// TRAILING STOP - Per-instrument pullback exit, armed after a profit watermark
// ═══════════════════════════════════════════════════════════════════════════════
//
// Not a global halt: a trigger is a signal to the caller, which owns the
// decision to issue the closing order.
//
// ═══════════════════════════════════════════════════════════════════════════════

// TrailingConfig controls one trailing stop: arm once the high-watermark of
// unrealized PnL percent reaches ActivationPct, trigger once PnL falls to
// watermark - CallbackPct.
type TrailingConfig struct {
	Enabled       bool
	ActivationPct decimal.Decimal
	CallbackPct   decimal.Decimal
}

type trailingState struct {
	highestPct decimal.Decimal
	active     bool
}

// UpdateTrailingStop feeds one unrealized-PnL-percent observation for an
// instrument. Returns (true, reason) exactly when the armed stop triggers;
// the instrument's state is cleared on trigger. Per-instrument overrides take
// precedence over the global config.
func (s *Safety) UpdateTrailingStop(instrument string, pnlPct decimal.Decimal) (bool, string) {
	s.mu.Lock()

	cfg := s.cfg.Trailing
	if ovr, ok := s.cfg.TrailingOverrides[instrument]; ok {
		cfg = ovr
	}
	if !cfg.Enabled {
		s.mu.Unlock()
		return false, ""
	}

	state, ok := s.trailing[instrument]
	if !ok {
		state = &trailingState{highestPct: pnlPct}
		s.trailing[instrument] = state
	}

	if pnlPct.GreaterThan(state.highestPct) {
		state.highestPct = pnlPct
	}

	if !state.active && state.highestPct.GreaterThanOrEqual(cfg.ActivationPct) {
		state.active = true
		log.Info().
			Str("instrument", instrument).
			Str("watermark", state.highestPct.StringFixed(2)).
			Msg("📈 Trailing stop armed")
	}

	if state.active {
		triggerLevel := state.highestPct.Sub(cfg.CallbackPct)
		if pnlPct.LessThanOrEqual(triggerLevel) {
			watermark := state.highestPct
			delete(s.trailing, instrument)
			reason := fmt.Sprintf("Trailing Stop: dropped %s%% from peak %s%%",
				cfg.CallbackPct.StringFixed(2), watermark.StringFixed(2))

			log.Warn().
				Str("instrument", instrument).
				Str("pnl_pct", pnlPct.StringFixed(2)).
				Str("trigger", triggerLevel.StringFixed(2)).
				Str("watermark", watermark.StringFixed(2)).
				Msg("🛑 Trailing stop triggered")

			s.mu.Unlock()
			s.emit(Event{Kind: EventTrailingStop, Instrument: instrument, Reason: reason, At: s.now()})
			return true, reason
		}
	}

	s.mu.Unlock()
	return false, ""
}

// TrailingStatus reports the watermark and armed flag for an instrument.
func (s *Safety) TrailingStatus(instrument string) (highestPct decimal.Decimal, active bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if state, ok := s.trailing[instrument]; ok {
		return state.highestPct, state.active
	}
	return decimal.Zero, false
}

// ResetTrailing discards every instrument's watermark and armed flag.
// Invoked when a new feed is loaded, configuration is left untouched.
func (s *Safety) ResetTrailing() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trailing = make(map[string]*trailingState)
}

// SetTrailing replaces the global trailing stop configuration.
func (s *Safety) SetTrailing(cfg TrailingConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.Trailing = cfg
}

// SetTrailingOverride installs a per-instrument trailing configuration that
// takes precedence over the global one.
func (s *Safety) SetTrailingOverride(instrument string, cfg TrailingConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg.TrailingOverrides == nil {
		s.cfg.TrailingOverrides = make(map[string]TrailingConfig)
	}
	s.cfg.TrailingOverrides[instrument] = cfg
}

// ClearTrailingOverride removes an instrument's override.
func (s *Safety) ClearTrailingOverride(instrument string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cfg.TrailingOverrides, instrument)
}
