package risk

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SAFETY CONTROLLER - Layered capital-protection state machine
// ═══════════════════════════════════════════════════════════════════════════════
//
// Independent guards, one admission check:
//   1. Kill switch     - instant halt, cleared only by explicit resume
//   2. Circuit breaker - auto-halt after N losses in an M-minute window
//   3. Drawdown guard  - auto-halt when retracement from peak exceeds a limit
//   4. Trailing stop   - per-instrument pullback exit signal (no global halt)
//   5. Profit target   - stop while winning
//
// The controller is fed values (equity, realized PnL); it never calls into
// the tracker or the executor, which keeps it testable in isolation.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Config holds all guard parameters.
type Config struct {
	MaxLosses  int           // circuit breaker threshold
	LossWindow time.Duration // circuit breaker sliding window

	MaxDrawdownPct decimal.Decimal

	Trailing          TrailingConfig
	TrailingOverrides map[string]TrailingConfig

	ProfitTargetEnabled bool
	ProfitTarget        decimal.Decimal
}

// DefaultConfig mirrors the executor-side safety defaults.
func DefaultConfig() Config {
	return Config{
		MaxLosses:      20,
		LossWindow:     3 * time.Minute,
		MaxDrawdownPct: decimal.NewFromInt(10),
		Trailing: TrailingConfig{
			Enabled:       true,
			ActivationPct: decimal.NewFromFloat(1.2),
			CallbackPct:   decimal.NewFromFloat(0.8),
		},
		ProfitTargetEnabled: false,
		ProfitTarget:        decimal.NewFromInt(100),
	}
}

// Decision is the result of the admission check.
type Decision struct {
	Allowed bool
	Reason  string
}

type Safety struct {
	mu sync.RWMutex

	cfg Config
	now func() time.Time

	// Kill switch
	killed     bool
	killReason string
	killedAt   time.Time

	// Guards
	breaker  *lossWindow
	drawdown *drawdownGuard
	trailing map[string]*trailingState

	// Session
	sessionRealized decimal.Decimal
	sessionStart    time.Time

	listeners []Listener
}

// NewSafety creates a safety controller with the given configuration.
func NewSafety(cfg Config) *Safety {
	s := &Safety{
		cfg:      cfg,
		now:      time.Now,
		breaker:  newLossWindow(cfg.MaxLosses, cfg.LossWindow),
		drawdown: newDrawdownGuard(cfg.MaxDrawdownPct),
		trailing: make(map[string]*trailingState),
	}
	s.sessionStart = s.now()

	log.Info().
		Int("max_losses", cfg.MaxLosses).
		Dur("loss_window", cfg.LossWindow).
		Str("max_drawdown_pct", cfg.MaxDrawdownPct.StringFixed(1)).
		Bool("profit_target", cfg.ProfitTargetEnabled).
		Msg("🛡️ Safety controller initialized")

	return s
}

// WithNow swaps the time source. Used by tests to control the breaker window.
func (s *Safety) WithNow(now func() time.Time) *Safety {
	s.mu.Lock()
	defer s.mu.Unlock()
	if now != nil {
		s.now = now
	}
	return s
}

// Subscribe registers a listener for guard state transitions.
func (s *Safety) Subscribe(fn Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func (s *Safety) emit(ev Event) {
	s.mu.RLock()
	listeners := make([]Listener, len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.RUnlock()
	for _, fn := range listeners {
		fn(ev)
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// KILL SWITCH
// ═══════════════════════════════════════════════════════════════════════════════

// Halt engages the kill switch with a human-readable reason.
func (s *Safety) Halt(reason string) {
	s.mu.Lock()
	if s.killed {
		s.mu.Unlock()
		return
	}
	s.killed = true
	s.killReason = reason
	s.killedAt = s.now()
	at := s.killedAt
	s.mu.Unlock()

	log.Error().Str("reason", reason).Msg("🔐 HALT ACTIVATED")
	s.emit(Event{Kind: EventHalt, Reason: reason, At: at})
}

// Resume clears the kill switch, the circuit breaker window and the
// drawdown trip. The explicit resume is the only way out of a halt.
func (s *Safety) Resume() {
	s.mu.Lock()
	s.killed = false
	s.killReason = ""
	s.killedAt = time.Time{}
	s.breaker.reset()
	s.drawdown.clearTrip()
	at := s.now()
	s.mu.Unlock()

	log.Info().Msg("🔓 Trading resumed")
	s.emit(Event{Kind: EventResume, At: at})
}

// Halted reports the kill switch state and its reason.
func (s *Safety) Halted() (bool, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.killed, s.killReason
}

// ═══════════════════════════════════════════════════════════════════════════════
// FEEDS - Values pushed in by the engine
// ═══════════════════════════════════════════════════════════════════════════════

// AddRealizedPnL accumulates session realized PnL from a closing fill.
// A negative PnL is one circuit-breaker loss event; reaching the profit
// target halts with a distinct reason.
func (s *Safety) AddRealizedPnL(instrument string, pnl decimal.Decimal) {
	s.mu.Lock()
	s.sessionRealized = s.sessionRealized.Add(pnl)

	var haltReason string
	var haltKind EventKind

	if pnl.IsNegative() {
		if s.breaker.record(s.now()) && !s.killed {
			haltReason = fmt.Sprintf("Circuit Breaker: %d losses in %s",
				s.breaker.count(s.now()), s.cfg.LossWindow)
			haltKind = EventBreakerTrip
		}
		log.Warn().
			Str("instrument", instrument).
			Str("pnl", pnl.StringFixed(2)).
			Int("window_losses", s.breaker.count(s.now())).
			Msg("📉 Loss recorded")
	}

	if haltReason == "" && s.cfg.ProfitTargetEnabled &&
		s.sessionRealized.GreaterThanOrEqual(s.cfg.ProfitTarget) && !s.killed {
		haltReason = fmt.Sprintf("🎯 Profit Target Reached: $%s >= $%s",
			s.sessionRealized.StringFixed(2), s.cfg.ProfitTarget.StringFixed(2))
		haltKind = EventProfitTarget
	}
	s.mu.Unlock()

	if haltReason != "" {
		s.emit(Event{Kind: haltKind, Reason: haltReason, At: s.now()})
		s.Halt(haltReason)
	}
}

// UpdateEquity feeds one equity observation into the drawdown guard.
func (s *Safety) UpdateEquity(equity decimal.Decimal) {
	s.mu.Lock()
	trippedNow, ddPct := s.drawdown.update(equity)
	killed := s.killed
	maxPct := s.cfg.MaxDrawdownPct
	s.mu.Unlock()

	if trippedNow && !killed {
		reason := fmt.Sprintf("Drawdown Guard: %s%% exceeds %s%% limit",
			ddPct.StringFixed(2), maxPct.StringFixed(2))
		s.emit(Event{Kind: EventDrawdownTrip, Reason: reason, At: s.now()})
		s.Halt(reason)
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// GATE CHECK
// ═══════════════════════════════════════════════════════════════════════════════

// CanTrade is the single admission check consulted before every placement.
// Evaluation order: kill switch → circuit breaker → drawdown → profit target;
// the first blocking guard wins.
func (s *Safety) CanTrade() Decision {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.killed {
		return Decision{Allowed: false, Reason: "HALTED: " + s.killReason}
	}

	if s.breaker.tripped(s.now()) {
		return Decision{Allowed: false, Reason: fmt.Sprintf("Circuit Breaker: %d/%d losses",
			s.breaker.count(s.now()), s.cfg.MaxLosses)}
	}

	if s.drawdown.tripped {
		return Decision{Allowed: false, Reason: "Drawdown limit exceeded"}
	}

	if s.cfg.ProfitTargetEnabled && s.sessionRealized.GreaterThanOrEqual(s.cfg.ProfitTarget) {
		return Decision{Allowed: false, Reason: fmt.Sprintf("Profit Target Reached ($%s >= $%s)",
			s.sessionRealized.StringFixed(2), s.cfg.ProfitTarget.StringFixed(2))}
	}

	return Decision{Allowed: true, Reason: "OK"}
}

// ═══════════════════════════════════════════════════════════════════════════════
// SESSION & STATUS
// ═══════════════════════════════════════════════════════════════════════════════

// ResetSession zeroes session PnL, the drawdown guard and the breaker window.
// The kill switch is left as-is.
func (s *Safety) ResetSession() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionRealized = decimal.Zero
	s.sessionStart = s.now()
	s.drawdown.reset()
	s.breaker.reset()
	s.trailing = make(map[string]*trailingState)
}

// SessionRealizedPnL returns the accumulated realized PnL for the session.
func (s *Safety) SessionRealizedPnL() decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessionRealized
}

// Status is a full snapshot for display layers.
type Status struct {
	Halted     bool
	KillReason string
	KilledAt   time.Time

	WindowLosses int
	MaxLosses    int
	LossWindow   time.Duration

	Equity      decimal.Decimal
	EquityPeak  decimal.Decimal
	DrawdownPct decimal.Decimal
	DDTripped   bool

	SessionRealized decimal.Decimal
	SessionStart    time.Time

	ProfitTargetEnabled bool
	ProfitTarget        decimal.Decimal

	CanTrade Decision
}

// FullStatus snapshots every guard in one call.
func (s *Safety) FullStatus() Status {
	decision := s.CanTrade()

	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Halted:              s.killed,
		KillReason:          s.killReason,
		KilledAt:            s.killedAt,
		WindowLosses:        s.breaker.count(s.now()),
		MaxLosses:           s.cfg.MaxLosses,
		LossWindow:          s.cfg.LossWindow,
		Equity:              s.drawdown.current,
		EquityPeak:          s.drawdown.peak,
		DrawdownPct:         s.drawdown.drawdownPct(),
		DDTripped:           s.drawdown.tripped,
		SessionRealized:     s.sessionRealized,
		SessionStart:        s.sessionStart,
		ProfitTargetEnabled: s.cfg.ProfitTargetEnabled,
		ProfitTarget:        s.cfg.ProfitTarget,
		CanTrade:            decision,
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION SETTERS
// ═══════════════════════════════════════════════════════════════════════════════

// SetBreaker reconfigures the circuit breaker, keeping recorded events.
func (s *Safety) SetBreaker(maxLosses int, window time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.MaxLosses = maxLosses
	s.cfg.LossWindow = window
	s.breaker.maxLosses = maxLosses
	s.breaker.window = window
}

// SetMaxDrawdown reconfigures the drawdown limit.
func (s *Safety) SetMaxDrawdown(maxPct decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.MaxDrawdownPct = maxPct
	s.drawdown.maxPct = maxPct
}

// SetProfitTarget reconfigures the stop-while-winning guard.
func (s *Safety) SetProfitTarget(enabled bool, target decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.ProfitTargetEnabled = enabled
	s.cfg.ProfitTarget = target
}
