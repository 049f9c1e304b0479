package core

import (
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/papersim/feeds"
	"github.com/web3guy0/papersim/perf"
	"github.com/web3guy0/papersim/risk"
	"github.com/web3guy0/papersim/sim"
	"github.com/web3guy0/papersim/strategy"
	"github.com/web3guy0/papersim/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// ENGINE - Central orchestrator
// ═══════════════════════════════════════════════════════════════════════════════
//
// Flow:
//   Scheduler tick → Executor fills → Positions → Tracker equity → Safety
//   Placement → Safety gate → Executor registry
//
// The engine is an explicitly constructed instance with a
// create → Load → run → (Pause/Reset) lifecycle; nothing here is global.
// It is also the order-routing layer that reacts to trailing-stop signals
// by flattening the position - the safety controller itself never trades.
//
// ═══════════════════════════════════════════════════════════════════════════════

type Engine struct {
	sched   *feeds.Scheduler
	exec    *sim.Executor
	tracker *perf.Tracker
	safety  *risk.Safety
}

// NewEngine wires scheduler, executor, tracker and safety controller
// together around a starting balance.
func NewEngine(clock feeds.Clock, initialBalance decimal.Decimal, cfg risk.Config) *Engine {
	tracker := perf.NewTracker(initialBalance)
	sched := feeds.NewScheduler(clock, tracker)
	executor := sim.NewExecutor(sched, tracker)
	safety := risk.NewSafety(cfg)

	e := &Engine{
		sched:   sched,
		exec:    executor,
		tracker: tracker,
		safety:  safety,
	}

	sched.SetMarks(executor)
	sched.OnTick(e.onTick)
	sched.OnEquity(safety.UpdateEquity)

	executor.SetGate(func() (bool, string) {
		d := safety.CanTrade()
		return d.Allowed, d.Reason
	})
	executor.OnRealized(safety.AddRealizedPnL)

	return e
}

// onTick is the scheduler's primary subscriber: orders first, then the
// per-position trailing-stop check with the fresh price.
func (e *Engine) onTick(tick types.Tick) {
	e.exec.ProcessTick(tick)

	pos, ok := e.exec.Position(tick.Instrument)
	if !ok {
		return
	}

	pnlPct := pos.UnrealizedPnLPct(tick.Price)
	if triggered, reason := e.safety.UpdateTrailingStop(tick.Instrument, pnlPct); triggered {
		pnl, closed := e.exec.ClosePosition(tick.Instrument, tick.Price, tick.Timestamp)
		if closed {
			log.Info().
				Str("instrument", tick.Instrument).
				Str("pnl", pnl.StringFixed(2)).
				Str("reason", reason).
				Msg("🛑 Trailing stop close")
		}
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// LIFECYCLE
// ═══════════════════════════════════════════════════════════════════════════════

// Load replaces the replayed series and clears performance state, the
// position table, the order registry and the trailing-stop watermarks.
// Nothing from the previous session survives a reload.
func (e *Engine) Load(byInstrument map[string]feeds.History) {
	e.exec.Reset()
	e.safety.ResetTrailing()
	e.sched.Load(byInstrument)
}

// Start begins real-time playback at rate ticks/second.
func (e *Engine) Start(rate float64) { e.sched.Start(rate) }

// Pause suspends playback without resetting cursors.
func (e *Engine) Pause() { e.sched.Pause() }

// Step advances one deterministic logical tick.
func (e *Engine) Step() { e.sched.Step() }

// Reset stops playback and zeroes cursors, performance state, positions,
// orders and trailing-stop state.
func (e *Engine) Reset() {
	e.sched.Reset()
	e.exec.Reset()
	e.safety.ResetTrailing()
}

// RunToEnd steps synchronously until every series is exhausted.
func (e *Engine) RunToEnd() {
	for !e.sched.Done() {
		e.sched.Step()
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// TRADER SURFACE - strategy.Trader
// ═══════════════════════════════════════════════════════════════════════════════

// PlaceOrder routes a placement through the safety gate into the executor.
func (e *Engine) PlaceOrder(req sim.OrderRequest) (string, error) {
	return e.exec.PlaceOrder(req)
}

// Cancel cancels an order by id.
func (e *Engine) Cancel(id string) bool { return e.exec.Cancel(id) }

// Position returns the open position on an instrument, if any.
func (e *Engine) Position(instrument string) (types.Position, bool) {
	return e.exec.Position(instrument)
}

// AttachStrategy hooks a strategy into the tick stream, after the executor.
func (e *Engine) AttachStrategy(s strategy.Strategy) {
	e.sched.AttachStrategy(s.Name(), func(tick types.Tick) {
		s.OnTick(tick, e)
	})
}

// ═══════════════════════════════════════════════════════════════════════════════
// ACCESSORS
// ═══════════════════════════════════════════════════════════════════════════════

// Tracker exposes the performance tracker.
func (e *Engine) Tracker() *perf.Tracker { return e.tracker }

// Safety exposes the safety controller.
func (e *Engine) Safety() *risk.Safety { return e.safety }

// Executor exposes the order execution engine.
func (e *Engine) Executor() *sim.Executor { return e.exec }

// Scheduler exposes the replay scheduler.
func (e *Engine) Scheduler() *feeds.Scheduler { return e.sched }

// Summary returns the headline session numbers for reporting surfaces.
func (e *Engine) Summary() (trades int, pnl, equity decimal.Decimal, maxDrawdown, sharpe float64) {
	curve := e.tracker.EquityCurve()
	return e.tracker.TradeCount(),
		e.tracker.PnL(),
		curve[len(curve)-1],
		e.tracker.MaxDrawdown(),
		e.tracker.Sharpe()
}

// SafetyStatus returns the full guard-state snapshot.
func (e *Engine) SafetyStatus() risk.Status { return e.safety.FullStatus() }
