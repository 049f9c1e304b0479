package risk

import "time"

// ═══════════════════════════════════════════════════════════════════════════════
// SAFETY EVENTS - Observable guard state transitions
// ═══════════════════════════════════════════════════════════════════════════════
//
// The safety controller never places or closes orders itself. It emits events
// so an order-routing layer can react (e.g. market-close on a trailing stop).
//
// ═══════════════════════════════════════════════════════════════════════════════

type EventKind string

const (
	EventHalt         EventKind = "HALT"
	EventResume       EventKind = "RESUME"
	EventTrailingStop EventKind = "TRAILING_STOP"
	EventProfitTarget EventKind = "PROFIT_TARGET"
	EventBreakerTrip  EventKind = "CIRCUIT_BREAKER"
	EventDrawdownTrip EventKind = "DRAWDOWN"
)

// Event is one guard state transition.
type Event struct {
	Kind       EventKind
	Instrument string // set on trailing-stop events
	Reason     string
	At         time.Time
}

// Listener receives safety events synchronously, after the transition has
// been applied.
type Listener func(Event)
