package risk

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

// fakeClock lets tests walk the breaker window deterministically.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time              { return c.now }
func (c *fakeClock) advance(delta time.Duration) { c.now = c.now.Add(delta) }

func newTestSafety(cfg Config) (*Safety, *fakeClock) {
	clk := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	return NewSafety(cfg).WithNow(clk.Now), clk
}

func TestCanTradeDefaultsToAllowed(t *testing.T) {
	s, _ := newTestSafety(DefaultConfig())

	dec := s.CanTrade()
	assert.True(t, dec.Allowed)
	assert.Equal(t, "OK", dec.Reason)
}

func TestKillSwitch(t *testing.T) {
	s, _ := newTestSafety(DefaultConfig())

	s.Halt("manual stop")

	halted, reason := s.Halted()
	assert.True(t, halted)
	assert.Equal(t, "manual stop", reason)

	dec := s.CanTrade()
	assert.False(t, dec.Allowed)
	assert.Contains(t, dec.Reason, "HALTED")
	assert.Contains(t, dec.Reason, "manual stop")

	s.Resume()
	halted, _ = s.Halted()
	assert.False(t, halted)
	assert.True(t, s.CanTrade().Allowed)
}

func TestHaltIsIdempotent(t *testing.T) {
	s, _ := newTestSafety(DefaultConfig())

	var events []Event
	s.Subscribe(func(ev Event) { events = append(events, ev) })

	s.Halt("first")
	s.Halt("second")

	_, reason := s.Halted()
	assert.Equal(t, "first", reason, "second halt does not overwrite the reason")
	assert.Len(t, events, 1)
}

func TestCircuitBreakerTripsOnLossesInWindow(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxLosses = 3
	cfg.LossWindow = time.Minute
	s, clk := newTestSafety(cfg)

	s.AddRealizedPnL("BTCUSDT", d(-1))
	s.AddRealizedPnL("BTCUSDT", d(-1))
	assert.True(t, s.CanTrade().Allowed, "two losses stay under the threshold")

	clk.advance(10 * time.Second)
	s.AddRealizedPnL("BTCUSDT", d(-1))

	halted, reason := s.Halted()
	require.True(t, halted)
	assert.Contains(t, reason, "Circuit Breaker")
	assert.False(t, s.CanTrade().Allowed)
}

func TestCircuitBreakerIgnoresLossesOutsideWindow(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxLosses = 3
	cfg.LossWindow = time.Minute
	s, clk := newTestSafety(cfg)

	s.AddRealizedPnL("BTCUSDT", d(-1))
	clk.advance(2 * time.Minute)
	s.AddRealizedPnL("BTCUSDT", d(-1))
	clk.advance(2 * time.Minute)
	s.AddRealizedPnL("BTCUSDT", d(-1))

	halted, _ := s.Halted()
	assert.False(t, halted, "losses spread wider than the window never accumulate")
	assert.True(t, s.CanTrade().Allowed)
}

func TestCircuitBreakerIgnoresWins(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxLosses = 2
	cfg.LossWindow = time.Minute
	s, _ := newTestSafety(cfg)

	s.AddRealizedPnL("BTCUSDT", d(5))
	s.AddRealizedPnL("BTCUSDT", d(5))
	s.AddRealizedPnL("BTCUSDT", d(-1))

	halted, _ := s.Halted()
	assert.False(t, halted)
	assert.True(t, s.SessionRealizedPnL().Equal(d(9)))
}

func TestResumeClearsBreakerWindow(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxLosses = 2
	cfg.LossWindow = time.Hour
	s, _ := newTestSafety(cfg)

	s.AddRealizedPnL("BTCUSDT", d(-1))
	s.AddRealizedPnL("BTCUSDT", d(-1))
	halted, _ := s.Halted()
	require.True(t, halted)

	s.Resume()
	assert.True(t, s.CanTrade().Allowed, "resume clears the recorded losses")

	s.AddRealizedPnL("BTCUSDT", d(-1))
	assert.True(t, s.CanTrade().Allowed, "window restarts from zero")
}

func TestDrawdownGuardTripsPastLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxDrawdownPct = d(20)
	s, _ := newTestSafety(cfg)

	s.UpdateEquity(d(100))
	s.UpdateEquity(d(120))
	assert.True(t, s.CanTrade().Allowed)

	// 25% off the 120 peak
	s.UpdateEquity(d(90))

	halted, reason := s.Halted()
	require.True(t, halted)
	assert.Contains(t, reason, "Drawdown Guard")
}

func TestDrawdownGuardBelowLimitStaysQuiet(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxDrawdownPct = d(20)
	s, _ := newTestSafety(cfg)

	s.UpdateEquity(d(100))
	s.UpdateEquity(d(85))

	halted, _ := s.Halted()
	assert.False(t, halted, "15% retracement is inside the 20% limit")
}

func TestDrawdownGuardTripsOnce(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxDrawdownPct = d(10)
	s, _ := newTestSafety(cfg)

	var events []Event
	s.Subscribe(func(ev Event) { events = append(events, ev) })

	s.UpdateEquity(d(100))
	s.UpdateEquity(d(80))
	s.UpdateEquity(d(70))

	trips := 0
	for _, ev := range events {
		if ev.Kind == EventDrawdownTrip {
			trips++
		}
	}
	assert.Equal(t, 1, trips)
}

func TestProfitTargetHaltsWhileWinning(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ProfitTargetEnabled = true
	cfg.ProfitTarget = d(100)
	s, _ := newTestSafety(cfg)

	s.AddRealizedPnL("BTCUSDT", d(60))
	assert.True(t, s.CanTrade().Allowed)

	s.AddRealizedPnL("BTCUSDT", d(45))

	halted, reason := s.Halted()
	require.True(t, halted)
	assert.Contains(t, reason, "Profit Target")
}

func TestTrailingStopArmAndTrigger(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Trailing = TrailingConfig{Enabled: true, ActivationPct: d(1.2), CallbackPct: d(0.8)}
	s, _ := newTestSafety(cfg)

	triggered, _ := s.UpdateTrailingStop("BTCUSDT", d(0))
	assert.False(t, triggered)

	triggered, _ = s.UpdateTrailingStop("BTCUSDT", d(1))
	assert.False(t, triggered)
	_, active := s.TrailingStatus("BTCUSDT")
	assert.False(t, active, "below activation, not armed yet")

	triggered, _ = s.UpdateTrailingStop("BTCUSDT", d(2.5))
	assert.False(t, triggered)
	watermark, active := s.TrailingStatus("BTCUSDT")
	assert.True(t, active)
	assert.True(t, watermark.Equal(d(2.5)))

	// 1.4 <= 2.5 - 0.8
	triggered, reason := s.UpdateTrailingStop("BTCUSDT", d(1.4))
	require.True(t, triggered)
	assert.Contains(t, reason, "2.50")

	// trigger clears the state, the next observation starts over
	_, active = s.TrailingStatus("BTCUSDT")
	assert.False(t, active)
	triggered, _ = s.UpdateTrailingStop("BTCUSDT", d(1.4))
	assert.False(t, triggered)
}

func TestTrailingStopDoesNotTriggerAboveCallback(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Trailing = TrailingConfig{Enabled: true, ActivationPct: d(1.2), CallbackPct: d(0.8)}
	s, _ := newTestSafety(cfg)

	s.UpdateTrailingStop("BTCUSDT", d(2.5))
	triggered, _ := s.UpdateTrailingStop("BTCUSDT", d(1.8))
	assert.False(t, triggered, "1.8 is above the 1.7 trigger level")
}

func TestTrailingStopPerInstrumentOverride(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Trailing = TrailingConfig{Enabled: true, ActivationPct: d(1.2), CallbackPct: d(0.8)}
	s, _ := newTestSafety(cfg)

	s.SetTrailingOverride("ETHUSDT", TrailingConfig{Enabled: false})

	s.UpdateTrailingStop("ETHUSDT", d(5))
	triggered, _ := s.UpdateTrailingStop("ETHUSDT", d(0))
	assert.False(t, triggered, "disabled by the override")

	s.UpdateTrailingStop("BTCUSDT", d(5))
	triggered, _ = s.UpdateTrailingStop("BTCUSDT", d(0))
	assert.True(t, triggered, "the global config still applies elsewhere")

	s.ClearTrailingOverride("ETHUSDT")
	s.UpdateTrailingStop("ETHUSDT", d(5))
	triggered, _ = s.UpdateTrailingStop("ETHUSDT", d(0))
	assert.True(t, triggered)
}

func TestTrailingStopEmitsEvent(t *testing.T) {
	cfg := DefaultConfig()
	s, _ := newTestSafety(cfg)

	var events []Event
	s.Subscribe(func(ev Event) { events = append(events, ev) })

	s.UpdateTrailingStop("BTCUSDT", d(3))
	s.UpdateTrailingStop("BTCUSDT", d(0.5))

	require.Len(t, events, 1)
	assert.Equal(t, EventTrailingStop, events[0].Kind)
	assert.Equal(t, "BTCUSDT", events[0].Instrument)

	halted, _ := s.Halted()
	assert.False(t, halted, "a trailing stop is a signal, not a halt")
}

func TestCanTradeGuardOrdering(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxLosses = 1
	cfg.ProfitTargetEnabled = true
	cfg.ProfitTarget = d(1)
	s, _ := newTestSafety(cfg)

	// trip everything at once, the kill switch reason must win
	s.AddRealizedPnL("BTCUSDT", d(-5))
	dec := s.CanTrade()
	require.False(t, dec.Allowed)
	assert.Contains(t, dec.Reason, "HALTED")
}

func TestResetSession(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxDrawdownPct = d(10)
	s, _ := newTestSafety(cfg)

	s.AddRealizedPnL("BTCUSDT", d(50))
	s.UpdateEquity(d(100))
	s.UpdateEquity(d(95))

	s.ResetSession()

	assert.True(t, s.SessionRealizedPnL().IsZero())
	st := s.FullStatus()
	assert.True(t, st.EquityPeak.IsZero())
	assert.Zero(t, st.WindowLosses)
}

func TestFullStatusSnapshot(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxLosses = 5
	cfg.LossWindow = time.Minute
	s, _ := newTestSafety(cfg)

	s.UpdateEquity(d(100))
	s.UpdateEquity(d(96))
	s.AddRealizedPnL("BTCUSDT", d(-4))

	st := s.FullStatus()
	assert.False(t, st.Halted)
	assert.Equal(t, 1, st.WindowLosses)
	assert.Equal(t, 5, st.MaxLosses)
	assert.True(t, st.Equity.Equal(d(96)))
	assert.True(t, st.EquityPeak.Equal(d(100)))
	assert.True(t, st.DrawdownPct.Equal(d(4)))
	assert.True(t, st.SessionRealized.Equal(d(-4)))
	assert.True(t, st.CanTrade.Allowed)
}

func TestSetters(t *testing.T) {
	s, _ := newTestSafety(DefaultConfig())

	s.SetBreaker(2, time.Minute)
	s.AddRealizedPnL("BTCUSDT", d(-1))
	s.AddRealizedPnL("BTCUSDT", d(-1))
	halted, _ := s.Halted()
	assert.True(t, halted)

	s.Resume()
	s.SetMaxDrawdown(d(5))
	s.UpdateEquity(d(100))
	s.UpdateEquity(d(94))
	halted, _ = s.Halted()
	assert.True(t, halted)

	s.Resume()
	s.SetProfitTarget(true, d(10))
	s.AddRealizedPnL("BTCUSDT", d(20))
	halted, reason := s.Halted()
	assert.True(t, halted)
	assert.Contains(t, reason, "Profit Target")
}
