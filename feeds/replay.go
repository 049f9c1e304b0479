package feeds

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/papersim/perf"
	"github.com/web3guy0/papersim/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// MARKET REPLAY SCHEDULER
// ═══════════════════════════════════════════════════════════════════════════════
//
// Owns per-instrument tick series and cursors, advances them at a configured
// rate (or single-stepped), and pushes mark-to-market equity into the
// performance tracker after every tick.
//
// Flow per logical tick, per instrument with data left:
//   primary subscriber → strategies (attachment order) → cursor++ → equity mark
//
// One goroutine drives Start(); Step() is the same code path, synchronous.
//
// ═══════════════════════════════════════════════════════════════════════════════

// TickHandler receives one tick per instrument per logical step.
type TickHandler func(types.Tick)

// MarkToMarket sums unrealized PnL over open positions against last prices.
// Implemented by the order executor, which owns the position table.
type MarkToMarket interface {
	UnrealizedPnL(lastPrices map[string]decimal.Decimal) decimal.Decimal
}

// History is the feed input for one instrument: a chronological tick series,
// or just a latest-known snapshot when no history is available.
type History struct {
	Ticks    []types.Tick
	Snapshot *types.Tick
}

type namedStrategy struct {
	name string
	fn   TickHandler
}

type Scheduler struct {
	mu sync.Mutex

	clock Clock
	perf  *perf.Tracker
	marks MarkToMarket

	instruments []string // fixed iteration order, stable for a given load
	series      map[string][]types.Tick
	cursor      map[string]int
	last        map[string]decimal.Decimal

	primary    TickHandler
	strategies []namedStrategy
	onEquity   func(decimal.Decimal)

	running bool
	stopCh  chan struct{}
}

// NewScheduler creates a replay scheduler marking equity through the tracker.
func NewScheduler(clock Clock, tracker *perf.Tracker) *Scheduler {
	if clock == nil {
		clock = NewRealClock()
	}
	return &Scheduler{
		clock:  clock,
		perf:   tracker,
		series: make(map[string][]types.Tick),
		cursor: make(map[string]int),
		last:   make(map[string]decimal.Decimal),
	}
}

// SetMarks attaches the mark-to-market source (the order executor).
func (s *Scheduler) SetMarks(m MarkToMarket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marks = m
}

// OnTick registers the single primary subscriber. It is notified before any
// attached strategy.
func (s *Scheduler) OnTick(fn TickHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.primary = fn
}

// OnEquity registers a hook receiving the account equity recomputed after
// every processed tick. This is how equity reaches the safety controller.
func (s *Scheduler) OnEquity(fn func(decimal.Decimal)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onEquity = fn
}

// AttachStrategy appends a strategy callback. Strategies run after the
// primary subscriber, in attachment order, each isolated from the others'
// panics.
func (s *Scheduler) AttachStrategy(name string, fn TickHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.strategies = append(s.strategies, namedStrategy{name: name, fn: fn})
}

// ClearStrategies removes all attached strategies.
func (s *Scheduler) ClearStrategies() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.strategies = nil
}

// Load replaces all series, zeroes cursors and clears performance state.
// An instrument without history is normalized to a one-element series built
// from its snapshot, so the engine never runs on an empty series.
func (s *Scheduler) Load(byInstrument map[string]History) {
	s.Pause()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.instruments = s.instruments[:0]
	s.series = make(map[string][]types.Tick, len(byInstrument))
	s.cursor = make(map[string]int, len(byInstrument))
	s.last = make(map[string]decimal.Decimal, len(byInstrument))

	for inst, h := range byInstrument {
		ticks := h.Ticks
		if len(ticks) == 0 {
			synthetic := types.Tick{Timestamp: s.clock.Now(), Instrument: inst}
			if h.Snapshot != nil {
				synthetic = *h.Snapshot
				synthetic.Instrument = inst
			}
			ticks = []types.Tick{synthetic}
			log.Warn().Str("instrument", inst).Msg("No history, falling back to single snapshot tick")
		}
		s.instruments = append(s.instruments, inst)
		s.series[inst] = ticks
		s.cursor[inst] = 0
	}
	sort.Strings(s.instruments)

	if s.perf != nil {
		s.perf.Reset()
	}

	log.Info().Int("instruments", len(s.instruments)).Msg("📼 Replay series loaded")
}

// Start begins advancing one logical tick per interval, 1000/rate ms.
// No-op when already running.
func (s *Scheduler) Start(rate float64) {
	if rate <= 0 {
		rate = 1
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	stop := s.stopCh
	s.mu.Unlock()

	interval := time.Duration(float64(time.Second) / rate)

	go func() {
		for {
			select {
			case <-stop:
				return
			case <-s.clock.After(interval):
				s.Step()
			}
		}
	}()

	log.Info().Float64("rate", rate).Msg("▶️ Replay started")
}

// Pause suspends advancement without touching cursors. Idempotent: pausing
// twice leaves the scheduler in the same state as pausing once.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	close(s.stopCh)
	log.Info().Msg("⏸ Replay paused")
}

// Reset stops playback, zeroes all cursors and clears performance state.
func (s *Scheduler) Reset() {
	s.Pause()

	s.mu.Lock()
	for inst := range s.cursor {
		s.cursor[inst] = 0
	}
	s.last = make(map[string]decimal.Decimal, len(s.cursor))
	s.mu.Unlock()

	if s.perf != nil {
		s.perf.Reset()
	}
}

// Step advances exactly one logical tick across all instruments.
func (s *Scheduler) Step() {
	s.mu.Lock()
	instruments := make([]string, len(s.instruments))
	copy(instruments, s.instruments)
	s.mu.Unlock()

	for _, inst := range instruments {
		s.stepInstrument(inst)
	}
}

// stepInstrument delivers the current tick for one instrument, advances its
// cursor, then pushes the aggregate unrealized PnL into the tracker.
// An exhausted instrument is skipped without error.
func (s *Scheduler) stepInstrument(inst string) {
	s.mu.Lock()
	series := s.series[inst]
	i := s.cursor[inst]
	if i >= len(series) {
		s.mu.Unlock()
		return
	}
	tick := series[i]
	primary := s.primary
	strategies := make([]namedStrategy, len(s.strategies))
	copy(strategies, s.strategies)
	s.mu.Unlock()

	if primary != nil {
		primary(tick)
	}
	for _, strat := range strategies {
		s.invokeStrategy(strat, tick)
	}

	s.mu.Lock()
	s.cursor[inst] = i + 1
	s.last[inst] = tick.Price
	prices := make(map[string]decimal.Decimal, len(s.last))
	for k, v := range s.last {
		prices[k] = v
	}
	marks := s.marks
	onEquity := s.onEquity
	s.mu.Unlock()

	if s.perf != nil {
		unrealized := decimal.Zero
		if marks != nil {
			unrealized = marks.UnrealizedPnL(prices)
		}
		equity := s.perf.UpdateEquity(unrealized)
		if onEquity != nil {
			onEquity(equity)
		}
	}
}

// invokeStrategy isolates one strategy callback: a panicking strategy must
// not stop tick delivery to the others.
func (s *Scheduler) invokeStrategy(strat namedStrategy, tick types.Tick) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("strategy", strat.name).
				Str("instrument", tick.Instrument).
				Interface("panic", r).
				Msg("Strategy callback failed")
		}
	}()
	strat.fn(tick)
}

// Instruments returns the loaded instruments in iteration order.
func (s *Scheduler) Instruments() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.instruments))
	copy(out, s.instruments)
	return out
}

// HasInstrument reports whether the instrument is part of the loaded feed.
func (s *Scheduler) HasInstrument(inst string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.series[inst]
	return ok
}

// Series returns the loaded tick series for one instrument.
func (s *Scheduler) Series(inst string) []types.Tick {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.series[inst]
}

// Cursor returns the index of the tick currently being (or next to be)
// processed for the instrument.
func (s *Scheduler) Cursor(inst string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor[inst]
}

// LastPrice returns the most recently replayed price for the instrument.
func (s *Scheduler) LastPrice(inst string) (decimal.Decimal, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.last[inst]
	return p, ok
}

// Running reports whether real-time playback is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Done reports whether every instrument's cursor has reached series end.
func (s *Scheduler) Done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, inst := range s.instruments {
		if s.cursor[inst] < len(s.series[inst]) {
			return false
		}
	}
	return true
}
