package sim

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/papersim/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// ORDER EXECUTION ENGINE
// ═══════════════════════════════════════════════════════════════════════════════
//
// Holds the order registry and the position table. On every tick, advances
// each matching active order's state machine and produces fills; fills mutate
// positions and are appended to the performance ledger.
//
// Fill rules are deliberately simple: buy opens or averages up, sell closes
// the whole position, sell without a position books a zero-PnL trade (no
// short modeling).
//
// ═══════════════════════════════════════════════════════════════════════════════

// Placement rejection errors. Rejection never mutates engine state.
var (
	ErrUnknownInstrument = errors.New("instrument not in loaded feed")
	ErrInvalidSize       = errors.New("order size must be positive")
	ErrUnknownOrderType  = errors.New("unknown order type")
	ErrGateBlocked       = errors.New("blocked by safety gate")
)

const (
	defaultSliceCount = 10
	defaultTWAPWindow = time.Minute
	maxAutoSliceCount = 10
	ticksPerAutoSlice = 3
)

// FeedSource is what the executor needs from the replay scheduler:
// instrument membership plus series/cursor access for VWAP scheduling.
type FeedSource interface {
	HasInstrument(inst string) bool
	Series(inst string) []types.Tick
	Cursor(inst string) int
}

// TradeRecorder receives ledger entries, implemented by perf.Tracker.
type TradeRecorder interface {
	RecordTrade(types.Trade)
}

// GateFunc is the admission check consulted before every placement.
type GateFunc func() (allowed bool, reason string)

type Executor struct {
	mu sync.Mutex

	feed     FeedSource
	recorder TradeRecorder
	gate     GateFunc

	orders   map[string]*Order
	orderIDs []string // placement order, drives evaluation order

	positions map[string]*types.Position

	seq        int
	onFill     func(Fill)
	onRealized func(instrument string, pnl decimal.Decimal)
}

// NewExecutor creates an execution engine bound to a feed.
func NewExecutor(feed FeedSource, recorder TradeRecorder) *Executor {
	return &Executor{
		feed:      feed,
		recorder:  recorder,
		orders:    make(map[string]*Order),
		positions: make(map[string]*types.Position),
	}
}

// SetGate installs the admission check consulted by PlaceOrder.
func (e *Executor) SetGate(gate GateFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.gate = gate
}

// OnFill registers a fill callback.
func (e *Executor) OnFill(fn func(Fill)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onFill = fn
}

// OnRealized registers a callback for realized PnL from closing fills.
// This is how the safety controller is fed without a call-in dependency.
func (e *Executor) OnRealized(fn func(instrument string, pnl decimal.Decimal)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onRealized = fn
}

// ═══════════════════════════════════════════════════════════════════════════════
// PLACEMENT
// ═══════════════════════════════════════════════════════════════════════════════

// PlaceOrder validates the request, normalizes type-specific defaults and
// registers the order. Returns the order id.
func (e *Executor) PlaceOrder(req OrderRequest) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.gate != nil {
		if allowed, reason := e.gate(); !allowed {
			return "", fmt.Errorf("%w: %s", ErrGateBlocked, reason)
		}
	}

	if e.feed == nil || !e.feed.HasInstrument(req.Instrument) {
		return "", fmt.Errorf("%w: %q", ErrUnknownInstrument, req.Instrument)
	}
	if req.Size.LessThanOrEqual(decimal.Zero) {
		return "", fmt.Errorf("%w: %s", ErrInvalidSize, req.Size)
	}

	detail, err := e.buildDetail(req)
	if err != nil {
		return "", err
	}

	e.seq++
	o := &Order{
		ID:            fmt.Sprintf("ord-%06d", e.seq),
		Instrument:    req.Instrument,
		Side:          req.Side,
		Type:          req.Type,
		RequestedSize: req.Size,
		Remaining:     req.Size,
		Status:        StatusActive,
		CreatedAt:     time.Now(),
		detail:        detail,
	}

	e.orders[o.ID] = o
	e.orderIDs = append(e.orderIDs, o.ID)

	log.Info().
		Str("order_id", o.ID).
		Str("instrument", o.Instrument).
		Str("side", string(o.Side)).
		Str("type", string(o.Type)).
		Str("size", o.RequestedSize.StringFixed(4)).
		Msg("📝 Order placed")

	return o.ID, nil
}

// buildDetail constructs the type-specific variant, applying defaults.
func (e *Executor) buildDetail(req OrderRequest) (orderDetail, error) {
	switch req.Type {
	case Market:
		return marketDetail{}, nil

	case Limit:
		return &limitDetail{Price: req.LimitPrice}, nil

	case TWAP:
		count := req.SliceCount
		if count <= 0 {
			count = defaultSliceCount
		}
		window := req.Duration
		if window <= 0 {
			window = defaultTWAPWindow
		}
		return &twapDetail{
			SliceCount: count,
			SliceSize:  req.Size.Div(decimal.NewFromInt(int64(count))),
			SlicesLeft: count,
			Interval:   window / time.Duration(count),
		}, nil

	case VWAP:
		return e.prepareVWAP(req), nil

	case Iceberg:
		visCap := req.VisibleSize
		if visCap.LessThanOrEqual(decimal.Zero) {
			visCap = req.Size.Div(decimal.NewFromInt(10)).Ceil()
		}
		visible := decimal.Min(req.Size, visCap)
		return &icebergDetail{
			VisibleCap: visCap,
			Visible:    visible,
			Hidden:     req.Size.Sub(visible),
		}, nil

	case Bracket:
		entry := req.EntryType
		if entry == "" {
			entry = Market
		}
		if entry != Market && entry != Limit {
			return nil, fmt.Errorf("%w: bracket entry %q", ErrUnknownOrderType, entry)
		}
		return &bracketDetail{
			EntryType:  entry,
			EntryPrice: req.EntryPrice,
			TakeProfit: req.TakeProfit,
			StopLoss:   req.StopLoss,
		}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownOrderType, req.Type)
	}
}

// prepareVWAP precomputes the slice schedule by volume-weighting the
// remaining ticks of the series. Non-positive or missing proxy volumes count
// as zero; a zero bucket total falls back to an equal split. Slice quantities
// are normalized so they sum exactly to the requested size.
func (e *Executor) prepareVWAP(req OrderRequest) *vwapDetail {
	series := e.feed.Series(req.Instrument)
	startIdx := e.feed.Cursor(req.Instrument)
	if startIdx > len(series) {
		startIdx = len(series)
	}
	remaining := series[startIdx:]

	count := req.SliceCount
	if count <= 0 {
		count = len(remaining) / ticksPerAutoSlice
		if count > maxAutoSliceCount {
			count = maxAutoSliceCount
		}
		if count < 1 {
			count = 1
		}
	}

	equal := req.Size.Div(decimal.NewFromInt(int64(count)))

	if len(remaining) == 0 {
		// No series left: schedule equal slices on whatever ticks may follow.
		slices := make([]vwapSlice, count)
		for i := range slices {
			slices[i] = vwapSlice{Index: startIdx + i, Qty: equal}
		}
		normalizeSlices(slices, req.Size)
		return &vwapDetail{SliceCount: count, Slices: slices}
	}

	vols := make([]decimal.Decimal, len(remaining))
	total := decimal.Zero
	for i, t := range remaining {
		v := t.Volume
		if v.LessThanOrEqual(decimal.Zero) {
			v = decimal.Zero
		}
		vols[i] = v
		total = total.Add(v)
	}

	bucket := len(remaining) / count
	if bucket < 1 {
		bucket = 1
	}

	slices := make([]vwapSlice, 0, count)
	for i := 0; i < count; i++ {
		start := i * bucket
		if start >= len(remaining) {
			start = len(remaining) - 1
		}
		end := (i + 1) * bucket
		if end > len(remaining) {
			end = len(remaining)
		}

		qty := equal
		if !total.IsZero() {
			bucketVol := decimal.Zero
			for _, v := range vols[start:end] {
				bucketVol = bucketVol.Add(v)
			}
			qty = bucketVol.Div(total).Mul(req.Size)
		}
		slices = append(slices, vwapSlice{Index: startIdx + start, Qty: qty})
	}

	normalizeSlices(slices, req.Size)
	return &vwapDetail{SliceCount: count, Slices: slices}
}

// normalizeSlices rescales quantities to sum exactly to size, folding any
// rounding residue into the last slice.
func normalizeSlices(slices []vwapSlice, size decimal.Decimal) {
	allocated := decimal.Zero
	for _, s := range slices {
		allocated = allocated.Add(s.Qty)
	}
	if allocated.IsZero() {
		equal := size.Div(decimal.NewFromInt(int64(len(slices))))
		for i := range slices {
			slices[i].Qty = equal
		}
		allocated = equal.Mul(decimal.NewFromInt(int64(len(slices))))
	}

	factor := size.Div(allocated)
	sum := decimal.Zero
	for i := range slices {
		slices[i].Qty = slices[i].Qty.Mul(factor)
		if i < len(slices)-1 {
			sum = sum.Add(slices[i].Qty)
		}
	}
	slices[len(slices)-1].Qty = size.Sub(sum)
}

// Reset discards every order and position. Invoked when a new feed is
// loaded so nothing from the previous session marks against the new prices.
func (e *Executor) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.orders = make(map[string]*Order)
	e.orderIDs = nil
	e.positions = make(map[string]*types.Position)
	e.seq = 0
}

// Cancel marks the order cancelled. Terminal states are left untouched; the
// cancellation is observed on the order's next evaluation, not pre-empted.
func (e *Executor) Cancel(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	o, ok := e.orders[id]
	if !ok || o.Status.Terminal() {
		return false
	}
	o.Status = StatusCancelled
	log.Info().Str("order_id", id).Msg("Order cancelled")
	return true
}

// ═══════════════════════════════════════════════════════════════════════════════
// TICK PROCESSING
// ═══════════════════════════════════════════════════════════════════════════════

// ProcessTick advances every active order on the tick's instrument, in
// placement order.
func (e *Executor) ProcessTick(tick types.Tick) {
	e.mu.Lock()
	ids := make([]string, len(e.orderIDs))
	copy(ids, e.orderIDs)
	e.mu.Unlock()

	for _, id := range ids {
		e.mu.Lock()
		o := e.orders[id]
		skip := o == nil || o.Status.Terminal() || o.Instrument != tick.Instrument
		e.mu.Unlock()
		if skip {
			continue
		}
		e.evaluate(o, tick)
	}
}

// evaluate runs one order's state machine against one tick.
func (e *Executor) evaluate(o *Order, tick types.Tick) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch d := o.detail.(type) {
	case marketDetail:
		e.fill(o, tick.Price, o.Remaining, tick.Timestamp)

	case *limitDetail:
		if limitCrossed(o.Side, tick.Price, d.Price) {
			price := d.Price
			if price.IsZero() {
				price = tick.Price
			}
			e.fill(o, price, o.Remaining, tick.Timestamp)
		}

	case *twapDetail:
		if d.NextSliceDue.IsZero() {
			d.NextSliceDue = tick.Timestamp
		}
		if d.SlicesLeft > 0 && !tick.Timestamp.Before(d.NextSliceDue) {
			e.fill(o, tick.Price, d.SliceSize, tick.Timestamp)
			d.SlicesLeft--
			d.NextSliceDue = d.NextSliceDue.Add(d.Interval)
			if d.SlicesLeft <= 0 && !o.Status.Terminal() {
				o.Status = StatusDone
			}
		}

	case *vwapDetail:
		if d.Next < len(d.Slices) && d.Slices[d.Next].Index <= e.feed.Cursor(o.Instrument) {
			e.fill(o, tick.Price, d.Slices[d.Next].Qty, tick.Timestamp)
			d.Next++
			if d.Next >= len(d.Slices) && !o.Status.Terminal() {
				o.Status = StatusDone
			}
		}

	case *icebergDetail:
		if d.Visible.GreaterThan(decimal.Zero) {
			qty := decimal.Min(d.Visible, o.Remaining)
			e.fill(o, tick.Price, qty, tick.Timestamp)
			d.Visible = d.Visible.Sub(qty)
			if d.Visible.LessThanOrEqual(decimal.Zero) && d.Hidden.GreaterThan(decimal.Zero) {
				next := decimal.Min(d.Hidden, d.VisibleCap)
				d.Visible = next
				d.Hidden = d.Hidden.Sub(next)
			}
		}

	case *bracketDetail:
		e.evaluateBracket(o, d, tick)
	}
}

// evaluateBracket runs the two-phase bracket machine: entry first, then a
// take-profit / stop-loss exit on the opposite side.
func (e *Executor) evaluateBracket(o *Order, d *bracketDetail, tick types.Tick) {
	if !d.Entered {
		switch d.EntryType {
		case Market:
			e.executeFill(o, o.Side, tick.Price, o.RequestedSize, tick.Timestamp)
			d.Entered = true
		case Limit:
			if limitCrossed(o.Side, tick.Price, d.EntryPrice) {
				e.executeFill(o, o.Side, d.EntryPrice, o.RequestedSize, tick.Timestamp)
				d.Entered = true
			}
		}
		return
	}

	exitSide := types.Sell
	tpHit := !d.TakeProfit.IsZero() && tick.Price.GreaterThanOrEqual(d.TakeProfit)
	slHit := !d.StopLoss.IsZero() && tick.Price.LessThanOrEqual(d.StopLoss)
	if o.Side == types.Sell {
		exitSide = types.Buy
		tpHit = !d.TakeProfit.IsZero() && tick.Price.LessThanOrEqual(d.TakeProfit)
		slHit = !d.StopLoss.IsZero() && tick.Price.GreaterThanOrEqual(d.StopLoss)
	}

	switch {
	case tpHit:
		e.executeFill(o, exitSide, d.TakeProfit, o.Remaining, tick.Timestamp)
		o.Remaining = decimal.Zero
		o.Status = StatusDone
	case slHit:
		e.executeFill(o, exitSide, d.StopLoss, o.Remaining, tick.Timestamp)
		o.Remaining = decimal.Zero
		o.Status = StatusDone
	}
}

func limitCrossed(side types.Side, price, limit decimal.Decimal) bool {
	if side == types.Buy {
		return price.LessThanOrEqual(limit)
	}
	return price.GreaterThanOrEqual(limit)
}

// ═══════════════════════════════════════════════════════════════════════════════
// FILLS
// ═══════════════════════════════════════════════════════════════════════════════

// fill executes up to the order's remaining size, decrements it, and
// transitions status. Non-positive quantities are silently skipped.
func (e *Executor) fill(o *Order, price, qty decimal.Decimal, ts time.Time) {
	qty = decimal.Min(qty, o.Remaining)
	if qty.LessThanOrEqual(decimal.Zero) {
		return
	}

	o.Remaining = o.Remaining.Sub(qty)
	if o.Remaining.LessThanOrEqual(decimal.Zero) {
		o.Remaining = decimal.Zero
		o.Status = StatusDone
	} else if o.Status == StatusActive {
		o.Status = StatusPartial
	}

	e.executeFill(o, o.Side, price, qty, ts)
}

// executeFill applies one fill's position and ledger effects.
// Caller holds e.mu.
func (e *Executor) executeFill(o *Order, side types.Side, price, qty decimal.Decimal, ts time.Time) {
	if qty.LessThanOrEqual(decimal.Zero) {
		return
	}

	switch side {
	case types.Buy:
		pos, ok := e.positions[o.Instrument]
		if !ok {
			e.positions[o.Instrument] = &types.Position{
				Instrument: o.Instrument,
				Size:       qty,
				EntryPrice: price,
				OpenedAt:   ts,
			}
			e.record(types.Trade{
				Instrument: o.Instrument,
				Side:       types.Buy,
				Size:       qty,
				EntryPrice: price,
				Timestamp:  ts,
			})
		} else {
			// Same-direction add: size-weighted average entry.
			newSize := pos.Size.Add(qty)
			pos.EntryPrice = pos.EntryPrice.Mul(pos.Size).Add(price.Mul(qty)).Div(newSize)
			pos.Size = newSize
		}

	case types.Sell:
		pos, ok := e.positions[o.Instrument]
		if ok {
			realized := price.Sub(pos.EntryPrice).Mul(pos.Size)
			e.record(types.Trade{
				Instrument:  o.Instrument,
				Side:        types.Sell,
				Size:        pos.Size,
				EntryPrice:  pos.EntryPrice,
				ExitPrice:   price,
				RealizedPnL: realized,
				Closed:      true,
				Timestamp:   ts,
			})
			delete(e.positions, o.Instrument)

			log.Info().
				Str("instrument", o.Instrument).
				Str("entry", pos.EntryPrice.StringFixed(4)).
				Str("exit", price.StringFixed(4)).
				Str("pnl", realized.StringFixed(2)).
				Msg("📊 Position closed")

			if e.onRealized != nil {
				e.onRealized(o.Instrument, realized)
			}
		} else {
			// No short modeling: a sell with no position books a flat trade.
			e.record(types.Trade{
				Instrument: o.Instrument,
				Side:       types.Sell,
				Size:       qty,
				ExitPrice:  price,
				Closed:     true,
				Timestamp:  ts,
			})
		}
	}

	if e.onFill != nil {
		e.onFill(Fill{
			OrderID:    o.ID,
			Instrument: o.Instrument,
			Side:       side,
			Price:      price,
			Qty:        qty,
			Timestamp:  ts,
		})
	}
}

func (e *Executor) record(t types.Trade) {
	if e.recorder != nil {
		e.recorder.RecordTrade(t)
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// POSITIONS & MARK-TO-MARKET
// ═══════════════════════════════════════════════════════════════════════════════

// ClosePosition immediately sells the whole position at the given price,
// realizing PnL and recording a closing trade. Exits bypass the admission
// gate: a halted session must still be able to flatten. Returns the realized
// PnL and whether a position existed.
func (e *Executor) ClosePosition(inst string, price decimal.Decimal, ts time.Time) (decimal.Decimal, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	pos, ok := e.positions[inst]
	if !ok {
		return decimal.Zero, false
	}

	realized := price.Sub(pos.EntryPrice).Mul(pos.Size)
	e.record(types.Trade{
		Instrument:  inst,
		Side:        types.Sell,
		Size:        pos.Size,
		EntryPrice:  pos.EntryPrice,
		ExitPrice:   price,
		RealizedPnL: realized,
		Closed:      true,
		Timestamp:   ts,
	})
	delete(e.positions, inst)

	log.Info().
		Str("instrument", inst).
		Str("exit", price.StringFixed(4)).
		Str("pnl", realized.StringFixed(2)).
		Msg("📊 Position flattened")

	if e.onRealized != nil {
		e.onRealized(inst, realized)
	}
	return realized, true
}

// UnrealizedPnL sums (lastPrice - entry) * size over open positions.
// Implements feeds.MarkToMarket.
func (e *Executor) UnrealizedPnL(lastPrices map[string]decimal.Decimal) decimal.Decimal {
	e.mu.Lock()
	defer e.mu.Unlock()

	total := decimal.Zero
	for inst, pos := range e.positions {
		if price, ok := lastPrices[inst]; ok {
			total = total.Add(pos.UnrealizedPnL(price))
		}
	}
	return total
}

// Position returns a copy of the open position on the instrument, if any.
func (e *Executor) Position(inst string) (types.Position, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	pos, ok := e.positions[inst]
	if !ok {
		return types.Position{}, false
	}
	return *pos, true
}

// Positions returns a copy of the position table.
func (e *Executor) Positions() map[string]types.Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]types.Position, len(e.positions))
	for inst, pos := range e.positions {
		out[inst] = *pos
	}
	return out
}

// ═══════════════════════════════════════════════════════════════════════════════
// INSPECTION
// ═══════════════════════════════════════════════════════════════════════════════

// Order returns a copy of one order's envelope.
func (e *Executor) Order(id string) (Order, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.orders[id]
	if !ok {
		return Order{}, false
	}
	return *o, true
}

// Orders lists order envelopes in placement order.
func (e *Executor) Orders() []Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Order, 0, len(e.orderIDs))
	for _, id := range e.orderIDs {
		out = append(out, *e.orders[id])
	}
	return out
}

// TWAPState exposes TWAP progress for display layers.
func (e *Executor) TWAPState(id string) (TWAPState, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.orders[id]
	if !ok {
		return TWAPState{}, false
	}
	d, ok := o.detail.(*twapDetail)
	if !ok {
		return TWAPState{}, false
	}
	return TWAPState{SliceCount: d.SliceCount, SlicesLeft: d.SlicesLeft, NextSliceDue: d.NextSliceDue}, true
}

// IcebergState exposes the visible/hidden split for display layers.
func (e *Executor) IcebergState(id string) (IcebergState, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.orders[id]
	if !ok {
		return IcebergState{}, false
	}
	d, ok := o.detail.(*icebergDetail)
	if !ok {
		return IcebergState{}, false
	}
	return IcebergState{Visible: d.Visible, Hidden: d.Hidden}, true
}

// BracketState exposes the bracket phase for display layers.
func (e *Executor) BracketState(id string) (BracketState, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.orders[id]
	if !ok {
		return BracketState{}, false
	}
	d, ok := o.detail.(*bracketDetail)
	if !ok {
		return BracketState{}, false
	}
	return BracketState{Entered: d.Entered, TakeProfit: d.TakeProfit, StopLoss: d.StopLoss}, true
}
