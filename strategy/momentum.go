package strategy

import (
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/papersim/sim"
	"github.com/web3guy0/papersim/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// MOMENTUM - Minimal reference strategy
// ═══════════════════════════════════════════════════════════════════════════════
//
// Buys after a configurable upward move from the last flat price, exits after
// the same move down from entry. Mostly here to exercise the placement path
// end to end during replay; not an edge.
//
// ═══════════════════════════════════════════════════════════════════════════════

type Momentum struct {
	entryMovePct decimal.Decimal
	exitMovePct  decimal.Decimal
	size         decimal.Decimal

	anchor map[string]decimal.Decimal // last flat reference price per instrument
}

// NewMomentum buys size units after a +entryMovePct move and sells after a
// -exitMovePct move against the position.
func NewMomentum(entryMovePct, exitMovePct, size decimal.Decimal) *Momentum {
	return &Momentum{
		entryMovePct: entryMovePct,
		exitMovePct:  exitMovePct,
		size:         size,
		anchor:       make(map[string]decimal.Decimal),
	}
}

func (m *Momentum) Name() string { return "momentum" }

func (m *Momentum) OnTick(tick types.Tick, trader Trader) {
	anchor, ok := m.anchor[tick.Instrument]
	if !ok || anchor.IsZero() {
		m.anchor[tick.Instrument] = tick.Price
		return
	}

	pos, holding := trader.Position(tick.Instrument)

	if !holding {
		if pctChange(anchor, tick.Price).GreaterThanOrEqual(m.entryMovePct) {
			_, err := trader.PlaceOrder(sim.OrderRequest{
				Instrument: tick.Instrument,
				Side:       types.Buy,
				Type:       sim.Market,
				Size:       m.size,
			})
			if err != nil {
				log.Debug().Err(err).Str("instrument", tick.Instrument).Msg("momentum entry rejected")
				return
			}
			m.anchor[tick.Instrument] = tick.Price
		}
		return
	}

	if pctChange(pos.EntryPrice, tick.Price).LessThanOrEqual(m.exitMovePct.Neg()) {
		if _, err := trader.PlaceOrder(sim.OrderRequest{
			Instrument: tick.Instrument,
			Side:       types.Sell,
			Type:       sim.Market,
			Size:       pos.Size,
		}); err != nil {
			log.Debug().Err(err).Str("instrument", tick.Instrument).Msg("momentum exit rejected")
			return
		}
		m.anchor[tick.Instrument] = tick.Price
	}
}
