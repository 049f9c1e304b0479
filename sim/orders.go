package sim

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/papersim/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// ORDER MODEL - One variant per order type
// ═══════════════════════════════════════════════════════════════════════════════
//
// Each type carries only its own fields and the executor dispatches with a
// type switch, so there is no ad hoc "which optional field is set" probing.
//
// ═══════════════════════════════════════════════════════════════════════════════

// OrderType enumerates the supported execution algorithms.
type OrderType string

const (
	Market  OrderType = "MARKET"
	Limit   OrderType = "LIMIT"
	TWAP    OrderType = "TWAP"
	VWAP    OrderType = "VWAP"
	Iceberg OrderType = "ICEBERG"
	Bracket OrderType = "BRACKET"
)

// OrderStatus is the order lifecycle state:
// active → partially-filled* → done, or cancelled at any point before done.
type OrderStatus string

const (
	StatusActive    OrderStatus = "ACTIVE"
	StatusPartial   OrderStatus = "PARTIALLY_FILLED"
	StatusDone      OrderStatus = "DONE"
	StatusCancelled OrderStatus = "CANCELLED"
)

// Terminal reports whether the status admits no further transitions.
func (s OrderStatus) Terminal() bool {
	return s == StatusDone || s == StatusCancelled
}

// Order is the common envelope; Detail holds the type-specific state machine.
type Order struct {
	ID            string
	Instrument    string
	Side          types.Side
	Type          OrderType
	RequestedSize decimal.Decimal
	Remaining     decimal.Decimal
	Status        OrderStatus
	CreatedAt     time.Time

	detail orderDetail
}

type orderDetail interface {
	orderDetail()
}

type marketDetail struct{}

type limitDetail struct {
	Price decimal.Decimal
}

type twapDetail struct {
	SliceCount   int
	SliceSize    decimal.Decimal
	SlicesLeft   int
	Interval     time.Duration
	NextSliceDue time.Time // zero until the first eligible tick seeds it
}

type vwapSlice struct {
	Index int // tick index in the instrument's series that releases the slice
	Qty   decimal.Decimal
}

type vwapDetail struct {
	SliceCount int
	Slices     []vwapSlice
	Next       int
}

type icebergDetail struct {
	VisibleCap decimal.Decimal
	Visible    decimal.Decimal
	Hidden     decimal.Decimal
}

type bracketDetail struct {
	EntryType  OrderType // MARKET or LIMIT
	EntryPrice decimal.Decimal
	TakeProfit decimal.Decimal
	StopLoss   decimal.Decimal
	Entered    bool
}

func (marketDetail) orderDetail()   {}
func (*limitDetail) orderDetail()   {}
func (*twapDetail) orderDetail()    {}
func (*vwapDetail) orderDetail()    {}
func (*icebergDetail) orderDetail() {}
func (*bracketDetail) orderDetail() {}

// OrderRequest is the placement API input. Type-specific fields are read only
// for the matching Type.
type OrderRequest struct {
	Instrument string
	Side       types.Side
	Type       OrderType
	Size       decimal.Decimal

	// LIMIT
	LimitPrice decimal.Decimal

	// TWAP / VWAP
	SliceCount int
	Duration   time.Duration // TWAP total duration, split evenly across slices

	// ICEBERG
	VisibleSize decimal.Decimal

	// BRACKET
	EntryType  OrderType // MARKET (default) or LIMIT
	EntryPrice decimal.Decimal
	TakeProfit decimal.Decimal
	StopLoss   decimal.Decimal
}

// Fill describes one execution event, surfaced via the executor's callback.
type Fill struct {
	OrderID    string
	Instrument string
	Side       types.Side
	Price      decimal.Decimal
	Qty        decimal.Decimal
	Timestamp  time.Time
}

// TWAPState is a read-only view of a TWAP order's progress.
type TWAPState struct {
	SliceCount   int
	SlicesLeft   int
	NextSliceDue time.Time
}

// IcebergState is a read-only view of an iceberg order's exposure split.
type IcebergState struct {
	Visible decimal.Decimal
	Hidden  decimal.Decimal
}

// BracketState is a read-only view of a bracket order's phase.
type BracketState struct {
	Entered    bool
	TakeProfit decimal.Decimal
	StopLoss   decimal.Decimal
}
