package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/papersim/perf"
	"github.com/web3guy0/papersim/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// RESULT EXPORT - Trade ledger + equity curve, CSV and JSON
// ═══════════════════════════════════════════════════════════════════════════════
//
// Two surfaces for the same data: tabular for spreadsheets, structured for
// anything downstream. Re-parsing either form reproduces the summary metrics.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Meta describes one simulation run.
type Meta struct {
	GeneratedAt    time.Time       `json:"generated_at"`
	InitialBalance decimal.Decimal `json:"initial_balance"`
	TradeCount     int             `json:"trades"`
}

// Metrics is the summary block.
type Metrics struct {
	PnL         decimal.Decimal `json:"pnl"`
	MaxDrawdown float64         `json:"max_drawdown"`
	Sharpe      float64         `json:"sharpe"`
}

// Result is the full structured export document.
type Result struct {
	Meta    Meta              `json:"meta"`
	Trades  []types.Trade     `json:"trades"`
	Equity  []decimal.Decimal `json:"equity"`
	Metrics Metrics           `json:"metrics"`
}

// Build snapshots a tracker into an export document.
func Build(t *perf.Tracker) Result {
	return Result{
		Meta: Meta{
			GeneratedAt:    time.Now().UTC(),
			InitialBalance: t.InitialBalance(),
			TradeCount:     t.TradeCount(),
		},
		Trades: t.Ledger(),
		Equity: t.EquityCurve(),
		Metrics: Metrics{
			PnL:         t.PnL(),
			MaxDrawdown: t.MaxDrawdown(),
			Sharpe:      t.Sharpe(),
		},
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// JSON
// ═══════════════════════════════════════════════════════════════════════════════

// WriteJSON writes the structured document, indented.
func WriteJSON(w io.Writer, r Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// ReadJSON parses a structured export document.
func ReadJSON(rd io.Reader) (Result, error) {
	var r Result
	if err := json.NewDecoder(rd).Decode(&r); err != nil {
		return Result{}, fmt.Errorf("parse export json: %w", err)
	}
	return r, nil
}

// ═══════════════════════════════════════════════════════════════════════════════
// CSV
// ═══════════════════════════════════════════════════════════════════════════════

var csvHeader = []string{"type", "instrument", "side", "size", "entry_price", "exit_price", "pnl", "closed", "timestamp"}

// WriteCSV writes trade rows followed by equity rows. The "type" column
// distinguishes the two sections.
func WriteCSV(w io.Writer, r Result) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, t := range r.Trades {
		row := []string{
			"trade",
			t.Instrument,
			string(t.Side),
			t.Size.String(),
			t.EntryPrice.String(),
			t.ExitPrice.String(),
			t.RealizedPnL.String(),
			strconv.FormatBool(t.Closed),
			t.Timestamp.UTC().Format(time.RFC3339Nano),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	for _, e := range r.Equity {
		if err := cw.Write([]string{"equity", "", "", "", "", "", e.String(), "", ""}); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

// ReadCSV parses a CSV export back into a Result. Summary metrics are
// recomputed from the parsed ledger and curve, so a write/read round trip
// reproduces PnL, max drawdown and trade count exactly.
func ReadCSV(rd io.Reader) (Result, error) {
	cr := csv.NewReader(rd)
	rows, err := cr.ReadAll()
	if err != nil {
		return Result{}, fmt.Errorf("parse export csv: %w", err)
	}
	if len(rows) == 0 {
		return Result{}, fmt.Errorf("parse export csv: empty document")
	}

	var r Result
	for _, row := range rows[1:] {
		switch row[0] {
		case "trade":
			t, err := parseTradeRow(row)
			if err != nil {
				return Result{}, err
			}
			r.Trades = append(r.Trades, t)
		case "equity":
			e, err := decimal.NewFromString(row[6])
			if err != nil {
				return Result{}, fmt.Errorf("parse equity row: %w", err)
			}
			r.Equity = append(r.Equity, e)
		default:
			return Result{}, fmt.Errorf("parse export csv: unknown row type %q", row[0])
		}
	}

	if len(r.Equity) > 0 {
		r.Meta.InitialBalance = r.Equity[0]
	}
	r.Meta.TradeCount = len(r.Trades)
	r.Metrics = Summarize(r.Meta.InitialBalance, r.Equity)
	return r, nil
}

func parseTradeRow(row []string) (types.Trade, error) {
	if len(row) < len(csvHeader) {
		return types.Trade{}, fmt.Errorf("parse trade row: want %d columns, got %d", len(csvHeader), len(row))
	}

	size, err := decimal.NewFromString(row[3])
	if err != nil {
		return types.Trade{}, fmt.Errorf("parse trade size: %w", err)
	}
	entry, err := decimal.NewFromString(row[4])
	if err != nil {
		return types.Trade{}, fmt.Errorf("parse trade entry: %w", err)
	}
	exit, err := decimal.NewFromString(row[5])
	if err != nil {
		return types.Trade{}, fmt.Errorf("parse trade exit: %w", err)
	}
	pnl, err := decimal.NewFromString(row[6])
	if err != nil {
		return types.Trade{}, fmt.Errorf("parse trade pnl: %w", err)
	}
	closed, err := strconv.ParseBool(row[7])
	if err != nil {
		return types.Trade{}, fmt.Errorf("parse trade closed flag: %w", err)
	}
	ts, err := time.Parse(time.RFC3339Nano, row[8])
	if err != nil {
		return types.Trade{}, fmt.Errorf("parse trade timestamp: %w", err)
	}

	return types.Trade{
		Instrument:  row[1],
		Side:        types.Side(row[2]),
		Size:        size,
		EntryPrice:  entry,
		ExitPrice:   exit,
		RealizedPnL: pnl,
		Closed:      closed,
		Timestamp:   ts,
	}, nil
}

// Summarize recomputes PnL and max drawdown from an equity curve. Sharpe is
// not reconstructible from the curve alone without the return series, so it
// is recomputed from successive curve points.
func Summarize(initial decimal.Decimal, equity []decimal.Decimal) Metrics {
	m := Metrics{}
	if len(equity) == 0 {
		return m
	}

	m.PnL = equity[len(equity)-1].Sub(initial)

	peak := math.Inf(-1)
	for _, e := range equity {
		v := e.InexactFloat64()
		if v > peak {
			peak = v
		}
		if peak != 0 {
			if dd := (peak - v) / peak; dd > m.MaxDrawdown {
				m.MaxDrawdown = dd
			}
		}
	}

	returns := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		prev := equity[i-1]
		if prev.IsZero() {
			prev = initial
		}
		if prev.IsZero() {
			continue
		}
		returns = append(returns, equity[i].Sub(prev).Div(prev).InexactFloat64())
	}
	m.Sharpe = sharpe(returns)
	return m
}

func sharpe(returns []float64) float64 {
	n := len(returns)
	if n == 0 {
		return 0
	}
	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(n)

	variance := 0.0
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(n)

	std := math.Sqrt(variance)
	if std == 0 {
		return 0
	}
	return mean / std * math.Sqrt(252)
}
