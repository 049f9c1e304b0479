package storage

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/web3guy0/papersim/export"
	"github.com/web3guy0/papersim/types"
)

type Database struct {
	db *gorm.DB
}

// Models

// Run is one completed simulation session with its summary metrics.
type Run struct {
	ID             uint            `gorm:"primaryKey;autoIncrement"`
	Label          string          `gorm:"index"`
	InitialBalance decimal.Decimal `gorm:"type:decimal(20,6)"`
	FinalEquity    decimal.Decimal `gorm:"type:decimal(20,6)"`
	PnL            decimal.Decimal `gorm:"type:decimal(20,6)"`
	MaxDrawdown    float64
	Sharpe         float64
	TradeCount     int
	StartedAt      time.Time
	FinishedAt     time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// RunTrade is one ledger entry belonging to a run.
type RunTrade struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	RunID       uint   `gorm:"index"`
	Instrument  string `gorm:"index"`
	Side        string
	Size        decimal.Decimal `gorm:"type:decimal(20,6)"`
	EntryPrice  decimal.Decimal `gorm:"type:decimal(20,6)"`
	ExitPrice   decimal.Decimal `gorm:"type:decimal(20,6)"`
	RealizedPnL decimal.Decimal `gorm:"type:decimal(20,6)"`
	Closed      bool
	ExecutedAt  time.Time
	CreatedAt   time.Time
}

// EquityPoint is one equity curve sample belonging to a run.
type EquityPoint struct {
	ID        uint            `gorm:"primaryKey;autoIncrement"`
	RunID     uint            `gorm:"index"`
	Seq       int             `gorm:"index"`
	Equity    decimal.Decimal `gorm:"type:decimal(20,6)"`
	CreatedAt time.Time
}

func New(dbPath string) (*Database, error) {
	var db *gorm.DB
	var err error

	// Check if this is a PostgreSQL connection string
	if strings.HasPrefix(dbPath, "postgres://") || strings.HasPrefix(dbPath, "postgresql://") {
		db, err = gorm.Open(postgres.Open(dbPath), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, err
		}
		log.Info().Msg("Database connected (PostgreSQL)")
	} else {
		// SQLite fallback
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
		db, err = gorm.Open(sqlite.Open(dbPath), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, err
		}
		log.Info().Str("path", dbPath).Msg("Database initialized (SQLite)")
	}

	if err := db.AutoMigrate(&Run{}, &RunTrade{}, &EquityPoint{}); err != nil {
		return nil, err
	}

	return &Database{db: db}, nil
}

// Run operations

// SaveRun persists an export document as a run with its trades and equity
// curve, all in one transaction.
func (d *Database) SaveRun(label string, r export.Result) (uint, error) {
	run := Run{
		Label:          label,
		InitialBalance: r.Meta.InitialBalance,
		PnL:            r.Metrics.PnL,
		MaxDrawdown:    r.Metrics.MaxDrawdown,
		Sharpe:         r.Metrics.Sharpe,
		TradeCount:     r.Meta.TradeCount,
		FinishedAt:     r.Meta.GeneratedAt,
	}
	if len(r.Equity) > 0 {
		run.FinalEquity = r.Equity[len(r.Equity)-1]
	}
	if len(r.Trades) > 0 {
		run.StartedAt = r.Trades[0].Timestamp
	}

	err := d.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&run).Error; err != nil {
			return err
		}
		for _, t := range r.Trades {
			rt := RunTrade{
				RunID:       run.ID,
				Instrument:  t.Instrument,
				Side:        string(t.Side),
				Size:        t.Size,
				EntryPrice:  t.EntryPrice,
				ExitPrice:   t.ExitPrice,
				RealizedPnL: t.RealizedPnL,
				Closed:      t.Closed,
				ExecutedAt:  t.Timestamp,
			}
			if err := tx.Create(&rt).Error; err != nil {
				return err
			}
		}
		for i, e := range r.Equity {
			ep := EquityPoint{RunID: run.ID, Seq: i, Equity: e}
			if err := tx.Create(&ep).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	log.Info().
		Uint("run_id", run.ID).
		Str("label", label).
		Str("pnl", run.PnL.StringFixed(2)).
		Int("trades", run.TradeCount).
		Msg("💾 Run saved")
	return run.ID, nil
}

// GetRun retrieves a single run by ID
func (d *Database) GetRun(id uint) (*Run, error) {
	var run Run
	err := d.db.First(&run, "id = ?", id).Error
	return &run, err
}

// GetRecentRuns gets recent runs, newest first
func (d *Database) GetRecentRuns(limit int) ([]Run, error) {
	var runs []Run
	err := d.db.Order("created_at DESC").Limit(limit).Find(&runs).Error
	return runs, err
}

// GetRunTrades gets all trades for a run in execution order
func (d *Database) GetRunTrades(runID uint) ([]types.Trade, error) {
	var rows []RunTrade
	if err := d.db.Where("run_id = ?", runID).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	trades := make([]types.Trade, 0, len(rows))
	for _, r := range rows {
		trades = append(trades, types.Trade{
			Instrument:  r.Instrument,
			Side:        types.Side(r.Side),
			Size:        r.Size,
			EntryPrice:  r.EntryPrice,
			ExitPrice:   r.ExitPrice,
			RealizedPnL: r.RealizedPnL,
			Closed:      r.Closed,
			Timestamp:   r.ExecutedAt,
		})
	}
	return trades, nil
}

// GetRunEquity gets the equity curve for a run in sample order
func (d *Database) GetRunEquity(runID uint) ([]decimal.Decimal, error) {
	var rows []EquityPoint
	if err := d.db.Where("run_id = ?", runID).Order("seq ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	curve := make([]decimal.Decimal, 0, len(rows))
	for _, r := range rows {
		curve = append(curve, r.Equity)
	}
	return curve, nil
}

// GetTotalPnL sums realized PnL across all saved runs
func (d *Database) GetTotalPnL() (decimal.Decimal, error) {
	var result struct {
		Total decimal.Decimal
	}
	err := d.db.Model(&Run{}).Select("COALESCE(SUM(pn_l), 0) as total").Scan(&result).Error
	return result.Total, err
}

// GetStats gets aggregate statistics across all saved runs
func (d *Database) GetStats() (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	var runCount int64
	d.db.Model(&Run{}).Count(&runCount)
	stats["total_runs"] = runCount

	var tradeCount int64
	d.db.Model(&RunTrade{}).Count(&tradeCount)
	stats["total_trades"] = tradeCount

	var winCount int64
	d.db.Model(&Run{}).Where("pn_l > 0").Count(&winCount)
	stats["winning_runs"] = winCount

	pnl, _ := d.GetTotalPnL()
	stats["total_pnl"] = pnl

	return stats, nil
}
