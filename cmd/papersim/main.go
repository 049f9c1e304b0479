package main

import (
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/papersim/config"
	"github.com/web3guy0/papersim/core"
	"github.com/web3guy0/papersim/export"
	"github.com/web3guy0/papersim/feeds"
	"github.com/web3guy0/papersim/notify"
	"github.com/web3guy0/papersim/storage"
	"github.com/web3guy0/papersim/strategy"
)

func main() {
	// ═══════════════════════════════════════════════════════════════════════════════
	// BOOTSTRAP
	// ═══════════════════════════════════════════════════════════════════════════════

	// Load environment
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("No .env file found")
	}

	// Setup logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	log.Info().Msg("═══════════════════════════════════════════════════════════════")
	log.Info().Msg("              PAPERSIM - TICK REPLAY PAPER TRADER")
	log.Info().Msg("═══════════════════════════════════════════════════════════════")

	// Capture mode: record a live stream into a history file and exit
	if cfg.StreamURL != "" {
		runCapture(cfg)
		return
	}

	runReplay(cfg)
}

// ═══════════════════════════════════════════════════════════════════════════════
// REPLAY
// ═══════════════════════════════════════════════════════════════════════════════

func runReplay(cfg *config.Config) {
	histories, err := feeds.LoadHistoryFile(cfg.HistoryPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.HistoryPath).Msg("Failed to load tick history")
	}
	if len(histories) == 0 {
		log.Fatal().Str("path", cfg.HistoryPath).Msg("History file has no instruments")
	}

	// Storage is optional, replay continues without persistence
	db, err := storage.New(cfg.DatabasePath)
	if err != nil {
		log.Warn().Err(err).Msg("Database unavailable, continuing without persistence")
		db = nil
	}

	engine := core.NewEngine(feeds.NewRealClock(), cfg.InitialBalance, cfg.RiskConfig())
	engine.Load(histories)
	engine.AttachStrategy(strategy.NewMomentum(
		decimal.NewFromFloat(0.5),
		decimal.NewFromFloat(0.5),
		decimal.NewFromInt(1),
	))

	// Telegram is optional too
	notifier, err := notify.New(engine)
	if err != nil {
		log.Warn().Err(err).Msg("Telegram unavailable, continuing without notifications")
	}
	notifier.SetControlCallbacks(
		engine.Pause,
		func() {
			engine.Safety().Resume()
			engine.Start(cfg.ReplayRate)
		},
	)
	engine.Safety().Subscribe(notifier.OnSafetyEvent)
	notifier.Start()
	defer notifier.Stop()
	notifier.NotifyStartup(len(histories), cfg.InitialBalance)

	if cfg.ReplayRate > 0 {
		engine.Start(cfg.ReplayRate)
		waitForDone(engine)
	} else {
		engine.RunToEnd()
	}

	// ═══════════════════════════════════════════════════════════════════════════════
	// RESULTS
	// ═══════════════════════════════════════════════════════════════════════════════

	trades, pnl, equity, maxDD, sharpe := engine.Summary()
	log.Info().
		Int("trades", trades).
		Str("pnl", pnl.StringFixed(2)).
		Str("equity", equity.StringFixed(2)).
		Float64("max_drawdown_pct", maxDD*100).
		Float64("sharpe", sharpe).
		Msg("📊 Replay complete")

	notifier.NotifyRunSummary()

	result := export.Build(engine.Tracker())
	if cfg.ExportCSV != "" {
		writeExport(cfg.ExportCSV, func(f *os.File) error { return export.WriteCSV(f, result) })
	}
	if cfg.ExportJSON != "" {
		writeExport(cfg.ExportJSON, func(f *os.File) error { return export.WriteJSON(f, result) })
	}
	if db != nil {
		if _, err := db.SaveRun(cfg.RunLabel, result); err != nil {
			log.Error().Err(err).Msg("Failed to persist run")
		}
	}
}

func waitForDone(engine *core.Engine) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-sigCh:
			log.Warn().Msg("Interrupted, stopping replay")
			engine.Pause()
			return
		case <-ticker.C:
			if engine.Scheduler().Done() {
				engine.Pause()
				return
			}
		}
	}
}

func writeExport(path string, write func(*os.File) error) {
	f, err := os.Create(path)
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("Failed to create export file")
		return
	}
	defer f.Close()
	if err := write(f); err != nil {
		log.Error().Err(err).Str("path", path).Msg("Failed to write export")
		return
	}
	log.Info().Str("path", path).Msg("📤 Results exported")
}

// ═══════════════════════════════════════════════════════════════════════════════
// CAPTURE
// ═══════════════════════════════════════════════════════════════════════════════

func runCapture(cfg *config.Config) {
	symbols := []string{"BTCUSDT"}
	if s := os.Getenv("STREAM_SYMBOLS"); s != "" {
		symbols = splitCSV(s)
	}

	rec := feeds.NewRecorder(cfg.StreamURL, symbols)
	if err := rec.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start recorder")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	rec.Stop()
	if err := feeds.SaveHistoryFile(cfg.HistoryPath, rec.Histories()); err != nil {
		log.Fatal().Err(err).Msg("Failed to save capture")
	}
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
