package config

import (
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/papersim/risk"
)

// Config holds all configuration for the simulator
type Config struct {
	// Mode
	Debug bool

	// Account
	InitialBalance decimal.Decimal

	// Replay
	HistoryPath string  // JSON tick history to load
	ReplayRate  float64 // ticks per second, <=0 runs to completion synchronously
	RunLabel    string

	// Safety
	MaxLosses           int
	LossWindow          time.Duration
	MaxDrawdownPct      decimal.Decimal
	TrailingEnabled     bool
	TrailingActivation  decimal.Decimal
	TrailingCallback    decimal.Decimal
	ProfitTargetEnabled bool
	ProfitTarget        decimal.Decimal

	// Live capture
	StreamURL string // websocket source for recording tick history, optional

	// Outputs
	DatabasePath string
	ExportCSV    string
	ExportJSON   string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Debug: getEnvBool("DEBUG", false),

		InitialBalance: getEnvDecimal("INITIAL_BALANCE", decimal.NewFromInt(10000)),

		HistoryPath: getEnv("HISTORY_PATH", "data/history.json"),
		ReplayRate:  getEnvFloat("REPLAY_RATE", 0),
		RunLabel:    getEnv("RUN_LABEL", "replay"),

		MaxLosses:           getEnvInt("MAX_LOSSES", 20),
		LossWindow:          getEnvDuration("LOSS_WINDOW", 3*time.Minute),
		MaxDrawdownPct:      getEnvDecimal("MAX_DRAWDOWN_PCT", decimal.NewFromInt(10)),
		TrailingEnabled:     getEnvBool("TRAILING_ENABLED", true),
		TrailingActivation:  getEnvDecimal("TRAILING_ACTIVATION_PCT", decimal.NewFromFloat(1.2)),
		TrailingCallback:    getEnvDecimal("TRAILING_CALLBACK_PCT", decimal.NewFromFloat(0.8)),
		ProfitTargetEnabled: getEnvBool("PROFIT_TARGET_ENABLED", false),
		ProfitTarget:        getEnvDecimal("PROFIT_TARGET", decimal.NewFromInt(100)),

		StreamURL: os.Getenv("STREAM_URL"),

		DatabasePath: getEnv("DATABASE_PATH", "data/papersim.db"),
		ExportCSV:    os.Getenv("EXPORT_CSV"),
		ExportJSON:   os.Getenv("EXPORT_JSON"),
	}

	return cfg, nil
}

// RiskConfig maps the env settings onto the safety controller's config.
func (c *Config) RiskConfig() risk.Config {
	return risk.Config{
		MaxLosses:      c.MaxLosses,
		LossWindow:     c.LossWindow,
		MaxDrawdownPct: c.MaxDrawdownPct,
		Trailing: risk.TrailingConfig{
			Enabled:       c.TrailingEnabled,
			ActivationPct: c.TrailingActivation,
			CallbackPct:   c.TrailingCallback,
		},
		ProfitTargetEnabled: c.ProfitTargetEnabled,
		ProfitTarget:        c.ProfitTarget,
	}
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	return defaultValue
}
