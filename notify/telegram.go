package notify

import (
	"fmt"
	"os"
	"strconv"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/papersim/risk"
)

// ═══════════════════════════════════════════════════════════════════════════════
// TELEGRAM NOTIFIER - Simulation alerts & control
// ═══════════════════════════════════════════════════════════════════════════════
//
// Features:
//   🛡️ Safety event alerts (halts, trailing stops, drawdown)
//   💰 Run summaries (PnL, drawdown, Sharpe)
//   🎛️ Control commands (/status, /pause, /resume, /help)
//
// A nil *Telegram is a valid disabled notifier, every method is a no-op.
//
// ═══════════════════════════════════════════════════════════════════════════════

// StatsProvider supplies the numbers for /status and summaries.
type StatsProvider interface {
	Summary() (trades int, pnl, equity decimal.Decimal, maxDrawdown, sharpe float64)
	SafetyStatus() risk.Status
}

// Telegram manages the Telegram interface
type Telegram struct {
	mu      sync.RWMutex
	api     *tgbotapi.BotAPI
	chatID  int64
	running bool
	stopCh  chan struct{}

	stats StatsProvider

	// Control callbacks
	onPause  func()
	onResume func()
}

// New creates a notifier from TELEGRAM_BOT_TOKEN / TELEGRAM_CHAT_ID. Returns
// (nil, nil) when the token is unset so callers can run without Telegram.
func New(stats StatsProvider) (*Telegram, error) {
	token := os.Getenv("TELEGRAM_BOT_TOKEN")
	if token == "" {
		log.Debug().Msg("TELEGRAM_BOT_TOKEN not set, notifications disabled")
		return nil, nil
	}

	chatIDStr := os.Getenv("TELEGRAM_CHAT_ID")
	if chatIDStr == "" {
		return nil, fmt.Errorf("TELEGRAM_CHAT_ID not set")
	}

	chatID, err := strconv.ParseInt(chatIDStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID: %w", err)
	}

	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	t := &Telegram{
		api:    api,
		chatID: chatID,
		stopCh: make(chan struct{}),
		stats:  stats,
	}

	log.Info().Str("username", api.Self.UserName).Msg("🤖 Telegram notifier initialized")
	return t, nil
}

// SetControlCallbacks sets pause/resume handlers
func (t *Telegram) SetControlCallbacks(onPause, onResume func()) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onPause = onPause
	t.onResume = onResume
}

// Start begins listening for commands
func (t *Telegram) Start() {
	if t == nil {
		return
	}
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return
	}
	t.running = true
	t.mu.Unlock()

	go t.commandLoop()
	log.Info().Msg("📱 Telegram notifier started")
}

// Stop stops the notifier
func (t *Telegram) Stop() {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.running {
		return
	}

	t.running = false
	t.api.StopReceivingUpdates()
	close(t.stopCh)
	log.Info().Msg("Telegram notifier stopped")
}

// ═══════════════════════════════════════════════════════════════════════════════
// NOTIFICATIONS
// ═══════════════════════════════════════════════════════════════════════════════

// OnSafetyEvent is the risk.Listener hook. Subscribe it with
// safety.Subscribe(notifier.OnSafetyEvent).
func (t *Telegram) OnSafetyEvent(ev risk.Event) {
	if t == nil {
		return
	}

	var emoji string
	switch ev.Kind {
	case risk.EventHalt, risk.EventBreakerTrip:
		emoji = "🛑"
	case risk.EventResume:
		emoji = "▶️"
	case risk.EventTrailingStop:
		emoji = "📉"
	case risk.EventProfitTarget:
		emoji = "🎯"
	case risk.EventDrawdownTrip:
		emoji = "⚠️"
	default:
		emoji = "📌"
	}

	inst := ev.Instrument
	if inst == "" {
		inst = "all instruments"
	}

	msg := fmt.Sprintf(`%s *SAFETY EVENT*

🛡️ %s
📊 %s
📝 %s`,
		emoji, ev.Kind, inst, ev.Reason,
	)
	t.sendMarkdown(msg)
}

// NotifyRunSummary sends the end-of-run report.
func (t *Telegram) NotifyRunSummary() {
	if t == nil || t.stats == nil {
		return
	}

	trades, pnl, equity, maxDD, sharpe := t.stats.Summary()

	emoji := "📈"
	sign := "+"
	if pnl.IsNegative() {
		emoji = "📉"
		sign = ""
	}

	msg := fmt.Sprintf(`%s *RUN SUMMARY*
━━━━━━━━━━━━━━━━━━━━

📊 Trades: *%d*
💵 P&L: *%s$%s*
💰 Equity: *$%s*

━━━━━━━━━━━━━━━━━━━━
📉 Max Drawdown: *%.2f%%*
📐 Sharpe: *%.2f*`,
		emoji,
		trades,
		sign, pnl.StringFixed(2),
		equity.StringFixed(2),
		maxDD*100, sharpe,
	)

	t.sendMarkdown(msg)
}

// NotifyStartup sends the session banner.
func (t *Telegram) NotifyStartup(instruments int, balance decimal.Decimal) {
	if t == nil {
		return
	}

	msg := fmt.Sprintf(`🚀 *PAPERSIM STARTED*
━━━━━━━━━━━━━━━━━━━━

📊 Instruments: *%d*
💰 Balance: *$%s*

Use /help for commands`,
		instruments, balance.StringFixed(2),
	)

	t.sendMarkdown(msg)
}

// NotifyError sends an error alert
func (t *Telegram) NotifyError(err error) {
	if t == nil {
		return
	}
	t.sendMarkdown(fmt.Sprintf("⚠️ *ERROR*\n\n`%s`", err.Error()))
}

// ═══════════════════════════════════════════════════════════════════════════════
// COMMAND HANDLING
// ═══════════════════════════════════════════════════════════════════════════════

func (t *Telegram) commandLoop() {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	updates := t.api.GetUpdatesChan(u)

	for {
		select {
		case <-t.stopCh:
			return
		case update := <-updates:
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}
			// Only respond to authorized chat
			if update.Message.Chat.ID != t.chatID {
				continue
			}
			t.handleCommand(update.Message)
		}
	}
}

func (t *Telegram) handleCommand(msg *tgbotapi.Message) {
	switch msg.Command() {
	case "help":
		t.cmdHelp()
	case "status":
		t.cmdStatus()
	case "pause":
		t.cmdPause()
	case "resume":
		t.cmdResume()
	default:
		t.send("Unknown command, try /help")
	}
}

func (t *Telegram) cmdHelp() {
	t.sendMarkdown(`*Commands*

/status — safety state & session numbers
/pause — pause the replay
/resume — resume the replay & clear halts
/help — this message`)
}

func (t *Telegram) cmdStatus() {
	if t.stats == nil {
		t.send("No stats provider configured")
		return
	}

	st := t.stats.SafetyStatus()
	trades, pnl, equity, _, _ := t.stats.Summary()

	state := "✅ Trading allowed"
	if !st.CanTrade.Allowed {
		state = "🛑 " + st.CanTrade.Reason
	}

	sign := "+"
	if pnl.IsNegative() {
		sign = ""
	}

	msg := fmt.Sprintf(`🛡️ *STATUS*
━━━━━━━━━━━━━━━━━━━━

%s

📊 Trades: *%d*
💵 P&L: *%s$%s*
💰 Equity: *$%s*
📉 Drawdown: *%s%%*
🔁 Window losses: *%d/%d*`,
		state,
		trades,
		sign, pnl.StringFixed(2),
		equity.StringFixed(2),
		st.DrawdownPct.StringFixed(2),
		st.WindowLosses, st.MaxLosses,
	)

	t.sendMarkdown(msg)
}

func (t *Telegram) cmdPause() {
	t.mu.RLock()
	fn := t.onPause
	t.mu.RUnlock()

	if fn == nil {
		t.send("Pause not wired")
		return
	}
	fn()
	t.send("⏸️ Replay paused")
}

func (t *Telegram) cmdResume() {
	t.mu.RLock()
	fn := t.onResume
	t.mu.RUnlock()

	if fn == nil {
		t.send("Resume not wired")
		return
	}
	fn()
	t.send("▶️ Replay resumed")
}

// ═══════════════════════════════════════════════════════════════════════════════
// SENDING
// ═══════════════════════════════════════════════════════════════════════════════

func (t *Telegram) send(text string) {
	msg := tgbotapi.NewMessage(t.chatID, text)
	if _, err := t.api.Send(msg); err != nil {
		log.Error().Err(err).Msg("Failed to send Telegram message")
	}
}

func (t *Telegram) sendMarkdown(text string) {
	msg := tgbotapi.NewMessage(t.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	if _, err := t.api.Send(msg); err != nil {
		log.Error().Err(err).Msg("Failed to send Telegram message")
	}
}
