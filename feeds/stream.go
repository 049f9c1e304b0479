package feeds

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/papersim/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// LIVE TICK RECORDER - WebSocket capture for replay histories
// ═══════════════════════════════════════════════════════════════════════════════
//
// Connects to a Binance-style trade stream and records ticks into per
// instrument histories that the scheduler can replay later. A capture
// session, not a trading path: nothing here touches the executor.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Recorder captures live trades into replay histories.
type Recorder struct {
	wsURL   string
	symbols []string

	mu       sync.RWMutex
	conn     *websocket.Conn
	running  bool
	stopCh   chan struct{}
	captured map[string][]types.Tick

	onTick TickHandler
}

// binance trade stream payload, combined-stream envelope stripped upstream
type streamTrade struct {
	EventType string `json:"e"`
	Symbol    string `json:"s"`
	Price     string `json:"p"`
	Quantity  string `json:"q"`
	TradeTime int64  `json:"T"`
}

// NewRecorder captures the given symbols from a trade stream endpoint,
// e.g. wss://stream.binance.com:9443/ws.
func NewRecorder(wsURL string, symbols []string) *Recorder {
	return &Recorder{
		wsURL:    wsURL,
		symbols:  symbols,
		stopCh:   make(chan struct{}),
		captured: make(map[string][]types.Tick),
	}
}

// SetTickCallback sets a hook invoked for every captured tick.
func (r *Recorder) SetTickCallback(fn TickHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onTick = fn
}

// Start connects and begins capturing. Reconnects on read errors until Stop.
func (r *Recorder) Start() error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = true
	r.mu.Unlock()

	go r.run()

	log.Info().Strs("symbols", r.symbols).Msg("📡 Tick recorder started")
	return nil
}

// Stop closes the connection and ends the capture session.
func (r *Recorder) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		return
	}
	r.running = false
	close(r.stopCh)
	if r.conn != nil {
		r.conn.Close()
	}
	log.Info().Msg("Tick recorder stopped")
}

func (r *Recorder) run() {
	for r.isRunning() {
		if err := r.connect(); err != nil {
			log.Error().Err(err).Msg("WebSocket connection failed")
			select {
			case <-r.stopCh:
				return
			case <-time.After(5 * time.Second):
			}
			continue
		}

		r.readMessages()

		if r.isRunning() {
			log.Warn().Msg("WebSocket disconnected, reconnecting...")
			time.Sleep(1 * time.Second)
		}
	}
}

func (r *Recorder) connect() error {
	streams := make([]string, len(r.symbols))
	for i, s := range r.symbols {
		streams[i] = strings.ToLower(s) + "@trade"
	}
	url := fmt.Sprintf("%s/%s", r.wsURL, strings.Join(streams, "/"))

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.Dial(url, nil)
	if err != nil {
		return fmt.Errorf("websocket dial failed: %w", err)
	}

	r.mu.Lock()
	r.conn = conn
	r.mu.Unlock()

	log.Info().Str("url", url).Msg("🔌 WebSocket connected")
	return nil
}

func (r *Recorder) readMessages() {
	for r.isRunning() {
		_, message, err := r.conn.ReadMessage()
		if err != nil {
			if r.isRunning() {
				log.Error().Err(err).Msg("WebSocket read error")
			}
			return
		}
		r.handleMessage(message)
	}
}

func (r *Recorder) handleMessage(data []byte) {
	var msg streamTrade
	if err := json.Unmarshal(data, &msg); err != nil || msg.EventType != "trade" {
		return
	}

	price, err := decimal.NewFromString(msg.Price)
	if err != nil {
		return
	}
	qty, _ := decimal.NewFromString(msg.Quantity)

	tick := types.Tick{
		Timestamp:  time.UnixMilli(msg.TradeTime),
		Instrument: msg.Symbol,
		Price:      price,
		Volume:     qty,
		Raw:        json.RawMessage(data),
	}

	r.mu.Lock()
	r.captured[tick.Instrument] = append(r.captured[tick.Instrument], tick)
	fn := r.onTick
	r.mu.Unlock()

	if fn != nil {
		fn(tick)
	}
}

func (r *Recorder) isRunning() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.running
}

// TickCount returns the number of ticks captured for an instrument.
func (r *Recorder) TickCount(instrument string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.captured[instrument])
}

// Histories snapshots the capture into replayable per-instrument histories.
func (r *Recorder) Histories() map[string]History {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]History, len(r.captured))
	for inst, ticks := range r.captured {
		cp := make([]types.Tick, len(ticks))
		copy(cp, ticks)
		out[inst] = History{Ticks: cp}
	}
	return out
}
