package notify

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/papersim/risk"
)

func TestNewWithoutTokenIsDisabled(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "")

	n, err := New(nil)
	require.NoError(t, err)
	assert.Nil(t, n)
}

func TestNewRequiresChatID(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("TELEGRAM_CHAT_ID", "")

	_, err := New(nil)
	assert.Error(t, err)
}

func TestNewRejectsMalformedChatID(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("TELEGRAM_CHAT_ID", "not-a-number")

	_, err := New(nil)
	assert.Error(t, err)
}

// A nil notifier is the disabled state, every method must be a no-op.
func TestNilNotifierIsSafe(t *testing.T) {
	var n *Telegram

	require.NotPanics(t, func() {
		n.Start()
		n.Stop()
		n.SetControlCallbacks(func() {}, func() {})
		n.NotifyStartup(2, decimal.NewFromInt(1000))
		n.NotifyRunSummary()
		n.NotifyError(errors.New("boom"))
		n.OnSafetyEvent(risk.Event{Kind: risk.EventHalt, Reason: "manual"})
	})
}
