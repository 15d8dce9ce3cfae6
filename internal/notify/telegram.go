// Package notify sends one-way Telegram alerts for position lifecycle
// events. A nil *Notifier drops everything, so callers never branch.
package notify

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"

	"github.com/web3guy0/hedgebot/internal/state"
	"github.com/web3guy0/hedgebot/internal/trader"
)

type Notifier struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

// New creates a notifier, or nil when token is empty.
func New(token string, chatID int64) (*Notifier, error) {
	if token == "" || chatID == 0 {
		log.Info().Msg("Telegram not configured, alerts disabled")
		return nil, nil
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram init: %w", err)
	}
	log.Info().Str("bot", bot.Self.UserName).Msg("Telegram alerts enabled")
	return &Notifier{bot: bot, chatID: chatID}, nil
}

func (n *Notifier) send(text string) {
	if n == nil {
		return
	}
	msg := tgbotapi.NewMessage(n.chatID, text)
	if _, err := n.bot.Send(msg); err != nil {
		log.Warn().Err(err).Msg("Telegram send failed")
	}
}

// Opened announces a freshly opened pair.
func (n *Notifier) Opened(pos *state.Position) {
	n.send(fmt.Sprintf("📈 Opened %s\nLong %s / Short %s\nSize %s @ avg %s\nExpected net APR %.2f%%",
		pos.Symbol, pos.LongVenue, pos.ShortVenue,
		pos.SizeBase.String(), pos.AvgMid.StringFixed(4), pos.ExpectedNetAPR))
}

// Closed announces a completed cycle.
func (n *Notifier) Closed(pos *state.Position, status string, pnl *trader.PairPnL) {
	text := fmt.Sprintf("📉 Closed %s (%s)", pos.Symbol, status)
	if pnl != nil {
		text += fmt.Sprintf("\nPnL %s (%.2f%%)", pnl.CombinedPnL.StringFixed(4), pnl.CombinedPct)
	}
	n.send(text)
}

// StopLoss warns that the worst leg breached the drawdown threshold.
func (n *Notifier) StopLoss(pos *state.Position, pnl *trader.PairPnL) {
	text := fmt.Sprintf("🛑 Stop-loss on %s", pos.Symbol)
	if pnl != nil {
		text += fmt.Sprintf("\nWorst leg %s: %.2f%%", pnl.WorstVenue, pnl.WorstLegPct)
	}
	n.send(text)
}

// Error reports a failed cycle step.
func (n *Notifier) Error(err error) {
	n.send(fmt.Sprintf("❌ Cycle error: %v", err))
}
