package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"trade_pilot/internal/exchange"
	"trade_pilot/internal/journal"
	"trade_pilot/internal/models"
	"trade_pilot/pkg/logger"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type Notifier interface {
	Send(msg string)
	Sendf(format string, args ...any)
}

// Telegram пассивный нотифайер + команды /last и /position.
type Telegram struct {
	bot    *tgbot.BotAPI
	chatID int64

	journal     journal.Store
	md          exchange.MarketData
	instruments []string
}

func NewTelegram(token string, chatID int64) (*Telegram, error) {
	b, err := tgbot.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	return &Telegram{bot: b, chatID: chatID}, nil
}

// WithCommands источники для ответов на команды.
func (t *Telegram) WithCommands(store journal.Store, md exchange.MarketData, instruments []string) *Telegram {
	t.journal = store
	t.md = md
	t.instruments = instruments
	return t
}

func (t *Telegram) Send(msg string) {
	if t == nil || t.bot == nil || t.chatID == 0 {
		return
	}
	if _, err := t.bot.Send(tgbot.NewMessage(t.chatID, msg)); err != nil {
		logger.Warn("[TG] send: %v", err)
	}
}

func (t *Telegram) Sendf(format string, args ...any) { t.Send(fmt.Sprintf(format, args...)) }

// /last последняя запись журнала
func (t *Telegram) handleLast(ctx context.Context) {
	if t.journal == nil {
		t.Send("❗️ Журнал не подключён")
		return
	}
	rec, err := t.journal.Last(ctx)
	if errors.Is(err, journal.ErrNotFound) {
		t.Send("📭 Сделок ещё не было")
		return
	}
	if err != nil {
		t.Sendf("❗️ Ошибка чтения журнала: %v", err)
		return
	}
	t.Send(FormatTradeRecord(rec))
}

// /position позиции на бирже по всем инструментам
func (t *Telegram) handlePosition(ctx context.Context) {
	if t.md == nil {
		t.Send("❗️ Клиент биржи не инициализирован")
		return
	}
	var b strings.Builder
	b.WriteString("📊 Позиции:\n")
	for _, inst := range t.instruments {
		p, err := t.md.GetPosition(ctx, inst)
		if err != nil {
			fmt.Fprintf(&b, "- %s: ошибка %v\n", inst, err)
			continue
		}
		fmt.Fprintf(&b, "- %s: %s\n", inst, p)
	}
	t.Send(b.String())
}

// Start: long-polling для команд из нашего чата.
func (t *Telegram) Start(ctx context.Context) error {
	if t == nil || t.bot == nil {
		return nil
	}

	u := tgbot.NewUpdate(0)
	u.Timeout = 30
	u.AllowedUpdates = []string{"message"}

	updates := t.bot.GetUpdatesChan(u)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case upd, ok := <-updates:
				if !ok {
					return
				}
				if upd.Message == nil || upd.Message.Chat == nil ||
					upd.Message.Chat.ID != t.chatID || !upd.Message.IsCommand() {
					continue
				}
				cctx, cancel := context.WithTimeout(ctx, 15*time.Second)
				switch upd.Message.Command() {
				case "last":
					t.handleLast(cctx)
				case "position":
					t.handlePosition(cctx)
				}
				cancel()
			}
		}
	}()
	return nil
}

func (t *Telegram) Stop() {
	if t == nil || t.bot == nil {
		return
	}
	t.bot.StopReceivingUpdates()
}

// Stdout заглушка, всё в лог.
type Stdout struct{}

func NewStdout() *Stdout                           { return &Stdout{} }
func (s *Stdout) Send(msg string)                  { logger.Info("[NOTIFY] %s", msg) }
func (s *Stdout) Sendf(format string, args ...any) { logger.Info("[NOTIFY] "+format, args...) }

// FormatTradeRecord сводка по записи журнала для чата.
func FormatTradeRecord(rec models.TradeRecord) string {
	var b strings.Builder
	emoji := "✅"
	switch rec.Outcome {
	case models.OutcomeNoop:
		emoji = "⏸"
	case models.OutcomeReconcileMismatch, models.OutcomeFailed, models.OutcomePartialFallbackFailed:
		emoji = "⚠️"
	case models.OutcomeRejected, models.OutcomeInvalidTransition:
		emoji = "❌"
	}
	fmt.Fprintf(&b, "%s %s %s\n", emoji, rec.InstID, rec.CycleAt.UTC().Format("2006-01-02 15:04 MST"))
	fmt.Fprintf(&b, "Decision: %s (%.0f%%)\n", rec.Decision.Action, rec.Decision.Confidence*100)
	fmt.Fprintf(&b, "Outcome: %s at %s\n", rec.Outcome, rec.Stage)
	fmt.Fprintf(&b, "Position: %s → %s\n", rec.PositionBefore, rec.PositionAfter)
	if rec.RealizedPnL.Valid {
		fmt.Fprintf(&b, "Realized PnL: %s USDT\n", rec.RealizedPnL.Decimal.StringFixed(2))
	}
	fmt.Fprintf(&b, "Balance: %s USDT, price %s\n", rec.Balance.StringFixed(2), rec.Price.String())
	if rec.Reason != "" {
		fmt.Fprintf(&b, "Reason: %s\n", rec.Reason)
	}
	if rec.Decision.Rationale != "" {
		fmt.Fprintf(&b, "Why: %s\n", rec.Decision.Rationale)
	}
	return strings.TrimRight(b.String(), "\n")
}

// FormatMismatch алерт расхождения позиции.
func FormatMismatch(instID string, local, exch models.Position) string {
	return fmt.Sprintf("⚠️ %s: позиция разошлась с биржей, цикл пропущен\nlocal: %s\nexchange: %s", instID, local, exch)
}
