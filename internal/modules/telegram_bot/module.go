package telegram

import (
	"context"
	"trade_pilot/internal/exchange"
	"trade_pilot/internal/journal"
	"trade_pilot/internal/modules/config"
	"trade_pilot/internal/notify"
	"trade_pilot/pkg/logger"

	"go.uber.org/fx"
)

// NewNotifier Telegram, если задан токен, иначе всё в лог.
func NewNotifier(lc fx.Lifecycle, cfg *config.Config, store journal.Store, md exchange.MarketData) (notify.Notifier, error) {
	if cfg.Telegram.Token == "" || cfg.Telegram.ChatID == 0 {
		logger.Info("[TG] token or chat id not set, alerts go to log")
		return notify.NewStdout(), nil
	}
	t, err := notify.NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID)
	if err != nil {
		return nil, err
	}
	t.WithCommands(store, md, cfg.Instruments)

	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			return t.Start(ctx)
		},
		OnStop: func(context.Context) error {
			cancel()
			t.Stop()
			return nil
		},
	})
	return t, nil
}

func Module() fx.Option {
	return fx.Module("telegram",
		fx.Provide(NewNotifier),
	)
}
