package okx_websocket

import (
	"context"
	"trade_pilot/internal/modules/config"
	health "trade_pilot/internal/modules/health/service"
	"trade_pilot/internal/modules/okx_websocket/service"

	"go.uber.org/fx"
)

func NewClient(cfg *config.Config, state *health.State) *service.Client {
	return service.NewClient(cfg.OKX.WSURL, cfg.Instruments, state)
}

// Module поднимает стрим tickers OKX: лучшие bid/ask для лимиток без REST-запроса.
func Module() fx.Option {
	return fx.Module("okx_websocket",
		fx.Provide(NewClient),
		fx.Invoke(func(lc fx.Lifecycle, s *service.Client) {
			ctx, cancel := context.WithCancel(context.Background())
			lc.Append(fx.Hook{
				OnStart: func(context.Context) error {
					s.Start(ctx)
					return nil
				},
				OnStop: func(context.Context) error {
					cancel()
					return nil
				},
			})
		}),
	)
}
