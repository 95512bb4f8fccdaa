package okx_client

import (
	"trade_pilot/internal/modules/config"
	"trade_pilot/internal/modules/okx_client/service"
	okxws "trade_pilot/internal/modules/okx_websocket/service"

	"go.uber.org/fx"
)

type Params struct {
	fx.In

	Cfg *config.Config
	// кэш bid/ask из вебсокета, если стрим включён
	Quotes *okxws.Client `optional:"true"`
}

func NewClient(p Params) *service.Client {
	c := service.NewClient(service.Config{
		BaseURL:    p.Cfg.OKX.BaseURL,
		APIKey:     p.Cfg.OKX.APIKey,
		APISecret:  p.Cfg.OKX.APISecret,
		Passphrase: p.Cfg.OKX.Passphrase,
		Simulated:  p.Cfg.OKX.Simulated,
		TdMode:     p.Cfg.MarginMode,
		Timeout:    p.Cfg.OKX.Timeout,
	})
	if p.Quotes != nil {
		c.WithQuotes(p.Quotes)
	}
	return c
}

// Module REST-клиент OKX.
func Module() fx.Option {
	return fx.Module("okx_client",
		fx.Provide(NewClient),
	)
}
