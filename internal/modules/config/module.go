package config

import (
	"trade_pilot/pkg/retry"

	"go.uber.org/fx"
)

// Module уже загруженный конфиг и производные от него настройки.
func Module(cfg *Config) fx.Option {
	return fx.Module("config",
		fx.Supply(cfg),
		fx.Provide(
			func(c *Config) retry.Policy { return c.RetryPolicy() },
		),
	)
}
