package postgres

import (
	"context"
	"fmt"
	"trade_pilot/internal/modules/config"
	"trade_pilot/pkg/db"

	"go.uber.org/fx"
)

// Module пул к postgres для журнала. Подключается только при journal.backend=pg.
func Module() fx.Option {
	return fx.Module("postgres",
		fx.Provide(
			func(lc fx.Lifecycle, ctx context.Context, cfg *config.Config) (*db.PgTxManager, error) {
				poolMaster, err := db.NewPool(ctx, db.PoolConfig{
					DSN:      cfg.DB,
					MaxConns: 4,
				})
				if err != nil {
					return nil, fmt.Errorf("failed to create poolMaster: %w", err)
				}

				err = poolMaster.Ping(ctx)
				if err != nil {
					poolMaster.Close()
					return nil, err
				}

				tm := db.NewPgTxManager(poolMaster)
				lc.Append(fx.StopHook(tm.Close))
				return tm, nil
			},
		),
	)
}
