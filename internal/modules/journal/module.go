package journal

import (
	"context"
	"fmt"
	"trade_pilot/internal/journal"
	"trade_pilot/internal/modules/config"
	"trade_pilot/pkg/db"
	"trade_pilot/pkg/logger"

	"go.uber.org/fx"
)

type Params struct {
	fx.In

	Ctx context.Context
	Cfg *config.Config
	// есть только при backend=pg
	PG *db.PgTxManager `optional:"true"`
}

// NewStore backend из конфига + kafka fan-out, если заданы брокеры.
func NewStore(lc fx.Lifecycle, p Params) (journal.Store, error) {
	var (
		store journal.Store
		err   error
	)
	switch p.Cfg.Journal.Backend {
	case "pg":
		if p.PG == nil {
			return nil, fmt.Errorf("journal backend pg requires postgres module")
		}
		store, err = journal.NewPostgres(p.Ctx, p.PG)
	case "memory":
		store = journal.NewMemory()
	default:
		store, err = journal.OpenSQLite(p.Cfg.Journal.SQLitePath)
	}
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", p.Cfg.Journal.Backend, err)
	}

	if len(p.Cfg.Kafka.Brokers) > 0 {
		pub, err := journal.NewKafka(p.Cfg.Kafka.Brokers, p.Cfg.Kafka.Topic)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		store = journal.WithPublishers(store, pub)
		logger.Info("[JOURNAL] publishing to kafka topic %s", p.Cfg.Kafka.Topic)
	}

	logger.Info("[JOURNAL] backend %s", p.Cfg.Journal.Backend)
	lc.Append(fx.StopHook(store.Close))
	return store, nil
}

func Module() fx.Option {
	return fx.Module("journal",
		fx.Provide(NewStore),
	)
}
