package runner

import (
	"context"
	"errors"
	"fmt"
	"trade_pilot/internal/decision"
	"trade_pilot/internal/exchange"
	"trade_pilot/internal/execution"
	"trade_pilot/internal/indicators"
	"trade_pilot/internal/journal"
	"trade_pilot/internal/modules/config"
	health "trade_pilot/internal/modules/health/service"
	okx "trade_pilot/internal/modules/okx_client/service"
	"trade_pilot/internal/notify"
	"trade_pilot/internal/tracker"
	"trade_pilot/pkg/logger"
	"trade_pilot/pkg/retry"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
)

// NewExchange live: OKX напрямую, paper: симуляция поверх публичных данных OKX.
func NewExchange(cfg *config.Config, client *okx.Client) exchange.Exchange {
	if cfg.Mode == config.ModeLive {
		return client
	}
	logger.Info("[RUNNER] paper mode, balance %.2f USDT", cfg.PaperBalance)
	return exchange.NewPaper(client, exchange.PaperConfig{
		Balance:  decimal.NewFromFloat(cfg.PaperBalance),
		Leverage: cfg.Leverage,
	})
}

// NewSource llm или правило EMA/RSI.
func NewSource(cfg *config.Config) decision.Source {
	if cfg.Decision.Source == "llm" {
		return newLLM(cfg)
	}
	r := cfg.Decision.Rule
	bar := ""
	if n := len(cfg.Timeframes); n > 0 {
		bar = cfg.Timeframes[n-1].Bar
	}
	return decision.NewRule(decision.RuleConfig{
		Bar:        bar,
		EMAShort:   r.EMAShort,
		EMALong:    r.EMALong,
		RSIPeriod:  r.RSIPeriod,
		Overbought: r.Overbought,
		Oversold:   r.Oversold,
	})
}

func newLLM(cfg *config.Config) *decision.LLM {
	l := cfg.Decision.LLM
	return decision.NewLLM(decision.LLMConfig{
		BaseURL:     l.BaseURL,
		APIKey:      l.APIKey,
		Model:       l.Model,
		Temperature: l.Temperature,
		Timeout:     cfg.DecisionTimeout,
	})
}

func newLock(lc fx.Lifecycle, cfg *config.Config) Lock {
	if cfg.Redis.Addr == "" {
		return NewLocalLock()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	lc.Append(fx.StopHook(client.Close))
	logger.Info("[RUNNER] cycle lock in redis %s", cfg.Redis.Addr)
	return NewRedisLock(client, cfg.Redis.LockTTL)
}

type Params struct {
	fx.In

	Lc       fx.Lifecycle
	Cfg      *config.Config
	Exchange exchange.Exchange
	Source   decision.Source
	Journal  journal.Store
	Notifier notify.Notifier
	Health   *health.State
	Retry    retry.Policy
}

// Build по раннеру на инструмент: свой трекер и движок, общие клиенты.
func Build(p Params) *Manager {
	cfg := p.Cfg
	lock := newLock(p.Lc, cfg)

	var reflector *decision.Reflector
	if cfg.Decision.Reflection {
		var llm decision.Completer
		if cfg.Decision.LLM.APIKey != "" {
			llm = newLLM(cfg)
		}
		reflector = decision.NewReflector(llm)
	}
	var fng FearGreedFeed
	if cfg.Decision.FearGreed.Enabled {
		fng = decision.NewFearGreed(cfg.Decision.FearGreed.URL)
	}

	timeframes := make([]Timeframe, 0, len(cfg.Timeframes))
	for _, tf := range cfg.Timeframes {
		timeframes = append(timeframes, Timeframe{Bar: tf.Bar, Limit: tf.Limit})
	}
	sizing := execution.FixedFraction{
		FractionPct: decimal.NewFromFloat(cfg.FractionPct),
		MinNotional: decimal.NewFromFloat(cfg.MinNotional),
		MaxNotional: decimal.NewFromFloat(cfg.MaxNotional),
	}

	runners := make([]*Runner, 0, len(cfg.Instruments))
	for _, inst := range cfg.Instruments {
		engine := execution.NewEngine(execution.Config{
			InstID:         inst,
			LimitOffsetPct: decimal.NewFromFloat(cfg.LimitOffsetPct),
			LimitTimeout:   cfg.LimitTimeout,
			PollInterval:   cfg.OrderPollInterval,
			Leverage:       cfg.Leverage,
			MarginMode:     cfg.MarginMode,
			Retry:          p.Retry,
			CancelAttempts: cfg.CancelAttempts,
		}, p.Exchange, sizing)

		runners = append(runners, New(Config{
			InstID:          inst,
			Timeframes:      timeframes,
			PollInterval:    cfg.PollInterval,
			DecisionTimeout: cfg.DecisionTimeout,
			RecentWindow:    cfg.RecentTradesWindow,
			RecentLimit:     cfg.RecentTradesLimit,
			Retry:           p.Retry,
		}, Deps{
			Market:    p.Exchange,
			Executor:  engine,
			Tracker:   tracker.New(inst, decimal.NewFromFloat(cfg.ReconcileTolerance)),
			Enricher:  indicators.Talib{},
			Source:    p.Source,
			Journal:   p.Journal,
			Notifier:  p.Notifier,
			Lock:      lock,
			Reflector: reflector,
			FearGreed: fng,
			Health:    p.Health,
		}))
	}
	return NewManager(runners...)
}

// checkAuth ключи проверяем до первого цикла: ошибка авторизации фатальна.
func checkAuth(ctx context.Context, cfg *config.Config, ex exchange.Exchange) error {
	if cfg.Mode != config.ModeLive {
		return nil
	}
	if _, err := ex.GetBalance(ctx); err != nil {
		if errors.Is(err, exchange.ErrAuth) {
			return fmt.Errorf("okx credentials: %w", err)
		}
		logger.Warn("[RUNNER] balance check failed, continuing: %v", err)
	}
	return nil
}

func Module() fx.Option {
	return fx.Module("runner",
		fx.Provide(
			NewExchange,
			func(ex exchange.Exchange) exchange.MarketData { return ex },
			NewSource,
			Build,
		),
		fx.Invoke(func(lc fx.Lifecycle, cfg *config.Config, ex exchange.Exchange, m *Manager) {
			lc.Append(fx.Hook{
				OnStart: func(ctx context.Context) error {
					if err := checkAuth(ctx, cfg, ex); err != nil {
						return err
					}
					return m.Start(context.Background())
				},
				OnStop: func(ctx context.Context) error {
					return m.Stop(ctx)
				},
			})
		}),
	)
}
