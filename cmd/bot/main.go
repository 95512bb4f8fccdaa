package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"trade_pilot/internal/modules/config"
	"trade_pilot/internal/modules/health"
	journalmod "trade_pilot/internal/modules/journal"
	okxclient "trade_pilot/internal/modules/okx_client"
	okxws "trade_pilot/internal/modules/okx_websocket"
	"trade_pilot/internal/modules/postgres"
	telegram "trade_pilot/internal/modules/telegram_bot"
	"trade_pilot/internal/runner"
	"trade_pilot/pkg/logger"
	"trade_pilot/pkg/tracing"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/fx"
)

const serviceName = "trade_pilot"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("TRADE_PILOT")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	root := &cobra.Command{
		Use:           serviceName,
		Short:         "position manager for one OKX perpetual per instrument",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", "", "config file (default configs/$CONFIG_FILE or configs/values_local.yaml)")
	root.PersistentFlags().String("mode", "", "paper or live, overrides config")
	_ = v.BindPFlag("config", root.PersistentFlags().Lookup("config"))
	_ = v.BindPFlag("mode", root.PersistentFlags().Lookup("mode"))

	run := &cobra.Command{
		Use:   "run",
		Short: "run the trading loop",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			return runApp(cfg)
		},
	}
	root.AddCommand(run, tradesCmd(v), lastTradeCmd(v))
	// без подкоманды: торговый цикл
	root.RunE = run.RunE
	return root
}

// loadConfig yaml + env, затем флаги/TRADE_PILOT_* поверх.
func loadConfig(v *viper.Viper) (*config.Config, error) {
	cfg, err := config.NewConfig(v.GetString("config"))
	if err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	if mode := v.GetString("mode"); mode != "" && mode != cfg.Mode {
		cfg.Mode = mode
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func runApp(cfg *config.Config) error {
	logger.SetServiceName(serviceName)
	tracing.SetServiceName(serviceName)
	if err := logger.Init(cfg.Log); err != nil {
		return errors.Wrap(err, "init logger")
	}
	defer logger.Sync()

	_, closeTracer, err := tracing.InitTracer(cfg.Tracing)
	if err != nil {
		return errors.Wrap(err, "init tracer")
	}
	defer closeTracer()

	opts := []fx.Option{
		fx.Provide(
			func() context.Context {
				return context.Background()
			},
		),
		// цикл на остановке доводится до LOG: ожидание лимитки, маркета и отмен
		fx.StopTimeout(cfg.ShutdownTimeout()),
		config.Module(cfg),
		health.Module(),
		okxclient.Module(),
		journalmod.Module(),
		telegram.Module(),
		runner.Module(),
	}
	if cfg.OKX.Stream {
		opts = append(opts, okxws.Module())
	}
	if cfg.Journal.Backend == "pg" {
		opts = append(opts, postgres.Module())
	}

	logger.Info("[MAIN] %s mode=%s instruments=%v decision=%s journal=%s",
		serviceName, cfg.Mode, cfg.Instruments, cfg.Decision.Source, cfg.Journal.Backend)
	app := fx.New(opts...)
	if err := app.Err(); err != nil {
		return err
	}
	app.Run()
	return nil
}
