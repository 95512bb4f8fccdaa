package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "values.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "mode: paper\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.PollInterval != 20*time.Minute || cfg.LimitTimeout != 300*time.Second || cfg.OrderPollInterval != 10*time.Second {
		t.Fatalf("durations = %s %s %s", cfg.PollInterval, cfg.LimitTimeout, cfg.OrderPollInterval)
	}
	if cfg.FractionPct != 2 || cfg.MinNotional != 5 || cfg.MaxNotional != 10000 || cfg.LimitOffsetPct != 0.1 {
		t.Fatalf("sizing = %+v", cfg)
	}
	if cfg.ReconcileTolerance != 0.0001 || cfg.RetryCount != 3 || cfg.BackoffBase != time.Second {
		t.Fatalf("tolerance/retry = %v %d %s", cfg.ReconcileTolerance, cfg.RetryCount, cfg.BackoffBase)
	}
	if len(cfg.Timeframes) != 2 || cfg.Timeframes[0].Bar != "1D" || cfg.Timeframes[1].Limit != 24 {
		t.Fatalf("timeframes = %+v", cfg.Timeframes)
	}
	if p := cfg.RetryPolicy(); p.Retries != 3 || p.BaseDelay != time.Second {
		t.Fatalf("retry policy = %+v", p)
	}
}

func TestLoadOverridesFromYAMLAndEnv(t *testing.T) {
	t.Setenv("TELEGRAM_TOKEN", "tg-token")
	t.Setenv("TELEGRAM_CHAT_ID", "42")
	t.Setenv("DATABASE_DSN", "postgres://u:p@db/trade")

	cfg, err := Load(writeConfig(t, `
mode: paper
instruments: [ETH-USDT-SWAP, BTC-USDT-SWAP]
poll_interval: 5m
limit_offset_pct: 0.05
journal:
  backend: pg
`))
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Instruments) != 2 || cfg.Instruments[0] != "ETH-USDT-SWAP" {
		t.Fatalf("instruments = %v", cfg.Instruments)
	}
	if cfg.PollInterval != 5*time.Minute || cfg.LimitOffsetPct != 0.05 {
		t.Fatalf("overrides = %s %v", cfg.PollInterval, cfg.LimitOffsetPct)
	}
	if cfg.Telegram.Token != "tg-token" || cfg.Telegram.ChatID != 42 || cfg.DB != "postgres://u:p@db/trade" {
		t.Fatalf("env = %+v %s", cfg.Telegram, cfg.DB)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"unknown mode", "mode: yolo\n", "Mode"},
		{"no instruments", "instruments: []\n", "Instruments"},
		{"zero fraction", "fraction_pct: 0\n", "FractionPct"},
		{"max below min", "min_notional: 50\nmax_notional: 10\n", "max_notional"},
		{"live without keys", "mode: live\n", "OKX_API_KEY"},
		{"llm without key", "decision:\n  source: llm\n", "LLM_API_KEY"},
		{"no cancel rounds", "cancel_attempts: 0\n", "CancelAttempts"},
		{"pg without dsn", "journal:\n  backend: pg\n", "db_dsn"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			for _, k := range []string{"OKX_API_KEY", "OKX_API_SECRET", "OKX_PASSPHRASE", "LLM_API_KEY", "DATABASE_DSN", "MODE"} {
				t.Setenv(k, "")
			}
			_, err := Load(writeConfig(t, c.body))
			if err == nil || !strings.Contains(err.Error(), c.want) {
				t.Fatalf("err = %v, want mention of %q", err, c.want)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("missing file must fail")
	}
}

func TestShutdownTimeoutCoversWholeLeg(t *testing.T) {
	cfg, err := Load(writeConfig(t, "mode: paper\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.CancelAttempts != 10 {
		t.Fatalf("cancel attempts = %d", cfg.CancelAttempts)
	}
	// 60s решение + 2*300s ордера + 3*10*(10s + 2*7s) отмены + 8*7s ретраи + 60s
	if got := cfg.ShutdownTimeout(); got != 1496*time.Second {
		t.Fatalf("shutdown timeout = %s", got)
	}
	if got, floor := cfg.ShutdownTimeout(), cfg.DecisionTimeout+2*cfg.LimitTimeout; got <= floor {
		t.Fatalf("shutdown timeout %s must exceed decision + limit + market wait %s", got, floor)
	}

	longer, err := Load(writeConfig(t, "mode: paper\nlimit_timeout: 600s\n"))
	if err != nil {
		t.Fatal(err)
	}
	if diff := longer.ShutdownTimeout() - cfg.ShutdownTimeout(); diff != 600*time.Second {
		t.Fatalf("doubling limit_timeout added %s, want 600s", diff)
	}
}
