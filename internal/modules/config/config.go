package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"trade_pilot/pkg/logger"
	"trade_pilot/pkg/retry"
	"trade_pilot/pkg/tracing"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

const (
	configFilePathENV = "CONFIG_FILE"
	tokenTelegramENV  = "TELEGRAM_TOKEN"
	chatTelegramENV   = "TELEGRAM_CHAT_ID"
	databaseDSN       = "DATABASE_DSN"
	okxKeyENV         = "OKX_API_KEY"
	okxSecretENV      = "OKX_API_SECRET"
	okxPassphraseENV  = "OKX_PASSPHRASE"
	llmKeyENV         = "LLM_API_KEY"

	ModePaper = "paper"
	ModeLive  = "live"
)

// Timeframe один таймфрейм для FETCH: бар и сколько свечей.
type Timeframe struct {
	Bar   string `yaml:"bar" validate:"required"`
	Limit int    `yaml:"limit" validate:"gt=0,lte=300"`
}

// Config ...
type Config struct {
	Mode        string      `yaml:"mode" validate:"oneof=paper live"`
	Instruments []string    `yaml:"instruments" validate:"min=1,dive,required"`
	Timeframes  []Timeframe `yaml:"timeframes" validate:"min=1,dive"`

	// Цикл
	PollInterval       time.Duration `yaml:"poll_interval" validate:"gt=0"`
	DecisionTimeout    time.Duration `yaml:"decision_timeout" validate:"gt=0"`
	RecentTradesWindow time.Duration `yaml:"recent_trades_window"`
	RecentTradesLimit  int           `yaml:"recent_trades_limit"`

	// Исполнение
	LimitTimeout      time.Duration `yaml:"limit_timeout" validate:"gt=0"`
	OrderPollInterval time.Duration `yaml:"order_poll_interval" validate:"gt=0"`
	CancelAttempts    int           `yaml:"cancel_attempts" validate:"gte=1,lte=50"`
	LimitOffsetPct    float64       `yaml:"limit_offset_pct" validate:"gte=0,lt=5"`
	Leverage          int           `yaml:"leverage" validate:"gte=0,lte=125"`
	MarginMode        string        `yaml:"margin_mode" validate:"oneof=cross isolated"`

	// Размер позиции: notional = balance * fraction_pct% * confidence
	FractionPct float64 `yaml:"fraction_pct" validate:"gt=0,lte=100"`
	MinNotional float64 `yaml:"min_notional" validate:"gte=0"`
	MaxNotional float64 `yaml:"max_notional" validate:"gte=0"`

	ReconcileTolerance float64       `yaml:"reconcile_tolerance" validate:"gte=0"`
	RetryCount         int           `yaml:"retry_count" validate:"gte=0,lte=10"`
	BackoffBase        time.Duration `yaml:"backoff_base"`

	// Paper-режим: стартовый баланс симуляции
	PaperBalance float64 `yaml:"paper_balance" validate:"gte=0"`

	OKX struct {
		BaseURL    string        `yaml:"base_url"`
		WSURL      string        `yaml:"ws_url"`
		APIKey     string        `yaml:"api_key"`
		APISecret  string        `yaml:"api_secret"`
		Passphrase string        `yaml:"passphrase"`
		Simulated  bool          `yaml:"simulated"`
		Timeout    time.Duration `yaml:"timeout"`
		Stream     bool          `yaml:"stream"`
	} `yaml:"okx"`

	Decision struct {
		Source string `yaml:"source" validate:"oneof=llm rule"`
		LLM    struct {
			BaseURL     string  `yaml:"base_url"`
			APIKey      string  `yaml:"api_key"`
			Model       string  `yaml:"model"`
			Temperature float64 `yaml:"temperature"`
		} `yaml:"llm"`
		Rule struct {
			EMAShort   int     `yaml:"ema_short" validate:"gt=0"`
			EMALong    int     `yaml:"ema_long" validate:"gtfield=EMAShort"`
			RSIPeriod  int     `yaml:"rsi_period" validate:"gt=0"`
			Overbought float64 `yaml:"rsi_overbought"`
			Oversold   float64 `yaml:"rsi_oversold"`
		} `yaml:"rule"`
		FearGreed struct {
			Enabled bool   `yaml:"enabled"`
			URL     string `yaml:"url"`
		} `yaml:"fear_greed"`
		Reflection bool `yaml:"reflection"`
	} `yaml:"decision"`

	Journal struct {
		Backend    string `yaml:"backend" validate:"oneof=sqlite pg memory"`
		SQLitePath string `yaml:"sqlite_path"`
	} `yaml:"journal"`
	DB string `yaml:"db_dsn"`

	Kafka struct {
		Brokers []string `yaml:"brokers"`
		Topic   string   `yaml:"topic"`
	} `yaml:"kafka"`

	Redis struct {
		Addr     string        `yaml:"addr"`
		Password string        `yaml:"password"`
		DB       int           `yaml:"db"`
		LockTTL  time.Duration `yaml:"lock_ttl"`
	} `yaml:"redis"`

	Telegram struct {
		Token  string `yaml:"token"`
		ChatID int64  `yaml:"chat_id"`
	} `yaml:"telegram"`

	Health struct {
		Addr string `yaml:"addr"`
	} `yaml:"health"`

	Log     logger.Config  `yaml:"log"`
	Tracing tracing.Config `yaml:"tracing"`
}

// Default значения, если в yaml ничего не указано.
func Default() Config {
	cfg := Config{
		Mode:        getenvDefault("MODE", ModePaper),
		Instruments: []string{"BTC-USDT-SWAP"},
		Timeframes: []Timeframe{
			{Bar: "1D", Limit: 30},
			{Bar: "1H", Limit: 24},
		},

		PollInterval:       durationFromEnv("POLL_INTERVAL", "20m"),
		DecisionTimeout:    durationFromEnv("DECISION_TIMEOUT", "60s"),
		RecentTradesWindow: 7 * 24 * time.Hour,
		RecentTradesLimit:  20,

		LimitTimeout:      durationFromEnv("LIMIT_TIMEOUT", "300s"),
		OrderPollInterval: durationFromEnv("ORDER_POLL_INTERVAL", "10s"),
		CancelAttempts:    intFromEnv("CANCEL_ATTEMPTS", 10),
		LimitOffsetPct:    floatFromEnv("LIMIT_OFFSET_PCT", 0.1),
		Leverage:          intFromEnv("LEVERAGE", 10),
		MarginMode:        getenvDefault("MARGIN_MODE", "isolated"),

		FractionPct: floatFromEnv("FRACTION_PCT", 2),
		MinNotional: 5,
		MaxNotional: 10000,

		ReconcileTolerance: 0.0001,
		RetryCount:         intFromEnv("RETRY_COUNT", 3),
		BackoffBase:        durationFromEnv("BACKOFF_BASE", "1s"),

		PaperBalance: floatFromEnv("PAPER_BALANCE", 10000),
	}

	cfg.OKX.BaseURL = "https://www.okx.com"
	cfg.OKX.WSURL = "wss://ws.okx.com:8443/ws/v5/public"
	cfg.OKX.Timeout = 10 * time.Second
	cfg.OKX.Simulated = boolFromEnv("OKX_SIMULATED", false)

	cfg.Decision.Source = "rule"
	cfg.Decision.LLM.BaseURL = "https://api.deepseek.com"
	cfg.Decision.LLM.Model = "deepseek-chat"
	cfg.Decision.LLM.Temperature = 0.2
	cfg.Decision.Rule.EMAShort = 9
	cfg.Decision.Rule.EMALong = 21
	cfg.Decision.Rule.RSIPeriod = 14
	cfg.Decision.Rule.Overbought = 70
	cfg.Decision.Rule.Oversold = 30
	cfg.Decision.FearGreed.URL = "https://api.alternative.me"

	cfg.Journal.Backend = "sqlite"
	cfg.Journal.SQLitePath = "trade_pilot.db"

	cfg.Kafka.Topic = "trade-records"
	cfg.Redis.LockTTL = 30 * time.Minute
	cfg.Health.Addr = ":8080"
	cfg.Log.Level = "info"
	cfg.Tracing.Host = "localhost"
	cfg.Tracing.Port = 6831
	return cfg
}

// NewConfig .env, затем path. Пустой path: configs/$CONFIG_FILE (по умолчанию values_local.yaml).
func NewConfig(path string) (*Config, error) {
	_ = godotenv.Load()

	configFileName := path
	if configFileName == "" {
		configFileName = os.Getenv(configFilePathENV)
	}
	if configFileName == "" {
		configFileName = "values_local.yaml"
	}
	path = configFileName
	if !filepath.IsAbs(path) && !strings.Contains(path, string(filepath.Separator)) {
		path = filepath.Join("configs", configFileName)
	}
	return Load(path)
}

// Load читает yaml поверх дефолтов, применяет env и валидирует.
func Load(path string) (*Config, error) {
	config := Default()

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config file %s: %w", path, err)
	}
	defer func() {
		_ = file.Close()
	}()

	if err := yaml.NewDecoder(file).Decode(&config); err != nil {
		return nil, fmt.Errorf("decode config file %s: %w", path, err)
	}

	config.applyEnv()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) applyEnv() {
	if token := os.Getenv(tokenTelegramENV); token != "" {
		c.Telegram.Token = token
	}
	if chat := os.Getenv(chatTelegramENV); chat != "" {
		if id, err := strconv.ParseInt(chat, 10, 64); err == nil {
			c.Telegram.ChatID = id
		}
	}
	if dsn := os.Getenv(databaseDSN); dsn != "" {
		c.DB = dsn
	}
	c.OKX.APIKey = getenvDefault(okxKeyENV, c.OKX.APIKey)
	c.OKX.APISecret = getenvDefault(okxSecretENV, c.OKX.APISecret)
	c.OKX.Passphrase = getenvDefault(okxPassphraseENV, c.OKX.Passphrase)
	c.Decision.LLM.APIKey = getenvDefault(llmKeyENV, c.Decision.LLM.APIKey)
}

var validate = validator.New()

// Validate теги validator + связки полей, которые тегами не выразить.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.MaxNotional > 0 && c.MaxNotional < c.MinNotional {
		return fmt.Errorf("invalid config: max_notional %.2f < min_notional %.2f", c.MaxNotional, c.MinNotional)
	}
	if c.Mode == ModeLive && (c.OKX.APIKey == "" || c.OKX.APISecret == "" || c.OKX.Passphrase == "") {
		return fmt.Errorf("invalid config: live mode requires %s, %s and %s", okxKeyENV, okxSecretENV, okxPassphraseENV)
	}
	if c.Decision.Source == "llm" && c.Decision.LLM.APIKey == "" {
		return fmt.Errorf("invalid config: llm decision source requires %s", llmKeyENV)
	}
	if c.Journal.Backend == "pg" && c.DB == "" {
		return fmt.Errorf("invalid config: pg journal requires db_dsn or %s", databaseDSN)
	}
	return nil
}

// callsPerCycle вызовы биржи за цикл вне ожидания ордеров: снимок рынка, позиция,
// баланс, инструмент, котировка, две постановки, сверка.
const callsPerCycle = 8

// ShutdownTimeout сколько ждать цикл на остановке в худшем случае: решение, лимитка
// и маркет по LimitTimeout, три серии отмен (брошенный ордер, лимитка, маркет),
// ретраи каждого вызова биржи и минута запаса.
func (c *Config) ShutdownTimeout() time.Duration {
	budget := c.RetryPolicy().Budget()
	cancelRound := c.OrderPollInterval + 2*budget
	return c.DecisionTimeout +
		2*c.LimitTimeout +
		3*time.Duration(c.CancelAttempts)*cancelRound +
		callsPerCycle*budget +
		time.Minute
}

func (c *Config) RetryPolicy() retry.Policy {
	p := retry.DefaultPolicy()
	p.Retries = c.RetryCount
	if c.BackoffBase > 0 {
		p.BaseDelay = c.BackoffBase
	}
	return p
}

func intFromEnv(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func floatFromEnv(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func boolFromEnv(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if v == "1" || v == "true" || v == "TRUE" {
			return true
		}
		if v == "0" || v == "false" || v == "FALSE" {
			return false
		}
	}
	return def
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func durationFromEnv(key, def string) time.Duration {
	val := getenvDefault(key, def)
	d, err := time.ParseDuration(val)
	if err != nil {
		d, _ = time.ParseDuration(def)
	}
	return d
}
