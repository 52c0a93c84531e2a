package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	DB        DBConfig        `mapstructure:"db"`
	Cron      CronConfig      `mapstructure:"cron"`
	Broker    BrokerConfig    `mapstructure:"broker"`
	Exchange  ExchangeConfig  `mapstructure:"exchange"`
	Forecasts ForecastsConfig `mapstructure:"forecasts"`
	Prices    PricesConfig    `mapstructure:"prices"`
	Potential PotentialConfig `mapstructure:"potential"`
	Retention RetentionConfig `mapstructure:"retention"`
	Export    ExportConfig    `mapstructure:"export"`
}

type AppConfig struct {
	Env string `mapstructure:"env"`
}

type ServerConfig struct {
	HTTPAddr string `mapstructure:"http_addr"`
}

type LogConfig struct {
	Level             string `mapstructure:"level"`
	Encoding          string `mapstructure:"encoding"`
	Development       bool   `mapstructure:"development"`
	Sampling          bool   `mapstructure:"sampling"`
	DisableCaller     bool   `mapstructure:"disable_caller"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`
}

type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Timezone        string        `mapstructure:"timezone"`
}

type CronConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	FullSync string `mapstructure:"full_sync"`
}

// BrokerConfig covers the forecast/instrument API. Token may be empty: the
// forecast stages then degrade to a warned no-op while price sync proceeds.
type BrokerConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	Token       string        `mapstructure:"token"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	BackoffBase time.Duration `mapstructure:"backoff_base"`
}

type ExchangeConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	Board       string        `mapstructure:"board"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	BackoffBase time.Duration `mapstructure:"backoff_base"`
}

type ForecastsConfig struct {
	AutoFetchOnAdd bool          `mapstructure:"auto_fetch_on_add"`
	Concurrency    int           `mapstructure:"concurrency"`
	BatchTimeout   time.Duration `mapstructure:"batch_timeout"`
	SleepPerUID    time.Duration `mapstructure:"sleep_per_uid"`
}

type PricesConfig struct {
	HorizonDays     int           `mapstructure:"horizon_days"`
	GlobalBudget    time.Duration `mapstructure:"global_budget"`
	InstrumentLimit int           `mapstructure:"instrument_limit"`
}

type PotentialConfig struct {
	StaleDays     int     `mapstructure:"stale_days"`
	MaxPrice      float64 `mapstructure:"max_price"`
	RetentionDays int     `mapstructure:"retention_days"`
}

type RetentionConfig struct {
	MaxConsensusPerUID   int `mapstructure:"max_consensus_per_uid"`
	MaxTargetsPerAnalyst int `mapstructure:"max_targets_per_analyst"`
	MaxHistoryDays       int `mapstructure:"max_history_days"`
}

type ExportConfig struct {
	Dir string `mapstructure:"dir"`
}

func Load(path string, envOnly bool) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("INVEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetDefault("app.env", "dev")
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.development", true)
	v.SetDefault("log.sampling", false)
	v.SetDefault("log.disable_caller", false)
	v.SetDefault("log.disable_stacktrace", false)
	v.SetDefault("db.max_open_conns", 20)
	v.SetDefault("db.max_idle_conns", 5)
	v.SetDefault("db.conn_max_lifetime", "30m")
	v.SetDefault("db.conn_max_idle_time", "5m")
	v.SetDefault("db.timezone", "UTC")
	v.SetDefault("cron.enabled", true)
	v.SetDefault("cron.full_sync", "@every 24h")
	v.SetDefault("broker.base_url", "https://invest-public-api.tbank.ru/rest/tinkoff.public.invest.api.contract.v1.InstrumentsService")
	v.SetDefault("broker.token", "")
	v.SetDefault("broker.timeout", "15s")
	v.SetDefault("broker.max_attempts", 3)
	v.SetDefault("broker.backoff_base", "500ms")
	v.SetDefault("exchange.base_url", "https://iss.moex.com")
	v.SetDefault("exchange.board", "TQBR")
	v.SetDefault("exchange.timeout", "25s")
	v.SetDefault("exchange.max_attempts", 4)
	v.SetDefault("exchange.backoff_base", "700ms")
	v.SetDefault("forecasts.auto_fetch_on_add", true)
	v.SetDefault("forecasts.concurrency", 5)
	v.SetDefault("forecasts.batch_timeout", "0s")
	v.SetDefault("forecasts.sleep_per_uid", "0s")
	v.SetDefault("prices.horizon_days", 1100)
	v.SetDefault("prices.global_budget", "0s")
	v.SetDefault("prices.instrument_limit", 0)
	v.SetDefault("potential.stale_days", 10)
	v.SetDefault("potential.max_price", 1000000)
	v.SetDefault("potential.retention_days", 0)
	v.SetDefault("retention.max_consensus_per_uid", 300)
	v.SetDefault("retention.max_targets_per_analyst", 100)
	v.SetDefault("retention.max_history_days", 1000)
	v.SetDefault("export.dir", ".")

	if !envOnly {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}
