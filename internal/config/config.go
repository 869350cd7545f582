package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App    AppConfig    `mapstructure:"app"`
	Server ServerConfig `mapstructure:"server"`
	Log    LogConfig    `mapstructure:"log"`
	DB     DBConfig     `mapstructure:"db"`
	Redis  RedisConfig  `mapstructure:"redis"`

	Prices     PricesConfig     `mapstructure:"prices"`
	TWAP       TWAPConfig       `mapstructure:"twap"`
	Pair       PairConfig       `mapstructure:"pair"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Automation AutomationConfig `mapstructure:"automation"`
	Escrow     EscrowConfig     `mapstructure:"escrow"`
	Notify     NotifyConfig     `mapstructure:"notify"`
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

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type PricesConfig struct {
	CacheTTL         time.Duration `mapstructure:"cache_ttl"`
	OutlierThreshold float64       `mapstructure:"outlier_threshold"`
	RecordInterval   time.Duration `mapstructure:"record_interval"`
	FetchTimeout     time.Duration `mapstructure:"fetch_timeout"`

	Sources PriceSourcesConfig `mapstructure:"sources"`
}

type PriceSourcesConfig struct {
	Binance       SourceConfig        `mapstructure:"binance"`
	Coinbase      SourceConfig        `mapstructure:"coinbase"`
	Kraken        SourceConfig        `mapstructure:"kraken"`
	Coingecko     SourceConfig        `mapstructure:"coingecko"`
	BinanceStream BinanceStreamConfig `mapstructure:"binance_stream"`
}

type SourceConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	BaseURL string  `mapstructure:"base_url"`
	Weight  float64 `mapstructure:"weight"`
}

type BinanceStreamConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	URL     string  `mapstructure:"url"`
	Weight  float64 `mapstructure:"weight"`

	// MaxAge bounds how stale a streamed trade may be before the adapter
	// reports itself unavailable.
	MaxAge time.Duration `mapstructure:"max_age"`
}

type TWAPConfig struct {
	WindowMinutes int `mapstructure:"window_minutes"`
}

type PairConfig struct {
	MaxCapRatio      float64       `mapstructure:"max_cap_ratio"`
	RepetitionWindow time.Duration `mapstructure:"repetition_window"`
	Blacklist        []string      `mapstructure:"blacklist"`
}

type SchedulerConfig struct {
	Tick              time.Duration `mapstructure:"tick"`
	SetupLead         time.Duration `mapstructure:"setup_lead"`
	VotingDuration    time.Duration `mapstructure:"voting_duration"`
	ActiveDuration    time.Duration `mapstructure:"active_duration"`
	StakeAmount       float64       `mapstructure:"stake_amount"`
	FeeBps            int           `mapstructure:"fee_bps"`
	MarketDataRefresh time.Duration `mapstructure:"market_data_refresh"`
}

type AutomationConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	CreationInterval time.Duration `mapstructure:"creation_interval"`
	MaxConcurrent    int           `mapstructure:"max_concurrent"`
	FailureThreshold int           `mapstructure:"failure_threshold"`
}

type EscrowConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type NotifyConfig struct {
	WebhookURL string `mapstructure:"webhook_url"`
}

func Load(path string, envOnly bool) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TD")
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
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("prices.cache_ttl", "30s")
	v.SetDefault("prices.outlier_threshold", 0.10)
	v.SetDefault("prices.record_interval", "1m")
	v.SetDefault("prices.fetch_timeout", "10s")
	v.SetDefault("prices.sources.binance.enabled", true)
	v.SetDefault("prices.sources.binance.base_url", "https://api.binance.com")
	v.SetDefault("prices.sources.binance.weight", 1.0)
	v.SetDefault("prices.sources.coinbase.enabled", true)
	v.SetDefault("prices.sources.coinbase.base_url", "https://api.coinbase.com")
	v.SetDefault("prices.sources.coinbase.weight", 0.9)
	v.SetDefault("prices.sources.kraken.enabled", true)
	v.SetDefault("prices.sources.kraken.base_url", "https://api.kraken.com")
	v.SetDefault("prices.sources.kraken.weight", 0.8)
	v.SetDefault("prices.sources.coingecko.enabled", true)
	v.SetDefault("prices.sources.coingecko.base_url", "https://api.coingecko.com")
	v.SetDefault("prices.sources.coingecko.weight", 0.7)
	v.SetDefault("prices.sources.binance_stream.enabled", false)
	v.SetDefault("prices.sources.binance_stream.url", "wss://stream.binance.com:9443/ws")
	v.SetDefault("prices.sources.binance_stream.weight", 1.0)
	v.SetDefault("prices.sources.binance_stream.max_age", "15s")

	v.SetDefault("twap.window_minutes", 10)

	v.SetDefault("pair.max_cap_ratio", 1.10)
	v.SetDefault("pair.repetition_window", "24h")

	v.SetDefault("scheduler.tick", "30s")
	v.SetDefault("scheduler.setup_lead", "2m")
	v.SetDefault("scheduler.voting_duration", "10m")
	v.SetDefault("scheduler.active_duration", "1h")
	v.SetDefault("scheduler.stake_amount", 0.1)
	v.SetDefault("scheduler.fee_bps", 1500)
	v.SetDefault("scheduler.market_data_refresh", "10m")

	v.SetDefault("automation.enabled", false)
	v.SetDefault("automation.creation_interval", "2h")
	v.SetDefault("automation.max_concurrent", 3)
	v.SetDefault("automation.failure_threshold", 5)

	v.SetDefault("escrow.enabled", false)
	v.SetDefault("escrow.base_url", "")
	v.SetDefault("escrow.timeout", "15s")

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
