// Package config loads watcher and collector settings from YAML, a .env
// file and the process environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"solana-swap-watch/internal/solana"
)

// Provider names.
const (
	ProviderSolscan  = "solscan"
	ProviderBitquery = "bitquery"
)

// Dedup backends.
const (
	DedupMemory = "memory"
	DedupRedis  = "redis"
)

// Alert store backends.
const (
	StoreMemory     = "memory"
	StorePostgres   = "postgres"
	StoreClickHouse = "clickhouse"
)

// Config is the full application configuration.
type Config struct {
	Provider        string        `yaml:"provider"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	MaxAuthFailures int           `yaml:"max_auth_failures"`
	Targets         []Target      `yaml:"targets"`

	Solscan   SolscanConfig   `yaml:"solscan"`
	Bitquery  BitqueryConfig  `yaml:"bitquery"`
	Dedup     DedupConfig     `yaml:"dedup"`
	Notify    NotifyConfig    `yaml:"notify"`
	Storage   StorageConfig   `yaml:"storage"`
	Solana    SolanaConfig    `yaml:"solana"`
	Collector CollectorConfig `yaml:"collector"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// Target is one watched token and its alert threshold in token units.
type Target struct {
	Mint               string          `yaml:"mint"`
	Threshold          decimal.Decimal `yaml:"threshold"`
	IncludeDirectSwaps bool            `yaml:"include_direct_swaps"`
}

// SolscanConfig configures the Solscan Pro data source.
type SolscanConfig struct {
	BaseURL    string `yaml:"base_url"`
	APIKey     string `yaml:"api_key"`
	PageSize   int    `yaml:"page_size"`
	MaxRetries int    `yaml:"max_retries"`
}

// BitqueryConfig configures the Bitquery data source.
type BitqueryConfig struct {
	Endpoint     string        `yaml:"endpoint"`
	TokenURL     string        `yaml:"token_url"`
	ClientID     string        `yaml:"client_id"`
	ClientSecret string        `yaml:"client_secret"`
	Lookback     time.Duration `yaml:"lookback"`
	Limit        int           `yaml:"limit"`
	MinAmountUSD string        `yaml:"min_amount_usd"`

	// Stream replaces the query endpoint with a websocket subscription
	// whose pushed trades are handed over on each poll.
	Stream           bool   `yaml:"stream"`
	StreamURL        string `yaml:"stream_url"`
	StreamBufferSize int    `yaml:"stream_buffer_size"`
}

// DedupConfig selects and sizes the seen-transaction window.
type DedupConfig struct {
	Backend       string        `yaml:"backend"`
	Capacity      int           `yaml:"capacity"`
	TTL           time.Duration `yaml:"ttl"`
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	KeyPrefix     string        `yaml:"key_prefix"`
}

// NotifyConfig lists the enabled alert sinks.
type NotifyConfig struct {
	Log      bool           `yaml:"log"`
	Telegram TelegramConfig `yaml:"telegram"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Store    StoreConfig    `yaml:"store"`
}

// TelegramConfig configures Telegram push alerts.
type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
	ChatID   int64  `yaml:"chat_id"`
}

// KafkaConfig configures the alert topic.
type KafkaConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// StoreConfig enables the alert archive.
type StoreConfig struct {
	Enabled bool   `yaml:"enabled"`
	Backend string `yaml:"backend"`
}

// StorageConfig holds database connection strings.
type StorageConfig struct {
	PostgresDSN   string `yaml:"postgres_dsn"`
	ClickHouseDSN string `yaml:"clickhouse_dsn"`
	Migrate       bool   `yaml:"migrate"`
}

// SolanaConfig configures the JSON-RPC endpoint used by the collector.
type SolanaConfig struct {
	RPCEndpoint string `yaml:"rpc_endpoint"`
	MaxRetries  int    `yaml:"max_retries"`
}

// CollectorConfig configures the signature history walk.
type CollectorConfig struct {
	PageSize    int           `yaml:"page_size"`
	PageDelay   time.Duration `yaml:"page_delay"`
	DetailDelay time.Duration `yaml:"detail_delay"`
	Archive     bool          `yaml:"archive"`
}

// MetricsConfig configures the Prometheus endpoint. Empty Addr disables it.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// LoggingConfig configures logrus output.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Provider:        ProviderSolscan,
		PollInterval:    5 * time.Second,
		MaxAuthFailures: 3,
		Solscan: SolscanConfig{
			BaseURL:    "https://pro-api.solscan.io/v2.0",
			PageSize:   20,
			MaxRetries: 3,
		},
		Bitquery: BitqueryConfig{
			Endpoint: "https://streaming.bitquery.io/eap",
			TokenURL: "https://oauth2.bitquery.io/oauth2/token",
			Lookback:         30 * time.Second,
			Limit:            10,
			StreamURL:        "wss://streaming.bitquery.io/eap",
			StreamBufferSize: 1000,
		},
		Dedup: DedupConfig{
			Backend:   DedupMemory,
			Capacity:  10_000,
			KeyPrefix: "swapwatch:seen",
		},
		Notify: NotifyConfig{
			Log:   true,
			Kafka: KafkaConfig{Topic: "swap-alerts"},
			Store: StoreConfig{Backend: StoreMemory},
		},
		Solana: SolanaConfig{
			RPCEndpoint: "https://api.mainnet-beta.solana.com",
			MaxRetries:  3,
		},
		Collector: CollectorConfig{
			PageSize:    12,
			PageDelay:   5 * time.Second,
			DetailDelay: 200 * time.Millisecond,
		},
		Metrics: MetricsConfig{Addr: ":9090"},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 28,
		},
	}
}

// Load builds a Config from defaults, the YAML file at path (optional),
// the dotenv file at envFile (optional, missing file ignored) and the
// process environment, in that order of increasing precedence.
func Load(path, envFile string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if envFile != "" {
		// Load never overrides variables already set in the environment.
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load env file: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv copies secrets and endpoints from the environment.
func (c *Config) applyEnv() error {
	setString(&c.Solscan.APIKey, "SOLSCAN_API_KEY")
	setString(&c.Bitquery.ClientID, "BITQUERY_CLIENT_ID")
	setString(&c.Bitquery.ClientSecret, "BITQUERY_CLIENT_SECRET")
	setString(&c.Notify.Telegram.BotToken, "TELEGRAM_BOT_TOKEN")
	setString(&c.Storage.PostgresDSN, "POSTGRES_DSN")
	setString(&c.Storage.ClickHouseDSN, "CLICKHOUSE_DSN")
	setString(&c.Dedup.RedisAddr, "REDIS_ADDR")
	setString(&c.Dedup.RedisPassword, "REDIS_PASSWORD")
	setString(&c.Solana.RPCEndpoint, "SOLANA_RPC_URL")
	setString(&c.Logging.Level, "LOG_LEVEL")

	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Notify.Kafka.Brokers = splitList(v)
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("TELEGRAM_CHAT_ID must be an integer: %w", err)
		}
		c.Notify.Telegram.ChatID = id
	}
	return nil
}

// DedupTTL returns the configured TTL or ten poll intervals, at least a minute.
func (c *Config) DedupTTL() time.Duration {
	if c.Dedup.TTL > 0 {
		return c.Dedup.TTL
	}
	ttl := 10 * c.PollInterval
	if ttl < time.Minute {
		ttl = time.Minute
	}
	return ttl
}

// Validate checks the settings needed by the watcher.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	switch c.Provider {
	case ProviderSolscan:
		if c.Solscan.APIKey == "" {
			add("solscan.api_key must be set (or SOLSCAN_API_KEY)")
		}
		if c.Solscan.PageSize <= 0 {
			add("solscan.page_size must be positive")
		}
	case ProviderBitquery:
		if c.Bitquery.ClientID == "" || c.Bitquery.ClientSecret == "" {
			add("bitquery.client_id and bitquery.client_secret must be set")
		}
		if !c.Bitquery.Stream && c.Bitquery.Lookback < c.PollInterval {
			add("bitquery.lookback must be at least poll_interval (%s < %s)", c.Bitquery.Lookback, c.PollInterval)
		}
	default:
		add("provider must be %q or %q, got %q", ProviderSolscan, ProviderBitquery, c.Provider)
	}

	if c.PollInterval <= 0 {
		add("poll_interval must be positive")
	}
	if len(c.Targets) == 0 {
		add("targets must contain at least one mint")
	}
	seen := make(map[string]bool, len(c.Targets))
	for i, t := range c.Targets {
		if _, err := solana.ParsePublicKey(t.Mint); err != nil {
			add("targets[%d].mint must be a base58 public key: %v", i, err)
		}
		if seen[t.Mint] {
			add("targets[%d].mint %s must be unique", i, t.Mint)
		}
		seen[t.Mint] = true
		if t.Threshold.IsNegative() {
			add("targets[%d].threshold must be non-negative", i)
		}
	}

	switch c.Dedup.Backend {
	case DedupMemory:
		if c.Dedup.Capacity <= 0 {
			add("dedup.capacity must be positive")
		}
	case DedupRedis:
		if c.Dedup.RedisAddr == "" {
			add("dedup.redis_addr must be set for the redis backend")
		}
	default:
		add("dedup.backend must be %q or %q, got %q", DedupMemory, DedupRedis, c.Dedup.Backend)
	}

	n := c.Notify
	if !n.Log && !n.Telegram.Enabled && !n.Kafka.Enabled && !n.Store.Enabled {
		add("notify must enable at least one sink")
	}
	if n.Telegram.Enabled && (n.Telegram.BotToken == "" || n.Telegram.ChatID == 0) {
		add("notify.telegram.bot_token and chat_id must be set when telegram is enabled")
	}
	if n.Kafka.Enabled && (len(n.Kafka.Brokers) == 0 || n.Kafka.Topic == "") {
		add("notify.kafka.brokers and topic must be set when kafka is enabled")
	}
	if n.Store.Enabled {
		switch n.Store.Backend {
		case StoreMemory:
		case StorePostgres:
			if c.Storage.PostgresDSN == "" {
				add("storage.postgres_dsn must be set for the postgres alert store")
			}
		case StoreClickHouse:
			if c.Storage.ClickHouseDSN == "" {
				add("storage.clickhouse_dsn must be set for the clickhouse alert store")
			}
		default:
			add("notify.store.backend must be memory, postgres or clickhouse, got %q", n.Store.Backend)
		}
	}

	errs = append(errs, c.validateLogging()...)
	return errors.Join(errs...)
}

// ValidateCollector checks the settings needed by the signature collector.
func (c *Config) ValidateCollector() error {
	var errs []error
	if c.Solana.RPCEndpoint == "" {
		errs = append(errs, errors.New("solana.rpc_endpoint must be set (or SOLANA_RPC_URL)"))
	}
	if c.Collector.PageSize <= 0 || c.Collector.PageSize > 1000 {
		errs = append(errs, errors.New("collector.page_size must be between 1 and 1000"))
	}
	if c.Collector.PageDelay <= 0 {
		errs = append(errs, errors.New("collector.page_delay must be positive"))
	}
	if c.Collector.DetailDelay <= 0 {
		errs = append(errs, errors.New("collector.detail_delay must be positive"))
	}
	if c.Collector.Archive && c.Storage.PostgresDSN == "" {
		errs = append(errs, errors.New("storage.postgres_dsn must be set when collector.archive is on"))
	}
	errs = append(errs, c.validateLogging()...)
	return errors.Join(errs...)
}

func (c *Config) validateLogging() []error {
	var errs []error
	if _, err := logrus.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level must be a logrus level: %w", err))
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		errs = append(errs, fmt.Errorf("logging.format must be json or text, got %q", c.Logging.Format))
	}
	return errs
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
