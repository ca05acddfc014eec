// Package config merges flags, environment and an optional config file
// into a validated Config.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"liquidity-pool/internal/domain"
)

// EnvPrefix is prepended to every environment key (POOLD_HTTP_ADDR, ...).
const EnvPrefix = "POOLD"

// Config holds service configuration.
type Config struct {
	ProgramID string `validate:"required"`
	HTTPAddr  string `validate:"required"`
	LogLevel  string `validate:"oneof=debug info warn error"`
	LogFormat string `validate:"oneof=json console"`

	Storage       string `validate:"oneof=memory postgres"`
	PostgresDSN   string `validate:"required_if=Storage postgres"`
	ClickHouseDSN string

	Ledger         string `validate:"oneof=memory rpc"`
	LedgerEndpoint string `validate:"required_if=Ledger rpc"`

	Oracle       string        `validate:"oneof=static hermes hermes-ws"`
	HermesURL    string        `validate:"required_if=Oracle hermes"`
	HermesWSURL  string        `validate:"required_if=Oracle hermes-ws"`
	OracleMaxAge time.Duration `validate:"gt=0"`
	OracleRPS    float64       `validate:"gte=0"`
	StaticPrices []string
	OracleFeeds  []string `validate:"required_if=Oracle hermes-ws"`

	Lock        string        `validate:"oneof=local redis"`
	RedisAddr   string        `validate:"required_if=Lock redis"`
	LockTimeout time.Duration `validate:"gt=0"`

	AMQPURL      string
	AMQPExchange string `validate:"required_with=AMQPURL"`
}

// Defaults.
const (
	DefaultHTTPAddr     = ":8080"
	DefaultOracleMaxAge = 60 * time.Second
	DefaultOracleRPS    = 10
	DefaultLockTimeout  = 5 * time.Second
	DefaultHermesURL    = "https://hermes.pyth.network"
	DefaultHermesWSURL  = "wss://hermes.pyth.network/ws"
	DefaultExchange     = "pool.events"
)

// RegisterFlags declares every config key on fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "config file path")
	fs.String("program-id", "", "program identity that namespaces derived pool addresses (base58)")
	fs.String("http-addr", DefaultHTTPAddr, "HTTP listen address")
	fs.String("log-level", "info", "log level (debug, info, warn, error)")
	fs.String("log-format", "json", "log format (json, console)")
	fs.String("storage", "memory", "pool storage backend (memory, postgres)")
	fs.String("postgres-dsn", "", "PostgreSQL connection string")
	fs.String("clickhouse-dsn", "", "ClickHouse DSN for deposit analytics (optional)")
	fs.String("ledger", "memory", "token ledger backend (memory, rpc)")
	fs.String("ledger-endpoint", "", "token ledger JSON-RPC endpoint")
	fs.String("oracle", "static", "price source (static, hermes, hermes-ws)")
	fs.String("hermes-url", DefaultHermesURL, "Pyth Hermes REST base URL")
	fs.String("hermes-ws-url", DefaultHermesWSURL, "Pyth Hermes websocket URL")
	fs.Duration("oracle-max-age", DefaultOracleMaxAge, "maximum accepted price age")
	fs.Float64("oracle-rps", DefaultOracleRPS, "Hermes request rate limit (0 = unlimited)")
	fs.StringSlice("static-prices", nil, "static quotes as feed=price:exponent (comma-separated)")
	fs.StringSlice("oracle-feeds", nil, "feed ids to subscribe to on the Hermes websocket (comma-separated)")
	fs.String("lock", "local", "pool lock backend (local, redis)")
	fs.String("redis-addr", "", "Redis address for distributed pool locks")
	fs.Duration("lock-timeout", DefaultLockTimeout, "pool lock acquisition timeout")
	fs.String("amqp-url", "", "AMQP URL for deposit events (optional)")
	fs.String("amqp-exchange", DefaultExchange, "AMQP topic exchange for deposit events")
}

// LoadEnvFile loads KEY=VALUE pairs from path without overriding variables
// that are already set. A missing file is not an error.
func LoadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	if err := LoadEnvFile(".env"); err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("http-addr", DefaultHTTPAddr)
	v.SetDefault("log-level", "info")
	v.SetDefault("log-format", "json")
	v.SetDefault("storage", "memory")
	v.SetDefault("ledger", "memory")
	v.SetDefault("oracle", "static")
	v.SetDefault("hermes-url", DefaultHermesURL)
	v.SetDefault("hermes-ws-url", DefaultHermesWSURL)
	v.SetDefault("oracle-max-age", DefaultOracleMaxAge)
	v.SetDefault("oracle-rps", DefaultOracleRPS)
	v.SetDefault("lock", "local")
	v.SetDefault("lock-timeout", DefaultLockTimeout)
	v.SetDefault("amqp-exchange", DefaultExchange)

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("poold")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := Config{
		ProgramID:      v.GetString("program-id"),
		HTTPAddr:       v.GetString("http-addr"),
		LogLevel:       v.GetString("log-level"),
		LogFormat:      v.GetString("log-format"),
		Storage:        v.GetString("storage"),
		PostgresDSN:    v.GetString("postgres-dsn"),
		ClickHouseDSN:  v.GetString("clickhouse-dsn"),
		Ledger:         v.GetString("ledger"),
		LedgerEndpoint: v.GetString("ledger-endpoint"),
		Oracle:         v.GetString("oracle"),
		HermesURL:      v.GetString("hermes-url"),
		HermesWSURL:    v.GetString("hermes-ws-url"),
		OracleMaxAge:   v.GetDuration("oracle-max-age"),
		OracleRPS:      v.GetFloat64("oracle-rps"),
		StaticPrices:   v.GetStringSlice("static-prices"),
		OracleFeeds:    v.GetStringSlice("oracle-feeds"),
		Lock:           v.GetString("lock"),
		RedisAddr:      v.GetString("redis-addr"),
		LockTimeout:    v.GetDuration("lock-timeout"),
		AMQPURL:        v.GetString("amqp-url"),
		AMQPExchange:   v.GetString("amqp-exchange"),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks field constraints and that ProgramID parses.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidConfig, err)
	}
	if _, err := c.Program(); err != nil {
		return err
	}
	return nil
}

// Program returns the parsed program identity.
func (c Config) Program() (domain.Identity, error) {
	id, err := domain.ParseIdentity(c.ProgramID)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("%w: program-id: %v", domain.ErrInvalidConfig, err)
	}
	return id, nil
}
