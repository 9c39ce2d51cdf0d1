package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendMySQL  = "mysql"
)

// Config is resolved in order: defaults, then the YAML file, then MARKET_* env vars.
type Config struct {
	HTTPAddr string `yaml:"http_addr" env:"HTTP_ADDR"`
	GRPCAddr string `yaml:"grpc_addr" env:"GRPC_ADDR"`
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL"`

	// Operator is the marketplace identity sellers approve for transfers.
	Operator string `yaml:"operator" env:"OPERATOR"`

	ListingStore string `yaml:"listing_store" env:"LISTING_STORE"`
	EventLog     string `yaml:"event_log" env:"EVENT_LOG"`

	MySQLDSN  string `yaml:"mysql_dsn" env:"MYSQL_DSN"`
	RedisAddr string `yaml:"redis_addr" env:"REDIS_ADDR"`

	LockTTL          time.Duration `yaml:"lock_ttl" env:"LOCK_TTL"`
	OperationTimeout time.Duration `yaml:"operation_timeout" env:"OPERATION_TIMEOUT"`

	Relay RelayConfig `yaml:"relay" envPrefix:"RELAY_"`

	// Seed populates the in-process ledgers. File only.
	Seed SeedConfig `yaml:"seed"`
}

type RelayConfig struct {
	Enabled   bool          `yaml:"enabled" env:"ENABLED"`
	Stream    string        `yaml:"stream" env:"STREAM"`
	MaxLen    int64         `yaml:"max_len" env:"MAX_LEN"`
	Interval  time.Duration `yaml:"interval" env:"INTERVAL"`
	BatchSize int           `yaml:"batch_size" env:"BATCH_SIZE"`

	// GapGrace is how long the relay waits on a missing Seq before skipping it.
	GapGrace time.Duration `yaml:"gap_grace" env:"GAP_GRACE"`
}

type SeedConfig struct {
	Balances map[string]int64 `yaml:"balances"`
	Items    []SeedItem       `yaml:"items"`
}

type SeedItem struct {
	Collection string `yaml:"collection"`
	TokenID    string `yaml:"token_id"`
	Owner      string `yaml:"owner"`
	Approve    bool   `yaml:"approve"`
}

func Default() Config {
	return Config{
		HTTPAddr:         ":8080",
		GRPCAddr:         ":50051",
		LogLevel:         "info",
		Operator:         "marketplace",
		ListingStore:     BackendMemory,
		EventLog:         BackendMemory,
		MySQLDSN:         "root:root@tcp(localhost:3306)/marketplace?parseTime=true",
		RedisAddr:        "localhost:6379",
		LockTTL:          10 * time.Second,
		OperationTimeout: 5 * time.Second,
		Relay: RelayConfig{
			Stream:    "marketplace:events",
			MaxLen:    100000,
			Interval:  time.Second,
			BatchSize: 100,
			GapGrace:  5 * time.Second,
		},
	}
}

// Load reads path if it exists; an empty path skips the file layer.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config file: %w", err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "MARKET_"}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Operator == "" {
		return errors.New("operator identity is required")
	}
	switch c.ListingStore {
	case BackendMemory, BackendRedis:
	default:
		return fmt.Errorf("unsupported listing_store %q", c.ListingStore)
	}
	switch c.EventLog {
	case BackendMemory, BackendMySQL:
	default:
		return fmt.Errorf("unsupported event_log %q", c.EventLog)
	}
	if c.ListingStore == BackendRedis {
		if c.RedisAddr == "" {
			return errors.New("redis_addr is required for the redis listing store")
		}
		// Instances sharing the store must share one log.
		if c.EventLog != BackendMySQL {
			return errors.New("the redis listing store requires event_log: mysql")
		}
		// A lease must outlive the longest operation it guards.
		if c.OperationTimeout <= 0 {
			return errors.New("operation_timeout must be positive with the redis listing store")
		}
		if c.LockTTL <= c.OperationTimeout {
			return fmt.Errorf("lock_ttl %s must exceed operation_timeout %s", c.LockTTL, c.OperationTimeout)
		}
	}
	if c.EventLog == BackendMySQL && c.MySQLDSN == "" {
		return errors.New("mysql_dsn is required for the mysql event log")
	}
	if c.Relay.Enabled && c.RedisAddr == "" {
		return errors.New("redis_addr is required when the relay is enabled")
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// UsesRedis reports whether any configured component needs a Redis client.
func (c Config) UsesRedis() bool {
	return c.ListingStore == BackendRedis || c.Relay.Enabled
}

func (c Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log_level: %w", err)
	}
	return level, nil
}
