// Package config loads wallet daemon settings from defaults, an optional
// YAML file and environment variables, in that order.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full daemon configuration.
type Config struct {
	Server      Server      `yaml:"server"`
	Log         Log         `yaml:"log"`
	Store       Store       `yaml:"store"`
	Redis       RedisConfig `yaml:"redis"`
	Agent       Agent       `yaml:"agent"`
	Feed        Feed        `yaml:"feed"`
	Router      Router      `yaml:"router"`
	Invitations Invitations `yaml:"invitations"`
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Store selects the record store. Driver is memory, sqlite or postgres.
type Store struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// RedisConfig configures the optional Redis seen-set and cursor store. An
// empty URL disables Redis.
type RedisConfig struct {
	URL          string        `yaml:"url"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	KeyPrefix    string        `yaml:"key_prefix"`
	SeenTTL      time.Duration `yaml:"seen_ttl"`
}

type Agent struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// Feed selects where notifications come from. Source is agent or kafka.
type Feed struct {
	Source       string        `yaml:"source"`
	PollInterval time.Duration `yaml:"poll_interval"`
	PageSize     int           `yaml:"page_size"`
	Kafka        Kafka         `yaml:"kafka"`
}

type Kafka struct {
	Brokers     []string `yaml:"brokers"`
	Topic       string   `yaml:"topic"`
	Group       string   `yaml:"group"`
	EnsureTopic bool     `yaml:"ensure_topic"`
	Partitions  int32    `yaml:"partitions"`
}

type Router struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BufferSize  int           `yaml:"buffer_size"`
	MaxAge      time.Duration `yaml:"max_age"`
}

type Invitations struct {
	CacheSize int `yaml:"cache_size"`
}

const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	SourceAgent = "agent"
	SourceKafka = "kafka"
)

// Default returns a configuration for a single local wallet.
func Default() Config {
	return Config{
		Server: Server{Addr: ":8080", ShutdownTimeout: 10 * time.Second},
		Log:    Log{Level: "info", Format: "json"},
		Store:  Store{Driver: DriverSQLite, DSN: "wallet.db"},
		Redis: RedisConfig{
			PoolSize:     10,
			MinIdleConns: 1,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
			KeyPrefix:    "veridian:",
			SeenTTL:      7 * 24 * time.Hour,
		},
		Agent: Agent{URL: "http://127.0.0.1:3901", Timeout: 15 * time.Second},
		Feed: Feed{
			Source:       SourceAgent,
			PollInterval: 2 * time.Second,
			PageSize:     25,
			Kafka: Kafka{
				Topic:      "multisig-notifications",
				Group:      "veridian-wallet",
				Partitions: 1,
			},
		},
		Router:      Router{MaxAttempts: 5, BufferSize: 256, MaxAge: 24 * time.Hour},
		Invitations: Invitations{CacheSize: 128},
	}
}

// Load builds the configuration from defaults, the YAML file at path when
// path is not empty, then the environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.overlayFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.overlayEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// FromEnv builds a config from defaults and environment variables so main
// stays lean.
func FromEnv() (Config, error) {
	return Load("")
}

func (c *Config) overlayFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

type lookupFunc func(string) (string, bool)

func (c *Config) overlayEnv(lookup lookupFunc) error {
	env := envReader{lookup: lookup}

	env.str("WALLET_ADDR", &c.Server.Addr)
	env.duration("WALLET_SHUTDOWN_TIMEOUT", &c.Server.ShutdownTimeout)
	env.str("WALLET_LOG_LEVEL", &c.Log.Level)
	env.str("WALLET_LOG_FORMAT", &c.Log.Format)
	env.str("WALLET_STORE_DRIVER", &c.Store.Driver)
	env.str("WALLET_STORE_DSN", &c.Store.DSN)

	env.str("REDIS_URL", &c.Redis.URL)
	env.integer("REDIS_POOL_SIZE", &c.Redis.PoolSize)
	env.integer("REDIS_MIN_IDLE_CONNS", &c.Redis.MinIdleConns)
	env.duration("REDIS_DIAL_TIMEOUT", &c.Redis.DialTimeout)
	env.duration("REDIS_READ_TIMEOUT", &c.Redis.ReadTimeout)
	env.duration("REDIS_WRITE_TIMEOUT", &c.Redis.WriteTimeout)
	env.str("REDIS_KEY_PREFIX", &c.Redis.KeyPrefix)
	env.duration("REDIS_SEEN_TTL", &c.Redis.SeenTTL)

	env.str("AGENT_URL", &c.Agent.URL)
	env.duration("AGENT_TIMEOUT", &c.Agent.Timeout)

	env.str("FEED_SOURCE", &c.Feed.Source)
	env.duration("FEED_POLL_INTERVAL", &c.Feed.PollInterval)
	env.integer("FEED_PAGE_SIZE", &c.Feed.PageSize)
	env.list("KAFKA_BROKERS", &c.Feed.Kafka.Brokers)
	env.str("KAFKA_TOPIC", &c.Feed.Kafka.Topic)
	env.str("KAFKA_GROUP", &c.Feed.Kafka.Group)
	env.boolean("KAFKA_ENSURE_TOPIC", &c.Feed.Kafka.EnsureTopic)

	env.integer("ROUTER_MAX_ATTEMPTS", &c.Router.MaxAttempts)
	env.integer("ROUTER_BUFFER_SIZE", &c.Router.BufferSize)
	env.duration("ROUTER_MAX_AGE", &c.Router.MaxAge)
	env.integer("INVITATION_CACHE_SIZE", &c.Invitations.CacheSize)

	return env.err
}

// Validate rejects settings the daemon cannot start with.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case DriverMemory:
	case DriverSQLite, DriverPostgres:
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for driver %s", c.Store.Driver)
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}

	switch c.Feed.Source {
	case SourceAgent:
		if c.Feed.PageSize <= 0 {
			return fmt.Errorf("feed.page_size must be positive")
		}
		if c.Feed.PollInterval <= 0 {
			return fmt.Errorf("feed.poll_interval must be positive")
		}
	case SourceKafka:
		if len(c.Feed.Kafka.Brokers) == 0 {
			return fmt.Errorf("feed.kafka.brokers is required for kafka source")
		}
		if c.Feed.Kafka.Topic == "" || c.Feed.Kafka.Group == "" {
			return fmt.Errorf("feed.kafka.topic and feed.kafka.group are required")
		}
	default:
		return fmt.Errorf("unknown feed source %q", c.Feed.Source)
	}

	if c.Agent.URL == "" {
		return fmt.Errorf("agent.url is required")
	}
	if c.Router.MaxAttempts <= 0 || c.Router.BufferSize <= 0 || c.Router.MaxAge <= 0 {
		return fmt.Errorf("router.max_attempts, router.buffer_size and router.max_age must be positive")
	}
	if c.Invitations.CacheSize <= 0 {
		return fmt.Errorf("invitations.cache_size must be positive")
	}
	return nil
}

// envReader applies set variables and keeps the first parse error.
type envReader struct {
	lookup lookupFunc
	err    error
}

func (e *envReader) get(key string) (string, bool) {
	v, ok := e.lookup(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (e *envReader) fail(key string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("env %s: %w", key, err)
	}
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := e.get(key); ok {
		*dst = v
	}
}

func (e *envReader) integer(key string, dst *int) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, err)
		return
	}
	*dst = n
}

func (e *envReader) boolean(key string, dst *bool) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(key, err)
		return
	}
	*dst = b
}

func (e *envReader) duration(key string, dst *time.Duration) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(key, err)
		return
	}
	*dst = d
}

func (e *envReader) list(key string, dst *[]string) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*dst = out
}
