package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Config holds every option the publishing service reads at startup.
type Config struct {
	Server       ServerConfig       `koanf:"server"`
	Publish      PublishConfig      `koanf:"publish"`
	RateLimit    RateLimitConfig    `koanf:"rateLimit"`
	Directory    DirectoryConfig    `koanf:"directory"`
	Invalidation InvalidationConfig `koanf:"invalidation"`
}

// ServerConfig collects the bootstrap knobs owned by the lifecycle code in cmd.
type ServerConfig struct {
	Listen   ListenConfig   `koanf:"listen"`
	Logging  LoggingConfig  `koanf:"logging"`
	Store    StoreConfig    `koanf:"store"`
	Timeouts TimeoutsConfig `koanf:"timeouts"`
}

// ListenConfig instructs the HTTP listener about bind address and port.
type ListenConfig struct {
	Address string `koanf:"address"`
	Port    int    `koanf:"port"`
}

// LoggingConfig expresses log level, format, and correlation ID wiring.
type LoggingConfig struct {
	Level             string `koanf:"level"`
	Format            string `koanf:"format"`
	CorrelationHeader string `koanf:"correlationHeader"`
}

// StoreConfig selects the shared store behind the artifact cache and the
// rate limiter counters.
type StoreConfig struct {
	Backend string           `koanf:"backend"`
	Redis   RedisStoreConfig `koanf:"redis"`
}

type RedisStoreConfig struct {
	Address  string         `koanf:"address"`
	Username string         `koanf:"username"`
	Password string         `koanf:"password"`
	DB       int            `koanf:"db"`
	TLS      RedisTLSConfig `koanf:"tls"`
}

type RedisTLSConfig struct {
	Enabled bool   `koanf:"enabled"`
	CAFile  string `koanf:"caFile"`
}

// TimeoutsConfig bounds every call to an external collaborator.
type TimeoutsConfig struct {
	Cache     time.Duration `koanf:"cache"`
	Limiter   time.Duration `koanf:"limiter"`
	Directory time.Duration `koanf:"directory"`
}

// PublishConfig drives artifact generation and response headers.
type PublishConfig struct {
	TTLSeconds        int    `koanf:"ttlSeconds"`
	Timezone          string `koanf:"timezone"`
	ExportURLTemplate string `koanf:"exportURLTemplate"`
	BaseURL           string `koanf:"baseURL"`
}

// TTL returns the artifact lifetime.
func (p PublishConfig) TTL() time.Duration {
	return time.Duration(p.TTLSeconds) * time.Second
}

// Location resolves the timezone that decides the publication date.
func (p PublishConfig) Location() (*time.Location, error) {
	name := strings.TrimSpace(p.Timezone)
	if name == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(name)
}

type RateLimitConfig struct {
	Enabled        bool     `koanf:"enabled"`
	Requests       int      `koanf:"requests"`
	WindowSeconds  int      `koanf:"windowSeconds"`
	Identity       string   `koanf:"identity"`
	TrustedProxies []string `koanf:"trustedProxies"`
}

// Window returns the fixed window length.
func (r RateLimitConfig) Window() time.Duration {
	return time.Duration(r.WindowSeconds) * time.Second
}

// DirectoryConfig selects where tenants are resolved from. The memory
// backend serves Tenants inline; file reads and watches a YAML tenants file.
type DirectoryConfig struct {
	Backend  string                  `koanf:"backend"`
	File     string                  `koanf:"file"`
	Postgres PostgresDirectoryConfig `koanf:"postgres"`
	Tenants  []TenantConfig          `koanf:"tenants"`
}

type PostgresDirectoryConfig struct {
	DSN   string `koanf:"dsn"`
	Table string `koanf:"table"`
}

// TenantConfig is one tenant entry as written in YAML.
type TenantConfig struct {
	PublicHandle string `koanf:"publicHandle"`
	DisplayName  string `koanf:"displayName"`
}

type InvalidationConfig struct {
	Token string                  `koanf:"token"`
	Kafka KafkaInvalidationConfig `koanf:"kafka"`
}

type KafkaInvalidationConfig struct {
	Brokers []string `koanf:"brokers"`
	Topic   string   `koanf:"topic"`
	Group   string   `koanf:"group"`
}

// Validate enforces invariants that keep the runtime predictable before serving traffic.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config: nil")
	}
	if c.Server.Listen.Port <= 0 || c.Server.Listen.Port > 65535 {
		return fmt.Errorf("config: listen.port invalid: %d", c.Server.Listen.Port)
	}

	switch normalize(c.Server.Store.Backend) {
	case "", "memory":
	case "redis":
		if strings.TrimSpace(c.Server.Store.Redis.Address) == "" {
			return errors.New("config: server.store.redis.address required for redis backend")
		}
	default:
		return fmt.Errorf("config: server.store.backend unsupported: %s", c.Server.Store.Backend)
	}

	if c.Server.Timeouts.Cache < 0 || c.Server.Timeouts.Limiter < 0 || c.Server.Timeouts.Directory < 0 {
		return errors.New("config: server.timeouts must not be negative")
	}

	if c.Publish.TTLSeconds <= 0 {
		return fmt.Errorf("config: publish.ttlSeconds invalid: %d", c.Publish.TTLSeconds)
	}
	if _, err := c.Publish.Location(); err != nil {
		return fmt.Errorf("config: publish.timezone invalid: %w", err)
	}
	if err := validateBaseURL(c.Publish.BaseURL); err != nil {
		return err
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.Requests <= 0 {
			return fmt.Errorf("config: rateLimit.requests invalid: %d", c.RateLimit.Requests)
		}
		if c.RateLimit.WindowSeconds <= 0 {
			return fmt.Errorf("config: rateLimit.windowSeconds invalid: %d", c.RateLimit.WindowSeconds)
		}
	}
	switch normalize(c.RateLimit.Identity) {
	case "", "ip", "tenant":
	default:
		return fmt.Errorf("config: rateLimit.identity unsupported: %s", c.RateLimit.Identity)
	}

	switch normalize(c.Directory.Backend) {
	case "", "memory":
	case "file":
		if strings.TrimSpace(c.Directory.File) == "" {
			return errors.New("config: directory.file required for file backend")
		}
	case "postgres":
		if strings.TrimSpace(c.Directory.Postgres.DSN) == "" {
			return errors.New("config: directory.postgres.dsn required for postgres backend")
		}
	default:
		return fmt.Errorf("config: directory.backend unsupported: %s", c.Directory.Backend)
	}

	if len(c.Invalidation.Kafka.Brokers) > 0 && strings.TrimSpace(c.Invalidation.Kafka.Topic) == "" {
		return errors.New("config: invalidation.kafka.topic required when brokers are set")
	}
	return nil
}

// DefaultConfig returns the baseline values that align with the design defaults.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Listen: ListenConfig{
				Address: "0.0.0.0",
				Port:    8080,
			},
			Logging: LoggingConfig{
				Level:             "info",
				Format:            "json",
				CorrelationHeader: "X-Request-ID",
			},
			Store: StoreConfig{
				Backend: "memory",
			},
			Timeouts: TimeoutsConfig{
				Cache:     250 * time.Millisecond,
				Limiter:   250 * time.Millisecond,
				Directory: 2 * time.Second,
			},
		},
		Publish: PublishConfig{
			TTLSeconds:        300,
			Timezone:          "UTC",
			ExportURLTemplate: `{{ trimSuffix "/" .BaseURL }}/{{ .Handle }}/export.csv`,
		},
		RateLimit: RateLimitConfig{
			Enabled:       true,
			Requests:      60,
			WindowSeconds: 60,
			Identity:      "ip",
		},
		Directory: DirectoryConfig{
			Backend: "memory",
			Postgres: PostgresDirectoryConfig{
				Table: "tenants",
			},
		},
		Invalidation: InvalidationConfig{
			Kafka: KafkaInvalidationConfig{
				Topic: "tenant.rows.mutated",
				Group: "pricefeed-invalidation",
			},
		},
	}
}

func validateBaseURL(raw string) error {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return errors.New("config: publish.baseURL required")
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return fmt.Errorf("config: publish.baseURL invalid: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("config: publish.baseURL must be an absolute http(s) URL: %s", raw)
	}
	return nil
}

func normalize(value string) string {
	return strings.TrimSpace(strings.ToLower(value))
}
