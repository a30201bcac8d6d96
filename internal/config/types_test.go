package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := DefaultConfig()
	cfg.Publish.BaseURL = "https://exports.example.org"
	return cfg
}

func TestConfigValidate(t *testing.T) {
	valid := validConfig()
	require.NoError(t, valid.Validate())

	// Defaults alone lack the export base URL.
	defaults := DefaultConfig()
	require.ErrorContains(t, defaults.Validate(), "publish.baseURL required")

	var nilCfg *Config
	require.Error(t, nilCfg.Validate())

	cases := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"bad port", func(c *Config) { c.Server.Listen.Port = -1 }, "listen.port"},
		{"unknown store", func(c *Config) { c.Server.Store.Backend = "memcached" }, "server.store.backend"},
		{"redis without address", func(c *Config) { c.Server.Store.Backend = "redis" }, "redis.address"},
		{"negative timeout", func(c *Config) { c.Server.Timeouts.Cache = -time.Second }, "timeouts"},
		{"zero ttl", func(c *Config) { c.Publish.TTLSeconds = 0 }, "ttlSeconds"},
		{"unknown timezone", func(c *Config) { c.Publish.Timezone = "Mars/Olympus" }, "timezone"},
		{"relative base url", func(c *Config) { c.Publish.BaseURL = "/exports" }, "absolute"},
		{"ftp base url", func(c *Config) { c.Publish.BaseURL = "ftp://exports.example.org" }, "absolute"},
		{"zero requests", func(c *Config) { c.RateLimit.Requests = 0 }, "rateLimit.requests"},
		{"zero window", func(c *Config) { c.RateLimit.WindowSeconds = 0 }, "rateLimit.windowSeconds"},
		{"unknown identity", func(c *Config) { c.RateLimit.Identity = "cookie" }, "rateLimit.identity"},
		{"unknown directory", func(c *Config) { c.Directory.Backend = "ldap" }, "directory.backend"},
		{"file without path", func(c *Config) { c.Directory.Backend = "file" }, "directory.file"},
		{"postgres without dsn", func(c *Config) { c.Directory.Backend = "postgres" }, "directory.postgres.dsn"},
		{"kafka without topic", func(c *Config) {
			c.Invalidation.Kafka.Brokers = []string{"localhost:9092"}
			c.Invalidation.Kafka.Topic = ""
		}, "invalidation.kafka.topic"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(&cfg)
			require.ErrorContains(t, cfg.Validate(), tc.errMsg)
		})
	}

	t.Run("disabled limiter ignores its numbers", func(t *testing.T) {
		cfg := validConfig()
		cfg.RateLimit.Enabled = false
		cfg.RateLimit.Requests = 0
		require.NoError(t, cfg.Validate())
	})
}

func TestPublishConfigHelpers(t *testing.T) {
	cfg := validConfig()
	require.Equal(t, 5*time.Minute, cfg.Publish.TTL())
	require.Equal(t, time.Minute, cfg.RateLimit.Window())

	loc, err := cfg.Publish.Location()
	require.NoError(t, err)
	require.Equal(t, time.UTC, loc)

	cfg.Publish.Timezone = ""
	loc, err = cfg.Publish.Location()
	require.NoError(t, err)
	require.Equal(t, time.UTC, loc)

	cfg.Publish.Timezone = "Asia/Jerusalem"
	loc, err = cfg.Publish.Location()
	require.NoError(t, err)
	require.Equal(t, "Asia/Jerusalem", loc.String())
}
