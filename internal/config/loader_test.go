package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeServerFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "server.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoader(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(t *testing.T) []string
		wantErr bool
		assert  func(t *testing.T, cfg Config)
	}{
		{
			name: "returns defaults when no overrides",
			setup: func(t *testing.T) []string {
				t.Setenv("PRICEFEED_PUBLISH__BASEURL", "https://exports.example.org")
				return nil
			},
			assert: func(t *testing.T, cfg Config) {
				require.Equal(t, 8080, cfg.Server.Listen.Port)
				require.Equal(t, 300, cfg.Publish.TTLSeconds)
				require.Equal(t, 250*time.Millisecond, cfg.Server.Timeouts.Cache)
				require.Equal(t, 2*time.Second, cfg.Server.Timeouts.Directory)
				require.True(t, cfg.RateLimit.Enabled)
				require.Equal(t, "tenant.rows.mutated", cfg.Invalidation.Kafka.Topic)
			},
		},
		{
			name: "merges file overrides",
			setup: func(t *testing.T) []string {
				return []string{writeServerFile(t, "server:\n  listen:\n    port: 9090\n  timeouts:\n    cache: 100ms\npublish:\n  baseURL: https://exports.example.org\n  ttlSeconds: 120\n")}
			},
			assert: func(t *testing.T, cfg Config) {
				require.Equal(t, 9090, cfg.Server.Listen.Port)
				require.Equal(t, 100*time.Millisecond, cfg.Server.Timeouts.Cache)
				require.Equal(t, 120, cfg.Publish.TTLSeconds)
			},
		},
		{
			name: "prefers env overrides",
			setup: func(t *testing.T) []string {
				path := writeServerFile(t, "server:\n  listen:\n    port: 9090\npublish:\n  baseURL: https://exports.example.org\n")
				t.Setenv("PRICEFEED_SERVER__LISTEN__PORT", "9091")
				return []string{path}
			},
			assert: func(t *testing.T, cfg Config) {
				require.Equal(t, 9091, cfg.Server.Listen.Port)
			},
		},
		{
			name: "maps camelCase keys from env",
			setup: func(t *testing.T) []string {
				path := writeServerFile(t, "publish:\n  baseURL: https://exports.example.org\nrateLimit:\n  requests: 10\n")
				t.Setenv("PRICEFEED_RATE_LIMIT__REQUESTS", "5")
				t.Setenv("PRICEFEED_RATELIMIT__WINDOWSECONDS", "30")
				t.Setenv("PRICEFEED_PUBLISH__TTL_SECONDS", "90")
				t.Setenv("PRICEFEED_SERVER__STORE__REDIS__TLS__CAFILE", "/etc/ca.pem")
				t.Setenv("PRICEFEED_SERVER__TIMEOUTS__LIMITER", "75ms")
				t.Setenv("PRICEFEED_INVALIDATION__KAFKA__BROKERS", "kafka-1:9092, kafka-2:9092")
				return []string{path}
			},
			assert: func(t *testing.T, cfg Config) {
				require.Equal(t, 5, cfg.RateLimit.Requests)
				require.Equal(t, 30, cfg.RateLimit.WindowSeconds)
				require.Equal(t, 90, cfg.Publish.TTLSeconds)
				require.Equal(t, "/etc/ca.pem", cfg.Server.Store.Redis.TLS.CAFile)
				require.Equal(t, 75*time.Millisecond, cfg.Server.Timeouts.Limiter)
				require.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Invalidation.Kafka.Brokers)
			},
		},
		{
			name: "reads inline tenants and kafka brokers",
			setup: func(t *testing.T) []string {
				contents := "publish:\n  baseURL: https://exports.example.org\ndirectory:\n  tenants:\n    - publicHandle: acmeHomes0123456789\n      displayName: Acme Homes\ninvalidation:\n  kafka:\n    brokers:\n      - kafka-1:9092\n      - kafka-2:9092\n"
				return []string{writeServerFile(t, contents)}
			},
			assert: func(t *testing.T, cfg Config) {
				require.Equal(t, []TenantConfig{{PublicHandle: "acmeHomes0123456789", DisplayName: "Acme Homes"}}, cfg.Directory.Tenants)
				require.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Invalidation.Kafka.Brokers)
			},
		},
		{
			name: "fails when file missing",
			setup: func(t *testing.T) []string {
				return []string{filepath.Join(t.TempDir(), "missing.yaml")}
			},
			wantErr: true,
		},
		{
			name: "fails validation without base url",
			setup: func(t *testing.T) []string {
				return []string{writeServerFile(t, "server:\n  listen:\n    port: 9090\n")}
			},
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			args := tc.setup(t)
			loader := NewLoader("PRICEFEED", args...)
			cfg, err := loader.Load(context.Background())
			if tc.wantErr {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)
			tc.assert(t, cfg)
		})
	}
}

func TestLoaderHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewLoader("PRICEFEED", writeServerFile(t, "server: {}\n")).Load(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestCanonicalKeys(t *testing.T) {
	keys := canonicalKeys(structToMap(DefaultConfig()), "")
	require.Equal(t, "rateLimit.trustedProxies", keys["ratelimit.trustedproxies"])
	require.Equal(t, "publish.exportURLTemplate", keys["publish.exporturltemplate"])
	require.Equal(t, "server.logging.correlationHeader", keys["server.logging.correlationheader"])
}
