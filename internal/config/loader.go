package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Loader hydrates the runtime configuration while respecting env > file > default precedence.
type Loader struct {
	envPrefix string
	files     []string
}

// NewLoader prepares a config hydrator that honors the env-first contract before touching files or defaults.
func NewLoader(envPrefix string, files ...string) *Loader {
	return &Loader{
		envPrefix: envPrefix,
		files:     files,
	}
}

// Load assembles the effective snapshot using the documented precedence rules.
func (l *Loader) Load(ctx context.Context) (Config, error) {
	defaults := structToMap(DefaultConfig())
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults, "."), nil); err != nil {
		return Config{}, fmt.Errorf("config: load defaults: %w", err)
	}

	for _, path := range l.files {
		if path == "" {
			continue
		}
		select {
		case <-ctx.Done():
			return Config{}, ctx.Err()
		default:
		}
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("config: file %s not found", path)
			}
			return Config{}, fmt.Errorf("config: stat %s: %w", path, err)
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("config: load file %s: %w", path, err)
		}
	}

	if l.envPrefix != "" {
		canonical := canonicalKeys(defaults, "")
		transform := func(s, value string) (string, any) {
			// Double underscores signal a nested path (PRICEFEED_SERVER__LISTEN__PORT -> server.listen.port).
			key := strings.TrimPrefix(s, l.envPrefix+"_")
			key = strings.ReplaceAll(key, "__", ".")
			// Single underscores are removed so RATE_LIMIT collapses into ratelimit.
			key = strings.ToLower(strings.ReplaceAll(key, "_", ""))
			if mapped, ok := canonical[key]; ok {
				key = mapped
			}
			if _, ok := listKeys[key]; ok {
				return key, splitList(value)
			}
			return key, value
		}
		if err := k.Load(env.ProviderWithValue(l.envPrefix, ".", transform), nil); err != nil {
			return Config{}, fmt.Errorf("config: load env: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// listKeys are read from env as comma separated values.
var listKeys = map[string]struct{}{
	"rateLimit.trustedProxies":   {},
	"invalidation.kafka.brokers": {},
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// canonicalKeys maps lower-cased dotted paths back to their camelCase form so
// env overrides land on the same koanf key as file and default values.
func canonicalKeys(tree map[string]any, prefix string) map[string]string {
	out := make(map[string]string)
	for key, value := range tree {
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}
		out[strings.ToLower(path)] = path
		if nested, ok := value.(map[string]any); ok {
			for lower, mapped := range canonicalKeys(nested, path) {
				out[lower] = mapped
			}
		}
	}
	return out
}

// structToMap converts DefaultConfig into a map for the koanf confmap provider.
func structToMap(cfg Config) map[string]any {
	return map[string]any{
		"server": map[string]any{
			"listen": map[string]any{
				"address": cfg.Server.Listen.Address,
				"port":    cfg.Server.Listen.Port,
			},
			"logging": map[string]any{
				"level":             cfg.Server.Logging.Level,
				"format":            cfg.Server.Logging.Format,
				"correlationHeader": cfg.Server.Logging.CorrelationHeader,
			},
			"store": map[string]any{
				"backend": cfg.Server.Store.Backend,
				"redis": map[string]any{
					"address":  cfg.Server.Store.Redis.Address,
					"username": cfg.Server.Store.Redis.Username,
					"password": cfg.Server.Store.Redis.Password,
					"db":       cfg.Server.Store.Redis.DB,
					"tls": map[string]any{
						"enabled": cfg.Server.Store.Redis.TLS.Enabled,
						"caFile":  cfg.Server.Store.Redis.TLS.CAFile,
					},
				},
			},
			"timeouts": map[string]any{
				"cache":     cfg.Server.Timeouts.Cache.String(),
				"limiter":   cfg.Server.Timeouts.Limiter.String(),
				"directory": cfg.Server.Timeouts.Directory.String(),
			},
		},
		"publish": map[string]any{
			"ttlSeconds":        cfg.Publish.TTLSeconds,
			"timezone":          cfg.Publish.Timezone,
			"exportURLTemplate": cfg.Publish.ExportURLTemplate,
			"baseURL":           cfg.Publish.BaseURL,
		},
		"rateLimit": map[string]any{
			"enabled":        cfg.RateLimit.Enabled,
			"requests":       cfg.RateLimit.Requests,
			"windowSeconds":  cfg.RateLimit.WindowSeconds,
			"identity":       cfg.RateLimit.Identity,
			"trustedProxies": cfg.RateLimit.TrustedProxies,
		},
		"directory": map[string]any{
			"backend": cfg.Directory.Backend,
			"file":    cfg.Directory.File,
			"postgres": map[string]any{
				"dsn":   cfg.Directory.Postgres.DSN,
				"table": cfg.Directory.Postgres.Table,
			},
		},
		"invalidation": map[string]any{
			"token": cfg.Invalidation.Token,
			"kafka": map[string]any{
				"brokers": cfg.Invalidation.Kafka.Brokers,
				"topic":   cfg.Invalidation.Kafka.Topic,
				"group":   cfg.Invalidation.Kafka.Group,
			},
		},
	}
}
