package cache

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	valkey "github.com/valkey-io/valkey-go"
)

type RedisTLSConfig struct {
	Enabled bool
	CAFile  string
}

type RedisConfig struct {
	Address  string
	Username string
	Password string
	DB       int
	TLS      RedisTLSConfig
}

// NewRedisClient dials the shared store and pings it. The same client backs
// the artifact cache and the rate limiter.
func NewRedisClient(cfg RedisConfig) (valkey.Client, error) {
	if cfg.Address == "" {
		return nil, errors.New("cache: redis address required")
	}

	option := valkey.ClientOption{
		InitAddress:       []string{cfg.Address},
		Username:          cfg.Username,
		Password:          cfg.Password,
		SelectDB:          cfg.DB,
		AlwaysRESP2:       true,
		ForceSingleClient: true,
		DisableCache:      true,
	}

	if cfg.TLS.Enabled {
		tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
		if cfg.TLS.CAFile != "" {
			caData, err := os.ReadFile(cfg.TLS.CAFile)
			if err != nil {
				return nil, fmt.Errorf("cache: read redis ca file: %w", err)
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(caData) {
				return nil, errors.New("cache: redis ca file contains no certificates")
			}
			tlsConfig.RootCAs = pool
		}
		option.TLSConfig = tlsConfig
	}

	client, err := valkey.NewClient(option)
	if err != nil {
		return nil, fmt.Errorf("cache: redis client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("cache: redis ping: %w", err)
	}
	return client, nil
}

type redisCache struct {
	client valkey.Client
	owned  bool
}

// NewRedis dials a dedicated client for the cache.
func NewRedis(cfg RedisConfig) (ArtifactCache, error) {
	client, err := NewRedisClient(cfg)
	if err != nil {
		return nil, err
	}
	return &redisCache{client: client, owned: true}, nil
}

// NewRedisFromClient shares an existing client. Close leaves it open.
func NewRedisFromClient(client valkey.Client) ArtifactCache {
	return &redisCache{client: client}
}

func (c *redisCache) Lookup(ctx context.Context, key string) (Entry, bool, error) {
	resp := c.client.Do(ctx, c.client.B().Get().Key(key).Build())
	if err := resp.Error(); err != nil {
		if valkey.IsValkeyNil(err) {
			return Entry{}, false, nil
		}
		return Entry{}, false, fmt.Errorf("cache: redis get: %w", err)
	}
	payload, err := resp.AsBytes()
	if err != nil {
		return Entry{}, false, fmt.Errorf("cache: redis get bytes: %w", err)
	}
	var entry Entry
	if err := json.Unmarshal(payload, &entry); err != nil {
		return Entry{}, false, fmt.Errorf("cache: redis unmarshal: %w", err)
	}
	return entry, true, nil
}

func (c *redisCache) Store(ctx context.Context, key string, entry Entry) error {
	if entry.GeneratedAt.IsZero() {
		entry.GeneratedAt = time.Now().UTC()
	}
	if entry.ExpiresAt.IsZero() {
		return errors.New("cache: redis entry expiry required")
	}
	ttl := time.Until(entry.ExpiresAt)
	if ttl <= 0 {
		return nil
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("cache: redis marshal: %w", err)
	}
	cmd := c.client.B().Set().Key(key).Value(valkey.BinaryString(payload)).Px(ttl).Build()
	if err := c.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("cache: redis set: %w", err)
	}
	return nil
}

func (c *redisCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Do(ctx, c.client.B().Del().Key(keys...).Build()).Error(); err != nil {
		return fmt.Errorf("cache: redis del: %w", err)
	}
	return nil
}

// Size counts artifact keys only; limiter counters share the database.
func (c *redisCache) Size(ctx context.Context) (int64, error) {
	var (
		cursor uint64
		total  int64
	)
	for {
		resp := c.client.Do(ctx, c.client.B().Scan().Cursor(cursor).Match(Namespace+":*").Count(500).Build())
		entry, err := resp.AsScanEntry()
		if err != nil {
			return 0, fmt.Errorf("cache: redis scan: %w", err)
		}
		total += int64(len(entry.Elements))
		cursor = entry.Cursor
		if cursor == 0 {
			return total, nil
		}
	}
}

func (c *redisCache) Close(context.Context) error {
	if c.owned {
		c.client.Close()
	}
	return nil
}
