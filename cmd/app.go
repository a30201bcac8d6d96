package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/l0p7/pricefeed/internal/artifact"
	"github.com/l0p7/pricefeed/internal/config"
	"github.com/l0p7/pricefeed/internal/directory"
	"github.com/l0p7/pricefeed/internal/invalidation"
	"github.com/l0p7/pricefeed/internal/metrics"
	"github.com/l0p7/pricefeed/internal/publish"
	"github.com/l0p7/pricefeed/internal/ratelimit"
	"github.com/l0p7/pricefeed/internal/runtime/cache"
	"github.com/l0p7/pricefeed/internal/server"
	"github.com/l0p7/pricefeed/internal/templates"
	"github.com/prometheus/client_golang/prometheus"
	valkey "github.com/valkey-io/valkey-go"
)

// application holds everything main needs after assembly: the routed
// handler, background workers and the resources to release on exit.
type application struct {
	handler      http.Handler
	publisher    *publish.Service
	invalidation *invalidation.Service
	consumer     *invalidation.Consumer
	logger       *slog.Logger

	closers   []func()
	closeOnce sync.Once
	workers   sync.WaitGroup
}

// buildApp assembles the publisher from configuration. The returned
// application owns the store client, directory and consumer.
func buildApp(ctx context.Context, cfg config.Config, loader *config.Loader, logger *slog.Logger, reg *prometheus.Registry) (*application, error) {
	if logger == nil {
		return nil, errors.New("app: logger required")
	}
	app := &application{logger: logger}
	recorder := metrics.NewRecorder(reg)

	artifactCache, client := buildArtifactCache(logger.With(slog.String("agent", "cache_factory")), cfg.Server.Store)
	if client != nil {
		app.onClose(client.Close)
	}
	app.onClose(func() {
		if err := artifactCache.Close(context.Background()); err != nil {
			logger.Error("cache shutdown failed", slog.Any("error", err))
		}
	})

	invalidator := invalidation.NewService(artifactCache, invalidation.Options{
		Timeout:  cfg.Server.Timeouts.Cache,
		Logger:   logger,
		Observer: recorder,
	})
	app.invalidation = invalidator
	app.onClose(invalidator.Close)

	dir, err := app.buildDirectory(ctx, cfg, loader, invalidator)
	if err != nil {
		app.close()
		return nil, err
	}

	location, err := cfg.Publish.Location()
	if err != nil {
		app.close()
		return nil, fmt.Errorf("app: publish timezone: %w", err)
	}
	pointer, err := artifact.NewPointer(templates.NewRenderer(), cfg.Publish.BaseURL, cfg.Publish.ExportURLTemplate)
	if err != nil {
		app.close()
		return nil, err
	}

	limiter, err := buildLimiter(cfg, client, logger, recorder)
	if err != nil {
		app.close()
		return nil, err
	}

	publisher, err := publish.NewService(publish.Options{
		Cache:             artifactCache,
		Directory:         dir,
		Limiter:           limiter,
		Pointer:           pointer,
		TTL:               cfg.Publish.TTL(),
		Location:          location,
		IdentityMode:      ratelimit.IdentityMode(strings.ToLower(strings.TrimSpace(cfg.RateLimit.Identity))),
		TrustedProxies:    ratelimit.ParseCIDRs(cfg.RateLimit.TrustedProxies),
		CacheTimeout:      cfg.Server.Timeouts.Cache,
		DirectoryTimeout:  cfg.Server.Timeouts.Directory,
		CorrelationHeader: cfg.Server.Logging.CorrelationHeader,
		StoreBackend:      storeBackendName(client),
		DirectoryBackend:  directoryBackendName(cfg.Directory.Backend),
		Metrics:           recorder,
		Logger:            logger,
	})
	if err != nil {
		app.close()
		return nil, err
	}
	app.publisher = publisher

	routes := server.Routes{
		Publisher: publisher,
		Metrics:   recorder.Handler(),
	}
	if trigger := invalidation.NewTrigger(invalidator, cfg.Invalidation.Token); trigger != nil {
		routes.Invalidator = trigger
	} else {
		logger.Info("invalidation endpoint disabled: no token configured")
	}

	kafkaCfg := invalidation.KafkaConfig{
		Brokers: cfg.Invalidation.Kafka.Brokers,
		Topic:   cfg.Invalidation.Kafka.Topic,
		Group:   cfg.Invalidation.Kafka.Group,
	}
	if kafkaCfg.Enabled() {
		consumer, err := invalidation.NewConsumer(kafkaCfg, invalidator, logger)
		if err != nil {
			app.close()
			return nil, err
		}
		app.consumer = consumer
		app.onClose(func() {
			consumer.Close()
			app.workers.Wait()
		})
	}

	app.handler = server.NewHandler(routes)
	return app, nil
}

// start launches background workers bound to ctx.
func (a *application) start(ctx context.Context) {
	if a.consumer == nil {
		return
	}
	a.workers.Add(1)
	go func() {
		defer a.workers.Done()
		a.logger.Info("mutation consumer starting")
		if err := a.consumer.Run(ctx); err != nil {
			a.logger.Error("mutation consumer stopped", slog.Any("error", err))
		}
	}()
}

func (a *application) onClose(fn func()) {
	a.closers = append(a.closers, fn)
}

// close releases resources in reverse acquisition order. Safe to call twice.
func (a *application) close() {
	a.closeOnce.Do(func() {
		for i := len(a.closers) - 1; i >= 0; i-- {
			a.closers[i]()
		}
		a.workers.Wait()
	})
}

func (a *application) buildDirectory(ctx context.Context, cfg config.Config, loader *config.Loader, invalidator *invalidation.Service) (directory.Directory, error) {
	logger := a.logger.With(slog.String("agent", "directory_factory"))
	switch directoryBackendName(cfg.Directory.Backend) {
	case "memory":
		mem, errs := directory.NewMemory(tenantRecords(cfg.Directory.Tenants))
		for _, err := range errs {
			logger.Warn("skipping tenant", slog.Any("error", err))
		}
		logger.Info("using inline tenant directory", slog.Int("tenants", mem.Size()))
		return mem, nil
	case "file":
		mem, _ := directory.NewMemory(nil)
		watcher, err := loader.WatchTenants(ctx, cfg, func(tenants []config.TenantConfig) {
			records := tenantRecords(tenants)
			changed := mem.Diff(records)
			for _, err := range mem.Replace(records) {
				logger.Warn("skipping tenant", slog.Any("error", err))
			}
			for _, h := range changed {
				invalidator.Notify(h, invalidation.SourceDirectory)
			}
			logger.Info("tenant directory reloaded",
				slog.Int("tenants", mem.Size()),
				slog.Int("changed", len(changed)),
			)
		}, func(err error) {
			logger.Error("tenants watcher error", slog.Any("error", err))
		})
		if err != nil {
			return nil, fmt.Errorf("app: tenants file: %w", err)
		}
		a.onClose(watcher.Stop)
		return mem, nil
	case "postgres":
		pg, err := directory.OpenPostgres(ctx, directory.PostgresConfig{
			DSN:   cfg.Directory.Postgres.DSN,
			Table: cfg.Directory.Postgres.Table,
		})
		if err != nil {
			return nil, err
		}
		a.onClose(func() {
			if err := pg.Close(); err != nil {
				logger.Error("postgres directory close failed", slog.Any("error", err))
			}
		})
		logger.Info("using postgres tenant directory")
		return pg, nil
	default:
		return nil, fmt.Errorf("app: unsupported directory backend %q", cfg.Directory.Backend)
	}
}

// buildArtifactCache returns the shared cache and, for the redis backend,
// the client the limiter reuses. A store that cannot be reached at startup
// degrades to process-local state.
func buildArtifactCache(logger *slog.Logger, cfg config.StoreConfig) (cache.ArtifactCache, valkey.Client) {
	backend := strings.TrimSpace(strings.ToLower(cfg.Backend))
	switch backend {
	case "", "memory":
		logger.Info("using memory artifact cache")
		return cache.NewMemory(0), nil
	case "redis":
		client, err := cache.NewRedisClient(cache.RedisConfig{
			Address:  cfg.Redis.Address,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TLS: cache.RedisTLSConfig{
				Enabled: cfg.Redis.TLS.Enabled,
				CAFile:  cfg.Redis.TLS.CAFile,
			},
		})
		if err != nil {
			logger.Error("redis store initialization failed", slog.Any("error", err))
			logger.Warn("falling back to memory store; cache and rate limits are no longer shared")
			return cache.NewMemory(0), nil
		}
		logger.Info("using redis artifact cache", slog.String("address", cfg.Redis.Address))
		return cache.NewRedisFromClient(client), client
	default:
		logger.Warn("unsupported store backend, defaulting to memory", slog.String("backend", cfg.Backend))
		return cache.NewMemory(0), nil
	}
}

// buildLimiter returns nil when rate limiting is disabled.
func buildLimiter(cfg config.Config, client valkey.Client, logger *slog.Logger, recorder *metrics.Recorder) (ratelimit.Limiter, error) {
	if !cfg.RateLimit.Enabled {
		return nil, nil
	}
	policy := ratelimit.Policy{Requests: cfg.RateLimit.Requests, Window: cfg.RateLimit.Window()}

	var inner ratelimit.Limiter
	if client != nil {
		redisLimiter, err := ratelimit.NewRedis(client, policy)
		if err != nil {
			return nil, err
		}
		inner = redisLimiter
	} else {
		memLimiter, err := ratelimit.NewMemory(policy)
		if err != nil {
			return nil, err
		}
		inner = memLimiter
	}
	return ratelimit.NewGuard(inner, policy, ratelimit.GuardOptions{
		Timeout:  cfg.Server.Timeouts.Limiter,
		Logger:   logger,
		Observer: recorder,
	}), nil
}

func tenantRecords(tenants []config.TenantConfig) []directory.Record {
	records := make([]directory.Record, 0, len(tenants))
	for _, t := range tenants {
		records = append(records, directory.Record{Handle: t.PublicHandle, DisplayName: t.DisplayName})
	}
	return records
}

func storeBackendName(client valkey.Client) string {
	if client != nil {
		return "redis"
	}
	return "memory"
}

func directoryBackendName(backend string) string {
	name := strings.TrimSpace(strings.ToLower(backend))
	if name == "" {
		return "memory"
	}
	return name
}
