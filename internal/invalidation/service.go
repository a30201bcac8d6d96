// Package invalidation drops a tenant's cached artifacts when its underlying
// data changes. Every trigger (internal HTTP call, mutation events, directory
// reloads) goes through Service so they all target the read path's keys.
package invalidation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/l0p7/pricefeed/internal/handle"
	"github.com/l0p7/pricefeed/internal/runtime/cache"
)

// Source labels what asked for an invalidation.
type Source string

const (
	SourceHTTP      Source = "http"
	SourceKafka     Source = "kafka"
	SourceDirectory Source = "directory"
)

// Observer receives one result per invalidation attempt.
type Observer interface {
	ObserveInvalidation(source, result string)
}

// Options configures a Service.
type Options struct {
	Timeout  time.Duration
	Logger   *slog.Logger
	Observer Observer
}

// Service deletes every artifact key of a tenant from the shared cache.
type Service struct {
	cache    cache.ArtifactCache
	timeout  time.Duration
	logger   *slog.Logger
	observer Observer

	mu      sync.Mutex
	closed  bool
	pending sync.WaitGroup
}

// NewService binds the service to the cache the read path uses.
func NewService(store cache.ArtifactCache, opts Options) *Service {
	if opts.Timeout <= 0 {
		opts.Timeout = time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cache:    store,
		timeout:  opts.Timeout,
		logger:   logger.With(slog.String("agent", "invalidation")),
		observer: opts.Observer,
	}
}

// Invalidate removes the cached metadata of h. The checksum is derived from
// it, so the next request for either artifact is a miss.
func (s *Service) Invalidate(ctx context.Context, h handle.Handle, source Source) error {
	if h.IsZero() {
		return fmt.Errorf("invalidation: %w", handle.ErrInvalid)
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	err := s.cache.Delete(ctx, cache.Keys(h)...)
	result := "ok"
	if err != nil {
		result = "error"
	}
	if s.observer != nil {
		s.observer.ObserveInvalidation(string(source), result)
	}
	if err != nil {
		return fmt.Errorf("invalidation: delete %s: %w", h.Masked(), err)
	}
	s.logger.Info("artifacts invalidated",
		slog.String("client_id", h.Masked()),
		slog.String("source", string(source)),
	)
	return nil
}

// Notify invalidates h in the background. Failures are logged and never
// reach the caller; the cache TTL bounds staleness when one is missed. After
// Close, Notify does nothing.
func (s *Service) Notify(h handle.Handle, source Source) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		s.logger.Debug("invalidation dropped after close",
			slog.String("client_id", h.Masked()),
			slog.String("source", string(source)),
		)
		return
	}
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		if err := s.Invalidate(context.Background(), h, source); err != nil {
			s.logger.Warn("invalidation failed",
				slog.String("client_id", h.Masked()),
				slog.String("source", string(source)),
				slog.Any("error", err),
			)
		}
	}()
}

// Close stops accepting background invalidations and waits for the ones in
// flight. Each is bounded by the service timeout, so Close must run before the
// cache it deletes from is closed.
func (s *Service) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.pending.Wait()
}
