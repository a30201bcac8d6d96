// Package publish serves the public metadata and checksum artifacts. Each
// request is validated, rate limited, answered from the shared cache when
// possible, and otherwise generated from the tenant directory and written
// back to the cache.
package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/l0p7/pricefeed/internal/artifact"
	"github.com/l0p7/pricefeed/internal/directory"
	"github.com/l0p7/pricefeed/internal/handle"
	"github.com/l0p7/pricefeed/internal/metrics"
	"github.com/l0p7/pricefeed/internal/ratelimit"
	"github.com/l0p7/pricefeed/internal/runtime/cache"
)

// ErrUpstreamUnavailable marks a cache failure that was absorbed: the request
// continues as a miss.
var ErrUpstreamUnavailable = errors.New("publish: upstream store unavailable")

const (
	defaultTTL              = 5 * time.Minute
	defaultCacheTimeout     = 250 * time.Millisecond
	defaultDirectoryTimeout = 2 * time.Second
)

// Options wires the collaborators of a Service. Limiter may be nil to
// disable rate limiting.
type Options struct {
	Cache     cache.ArtifactCache
	Directory directory.Directory
	Limiter   ratelimit.Limiter
	Pointer   *artifact.Pointer

	TTL            time.Duration
	Location       *time.Location
	IdentityMode   ratelimit.IdentityMode
	TrustedProxies []netip.Prefix

	CacheTimeout     time.Duration
	DirectoryTimeout time.Duration

	CorrelationHeader string
	StoreBackend      string
	DirectoryBackend  string

	Metrics *metrics.Recorder
	Logger  *slog.Logger
	Now     func() time.Time
}

// Service implements the public endpoints. It holds no per-request state;
// the cache and limiter are the only shared mutable state and live outside
// the process.
type Service struct {
	cache     cache.ArtifactCache
	directory directory.Directory
	limiter   ratelimit.Limiter
	pointer   *artifact.Pointer

	ttl            time.Duration
	location       *time.Location
	identityMode   ratelimit.IdentityMode
	trustedProxies []netip.Prefix

	cacheTimeout     time.Duration
	directoryTimeout time.Duration

	correlationHeader string
	storeBackend      string
	directoryBackend  string

	metrics *metrics.Recorder
	logger  *slog.Logger
	now     func() time.Time

	inflight singleflight.Group
}

// NewService validates the wiring and applies defaults.
func NewService(opts Options) (*Service, error) {
	if opts.Cache == nil {
		return nil, errors.New("publish: cache required")
	}
	if opts.Directory == nil {
		return nil, errors.New("publish: directory required")
	}
	if opts.Pointer == nil {
		return nil, errors.New("publish: export pointer required")
	}
	if opts.TTL <= 0 {
		opts.TTL = defaultTTL
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.IdentityMode == "" {
		opts.IdentityMode = ratelimit.IdentityIP
	}
	if opts.CacheTimeout <= 0 {
		opts.CacheTimeout = defaultCacheTimeout
	}
	if opts.DirectoryTimeout <= 0 {
		opts.DirectoryTimeout = defaultDirectoryTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cache:             opts.Cache,
		directory:         opts.Directory,
		limiter:           opts.Limiter,
		pointer:           opts.Pointer,
		ttl:               opts.TTL,
		location:          opts.Location,
		identityMode:      opts.IdentityMode,
		trustedProxies:    opts.TrustedProxies,
		cacheTimeout:      opts.CacheTimeout,
		directoryTimeout:  opts.DirectoryTimeout,
		correlationHeader: strings.TrimSpace(opts.CorrelationHeader),
		storeBackend:      opts.StoreBackend,
		directoryBackend:  opts.DirectoryBackend,
		metrics:           opts.Metrics,
		logger:            logger.With(slog.String("agent", "publisher")),
		now:               opts.Now,
	}, nil
}

// ServeMetadata handles GET /{handle}/metadata.
func (s *Service) ServeMetadata(w http.ResponseWriter, r *http.Request, rawHandle string) {
	s.serve(w, r, artifact.KindMetadata, rawHandle)
}

// ServeChecksum handles GET /{handle}/checksum.
func (s *Service) ServeChecksum(w http.ResponseWriter, r *http.Request, rawHandle string) {
	s.serve(w, r, artifact.KindChecksum, rawHandle)
}

// requestState follows one request through the stages below.
type requestState struct {
	kind          artifact.Kind
	correlationID string
	handle        handle.Handle
	decision      ratelimit.Decision
	limited       bool
	cacheOutcome  string
	status        int
}

func (s *Service) serve(w http.ResponseWriter, r *http.Request, kind artifact.Kind, rawHandle string) {
	start := time.Now()
	state := &requestState{kind: kind, correlationID: s.requestCorrelationID(r)}
	if s.correlationHeader != "" {
		w.Header().Set(s.correlationHeader, state.correlationID)
	}
	logger := s.logger.With(
		slog.String("correlation_id", state.correlationID),
		slog.String("artifact", string(kind)),
	)
	defer func() {
		duration := time.Since(start)
		s.metrics.ObservePublish(string(kind), state.status, state.cacheOutcome, duration)
		attrs := []slog.Attr{
			slog.Int("status", state.status),
			slog.Float64("latency_ms", float64(duration)/float64(time.Millisecond)),
		}
		if !state.handle.IsZero() {
			attrs = append(attrs, slog.String("client_id", state.handle.Masked()))
		}
		if state.cacheOutcome != "" {
			attrs = append(attrs, slog.String("cache", state.cacheOutcome))
		}
		logger.LogAttrs(r.Context(), slog.LevelInfo, "artifact request served", attrs...)
	}()

	// Validation happens before any collaborator is touched.
	h, err := handle.Parse(rawHandle)
	if err != nil {
		state.status = s.writeError(w, http.StatusBadRequest, "invalid_handle", nil)
		return
	}
	state.handle = h

	if !s.admit(r, state, logger) {
		s.writeRateLimitHeaders(w, state)
		state.status = s.writeRateLimited(w, state.decision)
		return
	}
	s.writeRateLimitHeaders(w, state)

	now := s.now()
	var (
		entry cache.Entry
		hit   bool
	)
	switch kind {
	case artifact.KindChecksum:
		entry, hit, err = s.checksumEntry(r.Context(), h, now, logger)
	default:
		entry, hit, err = s.metadataEntry(r.Context(), h, now, logger)
	}
	if err != nil {
		switch {
		case errors.Is(err, directory.ErrTenantNotFound):
			state.status = s.writeError(w, http.StatusNotFound, "tenant_not_found", nil)
		default:
			logger.Error("artifact request failed",
				slog.String("client_id", h.Masked()),
				slog.Any("error", err),
			)
			state.status = s.writeError(w, http.StatusInternalServerError, "internal_error", nil)
		}
		return
	}

	state.cacheOutcome = "miss"
	if hit {
		state.cacheOutcome = "hit"
	}
	state.status = s.writeArtifact(w, r, state, entry)
}

// admit consults the limiter. A limiter error fails open: the request is
// served with a degraded marker.
func (s *Service) admit(r *http.Request, state *requestState, logger *slog.Logger) bool {
	if s.limiter == nil {
		return true
	}
	state.limited = true
	identity := ratelimit.Identity(s.identityMode, r, state.handle.String(), s.trustedProxies)
	decision, err := s.limiter.Check(r.Context(), identity)
	if err != nil {
		logger.Warn("rate limiter unavailable, failing open",
			slog.Any("error", fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)),
		)
		decision = ratelimit.Decision{Allowed: true, Degraded: true, ResetAt: s.now()}
	}
	state.decision = decision
	return decision.Allowed
}

// metadataEntry returns the metadata artifact for h, generating and caching
// it on a miss. The bool reports a cache hit.
func (s *Service) metadataEntry(ctx context.Context, h handle.Handle, now time.Time, logger *slog.Logger) (cache.Entry, bool, error) {
	key := cache.Key(artifact.KindMetadata, h)
	if entry, ok := s.lookup(ctx, artifact.KindMetadata, key, logger); ok {
		return entry, true, nil
	}

	// Callers joining a flight must not inherit the first caller's cancellation.
	v, err, _ := s.inflight.Do(key, func() (any, error) {
		return s.generateMetadata(context.WithoutCancel(ctx), h, key, now, logger)
	})
	if err != nil {
		return cache.Entry{}, false, err
	}
	return v.(cache.Entry), false, nil
}

// generateMetadata resolves the tenant, builds the document and stores it.
// Concurrent misses for one handle share a single call.
func (s *Service) generateMetadata(ctx context.Context, h handle.Handle, key string, now time.Time, logger *slog.Logger) (cache.Entry, error) {
	tenant, err := s.resolve(ctx, h)
	if err != nil {
		return cache.Entry{}, err
	}
	date := artifact.DateOf(now, s.location)
	pointerURL, err := s.pointer.URL(h, date)
	if err != nil {
		return cache.Entry{}, fmt.Errorf("publish: export pointer: %w", err)
	}
	body, err := artifact.GenerateMetadata(tenant, pointerURL, date)
	if err != nil {
		return cache.Entry{}, fmt.Errorf("publish: generate metadata: %w", err)
	}
	if err := artifact.Check(body); err != nil {
		s.metrics.ObserveGenerationDefect(string(artifact.KindMetadata))
		logger.Error("generated metadata failed self-check",
			slog.String("client_id", h.Masked()),
			slog.Any("error", err),
		)
		return cache.Entry{}, err
	}

	entry := cache.Entry{Body: body, GeneratedAt: now.UTC(), ExpiresAt: now.Add(s.ttl)}
	s.store(ctx, artifact.KindMetadata, key, entry, logger)
	return entry, nil
}

// checksumEntry hashes the metadata entry served for this same request, so
// the two endpoints can never disagree: there is no separately cached
// checksum that could outlive an invalidation. The bool reports whether the
// metadata was a cache hit.
func (s *Service) checksumEntry(ctx context.Context, h handle.Handle, now time.Time, logger *slog.Logger) (cache.Entry, bool, error) {
	metadata, hit, err := s.metadataEntry(ctx, h, now, logger)
	if err != nil {
		return cache.Entry{}, false, err
	}
	sum := artifact.GenerateChecksum(metadata.Body)
	if len(sum) != artifact.ChecksumLength {
		s.metrics.ObserveGenerationDefect(string(artifact.KindChecksum))
		return cache.Entry{}, false, fmt.Errorf("%w: checksum length %d", artifact.ErrGenerationDefect, len(sum))
	}
	return cache.Entry{Body: []byte(sum), GeneratedAt: metadata.GeneratedAt, ExpiresAt: metadata.ExpiresAt}, hit, nil
}

func (s *Service) resolve(ctx context.Context, h handle.Handle) (directory.Tenant, error) {
	ctx, cancel := context.WithTimeout(ctx, s.directoryTimeout)
	defer cancel()
	tenant, err := s.directory.Resolve(ctx, h)
	if err != nil {
		if errors.Is(err, directory.ErrTenantNotFound) {
			return directory.Tenant{}, err
		}
		return directory.Tenant{}, fmt.Errorf("publish: resolve tenant: %w", err)
	}
	return tenant, nil
}

// lookup treats every cache failure as a miss.
func (s *Service) lookup(ctx context.Context, kind artifact.Kind, key string, logger *slog.Logger) (cache.Entry, bool) {
	ctx, cancel := context.WithTimeout(ctx, s.cacheTimeout)
	defer cancel()
	start := time.Now()
	entry, ok, err := s.cache.Lookup(ctx, key)
	duration := time.Since(start)
	switch {
	case err != nil:
		s.metrics.ObserveCacheLookup(string(kind), metrics.CacheLookupError, duration)
		logger.Warn("cache lookup failed, treating as miss",
			slog.Any("error", fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)),
		)
		return cache.Entry{}, false
	case !ok:
		s.metrics.ObserveCacheLookup(string(kind), metrics.CacheLookupMiss, duration)
		return cache.Entry{}, false
	default:
		s.metrics.ObserveCacheLookup(string(kind), metrics.CacheLookupHit, duration)
		return entry, true
	}
}

// store never fails the request; the freshly generated body is served
// whether or not it reached the cache.
func (s *Service) store(ctx context.Context, kind artifact.Kind, key string, entry cache.Entry, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(ctx, s.cacheTimeout)
	defer cancel()
	start := time.Now()
	err := s.cache.Store(ctx, key, entry)
	duration := time.Since(start)
	if err != nil {
		s.metrics.ObserveCacheStore(string(kind), metrics.CacheStoreError, duration)
		logger.Warn("cache store failed",
			slog.Any("error", fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)),
		)
		return
	}
	s.metrics.ObserveCacheStore(string(kind), metrics.CacheStoreStored, duration)
}

func (s *Service) requestCorrelationID(r *http.Request) string {
	if r != nil && s.correlationHeader != "" {
		if candidate := strings.TrimSpace(r.Header.Get(s.correlationHeader)); candidate != "" {
			return candidate
		}
	}
	return uuid.NewString()
}
