package publish

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

type sizer interface {
	Size() int
}

type breaker interface {
	Open() bool
}

// ServeHealth reports the wiring and the state of the shared store.
func (s *Service) ServeHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cacheTimeout)
	defer cancel()

	status := map[string]any{
		"status":     "ok",
		"observedAt": s.now().UTC().Format(time.RFC3339),
		"store":      s.storeBackend,
		"directory":  s.directoryBackend,
		"ttlSeconds": int(s.ttl / time.Second),
	}
	cacheSize, err := s.cache.Size(ctx)
	if err != nil {
		s.logger.Warn("cache size query failed", slog.Any("error", err))
		status["status"] = "degraded"
		status["cacheAvailable"] = false
	} else {
		status["cacheEntries"] = cacheSize
	}
	if d, ok := s.directory.(sizer); ok {
		status["tenants"] = d.Size()
	}
	if s.limiter == nil {
		status["rateLimit"] = "disabled"
	} else if b, ok := s.limiter.(breaker); ok && b.Open() {
		status["status"] = "degraded"
		status["rateLimit"] = "degraded"
	} else {
		status["rateLimit"] = "enabled"
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		s.logger.Error("health encode failed", slog.Any("error", err))
	}
}
