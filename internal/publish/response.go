package publish

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/l0p7/pricefeed/internal/artifact"
	"github.com/l0p7/pricefeed/internal/ratelimit"
	"github.com/l0p7/pricefeed/internal/runtime/cache"
)

const (
	headerGeneratedAt        = "X-Generated-At"
	headerSchemaVersion      = "X-Schema-Version"
	headerClientID           = "X-Client-ID"
	headerCache              = "X-Cache"
	headerRateLimitLimit     = "X-RateLimit-Limit"
	headerRateLimitRemaining = "X-RateLimit-Remaining"
	headerRateLimitReset     = "X-RateLimit-Reset"
	headerRateLimitStatus    = "X-RateLimit-Status"
)

func (s *Service) writeArtifact(w http.ResponseWriter, r *http.Request, state *requestState, entry cache.Entry) int {
	header := w.Header()
	header.Set("Content-Type", state.kind.ContentType())
	header.Set("Content-Length", strconv.Itoa(len(entry.Body)))
	header.Set("Cache-Control", "public, max-age="+strconv.Itoa(int(s.ttl/time.Second))+", must-revalidate")
	header.Set(headerGeneratedAt, entry.GeneratedAt.UTC().Format(time.RFC3339))
	header.Set(headerSchemaVersion, artifact.SchemaVersion)
	header.Set(headerClientID, state.handle.Masked())
	if state.cacheOutcome == "hit" {
		header.Set(headerCache, "HIT")
	} else {
		header.Set(headerCache, "MISS")
	}
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return http.StatusOK
	}
	if _, err := w.Write(entry.Body); err != nil {
		s.logger.Debug("artifact response write failed", slog.Any("error", err))
	}
	return http.StatusOK
}

func (s *Service) writeRateLimitHeaders(w http.ResponseWriter, state *requestState) {
	if !state.limited {
		return
	}
	d := state.decision
	header := w.Header()
	if d.Limit > 0 {
		header.Set(headerRateLimitLimit, strconv.Itoa(d.Limit))
		header.Set(headerRateLimitRemaining, strconv.Itoa(d.Remaining))
		header.Set(headerRateLimitReset, strconv.FormatInt(d.ResetAt.Unix(), 10))
	}
	if d.Degraded {
		header.Set(headerRateLimitStatus, "degraded")
	}
}

func (s *Service) writeRateLimited(w http.ResponseWriter, d ratelimit.Decision) int {
	now := s.now()
	retryAfter := d.RetryAfter(now)
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	return s.writeError(w, http.StatusTooManyRequests, "rate_limit_exceeded", map[string]any{
		"limit":      d.Limit,
		"remaining":  d.Remaining,
		"resetAt":    d.ResetAt.UTC().Format(time.RFC3339),
		"retryAfter": retryAfter,
	})
}

// writeError renders the generic JSON error body. Internal error text is
// never part of it.
func (s *Service) writeError(w http.ResponseWriter, status int, code string, extra map[string]any) int {
	if status <= 0 {
		status = http.StatusInternalServerError
	}
	payload := map[string]any{
		"error":     code,
		"timestamp": s.now().UTC().Format(time.RFC3339),
	}
	for k, v := range extra {
		payload[k] = v
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(payload); err != nil {
		s.logger.Error("error response encode failed", slog.Any("error", err))
	}
	header := w.Header()
	header.Set("Content-Type", "application/json")
	header.Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
	return status
}
