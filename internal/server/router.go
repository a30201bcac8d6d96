package server

import (
	"net/http"
	"strings"
)

// Publisher is the surface the router needs from the publishing service.
type Publisher interface {
	ServeMetadata(w http.ResponseWriter, r *http.Request, rawHandle string)
	ServeChecksum(w http.ResponseWriter, r *http.Request, rawHandle string)
	ServeHealth(w http.ResponseWriter, r *http.Request)
}

// Invalidator serves the internal invalidation trigger.
type Invalidator interface {
	ServeInvalidate(w http.ResponseWriter, r *http.Request, rawHandle string)
}

// Routes lists the handlers mounted by NewHandler. Nil Invalidator or
// Metrics leave their routes unmounted.
type Routes struct {
	Publisher   Publisher
	Invalidator Invalidator
	Metrics     http.Handler
}

type route string

const (
	routeMetadata   route = "metadata"
	routeChecksum   route = "checksum"
	routeHealth     route = "healthz"
	routeMetrics    route = "metrics"
	routeInvalidate route = "invalidate"
)

const (
	allowRead  = "GET, HEAD"
	allowWrite = "POST"
)

// NewHandler owns URL dispatch so the publishing service never parses
// paths itself. The handle segment is passed through raw; validating it is
// the service's first step.
func NewHandler(routes Routes) http.Handler {
	if routes.Publisher == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "publisher unavailable", http.StatusServiceUnavailable)
		})
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rt, rawHandle, ok := parseRoute(r.URL.Path)
		if !ok {
			http.NotFound(w, r)
			return
		}

		switch rt {
		case routeMetadata, routeChecksum, routeHealth, routeMetrics:
			if !methodAllowed(w, r, allowRead) {
				return
			}
		case routeInvalidate:
			if routes.Invalidator == nil {
				http.NotFound(w, r)
				return
			}
			if !methodAllowed(w, r, allowWrite) {
				return
			}
		}

		switch rt {
		case routeMetadata:
			routes.Publisher.ServeMetadata(w, r, rawHandle)
		case routeChecksum:
			routes.Publisher.ServeChecksum(w, r, rawHandle)
		case routeHealth:
			routes.Publisher.ServeHealth(w, r)
		case routeMetrics:
			if routes.Metrics == nil {
				http.NotFound(w, r)
				return
			}
			routes.Metrics.ServeHTTP(w, r)
		case routeInvalidate:
			routes.Invalidator.ServeInvalidate(w, r, rawHandle)
		default:
			http.NotFound(w, r)
		}
	})
}

func methodAllowed(w http.ResponseWriter, r *http.Request, allow string) bool {
	for _, method := range strings.Split(allow, ", ") {
		if r.Method == method {
			return true
		}
	}
	w.Header().Set("Allow", allow)
	http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	return false
}

func parseRoute(path string) (route, string, bool) {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return "", "", false
	}
	parts := strings.Split(trimmed, "/")
	switch len(parts) {
	case 1:
		switch strings.ToLower(parts[0]) {
		case "health", "healthz":
			return routeHealth, "", true
		case "metrics":
			return routeMetrics, "", true
		}
	case 2:
		if parts[0] == "" {
			return "", "", false
		}
		switch strings.ToLower(parts[1]) {
		case "metadata":
			return routeMetadata, parts[0], true
		case "checksum":
			return routeChecksum, parts[0], true
		}
	case 4:
		if parts[0] == "internal" && parts[1] == "tenants" && parts[3] == "invalidate" && parts[2] != "" {
			return routeInvalidate, parts[2], true
		}
	}
	return "", "", false
}
