package invalidation

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/l0p7/pricefeed/internal/handle"
)

// Trigger is the internal HTTP entry point for mutation paths that cannot
// call Service directly.
type Trigger struct {
	service *Service
	token   string
	now     func() time.Time
}

// NewTrigger returns nil when token is empty; the route is then not mounted.
func NewTrigger(service *Service, token string) *Trigger {
	token = strings.TrimSpace(token)
	if service == nil || token == "" {
		return nil
	}
	return &Trigger{service: service, token: token, now: time.Now}
}

// ServeInvalidate handles POST /internal/tenants/{handle}/invalidate. The
// work runs asynchronously so the caller's mutation is never blocked on it.
func (t *Trigger) ServeInvalidate(w http.ResponseWriter, r *http.Request, rawHandle string) {
	if !t.authorized(r.Header.Get("Authorization")) {
		t.writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "unauthorized"})
		return
	}
	h, err := handle.Parse(rawHandle)
	if err != nil {
		t.writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_handle"})
		return
	}
	t.service.Notify(h, SourceHTTP)
	t.writeJSON(w, http.StatusAccepted, map[string]any{
		"status":   "accepted",
		"clientId": h.Masked(),
	})
}

func (t *Trigger) authorized(header string) bool {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return false
	}
	presented := strings.TrimSpace(header[len(prefix):])
	return subtle.ConstantTimeCompare([]byte(presented), []byte(t.token)) == 1
}

func (t *Trigger) writeJSON(w http.ResponseWriter, status int, body map[string]any) {
	body["timestamp"] = t.now().UTC().Format(time.RFC3339)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
