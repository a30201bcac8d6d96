package cache

import (
	"context"
	"time"

	"github.com/l0p7/pricefeed/internal/artifact"
	"github.com/l0p7/pricefeed/internal/handle"
)

// Namespace prefixes every artifact key. Limiter counters live under a
// different prefix in the same store.
const Namespace = "artifact"

// Entry is a cached artifact. GeneratedAt feeds the X-Generated-At header;
// it is never part of the served body.
type Entry struct {
	Body        []byte    `json:"body"`
	GeneratedAt time.Time `json:"generatedAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// ArtifactCache is the shared store consulted before generation. Writes are
// last-writer-wins; concurrent writers for one key always carry identical
// bodies, so no locking is needed.
type ArtifactCache interface {
	Lookup(ctx context.Context, key string) (Entry, bool, error)
	Store(ctx context.Context, key string, entry Entry) error
	Delete(ctx context.Context, keys ...string) error
	Size(ctx context.Context) (int64, error)
	Close(ctx context.Context) error
}

// Key returns the namespaced cache key for one artifact of a tenant.
func Key(kind artifact.Kind, h handle.Handle) string {
	return Namespace + ":" + string(kind) + ":" + h.String()
}

// Keys returns every cached key of h. Only metadata is stored; the checksum
// is derived from it on each request.
func Keys(h handle.Handle) []string {
	return []string{Key(artifact.KindMetadata, h)}
}
