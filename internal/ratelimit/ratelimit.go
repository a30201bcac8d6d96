// Package ratelimit caps public request rates with a fixed window per
// requester identity. Counters live in the shared store under their own
// namespace so they never collide with artifact keys.
package ratelimit

import (
	"context"
	"errors"
	"math"
	"time"
)

// Namespace prefixes every counter key.
const Namespace = "ratelimit"

// ErrUnavailable wraps failures of the counter store.
var ErrUnavailable = errors.New("ratelimit: store unavailable")

// Policy is the configured ceiling for one window.
type Policy struct {
	Requests int
	Window   time.Duration
}

// Valid reports whether the policy can be enforced.
func (p Policy) Valid() bool {
	return p.Requests > 0 && p.Window > 0
}

// Decision is the outcome of one check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
	// Degraded marks a decision made without consulting the store.
	Degraded bool
}

// RetryAfter returns whole seconds until ResetAt, at least one.
func (d Decision) RetryAfter(now time.Time) int {
	secs := int(math.Ceil(d.ResetAt.Sub(now).Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

// Limiter counts one request for identity and decides whether it may pass.
type Limiter interface {
	Check(ctx context.Context, identity string) (Decision, error)
}

// Key returns the counter key for identity.
func Key(identity string) string {
	return Namespace + ":" + identity
}

func decide(policy Policy, count int64, resetAt time.Time) Decision {
	remaining := policy.Requests - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   count <= int64(policy.Requests),
		Limit:     policy.Requests,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
}
