package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Outcome labels a guarded decision for metrics.
type Outcome string

const (
	OutcomeAllowed  Outcome = "allowed"
	OutcomeRejected Outcome = "rejected"
	OutcomeDegraded Outcome = "degraded"
)

// Observer receives one outcome per guarded check.
type Observer interface {
	ObserveRateLimit(outcome string)
}

// GuardOptions tunes the fail-open wrapper.
type GuardOptions struct {
	Timeout          time.Duration
	FailureThreshold int
	Cooldown         time.Duration
	Logger           *slog.Logger
	Observer         Observer
}

// Guard wraps a store-backed limiter so the endpoint stays available when
// the store is not: store errors and timeouts produce an allowed, degraded
// decision. Only a confirmed over-limit reply rejects. After repeated
// failures the breaker opens and the store is skipped until the cooldown
// elapses, when a single trial call is let through.
type Guard struct {
	inner    Limiter
	policy   Policy
	timeout  time.Duration
	logger   *slog.Logger
	observer Observer
	now      func() time.Time

	mu               sync.Mutex
	failures         int
	failureThreshold int
	cooldown         time.Duration
	openUntil        time.Time
	trialing         bool
}

// NewGuard wraps inner.
func NewGuard(inner Limiter, policy Policy, opts GuardOptions) *Guard {
	if opts.Timeout <= 0 {
		opts.Timeout = 250 * time.Millisecond
	}
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = 5
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = 5 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{
		inner:            inner,
		policy:           policy,
		timeout:          opts.Timeout,
		logger:           logger.With(slog.String("agent", "rate_limiter")),
		observer:         opts.Observer,
		now:              time.Now,
		failureThreshold: opts.FailureThreshold,
		cooldown:         opts.Cooldown,
	}
}

// Check implements Limiter. Store failures and timeouts fail open. The only
// error returned is the caller's own context error, which says nothing about
// the store and never counts toward the breaker.
func (g *Guard) Check(ctx context.Context, identity string) (Decision, error) {
	if err := ctx.Err(); err != nil {
		return Decision{}, err
	}
	if !g.acquire() {
		return g.degraded(), nil
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	decision, err := g.inner.Check(callCtx, identity)
	cancel()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			g.releaseTrial()
			return Decision{}, ctxErr
		}
		g.recordFailure()
		g.logger.Warn("rate limiter unavailable, failing open", slog.Any("error", err))
		return g.degraded(), nil
	}
	g.recordSuccess()

	if decision.Allowed {
		g.observe(OutcomeAllowed)
	} else {
		g.observe(OutcomeRejected)
	}
	return decision, nil
}

// Open reports whether the breaker currently bypasses the store.
func (g *Guard) Open() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.now().Before(g.openUntil)
}

func (g *Guard) acquire() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.openUntil.IsZero() {
		return true
	}
	if g.now().Before(g.openUntil) || g.trialing {
		return false
	}
	g.trialing = true
	return true
}

// releaseTrial hands the half-open trial to the next caller without
// changing the breaker state.
func (g *Guard) releaseTrial() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.trialing = false
}

func (g *Guard) recordFailure() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failures++
	g.trialing = false
	if g.failures >= g.failureThreshold {
		if g.openUntil.IsZero() || !g.now().Before(g.openUntil) {
			g.logger.Error("rate limiter breaker open", slog.Int("consecutive_failures", g.failures), slog.Duration("cooldown", g.cooldown))
		}
		g.openUntil = g.now().Add(g.cooldown)
	}
}

func (g *Guard) recordSuccess() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.openUntil.IsZero() {
		g.logger.Info("rate limiter breaker closed")
	}
	g.failures = 0
	g.trialing = false
	g.openUntil = time.Time{}
}

func (g *Guard) degraded() Decision {
	g.observe(OutcomeDegraded)
	return Decision{
		Allowed:   true,
		Limit:     g.policy.Requests,
		Remaining: g.policy.Requests,
		ResetAt:   g.now().Add(g.policy.Window),
		Degraded:  true,
	}
}

func (g *Guard) observe(outcome Outcome) {
	if g.observer != nil {
		g.observer.ObserveRateLimit(string(outcome))
	}
}
