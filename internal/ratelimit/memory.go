package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"
)

type fixedWindow struct {
	count   int64
	resetAt time.Time
}

// Memory is a process-local fixed-window limiter. It is only accurate for a
// single instance and serves development setups.
type Memory struct {
	policy Policy
	now    func() time.Time

	mu        sync.Mutex
	windows   map[string]*fixedWindow
	nextSweep time.Time
}

// NewMemory builds an in-process limiter.
func NewMemory(policy Policy) (*Memory, error) {
	return newMemory(policy, time.Now)
}

func newMemory(policy Policy, now func() time.Time) (*Memory, error) {
	if !policy.Valid() {
		return nil, errors.New("ratelimit: policy requires positive requests and window")
	}
	return &Memory{policy: policy, now: now, windows: make(map[string]*fixedWindow)}, nil
}

// Check implements Limiter.
func (m *Memory) Check(ctx context.Context, identity string) (Decision, error) {
	if err := ctx.Err(); err != nil {
		return Decision{}, err
	}
	now := m.now()
	key := Key(identity)

	m.mu.Lock()
	defer m.mu.Unlock()
	if !now.Before(m.nextSweep) {
		m.sweep(now)
	}
	w, ok := m.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &fixedWindow{resetAt: now.Add(m.policy.Window)}
		m.windows[key] = w
	}
	w.count++
	return decide(m.policy, w.count, w.resetAt), nil
}

// sweep drops elapsed windows and schedules the next pass one window later,
// so a full scan happens at most once per window. Must be called with m.mu
// held.
func (m *Memory) sweep(now time.Time) {
	m.nextSweep = now.Add(m.policy.Window)
	for key, w := range m.windows {
		if !now.Before(w.resetAt) {
			delete(m.windows, key)
		}
	}
}
