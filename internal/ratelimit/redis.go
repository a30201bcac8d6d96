package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	valkey "github.com/valkey-io/valkey-go"
)

// fixedWindowScript increments the counter and arms its expiry on the first
// hit of a window, returning the count and the remaining window in ms.
const fixedWindowScript = `
local current = redis.call('INCR', KEYS[1])
local ttl = redis.call('PTTL', KEYS[1])
if current == 1 or ttl < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {current, ttl}
`

// Redis is the shared fixed-window limiter used by every instance.
type Redis struct {
	client valkey.Client
	policy Policy
	script *valkey.Lua
	now    func() time.Time
}

// NewRedis builds a limiter over a shared valkey client.
func NewRedis(client valkey.Client, policy Policy) (*Redis, error) {
	if client == nil {
		return nil, errors.New("ratelimit: redis client required")
	}
	if !policy.Valid() {
		return nil, errors.New("ratelimit: policy requires positive requests and window")
	}
	return &Redis{
		client: client,
		policy: policy,
		script: valkey.NewLuaScript(fixedWindowScript),
		now:    time.Now,
	}, nil
}

// Check implements Limiter.
func (r *Redis) Check(ctx context.Context, identity string) (Decision, error) {
	windowMS := strconv.FormatInt(r.policy.Window.Milliseconds(), 10)
	resp := r.script.Exec(ctx, r.client, []string{Key(identity)}, []string{windowMS})
	values, err := resp.ToArray()
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(values) != 2 {
		return Decision{}, fmt.Errorf("%w: unexpected script reply of %d values", ErrUnavailable, len(values))
	}
	count, err := values[0].AsInt64()
	if err != nil {
		return Decision{}, fmt.Errorf("%w: count: %v", ErrUnavailable, err)
	}
	ttlMS, err := values[1].AsInt64()
	if err != nil {
		return Decision{}, fmt.Errorf("%w: ttl: %v", ErrUnavailable, err)
	}
	resetAt := r.now().Add(time.Duration(ttlMS) * time.Millisecond)
	return decide(r.policy, count, resetAt), nil
}
