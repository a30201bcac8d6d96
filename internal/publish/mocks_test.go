package publish

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/l0p7/pricefeed/internal/directory"
	"github.com/l0p7/pricefeed/internal/handle"
	"github.com/l0p7/pricefeed/internal/ratelimit"
	"github.com/l0p7/pricefeed/internal/runtime/cache"
)

type mockCache struct {
	mock.Mock
}

func (m *mockCache) Lookup(ctx context.Context, key string) (cache.Entry, bool, error) {
	args := m.Called(ctx, key)
	return args.Get(0).(cache.Entry), args.Bool(1), args.Error(2)
}

func (m *mockCache) Store(ctx context.Context, key string, entry cache.Entry) error {
	return m.Called(ctx, key, entry).Error(0)
}

func (m *mockCache) Delete(ctx context.Context, keys ...string) error {
	return m.Called(ctx, keys).Error(0)
}

func (m *mockCache) Size(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockCache) Close(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

type mockDirectory struct {
	mock.Mock
}

func (m *mockDirectory) Resolve(ctx context.Context, h handle.Handle) (directory.Tenant, error) {
	args := m.Called(ctx, h)
	return args.Get(0).(directory.Tenant), args.Error(1)
}

type mockLimiter struct {
	mock.Mock
}

func (m *mockLimiter) Check(ctx context.Context, identity string) (ratelimit.Decision, error) {
	args := m.Called(ctx, identity)
	return args.Get(0).(ratelimit.Decision), args.Error(1)
}
