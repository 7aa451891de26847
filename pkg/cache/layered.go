package cache

import (
	"context"
	"errors"
	"time"
)

type LayeredOption func(*layeredSettings)

type layeredSettings struct {
	memorySize int
	memoryTTL  time.Duration
}

// WithLayeredMemorySize bounds the in-process level.
func WithLayeredMemorySize(n int) LayeredOption {
	return func(s *layeredSettings) { s.memorySize = n }
}

// WithLayeredMemoryTTL caps how long the in-process level keeps an entry.
func WithLayeredMemoryTTL(ttl time.Duration) LayeredOption {
	return func(s *layeredSettings) {
		if ttl > 0 {
			s.memoryTTL = ttl
		}
	}
}

// LayeredCache reads through a process-local MemoryCache to a shared level,
// usually Redis. Writes go to the shared level first.
type LayeredCache struct {
	local  *MemoryCache
	shared Service
	ttl    time.Duration
}

func NewLayeredCache(shared Service, opts ...LayeredOption) *LayeredCache {
	s := &layeredSettings{memorySize: 1000, memoryTTL: 10 * time.Minute}
	for _, opt := range opts {
		opt(s)
	}
	return &LayeredCache{
		local:  NewMemoryCache(WithMemoryMaxSize(s.memorySize), WithMemoryTTL(s.memoryTTL)),
		shared: shared,
		ttl:    s.memoryTTL,
	}
}

func (lc *LayeredCache) Get(ctx context.Context, key string, dest interface{}) error {
	var raw []byte
	if err := lc.local.Get(ctx, key, &raw); err == nil {
		return decode(key, raw, dest)
	}
	if err := lc.shared.Get(ctx, key, &raw); err != nil {
		return err
	}
	if err := decode(key, raw, dest); err != nil {
		return err
	}
	_ = lc.local.Set(ctx, key, raw, lc.ttl)
	return nil
}

func (lc *LayeredCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := encode(value)
	if err != nil {
		return err
	}
	if err := lc.shared.Set(ctx, key, data, ttl); err != nil {
		return err
	}
	local := lc.ttl
	if ttl > 0 && ttl < local {
		local = ttl
	}
	return lc.local.Set(ctx, key, data, local)
}

func (lc *LayeredCache) Delete(ctx context.Context, keys ...string) error {
	_ = lc.local.Delete(ctx, keys...)
	return lc.shared.Delete(ctx, keys...)
}

// Close stops the local level and closes the shared one when it can be closed.
func (lc *LayeredCache) Close() error {
	errs := []error{lc.local.Close()}
	if c, ok := lc.shared.(interface{ Close() error }); ok {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

var _ Service = (*LayeredCache)(nil)
