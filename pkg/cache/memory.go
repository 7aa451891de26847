package cache

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"
)

type MemoryOption func(*MemoryCache)

// WithMemoryMaxSize bounds the entry count; the least recently used entry is
// evicted first.
func WithMemoryMaxSize(n int) MemoryOption {
	return func(m *MemoryCache) {
		if n > 0 {
			m.maxSize = n
		}
	}
}

// WithMemoryTTL sets the lifetime used when Set gets no ttl.
func WithMemoryTTL(ttl time.Duration) MemoryOption {
	return func(m *MemoryCache) {
		if ttl > 0 {
			m.defaultTTL = ttl
		}
	}
}

// WithMemorySweep sets how often expired entries are dropped in the
// background. Zero disables the sweeper; expired entries then go on access.
func WithMemorySweep(interval time.Duration) MemoryOption {
	return func(m *MemoryCache) { m.sweep = interval }
}

type memoryEntry struct {
	key      string
	value    []byte
	expireAt time.Time
}

// MemoryCache is a size-bounded LRU with per-entry expiry.
type MemoryCache struct {
	mu         sync.Mutex
	items      map[string]*list.Element
	order      *list.List // front is most recently used
	maxSize    int
	defaultTTL time.Duration
	sweep      time.Duration
	now        func() time.Time

	stop      chan struct{}
	closeOnce sync.Once
}

func NewMemoryCache(opts ...MemoryOption) *MemoryCache {
	m := &MemoryCache{
		items:      make(map[string]*list.Element),
		order:      list.New(),
		maxSize:    10000,
		defaultTTL: 24 * time.Hour,
		sweep:      5 * time.Minute,
		now:        time.Now,
		stop:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.sweep > 0 {
		go m.sweeper()
	}
	return m
}

func (m *MemoryCache) Get(_ context.Context, key string, dest interface{}) error {
	m.mu.Lock()
	el, ok := m.items[key]
	if !ok {
		m.mu.Unlock()
		return ErrCacheMiss
	}
	e := el.Value.(*memoryEntry)
	if !m.now().Before(e.expireAt) {
		m.removeLocked(el)
		m.mu.Unlock()
		return ErrCacheMiss
	}
	m.order.MoveToFront(el)
	data := e.value
	m.mu.Unlock()

	return decode(key, data, dest)
}

func (m *MemoryCache) Set(_ context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := encode(value)
	if err != nil {
		return fmt.Errorf("memory cache encode %s: %w", key, err)
	}
	if ttl <= 0 {
		ttl = m.defaultTTL
	}
	expireAt := m.now().Add(ttl)

	m.mu.Lock()
	defer m.mu.Unlock()
	if el, ok := m.items[key]; ok {
		e := el.Value.(*memoryEntry)
		e.value, e.expireAt = data, expireAt
		m.order.MoveToFront(el)
		return nil
	}
	for m.order.Len() >= m.maxSize {
		m.removeLocked(m.order.Back())
	}
	m.items[key] = m.order.PushFront(&memoryEntry{key: key, value: data, expireAt: expireAt})
	return nil
}

func (m *MemoryCache) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		if el, ok := m.items[key]; ok {
			m.removeLocked(el)
		}
	}
	return nil
}

// Len reports the stored entry count, expired entries not yet swept included.
func (m *MemoryCache) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.order.Len()
}

// Close stops the sweeper.
func (m *MemoryCache) Close() error {
	m.closeOnce.Do(func() { close(m.stop) })
	return nil
}

func (m *MemoryCache) removeLocked(el *list.Element) {
	m.order.Remove(el)
	delete(m.items, el.Value.(*memoryEntry).key)
}

func (m *MemoryCache) sweeper() {
	ticker := time.NewTicker(m.sweep)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.dropExpired()
		}
	}
}

func (m *MemoryCache) dropExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	dropped := 0
	for el := m.order.Back(); el != nil; {
		prev := el.Prev()
		if !now.Before(el.Value.(*memoryEntry).expireAt) {
			m.removeLocked(el)
			dropped++
		}
		el = prev
	}
	return dropped
}

var _ Service = (*MemoryCache)(nil)
