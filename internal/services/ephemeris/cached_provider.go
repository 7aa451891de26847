package ephemeris

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"AstroCal/internal/domain/models"
	domrepo "AstroCal/internal/domain/repository"
	"AstroCal/internal/domain/service"
	"AstroCal/pkg/cache"
	applogger "AstroCal/pkg/logger"

	"golang.org/x/sync/singleflight"
)

// CachedProvider memoizes (instant, location, body) lookups. A day-stepped
// search issues hundreds of identical progressed lookups across targets and
// requests; concurrent misses for the same key share one upstream call.
type CachedProvider struct {
	next    service.EphemerisProvider
	cache   cache.Service
	ttl     time.Duration
	timeout time.Duration
	metrics domrepo.Metrics
	group   singleflight.Group
	l       *applogger.Logger
}

type CacheOption func(*CachedProvider)

// WithCacheTTL sets how long positions stay cached.
func WithCacheTTL(ttl time.Duration) CacheOption {
	return func(p *CachedProvider) { p.ttl = ttl }
}

// WithCallTimeout bounds a shared upstream call. The call outlives any single
// caller's context so that one cancelled request does not fail the others
// waiting on the same key.
func WithCallTimeout(d time.Duration) CacheOption {
	return func(p *CachedProvider) { p.timeout = d }
}

// WithCacheMetrics records hits, misses and upstream latency.
func WithCacheMetrics(m domrepo.Metrics) CacheOption {
	return func(p *CachedProvider) { p.metrics = m }
}

func NewCachedProvider(next service.EphemerisProvider, c cache.Service, opts ...CacheOption) *CachedProvider {
	p := &CachedProvider{next: next, cache: c, ttl: 24 * time.Hour, timeout: 30 * time.Second}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SetLogger injects a structured logger.
func (p *CachedProvider) SetLogger(l *applogger.Logger) { p.l = l }

func queryKey(q models.EphemerisQuery) string {
	return fmt.Sprintf("%d:%.6f:%.6f", q.Instant.UTC().UnixNano(), q.Latitude, q.Longitude)
}

func positionKey(q models.EphemerisQuery, b models.Body) string {
	return cache.Key("eph:pos", queryKey(q), b)
}

func (p *CachedProvider) Positions(ctx context.Context, q models.EphemerisQuery, bodies ...models.Body) (map[models.Body]models.Position, error) {
	out := make(map[models.Body]models.Position, len(bodies))
	missing := make([]models.Body, 0, len(bodies))
	for _, b := range bodies {
		var pos models.Position
		err := p.cache.Get(ctx, positionKey(q, b), &pos)
		switch {
		case err == nil:
			out[b] = pos
			p.recordCache("positions", true)
		case errors.Is(err, cache.ErrCacheMiss):
			missing = append(missing, b)
			p.recordCache("positions", false)
		default:
			// cache backend trouble is not fatal for a lookup
			missing = append(missing, b)
			p.warn("ephemeris cache read failed", err)
			p.dropStale(ctx, positionKey(q, b), err)
		}
	}
	if len(missing) == 0 {
		return out, nil
	}

	sorted := append([]models.Body(nil), missing...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	names := make([]string, len(sorted))
	for i, b := range sorted {
		names[i] = string(b)
	}
	flightKey := "pos:" + queryKey(q) + ":" + strings.Join(names, ",")

	v, err := p.shared(ctx, flightKey, func(ctx context.Context) (interface{}, error) {
		start := time.Now()
		res, err := p.next.Positions(ctx, q, sorted...)
		if p.metrics != nil {
			p.metrics.RecordProviderCall("positions", err, time.Since(start).Seconds())
		}
		if err != nil {
			return nil, err
		}
		for b, pos := range res {
			if err := p.cache.Set(ctx, positionKey(q, b), pos, p.ttl); err != nil {
				p.warn("ephemeris cache write failed", err)
			}
		}
		return res, nil
	})
	if err != nil {
		return nil, err
	}
	for b, pos := range v.(map[models.Body]models.Position) {
		out[b] = pos
	}
	return out, nil
}

func (p *CachedProvider) HouseCusps(ctx context.Context, q models.EphemerisQuery, system models.HouseSystem) (map[int]float64, error) {
	key := cache.Key("eph:houses", queryKey(q), system)

	var cusps map[int]float64
	if err := p.cache.Get(ctx, key, &cusps); err == nil {
		p.recordCache("houses", true)
		return cusps, nil
	}
	p.recordCache("houses", false)

	v, err := p.shared(ctx, key, func(ctx context.Context) (interface{}, error) {
		start := time.Now()
		res, err := p.next.HouseCusps(ctx, q, system)
		if p.metrics != nil {
			p.metrics.RecordProviderCall("houses", err, time.Since(start).Seconds())
		}
		if err != nil {
			return nil, err
		}
		if err := p.cache.Set(ctx, key, res, p.ttl); err != nil {
			p.warn("ephemeris cache write failed", err)
		}
		return res, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(map[int]float64), nil
}

// shared runs fn once per key across concurrent callers. fn gets a context
// detached from the caller's cancellation and bounded by the call timeout;
// each caller stops waiting when its own context ends.
func (p *CachedProvider) shared(ctx context.Context, key string, fn func(context.Context) (interface{}, error)) (interface{}, error) {
	ch := p.group.DoChan(key, func() (interface{}, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
		defer cancel()
		return fn(fctx)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		return r.Val, r.Err
	}
}

// dropStale removes an entry whose stored shape no longer decodes, so the
// refetched value replaces it.
func (p *CachedProvider) dropStale(ctx context.Context, key string, err error) {
	var derr *cache.DecodeError
	if errors.As(err, &derr) {
		_ = p.cache.Delete(ctx, key)
	}
}

func (p *CachedProvider) recordCache(op string, hit bool) {
	if p.metrics != nil {
		p.metrics.RecordCache(op, hit)
	}
}

func (p *CachedProvider) warn(msg string, err error) {
	if p.l != nil {
		p.l.Warn(msg, applogger.Error(err))
	}
	if p.metrics != nil {
		p.metrics.RecordError("ephemeris_cache")
	}
}

var _ service.EphemerisProvider = (*CachedProvider)(nil)
