package cache

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	responsePrefix = "resp:"
	responseTagKey = "resp-tag:"
	responseGenKey = "resp-gen:"
)

// ResponseCache stores serialised API responses keyed by request path and
// tagged by resource so a write can drop every cached view of that resource.
// Each resource carries a generation that Invalidate bumps; a body is only
// stored when the generation it was read under is still current.
type ResponseCache struct {
	c   Cache
	ttl time.Duration
	sf  singleflight.Group

	hits   atomic.Int64
	misses atomic.Int64
}

// NewResponseCache wraps c. A non-positive ttl defaults to one minute.
func NewResponseCache(c Cache, ttl time.Duration) *ResponseCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &ResponseCache{c: c, ttl: ttl}
}

func (r *ResponseCache) generation(ctx context.Context, resource string) (string, error) {
	v, err := r.c.Get(ctx, responseGenKey+resource)
	if IsNotFound(err) {
		return "0", nil
	}
	return v, err
}

// Fetch returns the cached body for key, or calls fill once and caches its
// result under the resource tag. Concurrent misses on one key share a fill.
// hit reports whether the body came from the cache.
func (r *ResponseCache) Fetch(ctx context.Context, resource, key string, fill func(context.Context) ([]byte, error)) (body []byte, hit bool, err error) {
	gen, err := r.generation(ctx, resource)
	if err != nil {
		// Cache backend down: serve uncached.
		r.misses.Add(1)
		b, err := fill(ctx)
		return b, false, err
	}
	full := responsePrefix + gen + ":" + key
	if v, err := r.c.Get(ctx, full); err == nil {
		r.hits.Add(1)
		return []byte(v), true, nil
	}

	// The shared fill outlives any single caller's cancellation.
	fillCtx := context.WithoutCancel(ctx)
	v, err, _ := r.sf.Do(full, func() (interface{}, error) {
		b, err := fill(fillCtx)
		if err != nil {
			return nil, err
		}
		// A write that landed during fill bumped the generation; b may
		// predate it and must not be stored.
		if now, err := r.generation(fillCtx, resource); err != nil || now != gen {
			return b, nil
		}
		if err := r.c.SAdd(fillCtx, responseTagKey+resource, full); err != nil {
			return b, nil
		}
		_ = r.c.Set(fillCtx, full, string(b), r.ttl)
		return b, nil
	})
	if err != nil {
		return nil, false, err
	}
	r.misses.Add(1)
	return v.([]byte), false, nil
}

// Invalidate drops every response cached under resource and moves it to a
// new generation so fills already in flight are not stored.
func (r *ResponseCache) Invalidate(ctx context.Context, resource string) error {
	if _, err := r.c.Incr(ctx, responseGenKey+resource); err != nil {
		return err
	}
	tag := responseTagKey + resource
	keys, err := r.c.SMembers(ctx, tag)
	if err != nil {
		return err
	}
	return r.c.Del(ctx, append(keys, tag)...)
}

// Purge drops every cached response and tag. It returns how many keys were
// removed.
func (r *ResponseCache) Purge(ctx context.Context) (int, error) {
	var all []string
	for _, p := range []string{responsePrefix + "*", responseTagKey + "*"} {
		keys, err := r.c.Keys(ctx, p)
		if err != nil {
			return 0, err
		}
		all = append(all, keys...)
	}
	if err := r.c.Del(ctx, all...); err != nil {
		return 0, err
	}
	return len(all), nil
}

// ResponseStats are hit/miss counters since start.
type ResponseStats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
}

func (r *ResponseCache) Stats() ResponseStats {
	return ResponseStats{Hits: r.hits.Load(), Misses: r.misses.Load()}
}
