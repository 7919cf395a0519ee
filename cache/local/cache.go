package local

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("cache: key not found")

// Config holds LocalCache settings.
type Config struct {
	GCInterval time.Duration
}

// entry holds a cached string value with an optional expiry.
type entry struct {
	data     string
	expireAt time.Time
}

func (e *entry) expired(now time.Time) bool {
	return !e.expireAt.IsZero() && now.After(e.expireAt)
}

type lockedSet struct {
	mu       sync.RWMutex
	members  map[string]struct{}
	expireAt time.Time
}

func (s *lockedSet) expired(now time.Time) bool {
	return !s.expireAt.IsZero() && now.After(s.expireAt)
}

// LocalCache is an in-process cache implementing the Cache interface.
type LocalCache struct {
	mu         sync.Mutex // serialises SetNX / Incr read-modify-write
	kv         sync.Map   // key → *entry
	sets       sync.Map   // key → *lockedSet
	gcInterval time.Duration
	stopGC     chan struct{}
	closeOnce  sync.Once
}

// NewCache creates a LocalCache and starts the background GC goroutine.
func NewCache(cfg Config) (*LocalCache, error) {
	interval := cfg.GCInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	c := &LocalCache{
		gcInterval: interval,
		stopGC:     make(chan struct{}),
	}
	go c.runGC()
	return c, nil
}

// Close stops the background GC goroutine. Safe to call more than once.
func (c *LocalCache) Close() {
	c.closeOnce.Do(func() { close(c.stopGC) })
}

func (c *LocalCache) runGC() {
	ticker := time.NewTicker(c.gcInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.sweep(time.Now())
		case <-c.stopGC:
			return
		}
	}
}

func (c *LocalCache) sweep(now time.Time) {
	c.kv.Range(func(k, v interface{}) bool {
		if v.(*entry).expired(now) {
			c.kv.Delete(k)
		}
		return true
	})
	c.sets.Range(func(k, v interface{}) bool {
		s := v.(*lockedSet)
		s.mu.RLock()
		dead := s.expired(now) || len(s.members) == 0
		s.mu.RUnlock()
		if dead {
			c.sets.Delete(k)
		}
		return true
	})
}

func newEntry(value string, ttl time.Duration) *entry {
	e := &entry{data: value}
	if ttl > 0 {
		e.expireAt = time.Now().Add(ttl)
	}
	return e
}

func (c *LocalCache) load(key string) (*entry, bool) {
	v, ok := c.kv.Load(key)
	if !ok {
		return nil, false
	}
	e := v.(*entry)
	if e.expired(time.Now()) {
		c.kv.Delete(key)
		return nil, false
	}
	return e, true
}

// ---- KV ----

func (c *LocalCache) Get(_ context.Context, key string) (string, error) {
	e, ok := c.load(key)
	if !ok {
		return "", ErrNotFound
	}
	return e.data, nil
}

func (c *LocalCache) Set(_ context.Context, key, value string, ttl time.Duration) error {
	c.kv.Store(key, newEntry(value, ttl))
	return nil
}

func (c *LocalCache) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		c.kv.Delete(k)
		c.sets.Delete(k)
	}
	return nil
}

func (c *LocalCache) Exists(_ context.Context, key string) (bool, error) {
	if _, ok := c.load(key); ok {
		return true, nil
	}
	if s, ok := c.loadSet(key); ok {
		s.mu.RLock()
		defer s.mu.RUnlock()
		return len(s.members) > 0, nil
	}
	return false, nil
}

func (c *LocalCache) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.load(key); ok {
		return false, nil
	}
	c.kv.Store(key, newEntry(value, ttl))
	return true, nil
}

// Incr increments the integer at key, creating it at 1. The expiry of an
// existing key is preserved, as in Redis.
func (c *LocalCache) Incr(_ context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var (
		n        int64
		expireAt time.Time
	)
	if e, ok := c.load(key); ok {
		v, err := strconv.ParseInt(e.data, 10, 64)
		if err != nil {
			return 0, errors.New("cache: value is not an integer")
		}
		n, expireAt = v, e.expireAt
	}
	n++
	c.kv.Store(key, &entry{data: strconv.FormatInt(n, 10), expireAt: expireAt})
	return n, nil
}

func (c *LocalCache) Expire(_ context.Context, key string, ttl time.Duration) error {
	if e, ok := c.load(key); ok {
		c.kv.Store(key, &entry{data: e.data, expireAt: time.Now().Add(ttl)})
		return nil
	}
	if s, ok := c.loadSet(key); ok {
		s.mu.Lock()
		s.expireAt = time.Now().Add(ttl)
		s.mu.Unlock()
		return nil
	}
	return ErrNotFound
}

// Keys returns the live keys matching a prefix pattern such as "resp:*".
// Only a trailing '*' is supported.
func (c *LocalCache) Keys(_ context.Context, pattern string) ([]string, error) {
	prefix := strings.TrimSuffix(pattern, "*")
	exact := prefix == pattern
	now := time.Now()
	var out []string
	match := func(k string) bool {
		if exact {
			return k == pattern
		}
		return strings.HasPrefix(k, prefix)
	}
	c.kv.Range(func(k, v interface{}) bool {
		if key := k.(string); match(key) && !v.(*entry).expired(now) {
			out = append(out, key)
		}
		return true
	})
	c.sets.Range(func(k, v interface{}) bool {
		if key := k.(string); match(key) && !v.(*lockedSet).expired(now) {
			out = append(out, key)
		}
		return true
	})
	return out, nil
}

// ---- Set ----

func (c *LocalCache) loadSet(key string) (*lockedSet, bool) {
	v, ok := c.sets.Load(key)
	if !ok {
		return nil, false
	}
	s := v.(*lockedSet)
	s.mu.RLock()
	dead := s.expired(time.Now())
	s.mu.RUnlock()
	if dead {
		c.sets.Delete(key)
		return nil, false
	}
	return s, true
}

func (c *LocalCache) getOrCreateSet(key string) *lockedSet {
	if s, ok := c.loadSet(key); ok {
		return s
	}
	v, _ := c.sets.LoadOrStore(key, &lockedSet{members: make(map[string]struct{})})
	return v.(*lockedSet)
}

func (c *LocalCache) SAdd(_ context.Context, key string, members ...string) error {
	s := c.getOrCreateSet(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range members {
		s.members[m] = struct{}{}
	}
	return nil
}

func (c *LocalCache) SRem(_ context.Context, key string, members ...string) error {
	s, ok := c.loadSet(key)
	if !ok {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range members {
		delete(s.members, m)
	}
	return nil
}

func (c *LocalCache) SMembers(_ context.Context, key string) ([]string, error) {
	s, ok := c.loadSet(key)
	if !ok {
		return []string{}, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]string, 0, len(s.members))
	for m := range s.members {
		result = append(result, m)
	}
	return result, nil
}

func (c *LocalCache) SIsMember(_ context.Context, key, member string) (bool, error) {
	s, ok := c.loadSet(key)
	if !ok {
		return false, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok = s.members[member]
	return ok, nil
}
