// Package cache is the in-process cache shared by the API handlers: a bounded
// LRU with a per-entry TTL and hit/miss accounting.
package cache

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
	"nonlinear-editor-backend/internal/metrics"
)

const (
	DefaultMaxEntries      = 1000
	DefaultTTL             = 5 * time.Minute
	DefaultCleanupInterval = time.Minute
	LoadTimeout            = 30 * time.Second
)

type Options struct {
	Name            string
	MaxEntries      int
	DefaultTTL      time.Duration
	CleanupInterval time.Duration
	// Now overrides the clock in tests.
	Now func() time.Time
}

type Stats struct {
	Hits        uint64  `json:"hits"`
	Misses      uint64  `json:"misses"`
	Evictions   uint64  `json:"evictions"`
	Expirations uint64  `json:"expirations"`
	Size        int     `json:"size"`
	MaxEntries  int     `json:"max_entries"`
	HitRate     float64 `json:"hit_rate"`
}

type entry struct {
	value     interface{}
	expiresAt time.Time
}

type Cache struct {
	name       string
	lru        *lru.Cache[string, entry]
	maxEntries int
	defaultTTL time.Duration
	now        func() time.Time
	group      singleflight.Group

	hits        atomic.Uint64
	misses      atomic.Uint64
	evictions   atomic.Uint64
	expirations atomic.Uint64

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// New builds a cache and starts its janitor when CleanupInterval is positive.
func New(opts Options) (*Cache, error) {
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultMaxEntries
	}
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = DefaultTTL
	}
	if opts.Name == "" {
		opts.Name = "default"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	l, err := lru.New[string, entry](opts.MaxEntries)
	if err != nil {
		return nil, err
	}

	c := &Cache{
		name:       opts.Name,
		lru:        l,
		maxEntries: opts.MaxEntries,
		defaultTTL: opts.DefaultTTL,
		now:        opts.Now,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}

	if opts.CleanupInterval > 0 {
		go c.janitor(opts.CleanupInterval)
	} else {
		close(c.done)
	}
	return c, nil
}

// Get returns the live value for key. Expired entries are dropped and
// counted as a miss.
func (c *Cache) Get(key string) (interface{}, bool) {
	e, ok := c.lru.Get(key)
	if !ok {
		c.recordMiss()
		return nil, false
	}
	if !c.now().Before(e.expiresAt) {
		c.lru.Remove(key)
		c.expirations.Add(1)
		c.recordMiss()
		return nil, false
	}
	c.hits.Add(1)
	metrics.CacheHits.WithLabelValues(c.name).Inc()
	return e.value, true
}

// Set stores value for ttl; a non-positive ttl uses the default.
func (c *Cache) Set(key string, value interface{}, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	if evicted := c.lru.Add(key, entry{value: value, expiresAt: c.now().Add(ttl)}); evicted {
		c.evictions.Add(1)
		metrics.CacheEvictions.WithLabelValues(c.name).Inc()
	}
}

func (c *Cache) Delete(key string) bool {
	return c.lru.Remove(key)
}

// DeletePrefix removes every key starting with prefix and returns how many went.
func (c *Cache) DeletePrefix(prefix string) int {
	removed := 0
	for _, k := range c.lru.Keys() {
		if strings.HasPrefix(k, prefix) && c.lru.Remove(k) {
			removed++
		}
	}
	return removed
}

func (c *Cache) Clear() {
	c.lru.Purge()
}

func (c *Cache) Len() int {
	return c.lru.Len()
}

// PurgeExpired drops every expired entry without touching recency.
func (c *Cache) PurgeExpired() int {
	now := c.now()
	removed := 0
	for _, k := range c.lru.Keys() {
		e, ok := c.lru.Peek(k)
		if ok && !now.Before(e.expiresAt) && c.lru.Remove(k) {
			c.expirations.Add(1)
			removed++
		}
	}
	return removed
}

func (c *Cache) Stats() Stats {
	hits, misses := c.hits.Load(), c.misses.Load()
	s := Stats{
		Hits:        hits,
		Misses:      misses,
		Evictions:   c.evictions.Load(),
		Expirations: c.expirations.Load(),
		Size:        c.lru.Len(),
		MaxEntries:  c.maxEntries,
	}
	if total := hits + misses; total > 0 {
		s.HitRate = float64(hits) / float64(total)
	}
	return s
}

// GetOrLoad returns the cached value or calls loader once per key across
// concurrent callers and caches a successful result. The shared load is
// detached from any one caller's cancellation and bounded by LoadTimeout;
// each caller still returns early when its own ctx is done.
func (c *Cache) GetOrLoad(ctx context.Context, key string, ttl time.Duration, loader func(context.Context) (interface{}, error)) (interface{}, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	ch := c.group.DoChan(key, func() (interface{}, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), LoadTimeout)
		defer cancel()
		v, err := loader(loadCtx)
		if err != nil {
			return nil, err
		}
		c.Set(key, v, ttl)
		return v, nil
	})
	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops the janitor. It is safe to call more than once.
func (c *Cache) Close() {
	c.closeOnce.Do(func() {
		close(c.stop)
	})
	<-c.done
}

func (c *Cache) recordMiss() {
	c.misses.Add(1)
	metrics.CacheMisses.WithLabelValues(c.name).Inc()
}

func (c *Cache) janitor(interval time.Duration) {
	defer close(c.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.PurgeExpired()
		case <-c.stop:
			return
		}
	}
}

// Lookup is a typed Get. A value of another type counts as absent.
func Lookup[T any](c *Cache, key string) (T, bool) {
	var zero T
	v, ok := c.Get(key)
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	if !ok {
		return zero, false
	}
	return t, true
}

// Load is a typed GetOrLoad.
func Load[T any](ctx context.Context, c *Cache, key string, ttl time.Duration, loader func(context.Context) (T, error)) (T, error) {
	var zero T
	if t, ok := Lookup[T](c, key); ok {
		return t, nil
	}
	v, err := c.GetOrLoad(ctx, key, ttl, func(ctx context.Context) (interface{}, error) {
		return loader(ctx)
	})
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, nil
	}
	return t, nil
}
