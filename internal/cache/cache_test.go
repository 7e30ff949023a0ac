package cache_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nonlinear-editor-backend/internal/cache"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func newCache(t *testing.T, max int) (*cache.Cache, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	c, err := cache.New(cache.Options{
		Name:       t.Name(),
		MaxEntries: max,
		DefaultTTL: time.Minute,
		Now:        clock.Now,
	})
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c, clock
}

func TestCache_SetGet(t *testing.T) {
	c, _ := newCache(t, 10)

	c.Set("a", 1, 0)
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = c.Get("missing")
	assert.False(t, ok)

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.InDelta(t, 0.5, stats.HitRate, 1e-9)
}

func TestCache_PerKeyTTL(t *testing.T) {
	c, clock := newCache(t, 10)

	c.Set("short", "s", 10*time.Second)
	c.Set("default", "d", 0)

	clock.Advance(10 * time.Second)
	_, ok := c.Get("short")
	assert.False(t, ok, "entry expires exactly at its deadline")

	v, ok := c.Get("default")
	assert.True(t, ok)
	assert.Equal(t, "d", v)

	clock.Advance(time.Minute)
	_, ok = c.Get("default")
	assert.False(t, ok)

	stats := c.Stats()
	assert.Equal(t, uint64(2), stats.Expirations)
	assert.Equal(t, 0, stats.Size)
}

func TestCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c, _ := newCache(t, 2)

	c.Set("a", 1, 0)
	c.Set("b", 2, 0)
	_, _ = c.Get("a")
	c.Set("c", 3, 0)

	_, ok := c.Get("b")
	assert.False(t, ok, "b was least recently used")
	_, ok = c.Get("a")
	assert.True(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)

	assert.Equal(t, uint64(1), c.Stats().Evictions)
	assert.Equal(t, 2, c.Len())
}

func TestCache_OverwriteDoesNotEvict(t *testing.T) {
	c, _ := newCache(t, 1)
	c.Set("a", 1, 0)
	c.Set("a", 2, 0)

	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 2, v)
	assert.Zero(t, c.Stats().Evictions)
}

func TestCache_DeletePrefix(t *testing.T) {
	c, _ := newCache(t, 10)
	u1, u2 := uuid.New(), uuid.New()
	p := uuid.New()

	c.Set(cache.ProfileKey(u1), "p1", 0)
	c.Set(cache.ProjectKey(u1, p), "proj", 0)
	c.Set(cache.AssetListKey(u1, p), "assets", 0)
	c.Set(cache.ProfileKey(u2), "p2", 0)

	assert.Equal(t, 3, c.DeletePrefix(cache.UserPrefix(u1)))
	assert.Equal(t, 1, c.Len())
	_, ok := c.Get(cache.ProfileKey(u2))
	assert.True(t, ok)

	assert.True(t, c.Delete(cache.ProfileKey(u2)))
	assert.False(t, c.Delete(cache.ProfileKey(u2)))
}

func TestCache_PurgeExpired(t *testing.T) {
	c, clock := newCache(t, 10)
	for i := 0; i < 5; i++ {
		c.Set(fmt.Sprintf("k%d", i), i, time.Duration(i+1)*time.Second)
	}
	clock.Advance(3 * time.Second)

	assert.Equal(t, 3, c.PurgeExpired())
	assert.Equal(t, 2, c.Len())

	c.Clear()
	assert.Equal(t, 0, c.Len())
}

func TestCache_GetOrLoadCollapsesConcurrentLoads(t *testing.T) {
	c, _ := newCache(t, 10)

	var calls atomic.Int32
	release := make(chan struct{})
	loader := func(ctx context.Context) (interface{}, error) {
		calls.Add(1)
		<-release
		return "loaded", nil
	}

	var wg sync.WaitGroup
	results := make([]interface{}, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := c.GetOrLoad(context.Background(), "k", 0, loader)
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.LessOrEqual(t, calls.Load(), int32(2))
	for _, r := range results {
		assert.Equal(t, "loaded", r)
	}

	v, err := c.GetOrLoad(context.Background(), "k", 0, func(context.Context) (interface{}, error) {
		t.Fatal("loader must not run on a hit")
		return nil, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "loaded", v)
}

func TestCache_GetOrLoadSurvivesFirstCallerCancel(t *testing.T) {
	c, _ := newCache(t, 10)

	started := make(chan struct{})
	release := make(chan struct{})
	loader := func(ctx context.Context) (interface{}, error) {
		close(started)
		select {
		case <-release:
			return "loaded", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := c.GetOrLoad(firstCtx, "k", 0, loader)
		firstErr <- err
	}()
	<-started

	type result struct {
		v   interface{}
		err error
	}
	second := make(chan result, 1)
	go func() {
		v, err := c.GetOrLoad(context.Background(), "k", 0, func(context.Context) (interface{}, error) {
			return "second loader", nil
		})
		second <- result{v, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelFirst()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(release)
	res := <-second
	require.NoError(t, res.err)
	assert.Equal(t, "loaded", res.v)

	got, ok := cache.Lookup[string](c, "k")
	assert.True(t, ok)
	assert.Equal(t, "loaded", got)
}

func TestCache_LoadErrorIsNotCached(t *testing.T) {
	c, _ := newCache(t, 10)
	boom := errors.New("boom")

	_, err := cache.Load(context.Background(), c, "k", 0, func(context.Context) (int, error) {
		return 0, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, c.Len())

	n, err := cache.Load(context.Background(), c, "k", 0, func(context.Context) (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, n)

	got, ok := cache.Lookup[int](c, "k")
	assert.True(t, ok)
	assert.Equal(t, 42, got)

	_, ok = cache.Lookup[string](c, "k")
	assert.False(t, ok)
}

func TestCache_JanitorAndClose(t *testing.T) {
	c, err := cache.New(cache.Options{MaxEntries: 4, DefaultTTL: time.Millisecond, CleanupInterval: 5 * time.Millisecond})
	require.NoError(t, err)

	c.Set("a", 1, 0)
	assert.Eventually(t, func() bool { return c.Len() == 0 }, time.Second, 5*time.Millisecond)

	c.Close()
	c.Close()
}
